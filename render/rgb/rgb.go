// Package rgb has color math on colors packed as 0xAARRGGBB.
//
// All functions clamp results to valid channel range and never panic.
package rgb

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

const (
	AlphaOpaque   = uint32(0xFF000000)
	BlackARGB     = uint32(0xFF000000)
	Black         = uint32(0x000000)
	WhiteARGB     = uint32(0xFFFFFFFF)
	White         = uint32(0xFFFFFF)
	Green         = uint32(0x00FF00)
	Red           = uint32(0xFF0000)
	Blue          = uint32(0x0000FF)
	Cyan          = uint32(0x00FFFF)
	Gray          = uint32(0x808080)
	DarkGray      = uint32(0x404040)
	LightGray     = uint32(0xC0C0C0)
	ChannelLevels = 255
)

func IsBlack(c uint32) bool {
	return c == BlackARGB || c == Black
}

func IsWhite(c uint32) bool {
	return c == WhiteARGB || c == White
}

func ToInteger(r, g, b int) uint32 {
	return AlphaOpaque | uint32(r&0xFF)<<16 | uint32(g&0xFF)<<8 | uint32(b&0xFF)
}

func toChannel(f float32) uint32 {
	return uint32(int(f*ChannelLevels+0.5)) & 0xFF
}

func ToIntegerF(r, g, b float32) uint32 {
	return AlphaOpaque | toChannel(r)<<16 | toChannel(g)<<8 | toChannel(b)
}

func FromFloats(f [3]float32) uint32 {
	return ToIntegerF(f[0], f[1], f[2])
}

func Ints(c uint32) [3]int {
	return [3]int{int(c>>16) & 0xFF, int(c>>8) & 0xFF, int(c) & 0xFF}
}

func Floats(c uint32) [3]float32 {
	i := Ints(c)
	return [3]float32{float32(i[0]) / ChannelLevels, float32(i[1]) / ChannelLevels, float32(i[2]) / ChannelLevels}
}

// Max returns per-channel maximum of given colors, ok is false if none given
func Max(colors ...uint32) (uint32, bool) {
	if len(colors) == 0 {
		return 0, false
	}
	out := [3]int{}
	for _, c := range colors {
		ci := Ints(c)
		for i := range out {
			if ci[i] > out[i] {
				out[i] = ci[i]
			}
		}
	}
	return ToInteger(out[0], out[1], out[2]), true
}

func AdjustBrightness(c uint32, factor float32) uint32 {
	if factor == 1 {
		return c
	}
	return FromFloats(ClampFloats(Floats(c), factor))
}

func GreyScale(c uint32) uint32 {
	i := Ints(c)
	avg := ClampInt((i[0] + i[1] + i[2]) / 3)
	return ToInteger(avg, avg, avg)
}

// BevelSlope shades color by slope factor, darker slopes get tinted to blue
func BevelSlope(c uint32, factor float32) uint32 {
	bluer := float32(1)
	if factor < 1 {
		bluer = 0.85
	}
	f := Floats(c)
	f[0] = f[0] * bluer * factor
	f[1] = f[1] * bluer * factor
	f[2] = f[2] * factor
	return FromFloats(ClampFloats(f, 1))
}

func DarkenAmbient(c uint32, factor float32, ambient [3]float32) uint32 {
	f := Floats(c)
	for i := range f {
		f[i] = f[i] * (factor + ambient[i])
	}
	return FromFloats(ClampFloats(f, 1))
}

// BlendWith mixes other over c with given opacity of other
func BlendWith(c, other uint32, otherAlpha float32) uint32 {
	if otherAlpha == 1 {
		return other
	}
	if otherAlpha == 0 {
		return c
	}
	f := Floats(c)
	o := Floats(other)
	for i := range f {
		f[i] = o[i]*otherAlpha + f[i]*(1-otherAlpha)
	}
	return FromFloats(f)
}

func Multiply(c, multiplier uint32) uint32 {
	f := Floats(c)
	m := Floats(multiplier)
	for i := range f {
		f[i] *= m[i]
	}
	return FromFloats(f)
}

func ClampFloat(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ClampFloats(f [3]float32, factor float32) [3]float32 {
	for i := range f {
		f[i] = ClampFloat(f[i] * factor)
	}
	return f
}

func ClampInt(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// ToColor converts to opaque color ignoring packed alpha
func ToColor(c uint32) color.RGBA {
	i := Ints(c)
	return color.RGBA{R: uint8(i[0]), G: uint8(i[1]), B: uint8(i[2]), A: 0xFF}
}

func FromColor(c color.Color) uint32 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return uint32(n.A)<<24 | uint32(n.R)<<16 | uint32(n.G)<<8 | uint32(n.B)
}

func String(c uint32) string {
	i := Ints(c)
	return fmt.Sprintf("r=%d,g=%d,b=%d", i[0], i[1], i[2])
}

func HexString(c uint32) string {
	i := Ints(c)
	return fmt.Sprintf("#%02x%02x%02x", i[0], i[1], i[2])
}

// ParseHex reads "#rrggbb" or "rrggbb" into an opaque color
func ParseHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("color %q is not 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return AlphaOpaque | uint32(v), nil
}
