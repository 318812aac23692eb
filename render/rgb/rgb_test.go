package rgb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samples = []uint32{0, White, Red, Green, Blue, Gray, 0x123456, 0xFF7A90BF, 0x00FFFFFF, 0x3F76E4}

func TestAdjustBrightnessIdentity(t *testing.T) {
	for _, c := range samples {
		assert.Equal(t, c, AdjustBrightness(c, 1), HexString(c))
	}
}

func TestAdjustBrightnessClamps(t *testing.T) {
	assert.Equal(t, ToInteger(255, 255, 255), AdjustBrightness(Gray, 10))
	assert.Equal(t, ToInteger(0, 0, 0), AdjustBrightness(Gray, -1))
	assert.Equal(t, ToInteger(0x40, 0x40, 0x40), AdjustBrightness(Gray, 0.5))
}

func TestClampFloatsIdempotent(t *testing.T) {
	for _, f := range [][3]float32{{0, 0.5, 1}, {-1, 2, 0.3}, {1.5, -0.2, 0.99}} {
		once := ClampFloats(f, 1.3)
		assert.Equal(t, once, ClampFloats(once, 1))
		for _, v := range once {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
	}
}

func TestBlendWithExtremes(t *testing.T) {
	assert.Equal(t, uint32(0x123456), BlendWith(0x123456, Red, 0))
	assert.Equal(t, Red, BlendWith(0x123456, Red, 1))
	assert.Equal(t, ToInteger(128, 128, 128), BlendWith(Black, White, 0.5))
}

func TestBevelSlope(t *testing.T) {
	c := ToInteger(200, 200, 200)
	dark := Ints(BevelSlope(c, 0.5))
	assert.Less(t, dark[0], dark[2], "downslope tints blue")
	assert.Equal(t, dark[0], dark[1])
	light := Ints(BevelSlope(c, 1.2))
	assert.Equal(t, 240, light[0])
	assert.Equal(t, 240, light[2])
}

func TestDarkenAmbient(t *testing.T) {
	c := DarkenAmbient(White, 0.2, [3]float32{0, 0, 0.1})
	i := Ints(c)
	assert.Equal(t, 51, i[0])
	assert.InDelta(t, 77, i[2], 1)
}

func TestMultiplyGreyMax(t *testing.T) {
	assert.Equal(t, ToInteger(0, 0, 0), Multiply(White, Black))
	assert.Equal(t, ToInteger(0x12, 0x34, 0x56), Multiply(0x123456, White))
	assert.Equal(t, ToInteger(85, 85, 85), GreyScale(Red))
	m, ok := Max(Red, Green, 0x000010)
	require.True(t, ok)
	assert.Equal(t, ToInteger(255, 255, 16), m)
	_, ok = Max()
	assert.False(t, ok)
}

func TestHex(t *testing.T) {
	assert.Equal(t, "#123456", HexString(0x123456))
	v, err := ParseHex("#7a90bf")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFF7A90BF), v)
	_, err = ParseHex("nothex")
	assert.Error(t, err)
	assert.True(t, IsBlack(BlackARGB))
	assert.True(t, IsWhite(White))
	assert.Equal(t, uint32(0xFF123456), FromColor(ToColor(0x123456)))
}
