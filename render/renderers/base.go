package renderers

import (
	"io"
	"log"
	"math"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/rgb"
	"github.com/maxsupermanhd/livemap/render/strata"
)

var (
	DefaultFog = [3]float32{0, 0, 0.1}

	SurfaceAmbientColor = uint32(0x00001A)
	CaveAmbientColor    = uint32(0x000000)
	NetherAmbientColor  = uint32(0x330808)
	EndAmbientColor     = uint32(0x00001A)
)

const (
	moonlightLevel             = 3.5
	endMoonlightLevel          = 5
	brightenDaylightDiff       = 0.06
	brightenLightsourceBlock   = 1.2
	minimumDarkenNightWater    = 0.25
	waterColorBlend            = 0.66
	darkenWaterColorMultiplier = uint32(0x7A90BF)
)

type offset struct {
	x, z int
}

var (
	primarySlopeOffsets = []offset{
		{0, -1},  // north
		{-1, -1}, // north-west
		{-1, 0},  // west
	}
	secondarySlopeOffsets = []offset{
		{-1, -2},
		{-2, -1},
		{-2, -2},
		{-2, 0},
		{0, -2},
	}
)

type shading struct {
	slopeMin      float32
	slopeMax      float32
	primaryDown   float32
	primaryUp     float32
	secondaryDown float32
	secondaryUp   float32
}

var (
	surfaceShading = shading{0.2, 1.7, 0.65, 1.2, 0.95, 1.05}
	caveShading    = shading{0.2, 1.1, 0.7, 1.05, 0.99, 1.01}
)

// heightFunc returns height of the column used for slope shading
type heightFunc func(c render.ChunkData, x, z int) int

// base holds shading shared by all renderers and implements
// strata.ColorResolver.
type base struct {
	name      string
	settings  *render.SettingsStore
	world     render.World
	logger    *log.Logger
	opts      render.Settings
	shading   shading
	moonlight float32
	fog       [3]float32
}

func newBase(name string, settings *render.SettingsStore, world render.World, logger *log.Logger) base {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	b := base{
		name:      name,
		settings:  settings,
		world:     world,
		logger:    logger,
		shading:   surfaceShading,
		moonlight: moonlightLevel,
		fog:       DefaultFog,
	}
	b.updateOptions()
	return b
}

func (b *base) Name() string {
	return b.name
}

func (b *base) updateOptions() {
	if b.settings == nil {
		b.opts = render.DefaultSettings()
		return
	}
	b.opts = b.settings.Get()
}

// AmbientColor is the fog tint applied to night colors
func (b *base) AmbientColor() [3]float32 {
	return b.fog
}

func (b *base) SetStratumColors(s *strata.Stratum, lightAttenuation int, waterColor uint32, waterAbove, underground, caveLighting bool) {
	if s.IsUninitialized() {
		panic("stratum wasn't initialized for SetStratumColors")
	}
	light := float32(s.LightLevel())
	daylightDiff := max(1, max(light, float32(15-lightAttenuation)))/15 + brightenDaylightDiff
	nightLightDiff := max(b.moonlight, max(light, b.moonlight-float32(lightAttenuation))) / 15

	block := s.Block()
	basicColor := block.Color
	if s.IsWater() {
		basicColor = waterColor
	}
	if block.LightEmission >= 15 && !block.IsLava && !block.HasTransparency() {
		basicColor = rgb.AdjustBrightness(basicColor, brightenLightsourceBlock)
	}

	if waterAbove {
		adjustedWater := rgb.Multiply(waterColor, darkenWaterColorMultiplier)
		adjustedBasic := rgb.AdjustBrightness(basicColor, max(daylightDiff, nightLightDiff))
		day := rgb.BlendWith(adjustedBasic, adjustedWater, waterColorBlend)
		s.SetDayColor(day)
		s.SetNightColor(rgb.AdjustBrightness(day, max(nightLightDiff, minimumDarkenNightWater)))
	} else {
		s.SetDayColor(rgb.AdjustBrightness(basicColor, daylightDiff))
		s.SetNightColor(rgb.DarkenAmbient(basicColor, nightLightDiff, b.AmbientColor()))
	}

	if underground {
		if caveLighting {
			c, _ := s.NightColor()
			s.SetCaveColor(c)
		} else {
			c, _ := s.DayColor()
			s.SetCaveColor(c)
		}
	}
}

// vSliceBounds returns inclusive block range of a vertical slice
func vSliceBounds(c render.ChunkData, vSlice int) (int, int) {
	sliceMin := max(vSlice<<4, 0)
	sliceMax := min(((vSlice+1)<<4)-1, c.WorldHeight())
	if sliceMin >= sliceMax {
		sliceMax = sliceMin + 2
	}
	return sliceMin, sliceMax
}

// neighborHeight looks up column height at an offset, possibly in another
// chunk. Missing neighbors report def.
func (b *base) neighborHeight(c render.ChunkData, x, z int, off offset, def int, height heightFunc) int {
	pos := c.Pos()
	bx := pos.X<<4 + x + off.x
	bz := pos.Z<<4 + z + off.z
	target := c
	if bx>>4 != pos.X || bz>>4 != pos.Z {
		if b.world == nil {
			return def
		}
		n, err := b.world.Chunk(primitives.ChunkPos{X: bx >> 4, Z: bz >> 4})
		if err != nil || n == nil {
			return def
		}
		target = n
	}
	return height(target, bx&15, bz&15)
}

func (b *base) calculateSlope(c render.ChunkData, offsets []offset, x, y, z int, height heightFunc) float32 {
	if y <= 0 {
		return 1
	}
	sum := float32(0)
	for _, off := range offsets {
		h := b.neighborHeight(c, x, z, off, y, height)
		sum += float32(y) / float32(h)
	}
	slope := sum / float32(len(offsets))
	if isNaN(slope) {
		return 1
	}
	return slope
}

func isNaN(f float32) bool {
	return math.IsNaN(float64(f))
}

// populateSlopes is the stand-in for bump mapping: each column is shaded
// by its height relative to north and west neighbors.
func (b *base) populateSlopes(c render.ChunkData, height heightFunc) *[render.ChunkSide][render.ChunkSide]float32 {
	ret := &[render.ChunkSide][render.ChunkSide]float32{}
	for z := 0; z < render.ChunkSide; z++ {
		for x := 0; x < render.ChunkSide; x++ {
			y := height(c, x, z)
			primary := b.calculateSlope(c, primarySlopeOffsets, x, y, z, height)
			slope := primary
			if slope < 1 {
				slope *= b.shading.primaryDown
			} else if slope > 1 {
				slope *= b.shading.primaryUp
			}
			if b.opts.MapAntialiasing && primary == 1 {
				secondary := b.calculateSlope(c, secondarySlopeOffsets, x, y, z, height)
				if secondary > primary {
					slope *= b.shading.secondaryUp
				} else if secondary < primary {
					slope *= b.shading.secondaryDown
				}
			}
			if isNaN(slope) {
				slope = 1
			}
			ret[x][z] = min(b.shading.slopeMax, max(b.shading.slopeMin, slope))
		}
	}
	return ret
}

// columnCache memoizes per-column values of chunks, chunks are keyed by
// identity so replaced chunks get fresh entries.
type columnCache struct {
	limit int
	m     map[render.ChunkData]*[render.ChunkSide][render.ChunkSide]int
}

const columnUnset = math.MinInt32

func newColumnCache(limit int) *columnCache {
	return &columnCache{
		limit: limit,
		m:     map[render.ChunkData]*[render.ChunkSide][render.ChunkSide]int{},
	}
}

func (cc *columnCache) columns(c render.ChunkData) *[render.ChunkSide][render.ChunkSide]int {
	ret, ok := cc.m[c]
	if ok {
		return ret
	}
	if len(cc.m) >= cc.limit {
		clear(cc.m)
	}
	ret = &[render.ChunkSide][render.ChunkSide]int{}
	for x := range ret {
		for z := range ret[x] {
			ret[x][z] = columnUnset
		}
	}
	cc.m[c] = ret
	return ret
}

func (cc *columnCache) get(c render.ChunkData, x, z int) (int, bool) {
	v := cc.columns(c)[x][z]
	return v, v != columnUnset
}

func (cc *columnCache) set(c render.ChunkData, x, z, v int) {
	cc.columns(c)[x][z] = v
}

func (cc *columnCache) invalidate(c render.ChunkData) {
	delete(cc.m, c)
}

func (cc *columnCache) invalidateAll() {
	clear(cc.m)
}

func (cc *columnCache) len() int {
	return len(cc.m)
}
