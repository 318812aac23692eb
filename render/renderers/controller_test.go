package renderers

import (
	"image"
	"image/draw"
	"sync"
	"testing"

	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkImageKey struct {
	loc primitives.ImageLocation
	c   primitives.ChunkPos
}

type memoryImages struct {
	lock sync.Mutex
	m    map[chunkImageKey]*image.RGBA
}

func (m *memoryImages) ChunkImage(loc primitives.ImageLocation, c primitives.ChunkPos) (*image.RGBA, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	ret := image.NewRGBA(image.Rect(0, 0, 16, 16))
	if prev, ok := m.m[chunkImageKey{loc, c}]; ok {
		draw.Draw(ret, ret.Rect, prev, image.Point{}, draw.Src)
	}
	return ret, nil
}

func (m *memoryImages) SetChunkImage(loc primitives.ImageLocation, c primitives.ChunkPos, img *image.RGBA) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.m == nil {
		m.m = map[chunkImageKey]*image.RGBA{}
	}
	m.m[chunkImageKey{loc, c}] = img
	return nil
}

func (m *memoryImages) has(loc primitives.ImageLocation, c primitives.ChunkPos) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	_, ok := m.m[chunkImageKey{loc, c}]
	return ok
}

func TestControllerMappingOff(t *testing.T) {
	images := &memoryImages{}
	c := NewController(images, settingsWith(nil), nil, nil)
	chunk := flatChunk(t, 0, 32, false, 0, "stone", "grass_block")
	region := primitives.RegionOf("w", 0, chunk.Pos())
	assert.False(t, c.RenderChunk(region, primitives.Day(0), chunk))
	assert.False(t, c.RenderChunk(region, primitives.Day(0), nil))
	assert.Empty(t, images.m)
}

func TestControllerSurface(t *testing.T) {
	images := &memoryImages{}
	c := NewController(images, settingsWith(nil), nil, nil)
	c.SetMapping(true)
	chunk := flatChunk(t, 0, 32, false, 0, "stone", "grass_block")
	region := primitives.RegionOf("w", 0, chunk.Pos())
	require.True(t, c.RenderChunk(region, primitives.Night(0), chunk))
	assert.True(t, images.has(primitives.ImageLocation{Region: region, Layer: primitives.Day(0)}, chunk.Pos()))
	assert.True(t, images.has(primitives.ImageLocation{Region: region, Layer: primitives.Night(0)}, chunk.Pos()))
}

func TestControllerEndIsDayOnly(t *testing.T) {
	images := &memoryImages{}
	c := NewController(images, settingsWith(nil), nil, nil)
	c.SetMapping(true)
	chunk := flatChunk(t, primitives.DimensionEnd, 32, true, 0, "end_stone", "end_stone")
	region := primitives.RegionOf("w", primitives.DimensionEnd, chunk.Pos())
	require.True(t, c.RenderChunk(region, primitives.Day(primitives.DimensionEnd), chunk))
	assert.True(t, images.has(primitives.ImageLocation{Region: region, Layer: primitives.Day(primitives.DimensionEnd)}, chunk.Pos()))
	assert.False(t, images.has(primitives.ImageLocation{Region: region, Layer: primitives.Night(primitives.DimensionEnd)}, chunk.Pos()))
}

func TestControllerUndergroundDispatch(t *testing.T) {
	images := &memoryImages{}
	c := NewController(images, settingsWith(nil), nil, nil)
	c.SetMapping(true)
	assert.Same(t, c.renderers.Nether, c.renderers.Underground(primitives.DimensionNether))
	assert.Same(t, c.renderers.End, c.renderers.Underground(primitives.DimensionEnd))
	assert.Same(t, c.renderers.Cave, c.renderers.Underground(primitives.DimensionOverworld))

	names := append(repeat("netherrack", 40), repeat("air", 11)...)
	names = append(names, repeat("netherrack", 77)...)
	chunk := flatChunk(t, primitives.DimensionNether, 128, true, 0, names...)
	region := primitives.RegionOf("w", primitives.DimensionNether, chunk.Pos())
	layer := primitives.Underground(2, primitives.DimensionNether)
	require.True(t, c.RenderChunk(region, layer, chunk))
	assert.True(t, images.has(primitives.ImageLocation{Region: region, Layer: layer}, chunk.Pos()))
}

type brokenChunk struct {
	render.ChunkData
}

func (brokenChunk) BlockAt(x, y, z int) (*render.BlockSample, error) {
	return nil, render.ErrChunkMissing
}

func TestControllerMissingChunkIsRetried(t *testing.T) {
	images := &memoryImages{}
	c := NewController(images, settingsWith(nil), nil, nil)
	c.SetMapping(true)
	chunk := brokenChunk{flatChunk(t, 0, 32, false, 0, "stone", "grass_block")}
	region := primitives.RegionOf("w", 0, chunk.Pos())
	assert.False(t, c.RenderChunk(region, primitives.Day(0), chunk))
	assert.Empty(t, images.m)
}

// emptyWorld has no chunks and counts lookups
type emptyWorld struct {
	lock    sync.Mutex
	lookups map[primitives.ChunkPos]int
}

func (w *emptyWorld) Name() string                        { return "w" }
func (w *emptyWorld) Dimension() int                      { return primitives.DimensionOverworld }
func (w *emptyWorld) HasChunk(c primitives.ChunkPos) bool { return false }
func (w *emptyWorld) ViewerBlockPos() (int, int, int)     { return 8, 100, 8 }
func (w *emptyWorld) GameRenderDistance() int             { return 4 }
func (w *emptyWorld) WorldTime() int64                    { return 0 }

func (w *emptyWorld) Chunk(c primitives.ChunkPos) (render.ChunkData, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.lookups == nil {
		w.lookups = map[primitives.ChunkPos]int{}
	}
	w.lookups[c]++
	return nil, render.ErrChunkMissing
}

func TestControllerRetainedNeighborSlopes(t *testing.T) {
	north := primitives.ChunkPos{X: 0, Z: -1}
	tall := memoryChunkStorage.NewChunk(north, 0, 32, false, nil)
	for x := 0; x < render.ChunkSide; x++ {
		for z := 0; z < render.ChunkSide; z++ {
			require.NoError(t, tall.FillColumn(x, z, 0, repeat("stone", 12)...))
		}
	}
	tall.RecalculateLight()

	render1 := func(retain bool) (uint32, *emptyWorld, *Controller) {
		w := &emptyWorld{}
		images := &memoryImages{}
		c := NewController(images, settingsWith(nil), w, nil)
		c.SetMapping(true)
		if retain {
			c.Retain([]render.ChunkData{tall})
		}
		chunk := flatChunk(t, 0, 32, false, 0, "stone", "grass_block")
		region := primitives.RegionOf("w", 0, chunk.Pos())
		require.True(t, c.RenderChunk(region, primitives.Day(0), chunk))
		img, err := images.ChunkImage(primitives.ImageLocation{Region: region, Layer: primitives.Day(0)}, chunk.Pos())
		require.NoError(t, err)
		return painted(img, 4, 0), w, c
	}

	flat, w, _ := render1(false)
	assert.Positive(t, w.lookups[north])

	shaded, w, c := render1(true)
	assert.Zero(t, w.lookups[north], "north neighbor must come from retained chunks")
	_, hits := c.RetainedStats()
	assert.Positive(t, hits)
	assert.NotEqual(t, flat, shaded)

	c.Release()
	chunks, _ := c.RetainedStats()
	assert.Zero(t, chunks)
}
