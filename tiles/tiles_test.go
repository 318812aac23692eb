package tiles

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	lock   sync.Mutex
	images map[primitives.ImageLocation]*image.RGBA
	times  map[primitives.ImageLocation]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		images: map[primitives.ImageLocation]*image.RGBA{},
		times:  map[primitives.ImageLocation]time.Time{},
	}
}

func (m *memoryStore) put(loc primitives.ImageLocation, c color.RGBA) {
	img := image.NewRGBA(image.Rect(0, 0, primitives.RegionPixels, primitives.RegionPixels))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	m.lock.Lock()
	m.images[loc] = img
	m.times[loc] = time.Now()
	m.lock.Unlock()
}

func (m *memoryStore) GetImage(loc primitives.ImageLocation) (*image.RGBA, time.Time, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.images[loc], m.times[loc], nil
}

func (m *memoryStore) LastUpdate(loc primitives.ImageLocation) time.Time {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.times[loc]
}

func (m *memoryStore) putImage(loc primitives.ImageLocation, img *image.RGBA) {
	m.lock.Lock()
	m.images[loc] = img
	m.times[loc] = time.Now()
	m.lock.Unlock()
}

func newTestCache(t *testing.T, store ImageStore, idle time.Duration) *DrawStepCache {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewDrawStepCache(NewRegionTextures(store, idle), NewExecutor(ctx, 2, nil), idle, nil)
}

// gatedRunner counts submitted jobs per kind and holds scaled jobs until
// open is closed
type gatedRunner struct {
	exec *Executor
	open chan struct{}

	lock     sync.Mutex
	submits  map[string]int
	inflight map[string]int
	peak     map[string]int
}

func newGatedRunner(t *testing.T) *gatedRunner {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &gatedRunner{
		exec:     NewExecutor(ctx, 2, nil),
		open:     make(chan struct{}),
		submits:  map[string]int{},
		inflight: map[string]int{},
		peak:     map[string]int{},
	}
}

func (g *gatedRunner) Submit(kind string, job func(ctx context.Context) (Texture, error)) *Future {
	g.lock.Lock()
	g.submits[kind]++
	g.inflight[kind]++
	g.peak[kind] = max(g.peak[kind], g.inflight[kind])
	g.lock.Unlock()
	return g.exec.Submit(kind, func(ctx context.Context) (Texture, error) {
		defer func() {
			g.lock.Lock()
			g.inflight[kind]--
			g.lock.Unlock()
		}()
		if kind == "scaled" {
			select {
			case <-g.open:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return job(ctx)
	})
}

func (g *gatedRunner) stats(kind string) (submits, peak int) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.submits[kind], g.peak[kind]
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func regionLoc(world string, x, z int, mt primitives.MapType) primitives.ImageLocation {
	return primitives.ImageLocation{
		Region: primitives.RegionPos{World: world, Dimension: mt.Dimension, X: x, Z: z},
		Layer:  mt,
	}
}

func TestDrawStepShared(t *testing.T) {
	c := newTestCache(t, newMemoryStore(), 0)
	key := DrawStepKey{
		Region:  primitives.RegionPos{World: "w", X: 1, Z: 2},
		MapType: primitives.Day(0),
		SX2:     512,
		SY2:     512,
	}
	a := c.GetOrCreate(key)
	assert.Same(t, a, c.GetOrCreate(key))
	other := key
	other.SX1 = 16
	assert.NotSame(t, a, c.GetOrCreate(other))
	other = key
	other.HighQuality = true
	assert.NotSame(t, a, c.GetOrCreate(other))
	assert.Equal(t, 3, c.Len())

	moved := key
	moved.Region.World = "other"
	c.GetOrCreate(moved)
	assert.Equal(t, 1, c.Len())
}

func TestTileDrawsRegion(t *testing.T) {
	store := newMemoryStore()
	mt := primitives.Day(0)
	store.put(regionLoc("w", 0, 0, mt), red)
	c := newTestCache(t, store, 0)
	tile := NewTile(0, 0, 0, 3)
	tile.UpdateTexture(c, "w", mt, false)
	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	assert.Eventually(t, func() bool {
		tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil)
		return tile.HasTexture(mt)
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, tile.HasTexture(primitives.Night(0)))
	assert.True(t, tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil))
	assert.Equal(t, red, dst.RGBAAt(100, 300))
}

func TestEvictionClearsTexture(t *testing.T) {
	store := newMemoryStore()
	mt := primitives.Day(0)
	store.put(regionLoc("w", 0, 0, mt), red)
	c := newTestCache(t, store, 300*time.Millisecond)
	tile := NewTile(0, 0, 1, DefaultRenderType)
	tile.UpdateTexture(c, "w", mt, true)
	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	require.Eventually(t, func() bool {
		tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil)
		return tile.HasTexture(mt)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, red, dst.RGBAAt(511, 511))
	assert.Equal(t, 0, c.Sweep())
	assert.Equal(t, 1, c.textures.Len())

	swept := 0
	assert.Eventually(t, func() bool {
		swept += c.Sweep()
		return swept == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, c.Len())
	assert.Eventually(t, func() bool {
		c.Sweep()
		return c.textures.Len() == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return !tile.HasTexture(mt)
	}, time.Second, 5*time.Millisecond)
}

func TestHighQualityRegeneratesOnNewerImage(t *testing.T) {
	store := newMemoryStore()
	mt := primitives.Day(0)
	loc := regionLoc("w", 0, 0, mt)
	store.put(loc, red)
	c := newTestCache(t, store, 0)
	tile := NewTile(0, 0, 1, DefaultRenderType)
	tile.UpdateTexture(c, "w", mt, true)
	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	require.Eventually(t, func() bool {
		tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil)
		return tile.HasTexture(mt)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, red, dst.RGBAAt(300, 300))

	time.Sleep(5 * time.Millisecond)
	store.put(loc, blue)
	assert.Eventually(t, func() bool {
		tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil)
		return dst.RGBAAt(300, 300) == blue
	}, DefaultPollInterval+2*time.Second, 10*time.Millisecond)
	assert.True(t, tile.HasTexture(mt))
}

func TestHighQualityFallsBackWhileScaling(t *testing.T) {
	store := newMemoryStore()
	mt := primitives.Day(0)
	store.put(regionLoc("w", 0, 0, mt), red)
	runner := newGatedRunner(t)
	c := NewDrawStepCache(NewRegionTextures(store, 0), runner, 0, nil)
	tile := NewTile(0, 0, 1, DefaultRenderType)
	tile.UpdateTexture(c, "w", mt, true)
	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))

	require.Eventually(t, func() bool {
		return tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, red, dst.RGBAAt(300, 300))
	assert.False(t, tile.HasTexture(mt))
	for i := 0; i < 20; i++ {
		assert.True(t, tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil))
	}
	submits, _ := runner.stats("scaled")
	assert.Equal(t, 1, submits)

	close(runner.open)
	assert.Eventually(t, func() bool {
		tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil)
		return tile.HasTexture(mt)
	}, 2*time.Second, 5*time.Millisecond)
	submits, peak := runner.stats("scaled")
	assert.Equal(t, 1, submits)
	assert.Equal(t, 1, peak)
	_, peak = runner.stats("region")
	assert.Equal(t, 1, peak)
}

func TestWrapDoesNotChangeOutput(t *testing.T) {
	store := newMemoryStore()
	mt := primitives.Day(0)
	img := image.NewRGBA(image.Rect(0, 0, primitives.RegionPixels, primitives.RegionPixels))
	for y := 0; y < primitives.RegionPixels; y++ {
		for x := 0; x < primitives.RegionPixels; x++ {
			if x < primitives.RegionPixels-8 {
				img.SetRGBA(x, y, red)
			} else {
				img.SetRGBA(x, y, blue)
			}
		}
	}
	store.putImage(regionLoc("w", 0, 0, mt), img)
	c := newTestCache(t, store, 0)

	render := func(rt RenderType) *image.RGBA {
		tile := NewTile(0, 0, 0, rt)
		tile.UpdateTexture(c, "w", mt, false)
		dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
		require.Eventually(t, func() bool {
			return tile.Draw(dst, NewTilePos(0, 0), 0, 0, 1, nil)
		}, 2*time.Second, 5*time.Millisecond)
		return dst
	}
	clamped := render(3)
	mirrored := render(4)
	assert.Equal(t, clamped.Pix, mirrored.Pix)
	assert.Equal(t, blue, mirrored.RGBAAt(TileSize-1, 10))
	assert.Equal(t, red, mirrored.RGBAAt(0, 10))
}

func TestTileCacheDropsIdleTiles(t *testing.T) {
	mt := primitives.Day(0)
	tc := NewTileCache(newTestCache(t, newMemoryStore(), 0), 200*time.Millisecond)
	a := tc.Get(0, 0, 0, "w", mt, false, DefaultRenderType)
	assert.Same(t, a, tc.Get(0, 0, 0, "w", mt, false, DefaultRenderType))
	tc.Get(1, 0, 0, "w", mt, false, DefaultRenderType)
	assert.Equal(t, 2, tc.Len())
	assert.Equal(t, 0, tc.Sweep())

	b := tc.Get(0, 0, 0, "w", primitives.Night(0), false, DefaultRenderType)
	assert.NotSame(t, a, b)
	assert.Equal(t, 1, tc.Len())

	swept := 0
	assert.Eventually(t, func() bool {
		swept += tc.Sweep()
		return swept == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, tc.Len())
}

func TestFutureCancel(t *testing.T) {
	e := NewExecutor(context.Background(), 1, nil)
	done := NewImageTexture("done", image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now())
	f := e.Submit("test", func(ctx context.Context) (Texture, error) {
		return done, nil
	})
	tex, err := f.Get()
	require.NoError(t, err)
	f.Cancel()
	assert.False(t, tex.(*ImageTexture).IsDisposed())

	late := NewImageTexture("late", image.NewRGBA(image.Rect(0, 0, 1, 1)), time.Now())
	started := make(chan struct{})
	f = e.Submit("test", func(ctx context.Context) (Texture, error) {
		close(started)
		<-ctx.Done()
		return late, nil
	})
	<-started
	assert.False(t, f.Done())
	f.Cancel()
	_, err = f.Get()
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, late.IsDisposed())
}

func TestTileDrawStepsPartition(t *testing.T) {
	c := newTestCache(t, newMemoryStore(), 0)
	start := primitives.ChunkPos{X: -5, Z: -5}
	end := primitives.ChunkPos{X: 40, Z: 3}
	steps := GetTileDrawSteps(c, "w", start, end, primitives.Day(0), 0, false)
	require.Len(t, steps, 6)
	width := map[int]int{}
	height := map[int]int{}
	for _, s := range steps {
		k := s.Key()
		assert.Greater(t, k.SX2, k.SX1)
		assert.LessOrEqual(t, k.SX2, primitives.RegionPixels)
		assert.LessOrEqual(t, k.SY2, primitives.RegionPixels)
		width[k.Region.Z] += k.SX2 - k.SX1
		height[k.Region.X] += k.SY2 - k.SY1
	}
	for _, w := range width {
		assert.Equal(t, (end.X-start.X+1)*16, w)
	}
	for _, h := range height {
		assert.Equal(t, (end.Z-start.Z+1)*16, h)
	}
	first := steps[0].Key()
	assert.Equal(t, -1, first.Region.X)
	assert.Equal(t, -1, first.Region.Z)
	assert.Equal(t, 27*16, first.SX1)
	assert.Equal(t, 512, first.SX2)
}

func TestTileCoordinates(t *testing.T) {
	assert.Equal(t, 0, BlockPosToTile(511, 0))
	assert.Equal(t, 1, BlockPosToTile(512, 0))
	assert.Equal(t, -1, BlockPosToTile(-1, 0))
	assert.Equal(t, 1, BlockPosToTile(256, 1))
	assert.Equal(t, 512, TileToBlock(1, 0))
	assert.Equal(t, -256, TileToBlock(-1, 1))

	tile := NewTile(1, -1, 1, 9)
	assert.Equal(t, DefaultRenderType, tile.RenderType)
	assert.Equal(t, primitives.ChunkPos{X: 16, Z: -16}, tile.ULChunk)
	assert.Equal(t, primitives.ChunkPos{X: 31, Z: -1}, tile.LRChunk)
	assert.Equal(t, "1,-1@1", tile.CacheKey())

	x, z, err := tile.BlockPixelOffsetInTile(256, -256)
	require.NoError(t, err)
	assert.Equal(t, float64(TileSize/2-1), x)
	assert.Equal(t, float64(TileSize/2+1), z)
	_, _, err = tile.BlockPixelOffsetInTile(0, 0)
	assert.ErrorIs(t, err, ErrOutsideTile)

	flat := NewTile(0, 0, 0, DefaultRenderType)
	x, z, err = flat.BlockPixelOffsetInTile(10, 20)
	require.NoError(t, err)
	assert.Equal(t, float64(TileSize/2-10), x)
	assert.Equal(t, float64(TileSize/2-20), z)
}

func TestRenderTypes(t *testing.T) {
	f, w := RenderType(4).Params()
	assert.Equal(t, FilterNearest, f)
	assert.Equal(t, WrapMirrored, w)
	assert.Equal(t, RenderType(1), RenderType(4).Next())
	assert.Equal(t, RenderType(2), RenderType(1).Next())
}

func TestVisibleOrder(t *testing.T) {
	v := Visible(800, 600)
	require.NotEmpty(t, v)
	for i := 1; i < len(v); i++ {
		assert.True(t, v[i-1].Less(v[i]))
	}
	assert.Equal(t, -2, v[0].DeltaZ)
}
