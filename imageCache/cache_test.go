package imagecache

import (
	"context"
	"image"
	"image/color"
	"os"
	"testing"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, root string, cfg Config) (*ImageCache, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg.Root = root
	c := NewImageCache(nil, cfg, ctx)
	t.Cleanup(func() {
		cancel()
		c.WaitExit()
	})
	return c, cancel
}

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
)

func TestChunkRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, t.TempDir(), Config{})
	chunk := primitives.ChunkPos{X: -3, Z: 40}
	loc := primitives.ImageLocation{Region: primitives.RegionOf("w", 0, chunk), Layer: primitives.Day(0)}

	img, err := c.ChunkImage(loc, chunk)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))

	before := c.LastUpdate(loc)
	require.NoError(t, c.SetChunkImage(loc, chunk, solid(red)))
	img, err = c.ChunkImage(loc, chunk)
	require.NoError(t, err)
	assert.Equal(t, red, img.RGBAAt(15, 15))
	assert.True(t, c.LastUpdate(loc).After(before))

	region, _, err := c.GetImage(loc)
	require.NoError(t, err)
	ox, oz := loc.Region.ChunkOffset(chunk)
	assert.Equal(t, red, region.RGBAAt(ox*16+3, oz*16+3))
	assert.Equal(t, color.RGBA{}, region.RGBAAt(((ox+1)%32)*16, oz*16))
}

func TestNotInRegion(t *testing.T) {
	c, _ := newTestCache(t, t.TempDir(), Config{})
	loc := primitives.ImageLocation{Region: primitives.RegionPos{World: "w"}, Layer: primitives.Day(0)}
	_, err := c.ChunkImage(loc, primitives.ChunkPos{X: 32})
	assert.ErrorIs(t, err, ErrNotInRegion)
	assert.ErrorIs(t, c.SetChunkImage(loc, primitives.ChunkPos{Z: -1}, solid(red)), ErrNotInRegion)
}

func TestFlushAndMergeOnLoad(t *testing.T) {
	root := t.TempDir()
	loc := primitives.ImageLocation{Region: primitives.RegionPos{World: "w", Dimension: -1}, Layer: primitives.Underground(3, -1)}
	a := primitives.ChunkPos{X: 1, Z: 1}
	b := primitives.ChunkPos{X: 2, Z: 1}

	c, _ := newTestCache(t, root, Config{})
	require.NoError(t, c.SetChunkImage(loc, a, solid(red)))
	require.NoError(t, c.FlushToDisk(true))
	_, err := os.Stat(c.cacheGetFilenameLoc(loc))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return c.GetStats()["unwritten images"] == int64(0)
	}, time.Second, time.Millisecond)

	other, _ := newTestCache(t, root, Config{})
	require.NoError(t, other.SetChunkImage(loc, b, solid(green)))
	img, _, err := other.GetImage(loc)
	require.NoError(t, err)
	assert.Equal(t, red, img.RGBAAt(16+5, 16+5))
	assert.Equal(t, green, img.RGBAAt(32+5, 16+5))

	regions, err := other.Regions("w", primitives.Underground(3, -1))
	require.NoError(t, err)
	assert.Equal(t, []primitives.RegionPos{loc.Region}, regions)
	regions, err = other.Regions("w", primitives.Underground(4, -1))
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestSaveOnExit(t *testing.T) {
	root := t.TempDir()
	loc := primitives.ImageLocation{Region: primitives.RegionPos{World: "w", X: -1, Z: -1}, Layer: primitives.Night(0)}
	c, cancel := newTestCache(t, root, Config{AutosaveInterval: time.Hour})
	require.NoError(t, c.SetChunkImage(loc, primitives.ChunkPos{X: -1, Z: -1}, solid(green)))
	cancel()
	c.WaitExit()
	_, err := os.Stat(c.cacheGetFilenameLoc(loc))
	assert.NoError(t, err)
	assert.ErrorIs(t, c.FlushToDisk(true), ErrClosed)

	stored, err := c.listStored("w", primitives.Night(0))
	require.NoError(t, err)
	assert.Equal(t, []primitives.RegionPos{loc.Region}, stored)
}

func TestEviction(t *testing.T) {
	c, _ := newTestCache(t, t.TempDir(), Config{AutosaveInterval: 10 * time.Millisecond, EvictAfter: time.Millisecond})
	loc := primitives.ImageLocation{Region: primitives.RegionPos{World: "w"}, Layer: primitives.Day(0)}
	require.NoError(t, c.SetChunkImage(loc, primitives.ChunkPos{}, solid(red)))
	assert.Eventually(t, func() bool {
		return c.GetStats()["cached images"] == int64(0)
	}, 5*time.Second, 10*time.Millisecond)
	img, err := c.ChunkImage(loc, primitives.ChunkPos{})
	require.NoError(t, err)
	assert.Equal(t, red, img.RGBAAt(0, 0))
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(t, t.TempDir(), Config{})
	loc := primitives.ImageLocation{Region: primitives.RegionPos{World: "w"}, Layer: primitives.Day(0)}
	require.NoError(t, c.SetImage(loc, image.NewRGBA(image.Rect(0, 0, 512, 512))))
	require.NoError(t, c.Clear())
	img, _, err := c.GetImage(loc)
	require.NoError(t, err)
	assert.Nil(t, img)
}
