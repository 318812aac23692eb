package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) LivemapConfig {
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.LogsPath = filepath.Join(dir, "livemap.log")
	cfg.ImageCache.Root = filepath.Join(dir, "cache")
	cfg.SaveDir = filepath.Join(dir, "maps")
	cfg.World.Viewer = [3]int{8, 200, 8}
	cfg.World.GameRenderDistance = 4
	cfg.Render.RenderDistanceSurfaceMin = 1
	cfg.Render.RenderDistanceSurfaceMax = 2
	cfg.Render.RenderDistanceCaveMin = 1
	cfg.Render.RenderDistanceCaveMax = 1
	cfg.Screen.Width, cfg.Screen.Height = 640, 480
	return cfg
}

func newTestApp(t *testing.T, cfg LivemapConfig) *app {
	path := filepath.Join(filepath.Dir(cfg.LogsPath), "config.yaml")
	a, err := newApp(context.Background(), cfg, path, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
web:
  listen: ":8080"
render:
  renderDelay: 5
  revealShape: square
frameInterval: 100ms
textureWorkers: 0
world:
  name: ""
`), 0644))
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Web.Listen)
	assert.Equal(t, 5, cfg.Render.RenderDelay)
	assert.EqualValues(t, "square", cfg.Render.RevealShape)
	assert.Equal(t, 100*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, defaultConfig().TextureWorkers, cfg.TextureWorkers)
	assert.Equal(t, "world", cfg.World.Name)
	assert.Equal(t, defaultConfig().Render.RenderDistanceSurfaceMax, cfg.Render.RenderDistanceSurfaceMax)
}

func TestLoadConfigBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render: [1, 2"), 0644))
	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestUpdateSettingsPersists(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	s := a.settings.Get()
	s.RenderDelay = 9
	require.NoError(t, a.updateSettings(s))
	assert.Equal(t, 9, a.settings.Get().RenderDelay)

	cfg, err := loadConfig(a.configPath)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Render.RenderDelay)
}

func TestOpenStorageSnapshot(t *testing.T) {
	cfg := testConfig(t).World
	cfg.Snapshot = filepath.Join(t.TempDir(), "world.snap")
	s, err := openStorage(context.Background(), cfg)
	require.NoError(t, err)
	m, ok := s.(*memoryChunkStorage.MemoryChunkStorage)
	require.True(t, ok)
	dim, err := m.GetDimension(cfg.Name, cfg.Dimension)
	require.NoError(t, err)
	require.NotNil(t, dim)
	assert.False(t, dim.HasNoSky)

	gen := memoryChunkStorage.SimpleGenerator(3)
	require.NoError(t, m.PutChunk(cfg.Name, cfg.Dimension, gen(*dim, primitives.ChunkPos{}, m.Palette())))
	require.NoError(t, saveSnapshot(s, cfg.Snapshot))

	cfg.Generate = false
	loaded, err := openStorage(context.Background(), cfg)
	require.NoError(t, err)
	count, err := loaded.GetChunksCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestOpenStorageUnknownType(t *testing.T) {
	cfg := testConfig(t).World
	cfg.Storage.Type = "floppy"
	_, err := openStorage(context.Background(), cfg)
	assert.ErrorIs(t, err, errStorageTypeNotImplemented)
}

func TestNetherDimensionHasNoSky(t *testing.T) {
	cfg := testConfig(t).World
	cfg.Dimension = "nether"
	cfg.DimensionID = primitives.DimensionNether
	s, err := openStorage(context.Background(), cfg)
	require.NoError(t, err)
	dim, err := s.GetDimension(cfg.Name, "nether")
	require.NoError(t, err)
	require.NotNil(t, dim)
	assert.True(t, dim.HasNoSky)
}

func TestFrameDrawsMappedArea(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	require.Eventually(t, func() bool {
		a.tasks.PerformTasks()
		return a.drawFrame() > 0
	}, 15*time.Second, 50*time.Millisecond)
	assert.Positive(t, a.tileCache.Len())
	assert.Equal(t, a.screen.Bounds(), a.snapshotScreen().Bounds())
}
