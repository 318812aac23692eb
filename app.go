package main

import (
	"context"
	"image"
	"image/draw"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxsupermanhd/livemap/chunkStorage"
	imagecache "github.com/maxsupermanhd/livemap/imageCache"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/dispatchers"
	"github.com/maxsupermanhd/livemap/render/renderers"
	"github.com/maxsupermanhd/livemap/tiles"
)

// app is everything the frame loop and web handlers share
type app struct {
	cfgLock    sync.Mutex
	cfg        LivemapConfig
	configPath string

	logger  *log.Logger
	slogger *slog.Logger

	storage  chunkStorage.ChunkStorage
	world    *chunkStorage.LiveWorld
	settings *render.SettingsStore
	cache    *imagecache.ImageCache

	controller *renderers.Controller
	env        *dispatchers.MapEnv
	tasks      *dispatchers.TaskController
	player     *dispatchers.MapPlayerManager
	regions    *dispatchers.MapRegionManager
	saver      *dispatchers.SaveMapManager
	pipeline   *dispatchers.PriorityPipelineRender

	steps     *tiles.DrawStepCache
	tileCache *tiles.TileCache
	events    *mapEventRouter

	ctx    context.Context
	cancel context.CancelFunc

	screenLock sync.RWMutex
	screen     *image.RGBA
	frames     atomic.Int64
	frameTime  atomic.Int64
	drawnTiles atomic.Int64
	zoom       atomic.Int32
}

func newApp(ctx context.Context, cfg LivemapConfig, path string, logger *log.Logger) (*app, error) {
	storage, err := openStorage(ctx, cfg.World)
	if err != nil {
		return nil, err
	}
	world, err := openWorld(storage, cfg.World)
	if err != nil {
		storage.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		slogger:    taskLogger(logger.Writer()),
		storage:    storage,
		world:      world,
		settings:   render.NewSettingsStore(cfg.Render),
		ctx:        ctx,
		cancel:     cancel,
		screen:     image.NewRGBA(image.Rect(0, 0, cfg.Screen.Width, cfg.Screen.Height)),
		events:     newMapEventRouter(),
	}
	a.zoom.Store(int32(min(tiles.MaxZoom, max(0, cfg.Screen.Zoom))))
	a.cache = imagecache.NewImageCache(logger, cfg.ImageCache, ctx)
	a.controller = renderers.NewController(a.cache, a.settings, world, logger)
	a.controller.SetMapping(true)
	a.env = &dispatchers.MapEnv{
		Controller: a.controller,
		Images:     a.cache,
		Settings:   a.settings,
		Specs:      &dispatchers.SpecCache{},
		Logger:     a.slogger,
	}
	a.env.OnRegionMapped = a.regionMapped
	a.player = dispatchers.NewMapPlayerManager(a.env)
	a.saver = dispatchers.NewSaveMapManager(a.env)
	a.regions = dispatchers.NewMapRegionManager(a.env)
	a.tasks = dispatchers.NewTaskController(ctx, a.slogger, cfg.IODelayThreshold, a.player, a.saver, a.regions)
	a.pipeline = dispatchers.NewPriorityRenderer(cfg.Pipeline, a.controller, a.slogger)
	a.steps = tiles.NewDrawStepCache(tiles.NewRegionTextures(a.cache, cfg.DrawStepIdle), tiles.NewExecutor(ctx, cfg.TextureWorkers, logger), cfg.DrawStepIdle, logger)
	a.tileCache = tiles.NewTileCache(a.steps, cfg.DrawStepIdle)
	a.tasks.EnableTasks()
	return a, nil
}

// regionMapped tells event listeners that a region image changed
func (a *app) regionMapped(region primitives.RegionPos, mapped int) {
	a.events.Broadcast("region", map[string]any{"region": region.String(), "chunks": mapped})
}

func (a *app) config() LivemapConfig {
	a.cfgLock.Lock()
	defer a.cfgLock.Unlock()
	return a.cfg
}

// updateSettings applies new render settings and writes them to the config file
func (a *app) updateSettings(s render.Settings) error {
	a.settings.Set(s)
	a.env.Specs.Reset()
	a.cfgLock.Lock()
	a.cfg.Render = s
	cfg := a.cfg
	a.cfgLock.Unlock()
	if a.configPath == "" {
		return nil
	}
	return saveConfig(a.configPath, cfg)
}

// snapshotScreen returns copy of the last drawn frame
func (a *app) snapshotScreen() *image.RGBA {
	a.screenLock.RLock()
	defer a.screenLock.RUnlock()
	ret := image.NewRGBA(a.screen.Bounds())
	draw.Draw(ret, ret.Bounds(), a.screen, a.screen.Bounds().Min, draw.Src)
	return ret
}

func (a *app) Close() {
	a.pipeline.Close()
	a.tasks.Close()
	if err := a.cache.FlushToDisk(true); err != nil {
		a.logger.Println("Failed to flush image cache:", err)
	}
	a.cancel()
	a.cache.WaitExit()
	if snap := a.config().World.Snapshot; snap != "" {
		start := time.Now()
		if err := saveSnapshot(a.storage, snap); err != nil {
			a.logger.Println("Failed to save world snapshot:", err)
		} else {
			a.logger.Printf("World snapshot saved in %s", time.Since(start))
		}
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Println("Failed to close storage:", err)
	}
}
