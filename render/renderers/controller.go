package renderers

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/maxsupermanhd/livemap/metrics"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

// RegionImages is the part of region image store chunk renders go through.
// ChunkImage returns a copy of the current 16x16 area of the chunk.
type RegionImages interface {
	ChunkImage(loc primitives.ImageLocation, c primitives.ChunkPos) (*image.RGBA, error)
	SetChunkImage(loc primitives.ImageLocation, c primitives.ChunkPos, img *image.RGBA) error
}

// Controller renders chunks into region images of a map layer
type Controller struct {
	lock      sync.Mutex
	logger    *log.Logger
	settings  *render.SettingsStore
	images    RegionImages
	world     render.World
	renderers *Renderers
	retained  retainedChunks
	mapping   atomic.Bool
}

func NewController(images RegionImages, settings *render.SettingsStore, world render.World, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Controller{
		logger:   logger,
		settings: settings,
		images:   images,
		world:    world,
	}
	c.renderers = ConstructRenderers(settings, &neighborWorld{World: world, retained: &c.retained}, logger)
	return c
}

// SetWorld swaps world renderers look neighbors up in, cached heights are dropped
func (c *Controller) SetWorld(world render.World) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.world = world
	c.retained.clear()
	c.renderers = ConstructRenderers(c.settings, &neighborWorld{World: world, retained: &c.retained}, c.logger)
}

// Retain keeps chunks for neighbor lookups until Release
func (c *Controller) Retain(chunks []render.ChunkData) {
	c.retained.add(chunks)
}

func (c *Controller) Release() {
	c.retained.clear()
}

// RetainedStats reports count of retained chunks and lookups served by them
func (c *Controller) RetainedStats() (chunks int, hits int64) {
	return c.retained.len(), c.retained.hits.Load()
}

func (c *Controller) World() render.World {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.world
}

func (c *Controller) SetMapping(v bool) {
	c.mapping.Store(v)
}

func (c *Controller) IsMapping() bool {
	return c.mapping.Load() && c.images != nil
}

// RenderChunk paints chunk into region image of the layer, false means
// nothing was updated and chunk should be retried later
func (c *Controller) RenderChunk(region primitives.RegionPos, mapType primitives.MapType, chunk render.ChunkData) (ok bool) {
	if !c.IsMapping() || chunk == nil {
		return false
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("Unexpected error rendering chunk %s of %s: %v\n%s", chunk.Pos(), mapType, r, debug.Stack())
			ok = false
		}
	}()
	var err error
	if mapType.IsUnderground() {
		ok, err = c.renderUnderground(region, mapType, chunk)
	} else {
		ok, err = c.renderSurface(region, mapType, chunk)
	}
	switch {
	case err == nil:
	case errors.Is(err, render.ErrChunkMissing), errors.Is(err, render.ErrNoWorld):
		ok = false
	case errors.Is(err, render.ErrOutOfBounds):
		c.logger.Printf("Chunk %s of %s out of bounds, waiting for next pass: %v", chunk.Pos(), mapType, err)
		ok = false
	default:
		c.logger.Printf("Error rendering chunk %s of %s: %v", chunk.Pos(), mapType, err)
		ok = false
	}
	if ok {
		metrics.ChunksRendered.WithLabelValues(string(mapType.Kind)).Inc()
	}
	return ok
}

func (c *Controller) renderUnderground(region primitives.RegionPos, mapType primitives.MapType, chunk render.ChunkData) (bool, error) {
	loc := primitives.ImageLocation{Region: region, Layer: mapType}
	img, err := c.images.ChunkImage(loc, chunk.Pos())
	if err != nil {
		return false, err
	}
	p := render.NewChunkPainter(img, c.logger)
	ok, err := c.renderers.Underground(mapType.Dimension).Render(p, chunk, mapType.VSlice)
	p.FinishPainting()
	if !ok || err != nil {
		return false, err
	}
	if err := c.images.SetChunkImage(loc, chunk.Pos(), img); err != nil {
		return false, fmt.Errorf("storing chunk image: %w", err)
	}
	return true, nil
}

func (c *Controller) renderSurface(region primitives.RegionPos, mapType primitives.MapType, chunk render.ChunkData) (bool, error) {
	dayLoc := primitives.ImageLocation{Region: region, Layer: primitives.Day(mapType.Dimension)}
	nightLoc := primitives.ImageLocation{Region: region, Layer: primitives.Night(mapType.Dimension)}
	surface := c.renderers.Surfaces(mapType.Dimension)
	dayImg, err := c.images.ChunkImage(dayLoc, chunk.Pos())
	if err != nil {
		return false, err
	}
	day := render.NewChunkPainter(dayImg, c.logger)
	var (
		nightImg *image.RGBA
		night    *render.ChunkPainter
	)
	if !surface.dayOnly {
		nightImg, err = c.images.ChunkImage(nightLoc, chunk.Pos())
		if err != nil {
			return false, err
		}
		night = render.NewChunkPainter(nightImg, c.logger)
	}
	ok, err := surface.RenderDayNight(day, night, chunk)
	day.FinishPainting()
	if night != nil {
		night.FinishPainting()
	}
	if !ok || err != nil {
		return false, err
	}
	if err := c.images.SetChunkImage(dayLoc, chunk.Pos(), dayImg); err != nil {
		return false, fmt.Errorf("storing day chunk image: %w", err)
	}
	if night != nil {
		if err := c.images.SetChunkImage(nightLoc, chunk.Pos(), nightImg); err != nil {
			return false, fmt.Errorf("storing night chunk image: %w", err)
		}
	}
	return true, nil
}
