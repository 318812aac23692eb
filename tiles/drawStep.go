package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/maxsupermanhd/livemap/metrics"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// DefaultDrawStepIdle is how long unused draw steps are kept
const DefaultDrawStepIdle = 30 * time.Second

var stepBackground = color.NRGBA{R: 0x22, G: 0x22, B: 0x22, A: 200}

// DrawStepKey identifies a draw step, steps with equal keys are shared
type DrawStepKey struct {
	Region      primitives.RegionPos
	MapType     primitives.MapType
	Zoom        int
	HighQuality bool
	SX1, SY1    int
	SX2, SY2    int
}

func (k DrawStepKey) String() string {
	return fmt.Sprintf("%s %s z%d hq=%v [%d %d %d %d]", k.Region, k.MapType, k.Zoom, k.HighQuality, k.SX1, k.SY1, k.SX2, k.SY2)
}

// DrawStep draws part of one region image into a tile
type DrawStep struct {
	key         DrawStepKey
	highQuality bool
	textures    *RegionTextures
	exec        JobRunner
	logger      *log.Logger
	used        func()

	lock          sync.Mutex
	regionFuture  *Future
	scaledFuture  *Future
	scaledTexture Texture
	lastFilter    Filter
	lastWrap      Wrap
}

func newDrawStep(key DrawStepKey, textures *RegionTextures, exec JobRunner, logger *log.Logger, used func()) *DrawStep {
	d := &DrawStep{
		key:         key,
		highQuality: key.HighQuality && key.Zoom != 0,
		textures:    textures,
		exec:        exec,
		logger:      logger,
		used:        used,
	}
	d.lock.Lock()
	region, _ := d.updateRegionTexture()
	if d.highQuality {
		d.updateScaledTexture(region)
	}
	d.lock.Unlock()
	return d
}

func (d *DrawStep) Key() DrawStepKey {
	return d.key
}

func (d *DrawStep) loc() primitives.ImageLocation {
	return primitives.ImageLocation{Region: d.key.Region, Layer: d.key.MapType}
}

func (d *DrawStep) jobFailed(kind string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	d.logger.Printf("Failed to prepare %s texture of %s: %v", kind, d.key, err)
}

// updateRegionTexture must be called with lock held, pending is set when
// there is nothing to draw yet
func (d *DrawStep) updateRegionTexture() (tex *ImageTexture, pending bool) {
	if d.regionFuture != nil {
		if !d.regionFuture.Done() {
			tex, _ = d.textures.Peek(d.loc())
			return tex, tex == nil
		}
		if _, err := d.regionFuture.Get(); err != nil {
			d.jobFailed("region", err)
		}
		d.regionFuture = nil
	}
	tex, stale := d.textures.Lookup(d.loc())
	if tex == nil || stale {
		loc := d.loc()
		d.regionFuture = d.exec.Submit("region", func(ctx context.Context) (Texture, error) {
			return d.textures.Load(ctx, loc)
		})
	}
	if tex == nil {
		return nil, true
	}
	if tex.IsBindNeeded() {
		if err := tex.Bind(); err != nil {
			d.logger.Printf("Failed to bind texture of %s: %v", d.key, err)
		}
	}
	return tex, false
}

// updateScaledTexture must be called with lock held
func (d *DrawStep) updateScaledTexture(region *ImageTexture) {
	if d.scaledFuture != nil {
		if !d.scaledFuture.Done() {
			return
		}
		tex, err := d.scaledFuture.Get()
		d.scaledFuture = nil
		if err != nil {
			d.jobFailed("scaled", err)
			return
		}
		if d.scaledTexture != nil && d.scaledTexture != tex {
			d.scaledTexture.Dispose()
		}
		d.scaledTexture = tex
		if err := tex.Bind(); err != nil {
			d.logger.Printf("Failed to bind scaled texture of %s: %v", d.key, err)
		}
		return
	}
	if region == nil {
		return
	}
	if d.scaledTexture != nil && !d.scaledTexture.LastImageUpdate().Before(region.LastImageUpdate()) {
		return
	}
	key := d.key
	d.scaledFuture = d.exec.Submit("scaled", func(ctx context.Context) (Texture, error) {
		t := region.LastImageUpdate()
		img := region.Image()
		if img == nil {
			return nil, ErrNoImage
		}
		scaled := ScaledRegionArea(img, key.SX1, key.SY1, key.Zoom)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewImageTexture("scaled "+key.String(), scaled, t), nil
	})
}

// ScaledRegionArea upscales the part of region image shown by a tile at
// zoom into a full size image
func ScaledRegionArea(region *image.RGBA, sx1, sy1, zoom int) *image.RGBA {
	size := primitives.RegionPixels >> zoom
	origin := region.Rect.Min
	sub := region.SubImage(image.Rect(sx1, sy1, sx1+size, sy1+size).Add(origin))
	resized := resize.Resize(primitives.RegionPixels, primitives.RegionPixels, sub, resize.NearestNeighbor)
	if ret, ok := resized.(*image.RGBA); ok && ret.Rect.Min == (image.Point{}) {
		return ret
	}
	ret := image.NewRGBA(image.Rect(0, 0, primitives.RegionPixels, primitives.RegionPixels))
	draw.Draw(ret, ret.Rect, resized, resized.Bounds().Min, draw.Src)
	return ret
}

// destination returns where the step lands in screen space
func (d *DrawStep) destination(pos TilePos, offX, offZ float64) image.Rectangle {
	scale := 1 << d.key.Zoom
	tileBlocks := TileSize >> d.key.Zoom
	bx := d.key.Region.MinChunkX()*16 + d.key.SX1
	bz := d.key.Region.MinChunkZ()*16 + d.key.SY1
	x0 := int(offX+pos.StartX) + floorMod(bx, tileBlocks)*scale
	z0 := int(offZ+pos.StartZ) + floorMod(bz, tileBlocks)*scale
	return image.Rect(x0, z0, x0+(d.key.SX2-d.key.SX1)*scale, z0+(d.key.SY2-d.key.SY1)*scale)
}

// Draw paints background, texture if there is one and grid. It reports
// if a texture was drawn. Source rectangles never leave the region image,
// so wrap is only recorded and shows up in String.
func (d *DrawStep) Draw(dst draw.Image, pos TilePos, offX, offZ float64, alpha float32, filter Filter, wrap Wrap, grid *GridSpec) bool {
	if d.used != nil {
		d.used()
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	region, pending := d.updateRegionTexture()
	if d.highQuality {
		d.updateScaledTexture(region)
	}
	d.lastFilter = filter
	d.lastWrap = wrap

	dr := d.destination(pos, offX, offZ)
	if !dr.Overlaps(dst.Bounds()) {
		return false
	}
	draw.Draw(dst, dr, image.NewUniform(stepBackground), image.Point{}, draw.Over)

	var opts *draw.Options
	var mask image.Image
	if alpha < 1 {
		mask = image.NewUniform(color.Alpha{A: uint8(max(0, alpha) * 255)})
		opts = &draw.Options{SrcMask: mask}
	}
	drew := false
	switch {
	case d.highQuality && d.scaledTexture != nil && d.scaledTexture.IsBound():
		src := d.scaledTexture.BoundImage()
		draw.DrawMask(dst, dr, src, src.Rect.Min, mask, image.Point{}, draw.Over)
		drew = true
	case !pending && region != nil && region.IsBound():
		src := region.BoundImage()
		sr := image.Rect(d.key.SX1, d.key.SY1, d.key.SX2, d.key.SY2).Add(src.Rect.Min)
		scaler(filter).Scale(dst, dr, src, sr, draw.Over, opts)
		drew = true
	}
	if grid != nil {
		grid.draw(dst, dr, d.key, 1<<d.key.Zoom)
	}
	return drew
}

func scaler(f Filter) draw.Scaler {
	if f == FilterNearest {
		return draw.NearestNeighbor
	}
	return draw.ApproxBiLinear
}

// HasTexture reports if the step is ready to be drawn for mapType
func (d *DrawStep) HasTexture(mapType primitives.MapType) bool {
	if d.key.MapType != mapType {
		return false
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.highQuality {
		return d.scaledTexture != nil && d.scaledTexture.IsBound()
	}
	tex, ok := d.textures.Peek(d.loc())
	return ok && tex.IsBound()
}

// ClearTexture drops scaled texture and cancels jobs in flight
func (d *DrawStep) ClearTexture() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.scaledTexture != nil {
		d.scaledTexture.Dispose()
		d.scaledTexture = nil
	}
	if d.scaledFuture != nil {
		d.scaledFuture.Cancel()
		d.scaledFuture = nil
	}
	if d.regionFuture != nil {
		d.regionFuture.Cancel()
		d.regionFuture = nil
	}
}

func (d *DrawStep) String() string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return fmt.Sprintf("DrawStep{%s filter=%s wrap=%s}", d.key, d.lastFilter, d.lastWrap)
}

// GridSpec describes lines drawn over tiles every Spacing blocks
type GridSpec struct {
	Color   uint32  `yaml:"color"`
	Alpha   float32 `yaml:"alpha"`
	Spacing int     `yaml:"spacing"`
}

func (g *GridSpec) draw(dst draw.Image, dr image.Rectangle, key DrawStepKey, scale int) {
	if g.Spacing <= 0 {
		return
	}
	c := image.NewUniform(color.NRGBA{
		R: uint8(g.Color >> 16),
		G: uint8(g.Color >> 8),
		B: uint8(g.Color),
		A: uint8(min(1, max(0, g.Alpha)) * 255),
	})
	bx := key.Region.MinChunkX()*16 + key.SX1
	for i := 0; i < key.SX2-key.SX1; i++ {
		if floorMod(bx+i, g.Spacing) == 0 {
			x := dr.Min.X + i*scale
			draw.Draw(dst, image.Rect(x, dr.Min.Y, x+1, dr.Max.Y), c, image.Point{}, draw.Over)
		}
	}
	bz := key.Region.MinChunkZ()*16 + key.SY1
	for i := 0; i < key.SY2-key.SY1; i++ {
		if floorMod(bz+i, g.Spacing) == 0 {
			z := dr.Min.Y + i*scale
			draw.Draw(dst, image.Rect(dr.Min.X, z, dr.Max.X, z+1), c, image.Point{}, draw.Over)
		}
	}
}

func floorMod(a, b int) int {
	return ((a % b) + b) % b
}

type stepItem = ttlcache.Item[DrawStepKey, *DrawStep]

// DrawStepCache shares draw steps between tiles and releases textures of
// steps that were not drawn for a while
type DrawStepCache struct {
	textures *RegionTextures
	exec     JobRunner
	logger   *log.Logger

	lock      sync.Mutex
	steps     *ttlcache.Cache[DrawStepKey, *DrawStep]
	lastWorld string
	lastDim   int
}

func NewDrawStepCache(textures *RegionTextures, exec JobRunner, idle time.Duration, logger *log.Logger) *DrawStepCache {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if idle <= 0 {
		idle = DefaultDrawStepIdle
	}
	c := &DrawStepCache{
		textures: textures,
		exec:     exec,
		logger:   logger,
		steps: ttlcache.New[DrawStepKey, *DrawStep](
			ttlcache.WithTTL[DrawStepKey, *DrawStep](idle),
		),
	}
	c.steps.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *stepItem) {
		item.Value().ClearTexture()
		if reason == ttlcache.EvictionReasonExpired {
			metrics.DrawStepEvictions.Inc()
		}
	})
	return c
}

// GetOrCreate returns shared step for key, all steps are dropped when
// key belongs to another world or dimension than the previous one
func (c *DrawStepCache) GetOrCreate(key DrawStepKey) *DrawStep {
	c.lock.Lock()
	defer c.lock.Unlock()
	if key.Region.World != c.lastWorld || key.Region.Dimension != c.lastDim {
		c.steps.DeleteAll()
		c.lastWorld = key.Region.World
		c.lastDim = key.Region.Dimension
	}
	if item := c.steps.Get(key); item != nil {
		return item.Value()
	}
	c.steps.Delete(key)
	s := newDrawStep(key, c.textures, c.exec, c.logger, func() { c.steps.Touch(key) })
	c.steps.Set(key, s, ttlcache.DefaultTTL)
	metrics.DrawSteps.Set(float64(c.steps.Len()))
	return s
}

// Sweep releases steps idle for longer than the configured time, the
// eviction hook clears their textures
func (c *DrawStepCache) Sweep() int {
	c.lock.Lock()
	before := c.steps.Len()
	c.steps.DeleteExpired()
	after := c.steps.Len()
	c.lock.Unlock()
	metrics.DrawSteps.Set(float64(after))
	c.textures.Prune()
	return before - after
}

// RunSweeper sweeps every interval until ctx is done
func (c *DrawStepCache) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Printf("Released %d idle draw steps", n)
			}
		}
	}
}

func (c *DrawStepCache) Clear() {
	c.lock.Lock()
	c.steps.DeleteAll()
	c.lock.Unlock()
	metrics.DrawSteps.Set(0)
	c.textures.Clear()
}

func (c *DrawStepCache) Len() int {
	return c.steps.Len()
}
