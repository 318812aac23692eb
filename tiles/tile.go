package tiles

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/maxsupermanhd/livemap/primitives"
	"golang.org/x/image/draw"
)

// TileSize is side length of a tile in screen pixels
const TileSize = primitives.RegionPixels

const MaxZoom = 5

var ErrOutsideTile = errors.New("block is outside of the tile")

type Filter int

const (
	FilterLinear Filter = iota
	FilterNearest
)

func (f Filter) String() string {
	if f == FilterNearest {
		return "nearest"
	}
	return "linear"
}

type Wrap int

const (
	WrapClamp Wrap = iota
	WrapMirrored
)

func (w Wrap) String() string {
	if w == WrapMirrored {
		return "mirrored"
	}
	return "clamp"
}

// RenderType selects texture filtering of tiles, valid values are 1-4
type RenderType int

const DefaultRenderType RenderType = 1

func (t RenderType) Valid() RenderType {
	if t < 1 || t > 4 {
		return DefaultRenderType
	}
	return t
}

// Next cycles render types wrapping back to the first one
func (t RenderType) Next() RenderType {
	t++
	if t > 4 {
		t = 1
	}
	return t
}

func (t RenderType) Params() (Filter, Wrap) {
	switch t.Valid() {
	case 2:
		return FilterLinear, WrapMirrored
	case 3:
		return FilterNearest, WrapClamp
	case 4:
		return FilterNearest, WrapMirrored
	}
	return FilterLinear, WrapClamp
}

// TilePos is tile position relative to the center tile, Start and End
// are in screen pixels relative to the center tile origin
type TilePos struct {
	DeltaX, DeltaZ int
	StartX, StartZ float64
	EndX, EndZ     float64
}

func NewTilePos(dx, dz int) TilePos {
	return TilePos{
		DeltaX: dx,
		DeltaZ: dz,
		StartX: float64(dx * TileSize),
		StartZ: float64(dz * TileSize),
		EndX:   float64(dx*TileSize + TileSize),
		EndZ:   float64(dz*TileSize + TileSize),
	}
}

// Less orders by z then x
func (p TilePos) Less(o TilePos) bool {
	if p.DeltaZ != o.DeltaZ {
		return p.DeltaZ < o.DeltaZ
	}
	return p.DeltaX < o.DeltaX
}

func (p TilePos) String() string {
	return fmt.Sprintf("TilePos [%d,%d]", p.DeltaX, p.DeltaZ)
}

func BlockPosToTile(b, zoom int) int {
	return b >> (9 - zoom)
}

func TileToBlock(t, zoom int) int {
	return t << (9 - zoom)
}

func TileCacheKey(tileX, tileZ, zoom int) string {
	return fmt.Sprintf("%d,%d@%d", tileX, tileZ, zoom)
}

// Tile is a square of the map shown on screen, at zoom 0 it matches one
// region and every zoom level halves its area in blocks
type Tile struct {
	X, Z       int
	Zoom       int
	ULChunk    primitives.ChunkPos
	LRChunk    primitives.ChunkPos
	ULBlockX   int
	ULBlockZ   int
	LRBlockX   int
	LRBlockZ   int
	RenderType RenderType

	lock      sync.Mutex
	drawSteps []*DrawStep
}

func NewTile(tileX, tileZ, zoom int, renderType RenderType) *Tile {
	zoom = min(MaxZoom, max(0, zoom))
	distance := primitives.RegionSize >> zoom
	ul := primitives.ChunkPos{X: tileX * distance, Z: tileZ * distance}
	lr := ul.Add(distance-1, distance-1)
	return &Tile{
		X:          tileX,
		Z:          tileZ,
		Zoom:       zoom,
		ULChunk:    ul,
		LRChunk:    lr,
		ULBlockX:   ul.X * 16,
		ULBlockZ:   ul.Z * 16,
		LRBlockX:   lr.X*16 + 15,
		LRBlockZ:   lr.Z*16 + 15,
		RenderType: renderType.Valid(),
	}
}

func (t *Tile) CacheKey() string {
	return TileCacheKey(t.X, t.Z, t.Zoom)
}

// UpdateTexture replaces draw steps of the tile for given map type
func (t *Tile) UpdateTexture(steps *DrawStepCache, world string, mapType primitives.MapType, highQuality bool) {
	ds := GetTileDrawSteps(steps, world, t.ULChunk, t.LRChunk, mapType, t.Zoom, highQuality)
	t.lock.Lock()
	t.drawSteps = ds
	t.lock.Unlock()
}

// HasTexture is true when every draw step is ready
func (t *Tile) HasTexture(mapType primitives.MapType) bool {
	t.lock.Lock()
	ds := t.drawSteps
	t.lock.Unlock()
	if len(ds) == 0 {
		return false
	}
	for _, s := range ds {
		if !s.HasTexture(mapType) {
			return false
		}
	}
	return true
}

func (t *Tile) Draw(dst draw.Image, pos TilePos, offX, offZ float64, alpha float32, grid *GridSpec) bool {
	t.lock.Lock()
	ds := t.drawSteps
	t.lock.Unlock()
	filter, wrap := t.RenderType.Params()
	drew := false
	for _, s := range ds {
		drew = s.Draw(dst, pos, offX, offZ, alpha, filter, wrap, grid) || drew
	}
	return drew
}

// BlockPixelOffsetInTile returns screen offset of block center relative
// to the tile center
func (t *Tile) BlockPixelOffsetInTile(x, z float64) (float64, float64, error) {
	if x < float64(t.ULBlockX) || math.Floor(x) > float64(t.LRBlockX) ||
		z < float64(t.ULBlockZ) || math.Floor(z) > float64(t.LRBlockZ) {
		return 0, 0, fmt.Errorf("%w: %.1f,%.1f not in %s", ErrOutsideTile, x, z, t)
	}
	localX := float64(t.ULBlockX) - x
	if x < 0 {
		localX++
	}
	localZ := float64(t.ULBlockZ) - z
	if z < 0 {
		localZ++
	}
	blockSize := float64(int(1) << t.Zoom)
	half := float64((int(1) << t.Zoom) / 2)
	return TileSize/2 + localX*blockSize - half, TileSize/2 + localZ*blockSize - half, nil
}

func (t *Tile) String() string {
	return fmt.Sprintf("Tile [r%d,r%d @ %d] (%s to %s)", t.X, t.Z, t.Zoom, t.ULChunk, t.LRChunk)
}

// GetTileDrawSteps splits chunk area into one step per intersected region
func GetTileDrawSteps(steps *DrawStepCache, world string, start, end primitives.ChunkPos, mapType primitives.MapType, zoom int, highQuality bool) []*DrawStep {
	ret := []*DrawStep{}
	rx1 := start.X >> primitives.RegionShift
	rx2 := end.X >> primitives.RegionShift
	rz1 := start.Z >> primitives.RegionShift
	rz2 := end.Z >> primitives.RegionShift
	for rx := rx1; rx <= rx2; rx++ {
		for rz := rz1; rz <= rz2; rz++ {
			region := primitives.RegionPos{World: world, Dimension: mapType.Dimension, X: rx, Z: rz}
			minCX := max(region.MinChunkX(), start.X)
			maxCX := min(region.MaxChunkX(), end.X)
			minCZ := max(region.MinChunkZ(), start.Z)
			maxCZ := min(region.MaxChunkZ(), end.Z)
			sx1 := (minCX - region.MinChunkX()) * 16
			sy1 := (minCZ - region.MinChunkZ()) * 16
			ret = append(ret, steps.GetOrCreate(DrawStepKey{
				Region:      region,
				MapType:     mapType,
				Zoom:        zoom,
				HighQuality: highQuality,
				SX1:         sx1,
				SY1:         sy1,
				SX2:         sx1 + (maxCX-minCX+1)*16,
				SY2:         sy1 + (maxCZ-minCZ+1)*16,
			}))
		}
	}
	return ret
}

type tileKey struct {
	x, z, zoom int
}

// TileCache keeps tiles around the viewer, tiles not requested for
// longer than idle are dropped on Sweep
type TileCache struct {
	steps *DrawStepCache

	lock       sync.Mutex
	tiles      *ttlcache.Cache[tileKey, *Tile]
	world      string
	mapType    primitives.MapType
	hq         bool
	renderType RenderType
}

func NewTileCache(steps *DrawStepCache, idle time.Duration) *TileCache {
	if idle <= 0 {
		idle = DefaultDrawStepIdle
	}
	return &TileCache{
		steps: steps,
		tiles: ttlcache.New[tileKey, *Tile](ttlcache.WithTTL[tileKey, *Tile](idle)),
	}
}

// Get returns tile with draw steps for the map type, all tiles are
// rebuilt when any of world, map type, quality or render type changes
func (c *TileCache) Get(tileX, tileZ, zoom int, world string, mapType primitives.MapType, highQuality bool, renderType RenderType) *Tile {
	c.lock.Lock()
	defer c.lock.Unlock()
	renderType = renderType.Valid()
	if world != c.world || mapType != c.mapType || highQuality != c.hq || renderType != c.renderType {
		c.tiles.DeleteAll()
		c.world, c.mapType, c.hq, c.renderType = world, mapType, highQuality, renderType
	}
	k := tileKey{tileX, tileZ, zoom}
	if item := c.tiles.Get(k); item != nil {
		return item.Value()
	}
	t := NewTile(tileX, tileZ, zoom, renderType)
	t.UpdateTexture(c.steps, world, mapType, highQuality)
	c.tiles.Set(k, t, ttlcache.DefaultTTL)
	return t
}

func (c *TileCache) Sweep() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	before := c.tiles.Len()
	c.tiles.DeleteExpired()
	return before - c.tiles.Len()
}

func (c *TileCache) Len() int {
	return c.tiles.Len()
}

// Visible returns tile positions covering a screen of given size centered
// on the center tile, ordered by z then x
func Visible(width, height int) []TilePos {
	rx := int(math.Ceil(float64(width)/2/TileSize)) + 1
	rz := int(math.Ceil(float64(height)/2/TileSize)) + 1
	ret := make([]TilePos, 0, (2*rx+1)*(2*rz+1))
	for dz := -rz; dz <= rz; dz++ {
		for dx := -rx; dx <= rx; dx++ {
			ret = append(ret, NewTilePos(dx, dz))
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Less(ret[j]) })
	return ret
}
