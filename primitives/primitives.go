package primitives

import (
	"fmt"
	"strconv"
)

const (
	// RegionShift is log2 of region side length in chunks
	RegionShift = 5
	RegionSize  = 1 << RegionShift
	// RegionPixels is the side length of a region image, one pixel per block
	RegionPixels = RegionSize * 16
)

const (
	DimensionNether    = -1
	DimensionOverworld = 0
	DimensionEnd       = 1
)

type ChunkPos struct {
	X, Z int
}

func (c ChunkPos) String() string {
	return fmt.Sprintf("[%d %d]", c.X, c.Z)
}

func (c ChunkPos) Add(dx, dz int) ChunkPos {
	return ChunkPos{X: c.X + dx, Z: c.Z + dz}
}

// ChunkOfBlock floors block coordinates into the chunk holding them
func ChunkOfBlock(bx, bz int) ChunkPos {
	return ChunkPos{X: bx >> 4, Z: bz >> 4}
}

// RegionPos identifies one region image grid cell of a world dimension.
// World is the world directory name, used to separate saved maps of
// different worlds.
type RegionPos struct {
	World     string
	Dimension int
	X, Z      int
}

func RegionOf(world string, dimension int, c ChunkPos) RegionPos {
	return RegionPos{
		World:     world,
		Dimension: dimension,
		X:         c.X >> RegionShift,
		Z:         c.Z >> RegionShift,
	}
}

func (r RegionPos) MinChunkX() int { return r.X << RegionShift }
func (r RegionPos) MinChunkZ() int { return r.Z << RegionShift }
func (r RegionPos) MaxChunkX() int { return r.MinChunkX() + RegionSize - 1 }
func (r RegionPos) MaxChunkZ() int { return r.MinChunkZ() + RegionSize - 1 }

// ChunkOffset returns position of the chunk inside of the region in chunks,
// works for negative coordinates too.
func (r RegionPos) ChunkOffset(c ChunkPos) (int, int) {
	return c.X & (RegionSize - 1), c.Z & (RegionSize - 1)
}

func (r RegionPos) Contains(c ChunkPos) bool {
	return c.X>>RegionShift == r.X && c.Z>>RegionShift == r.Z
}

// Neighbor returns region offset by dx dz regions in the same world and dimension
func (r RegionPos) Neighbor(dx, dz int) RegionPos {
	return RegionPos{World: r.World, Dimension: r.Dimension, X: r.X + dx, Z: r.Z + dz}
}

func (r RegionPos) CacheKey() string {
	return r.World + "/" + strconv.Itoa(r.Dimension) + "/" + strconv.Itoa(r.X) + "," + strconv.Itoa(r.Z)
}

func (r RegionPos) String() string {
	return fmt.Sprintf("{%s:%d r%dx r%dz}", r.World, r.Dimension, r.X, r.Z)
}

type MapKind string

const (
	MapDay         = MapKind("day")
	MapNight       = MapKind("night")
	MapUnderground = MapKind("underground")
)

// MapType is one layer of the map. VSlice is the 16 block tall vertical
// slice for underground layers and -1 otherwise.
type MapType struct {
	Kind      MapKind
	VSlice    int
	Dimension int
}

func Day(dimension int) MapType {
	return MapType{Kind: MapDay, VSlice: -1, Dimension: dimension}
}

func Night(dimension int) MapType {
	return MapType{Kind: MapNight, VSlice: -1, Dimension: dimension}
}

func Underground(vSlice, dimension int) MapType {
	return MapType{Kind: MapUnderground, VSlice: vSlice, Dimension: dimension}
}

func (m MapType) IsUnderground() bool {
	return m.Kind == MapUnderground
}

func (m MapType) IsDayOrNight() bool {
	return m.Kind == MapDay || m.Kind == MapNight
}

// Dir returns relative storage directory of the layer
func (m MapType) Dir() string {
	if m.IsUnderground() {
		return string(m.Kind) + "/" + strconv.Itoa(m.VSlice)
	}
	return string(m.Kind)
}

func (m MapType) CacheKey() string {
	return strconv.Itoa(m.Dimension) + ":" + m.Dir()
}

func (m MapType) String() string {
	return fmt.Sprintf("MapType{%s dim %d}", m.Dir(), m.Dimension)
}

// ImageLocation addresses a single region image of a map layer
type ImageLocation struct {
	Region RegionPos
	Layer  MapType
}

func (i ImageLocation) String() string {
	return fmt.Sprintf("{%s:%d:%s at %dx %dz}", i.Region.World, i.Region.Dimension, i.Layer.Dir(), i.Region.X, i.Region.Z)
}
