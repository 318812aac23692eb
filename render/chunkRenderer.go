package render

import (
	"errors"

	"github.com/maxsupermanhd/livemap/primitives"
)

var (
	// ErrChunkMissing is returned by world sources when chunk is not loaded,
	// callers should retry on a later pass.
	ErrChunkMissing = errors.New("chunk missing")
	ErrNoWorld      = errors.New("world not available")
	// ErrOutOfBounds is returned for chunk-local coordinates outside 0-15,
	// renderers skip the chunk and retry later.
	ErrOutOfBounds = errors.New("coordinates out of chunk bounds")
)

// BlockSample is a read-only description of a block as resolved by the world.
// Color is 0xRRGGBB already tinted for the position.
type BlockSample struct {
	Name            string  `yaml:"name"`
	Color           uint32  `yaml:"-"`
	Alpha           float32 `yaml:"alpha"`
	LightOpacity    int     `yaml:"opacity"`
	LightEmission   int     `yaml:"emission"`
	IsAir           bool    `yaml:"air"`
	IsWater         bool    `yaml:"water"`
	IsLava          bool    `yaml:"lava"`
	NoShadow        bool    `yaml:"noShadow"`
	TransparentRoof bool    `yaml:"transparentRoof"`
	OpenToSky       bool    `yaml:"openToSky"`
}

func (b *BlockSample) HasTransparency() bool {
	return b.Alpha < 1
}

// ChunkData gives access to one loaded chunk, x and z are chunk-local
// (0-15), y is world height.
type ChunkData interface {
	Pos() primitives.ChunkPos
	Dimension() int
	HasNoSky() bool
	WorldHeight() int
	BlockAt(x, y, z int) (*BlockSample, error)
	LightValueAt(x, y, z int) int
	LightOpacityAt(b *BlockSample, x, y, z int) int
	PrecipitationHeight(x, z int) int
	CanSeeSky(x, y, z int) bool
}

// World is the live world being mapped along with the viewer in it
type World interface {
	Name() string
	Dimension() int
	HasChunk(c primitives.ChunkPos) bool
	Chunk(c primitives.ChunkPos) (ChunkData, error)
	ViewerBlockPos() (x, y, z int)
	GameRenderDistance() int
	WorldTime() int64
}

// ChunkRenderer paints one chunk into the painter. vSlice is -1 for
// surface layers. Returned bool reports if anything usable was painted,
// errors are only returned for faults that abort the whole chunk.
type ChunkRenderer interface {
	Name() string
	Render(p *ChunkPainter, chunk ChunkData, vSlice int) (bool, error)
}

// SurfaceSlice is vSlice value of surface layers
const SurfaceSlice = -1
