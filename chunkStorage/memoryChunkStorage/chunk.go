package memoryChunkStorage

import (
	"fmt"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

const chunkSide = 16

// Chunk is a column of blocks with precomputed light, it implements
// render.ChunkData. Chunks are not safe for concurrent modification,
// storage swaps whole chunks instead.
type Chunk struct {
	pos       primitives.ChunkPos
	dimension int
	hasNoSky  bool
	height    int
	palette   *Palette
	blocks    []uint16
	light     []uint8
	heightmap [chunkSide * chunkSide]int
}

func NewChunk(pos primitives.ChunkPos, dimension, height int, hasNoSky bool, palette *Palette) *Chunk {
	if height <= 0 {
		height = 256
	}
	if palette == nil {
		palette = DefaultPalette()
	}
	return &Chunk{
		pos:       pos,
		dimension: dimension,
		hasNoSky:  hasNoSky,
		height:    height,
		palette:   palette,
		blocks:    make([]uint16, chunkSide*chunkSide*height),
		light:     make([]uint8, chunkSide*chunkSide*height),
	}
}

func (c *Chunk) index(x, y, z int) int {
	return (y*chunkSide+z)*chunkSide + x
}

func inChunk(x, z int) bool {
	return x >= 0 && x < chunkSide && z >= 0 && z < chunkSide
}

func (c *Chunk) Pos() primitives.ChunkPos {
	return c.pos
}

func (c *Chunk) Dimension() int {
	return c.dimension
}

func (c *Chunk) HasNoSky() bool {
	return c.hasNoSky
}

func (c *Chunk) WorldHeight() int {
	return c.height
}

func (c *Chunk) Palette() *Palette {
	return c.palette
}

// BlockAt returns air above and below the column
func (c *Chunk) BlockAt(x, y, z int) (*render.BlockSample, error) {
	if !inChunk(x, z) {
		return nil, fmt.Errorf("%w: block %d %d %d of chunk %s", render.ErrOutOfBounds, x, y, z, c.pos)
	}
	if y < 0 || y >= c.height {
		return c.palette.Air(), nil
	}
	return c.palette.Sample(c.blocks[c.index(x, y, z)]), nil
}

func (c *Chunk) LightValueAt(x, y, z int) int {
	if !inChunk(x, z) || y < 0 {
		return 0
	}
	if y >= c.height {
		if c.hasNoSky {
			return 0
		}
		return 15
	}
	return int(c.light[c.index(x, y, z)])
}

func (c *Chunk) LightOpacityAt(b *render.BlockSample, x, y, z int) int {
	if b == nil {
		return 0
	}
	return b.LightOpacity
}

// PrecipitationHeight is one above the highest non-air block of the column
func (c *Chunk) PrecipitationHeight(x, z int) int {
	if !inChunk(x, z) {
		return 0
	}
	return c.heightmap[z*chunkSide+x]
}

func (c *Chunk) CanSeeSky(x, y, z int) bool {
	if c.hasNoSky {
		return false
	}
	return y >= c.PrecipitationHeight(x, z)
}

// SetBlock places a block, light is not updated until RecalculateLight
func (c *Chunk) SetBlock(x, y, z int, name string) error {
	if !inChunk(x, z) || y < 0 || y >= c.height {
		return fmt.Errorf("%w: block %d %d %d of chunk %s", render.ErrOutOfBounds, x, y, z, c.pos)
	}
	i, err := c.palette.Index(name)
	if err != nil {
		return err
	}
	c.blocks[c.index(x, y, z)] = i
	h := c.heightmap[z*chunkSide+x]
	switch {
	case !c.palette.Sample(i).IsAir && y >= h:
		c.heightmap[z*chunkSide+x] = y + 1
	case c.palette.Sample(i).IsAir && y == h-1:
		c.updateHeight(x, z)
	}
	return nil
}

// FillColumn sets blocks from bottom up starting at y0
func (c *Chunk) FillColumn(x, z, y0 int, names ...string) error {
	for i, n := range names {
		if err := c.SetBlock(x, y0+i, z, n); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chunk) SetLight(x, y, z, level int) {
	if !inChunk(x, z) || y < 0 || y >= c.height {
		return
	}
	c.light[c.index(x, y, z)] = uint8(max(0, min(15, level)))
}

func (c *Chunk) updateHeight(x, z int) {
	h := 0
	for y := c.height - 1; y >= 0; y-- {
		if !c.palette.Sample(c.blocks[c.index(x, y, z)]).IsAir {
			h = y + 1
			break
		}
	}
	c.heightmap[z*chunkSide+x] = h
}

// RecalculateLight fills light with sky light fading by opacity going down
// and block emission lighting the block itself and the one above.
func (c *Chunk) RecalculateLight() {
	for z := 0; z < chunkSide; z++ {
		for x := 0; x < chunkSide; x++ {
			sky := 15
			if c.hasNoSky {
				sky = 0
			}
			for y := c.height - 1; y >= 0; y-- {
				b := c.palette.Sample(c.blocks[c.index(x, y, z)])
				sky = max(0, sky-b.LightOpacity)
				c.light[c.index(x, y, z)] = uint8(sky)
			}
			for y := 0; y < c.height; y++ {
				b := c.palette.Sample(c.blocks[c.index(x, y, z)])
				if b.LightEmission == 0 {
					continue
				}
				c.SetLight(x, y, z, max(b.LightEmission, c.LightValueAt(x, y, z)))
				c.SetLight(x, y+1, z, max(b.LightEmission-1, c.LightValueAt(x, y+1, z)))
			}
		}
	}
}

// Copy samples any chunk data into a new memory chunk, blocks missing from
// the palette are stored as air.
func Copy(src render.ChunkData, palette *Palette) (*Chunk, error) {
	if src == nil {
		return nil, render.ErrChunkMissing
	}
	if mc, ok := src.(*Chunk); ok && mc.palette == palette {
		ret := *mc
		ret.blocks = append([]uint16(nil), mc.blocks...)
		ret.light = append([]uint8(nil), mc.light...)
		return &ret, nil
	}
	ret := NewChunk(src.Pos(), src.Dimension(), src.WorldHeight(), src.HasNoSky(), palette)
	for y := 0; y < ret.height; y++ {
		for z := 0; z < chunkSide; z++ {
			for x := 0; x < chunkSide; x++ {
				b, err := src.BlockAt(x, y, z)
				if err != nil {
					return nil, err
				}
				if b != nil {
					if i, err := palette.Index(b.Name); err == nil {
						ret.blocks[ret.index(x, y, z)] = i
					}
				}
				ret.light[ret.index(x, y, z)] = uint8(max(0, min(15, src.LightValueAt(x, y, z))))
			}
		}
	}
	for z := 0; z < chunkSide; z++ {
		for x := 0; x < chunkSide; x++ {
			ret.updateHeight(x, z)
		}
	}
	return ret, nil
}
