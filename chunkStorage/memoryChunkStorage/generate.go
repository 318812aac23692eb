package memoryChunkStorage

import (
	"math"

	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
)

const SeaLevel = 62

func hash2(seed int64, x, z int) uint64 {
	h := uint64(seed)*0x9E3779B97F4A7C15 ^ uint64(int64(x))*0xBF58476D1CE4E5B9 ^ uint64(int64(z))*0x94D049BB133111EB
	h ^= h >> 31
	h *= 0xD6E8FEB86659FD93
	h ^= h >> 32
	return h
}

// SimpleGenerator returns deterministic rolling terrain with caves,
// nether and end get their own simple shapes.
func SimpleGenerator(seed int64) Generator {
	return func(dim chunkStorage.SDim, pos primitives.ChunkPos, palette *Palette) *Chunk {
		c := NewChunk(pos, dim.ID, dim.Height, dim.HasNoSky, palette)
		var err error
		switch dim.ID {
		case primitives.DimensionNether:
			err = generateNether(c, seed)
		case primitives.DimensionEnd:
			err = generateEnd(c, seed)
		default:
			err = generateOverworld(c, seed)
		}
		if err != nil {
			return nil
		}
		c.RecalculateLight()
		return c
	}
}

func surfaceHeight(seed int64, bx, bz int) int {
	fx, fz := float64(bx), float64(bz)
	s := float64(seed%1000) / 100
	h := 64 + 10*math.Sin(fx/23+s) + 8*math.Cos(fz/17-s) + 4*math.Sin((fx+fz)/9)
	return int(h)
}

func caveCarved(bx, y, bz int) bool {
	fx, fy, fz := float64(bx), float64(y), float64(bz)
	return math.Sin(fx/7)*math.Cos(fz/7)*math.Sin(fy/5) > 0.55
}

func generateOverworld(c *Chunk, seed int64) error {
	for z := 0; z < chunkSide; z++ {
		for x := 0; x < chunkSide; x++ {
			bx, bz := c.pos.X*chunkSide+x, c.pos.Z*chunkSide+z
			top := min(surfaceHeight(seed, bx, bz), c.height-8)
			for y := 0; y <= top; y++ {
				name := "stone"
				switch {
				case y == 0:
					name = "bedrock"
				case y == top && top <= SeaLevel+1:
					name = "sand"
				case y == top:
					name = "grass_block"
				case y > top-4:
					name = "dirt"
				case y > 4 && y < top-6 && caveCarved(bx, y, bz):
					name = "air"
					if y <= 10 {
						name = "lava"
					}
				case hash2(seed, bx*31+y, bz)%211 == 0:
					name = "coal_ore"
				}
				if err := c.SetBlock(x, y, z, name); err != nil {
					return err
				}
			}
			for y := top + 1; y <= SeaLevel; y++ {
				if err := c.SetBlock(x, y, z, "water"); err != nil {
					return err
				}
			}
			if top > SeaLevel+1 {
				h := hash2(seed, bx, bz)
				switch {
				case h%97 == 0:
					if err := c.FillColumn(x, z, top+1, "oak_log", "oak_log", "oak_log", "oak_leaves"); err != nil {
						return err
					}
				case h%7 == 0:
					if err := c.SetBlock(x, top+1, z, "tall_grass"); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func generateNether(c *Chunk, seed int64) error {
	ceiling := c.height - 1
	for z := 0; z < chunkSide; z++ {
		for x := 0; x < chunkSide; x++ {
			bx, bz := c.pos.X*chunkSide+x, c.pos.Z*chunkSide+z
			floor := 32 + int(6*math.Sin(float64(bx)/11)+6*math.Cos(float64(bz)/13))
			roof := ceiling - 20 + int(5*math.Sin(float64(bx+bz)/8))
			for y := 0; y <= ceiling; y++ {
				name := "netherrack"
				switch {
				case y == 0 || y == ceiling:
					name = "bedrock"
				case y > floor && y < roof:
					name = "air"
					if y <= 31 {
						name = "lava"
					}
				case y == roof && hash2(seed, bx, bz)%53 == 0:
					name = "glowstone"
				case y == floor && hash2(seed, bz, bx)%9 == 0:
					name = "soul_sand"
				}
				if err := c.SetBlock(x, y, z, name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func generateEnd(c *Chunk, seed int64) error {
	for z := 0; z < chunkSide; z++ {
		for x := 0; x < chunkSide; x++ {
			bx, bz := c.pos.X*chunkSide+x, c.pos.Z*chunkSide+z
			d := math.Hypot(float64(bx), float64(bz))
			if d > 120 {
				continue
			}
			thickness := int((120 - d) / 4)
			for y := 60 - thickness; y <= 60; y++ {
				if err := c.SetBlock(x, y, z, "end_stone"); err != nil {
					return err
				}
			}
			if hash2(seed, bx/5, bz/5)%41 == 0 && bx%5 == 0 && bz%5 == 0 {
				for y := 61; y < 61+20 && y < c.height; y++ {
					if err := c.SetBlock(x, y, z, "obsidian"); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
