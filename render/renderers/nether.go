package renderers

import (
	"log"

	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/rgb"
)

// NewNether is a cave renderer without surface pre-pass
func NewNether(settings *render.SettingsStore, world render.World, logger *log.Logger) *Cave {
	r := newCave("Nether", nil, settings, world, logger)
	r.nether = true
	r.fog = rgb.Floats(NetherAmbientColor)
	return r
}

func (r *Cave) netherSliceHeight(c render.ChunkData, x, z, sliceMin, sliceMax int) int {
	y := sliceMax
	b, err := c.BlockAt(x, y, z)
	if err != nil {
		return sliceMax
	}
	above, err := c.BlockAt(x, min(y+1, sliceMax), z)
	if err != nil {
		return sliceMax
	}
	for y > 0 {
		if b.IsLava {
			break
		}
		if above.IsAir || above.HasTransparency() || above.OpenToSky {
			if !b.IsAir && !b.HasTransparency() && !b.OpenToSky {
				break
			}
		} else if y == sliceMin {
			y = sliceMax
			break
		}
		y--
		var ok bool
		if b, above, ok = r.blockPair(c, x, y, z); !ok {
			break
		}
	}
	return max(0, y)
}
