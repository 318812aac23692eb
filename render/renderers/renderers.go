package renderers

import (
	"log"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

// Renderers is the fixed table of per-dimension renderers of one world
type Renderers struct {
	Surface *Surface
	Cave    *Cave
	Nether  *Cave
	End     *Surface
}

func ConstructRenderers(settings *render.SettingsStore, world render.World, logger *log.Logger) *Renderers {
	surface := NewSurface(settings, world, logger)
	return &Renderers{
		Surface: surface,
		Cave:    NewCave(surface, settings, world, logger),
		Nether:  NewNether(settings, world, logger),
		End:     NewEnd(settings, world, logger),
	}
}

// Underground picks slice renderer for the dimension
func (r *Renderers) Underground(dimension int) render.ChunkRenderer {
	switch dimension {
	case primitives.DimensionNether:
		return r.Nether
	case primitives.DimensionEnd:
		return r.End
	default:
		return r.Cave
	}
}

// Surfaces picks day/night renderer for the dimension
func (r *Renderers) Surfaces(dimension int) *Surface {
	if dimension == primitives.DimensionEnd {
		return r.End
	}
	return r.Surface
}

// All lists renderers for stats and cache resets
func (r *Renderers) All() []render.ChunkRenderer {
	return []render.ChunkRenderer{r.Surface, r.Cave, r.Nether, r.End}
}
