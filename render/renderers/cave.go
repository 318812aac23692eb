package renderers

import (
	"errors"
	"log"

	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/rgb"
	"github.com/maxsupermanhd/livemap/render/strata"
)

const defaultDim = 0.2

// Cave renders vertical slices, lit blocks under a ceiling are shown
type Cave struct {
	base
	strata  *strata.Strata
	surface *Surface
	heights map[int]*columnCache
	dim     float32
	// nether slices are searched from the slice top and lit by a minimum
	// glow instead of cave lighting
	nether bool
}

// NewCave uses surface for the pre-pass when surface above caves is enabled
func NewCave(surface *Surface, settings *render.SettingsStore, world render.World, logger *log.Logger) *Cave {
	return newCave("Cave", surface, settings, world, logger)
}

func newCave(name string, surface *Surface, settings *render.SettingsStore, world render.World, logger *log.Logger) *Cave {
	r := &Cave{
		base:    newBase(name, settings, world, logger),
		surface: surface,
		heights: map[int]*columnCache{},
		dim:     defaultDim,
	}
	r.shading = caveShading
	r.fog = rgb.Floats(CaveAmbientColor)
	r.strata = strata.New(name, 40, 8, true, settings, r.logger)
	return r
}

func (r *Cave) sliceCache(vSlice int) *columnCache {
	ret, ok := r.heights[vSlice]
	if !ok {
		ret = newColumnCache(columnCacheLimit)
		r.heights[vSlice] = ret
	}
	return ret
}

func (r *Cave) aboveCaves() bool {
	return r.opts.MapSurfaceAboveCaves && r.surface != nil && !r.nether
}

func (r *Cave) Render(p *render.ChunkPainter, chunk render.ChunkData, vSlice int) (bool, error) {
	if vSlice < 0 {
		r.logger.Printf("%s renderer asked to render surface slice of %s", r.name, chunk.Pos())
		return false, nil
	}
	r.updateOptions()
	if r.aboveCaves() && !chunk.HasNoSky() {
		if _, err := r.surface.render(p, nil, chunk, vSlice, true); err != nil {
			return false, err
		}
	}
	r.strata.Reset()
	defer r.strata.Reset()
	heights := r.sliceCache(vSlice)
	heights.invalidateAll()
	slopes := r.populateSlopes(chunk, func(c render.ChunkData, x, z int) int {
		sliceMin, sliceMax := vSliceBounds(c, vSlice)
		return r.sliceHeight(c, x, z, sliceMin, sliceMax, heights)
	})
	return r.renderUnderground(p, chunk, vSlice, heights, slopes)
}

func (r *Cave) renderUnderground(p *render.ChunkPainter, chunk render.ChunkData, vSlice int, heights *columnCache, slopes *[render.ChunkSide][render.ChunkSide]float32) (bool, error) {
	sliceMin, sliceMax := vSliceBounds(chunk, vSlice)
	aboveCaves := r.aboveCaves()
	chunkOk := false
	for z := 0; z < render.ChunkSide; z++ {
		for x := 0; x < render.ChunkSide; x++ {
			r.strata.Reset()
			ceiling := sliceMax
			if !chunk.HasNoSky() {
				ceiling = r.sliceHeight(chunk, x, z, sliceMin, sliceMax, heights)
			}
			if ceiling < 0 {
				p.PaintVoidBlock(x, z)
				chunkOk = true
				continue
			}
			y := min(ceiling, sliceMax)
			if ceiling < sliceMin {
				if aboveCaves {
					p.PaintDimOverlay(x, z, r.dim)
				} else {
					p.PaintBlackBlock(x, z)
				}
				chunkOk = true
				continue
			}

			if err := r.buildStrata(chunk, sliceMin, x, y, z, heights); err != nil {
				if isRetryable(err) {
					return chunkOk, err
				}
				p.PaintBadBlock(x, y, z)
				continue
			}

			if !r.strata.IsEmpty() {
				chunkOk = r.paintStrata(p, x, ceiling, z, slopes) || chunkOk
				continue
			}
			switch {
			case r.surface == nil || r.nether:
				if r.strata.BlocksFound() {
					p.PaintBlackBlock(x, z)
				} else {
					p.PaintVoidBlock(x, z)
				}
			case ceiling > sliceMax:
				if ceiling-y < 16 && aboveCaves {
					p.PaintDimOverlay(x, z, r.dim)
				} else {
					p.PaintBlackBlock(x, z)
				}
			case aboveCaves:
				p.PaintDimOverlay(x, z, r.dim)
			}
			chunkOk = true
		}
	}
	return chunkOk, nil
}

// buildStrata pushes lit blocks that have air above them going down from
// the slice ceiling
func (r *Cave) buildStrata(chunk render.ChunkData, minY, x, topY, z int, heights *columnCache) error {
	var lava *render.BlockSample
	transparency := r.opts.MapTransparency
	y := r.sliceHeight(chunk, x, z, minY, topY, heights)
	for ; y > 0; y-- {
		b, err := chunk.BlockAt(x, y, z)
		if err != nil {
			return err
		}
		if b.IsAir {
			continue
		}
		r.strata.SetBlocksFound(true)
		above, err := chunk.BlockAt(x, y+1, z)
		if err != nil {
			return err
		}
		if b.IsLava && above.IsLava {
			lava = b
		}
		if !above.IsAir && !above.OpenToSky {
			break
		}
		if !chunk.HasNoSky() && chunk.CanSeeSky(x, y+1, z) {
			continue
		}
		light := r.lightLevel(chunk, x, y, z)
		if light > 0 {
			if _, err := r.strata.Push(chunk, b, x, y, z, &light); errors.Is(err, render.ErrChunkMissing) {
				return err
			}
			if b.Alpha == 1 || !transparency {
				break
			}
		} else if y < minY {
			break
		}
	}
	if chunk.HasNoSky() && r.strata.IsEmpty() && lava != nil {
		light := strata.LavaLightLevel
		if _, err := r.strata.Push(chunk, lava, x, topY, z, &light); errors.Is(err, render.ErrChunkMissing) {
			return err
		}
	}
	return nil
}

func (r *Cave) paintStrata(p *render.ChunkPainter, x, y, z int, slopes *[render.ChunkSide][render.ChunkSide]float32) bool {
	s := r.strata
	if s.IsEmpty() {
		p.PaintBadBlock(x, y, z)
		return false
	}
	var last *render.BlockSample
	for !s.IsEmpty() {
		st := s.NextUp(r, true)
		caveColor, _ := st.CaveColor()
		if current, ok := s.RenderCaveColor(); ok {
			s.SetRenderCaveColor(rgb.BlendWith(current, caveColor, st.Block().Alpha))
		} else {
			s.SetRenderCaveColor(caveColor)
		}
		last = st.Block()
		s.Release(st)
	}
	c, ok := s.RenderCaveColor()
	if !ok {
		p.PaintBadBlock(x, y, z)
		return false
	}
	if !last.NoShadow {
		if slope := slopes[x][z]; slope != 1 {
			c = rgb.BevelSlope(c, slope)
		}
	}
	p.PaintBlock(x, z, c)
	return true
}

func (r *Cave) sliceHeight(c render.ChunkData, x, z, sliceMin, sliceMax int, heights *columnCache) int {
	if y, ok := heights.get(c, x, z); ok {
		return y
	}
	var y int
	if r.nether {
		y = r.netherSliceHeight(c, x, z, sliceMin, sliceMax)
	} else {
		y = r.caveSliceHeight(c, x, z, sliceMin, sliceMax)
	}
	heights.set(c, x, z, y)
	return y
}

// blockPair returns block at y and the one above it, out of world blocks
// report as air
func (r *Cave) blockPair(c render.ChunkData, x, y, z int) (*render.BlockSample, *render.BlockSample, bool) {
	b, err := c.BlockAt(x, y, z)
	if err != nil {
		r.logger.Printf("Failed to get block for slice height at %d,%d,%d of %s: %v", x, y, z, c.Pos(), err)
		return nil, nil, false
	}
	above, err := c.BlockAt(x, y+1, z)
	if err != nil {
		r.logger.Printf("Failed to get block for slice height at %d,%d,%d of %s: %v", x, y+1, z, c.Pos(), err)
		return nil, nil, false
	}
	return b, above, true
}

func (r *Cave) caveSliceHeight(c render.ChunkData, x, z, sliceMin, sliceMax int) int {
	y := sliceMax - 1
	b, above, ok := r.blockPair(c, x, y, z)
	if !ok {
		return sliceMax
	}
	for y > 0 && y > sliceMin {
		if r.opts.MapBathymetry && b.IsWater {
			y--
			if b, above, ok = r.blockPair(c, x, y, z); !ok {
				break
			}
			continue
		}
		inAirPocket := b.IsAir
		if (above.IsAir || above.HasTransparency() || above.OpenToSky) && !b.IsAir {
			break
		}
		y--
		if b, above, ok = r.blockPair(c, x, y, z); !ok {
			break
		}
		if y < sliceMin && !inAirPocket {
			break
		}
	}
	return max(0, y)
}

func (r *Cave) lightLevel(c render.ChunkData, x, y, z int) int {
	if r.nether {
		if y+1 >= c.WorldHeight() {
			return 0
		}
		if actual := c.LightValueAt(x, y+1, z); actual > 0 {
			return actual
		}
		return 2
	}
	if r.opts.MapCaveLighting {
		return c.LightValueAt(x, y+1, z)
	}
	return 15
}
