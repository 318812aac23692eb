package renderers

import (
	"errors"
	"log"

	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/rgb"
	"github.com/maxsupermanhd/livemap/render/strata"
)

// cached chunks per column cache before it is dropped
const columnCacheLimit = 4096

// Surface renders day and night top-down layers
type Surface struct {
	base
	strata         *strata.Strata
	heights        *columnCache
	waterHeights   *columnCache
	lastBathymetry bool
	maxDepth       int
	dayOnly        bool
}

func NewSurface(settings *render.SettingsStore, world render.World, logger *log.Logger) *Surface {
	return newSurface("Surface", settings, world, logger)
}

func newSurface(name string, settings *render.SettingsStore, world render.World, logger *log.Logger) *Surface {
	r := &Surface{
		base:         newBase(name, settings, world, logger),
		heights:      newColumnCache(columnCacheLimit),
		waterHeights: newColumnCache(columnCacheLimit),
		maxDepth:     8,
	}
	r.strata = strata.New(name, 40, 8, false, settings, r.logger)
	r.lastBathymetry = r.opts.MapBathymetry
	return r
}

// Render paints day layer only
func (r *Surface) Render(p *render.ChunkPainter, chunk render.ChunkData, vSlice int) (bool, error) {
	return r.render(p, nil, chunk, render.SurfaceSlice, false)
}

// RenderDayNight paints both surface layers in one pass, night may be nil
func (r *Surface) RenderDayNight(day, night *render.ChunkPainter, chunk render.ChunkData) (bool, error) {
	if r.dayOnly {
		night = nil
	}
	return r.render(day, night, chunk, render.SurfaceSlice, false)
}

func (r *Surface) render(day, night *render.ChunkPainter, chunk render.ChunkData, vSlice int, cavePrePass bool) (bool, error) {
	r.updateOptions()
	if r.opts.MapBathymetry != r.lastBathymetry {
		r.heights.invalidateAll()
		r.waterHeights.invalidateAll()
		r.lastBathymetry = r.opts.MapBathymetry
	}
	r.strata.Reset()
	defer r.strata.Reset()
	slopes := r.populateSlopes(chunk, r.surfaceHeight)
	return r.renderSurface(day, night, chunk, vSlice, cavePrePass, slopes)
}

// surfaceHeight walks down from precipitation height to the first block
// that should be shown on the map
func (r *Surface) surfaceHeight(c render.ChunkData, x, z int) int {
	if y, ok := r.heights.get(c, x, z); ok {
		return y
	}
	y := max(0, c.PrecipitationHeight(x, z))
	waterUnset := true
	for y > 0 {
		b, err := c.BlockAt(x, y, z)
		if err != nil {
			r.logger.Printf("Couldn't get safe surface block height at %d,%d of %s: %v", x, z, c.Pos(), err)
			break
		}
		if b.IsWater {
			if !r.opts.MapBathymetry {
				break
			}
			if waterUnset {
				r.waterHeights.set(c, x, z, y)
				waterUnset = false
			}
		} else if !b.IsAir {
			if !b.IsLava && b.NoShadow {
				y--
			}
			break
		}
		y--
	}
	y = max(0, y)
	r.heights.set(c, x, z, y)
	return y
}

func isRetryable(err error) bool {
	return errors.Is(err, render.ErrChunkMissing) || errors.Is(err, render.ErrOutOfBounds)
}

func paintBad(day, night *render.ChunkPainter, x, y, z int) {
	day.PaintBadBlock(x, y, z)
	if night != nil {
		night.PaintBadBlock(x, y, z)
	}
}

func (r *Surface) renderSurface(day, night *render.ChunkPainter, chunk render.ChunkData, vSlice int, cavePrePass bool, slopes *[render.ChunkSide][render.ChunkSide]float32) (bool, error) {
	chunkOk := false
	sliceMax := 0
	if cavePrePass {
		_, sliceMax = vSliceBounds(chunk, vSlice)
	}
	for x := 0; x < render.ChunkSide; x++ {
		for z := 0; z < render.ChunkSide; z++ {
			r.strata.Reset()
			standardY := max(0, r.surfaceHeight(chunk, x, z))

			// left for cave renderer
			if cavePrePass && standardY > sliceMax && standardY-sliceMax > r.maxDepth {
				chunkOk = true
				day.PaintBlackBlock(x, z)
				continue
			}

			roofY := max(0, chunk.PrecipitationHeight(x, z))
			y := standardY
			for checkY := roofY; checkY > standardY; checkY-- {
				b, err := chunk.BlockAt(x, checkY, z)
				if err != nil {
					return chunkOk, err
				}
				if b.TransparentRoof {
					y = max(standardY, checkY)
					break
				}
			}

			if roofY == 0 || standardY == 0 {
				day.PaintVoidBlock(x, z)
				if !cavePrePass && night != nil {
					night.PaintVoidBlock(x, z)
				}
				chunkOk = true
				continue
			}

			if r.opts.MapBathymetry {
				if wy, ok := r.waterHeights.get(chunk, x, z); ok {
					standardY = wy
				}
			}

			top, err := chunk.BlockAt(x, standardY, z)
			if err != nil {
				return chunkOk, err
			}
			if top == nil {
				paintBad(day, night, x, standardY, z)
				continue
			}

			if err := r.buildStrata(chunk, roofY, x, standardY, z); err != nil {
				if isRetryable(err) {
					return chunkOk, err
				}
				paintBad(day, night, x, standardY, z)
				continue
			}
			chunkOk = r.paintStrata(day, night, chunk, top, slopes, x, y, z, cavePrePass) || chunkOk
		}
	}
	return chunkOk, nil
}

// buildStrata stacks transparent roof blocks and then blocks from y down
// until an opaque one
func (r *Surface) buildStrata(chunk render.ChunkData, roofY, x, y, z int) error {
	transparency := r.opts.MapTransparency
	for ; roofY > y; roofY-- {
		b, err := chunk.BlockAt(x, roofY, z)
		if err != nil {
			return err
		}
		if b.IsAir || !b.TransparentRoof {
			continue
		}
		if _, err := r.strata.Push(chunk, b, x, roofY, z, nil); errors.Is(err, render.ErrChunkMissing) {
			return err
		}
		if !transparency {
			break
		}
	}
	if !transparency && !r.strata.IsEmpty() {
		return nil
	}
	for ; y >= 0; y-- {
		b, err := chunk.BlockAt(x, y, z)
		if err != nil {
			return err
		}
		if b.IsAir {
			continue
		}
		if _, err := r.strata.Push(chunk, b, x, y, z, nil); errors.Is(err, render.ErrChunkMissing) {
			return err
		}
		if b.Alpha == 1 || !transparency {
			break
		}
	}
	return nil
}

func (r *Surface) paintStrata(day, night *render.ChunkPainter, chunk render.ChunkData, top *render.BlockSample, slopes *[render.ChunkSide][render.ChunkSide]float32, x, y, z int, cavePrePass bool) bool {
	s := r.strata
	if s.IsEmpty() {
		paintBad(day, night, x, y, z)
		return false
	}
	for !s.IsEmpty() {
		st := s.NextUp(r, true)
		dayColor, _ := st.DayColor()
		nightColor, _ := st.NightColor()
		renderDay, dayOk := s.RenderDayColor()
		renderNight, nightOk := s.RenderNightColor()
		if !dayOk || (!cavePrePass && !nightOk) {
			s.SetRenderDayColor(dayColor)
			if !cavePrePass {
				s.SetRenderNightColor(nightColor)
			}
		} else {
			alpha := st.Block().Alpha
			s.SetRenderDayColor(rgb.BlendWith(renderDay, dayColor, alpha))
			if !cavePrePass {
				s.SetRenderNightColor(rgb.BlendWith(renderNight, nightColor, alpha))
			}
		}
		s.Release(st)
	}

	renderDay, dayOk := s.RenderDayColor()
	if !dayOk {
		paintBad(day, night, x, y, z)
		return false
	}
	renderNight, nightOk := s.RenderNightColor()
	if night != nil && !nightOk {
		night.PaintBadBlock(x, y, z)
		return false
	}

	if (top.IsWater && r.opts.MapBathymetry) || !top.NoShadow {
		slope := slopes[x][z]
		if slope != 1 {
			renderDay = rgb.BevelSlope(renderDay, slope)
			if !cavePrePass {
				renderNight = rgb.BevelSlope(renderNight, slope)
			}
		}
	}

	if chunk.HasNoSky() && nightOk {
		day.PaintBlock(x, z, renderNight)
	} else {
		day.PaintBlock(x, z, renderDay)
		if night != nil {
			night.PaintBlock(x, z, renderNight)
		}
	}
	return true
}

// InvalidateChunk drops cached heights of the chunk
func (r *Surface) InvalidateChunk(c render.ChunkData) {
	r.heights.invalidate(c)
	r.waterHeights.invalidate(c)
}
