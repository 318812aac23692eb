package render

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"log"
	"sync/atomic"

	"github.com/maxsupermanhd/livemap/metrics"
	"github.com/maxsupermanhd/livemap/render/rgb"
)

const ChunkSide = 16

var (
	ColorVoid  = rgb.ToInteger(17, 12, 25)
	ColorBlack = rgb.BlackARGB
)

// BadBlockLogInterval controls how often bad blocks get logged after the first one
var BadBlockLogInterval = int64(10240)

var badBlockCount atomic.Int64

func BadBlockCount() int64 {
	return badBlockCount.Load()
}

// ChunkPainter collects colors of a chunk and writes them in one go,
// it is single-use: FinishPainting releases it.
type ChunkPainter struct {
	dst    draw.Image
	origin image.Point
	colors *[ChunkSide][ChunkSide]uint32
	set    *[ChunkSide][ChunkSide]bool
	logger *log.Logger
}

// NewChunkPainter paints into 16x16 area of dst starting at its bounds minimum
func NewChunkPainter(dst draw.Image, logger *log.Logger) *ChunkPainter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ChunkPainter{
		dst:    dst,
		origin: dst.Bounds().Min,
		colors: &[ChunkSide][ChunkSide]uint32{},
		set:    &[ChunkSide][ChunkSide]bool{},
		logger: logger,
	}
}

func (p *ChunkPainter) PaintBlock(x, z int, c uint32) {
	if p.colors == nil {
		return
	}
	p.colors[x][z] = c
	p.set[x][z] = true
}

func (p *ChunkPainter) PaintVoidBlock(x, z int) {
	p.PaintBlock(x, z, ColorVoid)
}

func (p *ChunkPainter) PaintBlackBlock(x, z int) {
	p.PaintBlock(x, z, ColorBlack)
}

// PaintDimOverlay darkens already painted color, nothing happens if cell is empty
func (p *ChunkPainter) PaintDimOverlay(x, z int, alpha float32) {
	if p.colors == nil || !p.set[x][z] {
		return
	}
	p.PaintBlock(x, z, rgb.AdjustBrightness(p.colors[x][z], alpha))
}

// PaintBadBlock counts a block that could not be painted
func (p *ChunkPainter) PaintBadBlock(x, y, z int) {
	count := badBlockCount.Add(1)
	metrics.BadBlocks.Inc()
	if count == 1 || (BadBlockLogInterval > 0 && count%BadBlockLogInterval == 0) {
		p.logger.Printf("Bad block at %d,%d,%d. Total bad blocks: %d", x, y, z, count)
	}
}

// Painted reports the color set at the cell
func (p *ChunkPainter) Painted(x, z int) (uint32, bool) {
	if p.colors == nil || !p.set[x][z] {
		return 0, false
	}
	return p.colors[x][z], true
}

func (p *ChunkPainter) Finished() bool {
	return p.colors == nil
}

// FinishPainting writes collected colors, painter can not be used afterwards
func (p *ChunkPainter) FinishPainting() {
	if p.colors == nil {
		return
	}
	defer func() {
		p.dst = nil
		p.colors = nil
		p.set = nil
	}()
	var (
		last   uint32
		active color.RGBA
		have   bool
	)
	for z := 0; z < ChunkSide; z++ {
		for x := 0; x < ChunkSide; x++ {
			if !p.set[x][z] {
				continue
			}
			c := p.colors[x][z]
			if !have || c != last {
				last = c
				active = rgb.ToColor(c)
				have = true
			}
			p.dst.Set(p.origin.X+x, p.origin.Y+z, active)
		}
	}
}
