package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/maxsupermanhd/livemap/render/rgb"
	"github.com/stretchr/testify/assert"
)

func TestPainterWritesAtOrigin(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	sub := img.SubImage(image.Rect(16, 32, 32, 48)).(*image.RGBA)
	p := NewChunkPainter(sub, nil)
	p.PaintBlock(0, 0, 0x102030)
	p.PaintBlock(15, 15, 0x102030)
	p.PaintVoidBlock(1, 0)
	p.PaintBlackBlock(2, 0)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(16, 32), "nothing is written before finish")

	p.FinishPainting()
	assert.True(t, p.Finished())
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xFF}, img.RGBAAt(16, 32))
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xFF}, img.RGBAAt(31, 47))
	assert.Equal(t, rgb.ToColor(ColorVoid), img.RGBAAt(17, 32))
	assert.Equal(t, color.RGBA{A: 0xFF}, img.RGBAAt(18, 32))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(19, 32))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
}

func TestPainterSingleUse(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	p := NewChunkPainter(img, nil)
	p.FinishPainting()
	p.PaintBlock(0, 0, 0xFFFFFF)
	p.FinishPainting()
	_, ok := p.Painted(0, 0)
	assert.False(t, ok)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
}

func TestPainterDimOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	p := NewChunkPainter(img, nil)
	p.PaintDimOverlay(0, 0, 0.5)
	_, ok := p.Painted(0, 0)
	assert.False(t, ok)

	p.PaintBlock(0, 0, 0x804020)
	p.PaintDimOverlay(0, 0, 0.5)
	c, ok := p.Painted(0, 0)
	assert.True(t, ok)
	assert.Equal(t, rgb.AdjustBrightness(0x804020, 0.5), c)
}

func TestBadBlocksCounted(t *testing.T) {
	p := NewChunkPainter(image.NewRGBA(image.Rect(0, 0, 16, 16)), nil)
	before := BadBlockCount()
	p.PaintBadBlock(1, 2, 3)
	p.PaintBadBlock(1, 3, 3)
	assert.Equal(t, before+2, BadBlockCount())
	_, ok := p.Painted(1, 3)
	assert.False(t, ok)
}
