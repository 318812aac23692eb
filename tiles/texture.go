package tiles

import (
	"errors"
	"image"
	"sync"
	"time"
)

var (
	ErrDisposed = errors.New("texture is disposed")
	ErrNoImage  = errors.New("texture has no image")
)

// Texture is an image that has to be bound before it can be drawn,
// binding happens on the drawing goroutine.
type Texture interface {
	Bind() error
	IsBound() bool
	IsBindNeeded() bool
	Dispose()
	Width() int
	Height() int
	LastImageUpdate() time.Time
	// Image is the latest image set, it may not be bound yet
	Image() *image.RGBA
	BoundImage() *image.RGBA
}

// ImageTexture binds by swapping in the latest image. Images given to
// it must not be modified afterwards.
type ImageTexture struct {
	lock       sync.RWMutex
	desc       string
	img        *image.RGBA
	bound      *image.RGBA
	lastUpdate time.Time
	bindNeeded bool
	disposed   bool
}

func NewImageTexture(desc string, img *image.RGBA, lastUpdate time.Time) *ImageTexture {
	return &ImageTexture{
		desc:       desc,
		img:        img,
		lastUpdate: lastUpdate,
		bindNeeded: img != nil,
	}
}

func (t *ImageTexture) SetImage(img *image.RGBA, lastUpdate time.Time) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.disposed {
		return
	}
	t.img = img
	t.lastUpdate = lastUpdate
	t.bindNeeded = img != nil
}

func (t *ImageTexture) Bind() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	if t.img == nil {
		return ErrNoImage
	}
	t.bound = t.img
	t.bindNeeded = false
	return nil
}

func (t *ImageTexture) IsBound() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.bound != nil && !t.disposed
}

func (t *ImageTexture) IsBindNeeded() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.bindNeeded && !t.disposed
}

func (t *ImageTexture) Dispose() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.disposed = true
	t.img = nil
	t.bound = nil
	t.bindNeeded = false
}

func (t *ImageTexture) IsDisposed() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.disposed
}

func (t *ImageTexture) size() image.Point {
	t.lock.RLock()
	defer t.lock.RUnlock()
	switch {
	case t.img != nil:
		return t.img.Rect.Size()
	case t.bound != nil:
		return t.bound.Rect.Size()
	}
	return image.Point{}
}

func (t *ImageTexture) Width() int {
	return t.size().X
}

func (t *ImageTexture) Height() int {
	return t.size().Y
}

func (t *ImageTexture) LastImageUpdate() time.Time {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.lastUpdate
}

func (t *ImageTexture) Image() *image.RGBA {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.img
}

func (t *ImageTexture) BoundImage() *image.RGBA {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.bound
}

func (t *ImageTexture) String() string {
	return t.desc
}
