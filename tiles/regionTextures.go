package tiles

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/maxsupermanhd/livemap/primitives"
)

// ImageStore is the source of region images, normally the image cache
type ImageStore interface {
	GetImage(loc primitives.ImageLocation) (*image.RGBA, time.Time, error)
	LastUpdate(loc primitives.ImageLocation) time.Time
}

// DefaultPollInterval limits how often a region texture asks the store
// for newer images
const DefaultPollInterval = time.Second

type regionTexture struct {
	tex    *ImageTexture
	polled time.Time
}

type regionItem = ttlcache.Item[primitives.ImageLocation, *regionTexture]

// RegionTextures shares one texture per region image between draw steps.
// Textures not looked up for idle are disposed on Prune.
type RegionTextures struct {
	store ImageStore
	poll  time.Duration
	now   func() time.Time

	// lock guards polled timestamps and merges of concurrent loads
	lock sync.Mutex
	m    *ttlcache.Cache[primitives.ImageLocation, *regionTexture]
}

func NewRegionTextures(store ImageStore, idle time.Duration) *RegionTextures {
	if idle <= 0 {
		idle = DefaultDrawStepIdle
	}
	r := &RegionTextures{
		store: store,
		poll:  DefaultPollInterval,
		now:   time.Now,
		m: ttlcache.New[primitives.ImageLocation, *regionTexture](
			ttlcache.WithTTL[primitives.ImageLocation, *regionTexture](idle),
		),
	}
	r.m.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *regionItem) {
		item.Value().tex.Dispose()
	})
	return r
}

// get touches the entry, expired entries are evicted so their texture
// gets disposed before a new one takes the slot
func (r *RegionTextures) get(loc primitives.ImageLocation) *regionTexture {
	if item := r.m.Get(loc); item != nil {
		return item.Value()
	}
	r.m.Delete(loc)
	return nil
}

// Peek returns loaded texture without touching the store
func (r *RegionTextures) Peek(loc primitives.ImageLocation) (*ImageTexture, bool) {
	rt := r.get(loc)
	if rt == nil {
		return nil, false
	}
	return rt.tex, true
}

// Lookup returns loaded texture and whether store holds a newer image
func (r *RegionTextures) Lookup(loc primitives.ImageLocation) (*ImageTexture, bool) {
	rt := r.get(loc)
	if rt == nil {
		return nil, false
	}
	now := r.now()
	r.lock.Lock()
	if now.Sub(rt.polled) < r.poll {
		r.lock.Unlock()
		return rt.tex, false
	}
	rt.polled = now
	r.lock.Unlock()
	return rt.tex, r.store.LastUpdate(loc).After(rt.tex.LastImageUpdate())
}

// Load fetches region image from the store into the shared texture
func (r *RegionTextures) Load(ctx context.Context, loc primitives.ImageLocation) (*ImageTexture, error) {
	img, t, err := r.store.GetImage(loc)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		img = image.NewRGBA(image.Rect(0, 0, primitives.RegionPixels, primitives.RegionPixels))
	}
	now := r.now()
	r.lock.Lock()
	defer r.lock.Unlock()
	rt := r.get(loc)
	if rt == nil || rt.tex.IsDisposed() {
		rt = &regionTexture{tex: NewImageTexture(loc.String(), img, t)}
		r.m.Set(loc, rt, ttlcache.DefaultTTL)
	} else if rt.tex.Image() == nil || t.After(rt.tex.LastImageUpdate()) {
		rt.tex.SetImage(img, t)
	}
	rt.polled = now
	return rt.tex, nil
}

// Prune disposes textures that were idle for longer than the cache ttl
func (r *RegionTextures) Prune() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	before := r.m.Len()
	r.m.DeleteExpired()
	return before - r.m.Len()
}

func (r *RegionTextures) Clear() {
	r.m.DeleteAll()
}

func (r *RegionTextures) Len() int {
	return r.m.Len()
}
