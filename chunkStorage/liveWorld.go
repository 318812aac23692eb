package chunkStorage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

// LiveWorld is a dimension of a stored world with a viewer in it,
// this is what gets mapped.
type LiveWorld struct {
	storage ChunkStorage
	world   string
	dim     SDim

	viewerMu       sync.Mutex
	vx, vy, vz     int
	renderDistance atomic.Int64
	time           atomic.Int64
}

func NewLiveWorld(s ChunkStorage, wname, dname string) (*LiveWorld, error) {
	if s == nil {
		return nil, render.ErrNoWorld
	}
	w, err := s.GetWorld(wname)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoWorld, wname)
	}
	d, err := s.GetDimension(wname, dname)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoDim, wname, dname)
	}
	ret := &LiveWorld{
		storage: s,
		world:   wname,
		dim:     *d,
	}
	ret.time.Store(w.Time)
	ret.renderDistance.Store(8)
	return ret, nil
}

func (w *LiveWorld) Name() string {
	return w.world
}

func (w *LiveWorld) DimensionName() string {
	return w.dim.Name
}

func (w *LiveWorld) Dimension() int {
	return w.dim.ID
}

func (w *LiveWorld) HasChunk(c primitives.ChunkPos) bool {
	ch, err := w.storage.GetChunk(w.world, w.dim.Name, c.X, c.Z)
	return err == nil && ch != nil
}

func (w *LiveWorld) Chunk(c primitives.ChunkPos) (render.ChunkData, error) {
	ch, err := w.storage.GetChunk(w.world, w.dim.Name, c.X, c.Z)
	if err != nil {
		if errors.Is(err, ErrNoWorld) || errors.Is(err, ErrNoDim) {
			return nil, fmt.Errorf("%w: %w", render.ErrNoWorld, err)
		}
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: %s", render.ErrChunkMissing, c)
	}
	return ch, nil
}

func (w *LiveWorld) SetViewer(x, y, z int) {
	w.viewerMu.Lock()
	w.vx, w.vy, w.vz = x, y, z
	w.viewerMu.Unlock()
}

func (w *LiveWorld) ViewerBlockPos() (x, y, z int) {
	w.viewerMu.Lock()
	defer w.viewerMu.Unlock()
	return w.vx, w.vy, w.vz
}

func (w *LiveWorld) SetGameRenderDistance(chunks int) {
	w.renderDistance.Store(int64(chunks))
}

func (w *LiveWorld) GameRenderDistance() int {
	return int(w.renderDistance.Load())
}

// Tick advances world time, storage is updated as well
func (w *LiveWorld) Tick(ticks int64) int64 {
	t := w.time.Add(ticks)
	_ = w.storage.SetWorldTime(w.world, t)
	return t
}

func (w *LiveWorld) SetWorldTime(t int64) {
	w.time.Store(t)
	_ = w.storage.SetWorldTime(w.world, t)
}

func (w *LiveWorld) WorldTime() int64 {
	return w.time.Load()
}
