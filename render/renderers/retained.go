package renderers

import (
	"sync"
	"sync/atomic"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

// retainedChunks holds chunks a task keeps alive for neighbor lookups
// across region edges
type retainedChunks struct {
	lock   sync.RWMutex
	chunks map[primitives.ChunkPos]render.ChunkData
	hits   atomic.Int64
}

func (r *retainedChunks) add(chunks []render.ChunkData) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.chunks == nil {
		r.chunks = map[primitives.ChunkPos]render.ChunkData{}
	}
	for _, c := range chunks {
		if c != nil {
			r.chunks[c.Pos()] = c
		}
	}
}

func (r *retainedChunks) get(pos primitives.ChunkPos) (render.ChunkData, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	c, ok := r.chunks[pos]
	if ok {
		r.hits.Add(1)
	}
	return c, ok
}

func (r *retainedChunks) clear() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.chunks = nil
}

func (r *retainedChunks) len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.chunks)
}

// neighborWorld serves neighbor chunks from the retained set first
type neighborWorld struct {
	render.World
	retained *retainedChunks
}

func (w *neighborWorld) Chunk(pos primitives.ChunkPos) (render.ChunkData, error) {
	if c, ok := w.retained.get(pos); ok {
		return c, nil
	}
	if w.World == nil {
		return nil, render.ErrNoWorld
	}
	return w.World.Chunk(pos)
}
