package memoryChunkStorage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

// Generator fills in chunks that were never added, nil result means the
// chunk stays missing.
type Generator func(dim chunkStorage.SDim, pos primitives.ChunkPos, palette *Palette) *Chunk

type memDim struct {
	info   chunkStorage.SDim
	chunks map[primitives.ChunkPos]*Chunk
}

type memWorld struct {
	info chunkStorage.SWorld
	dims map[string]*memDim
}

type MemoryChunkStorage struct {
	lock      sync.RWMutex
	palette   *Palette
	worlds    map[string]*memWorld
	generator Generator
	closed    bool
}

func NewMemoryChunkStorage(palette *Palette) *MemoryChunkStorage {
	if palette == nil {
		palette = DefaultPalette()
	}
	return &MemoryChunkStorage{
		palette: palette,
		worlds:  map[string]*memWorld{},
	}
}

// SetGenerator enables lazy generation of missing chunks
func (s *MemoryChunkStorage) SetGenerator(g Generator) {
	s.lock.Lock()
	s.generator = g
	s.lock.Unlock()
}

func (s *MemoryChunkStorage) Palette() *Palette {
	return s.palette
}

func (s *MemoryChunkStorage) GetAbilities() chunkStorage.StorageAbilities {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return chunkStorage.StorageAbilities{
		CanCreateWorldsDimensions: true,
		CanAddChunks:              true,
		CanGenerateChunks:         s.generator != nil,
		CanSaveSnapshots:          true,
	}
}

func (s *MemoryChunkStorage) GetStatus() (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.closed {
		return "closed", nil
	}
	var chunks, size uint64
	for _, w := range s.worlds {
		for _, d := range w.dims {
			for _, c := range d.chunks {
				chunks++
				size += uint64(len(c.blocks)*2 + len(c.light))
			}
		}
	}
	return fmt.Sprintf("memory, %d worlds, %s chunks (%s)", len(s.worlds), humanize.Comma(int64(chunks)), humanize.Bytes(size)), nil
}

func (s *MemoryChunkStorage) GetChunksCount() (uint64, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	ret := uint64(0)
	for _, w := range s.worlds {
		for _, d := range w.dims {
			ret += uint64(len(d.chunks))
		}
	}
	return ret, nil
}

func (s *MemoryChunkStorage) ListWorlds() ([]chunkStorage.SWorld, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	ret := make([]chunkStorage.SWorld, 0, len(s.worlds))
	for _, w := range s.worlds {
		ret = append(ret, w.info)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

func (s *MemoryChunkStorage) ListWorldNames() ([]string, error) {
	w, err := s.ListWorlds()
	if err != nil {
		return nil, err
	}
	ret := make([]string, len(w))
	for i := range w {
		ret[i] = w[i].Name
	}
	return ret, nil
}

func (s *MemoryChunkStorage) GetWorld(wname string) (*chunkStorage.SWorld, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	w, ok := s.worlds[wname]
	if !ok {
		return nil, nil
	}
	ret := w.info
	return &ret, nil
}

func (s *MemoryChunkStorage) AddWorld(world chunkStorage.SWorld) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.worlds[world.Name]; ok {
		return fmt.Errorf("%w: world %s", chunkStorage.ErrAlreadyExists, world.Name)
	}
	now := time.Now()
	if world.CreatedAt.IsZero() {
		world.CreatedAt = now
	}
	world.ModifiedAt = now
	s.worlds[world.Name] = &memWorld{info: world, dims: map[string]*memDim{}}
	return nil
}

func (s *MemoryChunkStorage) modifyWorld(wname string, f func(w *chunkStorage.SWorld)) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	w, ok := s.worlds[wname]
	if !ok {
		return fmt.Errorf("%w: %s", chunkStorage.ErrNoWorld, wname)
	}
	f(&w.info)
	return nil
}

func (s *MemoryChunkStorage) SetWorldAlias(wname, newalias string) error {
	return s.modifyWorld(wname, func(w *chunkStorage.SWorld) {
		w.Alias = newalias
		w.ModifiedAt = time.Now()
	})
}

func (s *MemoryChunkStorage) SetWorldTime(wname string, ticks int64) error {
	return s.modifyWorld(wname, func(w *chunkStorage.SWorld) {
		w.Time = ticks
	})
}

func (s *MemoryChunkStorage) ListWorldDimensions(wname string) ([]chunkStorage.SDim, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	w, ok := s.worlds[wname]
	if !ok {
		return []chunkStorage.SDim{}, nil
	}
	ret := make([]chunkStorage.SDim, 0, len(w.dims))
	for _, d := range w.dims {
		ret = append(ret, d.info)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

func (s *MemoryChunkStorage) AddDimension(wname string, dim chunkStorage.SDim) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	w, ok := s.worlds[wname]
	if !ok {
		return fmt.Errorf("%w: %s", chunkStorage.ErrNoWorld, wname)
	}
	if _, ok := w.dims[dim.Name]; ok {
		return fmt.Errorf("%w: dimension %s/%s", chunkStorage.ErrAlreadyExists, wname, dim.Name)
	}
	dim.World = wname
	if dim.Height <= 0 {
		dim.Height = 256
	}
	now := time.Now()
	if dim.CreatedAt.IsZero() {
		dim.CreatedAt = now
	}
	dim.ModifiedAt = now
	w.dims[dim.Name] = &memDim{info: dim, chunks: map[primitives.ChunkPos]*Chunk{}}
	return nil
}

func (s *MemoryChunkStorage) GetDimension(wname, dname string) (*chunkStorage.SDim, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	w, ok := s.worlds[wname]
	if !ok {
		return nil, nil
	}
	d, ok := w.dims[dname]
	if !ok {
		return nil, nil
	}
	ret := d.info
	return &ret, nil
}

func (s *MemoryChunkStorage) GetDimensionChunksCount(wname, dname string) (uint64, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	d, err := s.dim(wname, dname)
	if err != nil {
		return 0, err
	}
	return uint64(len(d.chunks)), nil
}

// dim must be called with lock held
func (s *MemoryChunkStorage) dim(wname, dname string) (*memDim, error) {
	w, ok := s.worlds[wname]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chunkStorage.ErrNoWorld, wname)
	}
	d, ok := w.dims[dname]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", chunkStorage.ErrNoDim, wname, dname)
	}
	return d, nil
}

func (s *MemoryChunkStorage) AddChunk(wname, dname string, col render.ChunkData) error {
	c, err := Copy(col, s.palette)
	if err != nil {
		return err
	}
	return s.PutChunk(wname, dname, c)
}

// PutChunk stores chunk as-is, it must not be modified afterwards
func (s *MemoryChunkStorage) PutChunk(wname, dname string, c *Chunk) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return chunkStorage.ErrReadOnly
	}
	d, err := s.dim(wname, dname)
	if err != nil {
		return err
	}
	c.dimension = d.info.ID
	c.hasNoSky = d.info.HasNoSky
	d.chunks[c.pos] = c
	d.info.ModifiedAt = time.Now()
	return nil
}

func (s *MemoryChunkStorage) GetChunk(wname, dname string, cx, cz int) (render.ChunkData, error) {
	pos := primitives.ChunkPos{X: cx, Z: cz}
	s.lock.RLock()
	d, err := s.dim(wname, dname)
	if err != nil {
		s.lock.RUnlock()
		return nil, err
	}
	c, ok := d.chunks[pos]
	gen := s.generator
	info := d.info
	s.lock.RUnlock()
	if ok {
		return c, nil
	}
	if gen == nil {
		return nil, nil
	}
	c = gen(info, pos, s.palette)
	if c == nil {
		return nil, nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if prev, ok := d.chunks[pos]; ok {
		return prev, nil
	}
	d.chunks[pos] = c
	return c, nil
}

func (s *MemoryChunkStorage) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}

// NewWorld creates a storage holding one world with given dimensions
func NewWorld(palette *Palette, wname string, dims ...chunkStorage.SDim) (*MemoryChunkStorage, error) {
	s := NewMemoryChunkStorage(palette)
	if err := s.AddWorld(chunkStorage.SWorld{Name: wname}); err != nil {
		return nil, err
	}
	for _, d := range dims {
		if err := s.AddDimension(wname, d); err != nil {
			return nil, err
		}
	}
	return s, nil
}
