package memoryChunkStorage

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
)

const snapshotHeader = "livemap-memory-snapshot v1"

var ErrBadSnapshot = errors.New("bad snapshot")

type snapshotChunk struct {
	X, Z   int
	Height int
	Blocks []uint16
	Light  []uint8
}

type snapshotDim struct {
	Info   chunkStorage.SDim
	Chunks []snapshotChunk
}

type snapshotWorld struct {
	Info chunkStorage.SWorld
	Dims []snapshotDim
}

type snapshotV1 struct {
	// Palette holds block names, chunk blocks index into it
	Palette []string
	Worlds  []snapshotWorld
}

// WriteSnapshot dumps all worlds as zstd compressed gob
func (s *MemoryChunkStorage) WriteSnapshot(w io.Writer) error {
	snap := s.snapshot()
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if _, err := bw.WriteString(snapshotHeader + "\n"); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func (s *MemoryChunkStorage) SaveSnapshot(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := s.WriteSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *MemoryChunkStorage) snapshot() snapshotV1 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	ret := snapshotV1{Palette: s.palette.Names()}
	for _, w := range s.worlds {
		sw := snapshotWorld{Info: w.info}
		for _, d := range w.dims {
			sd := snapshotDim{Info: d.info}
			for _, c := range d.chunks {
				sd.Chunks = append(sd.Chunks, snapshotChunk{
					X:      c.pos.X,
					Z:      c.pos.Z,
					Height: c.height,
					Blocks: c.blocks,
					Light:  c.light,
				})
			}
			sw.Dims = append(sw.Dims, sd)
		}
		ret.Worlds = append(ret.Worlds, sw)
	}
	return ret
}

// ReadSnapshot loads worlds into the storage, blocks unknown to the
// storage palette become air. Existing worlds are replaced.
func (s *MemoryChunkStorage) ReadSnapshot(r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 256*1024)
	header, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: reading header: %w", ErrBadSnapshot, err)
	}
	if strings.TrimSpace(header) != snapshotHeader {
		return fmt.Errorf("%w: unexpected header %q", ErrBadSnapshot, header)
	}
	var snap snapshotV1
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	remap := make([]uint16, len(snap.Palette))
	for i, n := range snap.Palette {
		if idx, err := s.palette.Index(n); err == nil {
			remap[i] = idx
		}
	}
	worlds := map[string]*memWorld{}
	for _, sw := range snap.Worlds {
		w := &memWorld{info: sw.Info, dims: map[string]*memDim{}}
		for _, sd := range sw.Dims {
			d := &memDim{info: sd.Info, chunks: map[primitives.ChunkPos]*Chunk{}}
			for _, sc := range sd.Chunks {
				c := NewChunk(primitives.ChunkPos{X: sc.X, Z: sc.Z}, sd.Info.ID, sc.Height, sd.Info.HasNoSky, s.palette)
				if len(sc.Blocks) != len(c.blocks) || len(sc.Light) != len(c.light) {
					return fmt.Errorf("%w: chunk %d %d of %s/%s has wrong size", ErrBadSnapshot, sc.X, sc.Z, sw.Info.Name, sd.Info.Name)
				}
				for i, b := range sc.Blocks {
					if int(b) >= len(remap) {
						return fmt.Errorf("%w: block index %d out of palette", ErrBadSnapshot, b)
					}
					c.blocks[i] = remap[b]
				}
				copy(c.light, sc.Light)
				for z := 0; z < chunkSide; z++ {
					for x := 0; x < chunkSide; x++ {
						c.updateHeight(x, z)
					}
				}
				d.chunks[c.pos] = c
			}
			w.dims[sd.Info.Name] = d
		}
		worlds[sw.Info.Name] = w
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	for k, v := range worlds {
		s.worlds[k] = v
	}
	return nil
}

func (s *MemoryChunkStorage) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.ReadSnapshot(f)
}
