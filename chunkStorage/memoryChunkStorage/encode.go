package memoryChunkStorage

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
)

type chunkBlob struct {
	Palette []string
	Chunk   snapshotChunk
}

var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	blobDecoder, _ = zstd.NewReader(nil)
)

// MarshalChunk encodes one chunk with the block names it references so it
// can be decoded against any palette
func MarshalChunk(c *Chunk) ([]byte, error) {
	local := map[uint16]uint16{}
	blob := chunkBlob{Chunk: snapshotChunk{
		X:      c.pos.X,
		Z:      c.pos.Z,
		Height: c.height,
		Blocks: make([]uint16, len(c.blocks)),
		Light:  c.light,
	}}
	for i, b := range c.blocks {
		l, ok := local[b]
		if !ok {
			l = uint16(len(blob.Palette))
			local[b] = l
			blob.Palette = append(blob.Palette, c.palette.Sample(b).Name)
		}
		blob.Chunk.Blocks[i] = l
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&blob); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return blobEncoder.EncodeAll(buf.Bytes(), nil), nil
}

// UnmarshalChunk decodes chunk made by MarshalChunk, unknown blocks become air
func UnmarshalChunk(b []byte, dim chunkStorage.SDim, palette *Palette) (*Chunk, error) {
	if palette == nil {
		palette = DefaultPalette()
	}
	raw, err := blobDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	var blob chunkBlob
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&blob); err != nil {
		return nil, fmt.Errorf("%w: gob decode: %w", ErrBadSnapshot, err)
	}
	sc := blob.Chunk
	c := NewChunk(primitives.ChunkPos{X: sc.X, Z: sc.Z}, dim.ID, sc.Height, dim.HasNoSky, palette)
	if len(sc.Blocks) != len(c.blocks) || len(sc.Light) != len(c.light) {
		return nil, fmt.Errorf("%w: chunk %d %d has wrong size", ErrBadSnapshot, sc.X, sc.Z)
	}
	remap := make([]uint16, len(blob.Palette))
	for i, n := range blob.Palette {
		if idx, err := palette.Index(n); err == nil {
			remap[i] = idx
		}
	}
	for i, l := range sc.Blocks {
		if int(l) >= len(remap) {
			return nil, fmt.Errorf("%w: block index %d out of palette", ErrBadSnapshot, l)
		}
		c.blocks[i] = remap[l]
	}
	copy(c.light, sc.Light)
	for z := 0; z < chunkSide; z++ {
		for x := 0; x < chunkSide; x++ {
			c.updateHeight(x, z)
		}
	}
	return c, nil
}
