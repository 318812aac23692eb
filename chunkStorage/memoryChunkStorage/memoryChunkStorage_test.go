package memoryChunkStorage

import (
	"bytes"
	"errors"
	"testing"

	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T) *MemoryChunkStorage {
	s, err := NewWorld(nil, "test", chunkStorage.GuessDimFromName("test", "overworld"))
	require.NoError(t, err)
	return s
}

func TestPaletteDefault(t *testing.T) {
	p := DefaultPalette()
	assert.True(t, p.Air().IsAir)
	i, err := p.Index("water")
	require.NoError(t, err)
	w := p.Sample(i)
	assert.True(t, w.IsWater)
	assert.True(t, w.HasTransparency())
	assert.Equal(t, uint32(0x3f76e4), w.Color&0xffffff)
	_, err = p.Index("unobtainium")
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestPaletteAddsAir(t *testing.T) {
	p, err := ParsePalette([]byte("- name: stone\n  color: '#747474'\n  alpha: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "air", p.Air().Name)
	_, err = ParsePalette([]byte("- name: stone\n  color: 'zz'\n"))
	assert.Error(t, err)
}

func TestChunkColumn(t *testing.T) {
	c := NewChunk(primitives.ChunkPos{X: 1, Z: 2}, 0, 16, false, nil)
	require.NoError(t, c.FillColumn(3, 4, 0, "stone", "stone", "grass_block"))
	assert.Equal(t, 3, c.PrecipitationHeight(3, 4))
	assert.Equal(t, 0, c.PrecipitationHeight(0, 0))
	c.RecalculateLight()
	assert.Equal(t, 15, c.LightValueAt(3, 3, 4))
	assert.Equal(t, 0, c.LightValueAt(3, 1, 4))
	assert.Equal(t, 15, c.LightValueAt(3, 100, 4))
	assert.True(t, c.CanSeeSky(3, 3, 4))
	assert.False(t, c.CanSeeSky(3, 2, 4))

	b, err := c.BlockAt(3, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "grass_block", b.Name)
	b, err = c.BlockAt(3, -5, 4)
	require.NoError(t, err)
	assert.True(t, b.IsAir)
	_, err = c.BlockAt(16, 0, 0)
	assert.ErrorIs(t, err, render.ErrOutOfBounds)

	require.NoError(t, c.SetBlock(3, 2, 4, "air"))
	assert.Equal(t, 2, c.PrecipitationHeight(3, 4))
}

func TestChunkEmission(t *testing.T) {
	c := NewChunk(primitives.ChunkPos{}, -1, 8, true, nil)
	require.NoError(t, c.FillColumn(0, 0, 0, "netherrack", "lava"))
	c.RecalculateLight()
	assert.Equal(t, 15, c.LightValueAt(0, 1, 0))
	assert.Equal(t, 14, c.LightValueAt(0, 2, 0))
	assert.Equal(t, 0, c.LightValueAt(0, 100, 0))
	assert.False(t, c.CanSeeSky(0, 7, 0))
}

func TestStorageWorlds(t *testing.T) {
	s := testStorage(t)
	assert.ErrorIs(t, s.AddWorld(chunkStorage.SWorld{Name: "test"}), chunkStorage.ErrAlreadyExists)
	names, err := s.ListWorldNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, names)
	w, err := s.GetWorld("nope")
	require.NoError(t, err)
	assert.Nil(t, w)
	require.NoError(t, s.SetWorldTime("test", 14000))
	w, err = s.GetWorld("test")
	require.NoError(t, err)
	assert.Equal(t, int64(14000), w.Time)

	_, err = s.GetChunk("test", "nope", 0, 0)
	assert.ErrorIs(t, err, chunkStorage.ErrNoDim)
	ch, err := s.GetChunk("test", "overworld", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestStorageGenerator(t *testing.T) {
	s := testStorage(t)
	s.SetGenerator(SimpleGenerator(1))
	ch, err := s.GetChunk("test", "overworld", 2, -3)
	require.NoError(t, err)
	require.NotNil(t, ch)
	again, err := s.GetChunk("test", "overworld", 2, -3)
	require.NoError(t, err)
	assert.Same(t, ch.(*Chunk), again.(*Chunk))
	assert.Equal(t, primitives.ChunkPos{X: 2, Z: -3}, ch.Pos())
	h := ch.PrecipitationHeight(5, 5)
	assert.Greater(t, h, SeaLevel-20)
	b, err := ch.BlockAt(5, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "bedrock", b.Name)
	n, err := s.GetDimensionChunksCount("test", "overworld")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testStorage(t)
	c := NewChunk(primitives.ChunkPos{X: -1, Z: 5}, 0, 256, false, s.Palette())
	require.NoError(t, c.FillColumn(7, 7, 0, "bedrock", "stone", "water"))
	c.RecalculateLight()
	require.NoError(t, s.AddChunk("test", "overworld", c))

	buf := bytes.Buffer{}
	require.NoError(t, s.WriteSnapshot(&buf))

	loaded := NewMemoryChunkStorage(nil)
	require.NoError(t, loaded.ReadSnapshot(&buf))
	got, err := loaded.GetChunk("test", "overworld", -1, 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	b, err := got.BlockAt(7, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, "water", b.Name)
	assert.Equal(t, 3, got.PrecipitationHeight(7, 7))
	assert.Equal(t, c.LightValueAt(7, 2, 7), got.LightValueAt(7, 2, 7))
}

func TestSnapshotGarbage(t *testing.T) {
	s := NewMemoryChunkStorage(nil)
	err := s.ReadSnapshot(bytes.NewReader([]byte("definitely not zstd")))
	assert.Error(t, err)
}

func TestLiveWorld(t *testing.T) {
	s := testStorage(t)
	_, err := chunkStorage.NewLiveWorld(s, "test", "nope")
	assert.ErrorIs(t, err, chunkStorage.ErrNoDim)
	w, err := chunkStorage.NewLiveWorld(s, "test", "overworld")
	require.NoError(t, err)
	_, err = w.Chunk(primitives.ChunkPos{})
	assert.True(t, errors.Is(err, render.ErrChunkMissing))
	assert.False(t, w.HasChunk(primitives.ChunkPos{}))
	w.SetViewer(10, 70, -20)
	x, y, z := w.ViewerBlockPos()
	assert.Equal(t, []int{10, 70, -20}, []int{x, y, z})
	assert.Equal(t, int64(100), w.Tick(100))
	sw, err := s.GetWorld("test")
	require.NoError(t, err)
	assert.Equal(t, int64(100), sw.Time)
}

func TestChunkBlobRemapsPalette(t *testing.T) {
	c := NewChunk(primitives.ChunkPos{X: -3, Z: 7}, 0, 16, false, nil)
	require.NoError(t, c.FillColumn(0, 0, 0, "stone", "water"))
	c.RecalculateLight()
	b, err := MarshalChunk(c)
	require.NoError(t, err)

	small, err := ParsePalette([]byte("- name: water\n  color: '#3f76e4'\n  alpha: 0.5\n"))
	require.NoError(t, err)
	dim := chunkStorage.SDim{Name: "overworld", Height: 16}
	got, err := UnmarshalChunk(b, dim, small)
	require.NoError(t, err)
	assert.Equal(t, c.Pos(), got.Pos())
	assert.Equal(t, 2, got.PrecipitationHeight(0, 0))
	bottom, err := got.BlockAt(0, 0, 0)
	require.NoError(t, err)
	assert.True(t, bottom.IsAir)
	top, err := got.BlockAt(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "water", top.Name)
	assert.Equal(t, c.LightValueAt(0, 5, 0), got.LightValueAt(0, 5, 0))

	_, err = UnmarshalChunk([]byte("nope"), dim, nil)
	assert.ErrorIs(t, err, ErrBadSnapshot)
}
