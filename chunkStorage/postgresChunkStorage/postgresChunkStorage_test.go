package postgresChunkStorage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a scratch database, for example
// LIVEMAP_TEST_POSTGRES=postgres://postgres@localhost/livemap_test
func testStorage(t *testing.T) *PostgresChunkStorage {
	dsn := os.Getenv("LIVEMAP_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("LIVEMAP_TEST_POSTGRES is not set")
	}
	s, err := NewPostgresChunkStorage(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorldsAndDimensions(t *testing.T) {
	s := testStorage(t)
	wname := fmt.Sprintf("test-%d", time.Now().UnixNano())
	require.NoError(t, s.AddWorld(chunkStorage.SWorld{Name: wname}))
	assert.ErrorIs(t, s.AddWorld(chunkStorage.SWorld{Name: wname}), chunkStorage.ErrAlreadyExists)
	require.NoError(t, s.SetWorldTime(wname, 6000))
	w, err := s.GetWorld(wname)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.EqualValues(t, 6000, w.Time)

	nether := chunkStorage.GuessDimFromName(wname, "nether")
	require.NoError(t, s.AddDimension(wname, nether))
	assert.ErrorIs(t, s.AddDimension(wname, nether), chunkStorage.ErrAlreadyExists)
	assert.ErrorIs(t, s.AddDimension(wname+"-missing", nether), chunkStorage.ErrNoWorld)
	d, err := s.GetDimension(wname, "nether")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.HasNoSky)
	assert.Equal(t, primitives.DimensionNether, d.ID)

	_, err = s.GetChunk(wname, "overworld", 0, 0)
	assert.ErrorIs(t, err, chunkStorage.ErrNoDim)
}

func TestChunksKeepLatest(t *testing.T) {
	s := testStorage(t)
	wname := fmt.Sprintf("test-%d", time.Now().UnixNano())
	require.NoError(t, s.AddWorld(chunkStorage.SWorld{Name: wname}))
	dim := chunkStorage.GuessDimFromName(wname, "overworld")
	dim.Height = 32
	require.NoError(t, s.AddDimension(wname, dim))

	pos := primitives.ChunkPos{X: -2, Z: 5}
	c := memoryChunkStorage.NewChunk(pos, 0, 32, false, nil)
	require.NoError(t, c.FillColumn(1, 1, 0, "stone"))
	require.NoError(t, s.AddChunk(wname, "overworld", c))
	require.NoError(t, c.FillColumn(1, 1, 1, "stone", "stone"))
	require.NoError(t, s.AddChunk(wname, "overworld", c))

	count, err := s.GetDimensionChunksCount(wname, "overworld")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := s.GetChunk(wname, "overworld", pos.X, pos.Z)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.PrecipitationHeight(1, 1))

	missing, err := s.GetChunk(wname, "overworld", 100, 100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
