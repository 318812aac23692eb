package main

import (
	"testing"

	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanChunk(t *testing.T) {
	c := memoryChunkStorage.NewChunk(primitives.ChunkPos{X: -1, Z: 2}, primitives.DimensionOverworld, 16, false, nil)
	require.NoError(t, c.FillColumn(3, 4, 0, "stone", "water", "water"))
	require.NoError(t, c.FillColumn(5, 5, 0, "stone"))

	found := scanChunk(c, "water")
	require.Len(t, found, 1)
	assert.Equal(t, "CHUNK x-1 z2 block -13 2 36 match water", found[0])
	assert.Len(t, scanChunk(c, "stone"), 2)
	assert.Empty(t, scanChunk(c, "portal"))
}
