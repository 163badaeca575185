package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "qdrant://localhost:notaport", "chunks", 8, "cosine")
	require.Error(t, err)
}

func TestBuildSparseVector_StableOrderAndCounts(t *testing.T) {
	sv := BuildSparseVector([]string{"prefers", "rustls", "prefers"})
	require.Len(t, sv.Indices, len(sv.Values))
	require.Len(t, sv.Indices, 2)

	for i := 1; i < len(sv.Indices); i++ {
		assert.Less(t, sv.Indices[i-1], sv.Indices[i])
	}

	var total float32
	for _, v := range sv.Values {
		total += v
	}
	assert.Equal(t, float32(3), total)
}

func TestBuildSparseVector_Empty(t *testing.T) {
	sv := BuildSparseVector(nil)
	assert.Empty(t, sv.Indices)
	assert.Empty(t, sv.Values)
}
