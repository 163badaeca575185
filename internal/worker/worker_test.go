package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elfmemory/internal/store"
)

func TestBackoffFor_CappedExponential(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffFor(1))
	assert.Equal(t, 4*time.Second, backoffFor(2))
	assert.Equal(t, 8*time.Second, backoffFor(3))
	assert.Equal(t, 10*time.Minute, backoffFor(20))
}

func TestMeanVector(t *testing.T) {
	pooled := meanVector([][]float32{
		{1, 2, 3},
		{3, 4, 5},
	})
	assert.Equal(t, []float32{2, 3, 4}, pooled)
	assert.Nil(t, meanVector(nil))
}

func TestLocateChunk(t *testing.T) {
	text := "First sentence here. Second sentence here. First sentence here."

	start, end := locateChunk(text, "First sentence here.", 0)
	assert.Equal(t, 0, start)
	assert.Equal(t, len("First sentence here."), end)

	// Scanning forward finds the second occurrence, not the first.
	start2, _ := locateChunk(text, "First sentence here.", end)
	assert.Greater(t, start2, start)

	// Unlocatable chunks get a synthetic span at the scan position.
	start3, end3 := locateChunk(text, "not present at all", 10)
	assert.Equal(t, 10, start3)
	assert.Equal(t, 10+len("not present at all"), end3)
}

func TestIsExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	assert.True(t, isExpired(store.Note{ExpiresAt: &past}))
	assert.False(t, isExpired(store.Note{ExpiresAt: &future}))
	assert.False(t, isExpired(store.Note{}))
}

func TestChunkPayload_ContainsFilterFieldsButNoText(t *testing.T) {
	key := "storage_backend"
	n := store.Note{
		NoteID: "n1", Tenant: "t1", Project: "p1", Agent: "a1",
		Scope: "project_shared", Type: "fact", Key: &key,
		Status: store.NoteStatusActive, Importance: 0.7, Confidence: 0.9,
		UpdatedAt: time.Now(),
	}
	c := store.Chunk{ChunkID: "n1:0", NoteID: "n1", ChunkIndex: 0, ByteStart: 0, ByteEnd: 10, Text: "chunk text"}
	payload := chunkPayload(n, c, "prov:model:8")

	require.Equal(t, "n1", payload["note_id"])
	assert.Equal(t, "project_shared", payload["scope"])
	assert.Equal(t, "fact", payload["type"])
	assert.Equal(t, "storage_backend", payload["key"])
	assert.Equal(t, "prov:model:8", payload["embedding_version"])
	// Chunk text is never stored in the derived payload.
	for k, v := range payload {
		if s, ok := v.(string); ok {
			assert.NotEqual(t, "chunk text", s, "payload field %s leaks chunk text", k)
		}
	}
}
