package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveByKey_NoExisting(t *testing.T) {
	d := ResolveByKey(ExistingByKey{Found: false})
	assert.Equal(t, ActionAdd, d.Action)
}

func TestResolveByKey_Existing(t *testing.T) {
	d := ResolveByKey(ExistingByKey{Found: true, NoteID: "n1", Text: "old"})
	assert.Equal(t, ActionUpdate, d.Action)
	assert.Equal(t, "n1", d.NoteID)
}

func TestResolveBySimilarity_NoNeighbors(t *testing.T) {
	d := ResolveBySimilarity(nil, 0.9, 0.75)
	assert.Equal(t, ActionAdd, d.Action)
}

func TestResolveBySimilarity_Duplicate(t *testing.T) {
	d := ResolveBySimilarity([]SimilarNote{{NoteID: "n1", Similarity: 0.95}}, 0.9, 0.75)
	assert.Equal(t, ActionNone, d.Action)
	assert.Equal(t, "n1", d.NoteID)
}

func TestResolveBySimilarity_Update(t *testing.T) {
	d := ResolveBySimilarity([]SimilarNote{{NoteID: "n1", Similarity: 0.8}}, 0.9, 0.75)
	assert.Equal(t, ActionUpdate, d.Action)
	assert.Equal(t, "n1", d.NoteID)
}

func TestResolveBySimilarity_Add(t *testing.T) {
	d := ResolveBySimilarity([]SimilarNote{{NoteID: "n1", Similarity: 0.5}}, 0.9, 0.75)
	assert.Equal(t, ActionAdd, d.Action)
}

func TestResolveBySimilarity_TieBreaksByNoteID(t *testing.T) {
	d := ResolveBySimilarity([]SimilarNote{
		{NoteID: "n2", Similarity: 0.95},
		{NoteID: "n1", Similarity: 0.95},
	}, 0.9, 0.75)
	assert.Equal(t, "n1", d.NoteID)
}

func TestResolveBySimilarity_TieBreaksByUpdatedAtBeforeNoteID(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	d := ResolveBySimilarity([]SimilarNote{
		{NoteID: "n1", Similarity: 0.95, UpdatedAt: older},
		{NoteID: "n2", Similarity: 0.95, UpdatedAt: newer},
	}, 0.9, 0.75)
	assert.Equal(t, "n2", d.NoteID)
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	assert.Equal(t, float64(0), CosineSimilarity([]float32{1, 0}, []float32{0, 1}))
}

func TestCosineSimilarity_Identical(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}
