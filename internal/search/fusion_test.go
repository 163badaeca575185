package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReciprocalRankFuse(t *testing.T) {
	scores := reciprocalRankFuse(60,
		[]string{"a", "b", "c"},
		[]string{"b", "a"},
	)
	// a: 1/61 + 1/62, b: 1/62 + 1/61 -> equal; c: 1/63.
	assert.InDelta(t, scores["a"], scores["b"], 1e-12)
	assert.Greater(t, scores["a"], scores["c"])
}

func TestReciprocalRankFuse_DefaultsKWhenUnset(t *testing.T) {
	scores := reciprocalRankFuse(0, []string{"a"})
	assert.InDelta(t, 1.0/61.0, scores["a"], 1e-12)
}

func TestSortByScoreDesc_TieBreaksLexicographically(t *testing.T) {
	ids := sortByScoreDesc(map[string]float64{"z": 1, "a": 1, "m": 2})
	assert.Equal(t, []string{"m", "a", "z"}, ids)
}

func TestMultiQueryFuse_AssignsRetrievalRanks(t *testing.T) {
	noteOf := map[string]string{"a": "n1", "b": "n2", "c": "n3"}
	cands := multiQueryFuse(60, [][]string{
		{"a", "b"},
		{"a", "c"},
	}, noteOf)
	require.Len(t, cands, 3)
	assert.Equal(t, "a", cands[0].ChunkID)
	assert.Equal(t, "n1", cands[0].NoteID)
	for i, c := range cands {
		assert.Equal(t, i+1, c.RetrievalRank)
	}
}

func TestFinalizeExpansion(t *testing.T) {
	out := finalizeExpansion("where are embeddings stored",
		[]string{
			"where are embeddings stored",           // duplicate of original
			"which database holds the embeddings",   // kept
			"это не английский запрос совсем",       // fails the English gate
			"what storage backend keeps the vectors", // kept
		}, 3, true)
	require.Equal(t, 3, len(out))
	assert.Equal(t, "where are embeddings stored", out[0])
	assert.Equal(t, "which database holds the embeddings", out[1])
	assert.Equal(t, "what storage backend keeps the vectors", out[2])
}

func TestFinalizeExpansion_FallsBackToOriginal(t *testing.T) {
	out := finalizeExpansion("original query text", []string{"запрос"}, 2, false)
	assert.Equal(t, []string{"original query text"}, out)
}
