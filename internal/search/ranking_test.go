package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elfmemory/internal/config"
	"elfmemory/internal/schema"
)

func rankingConfig() config.RankingConfig {
	return config.RankingConfig{
		RetrievalWeightBands: []config.WeightBand{
			{From: 1, To: 4, Weight: 1.0},
			{From: 4, To: 100, Weight: 0.5},
		},
		RerankWeightBands: []config.WeightBand{
			{From: 1, To: 100, Weight: 2.0},
		},
		RecencyTauDays:   30,
		TieBreakerWeight: 0.1,
		ScopeBoostWeight: 0.2,
		ScopeDescriptions: map[string]string{
			"project_shared": "shared project knowledge about storage and infrastructure",
		},
	}
}

func testCandidates(now time.Time) []candidate {
	return []candidate{
		{
			ChunkID: "n1:0", NoteID: "n1", FusionScore: 0.9, RetrievalRank: 1,
			rerankScore: 0.8,
			note:        noteView{NoteID: "n1", Scope: "project_shared", Importance: 0.7, UpdatedAt: now},
		},
		{
			ChunkID: "n2:0", NoteID: "n2", FusionScore: 0.5, RetrievalRank: 2,
			rerankScore: 0.3,
			note:        noteView{NoteID: "n2", Scope: "agent_private", Importance: 0.2, UpdatedAt: now.Add(-48 * time.Hour)},
		},
		{
			ChunkID: "n3:0", NoteID: "n3", FusionScore: 0.1, RetrievalRank: 3,
			rerankScore: 0.1,
			note:        noteView{NoteID: "n3", Scope: "project_shared", Importance: 0.0, UpdatedAt: now.Add(-30 * 24 * time.Hour)},
		},
	}
}

func TestApplyRanking_FinalScoreIsSumOfTerms(t *testing.T) {
	cands := testCandidates(time.Now())
	applyRanking(rankingConfig(), "where is storage", true, cands)
	for _, c := range cands {
		require.NotEmpty(t, c.terms)
		assert.InDelta(t, schema.Sum(c.terms), c.finalScore, 1e-9, "note %s", c.NoteID)
	}
}

func TestApplyRanking_TermNames(t *testing.T) {
	cands := testCandidates(time.Now())
	applyRanking(rankingConfig(), "where is storage", true, cands)
	names := map[string]bool{}
	for _, term := range cands[0].terms {
		names[term.Name] = true
	}
	assert.True(t, names["blend.retrieval"])
	assert.True(t, names["blend.rerank"])
	assert.True(t, names["tie_breaker"])
	assert.True(t, names["context.scope_boost"])
}

func TestApplyRanking_NoRerankTermWhenRerankSkipped(t *testing.T) {
	cands := testCandidates(time.Now())
	applyRanking(rankingConfig(), "where is storage", false, cands)
	for _, c := range cands {
		for _, term := range c.terms {
			assert.NotEqual(t, "blend.rerank", term.Name)
		}
	}
}

func TestApplyRanking_ScopeBoostOnlyForDescribedScopes(t *testing.T) {
	cands := testCandidates(time.Now())
	applyRanking(rankingConfig(), "storage question", true, cands)
	var private *candidate
	for i := range cands {
		if cands[i].NoteID == "n2" {
			private = &cands[i]
		}
	}
	require.NotNil(t, private)
	for _, term := range private.terms {
		assert.NotEqual(t, "context.scope_boost", term.Name)
	}
}

func TestSortAndTieBreak_Deterministic(t *testing.T) {
	cands := []candidate{
		{ChunkID: "b:1", NoteID: "b", finalScore: 1.0, RetrievalRank: 2},
		{ChunkID: "a:1", NoteID: "a", finalScore: 1.0, RetrievalRank: 2},
		{ChunkID: "a:0", NoteID: "a", finalScore: 1.0, RetrievalRank: 1},
		{ChunkID: "c:0", NoteID: "c", finalScore: 2.0, RetrievalRank: 5},
	}
	sortAndTieBreak(cands)
	got := make([]string, len(cands))
	for i, c := range cands {
		got[i] = c.ChunkID
	}
	assert.Equal(t, []string{"c:0", "a:0", "a:1", "b:1"}, got)
}

func TestAggregateByNote_KeepsTopChunkPerNote(t *testing.T) {
	cands := []candidate{
		{ChunkID: "a:0", NoteID: "a", finalScore: 3},
		{ChunkID: "a:1", NoteID: "a", finalScore: 2},
		{ChunkID: "b:0", NoteID: "b", finalScore: 1.5},
		{ChunkID: "c:0", NoteID: "c", finalScore: 1},
	}
	out := aggregateByNote(cands, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a:0", out[0].ChunkID)
	assert.Equal(t, "b:0", out[1].ChunkID)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{1, 0.5, 0}, normalize([]float64{2, 1.5, 1}))
	// Zero-width range maps everything to 1.
	assert.Equal(t, []float64{1, 1}, normalize([]float64{0.4, 0.4}))
	assert.Nil(t, normalize(nil))
}

func TestWeightForRank(t *testing.T) {
	bands := []config.WeightBand{{From: 1, To: 4, Weight: 1}, {From: 4, To: 10, Weight: 0.25}}
	assert.Equal(t, 1.0, weightForRank(bands, 1))
	assert.Equal(t, 1.0, weightForRank(bands, 3))
	assert.Equal(t, 0.25, weightForRank(bands, 4))
	assert.Equal(t, 0.0, weightForRank(bands, 10))
}
