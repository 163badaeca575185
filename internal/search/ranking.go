package search

import (
	"math"
	"sort"
	"time"

	"elfmemory/internal/config"
	"elfmemory/internal/schema"
)

// weightForRank returns the weight of the band containing rank (1-indexed),
// or 0 if rank falls in no configured band.
func weightForRank(bands []config.WeightBand, rank int) float64 {
	for _, b := range bands {
		if rank >= b.From && rank < b.To {
			return b.Weight
		}
	}
	return 0
}

// normalize min-max scales vals to [0,1]; a zero-width range maps every
// value to 1 so a single candidate (or a tie across all candidates) still
// contributes its full blend weight rather than collapsing to zero.
func normalize(vals []float64) []float64 {
	if len(vals) == 0 {
		return nil
	}
	min, max := vals[0], vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(vals))
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range vals {
		out[i] = (v - min) / (max - min)
	}
	return out
}

// rank1Indexed returns, for each index i, the 1-indexed rank of vals[i]
// within vals sorted descending (ties broken by original index).
func rank1Indexed(vals []float64) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] > vals[idx[b]] })
	ranks := make([]int, len(vals))
	for pos, i := range idx {
		ranks[i] = pos + 1
	}
	return ranks
}

// applyRanking computes the additive final score for every candidate:
// the explain payload records one ExplainTerm per named
// component, and final_score is exactly their sum.
func applyRanking(cfg config.RankingConfig, query string, rerankRan bool, cands []candidate) {
	if len(cands) == 0 {
		return
	}

	fusionVals := make([]float64, len(cands))
	for i, c := range cands {
		fusionVals[i] = c.FusionScore
	}
	retrievalNorm := normalize(fusionVals)

	var rerankNorm []float64
	var rerankRanks []int
	if rerankRan {
		rerankVals := make([]float64, len(cands))
		for i, c := range cands {
			rerankVals[i] = c.rerankScore
		}
		rerankNorm = normalize(rerankVals)
		rerankRanks = rank1Indexed(rerankVals)
	}

	queryTokens := len(asciiAlnumTokens(query))

	for i := range cands {
		c := &cands[i]
		c.retrievalNorm = retrievalNorm[i]
		var terms []schema.ExplainTerm

		retrievalWeight := weightForRank(cfg.RetrievalWeightBands, c.RetrievalRank)
		retrievalTerm := retrievalWeight * c.retrievalNorm
		terms = append(terms, schema.ExplainTerm{
			Name:  "blend.retrieval",
			Value: retrievalTerm,
			Inputs: map[string]any{
				"retrieval_rank":  c.RetrievalRank,
				"normalized_score": c.retrievalNorm,
				"weight":          retrievalWeight,
			},
		})

		if rerankRan {
			c.rerankNorm = rerankNorm[i]
			rerankWeight := weightForRank(cfg.RerankWeightBands, rerankRanks[i])
			rerankTerm := rerankWeight * c.rerankNorm
			terms = append(terms, schema.ExplainTerm{
				Name:  "blend.rerank",
				Value: rerankTerm,
				Inputs: map[string]any{
					"rerank_rank":      rerankRanks[i],
					"normalized_score": c.rerankNorm,
					"weight":           rerankWeight,
				},
			})
		}

		ageDays := time.Since(c.note.UpdatedAt).Hours() / 24
		tau := cfg.RecencyTauDays
		if tau <= 0 {
			tau = 30
		}
		tieBreaker := (1 + 0.6*c.note.Importance) * math.Exp(-ageDays/tau) * cfg.TieBreakerWeight
		terms = append(terms, schema.ExplainTerm{
			Name:  "tie_breaker",
			Value: tieBreaker,
			Inputs: map[string]any{"importance": c.note.Importance, "age_days": ageDays},
		})

		if desc, ok := cfg.ScopeDescriptions[c.note.Scope]; ok && queryTokens > 0 {
			descTokens := make(map[string]bool)
			for _, t := range asciiAlnumTokens(desc) {
				descTokens[t] = true
			}
			matched := 0
			for _, t := range asciiAlnumTokens(query) {
				if descTokens[t] {
					matched++
				}
			}
			boost := cfg.ScopeBoostWeight * (float64(matched) / float64(queryTokens))
			terms = append(terms, schema.ExplainTerm{
				Name:  "context.scope_boost",
				Value: boost,
				Inputs: map[string]any{"matched_scope_tokens": matched, "query_tokens": queryTokens},
			})
		}

		c.terms = terms
		c.finalScore = schema.Sum(terms)
	}
}

// sortAndTieBreak orders candidates by final_score desc, then
// retrieval_rank asc, then note_id asc, then chunk_id asc, so replays of
// the same inputs reproduce the same ordering.
func sortAndTieBreak(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.finalScore != b.finalScore {
			return a.finalScore > b.finalScore
		}
		if a.RetrievalRank != b.RetrievalRank {
			return a.RetrievalRank < b.RetrievalRank
		}
		if a.NoteID != b.NoteID {
			return a.NoteID < b.NoteID
		}
		return a.ChunkID < b.ChunkID
	})
}

// aggregateByNote groups ranked candidates by note_id, keeping the top-1
// (already-sorted, so first-seen) chunk per note as its representative,
// and truncates to the first topK notes.
func aggregateByNote(cands []candidate, topK int) []candidate {
	seen := make(map[string]bool, len(cands))
	out := make([]candidate, 0, topK)
	for _, c := range cands {
		if seen[c.NoteID] {
			continue
		}
		seen[c.NoteID] = true
		out = append(out, c)
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out
}
