package search

import (
	"sort"

	"elfmemory/internal/vectorindex"
)

// rankedEntry is one chunk id with the note id carried alongside it so
// fusion never has to re-look-up ownership once the index results are
// discarded.
type rankedEntry struct {
	ChunkID string
	NoteID  string
}

// orderedList extracts an ordered (best-first) chunk id list plus a
// chunk_id -> note_id map from one vector-index result set.
func orderedList(results []vectorindex.Result) ([]string, map[string]string) {
	ids := make([]string, 0, len(results))
	notes := make(map[string]string, len(results))
	for _, r := range results {
		ids = append(ids, r.ChunkID)
		if nid, _ := r.Payload["note_id"].(string); nid != "" {
			notes[r.ChunkID] = nid
		}
	}
	return ids, notes
}

// reciprocalRankFuse combines any number of already-ordered (best-first)
// id lists into one fused score map via reciprocal rank fusion:
// score(id) = sum over lists containing id of 1/(k+rank), rank 1-indexed.
// Used both for the per-query dense+sparse fusion and the multi-query
// fusion across expanded queries: the same
// combinator, applied twice at different fan-in widths.
func reciprocalRankFuse(k int, lists ...[]string) map[string]float64 {
	if k <= 0 {
		k = 60
	}
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			rank := i + 1
			scores[id] += 1.0 / float64(k+rank)
		}
	}
	return scores
}

// sortByScoreDesc returns the ids from scores ordered best score first,
// breaking ties lexicographically for determinism.
func sortByScoreDesc(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
