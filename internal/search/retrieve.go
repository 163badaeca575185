package search

import (
	"context"
	"fmt"

	"elfmemory/internal/sharing"
	"elfmemory/internal/vectorindex"
)

// retrievalFilter builds the derived-index payload filter for a read
// context: tenant + candidate project set + status=active, all
// best-effort; authoritative revalidation is the source of
// truth for visibility, including the agent_private ownership check this
// filter does not attempt to express.
func retrievalFilter(rc sharing.ReadContext) vectorindex.Filter {
	return vectorindex.Filter{
		Equals: map[string]string{
			"tenant": rc.Tenant,
			"status": "active",
		},
		AnyOf: map[string][]string{
			"project": rc.Projects,
			"scope":   rc.AllowedScopes,
		},
	}
}

// hybridRetrieve runs one query's dense + sparse prefetch and fuses them
// by reciprocal rank into a single ordered candidate list for that query.
func (s *Service) hybridRetrieve(ctx context.Context, dense []float32, query string, filter vectorindex.Filter, candidateK int) ([]string, map[string]string, error) {
	denseHits, err := s.index.SearchDense(ctx, dense, filter, candidateK)
	if err != nil {
		return nil, nil, fmt.Errorf("search: dense retrieval: %w", err)
	}
	sparseVec := vectorindex.BuildSparseVector(s.chunker.Tokens(query))
	sparseHits, err := s.index.SearchSparse(ctx, sparseVec, filter, candidateK)
	if err != nil {
		return nil, nil, fmt.Errorf("search: sparse retrieval: %w", err)
	}

	denseIDs, denseNotes := orderedList(denseHits)
	sparseIDs, sparseNotes := orderedList(sparseHits)
	fused := reciprocalRankFuse(s.cfg.Search.RRFK, denseIDs, sparseIDs)
	ordered := sortByScoreDesc(fused)
	if candidateK > 0 && len(ordered) > candidateK {
		ordered = ordered[:candidateK]
	}

	notes := make(map[string]string, len(ordered))
	for _, id := range ordered {
		if nid, ok := denseNotes[id]; ok {
			notes[id] = nid
			continue
		}
		notes[id] = sparseNotes[id]
	}
	return ordered, notes, nil
}

// multiQueryFuse combines the per-query fused lists (one per expanded
// query) into a single global candidate list with fusion scores and
// retrieval ranks.
func multiQueryFuse(rrfK int, perQuery [][]string, noteOf map[string]string) []candidate {
	fused := reciprocalRankFuse(rrfK, perQuery...)
	ordered := sortByScoreDesc(fused)
	out := make([]candidate, len(ordered))
	for i, id := range ordered {
		out[i] = candidate{
			ChunkID:       id,
			NoteID:        noteOf[id],
			FusionScore:   fused[id],
			RetrievalRank: i + 1,
		}
	}
	return out
}
