package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"elfmemory/internal/cache"
)

type rerankPayload struct {
	Scores []float64 `json:"scores"`
}

const rerankSchemaVersion = "elf.search_rerank/v1"

// rerankCandidates builds a rerank cache key from the ordered
// (chunk_id, note.updated_at) signature and either reuses a matching
// cached score set or calls the rerank provider once, caching the aligned
// result.
func (s *Service) rerankCandidates(ctx context.Context, query string, cands []candidate) ([]candidate, error) {
	if len(cands) == 0 || s.rerank == nil {
		return cands, nil
	}

	sig := make([]cache.ChunkSignature, len(cands))
	snippets := make([]string, len(cands))
	for i, c := range cands {
		sig[i] = cache.ChunkSignature{ChunkID: c.ChunkID, UpdatedAt: c.note.UpdatedAt}
		snippets[i] = c.snippet
	}
	normalized := strings.ToLower(strings.TrimSpace(query))
	providerID := s.cfg.Providers.Rerank.APIBase
	model := s.cfg.Providers.Rerank.Model
	key := cache.RerankKey(normalized, providerID, model, rerankSchemaVersion, sig)

	var scores []float64
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, cache.KindRerank, key); ok {
			var payload rerankPayload
			if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Scores) == len(cands) {
				scores = payload.Scores
			}
		}
	}

	if scores == nil {
		fetched, err := s.rerank.Rerank(ctx, query, snippets)
		if err != nil {
			return nil, fmt.Errorf("search: rerank: %w", err)
		}
		scores = fetched
		if s.cache != nil {
			payload, err := json.Marshal(rerankPayload{Scores: scores})
			if err == nil {
				_ = s.cache.Set(ctx, cache.KindRerank, key, payload, ttlSeconds(s.cfg.Search.RerankCache.TTLSeconds))
			}
		}
	}

	for i := range cands {
		if i < len(scores) {
			cands[i].rerankScore = scores[i]
		}
	}
	return cands, nil
}
