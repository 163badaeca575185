package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"elfmemory/internal/cache"
	"elfmemory/internal/englishgate"
)

// expansionPayload is what gets cached under the expansion key: the
// resolved query list, so a cache hit skips the provider entirely.
type expansionPayload struct {
	Queries []string `json:"queries"`
}

const expansionSchemaVersion = "elf.search_expansion/v1"

// resolveQueries decides the query set for one search request per the
// configured expansion mode. baselineCandidateCount and baselineTopScore
// are only consulted in "dynamic" mode and may be zero-valued otherwise.
func (s *Service) resolveQueries(ctx context.Context, query string, baselineCandidateCount int, baselineTopScore float64) ([]string, string, error) {
	mode := s.cfg.Search.Expansion.Mode
	switch mode {
	case "", "off":
		return []string{query}, "off", nil
	case "always":
		qs, err := s.expandViaProvider(ctx, query)
		return qs, "always", err
	case "dynamic":
		min := s.cfg.Search.Expansion.MinCandidates
		if baselineCandidateCount < min || baselineTopScore < s.cfg.Search.Expansion.MinTopScore {
			qs, err := s.expandViaProvider(ctx, query)
			return qs, "dynamic", err
		}
		return []string{query}, "dynamic", nil
	default:
		return nil, mode, fmt.Errorf("search: unknown expansion mode %q", mode)
	}
}

// expandViaProvider fetches (cache-first) up to max_queries alternate
// phrasings of query, dropping any that fail the English gate, deduping,
// and ensuring the original is present when configured to.
func (s *Service) expandViaProvider(ctx context.Context, query string) ([]string, error) {
	exp := s.cfg.Search.Expansion
	normalized := strings.ToLower(strings.TrimSpace(query))
	providerID := s.cfg.Providers.Extractor.APIBase
	model := s.cfg.Providers.Extractor.Model
	key := cache.ExpansionKey(normalized, providerID, model, expansionSchemaVersion,
		exp.MaxQueries, exp.IncludeOriginal)

	var queries []string
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, cache.KindExpansion, key); ok {
			var payload expansionPayload
			if err := json.Unmarshal(raw, &payload); err == nil {
				queries = payload.Queries
			}
		}
	}

	if queries == nil {
		fetched, err := s.extractor.ExpandQuery(ctx, query, exp.MaxQueries)
		if err != nil {
			return nil, fmt.Errorf("search: expand query: %w", err)
		}
		queries = fetched
		if s.cache != nil {
			payload, err := json.Marshal(expansionPayload{Queries: queries})
			if err == nil {
				_ = s.cache.Set(ctx, cache.KindExpansion, key, payload, ttlSeconds(exp.Cache.TTLSeconds))
			}
		}
	}

	return finalizeExpansion(query, queries, exp.MaxQueries, exp.IncludeOriginal), nil
}

// finalizeExpansion applies the English gate, dedupes, caps to max_queries,
// and ensures the original query is present when includeOriginal is set.
func finalizeExpansion(original string, candidates []string, maxQueries int, includeOriginal bool) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		gated := englishgate.Check(q)
		if !gated.Allowed {
			return
		}
		norm := strings.ToLower(gated.Normalized)
		if seen[norm] {
			return
		}
		seen[norm] = true
		out = append(out, gated.Normalized)
	}

	if includeOriginal {
		add(original)
	}
	for _, c := range candidates {
		if maxQueries > 0 && len(out) >= maxQueries {
			break
		}
		add(c)
	}
	if len(out) == 0 {
		out = []string{original}
	}
	return out
}
