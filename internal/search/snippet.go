package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"elfmemory/internal/store"
)

// stitchSnippets fetches the surviving candidates' chunks and their
// immediate neighbors, concatenating each candidate's chunk with its
// neighbors (in chunk-index order) into the rerank input.
func (s *Service) stitchSnippets(ctx context.Context, cands []candidate) ([]candidate, error) {
	if len(cands) == 0 {
		return cands, nil
	}
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ChunkID
	}
	chunks, err := s.store.ChunksByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: fetch chunks: %w", err)
	}
	byID := make(map[string]store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	out := cands[:0]
	for _, c := range cands {
		chunk, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		c.chunk = chunkView{
			ChunkID: chunk.ChunkID, NoteID: chunk.NoteID, ChunkIndex: chunk.ChunkIndex,
			ByteStart: chunk.ByteStart, ByteEnd: chunk.ByteEnd, Text: chunk.Text,
		}

		neighbors, err := s.store.NeighborChunks(ctx, chunk.NoteID, chunk.ChunkIndex)
		if err != nil {
			return nil, fmt.Errorf("search: fetch neighbor chunks: %w", err)
		}
		all := append([]store.Chunk{chunk}, neighbors...)
		sort.Slice(all, func(i, j int) bool { return all[i].ChunkIndex < all[j].ChunkIndex })
		parts := make([]string, len(all))
		for i, a := range all {
			parts[i] = a.Text
		}
		c.snippet = strings.TrimSpace(strings.Join(parts, " "))
		out = append(out, c)
	}
	return out, nil
}
