package worker

import (
	"context"
	"fmt"

	"elfmemory/internal/vectorindex"
)

// RebuildFromAuthoritative repopulates the derived vector index entirely
// from the authoritative store's chunk_embeddings, never calling the
// embedding provider: every dense vector it needs was already written at
// ingest/indexing time, so a Qdrant collection loss is recoverable without
// re-embedding a single note. Driven by the admin rebuild endpoint.
func (w *Worker) RebuildFromAuthoritative(ctx context.Context, embeddingVersion string) (int, error) {
	rows, err := w.store.AllChunksForRebuild(ctx, embeddingVersion)
	if err != nil {
		return 0, fmt.Errorf("rebuild: load chunks: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	points := make([]vectorindex.Point, len(rows))
	for i, r := range rows {
		dense := make([]float32, len(r.Vec))
		for j, v := range r.Vec {
			dense[j] = float32(v)
		}
		points[i] = vectorindex.Point{
			ChunkID: r.ChunkID,
			Dense:   dense,
			Sparse:  vectorindex.BuildSparseVector(w.chunker.Tokens(r.Text)),
			Payload: chunkPayload(r.Note, r.Chunk, r.EmbeddingVersion),
		}
	}
	if err := w.index.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("rebuild: upsert derived index: %w", err)
	}
	w.logger.Info().Int("points", len(points)).Str("embedding_version", embeddingVersion).Msg("rebuilt derived index from authoritative store")
	w.metrics.IncCounter("admin_rebuild_total", map[string]string{"result": "ok"})
	return len(points), nil
}
