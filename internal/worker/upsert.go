package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"elfmemory/internal/chunker"
	"elfmemory/internal/store"
	"elfmemory/internal/vectorindex"
)

// processUpsert chunks, embeds, and re-indexes one note (steps 1-6 of the
// indexing worker's UPSERT duty).
func (w *Worker) processUpsert(ctx context.Context, job store.OutboxJob) error {
	note, err := w.store.GetNote(ctx, job.NoteID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("fetch note: %w", err)
	}
	if note.Status != store.NoteStatusActive || isExpired(note) {
		return nil
	}

	chunks := w.chunker.Chunk(note.Text)
	storeChunks := make([]store.Chunk, len(chunks))
	searchFrom := 0
	for i, c := range chunks {
		start, end := locateChunk(note.Text, c.Text, searchFrom)
		if end > searchFrom {
			searchFrom = end
		}
		storeChunks[i] = store.Chunk{
			ChunkID:    chunker.ChunkID(note.NoteID, c.Index),
			NoteID:     note.NoteID,
			ChunkIndex: c.Index,
			ByteStart:  start,
			ByteEnd:    end,
			Text:       c.Text,
		}
	}
	if err := w.store.ReplaceChunks(ctx, note.NoteID, storeChunks); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	if len(storeChunks) == 0 {
		return nil
	}

	texts := make([]string, len(storeChunks))
	for i, c := range storeChunks {
		texts[i] = c.Text
	}
	vecs, err := w.embed.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(storeChunks) {
		return fmt.Errorf("embed: got %d vectors for %d chunks", len(vecs), len(storeChunks))
	}

	embeddings := make(map[string][]float32, len(storeChunks))
	for i, c := range storeChunks {
		embeddings[c.ChunkID] = vecs[i]
	}
	if err := w.store.UpsertChunkEmbeddings(ctx, job.EmbeddingVersion, embeddings); err != nil {
		return fmt.Errorf("upsert chunk embeddings: %w", err)
	}

	pooled := meanVector(vecs)
	if err := w.store.SetPooledEmbedding(ctx, note.NoteID, job.EmbeddingVersion, pooled); err != nil {
		return fmt.Errorf("set pooled embedding: %w", err)
	}

	points := make([]vectorindex.Point, len(storeChunks))
	for i, c := range storeChunks {
		points[i] = vectorindex.Point{
			ChunkID: c.ChunkID,
			Dense:   vecs[i],
			Sparse:  vectorindex.BuildSparseVector(w.chunker.Tokens(c.Text)),
			Payload: chunkPayload(note, c, job.EmbeddingVersion),
		}
	}
	if err := w.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert derived index: %w", err)
	}
	return nil
}

// processDelete removes every derived-index point for a note (idempotent
// if none remain).
func (w *Worker) processDelete(ctx context.Context, job store.OutboxJob) error {
	return w.index.DeleteByNoteID(ctx, job.NoteID)
}

func isExpired(n store.Note) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(time.Now())
}

// locateChunk finds a chunk's byte offsets within the note text, scanning
// forward from the previous chunk's end so repeated sentences map to
// successive occurrences. Overlapped token prefixes may not match the
// source text verbatim; those chunks fall back to a synthetic
// [from, from+len) span, which is only ever used for snippet neighbor
// ordering, never for re-slicing the note.
func locateChunk(text, chunkText string, from int) (int, int) {
	if from < len(text) {
		if i := strings.Index(text[from:], chunkText); i >= 0 {
			start := from + i
			return start, start + len(chunkText)
		}
	}
	if i := strings.Index(text, chunkText); i >= 0 {
		return i, i + len(chunkText)
	}
	return from, from + len(chunkText)
}

// meanVector computes the pooled note embedding as the mean of its
// chunks' dense vectors.
func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	out := make([]float32, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			out[i] += v[i]
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

func chunkPayload(n store.Note, c store.Chunk, embeddingVersion string) map[string]any {
	key := ""
	if n.Key != nil {
		key = *n.Key
	}
	return map[string]any{
		"note_id":           n.NoteID,
		"chunk_id":          c.ChunkID,
		"chunk_index":       c.ChunkIndex,
		"byte_start":        c.ByteStart,
		"byte_end":          c.ByteEnd,
		"tenant":            n.Tenant,
		"project":           n.Project,
		"agent":             n.Agent,
		"scope":             n.Scope,
		"type":              n.Type,
		"key":               key,
		"status":            n.Status,
		"updated_at":        n.UpdatedAt.Format(time.RFC3339),
		"expires_at":        formatExpiry(n.ExpiresAt),
		"importance":        n.Importance,
		"confidence":        n.Confidence,
		"embedding_version": embeddingVersion,
	}
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
