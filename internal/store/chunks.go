package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ReplaceChunks atomically swaps a note's chunk partition: deletes any
// existing chunks (cascading their embeddings) and inserts the new set.
// Called by the worker when it processes an UPSERT job, never by ingest
// directly, so chunk text always reflects the note text the worker last
// embedded.
func (s *Store) ReplaceChunks(ctx context.Context, noteID string, chunks []Chunk) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM note_chunks WHERE note_id=$1`, noteID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(`
INSERT INTO note_chunks (chunk_id, note_id, chunk_index, byte_start, byte_end, text)
VALUES ($1,$2,$3,$4,$5,$6)`, c.ChunkID, noteID, c.ChunkIndex, c.ByteStart, c.ByteEnd, c.Text)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range chunks {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert chunk: %w", err)
			}
		}
		return nil
	})
}

// ChunksForNote returns a note's chunks in index order.
func (s *Store) ChunksForNote(ctx context.Context, noteID string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, note_id, chunk_index, byte_start, byte_end, text
FROM note_chunks WHERE note_id=$1 ORDER BY chunk_index`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.NoteID, &c.ChunkIndex, &c.ByteStart, &c.ByteEnd, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunksByID fetches chunks (and their owning note) for snippet stitching
// and neighbor lookup. Order is not guaranteed; callers index by chunk_id.
func (s *Store) ChunksByID(ctx context.Context, chunkIDs []string) ([]Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, note_id, chunk_index, byte_start, byte_end, text
FROM note_chunks WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.NoteID, &c.ChunkIndex, &c.ByteStart, &c.ByteEnd, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// NeighborChunks returns the chunks immediately before and after the given
// chunk within the same note, for rerank-input stitching.
func (s *Store) NeighborChunks(ctx context.Context, noteID string, index int) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, note_id, chunk_index, byte_start, byte_end, text
FROM note_chunks WHERE note_id=$1 AND chunk_index IN ($2, $3)
ORDER BY chunk_index`, noteID, index-1, index+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.NoteID, &c.ChunkIndex, &c.ByteStart, &c.ByteEnd, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertChunkEmbeddings writes the source-of-truth dense vector for each
// chunk at embeddingVersion. This is the only write path that produces
// chunk_embeddings rows; the derived index and pooled vectors are always
// rebuilt from these, never the reverse.
func (s *Store) UpsertChunkEmbeddings(ctx context.Context, embeddingVersion string, embeddings map[string][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	ids := make([]string, 0, len(embeddings))
	for chunkID, vec := range embeddings {
		ids = append(ids, chunkID)
		batch.Queue(`
INSERT INTO chunk_embeddings (chunk_id, embedding_version, dim, vec)
VALUES ($1,$2,$3,$4)
ON CONFLICT (chunk_id, embedding_version) DO UPDATE SET dim=EXCLUDED.dim, vec=EXCLUDED.vec`,
			chunkID, embeddingVersion, len(vec), toFloat64Slice(vec))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ids {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert chunk embedding: %w", err)
		}
	}
	return nil
}

// ChunkEmbeddingsForNote reads the source-of-truth vectors for a note's
// chunks at embeddingVersion, the only input the derived index rebuild
// path needs.
func (s *Store) ChunkEmbeddingsForNote(ctx context.Context, noteID, embeddingVersion string) ([]ChunkEmbedding, error) {
	rows, err := s.pool.Query(ctx, `
SELECT ce.chunk_id, ce.embedding_version, ce.dim, ce.vec
FROM chunk_embeddings ce
JOIN note_chunks nc ON nc.chunk_id = ce.chunk_id
WHERE nc.note_id=$1 AND ce.embedding_version=$2`, noteID, embeddingVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkEmbedding
	for rows.Next() {
		var e ChunkEmbedding
		if err := rows.Scan(&e.ChunkID, &e.EmbeddingVersion, &e.Dim, &e.Vec); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllChunkEmbeddings streams every chunk embedding at embeddingVersion,
// used by the admin rebuild-from-authoritative operation to repopulate the
// derived index without calling the embedding provider.
func (s *Store) AllChunkEmbeddings(ctx context.Context, embeddingVersion string) ([]ChunkEmbedding, error) {
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, embedding_version, dim, vec FROM chunk_embeddings WHERE embedding_version=$1`, embeddingVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkEmbedding
	for rows.Next() {
		var e ChunkEmbedding
		if err := rows.Scan(&e.ChunkID, &e.EmbeddingVersion, &e.Dim, &e.Vec); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetPooledEmbedding stores the mean chunk vector for a note, used for
// duplicate/similarity detection at ingest time.
func (s *Store) SetPooledEmbedding(ctx context.Context, noteID, embeddingVersion string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pooled_note_embeddings (note_id, embedding_version, vec)
VALUES ($1,$2,$3::vector)
ON CONFLICT (note_id, embedding_version) DO UPDATE SET vec=EXCLUDED.vec`,
		noteID, embeddingVersion, toVectorLiteral(vec))
	return err
}

// SimilarNote is one candidate returned by MostSimilarPooled, with cosine
// similarity in [-1, 1] (1 = identical direction).
type SimilarNote struct {
	NoteID     string
	Similarity float64
	UpdatedAt  time.Time
}

// MostSimilarPooled finds the most similar active notes (by pooled
// embedding cosine similarity) within the given identity scope, feeding
// the update resolver's similarity-based path. UpdatedAt is carried
// through so the resolver can break similarity ties on recency.
func (s *Store) MostSimilarPooled(ctx context.Context, tenant, project, agent, scope, noteType, embeddingVersion string, vec []float32, limit int) ([]SimilarNote, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
SELECT n.note_id, 1 - (p.vec <=> $1::vector) AS similarity, n.updated_at
FROM pooled_note_embeddings p
JOIN notes n ON n.note_id = p.note_id
WHERE p.embedding_version = $2 AND n.status = 'active'
  AND n.tenant=$3 AND n.project=$4 AND n.agent=$5 AND n.scope=$6 AND n.type=$7
ORDER BY p.vec <=> $1::vector
LIMIT $8`, toVectorLiteral(vec), embeddingVersion, tenant, project, agent, scope, noteType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SimilarNote
	for rows.Next() {
		var sn SimilarNote
		if err := rows.Scan(&sn.NoteID, &sn.Similarity, &sn.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// RebuildRow is one chunk's full authoritative state, joined with its
// owning note, used by the admin rebuild-from-authoritative operation to
// repopulate the derived index without ever calling the embedding
// provider: every vector it needs already lives in chunk_embeddings.
type RebuildRow struct {
	Chunk
	Vec              []float64
	Note             Note
	EmbeddingVersion string
}

// AllChunksForRebuild streams every chunk of every active note at
// embeddingVersion, alongside its authoritative dense vector and owning
// note, for the admin rebuild operation.
func (s *Store) AllChunksForRebuild(ctx context.Context, embeddingVersion string) ([]RebuildRow, error) {
	rows, err := s.pool.Query(ctx, `
SELECT nc.chunk_id, nc.note_id, nc.chunk_index, nc.byte_start, nc.byte_end, nc.text,
       ce.vec,
       n.note_id, n.tenant, n.project, n.agent, n.scope, n.type, n.key, n.text, n.importance,
       n.confidence, n.status, n.created_at, n.updated_at, n.expires_at,
       n.embedding_version, n.source_ref, n.hit_count, n.last_hit_at
FROM note_chunks nc
JOIN chunk_embeddings ce ON ce.chunk_id = nc.chunk_id AND ce.embedding_version = $1
JOIN notes n ON n.note_id = nc.note_id
WHERE n.status = 'active'`, embeddingVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RebuildRow
	for rows.Next() {
		var r RebuildRow
		r.EmbeddingVersion = embeddingVersion
		if err := rows.Scan(&r.ChunkID, &r.NoteID, &r.ChunkIndex, &r.ByteStart, &r.ByteEnd, &r.Text,
			&r.Vec,
			&r.Note.NoteID, &r.Note.Tenant, &r.Note.Project, &r.Note.Agent, &r.Note.Scope, &r.Note.Type,
			&r.Note.Key, &r.Note.Text, &r.Note.Importance, &r.Note.Confidence, &r.Note.Status,
			&r.Note.CreatedAt, &r.Note.UpdatedAt, &r.Note.ExpiresAt, &r.Note.EmbeddingVersion,
			&r.Note.SourceRef, &r.Note.HitCount, &r.Note.LastHitAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func toFloat64Slice(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
