package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// NoteHit is one hit-accounting row appended when a search with
// record_hits returns a note.
type NoteHit struct {
	NoteID  string
	ChunkID string
	Tenant  string
	Project string
	Agent   string
	TraceID string
}

// RecordHits appends a note_hits row per returned note and bumps the
// notes' hit counters in one transaction. Best-effort from the caller's
// perspective: a failure here never fails the search.
func (s *Store) RecordHits(ctx context.Context, hits []NoteHit) error {
	if len(hits) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		noteIDs := make([]string, len(hits))
		for i, h := range hits {
			noteIDs[i] = h.NoteID
			if _, err := tx.Exec(ctx, `
INSERT INTO note_hits (note_id, chunk_id, tenant, project, agent, trace_id)
VALUES ($1,$2,$3,$4,$5,$6)`,
				h.NoteID, h.ChunkID, h.Tenant, h.Project, h.Agent, nullIfEmpty(h.TraceID)); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
UPDATE notes SET hit_count = hit_count + 1, last_hit_at = now()
WHERE note_id = ANY($1)`, noteIDs)
		return err
	})
}
