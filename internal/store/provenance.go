package store

import "context"

// VersionsForNote returns the note's full append-only audit trail, oldest
// first.
func (s *Store) VersionsForNote(ctx context.Context, noteID string) ([]NoteVersion, error) {
	rows, err := s.pool.Query(ctx, `
SELECT version_id, note_id, op, COALESCE(reason,''), COALESCE(actor,''), created_at,
       COALESCE(prev_text,''), COALESCE(new_text,'')
FROM note_versions WHERE note_id=$1 ORDER BY version_id`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NoteVersion
	for rows.Next() {
		var v NoteVersion
		if err := rows.Scan(&v.VersionID, &v.NoteID, &v.Op, &v.Reason, &v.Actor,
			&v.CreatedAt, &v.PrevText, &v.NewText); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// OutboxJobsForNote returns every indexing job a note has produced, oldest
// first, for provenance display.
func (s *Store) OutboxJobsForNote(ctx context.Context, noteID string) ([]OutboxJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT outbox_id, note_id, op, embedding_version, status, attempts, last_error, available_at, created_at
FROM indexing_outbox WHERE note_id=$1 ORDER BY outbox_id`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxJob
	for rows.Next() {
		var j OutboxJob
		if err := rows.Scan(&j.OutboxID, &j.NoteID, &j.Op, &j.EmbeddingVersion, &j.Status,
			&j.Attempts, &j.LastError, &j.AvailableAt, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
