package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("store: not found")

// InsertNoteParams is the input to InsertNote; EmbeddingVersion tags which
// chunking/provider generation this note's vectors will belong to.
type InsertNoteParams struct {
	NoteID           string
	Tenant           string
	Project          string
	Agent            string
	Scope            string
	Type             string
	Key              *string
	Text             string
	Importance       float64
	Confidence       float64
	EmbeddingVersion string
	SourceRef        json.RawMessage
	Reason           string
	Actor            string
}

// InsertNote writes the note row, its ADD version, and an UPSERT outbox
// job in a single transaction, so a note is never observable without a
// pending (or completed) indexing job.
func (s *Store) InsertNote(ctx context.Context, p InsertNoteParams) (Note, error) {
	var n Note
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO notes (note_id, tenant, project, agent, scope, type, key, text,
                    importance, confidence, embedding_version, source_ref)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING note_id, tenant, project, agent, scope, type, key, text, importance,
          confidence, status, created_at, updated_at, expires_at,
          embedding_version, source_ref, hit_count, last_hit_at
`, p.NoteID, p.Tenant, p.Project, p.Agent, p.Scope, p.Type, p.Key, p.Text,
			p.Importance, p.Confidence, p.EmbeddingVersion, sourceRefOrEmpty(p.SourceRef))
		if err := scanNote(row, &n); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO note_versions (note_id, op, reason, actor, new_text)
VALUES ($1,$2,$3,$4,$5)`, n.NoteID, VersionOpAdd, p.Reason, p.Actor, n.Text); err != nil {
			return fmt.Errorf("insert note version: %w", err)
		}

		if err := insertOutboxJob(ctx, tx, n.NoteID, OutboxOpUpsert, p.EmbeddingVersion); err != nil {
			return err
		}
		return nil
	})
	return n, err
}

// UpdateNoteParams describes an UPDATE to an existing note's text/scoring.
// SourceRef is optional: a nil value leaves the note's existing source_ref
// untouched, used by the ingest pipeline's NONE-plus-side-effect path
// where only the source_ref needs merging and the text is unchanged.
type UpdateNoteParams struct {
	NoteID           string
	Text             string
	Importance       float64
	Confidence       float64
	EmbeddingVersion string
	SourceRef        json.RawMessage
	Reason           string
	Actor            string
}

// UpdateNote rewrites a note's text and re-enqueues indexing, recording
// the prior text in the version trail.
func (s *Store) UpdateNote(ctx context.Context, p UpdateNoteParams) (Note, error) {
	var n Note
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var prevText string
		if err := tx.QueryRow(ctx, `SELECT text FROM notes WHERE note_id=$1 FOR UPDATE`, p.NoteID).Scan(&prevText); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		row := tx.QueryRow(ctx, `
UPDATE notes SET text=$2, importance=$3, confidence=$4, embedding_version=$5,
                  source_ref=COALESCE($6, source_ref), updated_at=now()
WHERE note_id=$1
RETURNING note_id, tenant, project, agent, scope, type, key, text, importance,
          confidence, status, created_at, updated_at, expires_at,
          embedding_version, source_ref, hit_count, last_hit_at
`, p.NoteID, p.Text, p.Importance, p.Confidence, p.EmbeddingVersion, nullableJSON(p.SourceRef))
		if err := scanNote(row, &n); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO note_versions (note_id, op, reason, actor, prev_text, new_text)
VALUES ($1,$2,$3,$4,$5,$6)`, n.NoteID, VersionOpUpdate, p.Reason, p.Actor, prevText, n.Text); err != nil {
			return fmt.Errorf("insert note version: %w", err)
		}

		return insertOutboxJob(ctx, tx, n.NoteID, OutboxOpUpsert, p.EmbeddingVersion)
	})
	return n, err
}

// SetScope moves a note to a new visibility scope (publish/unpublish),
// re-enqueuing its UPSERT job since the derived-index payload carries
// scope and must be refreshed.
func (s *Store) SetScope(ctx context.Context, noteID, scope, reason, actor string) (Note, error) {
	var n Note
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE notes SET scope=$2, updated_at=now() WHERE note_id=$1
RETURNING note_id, tenant, project, agent, scope, type, key, text, importance,
          confidence, status, created_at, updated_at, expires_at,
          embedding_version, source_ref, hit_count, last_hit_at`, noteID, scope)
		if err := scanNote(row, &n); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO note_versions (note_id, op, reason, actor, new_text)
VALUES ($1,$2,$3,$4,$5)`, n.NoteID, VersionOpUpdate, reason, actor, n.Text); err != nil {
			return fmt.Errorf("insert note version: %w", err)
		}
		return insertOutboxJob(ctx, tx, n.NoteID, OutboxOpUpsert, n.EmbeddingVersion)
	})
	return n, err
}

// DeprecateNote marks a note deprecated without removing it from search
// immediately; lifecycle GC later transitions it to deleted.
func (s *Store) DeprecateNote(ctx context.Context, noteID, reason, actor string) error {
	return s.transitionStatus(ctx, noteID, NoteStatusDeprecated, VersionOpDeprecate, reason, actor, false)
}

// DeleteNote tombstones a note and enqueues a derived-index DELETE.
func (s *Store) DeleteNote(ctx context.Context, noteID, reason, actor string) error {
	return s.transitionStatus(ctx, noteID, NoteStatusDeleted, VersionOpDelete, reason, actor, true)
}

func (s *Store) transitionStatus(ctx context.Context, noteID, status, op, reason, actor string, enqueueDelete bool) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var prevText, embeddingVersion string
		err := tx.QueryRow(ctx, `SELECT text, embedding_version FROM notes WHERE note_id=$1 FOR UPDATE`, noteID).
			Scan(&prevText, &embeddingVersion)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE notes SET status=$2, updated_at=now() WHERE note_id=$1`, noteID, status); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO note_versions (note_id, op, reason, actor, prev_text) VALUES ($1,$2,$3,$4,$5)`,
			noteID, op, reason, actor, prevText); err != nil {
			return fmt.Errorf("insert note version: %w", err)
		}
		if enqueueDelete {
			return insertOutboxJob(ctx, tx, noteID, OutboxOpDelete, embeddingVersion)
		}
		return nil
	})
}

// GetNote fetches a single note by id.
func (s *Store) GetNote(ctx context.Context, noteID string) (Note, error) {
	var n Note
	row := s.pool.QueryRow(ctx, `
SELECT note_id, tenant, project, agent, scope, type, key, text, importance,
       confidence, status, created_at, updated_at, expires_at,
       embedding_version, source_ref, hit_count, last_hit_at
FROM notes WHERE note_id=$1`, noteID)
	if err := scanNote(row, &n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Note{}, ErrNotFound
		}
		return Note{}, err
	}
	return n, nil
}

// FindActiveByKey looks up the single active note for a key-bound identity
// tuple, used by the update resolver's key-based path. Returns ErrNotFound
// when no such note exists.
func (s *Store) FindActiveByKey(ctx context.Context, tenant, project, agent, scope, noteType, key string) (Note, error) {
	var n Note
	row := s.pool.QueryRow(ctx, `
SELECT note_id, tenant, project, agent, scope, type, key, text, importance,
       confidence, status, created_at, updated_at, expires_at,
       embedding_version, source_ref, hit_count, last_hit_at
FROM notes
WHERE tenant=$1 AND project=$2 AND agent=$3 AND scope=$4 AND type=$5 AND key=$6 AND status='active'`,
		tenant, project, agent, scope, noteType, key)
	if err := scanNote(row, &n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Note{}, ErrNotFound
		}
		return Note{}, err
	}
	return n, nil
}

// TouchHits increments hit_count and sets last_hit_at for the given notes,
// called after a search response is assembled.
func (s *Store) TouchHits(ctx context.Context, noteIDs []string) error {
	if len(noteIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
UPDATE notes SET hit_count = hit_count + 1, last_hit_at = now()
WHERE note_id = ANY($1)`, noteIDs)
	return err
}

// PurgeDeletedBefore removes tombstoned notes older than cutoff (cascades
// to chunks/embeddings/versions via FK).
func (s *Store) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE status='deleted' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredBefore tombstones expired active notes. Every transition
// gets a DELETE version row and a derived-index DELETE outbox job in the
// same transaction, so the audit trail stays append-only-complete and the
// worker converges the derived index instead of leaving stale
// status=active points behind. SKIP LOCKED keeps concurrent GC sweeps
// from contending on the same rows.
func (s *Store) DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT note_id, text, embedding_version FROM notes
WHERE status='active' AND expires_at IS NOT NULL AND expires_at < $1
FOR UPDATE SKIP LOCKED`, now)
		if err != nil {
			return err
		}
		type expiredNote struct {
			noteID           string
			text             string
			embeddingVersion string
		}
		var expired []expiredNote
		for rows.Next() {
			var e expiredNote
			if err := rows.Scan(&e.noteID, &e.text, &e.embeddingVersion); err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, e := range expired {
			if _, err := tx.Exec(ctx, `UPDATE notes SET status='deleted', updated_at=now() WHERE note_id=$1`, e.noteID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO note_versions (note_id, op, reason, actor, prev_text) VALUES ($1,$2,$3,$4,$5)`,
				e.noteID, VersionOpDelete, "expired", "lifecycle-gc", e.text); err != nil {
				return fmt.Errorf("insert note version: %w", err)
			}
			if err := insertOutboxJob(ctx, tx, e.noteID, OutboxOpDelete, e.embeddingVersion); err != nil {
				return err
			}
		}
		count = int64(len(expired))
		return nil
	})
	return count, err
}

// PurgeDeprecatedStale removes deprecated notes that have sat untouched
// since before cutoff, the counterpart to PurgeDeletedBefore for notes
// that aged out rather than being explicitly deleted.
func (s *Store) PurgeDeprecatedStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE status='deprecated' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NotesByIDs bulk-fetches notes for authoritative revalidation of search
// candidates. Missing ids are silently omitted rather than erroring, since
// a candidate note may have been purged between index lookup and
// revalidation.
func (s *Store) NotesByIDs(ctx context.Context, noteIDs []string) (map[string]Note, error) {
	out := make(map[string]Note, len(noteIDs))
	if len(noteIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT note_id, tenant, project, agent, scope, type, key, text, importance,
       confidence, status, created_at, updated_at, expires_at,
       embedding_version, source_ref, hit_count, last_hit_at
FROM notes WHERE note_id = ANY($1)`, noteIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var n Note
		if err := scanNote(rows, &n); err != nil {
			return nil, err
		}
		out[n.NoteID] = n
	}
	return out, rows.Err()
}

func sourceRefOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

// nullableJSON maps an empty RawMessage to a SQL NULL so COALESCE leaves
// the stored value untouched instead of overwriting it with an empty object.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner, n *Note) error {
	return row.Scan(&n.NoteID, &n.Tenant, &n.Project, &n.Agent, &n.Scope, &n.Type, &n.Key,
		&n.Text, &n.Importance, &n.Confidence, &n.Status, &n.CreatedAt, &n.UpdatedAt,
		&n.ExpiresAt, &n.EmbeddingVersion, &n.SourceRef, &n.HitCount, &n.LastHitAt)
}
