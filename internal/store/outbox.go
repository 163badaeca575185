package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// insertOutboxJob enqueues an indexing job inside an already-open
// transaction, so it is always atomic with the note mutation that
// produced it.
func insertOutboxJob(ctx context.Context, tx pgx.Tx, noteID, op, embeddingVersion string) error {
	_, err := tx.Exec(ctx, `
INSERT INTO indexing_outbox (note_id, op, embedding_version) VALUES ($1,$2,$3)`,
		noteID, op, embeddingVersion)
	return err
}

// LeaseJobs claims up to limit due jobs for this worker, using
// SELECT ... FOR UPDATE SKIP LOCKED so multiple worker processes can drain
// the outbox concurrently without double-processing a job. FAILED rows
// with a due available_at are retried the same as PENDING rows; a job
// stops being retried only once maxAttempts is reached (enforced by
// FailJob, which stops advancing available_at at that point).
func (s *Store) LeaseJobs(ctx context.Context, limit int) ([]OutboxJob, error) {
	var jobs []OutboxJob
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT outbox_id, note_id, op, embedding_version, status, attempts, last_error, available_at, created_at
FROM indexing_outbox
WHERE status IN ('PENDING', 'FAILED') AND available_at <= now()
ORDER BY available_at
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var j OutboxJob
			if err := rows.Scan(&j.OutboxID, &j.NoteID, &j.Op, &j.EmbeddingVersion, &j.Status,
				&j.Attempts, &j.LastError, &j.AvailableAt, &j.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			jobs = append(jobs, j)
			ids = append(ids, j.OutboxID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE indexing_outbox SET status='CLAIMED' WHERE outbox_id = ANY($1)`, ids); err != nil {
			return err
		}
		for i := range jobs {
			jobs[i].Status = OutboxStatusClaimed
		}
		return nil
	})
	return jobs, err
}

// CompleteJob marks a claimed job DONE.
func (s *Store) CompleteJob(ctx context.Context, outboxID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE indexing_outbox SET status='DONE' WHERE outbox_id=$1`, outboxID)
	return err
}

// FailJob records a processing failure: status becomes FAILED and
// available_at advances by backoff, so the job is re-leasable once due.
// Once attempts reaches maxAttempts, available_at is pushed to infinity
// instead, marking the job permanently failed without a separate status
// value — the note's search visibility degrades gracefully (stale or
// absent derived-index entries) rather than blocking the pipeline.
func (s *Store) FailJob(ctx context.Context, outboxID int64, errMsg string, maxAttempts int, backoff time.Duration) error {
	_, err := s.pool.Exec(ctx, `
UPDATE indexing_outbox
SET attempts = attempts + 1,
    last_error = $2,
    status = 'FAILED',
    available_at = CASE WHEN attempts + 1 >= $3 THEN 'infinity'::timestamptz
                         ELSE now() + make_interval(secs => $4) END
WHERE outbox_id = $1`, outboxID, errMsg, maxAttempts, backoff.Seconds())
	return err
}
