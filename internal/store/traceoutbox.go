package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// TracePayload is the full trace snapshot the search pipeline enqueues and
// the worker later expands into search_traces and its child tables. It
// travels as one JSONB blob so enqueueing is a single best-effort insert
// on the request path.
type TracePayload struct {
	Trace      TraceRecord      `json:"trace"`
	Items      []TraceItem      `json:"items"`
	Stages     []TraceStage     `json:"stages,omitempty"`
	Candidates []TraceCandidate `json:"candidates,omitempty"`
}

// TraceOutboxJob is one leased trace_outbox row.
type TraceOutboxJob struct {
	TraceOutboxID int64
	Payload       json.RawMessage
	Attempts      int
}

// EnqueueTrace inserts the payload on the trace outbox. Callers treat a
// returned error as a logging matter only: trace persistence is
// best-effort and must never fail the search that produced it.
func (s *Store) EnqueueTrace(ctx context.Context, p TracePayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO trace_outbox (payload) VALUES ($1)`, raw)
	return err
}

// LeaseTraceJobs claims up to limit due trace payloads with the same
// SKIP LOCKED discipline as the indexing outbox.
func (s *Store) LeaseTraceJobs(ctx context.Context, limit int) ([]TraceOutboxJob, error) {
	var jobs []TraceOutboxJob
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT trace_outbox_id, payload, attempts
FROM trace_outbox
WHERE status IN ('PENDING', 'FAILED') AND available_at <= now()
ORDER BY available_at
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var j TraceOutboxJob
			if err := rows.Scan(&j.TraceOutboxID, &j.Payload, &j.Attempts); err != nil {
				rows.Close()
				return err
			}
			jobs = append(jobs, j)
			ids = append(ids, j.TraceOutboxID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE trace_outbox SET status='CLAIMED' WHERE trace_outbox_id = ANY($1)`, ids)
		return err
	})
	return jobs, err
}

// CompleteTraceJob deletes a persisted trace payload; the expanded rows in
// search_traces are the durable record, so the outbox row has no further
// use.
func (s *Store) CompleteTraceJob(ctx context.Context, traceOutboxID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM trace_outbox WHERE trace_outbox_id=$1`, traceOutboxID)
	return err
}

// FailTraceJob re-schedules a trace payload after a persistence failure.
// Trace payloads that keep failing past maxAttempts are dropped outright
// rather than parked, since a trace is diagnostic data, not domain state.
func (s *Store) FailTraceJob(ctx context.Context, traceOutboxID int64, errMsg string, maxAttempts int, backoff time.Duration) error {
	_, err := s.pool.Exec(ctx, `
UPDATE trace_outbox
SET attempts = attempts + 1, last_error = $2, status = 'FAILED',
    available_at = now() + make_interval(secs => $3)
WHERE trace_outbox_id = $1`, traceOutboxID, errMsg, backoff.Seconds())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM trace_outbox WHERE trace_outbox_id=$1 AND attempts >= $2`,
		traceOutboxID, maxAttempts)
	return err
}
