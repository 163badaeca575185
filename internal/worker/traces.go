package worker

import (
	"context"
	"encoding/json"
	"time"

	"elfmemory/internal/store"
)

// traceMaxAttempts is lower than the indexing outbox cap: a trace payload
// that cannot persist is diagnostic data and gets dropped, never parked.
const traceMaxAttempts = 5

// RunTraceLoop drains the trace outbox on interval until ctx is
// cancelled. Trace persistence is best-effort end to end: failures here
// never affect the searches that produced the payloads.
func (w *Worker) RunTraceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.DrainTracesOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("trace outbox drain failed")
			}
		}
	}
}

// DrainTracesOnce leases and persists one batch of trace payloads,
// continuing until a lease comes back empty.
func (w *Worker) DrainTracesOnce(ctx context.Context) error {
	for {
		jobs, err := w.store.LeaseTraceJobs(ctx, w.leaseBatch)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, job := range jobs {
			w.persistTrace(ctx, job)
		}
	}
}

func (w *Worker) persistTrace(ctx context.Context, job store.TraceOutboxJob) {
	var payload store.TracePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// Unparseable payloads can never succeed; drop immediately.
		w.logger.Error().Err(err).Int64("trace_outbox_id", job.TraceOutboxID).Msg("trace payload unparseable, dropping")
		if cerr := w.store.CompleteTraceJob(ctx, job.TraceOutboxID); cerr != nil {
			w.logger.Error().Err(cerr).Msg("drop trace job failed")
		}
		return
	}
	err := w.store.InsertTrace(ctx, payload.Trace, payload.Items, payload.Stages, payload.Candidates)
	if err == nil {
		if cerr := w.store.CompleteTraceJob(ctx, job.TraceOutboxID); cerr != nil {
			w.logger.Error().Err(cerr).Int64("trace_outbox_id", job.TraceOutboxID).Msg("complete trace job failed")
		}
		w.metrics.IncCounter("worker_trace_total", map[string]string{"result": "done"})
		return
	}
	w.logger.Warn().Err(err).Str("trace_id", payload.Trace.TraceID).Msg("trace persist failed, will retry")
	if ferr := w.store.FailTraceJob(ctx, job.TraceOutboxID, err.Error(), traceMaxAttempts, backoffFor(job.Attempts+1)); ferr != nil {
		w.logger.Error().Err(ferr).Msg("fail trace job failed")
	}
	w.metrics.IncCounter("worker_trace_total", map[string]string{"result": "failed"})
}
