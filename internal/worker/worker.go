// Package worker drains the indexing outbox: chunking and embedding newly
// written or updated notes, maintaining the derived vector index, and
// running the periodic trace, lifecycle, and cache GC duties described
// alongside it.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"elfmemory/internal/cache"
	"elfmemory/internal/chunker"
	"elfmemory/internal/config"
	"elfmemory/internal/obs"
	"elfmemory/internal/providers"
	"elfmemory/internal/store"
	"elfmemory/internal/vectorindex"
)

// Worker processes due indexing_outbox jobs and runs periodic GC duties.
// A single Worker value may run sharded across processes: leasing uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never double
// process a job.
type Worker struct {
	cfg     config.Config
	store   *store.Store
	index   *vectorindex.Index
	embed   *providers.EmbeddingClient
	chunker *chunker.Chunker
	cache   *cache.Cache
	metrics obs.Metrics
	logger  zerolog.Logger

	leaseBatch  int
	maxAttempts int
}

// New constructs a Worker. cache may be nil: trace/GC duties that touch
// the LLM cache simply skip that step when absent.
func New(cfg config.Config, st *store.Store, idx *vectorindex.Index, embed *providers.EmbeddingClient, c *cache.Cache, metrics obs.Metrics, logger zerolog.Logger) *Worker {
	ck := chunker.New(cfg.Chunking.TokenizerID, cfg.Chunking.MaxTokens, cfg.Chunking.OverlapTokens)
	return &Worker{
		cfg:         cfg,
		store:       st,
		index:       idx,
		embed:       embed,
		chunker:     ck,
		cache:       c,
		metrics:     metrics,
		logger:      logger,
		leaseBatch:  16,
		maxAttempts: 8,
	}
}

// RunLeaseLoop leases and processes due outbox jobs every interval until
// ctx is cancelled, mirroring the outbox-poller lifecycle the indexing
// worker is specified to run.
func (w *Worker) RunLeaseLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.DrainOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

// DrainOnce leases one batch of due jobs and processes each, continuing
// until a lease returns no jobs.
func (w *Worker) DrainOnce(ctx context.Context) error {
	for {
		jobs, err := w.store.LeaseJobs(ctx, w.leaseBatch)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, job := range jobs {
			w.processJob(ctx, job)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job store.OutboxJob) {
	t0 := time.Now()
	var err error
	switch job.Op {
	case store.OutboxOpUpsert:
		err = w.processUpsert(ctx, job)
	case store.OutboxOpDelete:
		err = w.processDelete(ctx, job)
	default:
		err = nil
	}
	w.metrics.ObserveHistogram("worker_job_ms", float64(time.Since(t0).Milliseconds()),
		map[string]string{"op": job.Op})

	if err == nil {
		if cerr := w.store.CompleteJob(ctx, job.OutboxID); cerr != nil {
			w.logger.Error().Err(cerr).Int64("outbox_id", job.OutboxID).Msg("complete job failed")
		}
		w.metrics.IncCounter("worker_job_total", map[string]string{"op": job.Op, "result": "done"})
		return
	}

	w.logger.Warn().Err(err).Int64("outbox_id", job.OutboxID).Str("op", job.Op).Msg("job failed, will retry")
	backoff := backoffFor(job.Attempts + 1)
	if ferr := w.store.FailJob(ctx, job.OutboxID, err.Error(), w.maxAttempts, backoff); ferr != nil {
		w.logger.Error().Err(ferr).Int64("outbox_id", job.OutboxID).Msg("fail job failed")
	}
	w.metrics.IncCounter("worker_job_total", map[string]string{"op": job.Op, "result": "failed"})
}

// backoffFor computes a capped exponential backoff from attempt count.
// The outbox is a lease loop, not an HTTP call, so the jittered backoff
// client the providers use doesn't fit here; a plain doubling with a cap
// is enough to keep a flapping provider from being hammered.
func backoffFor(attempt int) time.Duration {
	const base = 2 * time.Second
	const capped = 10 * time.Minute
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= capped {
			return capped
		}
	}
	return d
}
