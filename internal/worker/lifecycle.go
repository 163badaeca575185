package worker

import (
	"context"
	"time"
)

// RunLifecycleLoop runs the worker's periodic GC duties — tombstoning
// expired active notes, purging tombstoned and stale-deprecated notes, and
// purging expired search traces — on interval until ctx is cancelled.
// These are bookkeeping sweeps, not outbox jobs, so they run on their own
// ticker rather than sharing the lease loop's cadence.
func (w *Worker) RunLifecycleLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runLifecycleOnce(ctx)
		}
	}
}

func (w *Worker) runLifecycleOnce(ctx context.Context) {
	now := time.Now()

	// Expired notes are tombstoned, not silently flipped: each gets a
	// DELETE version row and a DELETE outbox job so the derived index
	// drops its points.
	if n, err := w.store.DeleteExpiredBefore(ctx, now); err != nil {
		w.logger.Error().Err(err).Msg("delete expired notes failed")
	} else if n > 0 {
		w.logger.Info().Int64("count", n).Msg("tombstoned expired notes")
		w.metrics.IncCounter("lifecycle_gc_total", map[string]string{"op": "delete_expired"})
	}

	deletedCutoff := now.Add(-time.Duration(w.cfg.Lifecycle.PurgeDeletedAfterDays) * 24 * time.Hour)
	if n, err := w.store.PurgeDeletedBefore(ctx, deletedCutoff); err != nil {
		w.logger.Error().Err(err).Msg("purge deleted notes failed")
	} else if n > 0 {
		w.logger.Info().Int64("count", n).Msg("purged deleted notes")
		w.metrics.IncCounter("lifecycle_gc_total", map[string]string{"op": "purge_deleted"})
	}

	deprecatedCutoff := now.Add(-time.Duration(w.cfg.Lifecycle.PurgeDeprecatedAfterDays) * 24 * time.Hour)
	if n, err := w.store.PurgeDeprecatedStale(ctx, deprecatedCutoff); err != nil {
		w.logger.Error().Err(err).Msg("purge stale deprecated notes failed")
	} else if n > 0 {
		w.logger.Info().Int64("count", n).Msg("purged stale deprecated notes")
		w.metrics.IncCounter("lifecycle_gc_total", map[string]string{"op": "purge_deprecated"})
	}

	// Expiring llm_cache entries is handled by Redis TTLs set at write
	// time (internal/cache); search_traces carry their own expires_at and
	// are purged here since Postgres rows don't self-expire.
	if n, err := w.store.PurgeExpiredTraces(ctx, now); err != nil {
		w.logger.Error().Err(err).Msg("purge expired traces failed")
	} else if n > 0 {
		w.logger.Info().Int64("count", n).Msg("purged expired traces")
		w.metrics.IncCounter("lifecycle_gc_total", map[string]string{"op": "purge_traces"})
	}
}
