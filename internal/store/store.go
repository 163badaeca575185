// Package store is the authoritative relational store: notes, chunks,
// chunk embeddings, pooled note embeddings, append-only note versions, the
// transactional indexing outbox, search traces, and space grants. Every
// write that must be atomic with an outbox enqueue goes through a single
// pgx transaction; nothing here calls an embedding provider or the derived
// vector index directly.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool with the ELF schema's DAOs.
type Store struct {
	pool      *pgxpool.Pool
	vectorDim int
}

// Open connects to dsn, ensures the schema exists, and returns a ready
// Store. vectorDim sizes the pgvector column used for pooled-embedding
// similarity search at ingest time (the source-of-truth chunk vectors
// themselves are stored without a fixed pgvector type so the column never
// needs migrating when embedding_version changes width).
func Open(ctx context.Context, dsn string, maxConns, minConns int32, vectorDim int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{pool: pool, vectorDim: vectorDim}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for components that need a raw
// transaction spanning multiple DAOs (the ingest pipeline's note+version+
// outbox write, the worker's claim-and-complete cycle).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
