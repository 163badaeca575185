package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TraceRecord mirrors search_traces.
type TraceRecord struct {
	TraceID         string
	Tenant          string
	Query           string
	ExpansionMode   string
	ExpandedQueries []string
	AllowedScopes   []string
	CandidateCount  int
	TopK            int
	ConfigSnapshot  json.RawMessage
	SchemaVersion   string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// TraceItem mirrors search_trace_items.
type TraceItem struct {
	TraceID    string
	Rank       int
	NoteID     string
	ChunkID    string
	FinalScore float64
	Explain    json.RawMessage
}

// TraceStage mirrors search_trace_stages.
type TraceStage struct {
	TraceID        string
	StageName      string
	CandidateIn    int
	CandidateOut   int
	DurationMicros int64
}

// TraceCandidate mirrors search_trace_candidates.
type TraceCandidate struct {
	TraceID       string
	ChunkID       string
	NoteID        string
	RetrievalRank int
	FusionScore   float64
}

// InsertTrace persists a trace and its items/stages/candidates in one
// transaction, called by the search pipeline's async trace-enqueue step
// (never on the synchronous request path).
func (s *Store) InsertTrace(ctx context.Context, t TraceRecord, items []TraceItem, stages []TraceStage, candidates []TraceCandidate) error {
	expanded, err := json.Marshal(t.ExpandedQueries)
	if err != nil {
		return err
	}
	scopes, err := json.Marshal(t.AllowedScopes)
	if err != nil {
		return err
	}
	snapshot := t.ConfigSnapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage(`{}`)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO search_traces (trace_id, tenant, query, expansion_mode, expanded_queries,
                            allowed_scopes, candidate_count, top_k, config_snapshot,
                            schema_version, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			t.TraceID, t.Tenant, t.Query, t.ExpansionMode, expanded, scopes,
			t.CandidateCount, t.TopK, snapshot, t.SchemaVersion, t.ExpiresAt); err != nil {
			return err
		}

		itemBatch := &pgx.Batch{}
		for _, it := range items {
			itemBatch.Queue(`
INSERT INTO search_trace_items (trace_id, rank, note_id, chunk_id, final_score, explain)
VALUES ($1,$2,$3,$4,$5,$6)`, it.TraceID, it.Rank, it.NoteID, it.ChunkID, it.FinalScore, it.Explain)
		}
		if err := execBatch(ctx, tx, itemBatch, len(items)); err != nil {
			return err
		}

		stageBatch := &pgx.Batch{}
		for _, st := range stages {
			stageBatch.Queue(`
INSERT INTO search_trace_stages (trace_id, stage_name, candidate_in, candidate_out, duration_micros)
VALUES ($1,$2,$3,$4,$5)`, st.TraceID, st.StageName, st.CandidateIn, st.CandidateOut, st.DurationMicros)
		}
		if err := execBatch(ctx, tx, stageBatch, len(stages)); err != nil {
			return err
		}

		candBatch := &pgx.Batch{}
		for _, c := range candidates {
			candBatch.Queue(`
INSERT INTO search_trace_candidates (trace_id, chunk_id, note_id, retrieval_rank, fusion_score)
VALUES ($1,$2,$3,$4,$5)`, c.TraceID, c.ChunkID, c.NoteID, c.RetrievalRank, c.FusionScore)
		}
		return execBatch(ctx, tx, candBatch, len(candidates))
	})
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) error {
	if n == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// RecentTraces lists the most recent trace summaries for a tenant.
func (s *Store) RecentTraces(ctx context.Context, tenant string, limit int) ([]TraceRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT trace_id, tenant, query, expansion_mode, expanded_queries, allowed_scopes,
       candidate_count, top_k, config_snapshot, schema_version, created_at, expires_at
FROM search_traces WHERE tenant=$1 ORDER BY created_at DESC LIMIT $2`, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TraceRecord
	for rows.Next() {
		var t TraceRecord
		var expanded, scopes []byte
		if err := rows.Scan(&t.TraceID, &t.Tenant, &t.Query, &t.ExpansionMode, &expanded, &scopes,
			&t.CandidateCount, &t.TopK, &t.ConfigSnapshot, &t.SchemaVersion, &t.CreatedAt, &t.ExpiresAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(expanded, &t.ExpandedQueries)
		_ = json.Unmarshal(scopes, &t.AllowedScopes)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TraceBundle returns a trace plus its items, stages, and candidates for
// the provenance/replay endpoint.
func (s *Store) TraceBundle(ctx context.Context, traceID string) (TraceRecord, []TraceItem, []TraceStage, []TraceCandidate, error) {
	var t TraceRecord
	var expanded, scopes []byte
	row := s.pool.QueryRow(ctx, `
SELECT trace_id, tenant, query, expansion_mode, expanded_queries, allowed_scopes,
       candidate_count, top_k, config_snapshot, schema_version, created_at, expires_at
FROM search_traces WHERE trace_id=$1`, traceID)
	if err := row.Scan(&t.TraceID, &t.Tenant, &t.Query, &t.ExpansionMode, &expanded, &scopes,
		&t.CandidateCount, &t.TopK, &t.ConfigSnapshot, &t.SchemaVersion, &t.CreatedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TraceRecord{}, nil, nil, nil, ErrNotFound
		}
		return TraceRecord{}, nil, nil, nil, err
	}
	_ = json.Unmarshal(expanded, &t.ExpandedQueries)
	_ = json.Unmarshal(scopes, &t.AllowedScopes)

	items, err := queryTraceItems(ctx, s.pool, traceID)
	if err != nil {
		return t, nil, nil, nil, err
	}
	stages, err := queryTraceStages(ctx, s.pool, traceID)
	if err != nil {
		return t, items, nil, nil, err
	}
	candidates, err := queryTraceCandidates(ctx, s.pool, traceID)
	return t, items, stages, candidates, err
}

func queryTraceItems(ctx context.Context, q querier, traceID string) ([]TraceItem, error) {
	rows, err := q.Query(ctx, `
SELECT trace_id, rank, note_id, chunk_id, final_score, explain
FROM search_trace_items WHERE trace_id=$1 ORDER BY rank`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TraceItem
	for rows.Next() {
		var it TraceItem
		if err := rows.Scan(&it.TraceID, &it.Rank, &it.NoteID, &it.ChunkID, &it.FinalScore, &it.Explain); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func queryTraceStages(ctx context.Context, q querier, traceID string) ([]TraceStage, error) {
	rows, err := q.Query(ctx, `
SELECT trace_id, stage_name, candidate_in, candidate_out, duration_micros
FROM search_trace_stages WHERE trace_id=$1`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TraceStage
	for rows.Next() {
		var st TraceStage
		if err := rows.Scan(&st.TraceID, &st.StageName, &st.CandidateIn, &st.CandidateOut, &st.DurationMicros); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func queryTraceCandidates(ctx context.Context, q querier, traceID string) ([]TraceCandidate, error) {
	rows, err := q.Query(ctx, `
SELECT trace_id, chunk_id, note_id, retrieval_rank, fusion_score
FROM search_trace_candidates WHERE trace_id=$1 ORDER BY retrieval_rank`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TraceCandidate
	for rows.Next() {
		var c TraceCandidate
		if err := rows.Scan(&c.TraceID, &c.ChunkID, &c.NoteID, &c.RetrievalRank, &c.FusionScore); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PurgeExpiredTraces removes traces (and their items/stages/candidates)
// past their expiry, run by the worker's trace-GC cycle.
func (s *Store) PurgeExpiredTraces(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_traces WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
