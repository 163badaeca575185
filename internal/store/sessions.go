package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// SearchSession is the persisted record of one search call: the compact
// response plus the retrieval trajectory, addressable by search_id so the
// searches resource supports get/timeline/notes subresource reads.
type SearchSession struct {
	SearchID    string
	Tenant      string
	Project     string
	Agent       string
	ReadProfile string
	Query       string
	TraceID     string
	Response    json.RawMessage
	Trajectory  json.RawMessage
	CreatedAt   time.Time
}

// ErrSessionNotFound reports a search_id with no stored session.
var ErrSessionNotFound = errors.New("store: search session not found")

// InsertSearchSession stores a completed search. Best-effort from the
// search pipeline's perspective.
func (s *Store) InsertSearchSession(ctx context.Context, sess SearchSession) error {
	trajectory := sess.Trajectory
	if trajectory == nil {
		trajectory = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO search_sessions (search_id, tenant, project, agent, read_profile, query, trace_id, response, trajectory)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sess.SearchID, sess.Tenant, sess.Project, sess.Agent, sess.ReadProfile,
		sess.Query, sess.TraceID, sess.Response, trajectory)
	return err
}

// GetSearchSessionAnyTenant fetches a stored search by id without a
// tenant constraint. Admin surface only.
func (s *Store) GetSearchSessionAnyTenant(ctx context.Context, searchID string) (SearchSession, error) {
	var sess SearchSession
	err := s.pool.QueryRow(ctx, `
SELECT search_id, tenant, project, agent, read_profile, query, trace_id, response, trajectory, created_at
FROM search_sessions WHERE search_id=$1`, searchID).Scan(
		&sess.SearchID, &sess.Tenant, &sess.Project, &sess.Agent, &sess.ReadProfile,
		&sess.Query, &sess.TraceID, &sess.Response, &sess.Trajectory, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SearchSession{}, ErrSessionNotFound
	}
	if err != nil {
		return SearchSession{}, err
	}
	return sess, nil
}

// GetSearchSession fetches a stored search by id, scoped to its tenant so
// one tenant can never read another's sessions.
func (s *Store) GetSearchSession(ctx context.Context, tenant, searchID string) (SearchSession, error) {
	var sess SearchSession
	err := s.pool.QueryRow(ctx, `
SELECT search_id, tenant, project, agent, read_profile, query, trace_id, response, trajectory, created_at
FROM search_sessions WHERE search_id=$1 AND tenant=$2`, searchID, tenant).Scan(
		&sess.SearchID, &sess.Tenant, &sess.Project, &sess.Agent, &sess.ReadProfile,
		&sess.Query, &sess.TraceID, &sess.Response, &sess.Trajectory, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SearchSession{}, ErrSessionNotFound
	}
	if err != nil {
		return SearchSession{}, err
	}
	return sess, nil
}
