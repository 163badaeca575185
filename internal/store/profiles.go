package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IngestionProfile is a named per-project ingest preset: default
// importance/confidence/scope applied when an ingest request names the
// profile instead of spelling the values out.
type IngestionProfile struct {
	Tenant  string
	Project string
	Profile string
	Config  json.RawMessage
}

// ErrProfileNotFound reports an unregistered ingestion profile.
var ErrProfileNotFound = errors.New("store: ingestion profile not found")

// UpsertIngestionProfile registers or replaces a profile.
func (s *Store) UpsertIngestionProfile(ctx context.Context, p IngestionProfile) error {
	cfg := p.Config
	if cfg == nil {
		cfg = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingestion_profiles (tenant, project, profile, config, updated_at)
VALUES ($1,$2,$3,$4,now())
ON CONFLICT (tenant, project, profile) DO UPDATE SET config=EXCLUDED.config, updated_at=now()`,
		p.Tenant, p.Project, p.Profile, cfg)
	return err
}

// GetIngestionProfile fetches a registered profile.
func (s *Store) GetIngestionProfile(ctx context.Context, tenant, project, profile string) (IngestionProfile, error) {
	p := IngestionProfile{Tenant: tenant, Project: project, Profile: profile}
	err := s.pool.QueryRow(ctx, `
SELECT config FROM ingestion_profiles WHERE tenant=$1 AND project=$2 AND profile=$3`,
		tenant, project, profile).Scan(&p.Config)
	if errors.Is(err, pgx.ErrNoRows) {
		return IngestionProfile{}, ErrProfileNotFound
	}
	if err != nil {
		return IngestionProfile{}, err
	}
	return p, nil
}
