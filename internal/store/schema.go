package store

import (
	"context"
	"fmt"
)

// ensureSchema creates every table the store needs if absent. Schema
// creation runs inline on startup rather than through a separate
// migration tool; index tuning beyond the primary-key
// and lookup indexes listed here is left to the operator.
func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS notes (
  note_id          TEXT PRIMARY KEY,
  tenant           TEXT NOT NULL,
  project          TEXT NOT NULL,
  agent            TEXT NOT NULL,
  scope            TEXT NOT NULL,
  type             TEXT NOT NULL,
  key              TEXT,
  text             TEXT NOT NULL,
  importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
  confidence       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
  status           TEXT NOT NULL DEFAULT 'active',
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at       TIMESTAMPTZ,
  embedding_version TEXT NOT NULL,
  source_ref       JSONB NOT NULL DEFAULT '{}'::jsonb,
  hit_count        BIGINT NOT NULL DEFAULT 0,
  last_hit_at      TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS notes_identity_key
  ON notes (tenant, project, agent, scope, type, key)
  WHERE key IS NOT NULL AND status = 'active';
CREATE INDEX IF NOT EXISTS notes_scope_lookup
  ON notes (tenant, project, agent, scope, status);

CREATE TABLE IF NOT EXISTS note_chunks (
  chunk_id     TEXT PRIMARY KEY,
  note_id      TEXT NOT NULL REFERENCES notes(note_id) ON DELETE CASCADE,
  chunk_index  INT NOT NULL,
  byte_start   INT NOT NULL,
  byte_end     INT NOT NULL,
  text         TEXT NOT NULL,
  UNIQUE (note_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
  chunk_id          TEXT NOT NULL REFERENCES note_chunks(chunk_id) ON DELETE CASCADE,
  embedding_version TEXT NOT NULL,
  dim               INT NOT NULL,
  vec               DOUBLE PRECISION[] NOT NULL,
  PRIMARY KEY (chunk_id, embedding_version)
);

CREATE TABLE IF NOT EXISTS pooled_note_embeddings (
  note_id           TEXT NOT NULL REFERENCES notes(note_id) ON DELETE CASCADE,
  embedding_version TEXT NOT NULL,
  vec               vector(%d),
  PRIMARY KEY (note_id, embedding_version)
);

CREATE TABLE IF NOT EXISTS note_versions (
  version_id   BIGSERIAL PRIMARY KEY,
  note_id      TEXT NOT NULL REFERENCES notes(note_id) ON DELETE CASCADE,
  op           TEXT NOT NULL,
  reason       TEXT,
  actor        TEXT,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  prev_text    TEXT,
  new_text     TEXT
);
CREATE INDEX IF NOT EXISTS note_versions_by_note ON note_versions (note_id, created_at);

CREATE TABLE IF NOT EXISTS indexing_outbox (
  outbox_id         BIGSERIAL PRIMARY KEY,
  note_id           TEXT NOT NULL REFERENCES notes(note_id) ON DELETE CASCADE,
  op                TEXT NOT NULL,
  embedding_version TEXT NOT NULL,
  status            TEXT NOT NULL DEFAULT 'PENDING',
  attempts          INT NOT NULL DEFAULT 0,
  last_error        TEXT,
  available_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS indexing_outbox_claimable
  ON indexing_outbox (status, available_at);

CREATE TABLE IF NOT EXISTS space_grants (
  grant_id          BIGSERIAL PRIMARY KEY,
  tenant            TEXT NOT NULL,
  project           TEXT NOT NULL,
  scope             TEXT NOT NULL,
  space_owner_agent TEXT NOT NULL,
  grantee_kind      TEXT NOT NULL,
  grantee_agent     TEXT,
  granted_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  revoked_at        TIMESTAMPTZ,
  revoked_by        TEXT,
  UNIQUE (tenant, project, scope, space_owner_agent, grantee_kind, grantee_agent)
);
CREATE INDEX IF NOT EXISTS space_grants_active
  ON space_grants (tenant, project, grantee_kind, grantee_agent)
  WHERE revoked_at IS NULL;

CREATE TABLE IF NOT EXISTS search_traces (
  trace_id         TEXT PRIMARY KEY,
  tenant           TEXT NOT NULL,
  query            TEXT NOT NULL,
  expansion_mode   TEXT NOT NULL,
  expanded_queries JSONB NOT NULL DEFAULT '[]'::jsonb,
  allowed_scopes   JSONB NOT NULL DEFAULT '[]'::jsonb,
  candidate_count  INT NOT NULL,
  top_k            INT NOT NULL,
  config_snapshot  JSONB NOT NULL DEFAULT '{}'::jsonb,
  schema_version   TEXT NOT NULL,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS search_traces_recent ON search_traces (tenant, created_at DESC);
CREATE INDEX IF NOT EXISTS search_traces_expiry ON search_traces (expires_at);

CREATE TABLE IF NOT EXISTS search_trace_items (
  trace_id     TEXT NOT NULL REFERENCES search_traces(trace_id) ON DELETE CASCADE,
  rank         INT NOT NULL,
  note_id      TEXT NOT NULL,
  chunk_id     TEXT NOT NULL,
  final_score  DOUBLE PRECISION NOT NULL,
  explain      JSONB NOT NULL,
  PRIMARY KEY (trace_id, rank)
);

CREATE TABLE IF NOT EXISTS search_trace_stages (
  trace_id        TEXT NOT NULL REFERENCES search_traces(trace_id) ON DELETE CASCADE,
  stage_name      TEXT NOT NULL,
  candidate_in    INT NOT NULL,
  candidate_out   INT NOT NULL,
  duration_micros BIGINT NOT NULL,
  PRIMARY KEY (trace_id, stage_name)
);

CREATE TABLE IF NOT EXISTS search_trace_candidates (
  trace_id       TEXT NOT NULL REFERENCES search_traces(trace_id) ON DELETE CASCADE,
  chunk_id       TEXT NOT NULL,
  note_id        TEXT NOT NULL,
  retrieval_rank INT NOT NULL,
  fusion_score   DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (trace_id, chunk_id)
);

CREATE TABLE IF NOT EXISTS ingest_decision_log (
  decision_id     BIGSERIAL PRIMARY KEY,
  tenant          TEXT NOT NULL,
  project         TEXT NOT NULL,
  agent           TEXT NOT NULL,
  note_id         TEXT,
  base_decision   TEXT NOT NULL,
  final_decision  TEXT NOT NULL,
  reason_code     TEXT,
  confidence      DOUBLE PRECISION NOT NULL,
  importance      DOUBLE PRECISION NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ingest_decision_log_by_tenant ON ingest_decision_log (tenant, project, agent, created_at);

CREATE TABLE IF NOT EXISTS trace_outbox (
  trace_outbox_id BIGSERIAL PRIMARY KEY,
  payload         JSONB NOT NULL,
  status          TEXT NOT NULL DEFAULT 'PENDING',
  attempts        INT NOT NULL DEFAULT 0,
  last_error      TEXT,
  available_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS trace_outbox_claimable
  ON trace_outbox (status, available_at);

CREATE TABLE IF NOT EXISTS note_hits (
  hit_id     BIGSERIAL PRIMARY KEY,
  note_id    TEXT NOT NULL,
  chunk_id   TEXT NOT NULL,
  tenant     TEXT NOT NULL,
  project    TEXT NOT NULL,
  agent      TEXT NOT NULL,
  trace_id   TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS note_hits_by_note ON note_hits (note_id, created_at);

CREATE TABLE IF NOT EXISTS search_sessions (
  search_id    TEXT PRIMARY KEY,
  tenant       TEXT NOT NULL,
  project      TEXT NOT NULL,
  agent        TEXT NOT NULL,
  read_profile TEXT NOT NULL,
  query        TEXT NOT NULL,
  trace_id     TEXT NOT NULL,
  response     JSONB NOT NULL,
  trajectory   JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS search_sessions_by_tenant ON search_sessions (tenant, created_at DESC);

CREATE TABLE IF NOT EXISTS ingestion_profiles (
  tenant     TEXT NOT NULL,
  project    TEXT NOT NULL,
  profile    TEXT NOT NULL,
  config     JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (tenant, project, profile)
);
`, s.vectorDim))
	return err
}
