package store

import (
	"encoding/json"
	"time"
)

// Note mirrors the notes table. Status transitions: active -> deprecated
// -> deleted, or active -> deleted directly; deleted rows are tombstones
// awaiting lifecycle purge.
type Note struct {
	NoteID           string
	Tenant           string
	Project          string
	Agent            string
	Scope            string
	Type             string
	Key              *string
	Text             string
	Importance       float64
	Confidence       float64
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        *time.Time
	EmbeddingVersion string
	SourceRef        json.RawMessage
	HitCount         int64
	LastHitAt        *time.Time
}

const (
	NoteStatusActive     = "active"
	NoteStatusDeprecated = "deprecated"
	NoteStatusDeleted    = "deleted"
)

// Chunk mirrors note_chunks.
type Chunk struct {
	ChunkID    string
	NoteID     string
	ChunkIndex int
	ByteStart  int
	ByteEnd    int
	Text       string
}

// ChunkEmbedding mirrors chunk_embeddings: the source-of-truth dense vector
// for one chunk at one embedding_version.
type ChunkEmbedding struct {
	ChunkID          string
	EmbeddingVersion string
	Dim              int
	Vec              []float64
}

// NoteVersion mirrors note_versions, the append-only audit trail.
type NoteVersion struct {
	VersionID int64
	NoteID    string
	Op        string
	Reason    string
	Actor     string
	CreatedAt time.Time
	PrevText  string
	NewText   string
}

const (
	VersionOpAdd       = "ADD"
	VersionOpUpdate    = "UPDATE"
	VersionOpDeprecate = "DEPRECATE"
	VersionOpDelete    = "DELETE"
)

// OutboxJob mirrors indexing_outbox, a row inserted in the same
// transaction as the note mutation it describes.
type OutboxJob struct {
	OutboxID         int64
	NoteID           string
	Op               string
	EmbeddingVersion string
	Status           string
	Attempts         int
	LastError        *string
	AvailableAt      time.Time
	CreatedAt        time.Time
}

const (
	OutboxOpUpsert = "UPSERT"
	OutboxOpDelete = "DELETE"

	OutboxStatusPending = "PENDING"
	OutboxStatusClaimed = "CLAIMED"
	OutboxStatusDone    = "DONE"
	OutboxStatusFailed  = "FAILED"
)

// SpaceGrant mirrors space_grants.
type SpaceGrant struct {
	GrantID         int64
	Tenant          string
	Project         string
	Scope           string
	SpaceOwnerAgent string
	GranteeKind     string
	GranteeAgent    *string
	GrantedAt       time.Time
	RevokedAt       *time.Time
	RevokedBy       *string
}

const (
	GranteeKindAgent   = "agent"
	GranteeKindProject = "project"
)
