// Package schema defines the stable, versioned wire types that cross the
// HTTP and MCP surfaces. Every type here is safe to marshal byte-for-byte;
// none of it is interpreted by the core beyond what its own fields require.
package schema

import "encoding/json"

// SourceRef is opaque to the core. It is stored and returned byte-faithful;
// only optional extensions (doc pointer resolvers) interpret its contents.
type SourceRef struct {
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

const SourceRefVersion = "source_ref/v1"

// RankingExplain is the additive decomposition of a search item's final
// score. final_score must equal the sum of Terms[].Value.
type RankingExplain struct {
	SchemaVersion string       `json:"schema_version"`
	FinalScore    float64      `json:"final_score"`
	Terms         []ExplainTerm `json:"terms"`
}

const RankingExplainVersion = "search_ranking_explain/v2"

// ExplainTerm is one named, additive contribution to a final score.
type ExplainTerm struct {
	Name   string         `json:"name"`
	Value  float64        `json:"value"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// Sum returns the sum of all term values.
func Sum(terms []ExplainTerm) float64 {
	var s float64
	for _, t := range terms {
		s += t.Value
	}
	return s
}

// RetrievalTrajectory records per-stage candidate counts and timings for a
// single search request, independent of the compact response returned to
// the caller.
type RetrievalTrajectory struct {
	SchemaVersion string               `json:"schema_version"`
	TraceID       string               `json:"trace_id"`
	Stages        []TrajectoryStage    `json:"stages"`
	FilterImpact  *FilterImpactSummary `json:"filter_impact,omitempty"`
}

const RetrievalTrajectoryVersion = "search_retrieval_trajectory/v1"

// TrajectoryStage is one named stage of the search pipeline (expansion,
// fusion, revalidation, rerank, ranking, package, total) with a candidate
// count and duration observed during that stage.
type TrajectoryStage struct {
	Name          string `json:"name"`
	CandidateIn   int    `json:"candidate_in"`
	CandidateOut  int    `json:"candidate_out"`
	DurationMicros int64 `json:"duration_micros"`
}

// FilterImpactSummary records how many candidates a structured filter
// removed, for the trajectory's optional filter step.
type FilterImpactSummary struct {
	BeforeCount int `json:"before_count"`
	AfterCount  int `json:"after_count"`
}

// FilterExpr is a bounded expression tree over an allowlisted field set,
// combined with logical AND/OR/NOT and leaf operators eq/neq/in/contains/
// gt/gte/lt/lte. MaxDepth 8, MaxNodes 128, InList items <= 128, string leaf
// values <= 512 bytes UTF-8 are enforced by the parser, not by this type.
type FilterExpr struct {
	SchemaVersion string       `json:"schema_version"`
	Op            string       `json:"op"` // and|or|not|eq|neq|in|contains|gt|gte|lt|lte
	Field         string       `json:"field,omitempty"`
	Value         any          `json:"value,omitempty"`
	Values        []any        `json:"values,omitempty"`
	Children      []FilterExpr `json:"children,omitempty"`
}

const FilterExprVersion = "search_filter_expr/v1"

// RecentTraces is the admin listing of recently emitted search traces.
type RecentTraces struct {
	SchemaVersion string        `json:"schema_version"`
	Traces        []TraceSummary `json:"traces"`
}

const RecentTracesVersion = "elf.recent_traces/v1"

// TraceSummary is one row of the recent-traces listing.
type TraceSummary struct {
	TraceID        string `json:"trace_id"`
	Tenant         string `json:"tenant"`
	Query          string `json:"query"`
	CandidateCount int    `json:"candidate_count"`
	TopK           int    `json:"top_k"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at"`
}

// TraceBundle is the full replay payload for one trace: the trace record,
// its items, stages, and (if captured) candidate snapshot.
type TraceBundle struct {
	SchemaVersion string           `json:"schema_version"`
	Trace         TraceSummary     `json:"trace"`
	Items         []TraceItem      `json:"items"`
	Trajectory    *RetrievalTrajectory `json:"trajectory,omitempty"`
	Candidates    []TraceCandidate `json:"candidates,omitempty"`
}

const TraceBundleVersion = "elf.trace_bundle/v1"

// TraceItem is one ranked result persisted against a trace.
type TraceItem struct {
	ResultHandle string         `json:"result_handle"`
	Rank         int            `json:"rank"`
	NoteID       string         `json:"note_id"`
	ChunkID      string         `json:"chunk_id"`
	FinalScore   float64        `json:"final_score"`
	Explain      RankingExplain `json:"explain"`
}

// TraceCandidate is an exact pre-rank candidate snapshot, persisted only
// when candidate capture is enabled, used to replay ranking decisions
// without re-querying the derived index.
type TraceCandidate struct {
	ChunkID       string  `json:"chunk_id"`
	NoteID        string  `json:"note_id"`
	RetrievalRank int     `json:"retrieval_rank"`
	FusionScore   float64 `json:"fusion_score"`
}

// NoteProvenanceBundle assembles a note's full version history, evidence
// quotes, and originating outbox jobs for the admin provenance endpoint.
type NoteProvenanceBundle struct {
	SchemaVersion string          `json:"schema_version"`
	NoteID        string          `json:"note_id"`
	Versions      []NoteVersion   `json:"versions"`
	Evidence      []EvidenceEntry `json:"evidence,omitempty"`
	OutboxJobs    []OutboxJobInfo `json:"outbox_jobs"`
}

const NoteProvenanceBundleVersion = "elf.note_provenance_bundle/v1"

// NoteVersion is one append-only audit row for a note.
type NoteVersion struct {
	VersionID string          `json:"version_id"`
	Op        string          `json:"op"` // ADD|UPDATE|DEPRECATE|DELETE
	Reason    string          `json:"reason,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	CreatedAt string          `json:"created_at"`
	PrevText  string          `json:"prev_text,omitempty"`
	NewText   string          `json:"new_text,omitempty"`
}

// EvidenceEntry is one verbatim quote binding an extracted note to its
// originating message.
type EvidenceEntry struct {
	MessageIndex int    `json:"message_index"`
	Quote        string `json:"quote"`
}

// OutboxJobInfo summarizes one indexing outbox job for provenance display.
type OutboxJobInfo struct {
	OutboxID  string `json:"outbox_id"`
	Op        string `json:"op"` // UPSERT|DELETE
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}
