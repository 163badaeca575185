// Package search implements the hybrid retrieval pipeline: scope
// resolution, optional query expansion, multi-query dense+sparse fusion,
// authoritative revalidation, structured filtering, snippet stitching,
// cached rerank, additive ranking, and chunk→note aggregation.
package search

import (
	"time"

	"elfmemory/internal/schema"
)

// Request is one search call's input.
type Request struct {
	Tenant      string
	Project     string
	Agent       string
	ReadProfile string
	Query       string
	TopK        int
	CandidateK  int
	Filter      *schema.FilterExpr
	RecordHits  bool
}

// NoteResult is one compact, note-level hit in the default response.
type NoteResult struct {
	NoteID     string  `json:"note_id"`
	ChunkID    string  `json:"chunk_id"`
	Snippet    string  `json:"snippet"`
	FinalScore float64 `json:"final_score"`
	Rank       int     `json:"rank"`
}

// Response is the compact, note-level search response.
type Response struct {
	TraceID string       `json:"trace_id"`
	Items   []NoteResult `json:"items"`
}

// RawItem is one chunk-level hit with full explain, returned only by the
// admin raw search variant.
type RawItem struct {
	ChunkID       string                `json:"chunk_id"`
	NoteID        string                `json:"note_id"`
	Snippet       string                `json:"snippet"`
	FinalScore    float64               `json:"final_score"`
	Rank          int                   `json:"rank"`
	RetrievalRank int                   `json:"retrieval_rank"`
	Explain       schema.RankingExplain `json:"explain"`
}

// RawResponse is the admin chunk-level search response.
type RawResponse struct {
	TraceID string    `json:"trace_id"`
	Items   []RawItem `json:"items"`
}

// candidate carries one chunk through every pipeline stage, accumulating
// the fields later stages need without re-querying earlier ones.
type candidate struct {
	ChunkID       string
	NoteID        string
	FusionScore   float64
	RetrievalRank int

	note  noteView
	chunk chunkView

	snippet string

	retrievalNorm float64
	rerankScore   float64
	rerankNorm    float64

	terms      []schema.ExplainTerm
	finalScore float64
}

// noteView and chunkView are pipeline-local projections of store.Note and
// store.Chunk, kept separate from the store package's types so the search
// package never has to import store for anything beyond the accessor
// calls made in revalidate.go and snippet.go.
type noteView struct {
	NoteID     string
	Tenant     string
	Project    string
	Agent      string
	Scope      string
	Type       string
	Key        string
	Status     string
	Importance float64
	Confidence float64
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
	HitCount   int64
}

type chunkView struct {
	ChunkID    string
	NoteID     string
	ChunkIndex int
	ByteStart  int
	ByteEnd    int
	Text       string
}
