// Package mcpserver exposes the memory service as MCP tools over stdio.
// The adapter holds zero business logic: every tool forwards 1:1 to a /v2
// HTTP endpoint, attaching the configured context headers, and returns the
// endpoint's JSON verbatim.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Config is everything the adapter needs to reach the HTTP surface on
// behalf of one caller identity.
type Config struct {
	BaseURL     string
	Tenant      string
	Project     string
	Agent       string
	ReadProfile string
	APIKey      string
	Timeout     time.Duration
}

// Server forwards MCP tool calls to the HTTP surface.
type Server struct {
	cfg    Config
	client *http.Client
}

// New constructs the adapter.
func New(cfg Config) *Server {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// Run serves the MCP tool set on stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context, version string) error {
	server := mcp.NewServer(&mcp.Implementation{Name: "elf-memory", Version: version}, nil)
	s.registerTools(server)
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools(server *mcp.Server) {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	boolPtr := func(b bool) *bool { return &b }
	writeNonDestructive := &mcp.ToolAnnotations{DestructiveHint: boolPtr(false), IdempotentHint: true}
	writeDestructive := &mcp.ToolAnnotations{DestructiveHint: boolPtr(true)}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_notes",
		Description: "Store one or more short English fact notes in memory. Deterministic: never calls an LLM. Each note needs type (preference|constraint|decision|profile|fact|plan), scope, and text; key makes later writes update in place.",
		Annotations: writeNonDestructive,
	}, s.handleIngestNotes)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_event",
		Description: "Extract memory notes from conversation messages. Calls the configured extractor once; every stored note is bound to verbatim evidence quotes from the messages. Set dry_run to preview without persisting.",
		Annotations: writeNonDestructive,
	}, s.handleIngestEvent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_memory",
		Description: "Hybrid semantic+lexical search over stored notes. Returns ranked note-level results with snippets. top_k bounds the result count.",
		Annotations: readOnly,
	}, s.handleSearch)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_note",
		Description: "Fetch one note by id.",
		Annotations: readOnly,
	}, s.handleGetNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_note",
		Description: "Patch a note's text, importance, or confidence by id.",
		Annotations: writeNonDestructive,
	}, s.handleUpdateNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_note",
		Description: "Delete a note by id (tombstones the row; purged after retention).",
		Annotations: writeDestructive,
	}, s.handleDeleteNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "publish_note",
		Description: "Move a note to a wider visibility scope (team_shared or org_shared) and create the matching space grant.",
		Annotations: writeNonDestructive,
	}, s.handlePublishNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "unpublish_note",
		Description: "Return a published note to its owner's private scope.",
		Annotations: writeNonDestructive,
	}, s.handleUnpublishNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_grants",
		Description: "List active space grants visible to the configured caller.",
		Annotations: readOnly,
	}, s.handleListGrants)
}

// forward issues one HTTP call with the configured context headers and
// returns the response body as the tool result text.
func (s *Server) forward(ctx context.Context, method, path string, body any, readProfile bool) (*mcp.CallToolResult, any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-ELF-Tenant-Id", s.cfg.Tenant)
	req.Header.Set("X-ELF-Project-Id", s.cfg.Project)
	req.Header.Set("X-ELF-Agent-Id", s.cfg.Agent)
	if readProfile {
		req.Header.Set("X-ELF-Read-Profile", s.cfg.ReadProfile)
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("X-ELF-Api-Key", s.cfg.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(raw)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

type noteInput struct {
	Type       string          `json:"type" jsonschema:"one of preference, constraint, decision, profile, fact, plan"`
	Scope      string          `json:"scope" jsonschema:"agent_private, project_shared (alias team_shared), or org_shared"`
	Key        string          `json:"key,omitempty" jsonschema:"optional stable key; same-key writes update in place"`
	Text       string          `json:"text" jsonschema:"short English fact text"`
	Importance float64         `json:"importance,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	SourceRef  json.RawMessage `json:"source_ref,omitempty"`
}

type ingestNotesInput struct {
	Notes   []noteInput `json:"notes"`
	Profile string      `json:"profile,omitempty" jsonschema:"optional registered ingestion profile supplying defaults"`
}

func (s *Server) handleIngestNotes(ctx context.Context, req *mcp.CallToolRequest, input ingestNotesInput) (*mcp.CallToolResult, any, error) {
	return s.forward(ctx, http.MethodPost, "/v2/notes/ingest", input, false)
}

type eventMessageInput struct {
	Index   int    `json:"index,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ingestEventInput struct {
	Messages []eventMessageInput `json:"messages"`
	DryRun   bool                `json:"dry_run,omitempty"`
}

func (s *Server) handleIngestEvent(ctx context.Context, req *mcp.CallToolRequest, input ingestEventInput) (*mcp.CallToolResult, any, error) {
	return s.forward(ctx, http.MethodPost, "/v2/events/ingest", input, false)
}

type searchInput struct {
	Query      string          `json:"query"`
	TopK       int             `json:"top_k,omitempty"`
	CandidateK int             `json:"candidate_k,omitempty"`
	Filter     json.RawMessage `json:"filter,omitempty" jsonschema:"optional search_filter_expr/v1 expression"`
	RecordHits bool            `json:"record_hits,omitempty"`
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input searchInput) (*mcp.CallToolResult, any, error) {
	return s.forward(ctx, http.MethodPost, "/v2/searches", input, true)
}

type noteIDInput struct {
	NoteID string `json:"note_id"`
}

func (s *Server) handleGetNote(ctx context.Context, req *mcp.CallToolRequest, input noteIDInput) (*mcp.CallToolResult, any, error) {
	return s.forward(ctx, http.MethodGet, "/v2/notes/"+input.NoteID, nil, false)
}

type updateNoteInput struct {
	NoteID     string   `json:"note_id"`
	Text       *string  `json:"text,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (s *Server) handleUpdateNote(ctx context.Context, req *mcp.CallToolRequest, input updateNoteInput) (*mcp.CallToolResult, any, error) {
	body := map[string]any{}
	if input.Text != nil {
		body["text"] = *input.Text
	}
	if input.Importance != nil {
		body["importance"] = *input.Importance
	}
	if input.Confidence != nil {
		body["confidence"] = *input.Confidence
	}
	return s.forward(ctx, http.MethodPatch, "/v2/notes/"+input.NoteID, body, false)
}

func (s *Server) handleDeleteNote(ctx context.Context, req *mcp.CallToolRequest, input noteIDInput) (*mcp.CallToolResult, any, error) {
	return s.forward(ctx, http.MethodDelete, "/v2/notes/"+input.NoteID, nil, false)
}

type publishInput struct {
	NoteID       string `json:"note_id"`
	Scope        string `json:"scope" jsonschema:"team_shared or org_shared"`
	GranteeKind  string `json:"grantee_kind,omitempty"`
	GranteeAgent string `json:"grantee_agent,omitempty"`
}

func (s *Server) handlePublishNote(ctx context.Context, req *mcp.CallToolRequest, input publishInput) (*mcp.CallToolResult, any, error) {
	body := map[string]any{"scope": input.Scope, "grantee_kind": input.GranteeKind, "grantee_agent": input.GranteeAgent}
	return s.forward(ctx, http.MethodPost, "/v2/notes/"+input.NoteID+"/publish", body, false)
}

func (s *Server) handleUnpublishNote(ctx context.Context, req *mcp.CallToolRequest, input noteIDInput) (*mcp.CallToolResult, any, error) {
	return s.forward(ctx, http.MethodPost, "/v2/notes/"+input.NoteID+"/unpublish", map[string]any{}, false)
}

type listGrantsInput struct {
	Space string `json:"space,omitempty" jsonschema:"scope name; defaults to project_shared"`
}

func (s *Server) handleListGrants(ctx context.Context, req *mcp.CallToolRequest, input listGrantsInput) (*mcp.CallToolResult, any, error) {
	space := input.Space
	if space == "" {
		space = "project_shared"
	}
	return s.forward(ctx, http.MethodGet, "/v2/spaces/"+space+"/grants", nil, false)
}
