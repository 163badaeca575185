package providers

import (
	"context"
	"fmt"

	"elfmemory/internal/config"
)

// ExtractorClient turns a batch of event messages into candidate notes,
// each bound to verbatim evidence quotes from the source messages.
type ExtractorClient struct {
	transport *httpTransport
	model     string
}

func NewExtractorClient(cfg config.ProviderConfig) *ExtractorClient {
	return &ExtractorClient{transport: newTransport(cfg), model: cfg.Model}
}

// Message is one source message supplied to the extractor, addressed by
// its position in the event so evidence can reference it by index.
type Message struct {
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Evidence binds a candidate note to a verbatim substring of one message.
type Evidence struct {
	MessageIndex int    `json:"message_index"`
	Quote        string `json:"quote"`
}

// ExtractedNote is one candidate note surfaced by the extractor. Scope is
// an optional suggestion; the ingest pipeline still enforces the caller's
// actual writable scopes.
type ExtractedNote struct {
	Type       string     `json:"type"`
	Scope      string     `json:"scope,omitempty"`
	Key        string     `json:"key,omitempty"`
	Text       string     `json:"text"`
	Importance float64    `json:"importance"`
	Confidence float64    `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
}

type extractRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	MaxNotes int       `json:"max_notes"`
}

type extractResponse struct {
	Notes []ExtractedNote `json:"notes"`
}

type expandRequest struct {
	Model      string `json:"model"`
	Mode       string `json:"mode"`
	Query      string `json:"query"`
	MaxQueries int    `json:"max_queries"`
}

type expandResponse struct {
	Queries []string `json:"queries"`
}

// ExpandQuery calls the same extractor endpoint in query-expansion mode,
// asking for up to maxQueries alternate phrasings of query. The search
// pipeline's expansion step is the only caller; results still pass through
// the English gate and dedupe before use, since the provider's shape
// guarantee stops at "a list of strings".
func (c *ExtractorClient) ExpandQuery(ctx context.Context, query string, maxQueries int) ([]string, error) {
	var resp expandResponse
	req := expandRequest{Model: c.model, Mode: "expand", Query: query, MaxQueries: maxQueries}
	if err := c.transport.postJSON(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("extractor expand: %w", err)
	}
	if len(resp.Queries) > maxQueries {
		resp.Queries = resp.Queries[:maxQueries]
	}
	return resp.Queries, nil
}

// Extract calls the extractor exactly once for the given messages and
// returns at most maxNotes candidate notes. The extractor is expected to
// enforce the note-shape JSON schema itself; Extract does not retry on
// schema violations, since a malformed response is a provider defect, not
// a transient failure.
func (c *ExtractorClient) Extract(ctx context.Context, messages []Message, maxNotes int) ([]ExtractedNote, error) {
	var resp extractResponse
	req := extractRequest{Model: c.model, Messages: messages, MaxNotes: maxNotes}
	if err := c.transport.postJSON(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}
	if len(resp.Notes) > maxNotes {
		resp.Notes = resp.Notes[:maxNotes]
	}
	return resp.Notes, nil
}
