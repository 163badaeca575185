package providers

import (
	"context"
	"fmt"

	"elfmemory/internal/config"
)

// RerankClient scores a set of candidate documents against a query.
type RerankClient struct {
	transport *httpTransport
	model     string
}

func NewRerankClient(cfg config.ProviderConfig) *RerankClient {
	return &RerankClient{transport: newTransport(cfg), model: cfg.Model}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns one relevance score per document, positionally aligned
// with docs. The provider response carries an index per result so results
// may arrive reordered or sparse; any document missing from the response
// is scored zero rather than dropped, keeping the output length stable for
// callers that align cached scores against candidate order.
func (c *RerankClient) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var resp rerankResponse
	if err := c.transport.postJSON(ctx, rerankRequest{Model: c.model, Query: query, Documents: docs}, &resp); err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	scores := make([]float64, len(docs))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			continue
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}
