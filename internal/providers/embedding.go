package providers

import (
	"context"
	"fmt"

	"elfmemory/internal/config"
)

// EmbeddingClient embeds batches of chunk text into dense vectors.
type EmbeddingClient struct {
	transport *httpTransport
	model     string
	dimension int
}

func NewEmbeddingClient(cfg config.ProviderConfig) *EmbeddingClient {
	return &EmbeddingClient{
		transport: newTransport(cfg),
		model:     cfg.Model,
		dimension: cfg.Dimensions,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Dimension returns the configured output vector width, used to validate
// responses and to size pooled-vector accumulators without waiting on the
// first embed call.
func (c *EmbeddingClient) Dimension() int { return c.dimension }

// Embed returns one dense vector per input, in order. It errors if the
// provider returns a different count of vectors than inputs, or a vector
// whose length does not match the configured dimension.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embedResponse
	if err := c.transport.postJSON(ctx, embedRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors, want %d", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding: vector %d has dimension %d, want %d", i, len(d.Embedding), c.dimension)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// Ping verifies the embedding endpoint is reachable by embedding a single
// short probe string.
func (c *EmbeddingClient) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ping"})
	return err
}
