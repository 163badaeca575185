package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elfmemory/internal/config"
)

func TestEmbeddingClient_HeadersAndDimensionCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "v1", r.Header.Get("X-Custom"))
		resp := embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1, 0.2}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.ProviderConfig{
		APIBase: ts.URL, Path: "/embed", Model: "m", APIKey: "secret",
		Dimensions: 2, TimeoutSeconds: 5, Headers: map[string]string{"X-Custom": "v1"},
	}
	client := NewEmbeddingClient(cfg)
	vecs, err := client.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
}

func TestEmbeddingClient_DimensionMismatchErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.ProviderConfig{APIBase: ts.URL, Path: "/embed", Model: "m", Dimensions: 4, TimeoutSeconds: 5}
	client := NewEmbeddingClient(cfg)
	_, err := client.Embed(context.Background(), []string{"hello"})
	assert.Error(t, err)
}

func TestRerankClient_AlignsScoresByIndex(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rerankResponse{Results: []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		}{{Index: 1, Score: 0.9}, {Index: 0, Score: 0.2}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.ProviderConfig{APIBase: ts.URL, Path: "/rerank", Model: "m", TimeoutSeconds: 5}
	client := NewRerankClient(cfg)
	scores, err := client.Rerank(context.Background(), "q", []string{"doc0", "doc1"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 0.2, scores[0])
	assert.Equal(t, 0.9, scores[1])
}

func TestExtractorClient_TruncatesToMaxNotes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := extractResponse{Notes: []ExtractedNote{
			{Type: "fact", Text: "a", Evidence: []Evidence{{MessageIndex: 0, Quote: "a"}}},
			{Type: "fact", Text: "b", Evidence: []Evidence{{MessageIndex: 0, Quote: "b"}}},
			{Type: "fact", Text: "c", Evidence: []Evidence{{MessageIndex: 0, Quote: "c"}}},
		}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.ProviderConfig{APIBase: ts.URL, Path: "/extract", Model: "m", TimeoutSeconds: 5}
	client := NewExtractorClient(cfg)
	notes, err := client.Extract(context.Background(), []Message{{Index: 0, Content: "a b c"}}, 2)
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}

func TestTransport_RetriesOn5xxThenSucceeds(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{1}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.ProviderConfig{APIBase: ts.URL, Path: "/embed", Model: "m", Dimensions: 1, TimeoutSeconds: 5, MaxRetries: 3}
	client := NewEmbeddingClient(cfg)
	_, err := client.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestTransport_DoesNotRetryOn4xx(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	cfg := config.ProviderConfig{APIBase: ts.URL, Path: "/embed", Model: "m", TimeoutSeconds: 5, MaxRetries: 3}
	client := NewEmbeddingClient(cfg)
	_, err := client.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
