// Package providers gives the embedding, rerank, and extractor LLM
// backends one uniform HTTP-style contract: JSON request/response, header
// merging, a request timeout, and exponential-backoff retry on transient
// failures. Each capability (embedding.go, rerank.go, extractor.go) builds
// its request/response shape on top of this shared transport.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"elfmemory/internal/config"
)

// httpTransport performs a single JSON POST with retry/backoff and header
// merging, shared by all three provider capabilities.
type httpTransport struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func newTransport(cfg config.ProviderConfig) *httpTransport {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// postJSON marshals body, posts it to cfg.APIBase+cfg.Path, and unmarshals
// the response into out. Retries 5xx responses and network errors up to
// cfg.MaxRetries times with exponential backoff; 4xx responses are treated
// as permanent and returned immediately.
func (t *httpTransport) postJSON(ctx context.Context, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("providers: marshal request: %w", err)
	}

	url := t.cfg.APIBase + t.cfg.Path
	attempts := t.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts))
	bo = backoff.WithContext(bo, ctx)

	var respBytes []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
		}
		for k, v := range t.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			respBytes = b
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("providers: %s returned %s: %s", url, resp.Status, string(b))
		default:
			return backoff.Permanent(fmt.Errorf("providers: %s returned %s: %s", url, resp.Status, string(b)))
		}
	}

	if err := backoff.Retry(op, bo); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("providers: unmarshal response from %s: %w", url, err)
	}
	return nil
}
