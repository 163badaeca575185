package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elfmemory/internal/config"
)

func TestNew_UnreachableRedisErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := New(ctx, config.CacheConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}

func TestExpansionKey_DeterministicAndSensitiveToInputs(t *testing.T) {
	a := ExpansionKey("prefers rustls over native-tls", "openai", "gpt", "v1", 4, true)
	b := ExpansionKey("prefers rustls over native-tls", "openai", "gpt", "v1", 4, true)
	c := ExpansionKey("prefers rustls over native-tls", "openai", "gpt", "v2", 4, true)
	d := ExpansionKey("prefers rustls over native-tls", "openai", "gpt", "v1", 8, true)
	e := ExpansionKey("prefers rustls over native-tls", "openai", "gpt", "v1", 4, false)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d, "max_queries must be part of the key")
	assert.NotEqual(t, a, e, "include_original must be part of the key")
}

func TestRerankKey_ChangesWithSignatureOrder(t *testing.T) {
	sigA := []ChunkSignature{{ChunkID: "n1:0", UpdatedAt: time.Unix(100, 0)}, {ChunkID: "n2:0", UpdatedAt: time.Unix(200, 0)}}
	sigB := []ChunkSignature{{ChunkID: "n2:0", UpdatedAt: time.Unix(200, 0)}, {ChunkID: "n1:0", UpdatedAt: time.Unix(100, 0)}}

	keyA := RerankKey("q", "p", "m", "v1", sigA)
	keyB := RerankKey("q", "p", "m", "v1", sigB)
	assert.NotEqual(t, keyA, keyB, "reordering candidates must invalidate the cache entry")
}
