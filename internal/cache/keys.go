package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ExpansionKey builds the cache key for a query-expansion cache entry:
// normalized query plus the provider/model/schema identity and the
// max_queries/include_original shaping parameters, so neither a provider
// change nor a config change can serve a stale or mis-capped expansion
// set under the old key.
func ExpansionKey(normalizedQuery, providerID, model, schemaVersion string, maxQueries int, includeOriginal bool) string {
	return hashParts(normalizedQuery, providerID, model, schemaVersion,
		strconv.Itoa(maxQueries), strconv.FormatBool(includeOriginal))
}

// ChunkSignature is the (chunk_id, note.updated_at) pair whose ordered
// sequence makes a rerank cache entry specific to the exact candidate set
// and version it scored.
type ChunkSignature struct {
	ChunkID   string
	UpdatedAt time.Time
}

// RerankKey builds the cache key for a rerank cache entry. The ordered
// signature means any change in candidate order, membership, or the
// underlying note's updated_at invalidates the entry — a stale rerank
// score can never be served against a different candidate set.
func RerankKey(normalizedQuery, providerID, model, schemaVersion string, signature []ChunkSignature) string {
	var sb strings.Builder
	for _, s := range signature {
		sb.WriteString(s.ChunkID)
		sb.WriteByte('@')
		sb.WriteString(strconv.FormatInt(s.UpdatedAt.UnixNano(), 10))
		sb.WriteByte(';')
	}
	return hashParts(normalizedQuery, providerID, model, schemaVersion, sb.String())
}

func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
