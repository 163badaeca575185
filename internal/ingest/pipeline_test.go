package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"elfmemory/internal/config"
	"elfmemory/internal/providers"
)

func evidenceMessages() map[int]EventMessage {
	return map[int]EventMessage{
		0: {Index: 0, Role: "user", Content: "User prefers rustls over native-tls."},
		1: {Index: 1, Role: "assistant", Content: "Noted, switching the TLS backend."},
	}
}

func TestVerifyEvidence_VerbatimQuotePasses(t *testing.T) {
	ok, reason := verifyEvidence(config.SecurityConfig{}, []providers.Evidence{
		{MessageIndex: 0, Quote: "prefers rustls over native-tls"},
	}, evidenceMessages())
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestVerifyEvidence_NonVerbatimQuoteRejects(t *testing.T) {
	ok, reason := verifyEvidence(config.SecurityConfig{}, []providers.Evidence{
		{MessageIndex: 0, Quote: "prefers rustls-only"},
	}, evidenceMessages())
	assert.False(t, ok)
	assert.Equal(t, ReasonEvidenceMismatch, reason)
}

func TestVerifyEvidence_UnknownMessageIndexRejects(t *testing.T) {
	ok, _ := verifyEvidence(config.SecurityConfig{}, []providers.Evidence{
		{MessageIndex: 7, Quote: "prefers rustls"},
	}, evidenceMessages())
	assert.False(t, ok)
}

func TestVerifyEvidence_QuoteCountBounds(t *testing.T) {
	sec := config.SecurityConfig{EvidenceMinQuotes: 1, EvidenceMaxQuotes: 2}
	msgs := evidenceMessages()

	ok, _ := verifyEvidence(sec, nil, msgs)
	assert.False(t, ok)

	ok, _ = verifyEvidence(sec, []providers.Evidence{
		{MessageIndex: 0, Quote: "prefers rustls"},
		{MessageIndex: 1, Quote: "TLS backend"},
		{MessageIndex: 1, Quote: "Noted"},
	}, msgs)
	assert.False(t, ok)
}

func TestVerifyEvidence_QuoteLengthBound(t *testing.T) {
	sec := config.SecurityConfig{EvidenceMaxQuoteLen: 10}
	ok, _ := verifyEvidence(sec, []providers.Evidence{
		{MessageIndex: 0, Quote: "prefers rustls over native-tls"},
	}, evidenceMessages())
	assert.False(t, ok)
}

func TestEventSourceRef_CarriesEvidence(t *testing.T) {
	raw := eventSourceRef([]providers.Evidence{{MessageIndex: 0, Quote: "prefers rustls"}})
	assert.Contains(t, string(raw), "source_ref/v1")
	assert.Contains(t, string(raw), "prefers rustls")
}

func TestEmbeddingVersion(t *testing.T) {
	assert.Equal(t, "https://api.example.com:embed-small:1536",
		EmbeddingVersion("https://api.example.com", "embed-small", 1536))
}

func TestOpForDecision(t *testing.T) {
	assert.Equal(t, OpNone, opForDecision("", decisionIgnore))
}
