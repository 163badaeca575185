package englishgate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck_AcceptsPlainEnglish(t *testing.T) {
	r := Check("Embeddings are stored in Postgres and indexed in Qdrant.")
	assert.True(t, r.Allowed)
	assert.Equal(t, "Embeddings are stored in Postgres and indexed in Qdrant.", r.Normalized)
}

func TestCheck_RejectsControlAndZeroWidth(t *testing.T) {
	r := Check("hello\x00world")
	assert.False(t, r.Allowed)
	assert.Equal(t, ReasonControlChar, r.Reason)

	r = Check("hello​world")
	assert.False(t, r.Allowed)
	assert.Equal(t, ReasonControlChar, r.Reason)
}

func TestCheck_RejectsNonLatinScript(t *testing.T) {
	for _, s := range []string{
		"これは日本語のテキストです",
		"это русский текст для проверки",
		"mixed English with 中文 characters",
	} {
		r := Check(s)
		assert.False(t, r.Allowed, s)
		assert.Equal(t, ReasonScript, r.Reason, s)
	}
}

func TestCheck_IdentifiersSkipLanguageGate(t *testing.T) {
	// Short or letter-sparse fields are identifiers, not prose: only the
	// script gate applies.
	for _, s := range []string{
		"https://example.com/a/b?c=1",
		"550e8400-e29b-41d4-a716-446655440000",
		"embeddings_storage",
		"v2.1.3-rc1",
	} {
		r := Check(s)
		assert.True(t, r.Allowed, s)
	}
}

func TestCheck_RejectsLatinScriptNonEnglishProse(t *testing.T) {
	// Latin-script but clearly not English: no common English function
	// words across a long span.
	r := Check("ceci est un texte francais assez long pour declencher le controle linguistique du portail")
	assert.False(t, r.Allowed)
	assert.Equal(t, ReasonLanguage, r.Reason)
}

func TestCheck_NormalizesToNFC(t *testing.T) {
	// "e" + combining acute composes to a single codepoint.
	r := Check("café preference noted for the team")
	assert.True(t, r.Allowed)
	assert.True(t, strings.Contains(r.Normalized, "café"))
}
