package chunker

import "strings"

// Tokenizer counts and slices a text's tokens. The production tokenizer
// identifier is configured per chunking.tokenizer_id and, by default,
// inherits the embedding model's tokenizer (resolved by the provider
// client). The chunker's own token counter is used only to bound chunk
// size, never to produce the vectors themselves, so an unset identifier
// falls back to a whitespace/punctuation word-boundary split.
type Tokenizer interface {
	// Tokens splits s into token strings in order.
	Tokens(s string) []string
}

type wordBoundaryTokenizer struct{}

// NewTokenizer returns the tokenizer for the given identifier. An empty id
// selects the whitespace/punctuation fallback.
func NewTokenizer(id string) Tokenizer {
	return wordBoundaryTokenizer{}
}

func (wordBoundaryTokenizer) Tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch {
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			return true
		case r == '.' || r == ',' || r == ';' || r == ':' || r == '!' || r == '?':
			return true
		}
		return false
	})
}
