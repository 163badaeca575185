package search

import (
	"strings"
	"time"
	"unicode"
)

func ttlSeconds(n int) time.Duration {
	if n <= 0 {
		n = 300
	}
	return time.Duration(n) * time.Second
}

// asciiAlnumTokens splits s into lowercase ASCII alnum tokens of length
// >= 2, the token shape the scope_boost ranking term compares against
// configured scope descriptions.
func asciiAlnumTokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsDigit(r) || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		out = append(out, strings.ToLower(f))
	}
	return out
}
