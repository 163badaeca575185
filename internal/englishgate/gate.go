// Package englishgate implements the three-stage English boundary applied
// to every externally supplied natural-language field: note text, event
// message content, search queries, and optional note keys.
package englishgate

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Reason is a stable rejection reason code.
type Reason string

const (
	ReasonControlChar Reason = "control_or_zero_width_codepoint"
	ReasonScript       Reason = "disallowed_script"
	ReasonLanguage     Reason = "non_english_language"
)

// Result is the outcome of Check. Normalized is the NFC-composed form of
// the input; callers persist Normalized, not the original string.
type Result struct {
	Allowed    bool
	Normalized string
	Reason     Reason
}

// langGateMinRunes and langGateMinLetterRatio bound when the language-ID
// heuristic applies at all: below this length or letter density the field
// is treated as an identifier/token (URL, UUID, key) and only the script
// gate runs. These thresholds are an open engineering decision — the
// source text does not fix them — chosen to avoid rejecting URLs,
// identifiers, and short keys while still catching prose-length
// non-English text.
const (
	langGateMinRunes       = 12
	langGateMinLetterRatio = 0.6
	langGateConfidenceReject = 0.75
)

// Check runs the normalize -> script -> language-ID pipeline in order and
// returns on the first hard rejection.
func Check(s string) Result {
	normalized := norm.NFC.String(s)

	for _, r := range normalized {
		if isControlOrZeroWidth(r) {
			return Result{Allowed: false, Normalized: normalized, Reason: ReasonControlChar}
		}
	}

	for _, r := range normalized {
		if unicode.IsSpace(r) {
			continue
		}
		if !(unicode.Is(unicode.Latin, r) || unicode.Is(unicode.Common, r) || unicode.Is(unicode.Inherited, r)) {
			return Result{Allowed: false, Normalized: normalized, Reason: ReasonScript}
		}
	}

	if shouldRunLanguageID(normalized) {
		conf := nonEnglishConfidence(normalized)
		if conf >= langGateConfidenceReject {
			return Result{Allowed: false, Normalized: normalized, Reason: ReasonLanguage}
		}
	}

	return Result{Allowed: true, Normalized: normalized}
}

func isControlOrZeroWidth(r rune) bool {
	if unicode.IsControl(r) && r != '\n' && r != '\t' {
		return true
	}
	switch r {
	case '\u200b', '\u200c', '\u200d', '\ufeff':
		return true
	}
	return false
}

func shouldRunLanguageID(s string) bool {
	runeCount := 0
	letters := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		runeCount++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if runeCount < langGateMinRunes {
		return false
	}
	ratio := float64(letters) / float64(runeCount)
	return ratio >= langGateMinLetterRatio
}

// nonEnglishConfidence is a small stopword/letter-frequency heuristic,
// intentionally conservative: it only returns high confidence
// when the text contains zero common-English function words across a
// reasonably long span, which in practice only non-English prose triggers.
func nonEnglishConfidence(s string) float64 {
	words := strings.Fields(strings.ToLower(s))
	if len(words) < 4 {
		return 0
	}
	hits := 0
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if commonEnglishWords[w] {
			hits++
		}
	}
	ratio := float64(hits) / float64(len(words))
	if ratio == 0 {
		return 0.9
	}
	if ratio < 0.05 {
		return 0.6
	}
	return 0
}

var commonEnglishWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "of": true, "to": true, "and": true, "in": true, "on": true,
	"for": true, "with": true, "that": true, "this": true, "it": true,
	"be": true, "as": true, "at": true, "by": true, "from": true, "or": true,
	"not": true, "we": true, "you": true, "they": true, "has": true,
	"have": true, "i": true, "prefer": true, "prefers": true, "use": true,
	"uses": true, "should": true, "will": true, "can": true, "stored": true,
}
