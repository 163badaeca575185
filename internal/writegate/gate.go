// Package writegate applies the note write policy: type/scope/length
// validation, the English gate, and secret/PII redaction, producing a
// stable reason code on rejection.
package writegate

import (
	"strings"
	"unicode"

	"elfmemory/internal/config"
	"elfmemory/internal/englishgate"
)

// Reason is a stable rejection reason code surfaced to callers.
type Reason string

const (
	ReasonNonEnglish           Reason = "REJECT_NON_ENGLISH"
	ReasonInvalidType          Reason = "REJECT_INVALID_TYPE"
	ReasonScopeDenied          Reason = "REJECT_SCOPE_DENIED"
	ReasonTooLong              Reason = "REJECT_TOO_LONG"
	ReasonEmpty                Reason = "REJECT_EMPTY"
	ReasonSecret               Reason = "REJECT_SECRET"
	ReasonWritePolicyMismatch  Reason = "REJECT_WRITE_POLICY_MISMATCH"
)

// NoteTypes is the six-type allowlist.
var NoteTypes = map[string]bool{
	"preference": true,
	"constraint": true,
	"decision":   true,
	"profile":    true,
	"fact":       true,
	"plan":       true,
}

// Candidate is the minimal shape the write gate validates. Ingest
// constructs this from either the deterministic or event request.
type Candidate struct {
	Type  string
	Scope string
	Text  string
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed      bool
	Reason       Reason
	Text         string // normalized (and possibly redacted) text to persist
	WasRedacted  bool
}

// Evaluate runs the write gate in the order specified: English gate, type
// allowlist, scope, length cap, emptiness, then secret detection. If
// redaction is enabled and a denylist hit is found, the text is rewritten
// and the write proceeds unless the caller supplies evidence quotes that
// the rewrite would invalidate (checked by the ingest pipeline, which maps
// that specific case to ReasonWritePolicyMismatch instead of ReasonSecret).
func Evaluate(cfg config.Config, c Candidate) Decision {
	trimmed := strings.TrimSpace(c.Text)
	if trimmed == "" {
		return Decision{Allowed: false, Reason: ReasonEmpty}
	}

	gateResult := englishgate.Check(c.Text)
	if !gateResult.Allowed {
		return Decision{Allowed: false, Reason: ReasonNonEnglish}
	}
	text := gateResult.Normalized

	if !NoteTypes[c.Type] {
		return Decision{Allowed: false, Reason: ReasonInvalidType}
	}

	if !scopeAllowed(cfg, c.Scope) {
		return Decision{Allowed: false, Reason: ReasonScopeDenied}
	}

	if len([]rune(text)) > cfg.Memory.MaxNoteChars {
		return Decision{Allowed: false, Reason: ReasonTooLong}
	}

	if cfg.Security.RedactionEnabled {
		redacted, hit := Redact(text)
		if hit {
			return Decision{Allowed: true, Text: redacted, WasRedacted: true}
		}
	} else if hit, _ := detectSecret(text); hit {
		return Decision{Allowed: false, Reason: ReasonSecret}
	}

	return Decision{Allowed: true, Text: text}
}

func scopeAllowed(cfg config.Config, scope string) bool {
	for _, s := range cfg.Scopes.WritableScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CheckHeaderIdentifier validates an HTTP context-header identifier
// (X-ELF-Tenant-Id et al.): UTF-8, non-empty, <= 128 chars, and
// English-identifier-gated (script gate only; these are not prose, so the
// language-ID stage never applies).
func CheckHeaderIdentifier(v string) bool {
	if v == "" {
		return false
	}
	if len([]rune(v)) > 128 {
		return false
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return false
		}
		if !(unicode.Is(unicode.Latin, r) || unicode.Is(unicode.Common, r)) {
			return false
		}
	}
	return true
}
