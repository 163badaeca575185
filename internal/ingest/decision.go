package ingest

import "elfmemory/internal/resolver"

const (
	decisionRemember = "remember"
	decisionUpdate   = "update"
	decisionIgnore   = "ignore"
)

// baseDecision computes the stage-1 decision from the resolver's outcome
// plus whether the candidate carries a side effect (a non-empty
// source_ref). A similarity-based NONE with a side effect still escalates
// to update, since the caller wants the side effect merged even though
// the text itself is a duplicate.
func baseDecision(action resolver.Action, hasSideEffect bool) string {
	switch action {
	case resolver.ActionAdd:
		return decisionRemember
	case resolver.ActionUpdate:
		return decisionUpdate
	default: // resolver.ActionNone
		if hasSideEffect {
			return decisionUpdate
		}
		return decisionIgnore
	}
}

// applyPolicyThreshold is stage-2: confidence/importance floors may only
// downgrade remember/update to ignore, never the reverse.
func applyPolicyThreshold(base string, confidence, importance, minConfidence, minImportance float64) (final, reason string) {
	if base == decisionIgnore {
		return decisionIgnore, ReasonIgnoreDuplicate
	}
	if confidence < minConfidence || importance < minImportance {
		return decisionIgnore, ReasonIgnorePolicy
	}
	return base, ""
}

func hasSideEffect(sourceRef []byte) bool {
	if len(sourceRef) == 0 {
		return false
	}
	trimmed := trimJSONWhitespace(sourceRef)
	return string(trimmed) != "{}" && string(trimmed) != "null"
}

func trimJSONWhitespace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isJSONSpace(b[start]) {
		start++
	}
	for end > start && isJSONSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
