package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"elfmemory/internal/config"
	"elfmemory/internal/resolver"
)

func TestBaseDecision(t *testing.T) {
	assert.Equal(t, decisionRemember, baseDecision(resolver.ActionAdd, false))
	assert.Equal(t, decisionUpdate, baseDecision(resolver.ActionUpdate, false))
	assert.Equal(t, decisionUpdate, baseDecision(resolver.ActionNone, true))
	assert.Equal(t, decisionIgnore, baseDecision(resolver.ActionNone, false))
}

func TestApplyPolicyThreshold_IgnoreBasePropagatesDuplicateReason(t *testing.T) {
	final, reason := applyPolicyThreshold(decisionIgnore, 0.9, 0.9, 0.1, 0.1)
	assert.Equal(t, decisionIgnore, final)
	assert.Equal(t, ReasonIgnoreDuplicate, reason)
}

func TestApplyPolicyThreshold_DowngradesBelowFloor(t *testing.T) {
	final, reason := applyPolicyThreshold(decisionRemember, 0.2, 0.9, 0.5, 0.1)
	assert.Equal(t, decisionIgnore, final)
	assert.Equal(t, ReasonIgnorePolicy, reason)
}

func TestApplyPolicyThreshold_NeverUpgrades(t *testing.T) {
	final, reason := applyPolicyThreshold(decisionRemember, 0.9, 0.9, 0.1, 0.1)
	assert.Equal(t, decisionRemember, final)
	assert.Empty(t, reason)
}

func TestHasSideEffect(t *testing.T) {
	assert.False(t, hasSideEffect(nil))
	assert.False(t, hasSideEffect([]byte("{}")))
	assert.False(t, hasSideEffect([]byte("  {}  ")))
	assert.False(t, hasSideEffect([]byte("null")))
	assert.True(t, hasSideEffect([]byte(`{"source":"slack"}`)))
}

func TestFirstWritableScope(t *testing.T) {
	cfg := config.Config{}
	assert.Empty(t, firstWritableScope(cfg))
	cfg.Scopes.WritableScopes = []string{"agent_private", "project_shared"}
	assert.Equal(t, "agent_private", firstWritableScope(cfg))
}
