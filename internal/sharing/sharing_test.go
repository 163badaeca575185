package sharing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elfmemory/internal/config"
	"elfmemory/internal/store"
)

func testScopesConfig() config.ScopesConfig {
	return config.ScopesConfig{
		Allowed: []string{"agent_private", "project_shared", "org_shared"},
		ReadProfiles: map[string][]string{
			"self_only": {"agent_private"},
			"team":      {"agent_private", "project_shared"},
			"org":       {"agent_private", "project_shared", "org_shared"},
		},
		OrgSentinelProject: "org-sentinel",
		WritableScopes:     []string{"agent_private", "project_shared"},
	}
}

func TestResolveReadContext_UnknownProfile(t *testing.T) {
	_, err := ResolveReadContext(testScopesConfig(), "t1", "p1", "a1", "nonexistent")
	assert.ErrorIs(t, err, ErrUnknownReadProfile)
}

func TestResolveReadContext_OrgSharedAddsSentinelProject(t *testing.T) {
	rc, err := ResolveReadContext(testScopesConfig(), "t1", "p1", "a1", "org")
	require.NoError(t, err)
	assert.Contains(t, rc.Projects, "p1")
	assert.Contains(t, rc.Projects, "org-sentinel")
}

func TestResolveReadContext_TeamProfileDoesNotAddSentinel(t *testing.T) {
	rc, err := ResolveReadContext(testScopesConfig(), "t1", "p1", "a1", "team")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, rc.Projects)
}

func TestNoteVisible_AgentPrivateRequiresOwnAgent(t *testing.T) {
	rc, _ := ResolveReadContext(testScopesConfig(), "t1", "p1", "a1", "team")
	visible := rc.NoteVisible(store.Note{Scope: "agent_private", Agent: "a1", Project: "p1"})
	assert.True(t, visible)
	notVisible := rc.NoteVisible(store.Note{Scope: "agent_private", Agent: "a2", Project: "p1"})
	assert.False(t, notVisible)
}

func TestNoteVisible_ScopeNotAllowed(t *testing.T) {
	rc, _ := ResolveReadContext(testScopesConfig(), "t1", "p1", "a1", "self_only")
	assert.False(t, rc.NoteVisible(store.Note{Scope: "project_shared", Project: "p1"}))
}

func TestNoteVisible_OrgSharedVisibleFromSentinel(t *testing.T) {
	rc, _ := ResolveReadContext(testScopesConfig(), "t1", "p1", "a1", "org")
	assert.True(t, rc.NoteVisible(store.Note{Scope: "org_shared", Project: "org-sentinel"}))
}

func TestCanonicalScope_TeamSharedAliasesProjectShared(t *testing.T) {
	assert.Equal(t, ScopeProjectShared, CanonicalScope(ScopeTeamShared))
}

func TestScopePrecedence_Ordering(t *testing.T) {
	assert.Greater(t, ScopePrecedence(ScopeAgentPrivate), ScopePrecedence(ScopeProjectShared))
	assert.Greater(t, ScopePrecedence(ScopeProjectShared), ScopePrecedence(ScopeOrgShared))
}

func TestWritableScope(t *testing.T) {
	cfg := testScopesConfig()
	assert.True(t, WritableScope(cfg, "agent_private"))
	assert.False(t, WritableScope(cfg, "org_shared"))
}

func TestAuthorizeOrgSharedWrite_StaticKeysRequiresAdmin(t *testing.T) {
	cfg := config.SecurityConfig{AuthMode: "static_keys"}
	assert.NoError(t, AuthorizeOrgSharedWrite(cfg, "org_shared", true))
	assert.ErrorIs(t, AuthorizeOrgSharedWrite(cfg, "org_shared", false), ErrAdminRequired)
}

func TestAuthorizeOrgSharedWrite_NonOrgSharedNeverGated(t *testing.T) {
	cfg := config.SecurityConfig{AuthMode: "static_keys"}
	assert.NoError(t, AuthorizeOrgSharedWrite(cfg, "project_shared", false))
}

func TestAuthorizeOrgSharedWrite_OffModeCannotEnforce(t *testing.T) {
	cfg := config.SecurityConfig{AuthMode: "off"}
	assert.NoError(t, AuthorizeOrgSharedWrite(cfg, "org_shared", false))
}
