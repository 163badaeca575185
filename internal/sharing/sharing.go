// Package sharing resolves read-profile scope visibility and enforces the
// publish/grant access-control rules: scope precedence
// (agent_private > project_shared > org_shared), the org sentinel project
// union, and the static_keys admin-role gate on org_shared writes.
package sharing

import (
	"context"
	"errors"
	"fmt"

	"elfmemory/internal/config"
	"elfmemory/internal/store"
)

// Scope name constants. team_shared is the public alias for project_shared.
const (
	ScopeAgentPrivate  = "agent_private"
	ScopeProjectShared = "project_shared"
	ScopeOrgShared     = "org_shared"
	ScopeTeamShared    = "team_shared"
)

var ErrUnknownReadProfile = errors.New("sharing: unknown read profile")
var ErrAdminRequired = errors.New("sharing: admin role required for org_shared write")

// CanonicalScope maps the public team_shared alias onto the internal
// project_shared storage scope; every other scope passes through unchanged.
func CanonicalScope(scope string) string {
	if scope == ScopeTeamShared {
		return ScopeProjectShared
	}
	return scope
}

// ScopePrecedence returns higher-wins rank: agent_private > project_shared
// > org_shared. Used to pick a representative when a note would otherwise
// duplicate across scopes.
func ScopePrecedence(scope string) int {
	switch CanonicalScope(scope) {
	case ScopeAgentPrivate:
		return 3
	case ScopeProjectShared:
		return 2
	case ScopeOrgShared:
		return 1
	default:
		return 0
	}
}

// ReadContext is the resolved scope-visibility context for one search or
// fetch request: which scopes are allowed, and which projects' notes are in
// play once org_shared pulls in the sentinel project.
type ReadContext struct {
	Tenant         string
	Project        string
	Agent          string
	AllowedScopes  []string
	Projects       []string // caller's project, plus sentinel project if org_shared is allowed
	SentinelProject string
}

// ResolveReadContext looks up the read profile's allowed scopes and
// expands the project set when org_shared is among them.
func ResolveReadContext(cfg config.ScopesConfig, tenant, project, agent, readProfile string) (ReadContext, error) {
	scopes, ok := cfg.ReadProfiles[readProfile]
	if !ok {
		return ReadContext{}, fmt.Errorf("%w: %q", ErrUnknownReadProfile, readProfile)
	}
	rc := ReadContext{
		Tenant:          tenant,
		Project:         project,
		Agent:           agent,
		AllowedScopes:   scopes,
		Projects:        []string{project},
		SentinelProject: cfg.OrgSentinelProject,
	}
	if allows(scopes, ScopeOrgShared) && cfg.OrgSentinelProject != "" && cfg.OrgSentinelProject != project {
		rc.Projects = append(rc.Projects, cfg.OrgSentinelProject)
	}
	return rc, nil
}

func allows(scopes []string, target string) bool {
	for _, s := range scopes {
		if CanonicalScope(s) == target {
			return true
		}
	}
	return false
}

// NoteVisible reports whether a note is visible under rc: its scope must be
// in the allowed set, agent_private additionally requires the caller's own
// agent, and org_shared/project_shared notes must belong to one of rc's
// projects (the caller's own, or the sentinel project).
func (rc ReadContext) NoteVisible(n store.Note) bool {
	scope := CanonicalScope(n.Scope)
	if !allows(rc.AllowedScopes, scope) {
		return false
	}
	if scope == ScopeAgentPrivate {
		return n.Agent == rc.Agent && n.Project == rc.Project
	}
	for _, p := range rc.Projects {
		if n.Project == p {
			return true
		}
	}
	return false
}

// WritableScope reports whether scope is in the tenant's configured
// writable-scopes list.
func WritableScope(cfg config.ScopesConfig, scope string) bool {
	canon := CanonicalScope(scope)
	for _, s := range cfg.WritableScopes {
		if CanonicalScope(s) == canon {
			return true
		}
	}
	return false
}

// AuthorizeOrgSharedWrite enforces the static_keys admin-role gate on
// org_shared writes (ingest, publish/unpublish, grant upsert/revoke). In
// "off" auth mode role checks cannot be enforced; every other policy gate
// still applies.
func AuthorizeOrgSharedWrite(cfg config.SecurityConfig, scope string, isAdmin bool) error {
	if CanonicalScope(scope) != ScopeOrgShared {
		return nil
	}
	if cfg.AuthMode != "static_keys" {
		return nil
	}
	if !isAdmin {
		return ErrAdminRequired
	}
	return nil
}

// Service wraps the grants DAO with the scope/grant business rules.
type Service struct {
	store *store.Store
}

func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Publish moves a note into scope and creates (or reinstates) the grant
// that makes it visible.
func (s *Service) Publish(ctx context.Context, n store.Note, scope, granteeKind string, granteeAgent *string, reason, actor string) (store.Note, error) {
	canon := CanonicalScope(scope)
	updated, err := s.store.SetScope(ctx, n.NoteID, canon, reason, actor)
	if err != nil {
		return store.Note{}, err
	}
	_, err = s.store.GrantSpace(ctx, store.SpaceGrant{
		Tenant:          updated.Tenant,
		Project:         updated.Project,
		Scope:           canon,
		SpaceOwnerAgent: updated.Agent,
		GranteeKind:     granteeKind,
		GranteeAgent:    granteeAgent,
	})
	if err != nil {
		return store.Note{}, fmt.Errorf("publish: grant: %w", err)
	}
	return updated, nil
}

// Unpublish reverts a note to agent_private scope. Existing grants are left
// revoked-on-next-use rather than eagerly deleted here; callers that want
// an explicit revoke should call RevokeGrant separately.
func (s *Service) Unpublish(ctx context.Context, noteID, reason, actor string) (store.Note, error) {
	return s.store.SetScope(ctx, noteID, ScopeAgentPrivate, reason, actor)
}

// GrantSpace creates or reinstates a grant.
func (s *Service) GrantSpace(ctx context.Context, g store.SpaceGrant) (store.SpaceGrant, error) {
	g.Scope = CanonicalScope(g.Scope)
	return s.store.GrantSpace(ctx, g)
}

// RevokeGrant revokes an existing grant by id.
func (s *Service) RevokeGrant(ctx context.Context, grantID int64, revokedBy string) error {
	return s.store.RevokeSpace(ctx, grantID, revokedBy)
}

// ActiveGrantsFor lists active grants that make notes visible to
// granteeAgent, combining both scopes' worth of grants when org_shared is
// in play (the caller supplies tenant/project already expanded to include
// the sentinel project, one call per project).
func (s *Service) ActiveGrantsFor(ctx context.Context, tenant, project, granteeAgent string) ([]store.SpaceGrant, error) {
	return s.store.ActiveGrantsFor(ctx, tenant, project, granteeAgent)
}
