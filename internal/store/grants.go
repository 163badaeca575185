package store

import "context"

// GrantSpace creates (or reinstates) a space grant. At most one active
// grant exists per logical tuple; granting again after a revocation
// clears revoked_at rather than inserting a duplicate row, preserving the
// unique constraint while keeping a single row's history.
func (s *Store) GrantSpace(ctx context.Context, g SpaceGrant) (SpaceGrant, error) {
	var out SpaceGrant
	row := s.pool.QueryRow(ctx, `
INSERT INTO space_grants (tenant, project, scope, space_owner_agent, grantee_kind, grantee_agent)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (tenant, project, scope, space_owner_agent, grantee_kind, grantee_agent)
DO UPDATE SET revoked_at = NULL, revoked_by = NULL, granted_at = now()
RETURNING grant_id, tenant, project, scope, space_owner_agent, grantee_kind, grantee_agent,
          granted_at, revoked_at, revoked_by`,
		g.Tenant, g.Project, g.Scope, g.SpaceOwnerAgent, g.GranteeKind, g.GranteeAgent)
	if err := scanGrant(row, &out); err != nil {
		return SpaceGrant{}, err
	}
	return out, nil
}

// RevokeSpace marks a grant revoked without deleting it, preserving an
// audit trail of who had access and when access ended.
func (s *Store) RevokeSpace(ctx context.Context, grantID int64, revokedBy string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE space_grants SET revoked_at = now(), revoked_by = $2
WHERE grant_id = $1 AND revoked_at IS NULL`, grantID, revokedBy)
	return err
}

// ActiveGrantsFor returns every active grant that makes spaceOwnerAgent's
// notes visible to granteeAgent within (tenant, project), used by the
// sharing package to resolve a caller's read profile.
func (s *Store) ActiveGrantsFor(ctx context.Context, tenant, project, granteeAgent string) ([]SpaceGrant, error) {
	rows, err := s.pool.Query(ctx, `
SELECT grant_id, tenant, project, scope, space_owner_agent, grantee_kind, grantee_agent,
       granted_at, revoked_at, revoked_by
FROM space_grants
WHERE tenant=$1 AND project=$2 AND revoked_at IS NULL
  AND ((grantee_kind='agent' AND grantee_agent=$3) OR grantee_kind='project')`,
		tenant, project, granteeAgent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SpaceGrant
	for rows.Next() {
		var g SpaceGrant
		if err := rows.Scan(&g.GrantID, &g.Tenant, &g.Project, &g.Scope, &g.SpaceOwnerAgent,
			&g.GranteeKind, &g.GranteeAgent, &g.GrantedAt, &g.RevokedAt, &g.RevokedBy); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGrant(row rowScanner, g *SpaceGrant) error {
	return row.Scan(&g.GrantID, &g.Tenant, &g.Project, &g.Scope, &g.SpaceOwnerAgent,
		&g.GranteeKind, &g.GranteeAgent, &g.GrantedAt, &g.RevokedAt, &g.RevokedBy)
}
