// Package roles maintains per-user, per-client application role assignments
// and computes effective roles and permissions across tenant-wide and
// organization-scoped contexts.
package roles

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

// AssignmentKey returns the entity key for a user's role assignments within
// a client.
func AssignmentKey(tenantID, clientID, userID string) string {
	return tenantID + "/client-" + clientID + "/user-" + userID
}

// ScopeKind discriminates assignment scope.
type ScopeKind string

const (
	ScopeTenant       ScopeKind = "tenant"
	ScopeOrganization ScopeKind = "organization"
)

// Scope tags a role assignment as tenant-wide or bound to one organization.
type Scope struct {
	Kind           ScopeKind `json:"kind"`
	OrganizationID string    `json:"organization_id,omitempty"`
}

// TenantScope returns the tenant-wide scope.
func TenantScope() Scope {
	return Scope{Kind: ScopeTenant}
}

// OrganizationScope returns a scope bound to orgID. The empty orgID is
// caught at the assignment boundary rather than silently widening the
// assignment to the tenant.
func OrganizationScope(orgID string) Scope {
	return Scope{Kind: ScopeOrganization, OrganizationID: orgID}
}

func (s Scope) validate() error {
	switch s.Kind {
	case ScopeTenant:
		return nil
	case ScopeOrganization:
		if s.OrganizationID == "" {
			return apperrors.New(apperrors.CodeRoleScopeMissingOrg, "organization-scoped assignment requires an organization id")
		}
		return nil
	default:
		return apperrors.New(apperrors.CodeInvalidState, "unknown assignment scope")
	}
}

// Assignment is one granted role.
type Assignment struct {
	RoleID    string    `json:"role_id"`
	Scope     Scope     `json:"scope"`
	GrantedAt time.Time `json:"granted_at"`
}

type state struct {
	Assignments []Assignment `json:"assignments"`
}

// RoleDefinition resolves a role ID to its permission set. Client
// application roles supply these.
type RoleDefinition struct {
	ID          string
	Permissions []string
}

// Assignments operates on application role assignment entities.
type Assignments struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// New creates the assignment facade. now defaults to time.Now.
func New(rt *runtime.Runtime, now func() time.Time) *Assignments {
	if now == nil {
		now = time.Now
	}
	return &Assignments{rt: rt, now: now}
}

// Assign grants roleID under scope. Reassigning an identical (role, scope)
// pair is idempotent; the same role may be held under several scopes.
func (a *Assignments) Assign(ctx context.Context, tenantID, clientID, userID, roleID string, scope Scope) error {
	if roleID == "" {
		return apperrors.New(apperrors.CodeRoleEmptyID, "role id is required")
	}
	if err := scope.validate(); err != nil {
		return err
	}
	key := AssignmentKey(tenantID, clientID, userID)
	_, err := runtime.Invoke(ctx, a.rt, key, func(ctx context.Context, s *state, exists bool) (bool, error) {
		for _, existing := range s.Assignments {
			if existing.RoleID == roleID && existing.Scope == scope {
				return false, nil
			}
		}
		s.Assignments = append(s.Assignments, Assignment{RoleID: roleID, Scope: scope, GrantedAt: a.now().UTC()})
		return true, nil
	})
	return err
}

// Unassign removes the (role, scope) grant. Removing an absent grant is a
// no-op.
func (a *Assignments) Unassign(ctx context.Context, tenantID, clientID, userID, roleID string, scope Scope) error {
	key := AssignmentKey(tenantID, clientID, userID)
	_, err := runtime.Invoke(ctx, a.rt, key, func(ctx context.Context, s *state, exists bool) (bool, error) {
		kept := s.Assignments[:0]
		removed := false
		for _, existing := range s.Assignments {
			if existing.RoleID == roleID && existing.Scope == scope {
				removed = true
				continue
			}
			kept = append(kept, existing)
		}
		s.Assignments = kept
		return removed, nil
	})
	return err
}

// EffectiveRoles returns the sorted union of tenant-scoped role IDs plus,
// when orgID is non-empty, the role IDs scoped to that organization. Roles
// scoped to other organizations are excluded even though assigned.
func (a *Assignments) EffectiveRoles(ctx context.Context, tenantID, clientID, userID, orgID string) ([]string, error) {
	s, _, err := runtime.View[state](ctx, a.rt, AssignmentKey(tenantID, clientID, userID))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, assignment := range s.Assignments {
		switch assignment.Scope.Kind {
		case ScopeTenant:
			set[assignment.RoleID] = struct{}{}
		case ScopeOrganization:
			if orgID != "" && assignment.Scope.OrganizationID == orgID {
				set[assignment.RoleID] = struct{}{}
			}
		}
	}
	roles := make([]string, 0, len(set))
	for roleID := range set {
		roles = append(roles, roleID)
	}
	sort.Strings(roles)
	return roles, nil
}

// EffectivePermissions resolves the effective roles against defs and unions
// their permission sets. Roles with no surviving definition are skipped.
func (a *Assignments) EffectivePermissions(ctx context.Context, tenantID, clientID, userID, orgID string, defs []RoleDefinition) ([]string, error) {
	roles, err := a.EffectiveRoles(ctx, tenantID, clientID, userID, orgID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]RoleDefinition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}
	set := make(map[string]struct{})
	for _, roleID := range roles {
		def, ok := byID[roleID]
		if !ok {
			continue
		}
		for _, perm := range def.Permissions {
			set[perm] = struct{}{}
		}
	}
	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms, nil
}
