// Package org provides the organization entity, nested under a tenant.
package org

import (
	"context"
	"strings"
	"time"

	"github.com/tessera-id/tessera/internal/identity/tenant"
	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

var (
	// ErrEmptyIdentifier indicates a missing organization identifier.
	ErrEmptyIdentifier = apperrors.New(apperrors.CodeOrgEmptyIdentifier, "organization identifier is required")
	// ErrSystemRole indicates an attempt to change or delete a system role.
	ErrSystemRole = apperrors.New(apperrors.CodeOrgSystemRole, "system roles cannot be modified or deleted")
)

// System role names seeded into every organization.
const (
	RoleOwner  = "Owner"
	RoleAdmin  = "Admin"
	RoleMember = "Member"
)

// Key returns the entity key for an organization within a tenant.
func Key(tenantID, orgID string) string {
	return tenantID + "/org-" + orgID
}

// Settings holds organization-level options.
type Settings struct {
	AllowSelfJoin bool   `json:"allow_self_join"`
	DefaultRoleID string `json:"default_role_id,omitempty"`
	MaxMembers    int    `json:"max_members,omitempty"`
	LogoURL       string `json:"logo_url,omitempty"`
	SupportEmail  string `json:"support_email,omitempty"`
}

// Role is a named permission set scoped to the organization.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
	IsSystem    bool     `json:"is_system,omitempty"`
}

// Organization is the persisted organization record.
type Organization struct {
	TenantID   string    `json:"tenant_id"`
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	MemberIDs  []string  `json:"member_ids,omitempty"`
	Roles      []Role    `json:"roles,omitempty"`
	Settings   Settings  `json:"settings"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoleByID returns the role definition for id.
func (o Organization) RoleByID(id string) (Role, bool) {
	for _, role := range o.Roles {
		if role.ID == id {
			return role, true
		}
	}
	return Role{}, false
}

// Orgs operates on organization entities.
type Orgs struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// New creates the organization entity facade. now defaults to time.Now.
func New(rt *runtime.Runtime, now func() time.Time) *Orgs {
	if now == nil {
		now = time.Now
	}
	return &Orgs{rt: rt, now: now}
}

// Create writes a new organization entity with seeded system roles.
// Identifier uniqueness within the tenant is the caller's concern (see
// directory, which holds an identifier lock across creation). The identifier
// shares the tenant identifier format.
func (o *Orgs) Create(ctx context.Context, tenantID, orgID, identifier, name string) (Organization, error) {
	if strings.TrimSpace(identifier) == "" {
		return Organization{}, ErrEmptyIdentifier
	}
	if err := tenant.ValidateIdentifier(identifier); err != nil {
		return Organization{}, err
	}
	return runtime.Invoke(ctx, o.rt, Key(tenantID, orgID), func(ctx context.Context, s *Organization, exists bool) (bool, error) {
		if exists {
			return false, apperrors.New(apperrors.CodeConflict, "organization already exists")
		}
		now := o.now().UTC()
		*s = Organization{
			TenantID:   tenantID,
			ID:         orgID,
			Identifier: identifier,
			Name:       name,
			IsActive:   true,
			Roles: []Role{
				{ID: "role-owner", Name: RoleOwner, Permissions: []string{"org:manage", "org:delete", "members:manage", "roles:manage"}, IsSystem: true},
				{ID: "role-admin", Name: RoleAdmin, Permissions: []string{"org:manage", "members:manage"}, IsSystem: true},
				{ID: "role-member", Name: RoleMember, Permissions: []string{"org:read"}, IsSystem: true},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		return true, nil
	})
}

// Get returns the organization record. Absent organizations fail with
// CodeNotFound.
func (o *Orgs) Get(ctx context.Context, tenantID, orgID string) (Organization, error) {
	s, exists, err := runtime.View[Organization](ctx, o.rt, Key(tenantID, orgID))
	if err != nil {
		return Organization{}, err
	}
	if !exists {
		return Organization{}, apperrors.New(apperrors.CodeNotFound, "organization not found")
	}
	return s, nil
}

// AddMember records a user as an organization member. Idempotent.
func (o *Orgs) AddMember(ctx context.Context, tenantID, orgID, userID string) error {
	_, err := o.mutate(ctx, tenantID, orgID, func(s *Organization) error {
		for _, id := range s.MemberIDs {
			if id == userID {
				return nil
			}
		}
		if s.Settings.MaxMembers > 0 && len(s.MemberIDs) >= s.Settings.MaxMembers {
			return apperrors.New(apperrors.CodeInvalidState, "organization member limit reached")
		}
		s.MemberIDs = append(s.MemberIDs, userID)
		return nil
	})
	return err
}

// RemoveMember drops a user from the member list.
func (o *Orgs) RemoveMember(ctx context.Context, tenantID, orgID, userID string) error {
	_, err := o.mutate(ctx, tenantID, orgID, func(s *Organization) error {
		kept := s.MemberIDs[:0]
		for _, id := range s.MemberIDs {
			if id != userID {
				kept = append(kept, id)
			}
		}
		s.MemberIDs = kept
		return nil
	})
	return err
}

// UpdateSettings replaces the settings block.
func (o *Orgs) UpdateSettings(ctx context.Context, tenantID, orgID string, settings Settings) (Organization, error) {
	return o.mutate(ctx, tenantID, orgID, func(s *Organization) error {
		s.Settings = settings
		return nil
	})
}

// AddRole appends a custom role definition.
func (o *Orgs) AddRole(ctx context.Context, tenantID, orgID string, role Role) (Organization, error) {
	if strings.TrimSpace(role.ID) == "" {
		return Organization{}, apperrors.New(apperrors.CodeRoleEmptyID, "role id is required")
	}
	role.IsSystem = false
	return o.mutate(ctx, tenantID, orgID, func(s *Organization) error {
		if _, ok := s.RoleByID(role.ID); ok {
			return apperrors.New(apperrors.CodeConflict, "role id already defined")
		}
		s.Roles = append(s.Roles, role)
		return nil
	})
}

// DeleteRole removes a custom role definition. System roles are undeletable.
func (o *Orgs) DeleteRole(ctx context.Context, tenantID, orgID, roleID string) (Organization, error) {
	return o.mutate(ctx, tenantID, orgID, func(s *Organization) error {
		for i, existing := range s.Roles {
			if existing.ID != roleID {
				continue
			}
			if existing.IsSystem {
				return ErrSystemRole
			}
			s.Roles = append(s.Roles[:i], s.Roles[i+1:]...)
			return nil
		}
		return apperrors.New(apperrors.CodeNotFound, "role not found")
	})
}

// Deactivate disables the organization. The record is retained.
func (o *Orgs) Deactivate(ctx context.Context, tenantID, orgID string) error {
	_, err := o.mutate(ctx, tenantID, orgID, func(s *Organization) error {
		s.IsActive = false
		return nil
	})
	return err
}

func (o *Orgs) mutate(ctx context.Context, tenantID, orgID string, fn func(s *Organization) error) (Organization, error) {
	return runtime.Invoke(ctx, o.rt, Key(tenantID, orgID), func(ctx context.Context, s *Organization, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "organization not found")
		}
		if err := fn(s); err != nil {
			return false, err
		}
		s.UpdatedAt = o.now().UTC()
		return true, nil
	})
}
