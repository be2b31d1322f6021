// Package tenant provides the tenant entity and its role set.
package tenant

import (
	"context"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

var (
	// ErrEmptyIdentifier indicates a missing tenant identifier.
	ErrEmptyIdentifier = apperrors.New(apperrors.CodeTenantEmptyIdentifier, "tenant identifier is required")
	// ErrInvalidIdentifier indicates an identifier outside the allowed format.
	ErrInvalidIdentifier = apperrors.New(apperrors.CodeTenantInvalidIdentifier, "tenant identifier must be 3-32 lowercase alphanumeric or dash characters")
	// ErrSystemRole indicates an attempt to change or delete a system role.
	ErrSystemRole = apperrors.New(apperrors.CodeTenantSystemRole, "system roles cannot be modified or deleted")

	identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{2,31}$`)
)

// System role names seeded into every tenant.
const (
	RoleAdmin  = "Administrator"
	RoleMember = "Member"
)

// Key returns the entity key for a tenant ID.
func Key(tenantID string) string {
	return "tenant-" + tenantID
}

// Config holds per-tenant protocol settings.
type Config struct {
	AccessTokenTTL       time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `json:"refresh_token_ttl"`
	AuthorizationCodeTTL time.Duration `json:"authorization_code_ttl"`
	RequirePKCE          bool          `json:"require_pkce"`
	LoginRatePerSecond   float64       `json:"login_rate_per_second"`
	LoginBurst           int           `json:"login_burst"`
}

// DefaultConfig returns the settings applied to new tenants.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      30 * 24 * time.Hour,
		AuthorizationCodeTTL: 10 * time.Minute,
		RequirePKCE:          true,
		LoginRatePerSecond:   10,
		LoginBurst:           20,
	}
}

// Role is a named permission set scoped to the tenant. System roles are
// immutable and undeletable.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
	IsSystem    bool     `json:"is_system,omitempty"`
}

// Tenant is the persisted tenant record.
type Tenant struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Config      Config    `json:"config"`
	IsActive    bool      `json:"is_active"`
	MemberIDs   []string  `json:"member_ids,omitempty"`
	Roles       []Role    `json:"roles,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleByID returns the role definition for id.
func (t Tenant) RoleByID(id string) (Role, bool) {
	for _, role := range t.Roles {
		if role.ID == id {
			return role, true
		}
	}
	return Role{}, false
}

// ValidateIdentifier enforces canonical identifier constraints. Identifiers
// appear in entity key prefixes and issuer URLs.
func ValidateIdentifier(identifier string) error {
	if strings.TrimSpace(identifier) == "" {
		return ErrEmptyIdentifier
	}
	if !identifierPattern.MatchString(identifier) {
		return ErrInvalidIdentifier
	}
	return nil
}

// Tenants operates on tenant entities.
type Tenants struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// New creates the tenant entity facade. now defaults to time.Now.
func New(rt *runtime.Runtime, now func() time.Time) *Tenants {
	if now == nil {
		now = time.Now
	}
	return &Tenants{rt: rt, now: now}
}

// Create writes a new tenant entity with default config and seeded system
// roles. Identifier uniqueness is the caller's concern (see directory):
// the tenant registry must be consulted before creation.
func (t *Tenants) Create(ctx context.Context, tenantID, identifier, name string) (Tenant, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return Tenant{}, err
	}
	return runtime.Invoke(ctx, t.rt, Key(tenantID), func(ctx context.Context, s *Tenant, exists bool) (bool, error) {
		if exists {
			return false, apperrors.New(apperrors.CodeConflict, "tenant already exists")
		}
		now := t.now().UTC()
		*s = Tenant{
			ID:         tenantID,
			Identifier: identifier,
			Name:       name,
			Config:     DefaultConfig(),
			IsActive:   true,
			Roles: []Role{
				{ID: "role-admin", Name: RoleAdmin, Permissions: []string{"tenant:manage", "users:manage", "clients:manage"}, IsSystem: true},
				{ID: "role-member", Name: RoleMember, Permissions: []string{"profile:read", "profile:write"}, IsSystem: true},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		return true, nil
	})
}

// Get returns the tenant record. Absent tenants fail with CodeNotFound.
func (t *Tenants) Get(ctx context.Context, tenantID string) (Tenant, error) {
	s, exists, err := runtime.View[Tenant](ctx, t.rt, Key(tenantID))
	if err != nil {
		return Tenant{}, err
	}
	if !exists {
		return Tenant{}, apperrors.New(apperrors.CodeNotFound, "tenant not found")
	}
	return s, nil
}

// UpdateConfig replaces the protocol settings.
func (t *Tenants) UpdateConfig(ctx context.Context, tenantID string, config Config) (Tenant, error) {
	return t.mutate(ctx, tenantID, func(s *Tenant) error {
		s.Config = config
		return nil
	})
}

// SetDisplayName updates the human-facing name.
func (t *Tenants) SetDisplayName(ctx context.Context, tenantID, displayName string) (Tenant, error) {
	return t.mutate(ctx, tenantID, func(s *Tenant) error {
		s.DisplayName = displayName
		return nil
	})
}

// Deactivate disables the tenant. OAuth flows for its clients must fail from
// this point even though client records are untouched; enforcement happens
// where clients are resolved.
func (t *Tenants) Deactivate(ctx context.Context, tenantID string) error {
	_, err := t.mutate(ctx, tenantID, func(s *Tenant) error {
		s.IsActive = false
		return nil
	})
	return err
}

// Reactivate re-enables a deactivated tenant.
func (t *Tenants) Reactivate(ctx context.Context, tenantID string) error {
	_, err := t.mutate(ctx, tenantID, func(s *Tenant) error {
		s.IsActive = true
		return nil
	})
	return err
}

// AddMember records a user as a tenant member. Idempotent.
func (t *Tenants) AddMember(ctx context.Context, tenantID, userID string) error {
	_, err := t.mutate(ctx, tenantID, func(s *Tenant) error {
		for _, id := range s.MemberIDs {
			if id == userID {
				return nil
			}
		}
		s.MemberIDs = append(s.MemberIDs, userID)
		return nil
	})
	return err
}

// AddRole appends a custom role definition.
func (t *Tenants) AddRole(ctx context.Context, tenantID string, role Role) (Tenant, error) {
	if strings.TrimSpace(role.ID) == "" {
		return Tenant{}, apperrors.New(apperrors.CodeRoleEmptyID, "role id is required")
	}
	role.IsSystem = false
	return t.mutate(ctx, tenantID, func(s *Tenant) error {
		if _, ok := s.RoleByID(role.ID); ok {
			return apperrors.New(apperrors.CodeConflict, "role id already defined")
		}
		s.Roles = append(s.Roles, role)
		return nil
	})
}

// UpdateRole replaces a custom role definition. System roles are immutable.
func (t *Tenants) UpdateRole(ctx context.Context, tenantID string, role Role) (Tenant, error) {
	return t.mutate(ctx, tenantID, func(s *Tenant) error {
		for i, existing := range s.Roles {
			if existing.ID != role.ID {
				continue
			}
			if existing.IsSystem {
				return ErrSystemRole
			}
			role.IsSystem = false
			s.Roles[i] = role
			return nil
		}
		return apperrors.New(apperrors.CodeNotFound, "role not found")
	})
}

// DeleteRole removes a custom role definition. System roles are undeletable.
func (t *Tenants) DeleteRole(ctx context.Context, tenantID, roleID string) (Tenant, error) {
	return t.mutate(ctx, tenantID, func(s *Tenant) error {
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

func (t *Tenants) mutate(ctx context.Context, tenantID string, fn func(s *Tenant) error) (Tenant, error) {
	return runtime.Invoke(ctx, t.rt, Key(tenantID), func(ctx context.Context, s *Tenant, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "tenant not found")
		}
		if err := fn(s); err != nil {
			return false, err
		}
		s.UpdatedAt = t.now().UTC()
		return true, nil
	})
}
