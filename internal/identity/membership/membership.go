// Package membership provides tenant- and organization-scoped membership
// entities. Both share one record shape; the entity key decides the scope.
package membership

import (
	"context"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

// TenantKey returns the entity key for a user's tenant membership.
func TenantKey(tenantID, userID string) string {
	return tenantID + "/member-" + userID
}

// OrgKey returns the entity key for a user's organization membership.
func OrgKey(tenantID, orgID, userID string) string {
	return tenantID + "/org-" + orgID + "/member-" + userID
}

// Claim is a typed key/value attached to a membership.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Membership is the persisted membership record. Removal deactivates the
// record and keeps roles and claims for audit; it is never hard-deleted.
type Membership struct {
	UserID    string    `json:"user_id"`
	ParentID  string    `json:"parent_id"`
	Roles     []string  `json:"roles,omitempty"`
	Claims    []Claim   `json:"claims,omitempty"`
	IsActive  bool      `json:"is_active"`
	JoinedAt  time.Time `json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole reports whether the membership carries roleID.
func (m Membership) HasRole(roleID string) bool {
	for _, role := range m.Roles {
		if role == roleID {
			return true
		}
	}
	return false
}

// Memberships operates on membership entities under keys built with
// TenantKey or OrgKey.
type Memberships struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// New creates the membership entity facade. now defaults to time.Now.
func New(rt *runtime.Runtime, now func() time.Time) *Memberships {
	if now == nil {
		now = time.Now
	}
	return &Memberships{rt: rt, now: now}
}

// Join creates the membership, or reactivates it when the user previously
// left. Joining an already-active membership is idempotent.
func (m *Memberships) Join(ctx context.Context, key, userID, parentID string, roles []string) (Membership, error) {
	return runtime.Invoke(ctx, m.rt, key, func(ctx context.Context, s *Membership, exists bool) (bool, error) {
		now := m.now().UTC()
		if exists {
			if s.IsActive {
				return false, nil
			}
			s.IsActive = true
			s.UpdatedAt = now
			return true, nil
		}
		*s = Membership{
			UserID:    userID,
			ParentID:  parentID,
			Roles:     roles,
			IsActive:  true,
			JoinedAt:  now,
			UpdatedAt: now,
		}
		return true, nil
	})
}

// Get returns the membership record. Absent memberships fail with
// CodeNotFound; left memberships are returned with IsActive=false.
func (m *Memberships) Get(ctx context.Context, key string) (Membership, error) {
	s, exists, err := runtime.View[Membership](ctx, m.rt, key)
	if err != nil {
		return Membership{}, err
	}
	if !exists {
		return Membership{}, apperrors.New(apperrors.CodeNotFound, "membership not found")
	}
	return s, nil
}

// AddRole attaches roleID to the membership. Idempotent.
func (m *Memberships) AddRole(ctx context.Context, key, roleID string) (Membership, error) {
	return m.mutate(ctx, key, func(s *Membership) error {
		if s.HasRole(roleID) {
			return nil
		}
		s.Roles = append(s.Roles, roleID)
		return nil
	})
}

// RemoveRole detaches roleID from the membership.
func (m *Memberships) RemoveRole(ctx context.Context, key, roleID string) (Membership, error) {
	return m.mutate(ctx, key, func(s *Membership) error {
		kept := s.Roles[:0]
		for _, role := range s.Roles {
			if role != roleID {
				kept = append(kept, role)
			}
		}
		s.Roles = kept
		return nil
	})
}

// AddClaim attaches a claim. Duplicate (type, value) pairs collapse.
func (m *Memberships) AddClaim(ctx context.Context, key string, claim Claim) (Membership, error) {
	return m.mutate(ctx, key, func(s *Membership) error {
		for _, existing := range s.Claims {
			if existing == claim {
				return nil
			}
		}
		s.Claims = append(s.Claims, claim)
		return nil
	})
}

// RemoveClaim detaches a claim.
func (m *Memberships) RemoveClaim(ctx context.Context, key string, claim Claim) (Membership, error) {
	return m.mutate(ctx, key, func(s *Membership) error {
		kept := s.Claims[:0]
		for _, existing := range s.Claims {
			if existing != claim {
				kept = append(kept, existing)
			}
		}
		s.Claims = kept
		return nil
	})
}

// Leave deactivates the membership. Roles and claims are retained for audit
// rather than deleted.
func (m *Memberships) Leave(ctx context.Context, key string) error {
	_, err := m.mutate(ctx, key, func(s *Membership) error {
		s.IsActive = false
		return nil
	})
	return err
}

func (m *Memberships) mutate(ctx context.Context, key string, fn func(s *Membership) error) (Membership, error) {
	return runtime.Invoke(ctx, m.rt, key, func(ctx context.Context, s *Membership, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "membership not found")
		}
		if err := fn(s); err != nil {
			return false, err
		}
		s.UpdatedAt = m.now().UTC()
		return true, nil
	})
}
