package org

import (
	"context"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

// InvitationKey returns the entity key for an organization invitation.
func InvitationKey(tenantID, orgID, invitationID string) string {
	return tenantID + "/org-" + orgID + "/invitation-" + invitationID
}

// Invitation is a single-use offer to join an organization.
type Invitation struct {
	TenantID       string    `json:"tenant_id"`
	OrganizationID string    `json:"organization_id"`
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	RoleIDs        []string  `json:"role_ids,omitempty"`
	InvitedBy      string    `json:"invited_by"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Accepted       bool      `json:"accepted,omitempty"`
	AcceptedBy     string    `json:"accepted_by,omitempty"`
}

// Invite creates an invitation entity.
func (o *Orgs) Invite(ctx context.Context, inv Invitation) (Invitation, error) {
	key := InvitationKey(inv.TenantID, inv.OrganizationID, inv.ID)
	return runtime.Invoke(ctx, o.rt, key, func(ctx context.Context, s *Invitation, exists bool) (bool, error) {
		if exists {
			return false, apperrors.New(apperrors.CodeConflict, "invitation already exists")
		}
		inv.CreatedAt = o.now().UTC()
		*s = inv
		return true, nil
	})
}

// AcceptInvitation consumes the invitation for userID. An invitation is
// single-use: a second accept fails with CodeAlreadyConsumed even under
// concurrent attempts, via the per-key single-writer guarantee.
func (o *Orgs) AcceptInvitation(ctx context.Context, tenantID, orgID, invitationID, userID string) (Invitation, error) {
	key := InvitationKey(tenantID, orgID, invitationID)
	return runtime.Invoke(ctx, o.rt, key, func(ctx context.Context, s *Invitation, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "invitation not found")
		}
		if s.Accepted {
			return false, apperrors.New(apperrors.CodeAlreadyConsumed, "invitation already accepted")
		}
		if !o.now().UTC().Before(s.ExpiresAt) {
			return false, apperrors.New(apperrors.CodeExpired, "invitation expired")
		}
		s.Accepted = true
		s.AcceptedBy = userID
		return true, nil
	})
}
