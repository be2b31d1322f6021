package org

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
	"github.com/tessera-id/tessera/internal/storage"
)

func newTestOrgs(now func() time.Time) *Orgs {
	return New(runtime.New(storage.NewMemory()), now)
}

func mustCreate(t *testing.T, orgs *Orgs) Organization {
	t.Helper()
	created, err := orgs.Create(context.Background(), "t1", "o1", "engineering", "Engineering")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	return created
}

func TestCreateSeedsSystemRoles(t *testing.T) {
	orgs := newTestOrgs(nil)
	created := mustCreate(t, orgs)

	for _, roleID := range []string{"role-owner", "role-admin", "role-member"} {
		role, ok := created.RoleByID(roleID)
		if !ok || !role.IsSystem {
			t.Fatalf("expected seeded system role %s, got %+v ok=%v", roleID, role, ok)
		}
	}
}

func TestCreateValidatesIdentifier(t *testing.T) {
	orgs := newTestOrgs(nil)
	if _, err := orgs.Create(context.Background(), "t1", "o1", "", "X"); apperrors.CodeOf(err) != apperrors.CodeOrgEmptyIdentifier {
		t.Fatalf("Create(empty identifier) = %v, want empty identifier error", err)
	}
	if _, err := orgs.Create(context.Background(), "t1", "o1", "Bad Name", "X"); apperrors.CodeOf(err) != apperrors.CodeTenantInvalidIdentifier {
		t.Fatalf("Create(invalid identifier) = %v, want invalid identifier error", err)
	}
}

func TestMemberManagement(t *testing.T) {
	orgs := newTestOrgs(nil)
	mustCreate(t, orgs)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := orgs.AddMember(ctx, "t1", "o1", "u1"); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	got, err := orgs.Get(ctx, "t1", "o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.MemberIDs) != 1 {
		t.Fatalf("len(MemberIDs) = %d, want 1", len(got.MemberIDs))
	}

	if err := orgs.RemoveMember(ctx, "t1", "o1", "u1"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	got, err = orgs.Get(ctx, "t1", "o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.MemberIDs) != 0 {
		t.Fatalf("len(MemberIDs) = %d, want 0", len(got.MemberIDs))
	}
}

func TestMemberLimit(t *testing.T) {
	orgs := newTestOrgs(nil)
	mustCreate(t, orgs)
	ctx := context.Background()

	if _, err := orgs.UpdateSettings(ctx, "t1", "o1", Settings{MaxMembers: 1}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if err := orgs.AddMember(ctx, "t1", "o1", "u1"); err != nil {
		t.Fatalf("add first member: %v", err)
	}
	if err := orgs.AddMember(ctx, "t1", "o1", "u2"); apperrors.CodeOf(err) != apperrors.CodeInvalidState {
		t.Fatalf("AddMember over limit = %v, want invalid state", err)
	}
}

func TestOrgSystemRolesUndeletable(t *testing.T) {
	orgs := newTestOrgs(nil)
	mustCreate(t, orgs)

	if _, err := orgs.DeleteRole(context.Background(), "t1", "o1", "role-owner"); apperrors.CodeOf(err) != apperrors.CodeOrgSystemRole {
		t.Fatalf("DeleteRole(system) = %v, want system role error", err)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orgs := newTestOrgs(func() time.Time { return current })
	mustCreate(t, orgs)
	ctx := context.Background()

	inv := Invitation{
		TenantID:       "t1",
		OrganizationID: "o1",
		ID:             "inv1",
		Email:          "a@x.com",
		RoleIDs:        []string{"role-member"},
		InvitedBy:      "u0",
		ExpiresAt:      current.Add(72 * time.Hour),
	}
	if _, err := orgs.Invite(ctx, inv); err != nil {
		t.Fatalf("invite: %v", err)
	}

	accepted, err := orgs.AcceptInvitation(ctx, "t1", "o1", "inv1", "u1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !accepted.Accepted || accepted.AcceptedBy != "u1" {
		t.Fatalf("accepted = %+v, want Accepted=true AcceptedBy=u1", accepted)
	}

	// Single-use: a second accept fails.
	if _, err := orgs.AcceptInvitation(ctx, "t1", "o1", "inv1", "u2"); apperrors.CodeOf(err) != apperrors.CodeAlreadyConsumed {
		t.Fatalf("second accept = %v, want already consumed", err)
	}
}

func TestInvitationExpiry(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orgs := newTestOrgs(func() time.Time { return current })
	mustCreate(t, orgs)
	ctx := context.Background()

	inv := Invitation{
		TenantID:       "t1",
		OrganizationID: "o1",
		ID:             "inv1",
		Email:          "a@x.com",
		ExpiresAt:      current.Add(time.Hour),
	}
	if _, err := orgs.Invite(ctx, inv); err != nil {
		t.Fatalf("invite: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := orgs.AcceptInvitation(ctx, "t1", "o1", "inv1", "u1"); apperrors.CodeOf(err) != apperrors.CodeExpired {
		t.Fatalf("accept expired = %v, want expired", err)
	}
}
