package roles

import (
	"context"
	"reflect"
	"testing"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
	"github.com/tessera-id/tessera/internal/storage"
)

func newTestAssignments() *Assignments {
	return New(runtime.New(storage.NewMemory()), nil)
}

func TestEffectiveRolesPerOrganization(t *testing.T) {
	a := newTestAssignments()
	ctx := context.Background()

	if err := a.Assign(ctx, "t1", "web", "u1", "r1", TenantScope()); err != nil {
		t.Fatalf("assign r1: %v", err)
	}
	if err := a.Assign(ctx, "t1", "web", "u1", "r2", OrganizationScope("o1")); err != nil {
		t.Fatalf("assign r2: %v", err)
	}

	got, err := a.EffectiveRoles(ctx, "t1", "web", "u1", "")
	if err != nil {
		t.Fatalf("effective roles: %v", err)
	}
	if want := []string{"r1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EffectiveRoles() = %v, want %v", got, want)
	}

	got, err = a.EffectiveRoles(ctx, "t1", "web", "u1", "o1")
	if err != nil {
		t.Fatalf("effective roles o1: %v", err)
	}
	if want := []string{"r1", "r2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EffectiveRoles(o1) = %v, want %v", got, want)
	}

	// Other organizations never see o1's grant.
	got, err = a.EffectiveRoles(ctx, "t1", "web", "u1", "o2")
	if err != nil {
		t.Fatalf("effective roles o2: %v", err)
	}
	if want := []string{"r1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EffectiveRoles(o2) = %v, want %v", got, want)
	}
}

func TestAssignValidation(t *testing.T) {
	a := newTestAssignments()
	ctx := context.Background()

	if err := a.Assign(ctx, "t1", "web", "u1", "r1", OrganizationScope("")); apperrors.CodeOf(err) != apperrors.CodeRoleScopeMissingOrg {
		t.Fatalf("Assign(org scope, no org) = %v, want missing-org error", err)
	}
	if err := a.Assign(ctx, "t1", "web", "u1", "", TenantScope()); apperrors.CodeOf(err) != apperrors.CodeRoleEmptyID {
		t.Fatalf("Assign(empty role) = %v, want empty-id error", err)
	}
}

func TestAssignIdempotentAndUnassign(t *testing.T) {
	a := newTestAssignments()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := a.Assign(ctx, "t1", "web", "u1", "r1", TenantScope()); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	got, err := a.EffectiveRoles(ctx, "t1", "web", "u1", "")
	if err != nil {
		t.Fatalf("effective roles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(roles) = %d, want 1", len(got))
	}

	if err := a.Unassign(ctx, "t1", "web", "u1", "r1", TenantScope()); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	got, err = a.EffectiveRoles(ctx, "t1", "web", "u1", "")
	if err != nil {
		t.Fatalf("effective roles: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("roles after unassign = %v, want none", got)
	}
	// Unassigning again is a no-op.
	if err := a.Unassign(ctx, "t1", "web", "u1", "r1", TenantScope()); err != nil {
		t.Fatalf("second unassign: %v", err)
	}
}

func TestEffectivePermissionsUnion(t *testing.T) {
	a := newTestAssignments()
	ctx := context.Background()

	if err := a.Assign(ctx, "t1", "web", "u1", "r1", TenantScope()); err != nil {
		t.Fatalf("assign r1: %v", err)
	}
	if err := a.Assign(ctx, "t1", "web", "u1", "r2", OrganizationScope("o1")); err != nil {
		t.Fatalf("assign r2: %v", err)
	}
	if err := a.Assign(ctx, "t1", "web", "u1", "ghost", TenantScope()); err != nil {
		t.Fatalf("assign ghost: %v", err)
	}

	defs := []RoleDefinition{
		{ID: "r1", Permissions: []string{"read", "write"}},
		{ID: "r2", Permissions: []string{"write", "admin"}},
	}

	got, err := a.EffectivePermissions(ctx, "t1", "web", "u1", "o1", defs)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	// Duplicates collapse; the dangling "ghost" role is skipped.
	if want := []string{"admin", "read", "write"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EffectivePermissions() = %v, want %v", got, want)
	}

	got, err = a.EffectivePermissions(ctx, "t1", "web", "u1", "", defs)
	if err != nil {
		t.Fatalf("effective permissions tenant: %v", err)
	}
	if want := []string{"read", "write"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EffectivePermissions(tenant) = %v, want %v", got, want)
	}
}

func TestSameRoleUnderTwoScopes(t *testing.T) {
	a := newTestAssignments()
	ctx := context.Background()

	if err := a.Assign(ctx, "t1", "web", "u1", "r1", TenantScope()); err != nil {
		t.Fatalf("assign tenant: %v", err)
	}
	if err := a.Assign(ctx, "t1", "web", "u1", "r1", OrganizationScope("o1")); err != nil {
		t.Fatalf("assign org: %v", err)
	}
	// Dropping the org grant keeps the tenant grant.
	if err := a.Unassign(ctx, "t1", "web", "u1", "r1", OrganizationScope("o1")); err != nil {
		t.Fatalf("unassign org: %v", err)
	}
	got, err := a.EffectiveRoles(ctx, "t1", "web", "u1", "o1")
	if err != nil {
		t.Fatalf("effective roles: %v", err)
	}
	if want := []string{"r1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("EffectiveRoles(o1) = %v, want %v", got, want)
	}
}
