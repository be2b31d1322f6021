package user

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
	"github.com/tessera-id/tessera/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

func newTestUsers(now func() time.Time) *Users {
	users := New(runtime.New(storage.NewMemory()), now)
	users.bcryptCost = bcrypt.MinCost
	return users
}

func mustCreate(t *testing.T, users *Users, id, email, password string) User {
	t.Helper()
	hash, err := users.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	created, err := users.Create(context.Background(), id, email, hash)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return created
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email   string
		wantErr error
	}{
		{"a@x.com", nil},
		{"A.B@Example.ORG", nil},
		{"", ErrEmptyEmail},
		{"   ", ErrEmptyEmail},
		{"not-an-email", ErrInvalidEmail},
		{"a@b", ErrInvalidEmail},
		{"a b@x.com", ErrInvalidEmail},
	}
	for _, tc := range tests {
		err := ValidateEmail(tc.email)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("ValidateEmail(%q) = %v, want nil", tc.email, err)
		}
		if tc.wantErr != nil && apperrors.CodeOf(err) != apperrors.CodeOf(tc.wantErr) {
			t.Fatalf("ValidateEmail(%q) = %v, want %v", tc.email, err, tc.wantErr)
		}
	}
}

func TestCreateNormalizesEmail(t *testing.T) {
	users := newTestUsers(nil)
	created := mustCreate(t, users, "u1", " A@X.Com ", "hunter2hunter2")

	if created.Email != "a@x.com" {
		t.Fatalf("Email = %q, want %q", created.Email, "a@x.com")
	}
	if !created.IsActive {
		t.Fatal("expected new user to be active")
	}
}

func TestCreateDuplicateFailsConflict(t *testing.T) {
	users := newTestUsers(nil)
	mustCreate(t, users, "u1", "a@x.com", "hunter2hunter2")

	_, err := users.Create(context.Background(), "u1", "a@x.com", "hash")
	if apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("CodeOf(err) = %v, want %v", apperrors.CodeOf(err), apperrors.CodeConflict)
	}
}

func TestHashPasswordRejectsShortPasswords(t *testing.T) {
	users := newTestUsers(nil)
	if _, err := users.HashPassword("short"); apperrors.CodeOf(err) != apperrors.CodeUserWeakPassword {
		t.Fatalf("expected weak password error, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	users := newTestUsers(nil)
	mustCreate(t, users, "u1", "a@x.com", "hunter2hunter2")
	ctx := context.Background()

	if _, err := users.Authenticate(ctx, "u1", "hunter2hunter2"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := users.Authenticate(ctx, "u1", "wrong"); apperrors.CodeOf(err) != apperrors.CodeInvalidCredential {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	if _, err := users.Authenticate(ctx, "missing", "x"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuthenticateLockoutAfterRepeatedFailures(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	users := newTestUsers(func() time.Time { return current })
	mustCreate(t, users, "u1", "a@x.com", "hunter2hunter2")
	ctx := context.Background()

	for i := 0; i < maxFailedAttempts; i++ {
		if _, err := users.Authenticate(ctx, "u1", "wrong"); apperrors.CodeOf(err) != apperrors.CodeInvalidCredential {
			t.Fatalf("attempt %d: expected invalid credential, got %v", i, err)
		}
	}

	// Locked: even the correct password is refused inside the window.
	if _, err := users.Authenticate(ctx, "u1", "hunter2hunter2"); apperrors.CodeOf(err) != apperrors.CodeUserLockedOut {
		t.Fatalf("expected locked out, got %v", err)
	}

	// After the window the correct password succeeds and resets state.
	current = current.Add(lockoutWindow + time.Second)
	if _, err := users.Authenticate(ctx, "u1", "hunter2hunter2"); err != nil {
		t.Fatalf("authenticate after lockout window: %v", err)
	}
}

func TestDeactivateBlocksAuthentication(t *testing.T) {
	users := newTestUsers(nil)
	mustCreate(t, users, "u1", "a@x.com", "hunter2hunter2")
	ctx := context.Background()

	if err := users.Deactivate(ctx, "u1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := users.Authenticate(ctx, "u1", "hunter2hunter2"); apperrors.CodeOf(err) != apperrors.CodeInactive {
		t.Fatalf("expected inactive, got %v", err)
	}

	// The record survives deactivation.
	got, err := users.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Email != "a@x.com" {
		t.Fatalf("Email = %q, want retained record", got.Email)
	}

	if err := users.Reactivate(ctx, "u1"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := users.Authenticate(ctx, "u1", "hunter2hunter2"); err != nil {
		t.Fatalf("authenticate after reactivate: %v", err)
	}
}

func TestSetPasswordReplacesHash(t *testing.T) {
	users := newTestUsers(nil)
	mustCreate(t, users, "u1", "a@x.com", "hunter2hunter2")
	ctx := context.Background()

	if err := users.SetPassword(ctx, "u1", "correcthorsebattery"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, err := users.Authenticate(ctx, "u1", "hunter2hunter2"); apperrors.CodeOf(err) != apperrors.CodeInvalidCredential {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := users.Authenticate(ctx, "u1", "correcthorsebattery"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestMembershipSetsAreIdempotent(t *testing.T) {
	users := newTestUsers(nil)
	mustCreate(t, users, "u1", "a@x.com", "hunter2hunter2")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := users.AddTenantMembership(ctx, "u1", "t1"); err != nil {
			t.Fatalf("add tenant membership: %v", err)
		}
		if err := users.AddOrganizationMembership(ctx, "u1", "t1", "o1"); err != nil {
			t.Fatalf("add org membership: %v", err)
		}
	}

	got, err := users.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.TenantIDs) != 1 {
		t.Fatalf("len(TenantIDs) = %d, want 1", len(got.TenantIDs))
	}
	if len(got.Organizations) != 1 {
		t.Fatalf("len(Organizations) = %d, want 1", len(got.Organizations))
	}

	if err := users.RemoveOrganizationMembership(ctx, "u1", "t1", "o1"); err != nil {
		t.Fatalf("remove org membership: %v", err)
	}
	got, err = users.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Organizations) != 0 {
		t.Fatalf("len(Organizations) = %d, want 0", len(got.Organizations))
	}
}

func TestUpdateProfile(t *testing.T) {
	users := newTestUsers(nil)
	mustCreate(t, users, "u1", "a@x.com", "hunter2hunter2")
	ctx := context.Background()

	updated, err := users.UpdateProfile(ctx, "u1", Profile{DisplayName: "Ada", Locale: "en-US"})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Profile.DisplayName != "Ada" {
		t.Fatalf("DisplayName = %q, want %q", updated.Profile.DisplayName, "Ada")
	}
}
