// Package user provides the user identity entity.
package user

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeUserEmptyEmail, "email is required")
	// ErrInvalidEmail indicates an email that does not match the required format.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserInvalidEmail, "email format is invalid")
	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = apperrors.New(apperrors.CodeUserWeakPassword, "password must be at least 8 characters")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const (
	// maxFailedAttempts is the lockout threshold.
	maxFailedAttempts = 5
	// lockoutWindow is how long an account stays locked after the threshold.
	lockoutWindow = 15 * time.Minute
)

// Key returns the entity key for a user ID.
func Key(userID string) string {
	return "user-" + userID
}

// Profile holds mutable display data.
type Profile struct {
	DisplayName string `json:"display_name,omitempty"`
	GivenName   string `json:"given_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	Locale      string `json:"locale,omitempty"`
	PictureURL  string `json:"picture_url,omitempty"`
}

// Lockout tracks failed-login state.
type Lockout struct {
	FailedAttempts int       `json:"failed_attempts,omitempty"`
	LockedUntil    time.Time `json:"locked_until,omitempty"`
}

// OrgRef identifies an organization membership.
type OrgRef struct {
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"organization_id"`
}

// User is the persisted user record. Users are created once and deactivated,
// never hard-deleted.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"password_hash,omitempty"`
	Profile       Profile   `json:"profile"`
	IsActive      bool      `json:"is_active"`
	Lockout       Lockout   `json:"lockout"`
	TenantIDs     []string  `json:"tenant_ids,omitempty"`
	Organizations []OrgRef  `json:"organizations,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an email address. Uniqueness checks
// and lock keys operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail enforces canonical email constraints.
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}
	if !emailPattern.MatchString(NormalizeEmail(email)) {
		return ErrInvalidEmail
	}
	return nil
}

// Users operates on user entities.
type Users struct {
	rt         *runtime.Runtime
	now        func() time.Time
	bcryptCost int
}

// New creates the user entity facade. now defaults to time.Now.
func New(rt *runtime.Runtime, now func() time.Time) *Users {
	if now == nil {
		now = time.Now
	}
	return &Users{rt: rt, now: now, bcryptCost: bcrypt.DefaultCost}
}

// HashPassword produces a bcrypt hash for storage.
func (u *Users) HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Create writes a new user entity. The caller supplies the ID (allocated
// before the email lock is taken) and a password hash from HashPassword.
// Creating over an existing entity fails with CodeConflict.
func (u *Users) Create(ctx context.Context, userID, email, passwordHash string) (User, error) {
	if err := ValidateEmail(email); err != nil {
		return User{}, err
	}
	return runtime.Invoke(ctx, u.rt, Key(userID), func(ctx context.Context, s *User, exists bool) (bool, error) {
		if exists {
			return false, apperrors.New(apperrors.CodeConflict, "user already exists")
		}
		now := u.now().UTC()
		*s = User{
			ID:           userID,
			Email:        NormalizeEmail(email),
			PasswordHash: passwordHash,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return true, nil
	})
}

// Get returns the user record. Absent users fail with CodeNotFound.
func (u *Users) Get(ctx context.Context, userID string) (User, error) {
	s, exists, err := runtime.View[User](ctx, u.rt, Key(userID))
	if err != nil {
		return User{}, err
	}
	if !exists {
		return User{}, apperrors.New(apperrors.CodeNotFound, "user not found")
	}
	return s, nil
}

// Authenticate verifies a password, maintaining lockout state. Failures
// increment the attempt counter and lock the account once the threshold is
// crossed; success resets it.
func (u *Users) Authenticate(ctx context.Context, userID, password string) (User, error) {
	return runtime.Invoke(ctx, u.rt, Key(userID), func(ctx context.Context, s *User, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "user not found")
		}
		if !s.IsActive {
			return false, apperrors.New(apperrors.CodeInactive, "user is deactivated")
		}
		now := u.now().UTC()
		if now.Before(s.Lockout.LockedUntil) {
			return false, apperrors.New(apperrors.CodeUserLockedOut, "account is locked")
		}
		if bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(password)) != nil {
			s.Lockout.FailedAttempts++
			if s.Lockout.FailedAttempts >= maxFailedAttempts {
				s.Lockout.LockedUntil = now.Add(lockoutWindow)
				s.Lockout.FailedAttempts = 0
			}
			s.UpdatedAt = now
			return true, apperrors.New(apperrors.CodeInvalidCredential, "invalid password")
		}
		dirty := false
		if s.Lockout.FailedAttempts != 0 || !s.Lockout.LockedUntil.IsZero() {
			s.Lockout = Lockout{}
			s.UpdatedAt = now
			dirty = true
		}
		return dirty, nil
	})
}

// SetPassword replaces the stored password hash.
func (u *Users) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := u.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = u.mutate(ctx, userID, func(s *User) error {
		s.PasswordHash = hash
		s.Lockout = Lockout{}
		return nil
	})
	return err
}

// UpdateProfile replaces the profile block.
func (u *Users) UpdateProfile(ctx context.Context, userID string, profile Profile) (User, error) {
	return u.mutate(ctx, userID, func(s *User) error {
		s.Profile = profile
		return nil
	})
}

// Deactivate disables the user. The record is retained.
func (u *Users) Deactivate(ctx context.Context, userID string) error {
	_, err := u.mutate(ctx, userID, func(s *User) error {
		s.IsActive = false
		return nil
	})
	return err
}

// Reactivate re-enables a deactivated user.
func (u *Users) Reactivate(ctx context.Context, userID string) error {
	_, err := u.mutate(ctx, userID, func(s *User) error {
		s.IsActive = true
		s.Lockout = Lockout{}
		return nil
	})
	return err
}

// AddTenantMembership records membership in a tenant. Idempotent.
func (u *Users) AddTenantMembership(ctx context.Context, userID, tenantID string) error {
	_, err := u.mutate(ctx, userID, func(s *User) error {
		for _, id := range s.TenantIDs {
			if id == tenantID {
				return nil
			}
		}
		s.TenantIDs = append(s.TenantIDs, tenantID)
		return nil
	})
	return err
}

// AddOrganizationMembership records membership in an organization. Idempotent.
func (u *Users) AddOrganizationMembership(ctx context.Context, userID, tenantID, orgID string) error {
	_, err := u.mutate(ctx, userID, func(s *User) error {
		ref := OrgRef{TenantID: tenantID, OrganizationID: orgID}
		for _, existing := range s.Organizations {
			if existing == ref {
				return nil
			}
		}
		s.Organizations = append(s.Organizations, ref)
		return nil
	})
	return err
}

// RemoveOrganizationMembership drops an organization membership.
func (u *Users) RemoveOrganizationMembership(ctx context.Context, userID, tenantID, orgID string) error {
	_, err := u.mutate(ctx, userID, func(s *User) error {
		ref := OrgRef{TenantID: tenantID, OrganizationID: orgID}
		kept := s.Organizations[:0]
		for _, existing := range s.Organizations {
			if existing != ref {
				kept = append(kept, existing)
			}
		}
		s.Organizations = kept
		return nil
	})
	return err
}

// mutate applies fn to an existing user and stamps UpdatedAt.
func (u *Users) mutate(ctx context.Context, userID string, fn func(s *User) error) (User, error) {
	return runtime.Invoke(ctx, u.rt, Key(userID), func(ctx context.Context, s *User, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "user not found")
		}
		if err := fn(s); err != nil {
			return false, err
		}
		s.UpdatedAt = u.now().UTC()
		return true, nil
	})
}
