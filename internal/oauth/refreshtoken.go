package oauth

import (
	"context"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

// RefreshTokenKey returns the entity key for a refresh token.
func RefreshTokenKey(tenantID, token string) string {
	return tenantID + "/rt-" + hashToken(token)
}

// RefreshToken is the persisted state behind an issued refresh token.
// Tokens rotate on use: redemption revokes the record, and the caller issues
// a replacement. A revoked record is retained so reuse after rotation fails
// with CodeAlreadyConsumed, which is treated as a theft signal.
type RefreshToken struct {
	TenantID       string    `json:"tenant_id"`
	ClientID       string    `json:"client_id"`
	UserID         string    `json:"user_id"`
	Scopes         []string  `json:"scopes,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Revoked        bool      `json:"revoked,omitempty"`
	RevokedAt      time.Time `json:"revoked_at,omitempty"`
}

// RefreshRequest carries the grant an issued refresh token continues.
type RefreshRequest struct {
	TenantID       string
	ClientID       string
	UserID         string
	Scopes         []string
	OrganizationID string
	TTL            time.Duration
}

// RefreshTokens issues and redeems refresh tokens.
type RefreshTokens struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// NewRefreshTokens creates the refresh token facade. now defaults to
// time.Now.
func NewRefreshTokens(rt *runtime.Runtime, now func() time.Time) *RefreshTokens {
	if now == nil {
		now = time.Now
	}
	return &RefreshTokens{rt: rt, now: now}
}

// Issue mints a refresh token and returns the plaintext exactly once.
func (r *RefreshTokens) Issue(ctx context.Context, req RefreshRequest) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "generate refresh token", err)
	}
	now := r.now().UTC()
	_, err = runtime.Invoke(ctx, r.rt, RefreshTokenKey(req.TenantID, token), func(ctx context.Context, s *RefreshToken, exists bool) (bool, error) {
		if exists {
			return false, apperrors.New(apperrors.CodeConflict, "refresh token collision")
		}
		*s = RefreshToken{
			TenantID:       req.TenantID,
			ClientID:       req.ClientID,
			UserID:         req.UserID,
			Scopes:         req.Scopes,
			OrganizationID: req.OrganizationID,
			CreatedAt:      now,
			ExpiresAt:      now.Add(req.TTL),
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ValidateAndRevoke is the single redemption path: it returns the grant state
// and revokes the token in the same invocation. A second call on the same
// token fails with CodeAlreadyConsumed.
func (r *RefreshTokens) ValidateAndRevoke(ctx context.Context, tenantID, token string) (RefreshToken, error) {
	return runtime.Invoke(ctx, r.rt, RefreshTokenKey(tenantID, token), func(ctx context.Context, s *RefreshToken, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "refresh token not found")
		}
		if s.Revoked {
			return false, apperrors.New(apperrors.CodeAlreadyConsumed, "refresh token already used")
		}
		now := r.now().UTC()
		if !now.Before(s.ExpiresAt) {
			return false, apperrors.New(apperrors.CodeExpired, "refresh token expired")
		}
		s.Revoked = true
		s.RevokedAt = now
		return true, nil
	})
}

// Revoke invalidates the token without redeeming it, for logout and admin
// revocation. Revoking an already revoked or unknown token is a no-op.
func (r *RefreshTokens) Revoke(ctx context.Context, tenantID, token string) error {
	_, err := runtime.Invoke(ctx, r.rt, RefreshTokenKey(tenantID, token), func(ctx context.Context, s *RefreshToken, exists bool) (bool, error) {
		if !exists || s.Revoked {
			return false, nil
		}
		s.Revoked = true
		s.RevokedAt = r.now().UTC()
		return true, nil
	})
	return err
}
