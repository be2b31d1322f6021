package oauth

import (
	"context"
	"crypto/subtle"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

// CodeKey returns the entity key for an authorization code. The plaintext
// code never touches storage; only its SHA-256 appears in the key.
func CodeKey(tenantID, code string) string {
	return tenantID + "/code-" + hashToken(code)
}

// AuthorizationCode is the persisted state behind an issued code. Redeemed
// flips exactly once; the record is retained after redemption so replays can
// be distinguished from unknown codes.
type AuthorizationCode struct {
	TenantID            string    `json:"tenant_id"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Nonce               string    `json:"nonce,omitempty"`
	State               string    `json:"state,omitempty"`
	OrganizationID      string    `json:"organization_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	Redeemed            bool      `json:"redeemed,omitempty"`
	RedeemedAt          time.Time `json:"redeemed_at,omitempty"`
}

// CodeRequest carries the authorization decision an issued code represents.
type CodeRequest struct {
	TenantID            string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	State               string
	OrganizationID      string
	TTL                 time.Duration
}

// Codes issues and redeems authorization codes.
type Codes struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// NewCodes creates the authorization code facade. now defaults to time.Now.
func NewCodes(rt *runtime.Runtime, now func() time.Time) *Codes {
	if now == nil {
		now = time.Now
	}
	return &Codes{rt: rt, now: now}
}

// Issue mints a single-use authorization code for req and returns the
// plaintext exactly once. Issuing requires an S256 challenge.
func (c *Codes) Issue(ctx context.Context, req CodeRequest) (string, error) {
	if req.CodeChallengeMethod != "S256" {
		return "", apperrors.New(apperrors.CodeInvalidState, "code challenge method must be S256")
	}
	if req.CodeChallenge == "" {
		return "", apperrors.New(apperrors.CodeInvalidState, "code challenge is required")
	}
	code, err := newToken()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "generate authorization code", err)
	}
	now := c.now().UTC()
	_, err = runtime.Invoke(ctx, c.rt, CodeKey(req.TenantID, code), func(ctx context.Context, s *AuthorizationCode, exists bool) (bool, error) {
		if exists {
			return false, apperrors.New(apperrors.CodeConflict, "authorization code collision")
		}
		*s = AuthorizationCode{
			TenantID:            req.TenantID,
			ClientID:            req.ClientID,
			UserID:              req.UserID,
			RedirectURI:         req.RedirectURI,
			Scopes:              req.Scopes,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			Nonce:               req.Nonce,
			State:               req.State,
			OrganizationID:      req.OrganizationID,
			CreatedAt:           now,
			ExpiresAt:           now.Add(req.TTL),
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Redeem consumes the code, verifying the PKCE verifier against the stored
// challenge. Replayed codes fail with CodeAlreadyConsumed, expired ones with
// CodeExpired, and verifier mismatches with CodeInvalidCredential. The
// redeemed flip is atomic under the per-key single-writer guarantee, so two
// concurrent redeems yield at most one success.
func (c *Codes) Redeem(ctx context.Context, tenantID, code, verifier string) (AuthorizationCode, error) {
	return runtime.Invoke(ctx, c.rt, CodeKey(tenantID, code), func(ctx context.Context, s *AuthorizationCode, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "authorization code not found")
		}
		if s.Redeemed {
			return false, apperrors.New(apperrors.CodeAlreadyConsumed, "authorization code already redeemed")
		}
		now := c.now().UTC()
		if !now.Before(s.ExpiresAt) {
			return false, apperrors.New(apperrors.CodeExpired, "authorization code expired")
		}
		if s.CodeChallengeMethod != "S256" {
			return false, apperrors.New(apperrors.CodeInvalidCredential, "code challenge method mismatch")
		}
		computed := ComputeS256Challenge(verifier)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(s.CodeChallenge)) != 1 {
			return false, apperrors.New(apperrors.CodeInvalidCredential, "code verifier rejected")
		}
		s.Redeemed = true
		s.RedeemedAt = now
		return true, nil
	})
}
