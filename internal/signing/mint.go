package signing

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
)

// AccessClaims is the claim set carried by minted access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	Scope          string `json:"scope,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"org_id,omitempty"`
}

// IDClaims is the claim set carried by minted ID tokens.
type IDClaims struct {
	jwt.RegisteredClaims
	Nonce          string `json:"nonce,omitempty"`
	Email          string `json:"email,omitempty"`
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"org_id,omitempty"`
}

// TokenRequest describes one mint. Audience is the client the token is for.
type TokenRequest struct {
	TenantID       string
	Subject        string
	Audience       string
	Scopes         []string
	OrganizationID string
	Nonce          string
	Email          string
	TTL            time.Duration
}

// Minter signs tokens with a tenant's active key.
type Minter struct {
	keys   *Keyring
	issuer string
	now    func() time.Time
}

// NewMinter creates a minter. issuer becomes the iss claim of every token.
// now defaults to time.Now.
func NewMinter(keys *Keyring, issuer string, now func() time.Time) *Minter {
	if now == nil {
		now = time.Now
	}
	return &Minter{keys: keys, issuer: issuer, now: now}
}

// AccessToken mints an ES256-signed access token with the tenant's active
// key. The key ID travels in the kid header so verifiers can pick the right
// member of the verification set.
func (m *Minter) AccessToken(ctx context.Context, req TokenRequest) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: m.registered(req),
		Scope:            strings.Join(req.Scopes, " "),
		ClientID:         req.Audience,
		TenantID:         req.TenantID,
		OrganizationID:   req.OrganizationID,
	}
	return m.sign(ctx, req.TenantID, claims)
}

// IDToken mints an OIDC ID token echoing the authorization request's nonce.
func (m *Minter) IDToken(ctx context.Context, req TokenRequest) (string, error) {
	claims := IDClaims{
		RegisteredClaims: m.registered(req),
		Nonce:            req.Nonce,
		Email:            req.Email,
		TenantID:         req.TenantID,
		OrganizationID:   req.OrganizationID,
	}
	return m.sign(ctx, req.TenantID, claims)
}

func (m *Minter) registered(req TokenRequest) jwt.RegisteredClaims {
	now := m.now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   req.Subject,
		Audience:  jwt.ClaimStrings{req.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
	}
}

func (m *Minter) sign(ctx context.Context, tenantID string, claims jwt.Claims) (string, error) {
	signer, err := m.keys.ActiveKey(ctx, tenantID)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = signer.ID
	signed, err := token.SignedString(signer.PrivateKey)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "sign token", err)
	}
	return signed, nil
}
