// Package client provides the OAuth client (application) entity.
package client

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyClientID indicates a missing client identifier.
var ErrEmptyClientID = apperrors.New(apperrors.CodeClientEmptyID, "client id is required")

// Key returns the entity key for a client within a tenant.
func Key(tenantID, clientID string) string {
	return tenantID + "/" + clientID
}

// Secret is one independently revocable client credential. Only the bcrypt
// hash is stored.
type Secret struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Revoked   bool      `json:"revoked,omitempty"`
}

// Role is an application-level role definition resolvable by the role
// assignment entity.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

// UserFlowSettings selects the login experience for the client.
type UserFlowSettings struct {
	AllowPasswordLogin bool `json:"allow_password_login"`
	AllowRegistration  bool `json:"allow_registration"`
	RememberConsent    bool `json:"remember_consent"`
}

// Client is the persisted application record.
type Client struct {
	TenantID               string           `json:"tenant_id"`
	ClientID               string           `json:"client_id"`
	Name                   string           `json:"name,omitempty"`
	Secrets                []Secret         `json:"secrets,omitempty"`
	RedirectURIs           []string         `json:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs []string         `json:"post_logout_redirect_uris,omitempty"`
	CORSOrigins            []string         `json:"cors_origins,omitempty"`
	AllowedScopes          []string         `json:"allowed_scopes,omitempty"`
	AllowedGrantTypes      []string         `json:"allowed_grant_types,omitempty"`
	RequirePKCE            bool             `json:"require_pkce"`
	RequireConsent         bool             `json:"require_consent"`
	IsActive               bool             `json:"is_active"`
	Roles                  []Role           `json:"roles,omitempty"`
	Permissions            []string         `json:"permissions,omitempty"`
	UserFlow               UserFlowSettings `json:"user_flow"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// RoleByID returns the application role definition for id.
func (c Client) RoleByID(id string) (Role, bool) {
	for _, role := range c.Roles {
		if role.ID == id {
			return role, true
		}
	}
	return Role{}, false
}

// RedirectURIAllowed reports whether uri exactly matches a registered
// redirect URI. No wildcard or prefix matching.
func (c Client) RedirectURIAllowed(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ScopesAllowed reports whether every requested scope is registered.
func (c Client) ScopesAllowed(scopes []string) bool {
	for _, scope := range scopes {
		allowed := false
		for _, registered := range c.AllowedScopes {
			if registered == scope {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// GrantTypeAllowed reports whether the client may use grantType.
func (c Client) GrantTypeAllowed(grantType string) bool {
	for _, registered := range c.AllowedGrantTypes {
		if registered == grantType {
			return true
		}
	}
	return false
}

// CreateInput describes a new client registration.
type CreateInput struct {
	TenantID          string
	ClientID          string
	Name              string
	RedirectURIs      []string
	AllowedScopes     []string
	AllowedGrantTypes []string
	RequirePKCE       bool
	RequireConsent    bool
}

// Clients operates on client entities.
type Clients struct {
	rt         *runtime.Runtime
	now        func() time.Time
	id         func() (string, error)
	bcryptCost int
}

// New creates the client entity facade. now defaults to time.Now; idGen
// allocates secret IDs.
func New(rt *runtime.Runtime, now func() time.Time, idGen func() (string, error)) *Clients {
	if now == nil {
		now = time.Now
	}
	return &Clients{rt: rt, now: now, id: idGen, bcryptCost: bcrypt.DefaultCost}
}

// Create writes a new client entity. clientID is unique per tenant because
// it is part of the entity key; creating over an existing entity fails with
// CodeConflict.
func (c *Clients) Create(ctx context.Context, input CreateInput) (Client, error) {
	if strings.TrimSpace(input.ClientID) == "" {
		return Client{}, ErrEmptyClientID
	}
	return runtime.Invoke(ctx, c.rt, Key(input.TenantID, input.ClientID), func(ctx context.Context, s *Client, exists bool) (bool, error) {
		if exists {
			return false, apperrors.New(apperrors.CodeConflict, "client already exists")
		}
		now := c.now().UTC()
		grantTypes := input.AllowedGrantTypes
		if len(grantTypes) == 0 {
			grantTypes = []string{"authorization_code", "refresh_token"}
		}
		*s = Client{
			TenantID:          input.TenantID,
			ClientID:          input.ClientID,
			Name:              input.Name,
			RedirectURIs:      input.RedirectURIs,
			AllowedScopes:     input.AllowedScopes,
			AllowedGrantTypes: grantTypes,
			RequirePKCE:       input.RequirePKCE,
			RequireConsent:    input.RequireConsent,
			IsActive:          true,
			UserFlow: UserFlowSettings{
				AllowPasswordLogin: true,
				AllowRegistration:  false,
				RememberConsent:    true,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		return true, nil
	})
}

// Get returns the client record. Absent clients fail with CodeNotFound.
func (c *Clients) Get(ctx context.Context, tenantID, clientID string) (Client, error) {
	s, exists, err := runtime.View[Client](ctx, c.rt, Key(tenantID, clientID))
	if err != nil {
		return Client{}, err
	}
	if !exists {
		return Client{}, apperrors.New(apperrors.CodeNotFound, "client not found")
	}
	return s, nil
}

// AddSecret mints a new client secret and returns its plaintext exactly once
// together with the secret ID. Multiple secrets may be live at a time so
// callers can rotate without downtime.
func (c *Clients) AddSecret(ctx context.Context, tenantID, clientID, plaintext string, expiresAt time.Time) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), c.bcryptCost)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "hash client secret", err)
	}
	secretID, err := c.id()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "generate secret id", err)
	}
	_, err = c.mutate(ctx, tenantID, clientID, func(s *Client) error {
		s.Secrets = append(s.Secrets, Secret{
			ID:        secretID,
			Hash:      string(hash),
			CreatedAt: c.now().UTC(),
			ExpiresAt: expiresAt,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return secretID, nil
}

// RevokeSecret disables one secret without touching the others.
func (c *Clients) RevokeSecret(ctx context.Context, tenantID, clientID, secretID string) error {
	_, err := c.mutate(ctx, tenantID, clientID, func(s *Client) error {
		for i := range s.Secrets {
			if s.Secrets[i].ID == secretID {
				s.Secrets[i].Revoked = true
				return nil
			}
		}
		return apperrors.New(apperrors.CodeNotFound, "secret not found")
	})
	return err
}

// VerifySecret checks plaintext against every live secret. Inactive clients
// and expired or revoked secrets fail closed.
func (c *Clients) VerifySecret(ctx context.Context, tenantID, clientID, plaintext string) error {
	s, err := c.Get(ctx, tenantID, clientID)
	if err != nil {
		return err
	}
	if !s.IsActive {
		return apperrors.New(apperrors.CodeInactive, "client is deactivated")
	}
	now := c.now().UTC()
	sawExpired := false
	for _, secret := range s.Secrets {
		if secret.Revoked {
			continue
		}
		if !secret.ExpiresAt.IsZero() && !now.Before(secret.ExpiresAt) {
			sawExpired = true
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(secret.Hash), []byte(plaintext)) == nil {
			return nil
		}
	}
	if sawExpired {
		return apperrors.New(apperrors.CodeClientSecretExpired, "client secret expired")
	}
	return apperrors.New(apperrors.CodeInvalidCredential, "invalid client secret")
}

// UpdateRedirectURIs replaces the registered redirect URI set.
func (c *Clients) UpdateRedirectURIs(ctx context.Context, tenantID, clientID string, uris []string) (Client, error) {
	return c.mutate(ctx, tenantID, clientID, func(s *Client) error {
		s.RedirectURIs = uris
		return nil
	})
}

// SetRoles replaces the application role definitions.
func (c *Clients) SetRoles(ctx context.Context, tenantID, clientID string, roles []Role) (Client, error) {
	return c.mutate(ctx, tenantID, clientID, func(s *Client) error {
		s.Roles = roles
		return nil
	})
}

// SetUserFlow replaces the login-experience settings.
func (c *Clients) SetUserFlow(ctx context.Context, tenantID, clientID string, settings UserFlowSettings) (Client, error) {
	return c.mutate(ctx, tenantID, clientID, func(s *Client) error {
		s.UserFlow = settings
		return nil
	})
}

// Deactivate disables the client. The record is retained.
func (c *Clients) Deactivate(ctx context.Context, tenantID, clientID string) error {
	_, err := c.mutate(ctx, tenantID, clientID, func(s *Client) error {
		s.IsActive = false
		return nil
	})
	return err
}

func (c *Clients) mutate(ctx context.Context, tenantID, clientID string, fn func(s *Client) error) (Client, error) {
	return runtime.Invoke(ctx, c.rt, Key(tenantID, clientID), func(ctx context.Context, s *Client, exists bool) (bool, error) {
		if !exists {
			return false, apperrors.New(apperrors.CodeNotFound, "client not found")
		}
		if err := fn(s); err != nil {
			return false, err
		}
		s.UpdatedAt = c.now().UTC()
		return true, nil
	})
}
