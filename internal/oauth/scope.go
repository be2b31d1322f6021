package oauth

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

// ScopeKey returns the entity key for a named scope definition.
func ScopeKey(tenantID, name string) string {
	return tenantID + "/scope-" + name
}

// Scope is a tenant-defined OAuth scope: a name plus the claims it binds
// into minted tokens.
type Scope struct {
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Claims      []string  `json:"claims,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Scopes manages scope definition entities.
type Scopes struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// NewScopes creates the scope facade. now defaults to time.Now.
func NewScopes(rt *runtime.Runtime, now func() time.Time) *Scopes {
	if now == nil {
		now = time.Now
	}
	return &Scopes{rt: rt, now: now}
}

// Define creates or updates a scope definition.
func (s *Scopes) Define(ctx context.Context, tenantID, name, description string, claims []string) (Scope, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Scope{}, apperrors.New(apperrors.CodeInvalidState, "scope name is required")
	}
	return runtime.Invoke(ctx, s.rt, ScopeKey(tenantID, name), func(ctx context.Context, st *Scope, exists bool) (bool, error) {
		now := s.now().UTC()
		if !exists {
			st.TenantID = tenantID
			st.Name = name
			st.CreatedAt = now
		}
		st.Description = description
		st.Claims = claims
		st.UpdatedAt = now
		return true, nil
	})
}

// Get returns a scope definition. Unknown scopes fail with CodeNotFound.
func (s *Scopes) Get(ctx context.Context, tenantID, name string) (Scope, error) {
	st, exists, err := runtime.View[Scope](ctx, s.rt, ScopeKey(tenantID, name))
	if err != nil {
		return Scope{}, err
	}
	if !exists {
		return Scope{}, apperrors.New(apperrors.CodeNotFound, "scope not defined")
	}
	return st, nil
}
