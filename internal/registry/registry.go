// Package registry provides process-wide mapping entities.
//
// Each registry is a single well-known-keyed entity holding a mapping plus a
// full key listing. Two singletons exist: "user-registry" (email to user ID)
// and "tenant-registry" (identifier to tenant ID). Registration conflicts
// surface the incumbent value; removal tombstones rather than deletes, so
// in-flight lookups never observe a reused slot.
package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
)

const (
	// UserRegistryKey addresses the email-to-userID singleton.
	UserRegistryKey = "user-registry"
	// TenantRegistryKey addresses the identifier-to-tenantID singleton.
	TenantRegistryKey = "tenant-registry"
)

type mapping struct {
	Value        string    `json:"value"`
	Tombstoned   bool      `json:"tombstoned,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

type state struct {
	Entries map[string]mapping `json:"entries"`
}

// Registry is a facade over one registry singleton.
type Registry struct {
	rt  *runtime.Runtime
	key string
	now func() time.Time
}

// New creates a registry facade for the singleton addressed by key.
// now defaults to time.Now.
func New(rt *runtime.Runtime, key string, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{rt: rt, key: key, now: now}
}

// NewUserRegistry creates the email-to-userID singleton facade.
func NewUserRegistry(rt *runtime.Runtime) *Registry {
	return New(rt, UserRegistryKey, nil)
}

// NewTenantRegistry creates the identifier-to-tenantID singleton facade.
func NewTenantRegistry(rt *runtime.Runtime) *Registry {
	return New(rt, TenantRegistryKey, nil)
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Register maps key to value. Re-registering the same pair is idempotent;
// a key live-mapped to a different value fails with CodeConflict carrying
// the incumbent value. Tombstoned keys may be re-registered.
func (r *Registry) Register(ctx context.Context, key, value string) error {
	key = normalize(key)
	if key == "" {
		return apperrors.New(apperrors.CodeInvalidState, "registry key is required")
	}
	_, err := runtime.Invoke(ctx, r.rt, r.key, func(ctx context.Context, s *state, exists bool) (bool, error) {
		if s.Entries == nil {
			s.Entries = make(map[string]mapping)
		}
		current, ok := s.Entries[key]
		if ok && !current.Tombstoned {
			if current.Value == value {
				return false, nil
			}
			return false, apperrors.WithMetadata(apperrors.CodeConflict,
				"registry key already mapped",
				map[string]string{"key": key, "owner": current.Value})
		}
		s.Entries[key] = mapping{Value: value, RegisteredAt: r.now().UTC()}
		return true, nil
	})
	return err
}

// Lookup returns the value mapped to key. Absent and tombstoned keys fail
// with CodeNotFound.
func (r *Registry) Lookup(ctx context.Context, key string) (string, error) {
	key = normalize(key)
	s, _, err := runtime.View[state](ctx, r.rt, r.key)
	if err != nil {
		return "", err
	}
	entry, ok := s.Entries[key]
	if !ok || entry.Tombstoned {
		return "", apperrors.New(apperrors.CodeNotFound, "registry key not mapped")
	}
	return entry.Value, nil
}

// Contains reports whether key is live-mapped.
func (r *Registry) Contains(ctx context.Context, key string) (bool, error) {
	_, err := r.Lookup(ctx, key)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove tombstones key. The mapping record is retained; removing an absent
// key is a no-op.
func (r *Registry) Remove(ctx context.Context, key string) error {
	key = normalize(key)
	_, err := runtime.Invoke(ctx, r.rt, r.key, func(ctx context.Context, s *state, exists bool) (bool, error) {
		entry, ok := s.Entries[key]
		if !ok || entry.Tombstoned {
			return false, nil
		}
		entry.Tombstoned = true
		s.Entries[key] = entry
		return true, nil
	})
	return err
}

// Keys lists live keys in sorted order.
func (r *Registry) Keys(ctx context.Context) ([]string, error) {
	s, _, err := runtime.View[state](ctx, r.rt, r.key)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.Entries))
	for key, entry := range s.Entries {
		if entry.Tombstoned {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
