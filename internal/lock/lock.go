// Package lock provides a keyed mutual-exclusion entity.
//
// A lock is an addressable entity whose state records at most one owner.
// Acquisition uses try-semantics: callers are never queued, so the
// lock-then-create pattern used for uniqueness enforcement cannot deadlock.
package lock

import (
	"context"
	"time"

	"github.com/tessera-id/tessera/internal/platform/telemetry"
	"github.com/tessera-id/tessera/internal/runtime"
)

// state is the persisted lock record. The owner is stored as an opaque
// JSON value of the caller's owner type.
type state[O comparable] struct {
	Held       bool      `json:"held"`
	Owner      O         `json:"owner,omitempty"`
	AcquiredAt time.Time `json:"acquired_at,omitempty"`
}

// Grant reports the outcome of an acquisition attempt.
type Grant[O comparable] struct {
	// Granted is true when the caller now holds the lock.
	Granted bool
	// CurrentOwner is the holder after the attempt: the caller on success,
	// the incumbent on denial.
	CurrentOwner O
	// AcquiredAt is when the current owner first acquired the lock.
	AcquiredAt time.Time
}

// Lock acquires and releases keyed locks for owners of type O.
type Lock[O comparable] struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// New creates a lock facade over the runtime. now defaults to time.Now.
func New[O comparable](rt *runtime.Runtime, now func() time.Time) *Lock[O] {
	if now == nil {
		now = time.Now
	}
	return &Lock[O]{rt: rt, now: now}
}

// TryAcquire attempts to take the lock for key on behalf of owner.
//
// It grants when the lock is unheld or already held by the same owner
// (idempotent re-acquire). A denial is not an error: the grant carries the
// incumbent owner so callers can detect and resolve races without blocking.
func (l *Lock[O]) TryAcquire(ctx context.Context, key string, owner O) (Grant[O], error) {
	var grant Grant[O]
	_, err := runtime.Invoke(ctx, l.rt, key, func(ctx context.Context, s *state[O], exists bool) (bool, error) {
		if s.Held && s.Owner != owner {
			grant = Grant[O]{Granted: false, CurrentOwner: s.Owner, AcquiredAt: s.AcquiredAt}
			telemetry.ObserveLockDenial()
			return false, nil
		}
		if s.Held && s.Owner == owner {
			grant = Grant[O]{Granted: true, CurrentOwner: s.Owner, AcquiredAt: s.AcquiredAt}
			return false, nil
		}
		s.Held = true
		s.Owner = owner
		s.AcquiredAt = l.now().UTC()
		grant = Grant[O]{Granted: true, CurrentOwner: owner, AcquiredAt: s.AcquiredAt}
		return true, nil
	})
	if err != nil {
		return Grant[O]{}, err
	}
	return grant, nil
}

// Release gives up the lock for key. It succeeds only when owner matches the
// holder; releasing an unheld or foreign-owned lock is a no-op returning
// false.
func (l *Lock[O]) Release(ctx context.Context, key string, owner O) (bool, error) {
	released := false
	_, err := runtime.Invoke(ctx, l.rt, key, func(ctx context.Context, s *state[O], exists bool) (bool, error) {
		if !s.Held || s.Owner != owner {
			return false, nil
		}
		var zero O
		s.Held = false
		s.Owner = zero
		s.AcquiredAt = time.Time{}
		released = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

// Holder reports the current owner of key, if any.
func (l *Lock[O]) Holder(ctx context.Context, key string) (O, bool, error) {
	var zero O
	s, _, err := runtime.View[state[O]](ctx, l.rt, key)
	if err != nil {
		return zero, false, err
	}
	if !s.Held {
		return zero, false, nil
	}
	return s.Owner, true, nil
}
