// Package runtime executes operations against addressable entities.
//
// An entity is a unit of durable state reachable by a unique string key
// (for example "user-abc" or "acme/code-deadbeef"). The runtime guarantees
// that for a given key at most one operation executes at a time, that state
// is loaded lazily on first access, and that mutations are persisted before
// the operation reports success. Operations on different keys run
// concurrently and are never ordered relative to each other.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/telemetry"
	"github.com/tessera-id/tessera/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/tessera-id/tessera/internal/runtime")

// Runtime activates entities on demand and serializes access per key.
type Runtime struct {
	store storage.StateStore

	mu       sync.Mutex
	entities map[string]*entry
}

// entry holds an activated entity. Its mutex is the single-writer guarantee:
// every operation on the key holds it for the full load-execute-persist cycle.
type entry struct {
	mu     sync.Mutex
	loaded bool
	exists bool
	raw    []byte // last committed snapshot
}

// New creates a runtime backed by the given state store.
func New(store storage.StateStore) *Runtime {
	telemetry.Register()
	return &Runtime{
		store:    store,
		entities: make(map[string]*entry),
	}
}

// entry activates the entity for key, creating the in-memory slot lazily.
func (rt *Runtime) entry(key string) *entry {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e, ok := rt.entities[key]
	if !ok {
		e = &entry{}
		rt.entities[key] = e
		telemetry.SetResidentEntities(len(rt.entities))
	}
	return e
}

// Evict drops the in-memory activation for key. Durable state is untouched;
// the next operation reloads it from the store.
func (rt *Runtime) Evict(key string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.entities, key)
	telemetry.SetResidentEntities(len(rt.entities))
}

// Resident reports the number of activated entities.
func (rt *Runtime) Resident() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.entities)
}

// Invoke runs op with exclusive access to the state stored under key.
//
// The state S is decoded from the last committed snapshot; exists is false
// and S is the zero value when the entity has never been written. When op
// reports dirty, the updated state is persisted before Invoke returns, even
// when op also returns an error (a failed login still records the attempt
// counter). A failed write fails the operation with CodeUnavailable and
// leaves both the durable and the in-memory snapshot at their prior values.
// An error with dirty=false discards any mutation op made.
//
// Cancellation is cooperative: the context is checked before op starts, but
// once op runs the mutation is carried to completion.
func Invoke[S any](ctx context.Context, rt *Runtime, key string, op func(ctx context.Context, state *S, exists bool) (dirty bool, err error)) (S, error) {
	var zero S

	ctx, span := tracer.Start(ctx, "entity.invoke",
		trace.WithAttributes(attribute.String("entity.key", key)))
	defer span.End()

	e := rt.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		telemetry.ObserveInvocation("canceled")
		return zero, err
	}

	if !e.loaded {
		raw, err := rt.store.Get(ctx, key)
		switch {
		case err == nil:
			e.raw = raw
			e.exists = true
		case errors.Is(err, storage.ErrNotFound):
			e.exists = false
		default:
			telemetry.ObserveInvocation("load_error")
			return zero, apperrors.Wrap(apperrors.CodeUnavailable, "load entity state", err)
		}
		e.loaded = true
	}

	var state S
	if e.exists {
		if err := json.Unmarshal(e.raw, &state); err != nil {
			telemetry.ObserveInvocation("decode_error")
			return zero, apperrors.Wrap(apperrors.CodeUnavailable, "decode entity state", err)
		}
	}

	dirty, opErr := op(ctx, &state, e.exists)

	if dirty {
		data, err := json.Marshal(state)
		if err != nil {
			telemetry.ObserveInvocation("encode_error")
			return zero, apperrors.Wrap(apperrors.CodeUnavailable, "encode entity state", err)
		}
		if err := rt.store.Put(ctx, key, data); err != nil {
			telemetry.ObservePersistFailure()
			telemetry.ObserveInvocation("persist_error")
			return zero, apperrors.Wrap(apperrors.CodeUnavailable, "persist entity state", err)
		}
		e.raw = data
		e.exists = true
	}

	if opErr != nil {
		telemetry.ObserveInvocation("op_error")
		return zero, opErr
	}

	telemetry.ObserveInvocation("ok")
	return state, nil
}

// View returns a consistent snapshot of the state under key without
// persisting anything. Absent entities yield the zero value with
// exists=false.
func View[S any](ctx context.Context, rt *Runtime, key string) (S, bool, error) {
	var present bool
	state, err := Invoke(ctx, rt, key, func(ctx context.Context, state *S, exists bool) (bool, error) {
		present = exists
		return false, nil
	})
	if err != nil {
		var zero S
		return zero, false, err
	}
	return state, present, nil
}
