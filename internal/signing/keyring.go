// Package signing manages per-tenant token signing keys and mints the JWTs
// the OAuth flows hand out.
package signing

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"time"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/id"
	"github.com/tessera-id/tessera/internal/runtime"
)

// KeyringKey returns the entity key for a tenant's signing key ring.
func KeyringKey(tenantID string) string {
	return tenantID + "/signing-keys"
}

// storedKey is a ring member. The private key is kept as PKCS#8 DER so the
// ring state survives the JSON round trip through the runtime.
type storedKey struct {
	ID         string    `json:"id"`
	PrivateKey []byte    `json:"private_key"`
	CreatedAt  time.Time `json:"created_at"`
	RetiredAt  time.Time `json:"retired_at,omitempty"`
	Revoked    bool      `json:"revoked,omitempty"`
}

type ringState struct {
	ActiveID string      `json:"active_id"`
	Keys     []storedKey `json:"keys"`
}

// Signer is the active signing key in usable form.
type Signer struct {
	ID         string
	PrivateKey *ecdsa.PrivateKey
}

// PublicKey is a verification key. Retired keys stay in the verification set
// until revoked, so tokens signed before a rotation keep verifying.
type PublicKey struct {
	ID        string
	Key       *ecdsa.PublicKey
	CreatedAt time.Time
	Active    bool
}

// Keyring operates on signing key ring entities.
type Keyring struct {
	rt    *runtime.Runtime
	now   func() time.Time
	idGen func() (string, error)
}

// NewKeyring creates the keyring facade. now defaults to time.Now and idGen
// to the platform ID generator.
func NewKeyring(rt *runtime.Runtime, now func() time.Time, idGen func() (string, error)) *Keyring {
	if now == nil {
		now = time.Now
	}
	if idGen == nil {
		idGen = id.NewID
	}
	return &Keyring{rt: rt, now: now, idGen: idGen}
}

// Rotate generates a fresh ECDSA P-256 key, makes it the active signer, and
// retires the previous active key. The retired key stays in the verification
// set until revoked.
func (k *Keyring) Rotate(ctx context.Context, tenantID string) (Signer, error) {
	keyID, err := k.idGen()
	if err != nil {
		return Signer{}, apperrors.Wrap(apperrors.CodeUnavailable, "allocate key id", err)
	}
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Signer{}, apperrors.Wrap(apperrors.CodeUnavailable, "generate signing key", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return Signer{}, apperrors.Wrap(apperrors.CodeUnavailable, "encode signing key", err)
	}
	now := k.now().UTC()
	_, err = runtime.Invoke(ctx, k.rt, KeyringKey(tenantID), func(ctx context.Context, s *ringState, exists bool) (bool, error) {
		for i := range s.Keys {
			if s.Keys[i].ID == s.ActiveID {
				s.Keys[i].RetiredAt = now
			}
		}
		s.Keys = append(s.Keys, storedKey{ID: keyID, PrivateKey: der, CreatedAt: now})
		s.ActiveID = keyID
		return true, nil
	})
	if err != nil {
		return Signer{}, err
	}
	return Signer{ID: keyID, PrivateKey: private}, nil
}

// ActiveKey returns the current signer. A tenant that never rotated fails
// with CodeKeyNoActive.
func (k *Keyring) ActiveKey(ctx context.Context, tenantID string) (Signer, error) {
	s, _, err := runtime.View[ringState](ctx, k.rt, KeyringKey(tenantID))
	if err != nil {
		return Signer{}, err
	}
	for _, key := range s.Keys {
		if key.ID == s.ActiveID && !key.Revoked {
			private, err := parsePrivate(key.PrivateKey)
			if err != nil {
				return Signer{}, err
			}
			return Signer{ID: key.ID, PrivateKey: private}, nil
		}
	}
	return Signer{}, apperrors.New(apperrors.CodeKeyNoActive, "no active signing key")
}

// PublicKeys returns the verification set: every non-revoked key, the
// retired ones included. Callers match tokens to keys by key ID.
func (k *Keyring) PublicKeys(ctx context.Context, tenantID string) ([]PublicKey, error) {
	s, _, err := runtime.View[ringState](ctx, k.rt, KeyringKey(tenantID))
	if err != nil {
		return nil, err
	}
	keys := make([]PublicKey, 0, len(s.Keys))
	for _, key := range s.Keys {
		if key.Revoked {
			continue
		}
		private, err := parsePrivate(key.PrivateKey)
		if err != nil {
			return nil, err
		}
		keys = append(keys, PublicKey{
			ID:        key.ID,
			Key:       &private.PublicKey,
			CreatedAt: key.CreatedAt,
			Active:    key.ID == s.ActiveID,
		})
	}
	return keys, nil
}

// RevokeKey removes a key from the verification set. Revoking the active key
// fails; rotate first so the tenant always has a signer.
func (k *Keyring) RevokeKey(ctx context.Context, tenantID, keyID string) error {
	_, err := runtime.Invoke(ctx, k.rt, KeyringKey(tenantID), func(ctx context.Context, s *ringState, exists bool) (bool, error) {
		if keyID == s.ActiveID {
			return false, apperrors.New(apperrors.CodeKeyRevokeActive, "cannot revoke the active signing key")
		}
		for i := range s.Keys {
			if s.Keys[i].ID == keyID {
				if s.Keys[i].Revoked {
					return false, nil
				}
				s.Keys[i].Revoked = true
				return true, nil
			}
		}
		return false, apperrors.New(apperrors.CodeNotFound, "signing key not found")
	})
	return err
}

func parsePrivate(der []byte) (*ecdsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "decode signing key", err)
	}
	private, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, apperrors.New(apperrors.CodeUnavailable, "stored signing key is not ECDSA")
	}
	return private, nil
}
