package signing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/runtime"
	"github.com/tessera-id/tessera/internal/storage"
)

func newTestKeyring() *Keyring {
	n := 0
	idGen := func() (string, error) {
		n++
		return fmt.Sprintf("key-%03d", n), nil
	}
	return NewKeyring(runtime.New(storage.NewMemory()), nil, idGen)
}

func TestRotateActivatesNewKey(t *testing.T) {
	keys := newTestKeyring()
	ctx := context.Background()

	first, err := keys.Rotate(ctx, "t1")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	second, err := keys.Rotate(ctx, "t1")
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}

	active, err := keys.ActiveKey(ctx, "t1")
	if err != nil {
		t.Fatalf("active key: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("ActiveKey() = %q, want %q", active.ID, second.ID)
	}

	// The prior key stays verifiable until revoked.
	public, err := keys.PublicKeys(ctx, "t1")
	if err != nil {
		t.Fatalf("public keys: %v", err)
	}
	if len(public) != 2 {
		t.Fatalf("len(PublicKeys()) = %d, want 2", len(public))
	}
	ids := map[string]bool{}
	for _, pk := range public {
		ids[pk.ID] = pk.Active
	}
	if ids[first.ID] || !ids[second.ID] {
		t.Fatalf("active flags = %v", ids)
	}
}

func TestRevokeKey(t *testing.T) {
	keys := newTestKeyring()
	ctx := context.Background()

	first, err := keys.Rotate(ctx, "t1")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	second, err := keys.Rotate(ctx, "t1")
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}

	if err := keys.RevokeKey(ctx, "t1", second.ID); apperrors.CodeOf(err) != apperrors.CodeKeyRevokeActive {
		t.Fatalf("RevokeKey(active) = %v, want revoke-active error", err)
	}
	if err := keys.RevokeKey(ctx, "t1", first.ID); err != nil {
		t.Fatalf("revoke retired: %v", err)
	}

	public, err := keys.PublicKeys(ctx, "t1")
	if err != nil {
		t.Fatalf("public keys: %v", err)
	}
	if len(public) != 1 || public[0].ID != second.ID {
		t.Fatalf("verification set = %+v, want only %q", public, second.ID)
	}

	if err := keys.RevokeKey(ctx, "t1", "key-999"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("RevokeKey(unknown) = %v, want not found", err)
	}
}

func TestActiveKeyWithoutRotation(t *testing.T) {
	keys := newTestKeyring()
	if _, err := keys.ActiveKey(context.Background(), "t1"); apperrors.CodeOf(err) != apperrors.CodeKeyNoActive {
		t.Fatalf("ActiveKey() = %v, want no-active error", err)
	}
}

func TestMintedTokensVerify(t *testing.T) {
	keys := newTestKeyring()
	ctx := context.Background()
	if _, err := keys.Rotate(ctx, "t1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	minter := NewMinter(keys, "https://id.example.com", nil)
	req := TokenRequest{
		TenantID:       "t1",
		Subject:        "u1",
		Audience:       "web",
		Scopes:         []string{"openid", "profile"},
		OrganizationID: "o1",
		Nonce:          "n-0S6_WzA2Mj",
		TTL:            time.Hour,
	}

	access, err := minter.AccessToken(ctx, req)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	public, err := keys.PublicKeys(ctx, "t1")
	if err != nil {
		t.Fatalf("public keys: %v", err)
	}
	keyfunc := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		for _, pk := range public {
			if pk.ID == kid {
				return pk.Key, nil
			}
		}
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	var claims AccessClaims
	if _, err := jwt.ParseWithClaims(access, &claims, keyfunc, jwt.WithValidMethods([]string{"ES256"})); err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != "u1" || claims.Scope != "openid profile" || claims.OrganizationID != "o1" {
		t.Fatalf("claims = %+v", claims)
	}

	idToken, err := minter.IDToken(ctx, req)
	if err != nil {
		t.Fatalf("mint id token: %v", err)
	}
	var idClaims IDClaims
	if _, err := jwt.ParseWithClaims(idToken, &idClaims, keyfunc, jwt.WithValidMethods([]string{"ES256"})); err != nil {
		t.Fatalf("parse id token: %v", err)
	}
	if idClaims.Nonce != req.Nonce {
		t.Fatalf("nonce = %q, want %q", idClaims.Nonce, req.Nonce)
	}
}

func TestTokensSignedBeforeRotationStillVerify(t *testing.T) {
	keys := newTestKeyring()
	ctx := context.Background()
	if _, err := keys.Rotate(ctx, "t1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	minter := NewMinter(keys, "https://id.example.com", nil)
	token, err := minter.AccessToken(ctx, TokenRequest{TenantID: "t1", Subject: "u1", Audience: "web", TTL: time.Hour})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := keys.Rotate(ctx, "t1"); err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	public, err := keys.PublicKeys(ctx, "t1")
	if err != nil {
		t.Fatalf("public keys: %v", err)
	}

	var claims AccessClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		for _, pk := range public {
			if pk.ID == kid {
				return pk.Key, nil
			}
		}
		return nil, fmt.Errorf("unknown key id %q", kid)
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		t.Fatalf("verify pre-rotation token: %v", err)
	}
}
