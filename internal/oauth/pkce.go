// Package oauth implements the OAuth2 protocol entities: PKCE, single-use
// authorization codes, rotating refresh tokens, and the scope registry.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// GenerateCodeVerifier returns a random PKCE code verifier (64 hex characters).
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ComputeS256Challenge computes the S256 PKCE challenge from a code verifier.
func ComputeS256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// ValidatePKCE reports whether verifier satisfies challenge. Only the S256
// method is accepted; plain challenges always fail.
func ValidatePKCE(verifier, challenge, method string) bool {
	if method != "S256" {
		return false
	}
	if !validVerifier(verifier) {
		return false
	}
	computed := ComputeS256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateCodeChallenge reports whether a client-supplied challenge is
// well-formed: 43 to 128 characters from the unreserved URI set.
func ValidateCodeChallenge(challenge string) bool {
	return validVerifier(challenge)
}

// RFC 7636 section 4.1 length and character rules.
func validVerifier(s string) bool {
	if len(s) < 43 || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}
