package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierLength is the number of random bytes in a code verifier.
// The base64url string is 43 characters; OAuth 2.1 requires 43-128.
const verifierLength = 32

// generateVerifier creates a cryptographically random PKCE code verifier,
// base64url encoded without padding.
func generateVerifier() (string, error) {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// challengeFromVerifier derives the S256 code challenge:
// base64url(sha256(verifier)), no padding.
func challengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
