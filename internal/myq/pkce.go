package myq

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkcePair holds the verifier and challenge for one OAuth authorization
// code exchange (RFC 7636, S256 method).
type pkcePair struct {
	verifier  string
	challenge string
}

// newPKCEPair generates a fresh code verifier and its SHA-256 challenge.
func newPKCEPair() (pkcePair, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return pkcePair{}, fmt.Errorf("myq: generating code verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return pkcePair{verifier: verifier, challenge: challenge}, nil
}
