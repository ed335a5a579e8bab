package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a presented token does not match.
var ErrInvalidToken = errors.New("invalid token")

// ErrNotConfigured is returned when a token check runs without a configured secret.
var ErrNotConfigured = errors.New("token not configured")

// StaticToken verifies the scheduler trigger bearer token. Only a bcrypt
// hash of the secret is kept in memory. The secret is SHA-256 pre-hashed so secrets longer than
// bcrypt's 72-byte input limit still compare in full.
type StaticToken struct {
	hash []byte
}

// NewStaticToken hashes raw with the given bcrypt cost. An empty raw secret
// yields a token that rejects everything.
func NewStaticToken(raw string, cost int) (*StaticToken, error) {
	if raw == "" {
		return &StaticToken{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword(prehash(raw), cost)
	if err != nil {
		return nil, fmt.Errorf("hashing token: %w", err)
	}
	return &StaticToken{hash: hash}, nil
}

// Configured reports whether a secret was set.
func (t *StaticToken) Configured() bool {
	return t != nil && len(t.hash) > 0
}

// Verify checks presented against the configured secret.
func (t *StaticToken) Verify(presented string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	if presented == "" {
		return ErrInvalidToken
	}
	if bcrypt.CompareHashAndPassword(t.hash, prehash(presented)) != nil {
		return ErrInvalidToken
	}
	return nil
}

func prehash(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return []byte(hex.EncodeToString(sum[:]))
}
