package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when a webhook signature does not verify.
var ErrInvalidSignature = errors.New("invalid signature")

// VerifyHMACSHA256 checks that signature is the hex HMAC-SHA256 of payload
// under secret. An optional "sha256=" prefix is accepted.
func VerifyHMACSHA256(payload []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHMACSHA256 returns the hex HMAC-SHA256 of payload under secret.
func SignHMACSHA256(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SecretEqual compares a presented shared secret in constant time. An
// empty expected secret never matches.
func SecretEqual(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
