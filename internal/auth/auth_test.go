package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/daap14/pagelease/internal/auth"
)

func TestStaticToken_Verify(t *testing.T) {
	tok, err := auth.NewStaticToken("cron-secret", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, tok.Configured())
	assert.NoError(t, tok.Verify("cron-secret"))
	assert.ErrorIs(t, tok.Verify("wrong"), auth.ErrInvalidToken)
	assert.ErrorIs(t, tok.Verify(""), auth.ErrInvalidToken)
}

func TestStaticToken_LongSecretComparedInFull(t *testing.T) {
	long := strings.Repeat("a", 100)
	tok, err := auth.NewStaticToken(long, bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, tok.Verify(long))
	assert.ErrorIs(t, tok.Verify(strings.Repeat("a", 99)+"b"), auth.ErrInvalidToken)
}

func TestStaticToken_Unconfigured(t *testing.T) {
	tok, err := auth.NewStaticToken("", bcrypt.MinCost)
	require.NoError(t, err)

	assert.False(t, tok.Configured())
	assert.ErrorIs(t, tok.Verify("anything"), auth.ErrNotConfigured)
}

func TestVerifyHMACSHA256(t *testing.T) {
	payload := []byte(`{"id":"bmc-1"}`)
	sig := auth.SignHMACSHA256(payload, "s3cret")

	assert.NoError(t, auth.VerifyHMACSHA256(payload, sig, "s3cret"))
	assert.NoError(t, auth.VerifyHMACSHA256(payload, "sha256="+sig, "s3cret"))
	assert.ErrorIs(t, auth.VerifyHMACSHA256(payload, sig, "other"), auth.ErrInvalidSignature)
	assert.ErrorIs(t, auth.VerifyHMACSHA256([]byte(`{"id":"bmc-2"}`), sig, "s3cret"), auth.ErrInvalidSignature)
	assert.ErrorIs(t, auth.VerifyHMACSHA256(payload, "zz-not-hex", "s3cret"), auth.ErrInvalidSignature)
	assert.ErrorIs(t, auth.VerifyHMACSHA256(payload, sig, ""), auth.ErrInvalidSignature)
}

func TestSecretEqual(t *testing.T) {
	assert.True(t, auth.SecretEqual("abc", "abc"))
	assert.False(t, auth.SecretEqual("abc", "abd"))
	assert.False(t, auth.SecretEqual("", ""))
}
