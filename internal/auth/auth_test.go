package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123"

func TestIssueAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClock()
	token, expires, err := NewIssuer(secret, time.Hour, clock).Issue("alice")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), expires)

	identity, err := NewVerifier(secret, clock).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestVerify_Expired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	token, _, err := NewIssuer(secret, time.Minute, clock).Issue("alice")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = NewVerifier(secret, clock).Verify(token)
	require.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_Rejections(t *testing.T) {
	clock := clockwork.NewFakeClock()
	verifier := NewVerifier(secret, clock)

	wrongKey, _, err := NewIssuer("another-secret-entirely", time.Hour, clock).Issue("alice")
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}}).SignedString([]byte(secret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:  issuer,
		Subject: "alice",
	}}).SignedString([]byte(secret))
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":    "not.a.jwt",
		"wrong key":  wrongKey,
		"no subject": noSubject,
		"no expiry":  noExpiry,
		"alg none":   noneAlg,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.Verify(token)
			assert.ErrorIs(t, err, domain.ErrAuthInvalid)
		})
	}
}

func TestVerify_EmptyToken(t *testing.T) {
	_, err := NewVerifier(secret, clockwork.NewFakeClock()).Verify("")
	assert.ErrorIs(t, err, domain.ErrAuthMissing)
}

func TestIssue_EmptyIdentity(t *testing.T) {
	_, _, err := NewIssuer(secret, time.Hour, clockwork.NewFakeClock()).Issue("")
	assert.Error(t, err)
}
