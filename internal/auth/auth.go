// Package auth issues and verifies the short-lived credentials dashboard
// clients present during the websocket handshake.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/domain"
)

const issuer = "dashpulse"

// Claims are the registered JWT claims; Subject carries the identity.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	clock  clockwork.Clock
}

var _ domain.CredentialVerifier = (*Verifier)(nil)

func NewVerifier(secret string, clock clockwork.Clock) *Verifier {
	return &Verifier{secret: []byte(secret), clock: clock}
}

// Verify returns the token's subject. Every failure wraps domain.ErrAuthInvalid
// except an empty token, which is domain.ErrAuthMissing.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", domain.ErrAuthMissing
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuthInvalid, err)
	}
	if !parsed.Valid {
		return "", domain.ErrAuthInvalid
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", domain.ErrAuthInvalid)
	}

	return claims.Subject, nil
}

// Issuer mints tokens for an identity.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewIssuer(secret string, ttl time.Duration, clock clockwork.Clock) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

var errEmptyIdentity = errors.New("identity is required")

// Issue returns a signed token for identity and its expiry.
func (i *Issuer) Issue(identity string) (string, time.Time, error) {
	if identity == "" {
		return "", time.Time{}, errEmptyIdentity
	}

	now := i.clock.Now()
	expires := now.Add(i.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}
