// Package token signs and verifies the time-boxed credentials used across
// the API: short-lived access tokens, single-use refresh tokens, and
// email-verification tokens. The codec is stateless apart from the shared
// secret; whether a refresh token is still honored is the session store's
// concern, not the codec's.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates token usage. A token signed for one kind never
// verifies as another.
type Kind string

const (
	KindAccess      Kind = "access"
	KindRefresh     Kind = "refresh"
	KindEmailVerify Kind = "email"
)

const (
	AccessTokenTTL      = 5 * time.Minute
	RefreshTokenTTL     = 7 * 24 * time.Hour
	EmailVerifyTokenTTL = 10 * time.Minute
)

// TTL returns the lifetime for the given token kind.
func TTL(kind Kind) time.Duration {
	switch kind {
	case KindRefresh:
		return RefreshTokenTTL
	case KindEmailVerify:
		return EmailVerifyTokenTTL
	default:
		return AccessTokenTTL
	}
}

// Claims is the credential claim set carried by every token.
type Claims struct {
	Kind  Kind   `json:"type"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the claims.
func (c Claims) UserID() string { return c.Subject }

// Codec signs and verifies tokens with a shared HMAC secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// Sign issues a token of the given kind with a kind-specific expiry.
// Each token carries a random jti so that two tokens issued within the
// same second are still distinct.
func (c *Codec) Sign(kind Kind, userID, email string) (string, error) {
	now := c.now()
	claims := Claims{
		Kind:  kind,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL(kind))),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token.Sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and kind. Every failure mode (bad
// signature, expired, malformed, wrong kind) collapses to ok=false; no
// partial claim data is ever returned.
func (c *Codec) Verify(kind Kind, raw string) (Claims, bool) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid || claims.Kind != kind {
		return Claims{}, false
	}
	return claims, true
}
