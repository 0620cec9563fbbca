package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the fields read from a provider ID token.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 ID tokens minted by the auth provider (or a
// gateway in front of it) with a shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier returns a verifier. issuer may be empty to skip the
// issuer check.
func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth token secret is empty")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Verify parses raw and returns the user it names.
func (v *TokenVerifier) Verify(raw string) (SessionUser, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return SessionUser{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return SessionUser{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return SessionUser{ID: c.Subject, Name: c.Name, Email: c.Email}, nil
}

// Sign mints a token for u valid for ttl. Used by tests and local tooling.
func (v *TokenVerifier) Sign(u SessionUser, ttl time.Duration) (string, error) {
	now := v.now()
	c := Claims{
		Name:  u.Name,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
