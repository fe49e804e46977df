// Package jwt signs and verifies HS256 bearer tokens.
package jwt

import (
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	jwtLib "github.com/golang-jwt/jwt/v5"
)

// Claims are the claims of an API token.
type Claims struct {
	jwtLib.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// JWT signs and verifies tokens with one shared secret.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// New creates a JWT with secret.
func New(secret []byte) (*JWT, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWT{secret: secret, now: time.Now}, nil
}

// Sign issues a token for subject that expires after ttl.
func (j *JWT) Sign(subject string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := &Claims{
		RegisteredClaims: jwtLib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtLib.NewNumericDate(now),
			ExpiresAt: jwtLib.NewNumericDate(now.Add(ttl)),
		},
		Username: subject,
	}

	token, err := jwtLib.NewWithClaims(jwtLib.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}

// Parse verifies token and returns its claims. Tokens must carry an expiry.
func (j *JWT) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, errors.New("empty token")
	}

	claims := new(Claims)
	_, err := jwtLib.ParseWithClaims(token, claims,
		func(*jwtLib.Token) (any, error) { return j.secret, nil },
		jwtLib.WithValidMethods([]string{jwtLib.SigningMethodHS256.Alg()}),
		jwtLib.WithExpirationRequired(),
		jwtLib.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "parse token")
	}
	return claims, nil
}
