// Package auth verifies the bearer tokens presented by clients at
// connection-open time. Tokens are JWTs signed by the REST backend's auth
// service with a shared HMAC secret; this package only verifies, it never
// issues tokens for clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails signature, expiry or
// claim validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier resolves an opaque bearer token to a user ID.
type Verifier interface {
	Verify(token string) (userID string, err error)
}

// JWTVerifier validates HMAC-signed JWTs carrying the user ID in the
// "userId" claim (the claim name the REST backend issues), falling back to
// the standard "sub" claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify parses and validates the token and returns the user ID it carries.
func (v *JWTVerifier) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		// Only the HMAC family is accepted; anything else is a forgery
		// attempt or a misconfigured issuer.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	if id, ok := claims["userId"].(string); ok && id != "" {
		return id, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: no user claim", ErrInvalidToken)
}

// Sign issues a token for the given user ID, valid for ttl. It exists for
// tests and local tooling; production tokens come from the auth service.
func Sign(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"userId": userID,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
