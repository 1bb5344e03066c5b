package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret")

func TestVerify_RoundTrip(t *testing.T) {
	token, err := Sign(secret, "u1", time.Minute)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	v := NewJWTVerifier(secret)
	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("expected u1, got %q", userID)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := Sign([]byte("other-secret"), "u1", time.Minute)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	v := NewJWTVerifier(secret)
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	token, err := Sign(secret, "u1", -time.Minute)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	v := NewJWTVerifier(secret)
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	v := NewJWTVerifier(secret)
	if _, err := v.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_SubClaimFallback(t *testing.T) {
	claims := jwt.MapClaims{
		"sub": "u2",
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	v := NewJWTVerifier(secret)
	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "u2" {
		t.Fatalf("expected u2, got %q", userID)
	}
}

func TestVerify_NoUserClaim(t *testing.T) {
	claims := jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	v := NewJWTVerifier(secret)
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_RejectsUnsignedToken(t *testing.T) {
	claims := jwt.MapClaims{
		"userId": "u1",
		"exp":    time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	v := NewJWTVerifier(secret)
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
