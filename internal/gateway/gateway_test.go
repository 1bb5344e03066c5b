package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulse/chat-app/internal/auth"
	"github.com/pulse/chat-app/internal/store"
)

type fakeVerifier struct {
	userID string
	err    error
}

func (v fakeVerifier) Verify(string) (string, error) { return v.userID, v.err }

type fakeFinder struct {
	user *store.User
	err  error
}

func (f fakeFinder) FindUserByID(context.Context, string) (*store.User, error) {
	return f.user, f.err
}

func TestAdmit_Success(t *testing.T) {
	gw := New(fakeVerifier{userID: "u1"}, fakeFinder{user: &store.User{ID: "u1", Username: "alice"}}, 0)

	user, err := gw.Admit(context.Background(), "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "u1" || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestAdmit_MissingToken(t *testing.T) {
	gw := New(fakeVerifier{userID: "u1"}, fakeFinder{user: &store.User{ID: "u1"}}, 0)

	_, err := gw.Admit(context.Background(), "")
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestAdmit_VerificationFailure(t *testing.T) {
	gw := New(fakeVerifier{err: auth.ErrInvalidToken}, fakeFinder{user: &store.User{ID: "u1"}}, 0)

	_, err := gw.Admit(context.Background(), "bad")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdmit_UserGone(t *testing.T) {
	// The token is valid but the user it references was deleted.
	gw := New(fakeVerifier{userID: "u1"}, fakeFinder{user: nil}, 0)

	_, err := gw.Admit(context.Background(), "token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdmit_LookupFailure(t *testing.T) {
	gw := New(fakeVerifier{userID: "u1"}, fakeFinder{err: errors.New("db down")}, 0)

	_, err := gw.Admit(context.Background(), "token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdmit_EndToEndWithJWT(t *testing.T) {
	secret := []byte("test-secret")
	token, err := auth.Sign(secret, "u1", time.Minute)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	gw := New(auth.NewJWTVerifier(secret), fakeFinder{user: &store.User{ID: "u1"}}, 0)
	user, err := gw.Admit(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("unexpected user: %+v", user)
	}
}
