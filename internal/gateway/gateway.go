// Package gateway authenticates inbound live connections before admission.
// A connection presents one opaque bearer token in its opening handshake;
// the gateway verifies it and resolves the minimal user identity, or rejects
// the attempt. The decision is final per attempt; reconnecting is the only
// retry path.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulse/chat-app/internal/auth"
	"github.com/pulse/chat-app/internal/store"
)

// Admission error taxonomy. Both are terminal for the connection attempt.
var (
	ErrMissingToken = errors.New("gateway: missing token")
	ErrInvalidToken = errors.New("gateway: invalid token")
)

// DefaultAdmissionTimeout bounds the verifier and store calls made during
// admission so a stalled collaborator cannot hold the upgrade handler
// forever.
const DefaultAdmissionTimeout = 5 * time.Second

// UserFinder is the slice of the persistence collaborator the gateway needs.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*store.User, error)
}

// Gateway verifies connection credentials and resolves user identities.
type Gateway struct {
	verifier auth.Verifier
	users    UserFinder
	timeout  time.Duration
}

// New creates a Gateway. A non-positive timeout falls back to
// DefaultAdmissionTimeout.
func New(verifier auth.Verifier, users UserFinder, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultAdmissionTimeout
	}
	return &Gateway{verifier: verifier, users: users, timeout: timeout}
}

// Admit authenticates a connection attempt. It returns the resolved user on
// success, ErrMissingToken when no token was supplied, and ErrInvalidToken
// when verification fails or the referenced user no longer exists.
func (g *Gateway) Admit(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	userID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := g.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user lookup: %v", ErrInvalidToken, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s not found", ErrInvalidToken, userID)
	}
	return user, nil
}
