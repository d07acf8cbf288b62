// ABOUTME: Authentication gate resolving a credential token to a user identity
// ABOUTME: Shared by the websocket handshake and the HTTP auth middleware

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/creatorconnect/chat-gateway/internal/store"
)

// Gate errors
var (
	ErrMissingToken = errors.New("missing token")
	ErrUnknownUser  = errors.New("unknown user")
)

// UserStore defines what the gate needs from storage
type UserStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Gate validates a credential token and resolves it to a user profile.
// A failed resolution always refuses the attempt; there is no degraded
// anonymous mode.
type Gate struct {
	verifier TokenVerifier
	users    UserStore
}

// NewGate creates an authentication gate.
func NewGate(verifier TokenVerifier, users UserStore) *Gate {
	return &Gate{verifier: verifier, users: users}
}

// Authenticate verifies the token and loads the subject's profile
// projection. Returns ErrMissingToken, a token error, or ErrUnknownUser
// when the subject no longer exists in the store.
func (g *Gate) Authenticate(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := g.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	return user.Profile(), nil
}
