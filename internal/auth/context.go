// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/FromContext for propagating the authenticated user via context

package auth

import (
	"context"

	"github.com/creatorconnect/chat-gateway/internal/store"
)

// userContextKey is the key type for storing the authenticated user in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the authenticated user attached.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// FromContext retrieves the authenticated user from the context,
// returning nil if not present.
func FromContext(ctx context.Context) *store.User {
	val := ctx.Value(userContextKey{})
	if val == nil {
		return nil
	}
	user, ok := val.(*store.User)
	if !ok {
		return nil
	}
	return user
}

// MustFromContext retrieves the authenticated user from the context,
// panicking if not present. For handlers behind the auth middleware only.
func MustFromContext(ctx context.Context) *store.User {
	user := FromContext(ctx)
	if user == nil {
		panic("auth: user not found in context")
	}
	return user
}
