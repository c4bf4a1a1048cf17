// Package auth, as part of the authentication module.
// This file, `context.go`, carries the resolved session through the request
// `context.Context` from the Gate middleware to the handlers behind it.
package auth

import (
	"context"

	"github.com/user/taskmanager-go/apperror"
)

// `contextKey` is a custom type for context keys. Using a custom type prevents collisions
// with context keys defined in other packages.
type contextKey string

const sessionContextKey contextKey = "auth_session"

// Session is the acting user and the raw bearer token that authenticated
// the current request.
type Session struct {
	User  *User
	Token string
}

// NewContextWithSession returns a child context carrying s.
func NewContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext extracts the Session stored by the Gate middleware.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*Session)
	return s, ok && s != nil && s.User != nil
}

// RequireSession is SessionFromContext for handlers that must not run
// unauthenticated; a missing session is an AuthError.
func RequireSession(ctx context.Context) (*Session, error) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return nil, ErrNoAuthContext
	}
	return s, nil
}

// ErrNoAuthContext is returned when a protected handler runs without the Gate.
var ErrNoAuthContext = apperror.NewAuthError("Please authenticate.", nil)
