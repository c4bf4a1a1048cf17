// Package auth, as part of the authentication module.
// This file, `middleware.go`, defines the Gate: HTTP middleware that turns
// an `Authorization: Bearer <token>` header into a resolved Session.
package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/user/taskmanager-go/apperror"
)

const authenticateMessage = "Please authenticate."

// Gate creates the authentication middleware.
// It resolves the bearer token through the TokenManager and stores the
// Session in the request context. Any credential problem answers 401 with a
// single generic message; store failures answer 500. The Gate never mutates
// session state.
func Gate(tokens *TokenManager, log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteError(w, r, log, apperror.NewAuthError(authenticateMessage, nil))
				return
			}

			user, _, err := tokens.Resolve(r.Context(), token)
			if err != nil {
				if apperror.IsDatabaseError(err) {
					WriteError(w, r, log, err)
					return
				}
				log.Debug("rejected bearer token", zap.Error(err))
				WriteError(w, r, log, apperror.NewAuthError(authenticateMessage, err))
				return
			}

			ctx := NewContextWithSession(r.Context(), &Session{User: user, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer {token}" header.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
