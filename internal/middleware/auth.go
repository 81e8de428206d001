// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vitalink/chatsync/internal/identity"
)

// ContextKey is a type for context keys.
type ContextKey string

// UserKey is the context key for the authenticated user.
const UserKey ContextKey = "user"

// userHolderKey carries a mutable slot the logging middleware installs
// so auth, which runs deeper in the chain, can report the resolved user
// back to the request log.
const userHolderKey ContextKey = "user_holder"

type userHolder struct {
	user *identity.User
}

// Auth creates JWT bearer authentication middleware.
func Auth(verifier *identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			user, err := verifier.Verify(parts[1])
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			if h, ok := r.Context().Value(userHolderKey).(*userHolder); ok {
				h.user = user
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser gets the authenticated user from context, or nil.
func GetUser(ctx context.Context) *identity.User {
	if v := ctx.Value(UserKey); v != nil {
		return v.(*identity.User)
	}
	return nil
}
