package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/arborhq/arbor/pkg/httputil"
	"github.com/arborhq/arbor/pkg/observability"
)

// TokenValidator resolves a bearer token to a user ID. Implemented by the
// workspace store.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// AuthContext carries the authenticated caller through the request
type AuthContext struct {
	UserID int64
}

type authContextKey struct{}

// GetAuthContext returns the authenticated caller, or nil on
// unauthenticated requests
func GetAuthContext(r *http.Request) *AuthContext {
	if authCtx, ok := r.Context().Value(authContextKey{}).(*AuthContext); ok {
		return authCtx
	}
	return nil
}

// Authenticate validates the Authorization bearer token and attaches the
// caller to the request context. Requests without a valid token are
// rejected.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.WriteUnauthorized(w, "missing bearer token")
				return
			}

			userID, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				observability.FromContext(r.Context()).Debug("token validation failed")
				httputil.WriteUnauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, &AuthContext{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
