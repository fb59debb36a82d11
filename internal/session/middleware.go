package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/classbridge/classbridge-tool/internal/roles"
)

type ctxKey struct{}

// WithClaims attaches validated session claims to a request context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the claims placed by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// BearerToken pulls the session token from the Authorization header,
// falling back to the access_token query parameter for clients that
// cannot set headers (file downloads, embedded players).
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

// Middleware authenticates every request with a session token. One-use
// tokens are consumed here, so a handler behind this middleware never
// sees the same one-use token twice.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := svc.Validate(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				if !isTrustError(err) {
					status = http.StatusInternalServerError
				}
				http.Error(w, "invalid session token", status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func isTrustError(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenReplayed)
}

// RequireRole gates a subtree on a role capability, evaluated against
// the roles carried in the session claims.
func RequireRole(allowed func(*roles.Resolver) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "missing session", http.StatusUnauthorized)
				return
			}
			if !allowed(roles.New(claims.Roles)) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
