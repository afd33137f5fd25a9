package auth

import (
	"context"
	"net/http"
	"strings"
)

// Middleware requires a valid bearer token, rejecting with 401
// otherwise, and stores the resolved Principal in the request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := verifyRequest(v, r)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware extracts a Principal if a valid bearer token is
// present, but never rejects the request — used for routes (like the
// websocket upgrade) whose auth gate is enforced by the channel
// protocol itself, not HTTP status.
func OptionalMiddleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if principal, err := verifyRequest(v, r); err == nil {
				ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyRequest(v Verifier, r *http.Request) (Principal, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return Principal{}, ErrInvalidToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return Principal{}, ErrInvalidToken
	}

	return v.Verify(parts[1])
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	switch err {
	case ErrTokenExpired:
		w.Write([]byte(`{"error": "token has expired"}`))
	default:
		w.Write([]byte(`{"error": "invalid or missing bearer token"}`))
	}
}

// PrincipalFromContext extracts the authenticated Principal set by
// Middleware or OptionalMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(Principal)
	return p, ok
}
