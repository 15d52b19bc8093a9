package http

import (
	"net/http"
	"strings"
)

// AuthMiddleware validates the Authorization header against a static API
// key, accepting either a Bearer token or the bare key. An empty apiKey
// disables authentication.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")

			if token != apiKey {
				http.Error(w, "invalid credentials", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
