// Package middleware holds HTTP middleware shared by the server routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/minesight/analyst/logger"
)

// Auth requires a bearer token on every path except /health, /ws and the
// given public paths. The websocket shell authenticates in-band.
func Auth(token string, public ...string) func(http.Handler) http.Handler {
	open := append([]string{"/health", "/ws"}, public...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(open, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			scheme, credential, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(credential), []byte(token)) != 1 {
				logger.NewRequestLogger().Warn("rejected request with invalid token", "path", r.URL.Path)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
