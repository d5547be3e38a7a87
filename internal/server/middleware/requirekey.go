package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireKey returns middleware that gates a route behind a static ops
// token, accepted either as a Bearer token or in the X-API-Key header. An
// empty configured token disables the check entirely, which keeps dev
// setups friction free.
func RequireKey(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := bearerOrKey(r)
			if presented == "" {
				writeUnauthorized(w, "missing ops token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeUnauthorized(w, "invalid ops token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerOrKey pulls a token from Authorization: Bearer or X-API-Key.
func bearerOrKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
