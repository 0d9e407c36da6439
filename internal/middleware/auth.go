package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// RequireAPIKey guards the management API with a bearer key checked
// against a bcrypt hash from config. An empty hash disables the check
// (development only). The websocket endpoint is never behind this:
// agents and terminals carry their own credentials.
func RequireAPIKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || key == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"detail":"Missing API key"}`))
				return
			}

			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"detail":"Invalid API key"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
