package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// BasicAuthConfig holds the username-password pairs for basic authentication.
type BasicAuthConfig struct {
	Credentials map[string]string
	// Realm defaults to "Restricted".
	Realm string
}

// BasicAuthCreds creates a new instance of BasicAuthConfig with multiple username/password pairs.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{
		Credentials: credentials,
	}
}

// VerifyBasicAuth is a middleware function for basic authentication. CORS preflight requests pass
// through unauthenticated.
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	realm := config.Realm
	if realm == "" {
		realm = "Restricted"
	}
	challenge := `Basic realm="` + realm + `"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}

			encodedCredentials, ok := strings.CutPrefix(authHeader, "Basic ")
			if !ok {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			credentials, err := base64.StdEncoding.DecodeString(encodedCredentials)
			if err != nil {
				http.Error(w, "Invalid base64 encoding", http.StatusUnauthorized)
				return
			}

			username, password, ok := strings.Cut(string(credentials), ":")
			if !ok {
				http.Error(w, "Invalid credentials format", http.StatusUnauthorized)
				return
			}

			validPassword, ok := config.Credentials[username]
			if !ok || subtle.ConstantTimeCompare([]byte(validPassword), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}

			ctx := httputil.WithBasicAuthUser(r.Context(), username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
