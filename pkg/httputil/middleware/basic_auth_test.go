package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/stretchr/testify/assert"
)

func basic(userpass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(userpass))
}

func TestVerifyBasicAuth(t *testing.T) {
	config := BasicAuthCreds(map[string]string{"user": "pass"})

	tests := []struct {
		name           string
		method         string
		authHeader     string
		expectedBody   string
		expectedStatus int
		challenged     bool
	}{
		{"missing authorization header", http.MethodGet, "", "Authorization header missing\n", http.StatusUnauthorized, true},
		{"invalid authorization format", http.MethodGet, "Bearer some-token", "Invalid authorization format\n", http.StatusUnauthorized, false},
		{"invalid base64 encoding", http.MethodGet, "Basic invalid-base64", "Invalid base64 encoding\n", http.StatusUnauthorized, false},
		{"invalid credentials format", http.MethodGet, basic("userpass"), "Invalid credentials format\n", http.StatusUnauthorized, false},
		{"invalid credentials", http.MethodGet, basic("user:wrongpass"), "Invalid credentials\n", http.StatusUnauthorized, true},
		{"unknown user", http.MethodGet, basic("admin:pass"), "Invalid credentials\n", http.StatusUnauthorized, true},
		{"valid credentials", http.MethodGet, basic("user:pass"), "user", http.StatusOK, false},
		{"preflight passes", http.MethodOptions, "", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://example.com/users", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			handler := VerifyBasicAuth(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user, _ := httputil.BasicAuthUser(r.Context())
				w.Write([]byte(user))
			}))
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedBody, rr.Body.String())
			if tt.challenged {
				assert.Equal(t, `Basic realm="Restricted"`, rr.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
