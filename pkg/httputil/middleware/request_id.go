package middleware

import (
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/google/uuid"
)

const RequestIDHeader = httputil.RequestIDHeader

// RequestID middleware attaches a request id to the context and the response. An id already in the
// context or a valid UUID sent in the X-Request-Id header is reused; otherwise a new one is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, ok := httputil.RequestID(r.Context())
		if !ok {
			reqID = incomingRequestID(r)
		}

		ctx := httputil.WithRequestID(r.Context(), reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func incomingRequestID(r *http.Request) string {
	if id, err := uuid.Parse(r.Header.Get(RequestIDHeader)); err == nil {
		return id.String()
	}
	return uuid.New().String()
}
