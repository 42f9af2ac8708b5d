package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/edgeflare/pgcrud/pkg/metrics"
)

// Metrics records request counts and latencies labeled by the matched route pattern, so that
// /users/1 and /users/2 share one series. The pattern is only known below the mux; add Metrics to
// a router group rather than the root router.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.StatusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
