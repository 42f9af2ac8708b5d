package metrics

import (
	"cmp"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_http_requests_total",
			Help: "Total number of HTTP requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcrud_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_operations_total",
			Help: "Total number of CRUD operations by entity, kind and status",
		},
		[]string{"entity", "kind", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcrud_operation_duration_seconds",
			Help:    "Duration of CRUD operations including commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "kind"},
	)

	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_conflicts_total",
			Help: "Total number of unique constraint conflicts by entity and kind",
		},
		[]string{"entity", "kind"},
	)

	ReturnedEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_returned_entities_total",
			Help: "Total number of entities returned in response bodies",
		},
		[]string{"entity", "kind"},
	)

	PublishedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_published_events_total",
			Help: "Total number of change events published by sink",
		},
		[]string{"sink"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_publish_errors_total",
			Help: "Total number of publish errors by sink",
		},
		[]string{"sink"},
	)
)

// ObserveOperation records one handled CRUD request.
func ObserveOperation(_ context.Context, rec crud.Record) {
	kind := rec.Kind.String()
	Operations.WithLabelValues(rec.Entity, kind, strconv.Itoa(rec.Status)).Inc()
	OperationDuration.WithLabelValues(rec.Entity, kind).Observe(rec.Duration.Seconds())
	if rec.Status == http.StatusConflict {
		Conflicts.WithLabelValues(rec.Entity, kind).Inc()
	}
	if rec.Count > 0 {
		ReturnedEntities.WithLabelValues(rec.Entity, kind).Add(float64(rec.Count))
	}
}

// Observer reports CRUD requests to the operation metrics.
func Observer() crud.Observer { return crud.ObserverFunc(ObserveOperation) }

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given options
// The server gracefully shutdown when the provided context is canceled
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	// merge with defaults
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	// Increment wait group
	wg.Add(1)

	// Start server
	go func() {
		defer wg.Done()
		zap.L().Info("starting metrics server", zap.String("addr", effectiveOpts.Addr), zap.String("path", effectiveOpts.Path))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			zap.L().Error("metrics server", zap.Error(err))
		}
		close(serverClosed)
	}()

	// Monitor context cancellation in a separate goroutine
	go func() {
		<-ctx.Done()

		// Create a timeout context for shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("shutting down metrics server", zap.Error(err))
		}

		// Wait for server to close or timeout
		select {
		case <-serverClosed:
			zap.L().Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			zap.L().Warn("metrics server shutdown timed out")
		}
	}()
}
