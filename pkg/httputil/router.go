package httputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router is the main structure for handling HTTP routing and middleware.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	prefix     string
	middleware []Middleware
	routes     *routeTable
	group      bool
	mu         sync.RWMutex
}

// routeTable is shared by a router and all of its groups.
type routeTable struct {
	mu       sync.Mutex
	patterns []string
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		server: &http.Server{},
		routes: &routeTable{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

// WithTLS enables HTTPS. A self-signed certificate is generated when certFile or keyFile is empty.
func WithTLS(certFile, keyFile string) RouterOptions {
	return func(r *Router) {
		if certFile == "" || keyFile == "" {
			certFile, keyFile = "./tls/tls.crt", "./tls/tls.key"
		}
		cert, err := LoadOrGenerateCert(certFile, keyFile)
		if err != nil {
			log.Fatalf("error loading TLS certificates: %v", err)
		}
		r.server.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
}

// Use adds one or more middleware to the router. At least one middleware must be provided.
// Middleware functions are applied in the order they are added.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a new sub-router with a specified prefix. Middleware of the root router wraps the
// whole mux; middleware added to a group wraps only the group's handlers and is inherited by
// nested groups.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := &Router{
		mux:    r.mux,
		server: r.server,
		prefix: r.prefix + prefix,
		routes: r.routes,
		group:  true,
	}
	if r.group {
		g.middleware = slices.Clone(r.middleware)
	}
	return g
}

// Prefix returns the path prefix of the router, eg /api/users for a nested group.
func (r *Router) Prefix() string { return r.prefix }

// Handle registers an HTTP handler function for a given method and pattern as introduced in
// [Routing Enhancements for Go 1.22](https://go.dev/blog/routing-enhancements)
// The handler `METHOD /pattern` on a route group with a /prefix resolves to `METHOD /prefix/pattern`.
// An empty pattern (`METHOD `) binds the group prefix itself.
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok || method == "" {
		log.Fatalf("invalid method pattern: %s", methodPattern)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	finalHandler := handler
	if r.group {
		finalHandler = Chain(handler, r.middleware...)
	}
	fullPattern := fmt.Sprintf("%s %s%s", method, r.prefix, pattern)

	r.mux.Handle(fullPattern, finalHandler)

	r.routes.mu.Lock()
	r.routes.patterns = append(r.routes.patterns, fullPattern)
	r.routes.mu.Unlock()
}

// Routes returns every pattern registered on the router and its groups, in registration order.
func (r *Router) Routes() []string {
	r.routes.mu.Lock()
	defer r.routes.mu.Unlock()
	return slices.Clone(r.routes.patterns)
}

// ServeHTTP dispatches the request through the router's middleware and mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.applyMiddleware().ServeHTTP(w, req)
}

// ListenAndServe starts the server, automatically choosing between HTTP and HTTPS based on TLS config.
func (r *Router) ListenAndServe(addr string) error {
	fmt.Print(colorGreen + asciiArt + colorReset)
	fmt.Printf("starting server on %s\n", addr)

	r.server.Addr = addr
	r.server.Handler = r.applyMiddleware()

	if r.server.TLSConfig != nil {
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	log.Println("shutting down server")
	return r.server.Shutdown(ctx)
}

// applyMiddleware applies middleware to the http.Handler and returns a new http.Handler.
func (r *Router) applyMiddleware() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Chain(r.mux, r.middleware...)
}

// Chain wraps h in middlewares. The first middleware is the outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
	asciiArt   = `
 _ __   __ _  ___ _ __ _   _  __| |
| '_ \ / _' |/ __| '__| | | |/ _' |
| |_) | (_| | (__| |  | |_| | (_| |
| .__/ \__, |\___|_|   \__,_|\__,_|
|_|    |___/

`
)
