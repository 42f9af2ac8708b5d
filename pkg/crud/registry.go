package crud

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router is the routing surface operations are mounted on. Both
// *http.ServeMux and *httputil.Router satisfy it.
type Router interface {
	Handle(pattern string, handler http.Handler)
}

// Route describes one mounted operation.
type Route struct {
	Kind   Kind
	Method string
	Path   string // eg /users or /users/{id}
}

func (r Route) String() string { return r.Method + " " + r.Path }

// Registry builds one handler per enabled operation kind of an Entity.
type Registry struct {
	entity       *Entity
	queries      QueryService
	sessions     SessionFactory
	executor     Executor
	autocommit   bool
	logger       *zap.Logger
	readRoutes   []string
	observers    []Observer
	maxBodyBytes int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithAsync runs every engine call on a TaskExecutor with the given number
// of workers instead of the request goroutine.
func WithAsync(workers int) Option {
	return func(r *Registry) {
		r.executor = NewTaskExecutor(workers)
	}
}

// WithExecutor sets the executor engine calls run on.
func WithExecutor(e Executor) Option {
	return func(r *Registry) {
		r.executor = e
	}
}

// WithAutocommit controls whether successful requests commit their unit of
// work. It is enabled by default; when disabled, the SessionFactory owns
// the transaction boundary.
func WithAutocommit(enabled bool) Option {
	return func(r *Registry) {
		r.autocommit = enabled
	}
}

// WithLogger sets the logger for operation and fault logs.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReadRoutes declares GET-by-key paths served elsewhere (eg
// "/users/{id}") that post_redirect_get may redirect to.
func WithReadRoutes(paths ...string) Option {
	return func(r *Registry) {
		r.readRoutes = append(r.readRoutes, paths...)
	}
}

// WithObserver adds observers notified after every request.
func WithObserver(obs ...Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, obs...)
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxBodyBytes = n
		}
	}
}

// NewRegistry validates entity and returns a Registry serving it.
func NewRegistry(entity *Entity, queries QueryService, sessions SessionFactory, opts ...Option) (*Registry, error) {
	if entity == nil {
		return nil, errors.New("crud: nil entity")
	}
	if queries == nil || sessions == nil {
		return nil, fmt.Errorf("crud: %s: query service and session factory are required", entity.Name())
	}
	if err := entity.Validate(); err != nil {
		return nil, fmt.Errorf("crud: %w", err)
	}

	r := &Registry{
		entity:       entity,
		queries:      queries,
		sessions:     sessions,
		executor:     BlockingExecutor{},
		autocommit:   true,
		logger:       zap.NewNop(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Entity returns the served entity.
func (r *Registry) Entity() *Entity { return r.entity }

// Close stops the registry's executor.
func (r *Registry) Close() { r.executor.Close() }

// Routes returns the routes Register mounts below prefix, in kind order.
func (r *Registry) Routes(prefix string) []Route {
	prefix = strings.TrimSuffix(prefix, "/")
	routes := make([]Route, 0, len(r.entity.Operations))
	for _, k := range r.entity.Kinds() {
		routes = append(routes, Route{Kind: k, Method: k.Method(), Path: r.path(prefix, k)})
	}
	return routes
}

func (r *Registry) path(prefix string, k Kind) string {
	if k.Singular() {
		return prefix + "/{" + r.entity.PrimaryKey + "}"
	}
	if prefix == "" {
		return "/"
	}
	return prefix
}

// Register mounts one handler per enabled kind on router. Collection kinds
// are bound to the router's prefix, singular kinds to <prefix>/{pk}. A
// router exposing Prefix() string (eg a group) reports its prefix; any
// other router is treated as mounted at the root.
func (r *Registry) Register(router Router) []Route {
	var prefix string
	if p, ok := router.(interface{ Prefix() string }); ok {
		prefix = strings.TrimSuffix(p.Prefix(), "/")
	}

	readRoutes := append([]string(nil), r.readRoutes...)
	if _, ok := r.entity.Operations[FindOne]; ok {
		readRoutes = append(readRoutes, r.path(prefix, FindOne))
	}
	interpreter := &Interpreter{
		PrimaryKey: r.entity.PrimaryKey,
		Linker:     NewLinker(r.entity.PrimaryKey, readRoutes...),
	}

	routes := r.Routes(prefix)
	for _, route := range routes {
		pattern := "/{" + r.entity.PrimaryKey + "}"
		if !route.Kind.Singular() {
			pattern = ""
			if prefix == "" {
				pattern = "/{$}"
			}
		}
		router.Handle(route.Method+" "+pattern, r.handler(route.Kind, r.entity.Operations[route.Kind], interpreter))
		r.logger.Debug("registered operation",
			zap.String("entity", r.entity.Name()),
			zap.Stringer("kind", route.Kind),
			zap.String("route", route.String()),
		)
	}
	return routes
}
