package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/pgx/schema"
	"go.uber.org/zap"
)

// OpenAPIPath serves the document of the mounted operations below the base url.
const OpenAPIPath = "/openapi.json"

// SessionProvider returns the session factory of a named pool; the empty
// name selects the active pool. *pgx.PoolManager satisfies it.
type SessionProvider interface {
	Sessions(pool string, opts ...pg.SessionOption) (crud.SessionFactory, error)
}

// Server serves the generated CRUD operations of the configured resources.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	router     *httputil.Router
	registries []*crud.Registry
	routes     []crud.Route
	openapi    *OpenAPIGenerator

	// owned by NewServer
	pools     *pg.PoolManager
	cache     *schema.Cache
	publisher *events.Publisher
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// New mounts one registry per configured resource. tables must hold every
// resource's table by schema.table name.
func New(cfg *config.Config, tables map[string]schema.Table, sessions SessionProvider, logger *zap.Logger, observers ...crud.Observer) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		openapi: NewOpenAPIGenerator(OpenAPIInfo{Title: "pgcrud", Version: config.Version}, len(cfg.Server.BasicAuth) > 0),
	}

	var routerOpts []httputil.RouterOptions
	if cfg.Server.TLS.Enabled {
		routerOpts = append(routerOpts, httputil.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	s.router = httputil.NewRouter(routerOpts...)
	s.router.Use(mw.RequestID, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}))
	if cfg.Server.CORS {
		s.router.Use(mw.CORSWithOptions(nil))
	}

	api := s.router.Group(cfg.Server.BaseURL)
	if len(cfg.Server.BasicAuth) > 0 {
		api.Use(mw.VerifyBasicAuth(mw.BasicAuthCreds(cfg.Server.BasicAuth)))
	}
	api.Use(mw.Metrics)

	for _, res := range cfg.Resources {
		if err := s.mount(api, res, tables, sessions, observers); err != nil {
			s.closeRegistries()
			return nil, err
		}
	}

	api.Handle("GET "+OpenAPIPath, s.openapi)
	s.router.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.Text(w, http.StatusOK, "ok")
	}))
	return s, nil
}

func (s *Server) mount(api *httputil.Router, res config.ResourceConfig, tables map[string]schema.Table, sessions SessionProvider, observers []crud.Observer) error {
	table, ok := tables[res.Name()]
	if !ok {
		return fmt.Errorf("resource %s: table not found", res.Name())
	}

	entity, err := table.Entity(schema.EntityOptions{
		Kinds:         res.Kinds,
		PrimaryKey:    res.PrimaryKey,
		UniqueColumns: res.UniqueColumns,
		Filterable:    res.Filterable,
	})
	if err != nil {
		return fmt.Errorf("resource %s: %w", res.Name(), err)
	}

	var sessionOpts []pg.SessionOption
	if res.Autocommit != nil && !*res.Autocommit {
		sessionOpts = append(sessionOpts, pg.CommitOnRelease())
	}
	factory, err := sessions.Sessions(res.Pool, sessionOpts...)
	if err != nil {
		return fmt.Errorf("resource %s: %w", res.Name(), err)
	}

	opts := []crud.Option{
		crud.WithLogger(s.logger.With(zap.String("entity", entity.Name()))),
		crud.WithObserver(observers...),
		crud.WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes),
		crud.WithReadRoutes(res.ReadRoutes...),
	}
	if res.Autocommit != nil {
		opts = append(opts, crud.WithAutocommit(*res.Autocommit))
	}
	if res.AsyncWorkers != nil && *res.AsyncWorkers > 0 {
		opts = append(opts, crud.WithAsync(*res.AsyncWorkers))
	}

	registry, err := crud.NewRegistry(entity, table.QueryBuilder(entity.PrimaryKey), factory, opts...)
	if err != nil {
		return fmt.Errorf("resource %s: %w", res.Name(), err)
	}
	routes := registry.Register(api.Group(res.Path))

	s.registries = append(s.registries, registry)
	s.routes = append(s.routes, routes...)
	s.openapi.Add(entity, routes)
	s.logger.Info("resource mounted",
		zap.String("entity", entity.Name()),
		zap.Int("operations", len(routes)),
		zap.Bool("autocommit", res.Autocommit == nil || *res.Autocommit),
	)
	return nil
}

// NewServer connects the configured pools, loads the schema cache and the
// event sinks, and mounts every resource.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (s *Server, err error) {
	if len(cfg.Postgres.Pools) == 0 {
		return nil, errors.New("no postgres connection configured")
	}

	pools := pg.NewPoolManager(logger)
	defer func() {
		if err != nil {
			pools.Close()
		}
	}()
	for i, p := range cfg.Postgres.Pools {
		err := pools.Add(ctx, pg.Pool{
			Name:           p.Name,
			ConnString:     p.ConnString,
			MaxConns:       p.MaxConns,
			ConnectTimeout: p.ConnectTimeout,
		}, i == 0)
		if err != nil {
			return nil, err
		}
	}

	active, err := pools.Active()
	if err != nil {
		return nil, err
	}
	cache := schema.NewCache(active, logger, cfg.Postgres.Schemas...)
	if err := cache.Init(ctx); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	tables := cache.Snapshot()
	// resources on other pools are described by their own catalog
	for _, name := range otherPools(cfg) {
		pool, err := pools.Get(name)
		if err != nil {
			cache.Close()
			return nil, err
		}
		extra, err := schema.Load(ctx, pool, cfg.Postgres.Schemas...)
		if err != nil {
			cache.Close()
			return nil, fmt.Errorf("load schema of pool %s: %w", name, err)
		}
		for k, t := range extra {
			tables[k] = t
		}
	}

	publisher := events.NewPublisher(events.PublisherOptions{
		Logger:         logger.Named("events"),
		QueueSize:      cfg.Events.QueueSize,
		MaxRetries:     cfg.Events.MaxRetries,
		PublishTimeout: cfg.Events.PublishTimeout,
	})
	for _, sink := range cfg.Events.Sinks {
		if err := publisher.Connect(ctx, sink); err != nil {
			publisher.Close()
			cache.Close()
			return nil, err
		}
	}

	s, err = New(cfg, tables, pools, logger, metrics.Observer(), publisher)
	if err != nil {
		publisher.Close()
		cache.Close()
		return nil, err
	}
	s.pools, s.cache, s.publisher = pools, cache, publisher

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchSchema(watchCtx, tables)
	}()

	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(watchCtx, &s.wg, &metrics.PromServerOpts{
			Addr: cfg.Metrics.Addr,
			Path: cfg.Metrics.Path,
		})
	}
	return s, nil
}

func otherPools(cfg *config.Config) []string {
	active := cfg.Postgres.Pools[0].Name
	var names []string
	for _, r := range cfg.Resources {
		if r.Pool != "" && r.Pool != active && !slices.Contains(names, r.Pool) {
			names = append(names, r.Pool)
		}
	}
	return names
}

// watchSchema reports reloads that change a served table. Operations keep
// the descriptors they were built with until restart.
func (s *Server) watchSchema(ctx context.Context, served map[string]schema.Table) {
	for {
		select {
		case <-ctx.Done():
			return
		case tables, ok := <-s.cache.Watch():
			if !ok {
				return
			}
			for _, res := range s.cfg.Resources {
				before, ok := served[res.Name()]
				if !ok {
					continue
				}
				after, ok := tables[res.Name()]
				switch {
				case !ok:
					s.logger.Warn("served table dropped", zap.String("entity", res.Name()))
				case !slices.Equal(before.Columns, after.Columns):
					s.logger.Warn("served table changed, restart to apply", zap.String("entity", res.Name()))
				}
			}
		}
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.router }

// Routes returns the mounted operations in mount order.
func (s *Server) Routes() []crud.Route { return slices.Clone(s.routes) }

// OpenAPI returns the generator serving OpenAPIPath.
func (s *Server) OpenAPI() *OpenAPIGenerator { return s.openapi }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	return s.router.ListenAndServe(s.cfg.Server.ListenAddr)
}

// Shutdown stops the HTTP server, drains the event queue and closes the
// database pools.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.router.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.closeRegistries()
	if s.cancel != nil {
		s.cancel()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}
	s.wg.Wait()
	if s.pools != nil {
		s.pools.Close()
	}
	return errors.Join(errs...)
}

func (s *Server) closeRegistries() {
	for _, r := range s.registries {
		r.Close()
	}
	s.registries = nil
}
