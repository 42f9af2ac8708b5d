package pgx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolManager manages one or more named *pgxpool.Pool's. Resources pick a
// pool by name; the active pool serves resources that name none.
type PoolManager struct {
	pools  map[string]*pgxpool.Pool
	active string
	logger *zap.Logger
	mu     sync.RWMutex
}

// Pool represents a named connection configuration.
type Pool struct {
	Config     *pgxpool.Config // Takes precedence over ConnString
	Name       string
	ConnString string // Used if Config is nil
	MaxConns   int32
	// ConnectTimeout bounds the initial ping. Zero means the caller's context.
	ConnectTimeout time.Duration
}

var (
	ErrPoolNotFound      = errors.New("connection pool not found")
	ErrPoolAlreadyExists = errors.New("connection pool already exists")
	ErrNoActivePool      = errors.New("no active connection pool")
)

// NewPoolManager returns a new connection manager.
func NewPoolManager(logger ...*zap.Logger) *PoolManager {
	m := &PoolManager{pools: make(map[string]*pgxpool.Pool), logger: zap.NewNop()}
	if len(logger) > 0 && logger[0] != nil {
		m.logger = logger[0]
	}
	return m
}

// Add creates and adds a new connection pool. If `setActive=true` the pool is set as the active pool.
func (m *PoolManager) Add(ctx context.Context, cfg Pool, setActive ...bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[cfg.Name]; ok {
		return fmt.Errorf("pgx: %q: %w", cfg.Name, ErrPoolAlreadyExists)
	}

	pool, err := createPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pgx: %q: %w", cfg.Name, err)
	}
	m.pools[cfg.Name] = pool

	if (len(setActive) > 0 && setActive[0]) || m.active == "" {
		m.active = cfg.Name
	}
	m.logger.Info("connection pool added", zap.String("pool", cfg.Name), zap.Bool("active", m.active == cfg.Name))
	return nil
}

// Get returns a connection pool by name. An empty name returns the active pool.
func (m *PoolManager) Get(name string) (*pgxpool.Pool, error) {
	if name == "" {
		return m.Active()
	}
	m.mu.RLock()
	pool, ok := m.pools[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("pgx: %q: %w", name, ErrPoolNotFound)
	}
	return pool, nil
}

// Active returns the current active connection pool.
func (m *PoolManager) Active() (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return nil, fmt.Errorf("pgx: %w", ErrNoActivePool)
	}
	return m.pools[m.active], nil
}

// SetActive changes the active pool.
func (m *PoolManager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[name]; !ok {
		return fmt.Errorf("pgx: %q: %w", name, ErrPoolNotFound)
	}
	m.active = name
	return nil
}

// Sessions returns a crud.SessionFactory over the named pool.
func (m *PoolManager) Sessions(name string, opts ...SessionOption) (crud.SessionFactory, error) {
	pool, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return SessionFactory(pool, opts...), nil
}

// Remove closes and removes a connection pool.
func (m *PoolManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("pgx: %q: %w", name, ErrPoolNotFound)
	}

	pool.Close()
	delete(m.pools, name)

	if m.active == name {
		m.active = ""
		if names := m.names(); len(names) > 0 {
			m.active = names[0]
		}
	}
	return nil
}

// Close closes all connection pools.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.pools {
		p.Close()
		m.logger.Debug("connection pool closed", zap.String("pool", name))
	}
	m.pools = make(map[string]*pgxpool.Pool)
	m.active = ""
}

// List returns all pool names, sorted.
func (m *PoolManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names()
}

func (m *PoolManager) names() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func createPool(ctx context.Context, cfg Pool) (*pgxpool.Pool, error) {
	poolConfig := cfg.Config
	if poolConfig == nil {
		if cfg.ConnString == "" {
			return nil, errors.New("either Config or ConnString must be provided")
		}
		var err error
		if poolConfig, err = pgxpool.ParseConfig(cfg.ConnString); err != nil {
			return nil, fmt.Errorf("parse connection string: %w", err)
		}
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping connection: %w", err)
	}
	return pool, nil
}
