// Package schema caches PostgreSQL table metadata (columns, primary and
// unique keys) and derives crud entity descriptors from it. The cache is
// reloaded when a "reload schema" notification arrives on the pgcrud channel.
package schema

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// Following PostgREST's notification convention
	// https://docs.postgrest.org/en/stable/references/schema_cache.html
	ReloadChannel = "pgcrud"
	ReloadPayload = "reload schema"
)

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

type Table struct {
	Schema      string    `json:"schema"`
	Name        string    `json:"name"`
	Type        TableType `json:"type"`
	Columns     []Column  `json:"columns"`
	PrimaryKeys []string  `json:"primary_keys"`
	// UniqueKeys lists the column sets of every primary key and unique
	// constraint, ordered by constraint name.
	UniqueKeys [][]string `json:"unique_keys,omitempty"`
}

type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	HasDefault   bool   `json:"has_default"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// FullName returns schema.name.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnTypes maps column names to data types.
func (t *Table) ColumnTypes() map[string]string {
	types := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		types[c.Name] = c.DataType
	}
	return types
}

// IsUnique reports whether columns, in any order, form a primary key or
// unique constraint.
func (t *Table) IsUnique(columns []string) bool {
	want := slices.Sorted(slices.Values(columns))
	for _, key := range t.UniqueKeys {
		if slices.Equal(want, slices.Sorted(slices.Values(key))) {
			return true
		}
	}
	return false
}

// Cache holds the tables of the configured schemas, or of every non-system
// schema when none is configured.
type Cache struct {
	pool    *pgxpool.Pool
	conn    *pgx.Conn
	schemas []string
	tables  map[string]Table // key: schema_name.table_name
	watch   chan map[string]Table
	cancel  context.CancelFunc
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewCache returns a cache loading from pool. Call Init before use.
func NewCache(pool *pgxpool.Pool, logger *zap.Logger, schemas ...string) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		pool:    pool,
		schemas: schemas,
		tables:  make(map[string]Table),
		watch:   make(chan map[string]Table, 1),
		logger:  logger,
	}
}

// Init loads the tables and starts listening for reload notifications.
func (c *Cache) Init(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.reload(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial load: %w", err)
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("pool.Acquire: %w", err)
	}
	c.conn = conn.Hijack()

	if _, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{ReloadChannel}.Sanitize()); err != nil {
		cancel()
		return fmt.Errorf("listen: %w", err)
	}

	go c.handleUpdates(ctx)
	return nil
}

func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close(context.Background())
	}
}

// Watch delivers a snapshot after every reload. Only the latest pending
// snapshot is kept.
func (c *Cache) Watch() <-chan map[string]Table {
	return c.watch
}

// Table returns a cached table by schema and name.
func (c *Cache) Table(schema, name string) (Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[schema+"."+name]
	return t, ok
}

func (c *Cache) Snapshot() map[string]Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.tables)
}

func (c *Cache) handleUpdates(ctx context.Context) {
	for {
		notification, err := c.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("schema notification", zap.Error(err))
			return
		}
		if notification.Payload != ReloadPayload {
			continue
		}
		if err := c.reload(ctx); err != nil {
			c.logger.Error("schema reload", zap.Error(err))
			continue
		}
		c.logger.Info("schema reloaded", zap.Int("tables", len(c.Snapshot())))
	}
}

func (c *Cache) reload(ctx context.Context) error {
	tables, err := Load(ctx, c.pool, c.schemas...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()

	snap := maps.Clone(tables)
	select {
	case c.watch <- snap:
	default:
		// replace the unconsumed snapshot
		select {
		case <-c.watch:
		default:
		}
		c.watch <- snap
	}
	return nil
}

// Load reads the tables of schemas, or of every non-system schema when none
// is given.
func Load(ctx context.Context, conn pg.Conn, schemas ...string) (map[string]Table, error) {
	if len(schemas) == 0 {
		var err error
		if schemas, err = querySchemas(ctx, conn); err != nil {
			return nil, fmt.Errorf("query schemas: %w", err)
		}
	}

	tables := make(map[string]Table)
	for _, schema := range schemas {
		if isSystem(schema) {
			continue
		}
		schemaTables, err := loadSchema(ctx, conn, schema)
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", schema, err)
		}
		maps.Copy(tables, schemaTables)
	}
	return tables, nil
}

func loadSchema(ctx context.Context, conn pg.Conn, schema string) (map[string]Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_schema, table_name, 'TABLE'::text AS table_type
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		UNION ALL
		SELECT table_schema, table_name, 'VIEW'::text AS table_type
		FROM information_schema.views
		WHERE table_schema = $1
		UNION ALL
		SELECT schemaname, matviewname, 'MATERIALIZED VIEW'::text AS table_type
		FROM pg_matviews
		WHERE schemaname = $1
		ORDER BY 1, 2`, schema)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Table, error) {
		var t Table
		var tableType string
		err := row.Scan(&t.Schema, &t.Name, &tableType)
		t.Type = TableType(tableType)
		return t, err
	})
	if err != nil {
		return nil, err
	}

	tables := make(map[string]Table, len(list))
	for _, t := range list {
		if t.Columns, t.PrimaryKeys, err = queryColumns(ctx, conn, t.Schema, t.Name); err != nil {
			return nil, fmt.Errorf("query columns %s: %w", t.FullName(), err)
		}
		if t.Type == TypeTable {
			if t.UniqueKeys, err = queryUniqueKeys(ctx, conn, t.Schema, t.Name); err != nil {
				return nil, fmt.Errorf("query unique keys %s: %w", t.FullName(), err)
			}
		}
		tables[t.FullName()] = t
	}
	return tables, nil
}

func queryColumns(ctx context.Context, conn pg.Conn, schema, table string) ([]Column, []string, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			c.column_default IS NOT NULL OR c.is_identity = 'YES' OR c.is_generated = 'ALWAYS',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, nil, err
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Column, error) {
		var col Column
		err := row.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.HasDefault, &col.IsPrimaryKey)
		return col, err
	})
	if err != nil {
		return nil, nil, err
	}

	var pkeys []string
	for _, col := range cols {
		if col.IsPrimaryKey {
			pkeys = append(pkeys, col.Name)
		}
	}
	return cols, pkeys, nil
}

func queryUniqueKeys(ctx context.Context, conn pg.Conn, schema, table string) ([][]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT array_agg(kcu.column_name::text ORDER BY kcu.ordinal_position)
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
			AND tc.table_schema = $1
			AND tc.table_name = $2
		GROUP BY tc.constraint_name
		ORDER BY tc.constraint_name`, schema, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[[]string])
}

func querySchemas(ctx context.Context, conn pg.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func isSystem(schema string) bool {
	return schema == "information_schema" || schema == "pg_catalog" ||
		strings.HasPrefix(schema, "pg_toast") || strings.HasPrefix(schema, "pg_temp_")
}
