package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/pgcrud/pkg/config.Version=..."
var Version = "dev"

// EnvPrefix prefixes environment overrides, eg PGCRUD_SERVER_LISTEN_ADDR.
const EnvPrefix = "PGCRUD"

// DefaultPool names the pool built from postgres.conn_string.
const DefaultPool = "default"

// Config holds application-wide configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Postgres  PostgresConfig   `mapstructure:"postgres"`
	CRUD      CRUDConfig       `mapstructure:"crud"`
	Resources []ResourceConfig `mapstructure:"resources"`
	Events    EventsConfig     `mapstructure:"events"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// BaseURL prefixes every resource path, eg /api/v1.
	BaseURL string `mapstructure:"base_url"`
	// BasicAuth maps usernames to passwords. Empty disables authentication.
	BasicAuth       map[string]string `mapstructure:"basic_auth"`
	CORS            bool              `mapstructure:"cors"`
	TLS             TLSConfig         `mapstructure:"tls"`
	MaxBodyBytes    int64             `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration     `mapstructure:"shutdown_timeout"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type PostgresConfig struct {
	// ConnString, when set, adds a pool named "default".
	ConnString string       `mapstructure:"conn_string"`
	Pools      []PoolConfig `mapstructure:"pools"`
	// Schemas limits the schema cache. Empty loads every non-system schema.
	Schemas []string `mapstructure:"schemas"`
}

type PoolConfig struct {
	Name           string        `mapstructure:"name"`
	ConnString     string        `mapstructure:"conn_string"`
	MaxConns       int32         `mapstructure:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// CRUDConfig holds defaults applied to every resource.
type CRUDConfig struct {
	Autocommit bool `mapstructure:"autocommit"`
	// AsyncWorkers > 0 runs database calls on a worker pool of that size.
	AsyncWorkers int `mapstructure:"async_workers"`
}

// ResourceConfig exposes one table or view.
type ResourceConfig struct {
	Table  string `mapstructure:"table"`
	Schema string `mapstructure:"schema"`
	// Pool defaults to the active pool.
	Pool string `mapstructure:"pool"`
	// Path defaults to /<table> below the base url.
	Path          string      `mapstructure:"path"`
	Kinds         []crud.Kind `mapstructure:"kinds"`
	PrimaryKey    string      `mapstructure:"primary_key"`
	UniqueColumns []string    `mapstructure:"unique_columns"`
	Filterable    []string    `mapstructure:"filterable"`
	// ReadRoutes are GET-by-key paths served elsewhere that
	// post_redirect_get may link to.
	ReadRoutes   []string `mapstructure:"read_routes"`
	Autocommit   *bool    `mapstructure:"autocommit"`
	AsyncWorkers *int     `mapstructure:"async_workers"`
}

// Name returns schema.table.
func (r ResourceConfig) Name() string {
	return r.Schema + "." + r.Table
}

type EventsConfig struct {
	QueueSize      int                 `mapstructure:"queue_size"`
	MaxRetries     uint64              `mapstructure:"max_retries"`
	PublishTimeout time.Duration       `mapstructure:"publish_timeout"`
	Sinks          []events.SinkConfig `mapstructure:"sinks"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.cors", true)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("postgres.conn_string", "")
	v.SetDefault("crud.autocommit", true)
	v.SetDefault("crud.async_workers", 0)
	v.SetDefault("events.queue_size", 1024)
	v.SetDefault("events.max_retries", 5)
	v.SetDefault("events.publish_timeout", 10*time.Second)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config from file, environment and flags, in increasing order
// of precedence. Without cfgFile, pgcrud.yaml is looked up in
// $HOME/.config and the working directory.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcrud")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Postgres.ConnString != "" {
		c.Postgres.Pools = append([]PoolConfig{{Name: DefaultPool, ConnString: c.Postgres.ConnString}}, c.Postgres.Pools...)
	}
	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")
	for i := range c.Resources {
		r := &c.Resources[i]
		if r.Schema == "" {
			r.Schema = "public"
		}
		if r.Path == "" {
			r.Path = "/" + r.Table
		}
		if !strings.HasPrefix(r.Path, "/") {
			r.Path = "/" + r.Path
		}
		if r.Autocommit == nil {
			r.Autocommit = &c.CRUD.Autocommit
		}
		if r.AsyncWorkers == nil {
			r.AsyncWorkers = &c.CRUD.AsyncWorkers
		}
	}
}

// Validate checks references between sections.
func (c *Config) Validate() error {
	var errs []error

	pools := make(map[string]bool)
	for _, p := range c.Postgres.Pools {
		switch {
		case p.Name == "":
			errs = append(errs, errors.New("postgres.pools: name is required"))
		case pools[p.Name]:
			errs = append(errs, fmt.Errorf("postgres.pools: duplicate pool %q", p.Name))
		case p.ConnString == "":
			errs = append(errs, fmt.Errorf("postgres.pools: %s: conn_string is required", p.Name))
		}
		pools[p.Name] = true
	}

	paths := make(map[string]string)
	for i, r := range c.Resources {
		if r.Table == "" {
			errs = append(errs, fmt.Errorf("resources[%d]: table is required", i))
			continue
		}
		if r.Pool != "" && !pools[r.Pool] {
			errs = append(errs, fmt.Errorf("resources[%d]: %s: unknown pool %q", i, r.Name(), r.Pool))
		}
		if other, ok := paths[r.Path]; ok {
			errs = append(errs, fmt.Errorf("resources[%d]: %s: path %s already serves %s", i, r.Name(), r.Path, other))
		}
		paths[r.Path] = r.Name()
	}

	for i, s := range c.Events.Sinks {
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("events.sinks[%d]: type is required", i))
		}
	}
	return errors.Join(errs...)
}
