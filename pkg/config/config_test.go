package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
server:
  base_url: /api/
  basic_auth:
    admin: secret
postgres:
  conn_string: postgres://localhost/app
  pools:
    - name: reporting
      conn_string: postgres://localhost/reporting
      max_conns: 4
      connect_timeout: 3s
crud:
  async_workers: 8
resources:
  - table: users
    kinds: [find_one, find_many, post_redirect_get]
    unique_columns: [email]
  - table: events
    schema: audit
    pool: reporting
    path: audit-events
    autocommit: false
    async_workers: 0
events:
  sinks:
    - name: bus
      type: nats
      tables: [public.users]
      config:
        servers: nats://localhost:4222
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgcrud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "/api", cfg.Server.BaseURL)
	assert.Equal(t, map[string]string{"admin": "secret"}, cfg.Server.BasicAuth)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	require.Len(t, cfg.Postgres.Pools, 2)
	assert.Equal(t, DefaultPool, cfg.Postgres.Pools[0].Name)
	assert.Equal(t, int32(4), cfg.Postgres.Pools[1].MaxConns)
	assert.Equal(t, 3*time.Second, cfg.Postgres.Pools[1].ConnectTimeout)

	require.Len(t, cfg.Resources, 2)
	users := cfg.Resources[0]
	assert.Equal(t, "public.users", users.Name())
	assert.Equal(t, "/users", users.Path)
	assert.Equal(t, []crud.Kind{crud.FindOne, crud.FindMany, crud.PostRedirectGet}, users.Kinds)
	assert.True(t, *users.Autocommit)
	assert.Equal(t, 8, *users.AsyncWorkers)

	audit := cfg.Resources[1]
	assert.Equal(t, "/audit-events", audit.Path)
	assert.False(t, *audit.Autocommit)
	assert.Equal(t, 0, *audit.AsyncWorkers)

	require.Len(t, cfg.Events.Sinks, 1)
	assert.Equal(t, "nats", cfg.Events.Sinks[0].Type)
	assert.Equal(t, []string{"public.users"}, cfg.Events.Sinks[0].Tables)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.Sinks[0].Config["servers"])
	assert.Equal(t, 1024, cfg.Events.QueueSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PGCRUD_SERVER_LISTEN_ADDR", ":9000")
	t.Setenv("PGCRUD_METRICS_ENABLED", "true")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server.base_url", "", "")
	require.NoError(t, flags.Parse([]string{"--server.base_url=/v2"}))

	cfg, err := Load(writeConfig(t, testConfig), flags)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "/v2", cfg.Server.BaseURL)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"unknown kind", "resources:\n  - table: users\n    kinds: [find_all]\n", "unknown operation kind"},
		{"unknown pool", "resources:\n  - table: users\n    pool: nope\n", `unknown pool "nope"`},
		{"missing table", "resources:\n  - schema: public\n", "table is required"},
		{"duplicate path", "resources:\n  - table: users\n  - table: users\n    schema: other\n", "already serves public.users"},
		{"sink without type", "events:\n  sinks:\n    - name: x\n", "type is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
