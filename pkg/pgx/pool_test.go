package pgx

import (
	"context"
	"sync"
	"testing"

	"github.com/edgeflare/pgcrud/internal/testutil/pgtest"
	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolManagerEmpty(t *testing.T) {
	pm := NewPoolManager()
	assert.Empty(t, pm.List())

	_, err := pm.Active()
	assert.ErrorIs(t, err, ErrNoActivePool)
	_, err = pm.Get("")
	assert.ErrorIs(t, err, ErrNoActivePool)
	_, err = pm.Get("nonexistent")
	assert.ErrorIs(t, err, ErrPoolNotFound)
	_, err = pm.Sessions("nonexistent")
	assert.ErrorIs(t, err, ErrPoolNotFound)
	assert.ErrorIs(t, pm.SetActive("nonexistent"), ErrPoolNotFound)
	assert.ErrorIs(t, pm.Remove("nonexistent"), ErrPoolNotFound)

	err = pm.Add(context.Background(), Pool{Name: "empty"})
	assert.ErrorContains(t, err, "either Config or ConnString must be provided")
	assert.Empty(t, pm.List())
}

func TestPoolManager(t *testing.T) {
	ctx := context.Background()
	connString := pgtest.ConnString(t)

	pm := NewPoolManager()
	t.Cleanup(pm.Close)

	require.NoError(t, pm.Add(ctx, Pool{Name: "primary", ConnString: connString}))
	poolConfig, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)
	require.NoError(t, pm.Add(ctx, Pool{Name: "secondary", Config: poolConfig, MaxConns: 2}))
	assert.ErrorIs(t, pm.Add(ctx, Pool{Name: "primary", ConnString: connString}), ErrPoolAlreadyExists)
	assert.Equal(t, []string{"primary", "secondary"}, pm.List())

	active, err := pm.Active()
	require.NoError(t, err)
	primary, err := pm.Get("primary")
	require.NoError(t, err)
	assert.Same(t, primary, active)

	require.NoError(t, pm.SetActive("secondary"))
	secondary, err := pm.Get("")
	require.NoError(t, err)
	assert.Equal(t, int32(2), secondary.Config().MaxConns)

	sessions, err := pm.Sessions("")
	require.NoError(t, err)
	s, err := sessions(ctx)
	require.NoError(t, err)
	out, err := s.Execute(ctx, crud.Statement{SQL: "SELECT 1 AS one"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), out.Rows[0]["one"])
	s.Release()

	require.NoError(t, pm.Remove("secondary"))
	active, err = pm.Active()
	require.NoError(t, err)
	assert.Same(t, primary, active)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if pool, err := pm.Get("primary"); err == nil {
				_ = pool.Ping(ctx)
			}
		}()
		go func() {
			defer wg.Done()
			_ = pm.SetActive("primary")
		}()
	}
	wg.Wait()

	pm.Close()
	assert.Empty(t, pm.List())
	_, err = pm.Active()
	assert.Error(t, err)
}
