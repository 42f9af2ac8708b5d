package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu       sync.Mutex
	changes  []Change
	failures int
	closed   bool
}

func (s *recordingSink) Connect(context.Context, map[string]any, *zap.Logger) error { return nil }

func (s *recordingSink) Publish(_ context.Context, c Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("unavailable")
	}
	s.changes = append(s.changes, c)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) received() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Change(nil), s.changes...)
}

func testOptions(t *testing.T) PublisherOptions {
	return PublisherOptions{
		Logger:          zaptest.NewLogger(t),
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func committed(entity string, kind crud.Kind, body any) crud.Record {
	return crud.Record{Entity: entity, Kind: kind, Committed: true, Status: 200, Body: body}
}

func TestPublisherObserve(t *testing.T) {
	all := &recordingSink{}
	orders := &recordingSink{}
	p := NewPublisher(testOptions(t))
	p.Add("all", all)
	p.Add("orders", orders, "public.orders")
	assert.Equal(t, []string{"all", "orders"}, p.Sinks())

	ctx := httputil.WithRequestID(context.Background(), "req-7")
	p.Observe(ctx, committed("public.users", crud.UpsertOne, crud.Row{"id": 1}))
	p.Observe(ctx, committed("public.orders", crud.DeleteOne, crud.Row{"id": 2}))
	p.Observe(ctx, committed("public.users", crud.FindOne, crud.Row{"id": 1}))

	require.NoError(t, p.Close())

	got := all.received()
	require.Len(t, got, 2)
	assert.Equal(t, "public.users.c", got[0].Subject())
	assert.Equal(t, "req-7", got[0].RequestID)
	assert.Equal(t, "public.orders.d", got[1].Subject())

	require.Len(t, orders.received(), 1)
	assert.True(t, all.closed)
	assert.True(t, orders.closed)
}

func TestPublisherRetries(t *testing.T) {
	flaky := &recordingSink{failures: 2}
	p := NewPublisher(testOptions(t))
	p.Add("flaky", flaky)

	require.NoError(t, p.Enqueue(Change{ID: "1", Schema: "public", Table: "users", Op: OpUpdate}))
	require.NoError(t, p.Close())
	assert.Len(t, flaky.received(), 1)
}

func TestPublisherGivesUp(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	down := &recordingSink{failures: 100}
	opts := testOptions(t)
	opts.Logger = zap.New(core)
	opts.MaxRetries = 1

	p := NewPublisher(opts)
	p.Add("down", down)
	require.NoError(t, p.Enqueue(Change{ID: "1", Schema: "public", Table: "users", Op: OpUpdate}))
	require.NoError(t, p.Close())

	assert.Empty(t, down.received())
	assert.Equal(t, 98, down.failures)
	assert.Equal(t, 1, logs.FilterMessage("publish change").Len())
}

func TestPublisherClosed(t *testing.T) {
	p := NewPublisher(testOptions(t))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Enqueue(Change{}), ErrPublisherClosed)

	// observing after close only logs
	p.Observe(context.Background(), committed("public.users", crud.UpsertOne, crud.Row{"id": 1}))
}

func TestPublisherConnect(t *testing.T) {
	RegisterSink("test-connect", func() Sink { return &recordingSink{} })
	p := NewPublisher(testOptions(t))
	defer p.Close()

	require.NoError(t, p.Connect(context.Background(), SinkConfig{Type: "test-connect"}))
	assert.Equal(t, []string{"test-connect"}, p.Sinks())

	err := p.Connect(context.Background(), SinkConfig{Name: "x", Type: "missing"})
	assert.Error(t, err)
}
