package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublish(t *testing.T) {
	var got events.Change
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		header = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := events.NewSink(events.SinkWebhook)
	require.NoError(t, err)
	require.NoError(t, sink.Connect(context.Background(), map[string]any{
		"endpoints": []any{map[string]any{"url": srv.URL, "method": "PUT", "headers": map[string]any{"X-Env": "test"}}},
		"auth":      map[string]any{"type": "basic", "username": "u", "password": "p"},
		"timeout":   "2s",
	}, zaptest.NewLogger(t)))
	defer sink.Close()

	change := events.Change{ID: "e1", Schema: "public", Table: "users", Kind: crud.UpsertOne, Op: events.OpCreate,
		Rows: []crud.Row{{"id": 1.0}}, RequestID: "req-1"}
	require.NoError(t, sink.Publish(context.Background(), change))

	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, events.OpCreate, got.Op)
	assert.Equal(t, "test", header.Get("X-Env"))
	assert.Equal(t, "public.users.c", header.Get("X-Pgcrud-Subject"))
	assert.Equal(t, "req-1", header.Get("X-Request-Id"))
	user, pass, ok := (&http.Request{Header: header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}

func TestPublishFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := &Sink{}
	require.NoError(t, sink.Connect(context.Background(), map[string]any{
		"endpoints": []any{map[string]any{"url": srv.URL}},
	}, zaptest.NewLogger(t)))

	err := sink.Publish(context.Background(), events.Change{ID: "e1", Schema: "public", Table: "users", Op: events.OpCreate})
	assert.ErrorContains(t, err, "unexpected status code: 502")
}

func TestConnectValidation(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		errMsg string
	}{
		{"no endpoints", map[string]any{}, "no endpoints configured"},
		{"bearer without token", map[string]any{
			"endpoints": []any{map[string]any{"url": "http://x"}},
			"auth":      map[string]any{"type": "bearer"},
		}, "requires a token"},
		{"unknown auth", map[string]any{
			"endpoints": []any{map[string]any{"url": "http://x"}},
			"auth":      map[string]any{"type": "oauth2"},
		}, "unsupported auth type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Sink{}).Connect(context.Background(), tt.config, nil)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
