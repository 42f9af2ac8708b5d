package nats

import (
	"context"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	var c Config
	require.NoError(t, events.DecodeConfig(map[string]any{
		"servers":        "nats://a:4222,nats://b:4222",
		"subject_prefix": "app",
		"tls":            map[string]any{"enabled": "true", "ca_file": "/ca.pem"},
	}, &c))
	c.setDefaults()

	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, c.Servers)
	assert.Equal(t, "app-stream", c.Stream)
	assert.True(t, c.TLS.Enabled)
	assert.Equal(t, "app.public.users.d", c.Subject(events.Change{Schema: "public", Table: "users", Op: events.OpDelete}))
	assert.Len(t, defaultOptions(c), 7)

	var d Config
	d.setDefaults()
	assert.Equal(t, []string{nats.DefaultURL}, d.Servers)
	assert.Equal(t, "pgcrud-stream", d.Stream)
}

func TestStreamConfigEqual(t *testing.T) {
	a := nats.StreamConfig{Name: "s", Subjects: []string{"x.>"}, Storage: nats.FileStorage, Replicas: 1}
	b := a
	assert.True(t, streamConfigEqual(a, b))
	b.Subjects = []string{"y.>"}
	assert.False(t, streamConfigEqual(a, b))
}

func TestPublishNotConnected(t *testing.T) {
	var s Sink
	assert.ErrorIs(t, s.Publish(context.Background(), events.Change{}), errConnNotInitialized)
	assert.NoError(t, s.Close())
}
