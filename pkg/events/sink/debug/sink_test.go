package debug

import (
	"context"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	sink, err := events.NewSink(events.SinkDebug)
	require.NoError(t, err)
	require.NoError(t, sink.Connect(context.Background(), nil, zap.New(core)))

	err = sink.Publish(context.Background(), events.Change{
		ID: "1", Schema: "public", Table: "users", Kind: crud.UpsertOne, Op: events.OpCreate,
		Rows: []crud.Row{{"id": 1}},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "public.users.c", fields["subject"])
	assert.Equal(t, int64(1), fields["rows"])
}
