package events

import (
	"errors"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpOf(t *testing.T) {
	assert.Equal(t, OpCreate, OpOf(crud.UpsertMany))
	assert.Equal(t, OpCreate, OpOf(crud.PostRedirectGet))
	assert.Equal(t, OpUpdate, OpOf(crud.PatchOne))
	assert.Equal(t, OpUpdate, OpOf(crud.UpdateMany))
	assert.Equal(t, OpDelete, OpOf(crud.DeleteMany))
}

func TestFromRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  crud.Record
		ok   bool
		rows int
	}{
		{"read", crud.Record{Entity: "public.users", Kind: crud.FindMany, Committed: true, Body: []crud.Row{{"id": 1}}}, false, 0},
		{"not committed", crud.Record{Entity: "public.users", Kind: crud.UpsertOne, Body: crud.Row{"id": 1}}, false, 0},
		{"failed", crud.Record{Entity: "public.users", Kind: crud.UpsertOne, Committed: true, Err: errors.New("x")}, false, 0},
		{"nothing changed", crud.Record{Entity: "public.users", Kind: crud.DeleteMany, Committed: true, Body: []crud.Row{}}, false, 0},
		{"single row", crud.Record{Entity: "public.users", Kind: crud.PatchOne, Committed: true, Body: crud.Row{"id": 1}}, true, 1},
		{"many rows", crud.Record{Entity: "public.users", Kind: crud.DeleteMany, Committed: true, Body: []crud.Row{{"id": 1}, {"id": 2}}}, true, 2},
		{"redirect", crud.Record{Entity: "public.users", Kind: crud.PostRedirectGet, Committed: true, Location: "/users/1"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := FromRecord(tt.rec)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Len(t, c.Rows, tt.rows)
			assert.NotEmpty(t, c.ID)
			assert.Equal(t, "public", c.Schema)
			assert.Equal(t, "users", c.Table)
			assert.Equal(t, tt.rec.Location, c.Location)
		})
	}
}

func TestChangeSubject(t *testing.T) {
	c, ok := FromRecord(crud.Record{Entity: "orders", Kind: crud.UpsertOne, Committed: true, Body: crud.Row{"id": 1}})
	require.True(t, ok)
	assert.Equal(t, "public.orders.c", c.Subject())
}
