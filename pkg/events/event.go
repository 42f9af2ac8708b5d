// Package events publishes change notifications for committed mutations to
// external sinks (NATS, Kafka, MQTT, webhooks). Sinks register themselves by
// name from their own packages, eg
//
//	import _ "github.com/edgeflare/pgcrud/pkg/events/sink/nats"
package events

import (
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/google/uuid"
)

// Op is the kind of change, following debezium's op codes.
type Op string

const (
	OpCreate Op = "c"
	OpUpdate Op = "u"
	OpDelete Op = "d"
)

// OpOf maps a mutating operation kind to its change op.
func OpOf(k crud.Kind) Op {
	switch k {
	case crud.UpsertOne, crud.UpsertMany, crud.PostRedirectGet:
		return OpCreate
	case crud.DeleteOne, crud.DeleteMany:
		return OpDelete
	}
	return OpUpdate
}

// Change describes one committed mutation.
type Change struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"ts"`
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
	Kind   crud.Kind `json:"kind"`
	Op     Op        `json:"op"`
	// Rows are the returned rows; for deletes, the key objects.
	Rows []crud.Row `json:"rows,omitempty"`
	// Location is the read route of a post-redirect-get insert.
	Location  string `json:"location,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Subject returns schema.table.op, the dotted routing key most sinks use
// below their prefix.
func (c Change) Subject() string {
	return c.Schema + "." + c.Table + "." + string(c.Op)
}

// FromRecord builds a Change from a handled request. ok is false unless the
// record is a committed mutation that changed at least one row.
func FromRecord(rec crud.Record) (c Change, ok bool) {
	if !rec.Committed || rec.Err != nil || !rec.Kind.Mutating() {
		return Change{}, false
	}

	schema, table, found := strings.Cut(rec.Entity, ".")
	if !found {
		schema, table = "public", rec.Entity
	}

	c = Change{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Schema:   schema,
		Table:    table,
		Kind:     rec.Kind,
		Op:       OpOf(rec.Kind),
		Location: rec.Location,
	}
	switch body := rec.Body.(type) {
	case crud.Row:
		c.Rows = []crud.Row{body}
	case []crud.Row:
		c.Rows = body
	}
	if len(c.Rows) == 0 && c.Location == "" {
		return Change{}, false
	}
	return c, true
}
