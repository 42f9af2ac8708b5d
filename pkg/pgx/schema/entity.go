package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/crud"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/google/jsonschema-go/jsonschema"
)

// DefaultKinds are the kinds generated when none are configured. upsert_many
// and post_redirect_get share the collection POST route with upsert_one and
// must be selected explicitly.
var DefaultKinds = []crud.Kind{
	crud.FindOne, crud.FindMany,
	crud.UpsertOne,
	crud.UpdateOne, crud.UpdateMany,
	crud.PatchOne, crud.PatchMany,
	crud.DeleteOne, crud.DeleteMany,
}

var ErrNotUnique = errors.New("columns do not form a unique constraint")

// EntityOptions selects how a table is exposed.
type EntityOptions struct {
	Kinds []crud.Kind
	// PrimaryKey overrides the discovered single-column primary key, eg for
	// views.
	PrimaryKey string
	// UniqueColumns is the upsert conflict target. It defaults to the
	// primary key.
	UniqueColumns []string
	// Filterable limits the columns accepted as query filters. Empty means
	// every column.
	Filterable []string
}

// Entity derives a crud entity descriptor whose JSON Schemas follow the
// table's column types:
//   - response: every column, all required, nullable columns admit null
//   - insert body: every column, required unless nullable or defaulted
//   - put body: every non-key column, required as for insert
//   - patch body: every non-key column, none required
//   - url param and delete response: the primary key
//   - query: the filterable columns as strings; find_many adds limit, offset and order
func (t Table) Entity(opts EntityOptions) (*crud.Entity, error) {
	pk := opts.PrimaryKey
	if pk == "" {
		if len(t.PrimaryKeys) != 1 {
			return nil, fmt.Errorf("%s: %w: %d primary key columns", t.FullName(), crud.ErrNoPrimaryKey, len(t.PrimaryKeys))
		}
		pk = t.PrimaryKeys[0]
	}
	pkCol, ok := t.Column(pk)
	if !ok {
		return nil, fmt.Errorf("%s: primary key %q: %w", t.FullName(), pk, pg.ErrUnknownColumn)
	}

	unique := opts.UniqueColumns
	if len(unique) == 0 {
		unique = []string{pk}
	} else if t.Type == TypeTable && !t.IsUnique(unique) {
		return nil, fmt.Errorf("%s: %v: %w", t.FullName(), unique, ErrNotUnique)
	}

	filterable := t.Columns
	if len(opts.Filterable) > 0 {
		filterable = nil
		for _, name := range opts.Filterable {
			col, ok := t.Column(name)
			if !ok {
				return nil, fmt.Errorf("%s: filter %q: %w", t.FullName(), name, pg.ErrUnknownColumn)
			}
			filterable = append(filterable, col)
		}
	}

	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}

	s := schemas{table: t, pk: pk, filterable: filterable}
	response, err := s.build(s.response())
	if err != nil {
		return nil, err
	}
	// the url param and the delete response are the key object
	key, err := s.build(&jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{pk: columnSchema(pkCol, false)},
		Required:   []string{pk},
	})
	if err != nil {
		return nil, err
	}
	filter, err := s.build(s.query(false))
	if err != nil {
		return nil, err
	}

	e := &crud.Entity{
		Schema:        t.Schema,
		Table:         t.Name,
		PrimaryKey:    pk,
		UniqueColumns: unique,
		Operations:    make(map[crud.Kind]crud.Binding, len(kinds)),
	}
	for _, k := range kinds {
		b := crud.Binding{Response: response}
		if k == crud.DeleteOne || k == crud.DeleteMany {
			b.Response = key
		}
		caps := k.Capabilities()
		if caps.URLParam {
			b.RequestURLParam = key
		}
		if caps.Query {
			b.RequestQuery = filter
			if k == crud.FindMany {
				if b.RequestQuery, err = s.build(s.query(true)); err != nil {
					return nil, err
				}
			}
		}
		if caps.Body {
			if b.RequestBody, err = s.build(s.body(k)); err != nil {
				return nil, err
			}
		}
		e.Operations[k] = b
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// QueryBuilder returns the statement builder of the table.
func (t Table) QueryBuilder(primaryKey string) *pg.QueryBuilder {
	return pg.NewQueryBuilder(t.Schema, t.Name, primaryKey, t.ColumnTypes())
}

type schemas struct {
	table      Table
	pk         string
	filterable []Column
}

func (s schemas) build(js *jsonschema.Schema) (*crud.Schema, error) {
	schema, err := crud.NewSchema(js)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.table.FullName(), err)
	}
	return schema, nil
}

func (s schemas) response() *jsonschema.Schema {
	js := &jsonschema.Schema{Type: "object", Properties: make(map[string]*jsonschema.Schema)}
	for _, col := range s.table.Columns {
		js.Properties[col.Name] = columnSchema(col, col.IsNullable)
		js.Required = append(js.Required, col.Name)
	}
	return js
}

func (s schemas) body(k crud.Kind) *jsonschema.Schema {
	insert := k == crud.UpsertOne || k == crud.UpsertMany || k == crud.PostRedirectGet
	required := insert || k == crud.UpdateOne || k == crud.UpdateMany

	js := &jsonschema.Schema{Type: "object", Properties: make(map[string]*jsonschema.Schema)}
	for _, col := range s.table.Columns {
		if !insert && col.Name == s.pk {
			continue
		}
		js.Properties[col.Name] = columnSchema(col, col.IsNullable)
		if required && !col.IsNullable && !col.HasDefault {
			js.Required = append(js.Required, col.Name)
		}
	}
	return js
}

func (s schemas) query(paging bool) *jsonschema.Schema {
	js := &jsonschema.Schema{Type: "object", Properties: make(map[string]*jsonschema.Schema)}
	for _, col := range s.filterable {
		// operator prefixed text, repeated parameters arrive as arrays
		js.Properties[col.Name] = &jsonschema.Schema{
			Types: []string{"string", "array"},
			Items: &jsonschema.Schema{Type: "string"},
		}
	}
	if paging {
		zero := 0.0
		js.Properties[crud.ParamLimit] = &jsonschema.Schema{Type: "integer", Minimum: &zero}
		js.Properties[crud.ParamOffset] = &jsonschema.Schema{Type: "integer", Minimum: &zero}
		js.Properties[crud.ParamOrder] = &jsonschema.Schema{Type: "string"}
	}
	return js
}

// columnSchema maps a PostgreSQL data type to a JSON Schema. Types without a
// stable JSON form are left unconstrained.
func columnSchema(col Column, nullable bool) *jsonschema.Schema {
	var typ, format string
	switch dt := col.DataType; {
	case dt == "smallint" || dt == "integer" || dt == "bigint":
		typ = "integer"
	case dt == "numeric" || dt == "real" || dt == "double precision":
		typ = "number"
	case dt == "boolean":
		typ = "boolean"
	case dt == "uuid":
		typ, format = "string", "uuid"
	case dt == "date":
		typ = "string"
	case strings.HasPrefix(dt, "timestamp"):
		typ, format = "string", "date-time"
	case dt == "text" || strings.HasPrefix(dt, "character"):
		typ = "string"
	case dt == "ARRAY":
		typ = "array"
	default:
		return &jsonschema.Schema{}
	}

	js := &jsonschema.Schema{Format: format}
	if nullable {
		js.Types = []string{typ, "null"}
	} else {
		js.Type = typ
	}
	return js
}
