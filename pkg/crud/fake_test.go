package crud

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// memStore is an in-memory users table keyed by integer id, with id unique.
// It implements QueryService and hands out transactional sessions.
type memStore struct {
	mu     sync.Mutex
	rows   map[int64]Row
	nextID int64

	commits   int
	rollbacks int
	releases  int
	expires   int

	// failWith, when set, is returned by Execute.
	failWith error
}

func newMemStore(rows ...Row) *memStore {
	s := &memStore{rows: make(map[int64]Row), nextID: 1}
	for _, row := range rows {
		id := row["id"].(int64)
		s.rows[id] = maps.Clone(row)
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return s
}

func (s *memStore) Build(kind Kind, args Args) (Statement, error) {
	switch kind {
	case UpdateOne, UpdateMany, PatchOne, PatchMany:
		if len(args.Update) == 0 {
			return Statement{}, errors.New("nothing to update")
		}
	}
	return Statement{SQL: kind.String(), Args: []any{kind, args}}, nil
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) Get(id int64) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	return maps.Clone(row), ok
}

func (s *memStore) Sessions(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := make(map[int64]Row, len(s.rows))
	for id, row := range s.rows {
		work[id] = maps.Clone(row)
	}
	return &memSession{store: s, work: work, nextID: s.nextID}, nil
}

type memSession struct {
	store    *memStore
	work     map[int64]Row
	nextID   int64
	released bool
}

func (m *memSession) Execute(ctx context.Context, stmt Statement) (Outcome, error) {
	if m.store.failWith != nil {
		return Outcome{}, m.store.failWith
	}
	kind := stmt.Args[0].(Kind)
	args := stmt.Args[1].(Args)

	switch kind {
	case FindOne:
		row, ok := m.lookup(args)
		if !ok {
			return Outcome{}, nil
		}
		return Outcome{Rows: []Row{maps.Clone(row)}, RowsAffected: 1}, nil

	case FindMany:
		rows := m.match(args.Filter)
		if args.Offset > 0 {
			rows = rows[min(args.Offset, len(rows)):]
		}
		if args.Limit > 0 {
			rows = rows[:min(args.Limit, len(rows))]
		}
		return Outcome{Rows: rows, RowsAffected: int64(len(rows))}, nil

	case UpsertOne, UpsertMany, PostRedirectGet:
		var out []Row
		for _, values := range args.Values {
			row := maps.Clone(values)
			id, ok := row["id"].(int64)
			if !ok {
				id = m.nextID
				row["id"] = id
			}
			if existing, dup := m.work[id]; dup {
				if args.OnConflict == nil {
					return Outcome{}, &UniqueViolationError{Constraint: "users_pkey", Table: "users"}
				}
				for _, col := range args.OnConflict.UpdateColumns {
					existing[col] = row[col]
				}
				out = append(out, maps.Clone(existing))
				continue
			}
			m.work[id] = row
			if id >= m.nextID {
				m.nextID = id + 1
			}
			out = append(out, maps.Clone(row))
		}
		return Outcome{Rows: out, RowsAffected: int64(len(out))}, nil

	case UpdateOne, PatchOne:
		row, ok := m.lookup(args)
		if !ok {
			return Outcome{}, nil
		}
		maps.Copy(row, args.Update)
		return Outcome{Rows: []Row{maps.Clone(row)}, RowsAffected: 1}, nil

	case UpdateMany, PatchMany:
		rows := m.match(args.Filter)
		for i, row := range rows {
			maps.Copy(m.work[row["id"].(int64)], args.Update)
			rows[i] = maps.Clone(m.work[row["id"].(int64)])
		}
		return Outcome{Rows: rows, RowsAffected: int64(len(rows))}, nil

	case DeleteOne:
		row, ok := m.lookup(args)
		if !ok {
			return Outcome{}, nil
		}
		delete(m.work, row["id"].(int64))
		return Outcome{Rows: []Row{{"id": row["id"]}}, RowsAffected: 1}, nil

	case DeleteMany:
		rows := m.match(args.Filter)
		keys := make([]Row, len(rows))
		for i, row := range rows {
			delete(m.work, row["id"].(int64))
			keys[i] = Row{"id": row["id"]}
		}
		return Outcome{Rows: keys, RowsAffected: int64(len(keys))}, nil
	}
	return Outcome{}, fmt.Errorf("unsupported kind %s", kind)
}

func (m *memSession) lookup(args Args) (Row, bool) {
	id, ok := args.Extra["id"].(int64)
	if !ok {
		return nil, false
	}
	row, ok := m.work[id]
	if !ok {
		return nil, false
	}
	if name, ok := args.Filter["name"]; ok && row["name"] != name {
		return nil, false
	}
	return row, true
}

func (m *memSession) match(filter map[string]any) []Row {
	ids := slices.Sorted(maps.Keys(m.work))
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		row := m.work[id]
		if name, ok := filter["name"]; ok && row["name"] != name {
			continue
		}
		rows = append(rows, maps.Clone(row))
	}
	return rows
}

func (m *memSession) Expire() { m.store.expires++ }

func (m *memSession) Commit(ctx context.Context) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.rows = m.work
	m.store.nextID = m.nextID
	m.work = maps.Clone(m.work)
	m.store.commits++
	return nil
}

func (m *memSession) Rollback(ctx context.Context) error {
	m.store.rollbacks++
	return nil
}

func (m *memSession) Release() {
	if m.released {
		panic("session released twice")
	}
	m.released = true
	m.store.releases++
}

var (
	userSchema = MustSchema(&jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"id":   {Type: "integer"},
			"name": {Type: "string"},
		},
		Required: []string{"id", "name"},
	})
	userBodySchema = MustSchema(&jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"id":   {Type: "integer"},
			"name": {Type: "string"},
		},
	})
	userKeySchema = MustSchema(&jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"id": {Type: "integer"},
		},
		Required: []string{"id"},
	})
	userFilterSchema = MustSchema(&jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name": {Type: "string"},
		},
	})
	userListSchema = MustSchema(&jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":   {Type: "string"},
			"limit":  {Type: "integer"},
			"offset": {Type: "integer"},
			"order":  {Type: "string"},
		},
	})
)

// usersEntity enables every kind; insertKind picks which of the three
// POST / kinds is mounted.
func usersEntity(insertKind Kind) *Entity {
	ops := map[Kind]Binding{
		FindOne:    {RequestQuery: userFilterSchema, RequestURLParam: userKeySchema, Response: userSchema},
		FindMany:   {RequestQuery: userListSchema, Response: userSchema},
		UpdateOne:  {RequestBody: userBodySchema, RequestQuery: userFilterSchema, RequestURLParam: userKeySchema, Response: userSchema},
		UpdateMany: {RequestBody: userBodySchema, RequestQuery: userFilterSchema, Response: userSchema},
		PatchOne:   {RequestBody: userBodySchema, RequestQuery: userFilterSchema, RequestURLParam: userKeySchema, Response: userSchema},
		PatchMany:  {RequestBody: userBodySchema, RequestQuery: userFilterSchema, Response: userSchema},
		DeleteOne:  {RequestQuery: userFilterSchema, RequestURLParam: userKeySchema, Response: userKeySchema},
		DeleteMany: {RequestQuery: userFilterSchema, Response: userKeySchema},
	}
	ops[insertKind] = Binding{RequestBody: userBodySchema, Response: userSchema}
	return &Entity{
		Schema:        "public",
		Table:         "users",
		PrimaryKey:    "id",
		UniqueColumns: []string{"id"},
		Operations:    ops,
	}
}
