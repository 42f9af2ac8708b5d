package crud

import "context"

// Row is one realized result row keyed by column name.
type Row = map[string]any

// Outcome is the realized result of one statement. Rows are fully read into
// memory before an Outcome is returned.
type Outcome struct {
	Rows []Row
	// RowsAffected is the rowcount reported by the engine.
	RowsAffected int64
}

// Keys returns the value of column key in every row.
func (o Outcome) Keys(key string) []any {
	keys := make([]any, 0, len(o.Rows))
	for _, row := range o.Rows {
		keys = append(keys, row[key])
	}
	return keys
}

// Statement is an executable handle produced by a QueryService.
type Statement struct {
	SQL  string
	Args []any
}

// OnConflict turns an insert into an upsert on the entity's unique columns.
type OnConflict struct {
	UpdateColumns []string `json:"update_columns"`
}

// Args are the plain argument mappings handed to a QueryService.
type Args struct {
	// Filter holds query arguments; values are strings, []string or the
	// scalar type declared by the query schema.
	Filter map[string]any
	// Extra holds URL path arguments, ie the primary key.
	Extra map[string]any
	// Update holds the column values of update and patch kinds.
	Update map[string]any
	// Values holds the rows of insert and upsert kinds.
	Values        []map[string]any
	UniqueColumns []string
	OnConflict    *OnConflict
	Limit         int
	Offset        int
	Order         string
}

// QueryService builds statements for operation kinds.
type QueryService interface {
	Build(kind Kind, args Args) (Statement, error)
}

// Session is a unit of work scoped to one request.
type Session interface {
	// Execute runs stmt and returns its realized outcome.
	Execute(ctx context.Context, stmt Statement) (Outcome, error)
	// Expire invalidates any row state cached by the session.
	Expire()
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Release returns the session's resources. Uncommitted work is
	// discarded. Release is called exactly once per acquired Session.
	Release()
}

// SessionFactory acquires a Session for one request.
type SessionFactory func(ctx context.Context) (Session, error)
