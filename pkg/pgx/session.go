package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// SessionOption configures the sessions of a SessionFactory.
type SessionOption func(*session)

// CommitOnRelease makes Release commit work that was neither committed nor
// rolled back, unless a statement failed. Registries that do not commit
// themselves use it to own the transaction boundary.
func CommitOnRelease() SessionOption {
	return func(s *session) {
		s.commitOnRelease = true
	}
}

// SessionFactory returns a crud.SessionFactory that begins one transaction
// per request on db.
func SessionFactory(db Beginner, opts ...SessionOption) crud.SessionFactory {
	return func(ctx context.Context) (crud.Session, error) {
		tx, err := db.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		s := &session{tx: tx}
		for _, opt := range opts {
			opt(s)
		}
		return s, nil
	}
}

type session struct {
	tx              pgx.Tx
	done            bool
	failed          bool
	commitOnRelease bool
}

// Execute runs stmt inside the session's transaction and realizes every
// returned row.
func (s *session) Execute(ctx context.Context, stmt crud.Statement) (crud.Outcome, error) {
	rows, err := s.tx.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		s.failed = true
		return crud.Outcome{}, translate(err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		s.failed = true
		return crud.Outcome{}, translate(err)
	}
	for _, row := range collected {
		normalize(row)
	}
	// returned rows bound the count from below
	affected := max(rows.CommandTag().RowsAffected(), int64(len(collected)))
	return crud.Outcome{Rows: collected, RowsAffected: affected}, nil
}

// Expire is a no-op: rows are never cached across statements.
func (s *session) Expire() {}

func (s *session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return translate(err)
	}
	s.done = true
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.done = true
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Release rolls back uncommitted work, or commits it when the session was
// created with CommitOnRelease. The pooled connection is returned when the
// transaction ends.
func (s *session) Release() {
	if s.done {
		return
	}
	s.done = true
	ctx := context.Background()
	if s.commitOnRelease && !s.failed {
		if err := s.tx.Commit(ctx); err != nil {
			zap.L().Error("commit on release", zap.Error(err))
		}
		return
	}
	_ = s.tx.Rollback(ctx)
}

// translate maps a unique violation to *crud.UniqueViolationError.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return &crud.UniqueViolationError{
			Constraint: pgErr.ConstraintName,
			Table:      pgErr.TableName,
			Detail:     pgErr.Detail,
			Err:        err,
		}
	}
	return err
}

// normalize converts values pgx scans into types without a natural JSON
// form, eg uuid columns scanned as [16]byte.
func normalize(row map[string]any) {
	for k, v := range row {
		if b, ok := v.([16]byte); ok {
			row[k] = uuid.UUID(b).String()
		}
	}
}
