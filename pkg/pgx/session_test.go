package pgx

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExecuteCommit(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	stmt, err := usersBuilder().Build(crud.UpsertOne, crud.Args{Values: []map[string]any{{"name": "a"}}})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL)).
		WithArgs("a").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "org_id"}).AddRow(int32(1), "a", [16]byte(id)))
	mock.ExpectCommit()

	s, err := SessionFactory(mock)(ctx)
	require.NoError(t, err)
	defer s.Release()

	out, err := s.Execute(ctx, stmt)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "a", out.Rows[0]["name"])
	assert.Equal(t, id.String(), out.Rows[0]["org_id"])
	assert.Equal(t, int64(1), out.RowsAffected)

	require.NoError(t, s.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionReleaseRollsBack(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM "public"."users"`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	s, err := SessionFactory(mock)(ctx)
	require.NoError(t, err)

	stmt, err := usersBuilder().Build(crud.DeleteOne, crud.Args{Extra: map[string]any{"id": int64(3)}})
	require.NoError(t, err)
	out, err := s.Execute(ctx, stmt)
	require.NoError(t, err)
	assert.Empty(t, out.Rows)
	assert.Zero(t, out.RowsAffected)

	s.Expire()
	s.Release()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCommitOnRelease(t *testing.T) {
	ctx := context.Background()
	stmt, err := usersBuilder().Build(crud.UpsertOne, crud.Args{Values: []map[string]any{{"name": "a"}}})
	require.NoError(t, err)

	t.Run("commits pending work", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL)).
			WithArgs("a").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "org_id"}).AddRow(int32(1), "a", nil))
		mock.ExpectCommit()

		s, err := SessionFactory(mock, CommitOnRelease())(ctx)
		require.NoError(t, err)
		_, err = s.Execute(ctx, stmt)
		require.NoError(t, err)

		s.Release()
		s.Release()
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back after a failed statement", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL)).
			WithArgs("a").
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		s, err := SessionFactory(mock, CommitOnRelease())(ctx)
		require.NoError(t, err)
		_, err = s.Execute(ctx, stmt)
		require.Error(t, err)

		s.Release()
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("explicit rollback wins", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		s, err := SessionFactory(mock, CommitOnRelease())(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Rollback(ctx))

		s.Release()
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionUniqueViolation(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pgErr := &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: "users_email_key",
		TableName:      "users",
		Detail:         "Key (email)=(a@x) already exists.",
	}
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO`).WillReturnError(pgErr)
	mock.ExpectRollback()

	s, err := SessionFactory(mock)(ctx)
	require.NoError(t, err)

	_, err = s.Execute(ctx, crud.Statement{SQL: `INSERT INTO "public"."users" ("email") VALUES ($1) RETURNING *`, Args: []any{"a@x"}})
	require.Error(t, err)
	assert.Equal(t, crud.FailureConflict, crud.Classify(err))

	var uv *crud.UniqueViolationError
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, "users_email_key", uv.Constraint)
	assert.ErrorIs(t, err, crud.ErrUniqueViolation)

	require.NoError(t, s.Rollback(ctx))
	s.Release()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionFault(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
	_, err = SessionFactory(mock)(ctx)
	assert.ErrorContains(t, err, "begin transaction")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable})
	mock.ExpectRollback()

	s, err := SessionFactory(mock)(ctx)
	require.NoError(t, err)
	_, err = s.Execute(ctx, crud.Statement{SQL: "SELECT * FROM missing"})
	assert.Equal(t, crud.FailureFault, crud.Classify(err))
	s.Release()
	require.NoError(t, mock.ExpectationsWereMet())
}
