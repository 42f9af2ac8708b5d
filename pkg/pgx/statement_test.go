package pgx

import (
	"testing"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersBuilder() *QueryBuilder {
	return NewQueryBuilder("", "users", "id", map[string]string{
		"id":     "integer",
		"name":   "text",
		"email":  "text",
		"active": "boolean",
		"score":  "double precision",
		"org_id": "uuid",
	})
}

func TestQueryBuilderBuild(t *testing.T) {
	orgID := uuid.New()
	tests := []struct {
		name     string
		kind     crud.Kind
		args     crud.Args
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "find one",
			kind:     crud.FindOne,
			args:     crud.Args{Extra: map[string]any{"id": int64(7)}},
			wantSQL:  `SELECT * FROM "public"."users" WHERE "id" = $1`,
			wantArgs: []any{int64(7)},
		},
		{
			name: "find many with filters and paging",
			kind: crud.FindMany,
			args: crud.Args{
				Filter: map[string]any{"name": "like.a*", "score": "gte.1.5", "active": "is.true"},
				Order:  "name.desc.nullsfirst,id",
				Limit:  10,
				Offset: 20,
			},
			wantSQL: `SELECT * FROM "public"."users" WHERE "active" IS TRUE AND "name" LIKE $1 AND "score" >= $2` +
				` ORDER BY "name" DESC NULLS FIRST, "id" LIMIT $3 OFFSET $4`,
			wantArgs: []any{"a%", 1.5, 10, 20},
		},
		{
			name:     "find many bare value and in list",
			kind:     crud.FindMany,
			args:     crud.Args{Filter: map[string]any{"id": "in.(1,2)", "org_id": orgID.String()}},
			wantSQL:  `SELECT * FROM "public"."users" WHERE "id" IN ($1, $2) AND "org_id" = $3`,
			wantArgs: []any{int64(1), int64(2), orgID},
		},
		{
			name:     "repeated and negated filters",
			kind:     crud.FindMany,
			args:     crud.Args{Filter: map[string]any{"id": []string{"gt.1", "not.eq.5"}}},
			wantSQL:  `SELECT * FROM "public"."users" WHERE "id" > $1 AND NOT ("id" = $2)`,
			wantArgs: []any{int64(1), int64(5)},
		},
		{
			name:     "typed filter value",
			kind:     crud.FindMany,
			args:     crud.Args{Filter: map[string]any{"id": int64(3)}},
			wantSQL:  `SELECT * FROM "public"."users" WHERE "id" = $1`,
			wantArgs: []any{int64(3)},
		},
		{
			name:     "insert one",
			kind:     crud.UpsertOne,
			args:     crud.Args{Values: []map[string]any{{"name": "a", "email": "a@x"}}},
			wantSQL:  `INSERT INTO "public"."users" ("email", "name") VALUES ($1, $2) RETURNING *`,
			wantArgs: []any{"a@x", "a"},
		},
		{
			name: "upsert with update columns",
			kind: crud.UpsertOne,
			args: crud.Args{
				Values:        []map[string]any{{"id": int64(1), "name": "a"}},
				UniqueColumns: []string{"id"},
				OnConflict:    &crud.OnConflict{UpdateColumns: []string{"name"}},
			},
			wantSQL: `INSERT INTO "public"."users" ("id", "name") VALUES ($1, $2)` +
				` ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name" RETURNING *`,
			wantArgs: []any{int64(1), "a"},
		},
		{
			name: "upsert without update columns",
			kind: crud.UpsertOne,
			args: crud.Args{
				Values:     []map[string]any{{"id": int64(1)}},
				OnConflict: &crud.OnConflict{},
			},
			wantSQL:  `INSERT INTO "public"."users" ("id") VALUES ($1) ON CONFLICT ("id") DO UPDATE SET "id" = EXCLUDED."id" RETURNING *`,
			wantArgs: []any{int64(1)},
		},
		{
			name:     "insert many with defaults",
			kind:     crud.UpsertMany,
			args:     crud.Args{Values: []map[string]any{{"name": "a"}, {"name": "b", "email": "b@x"}}},
			wantSQL:  `INSERT INTO "public"."users" ("email", "name") VALUES (DEFAULT, $1), ($2, $3) RETURNING *`,
			wantArgs: []any{"a", "b@x", "b"},
		},
		{
			name:     "insert defaults",
			kind:     crud.PostRedirectGet,
			args:     crud.Args{Values: []map[string]any{{}}},
			wantSQL:  `INSERT INTO "public"."users" DEFAULT VALUES RETURNING *`,
			wantArgs: nil,
		},
		{
			name: "update one with extra filter",
			kind: crud.UpdateOne,
			args: crud.Args{
				Extra:  map[string]any{"id": int64(2)},
				Update: map[string]any{"name": "n", "active": false},
				Filter: map[string]any{"email": "eq.a@x"},
			},
			wantSQL:  `UPDATE "public"."users" SET "active" = $1, "name" = $2 WHERE "id" = $3 AND "email" = $4 RETURNING *`,
			wantArgs: []any{false, "n", int64(2), "a@x"},
		},
		{
			name:     "patch many",
			kind:     crud.PatchMany,
			args:     crud.Args{Update: map[string]any{"active": true}, Filter: map[string]any{"email": "is.null"}},
			wantSQL:  `UPDATE "public"."users" SET "active" = $1 WHERE "email" IS NULL RETURNING *`,
			wantArgs: []any{true},
		},
		{
			name:     "delete one",
			kind:     crud.DeleteOne,
			args:     crud.Args{Extra: map[string]any{"id": "4"}},
			wantSQL:  `DELETE FROM "public"."users" WHERE "id" = $1 RETURNING "id"`,
			wantArgs: []any{int64(4)},
		},
		{
			name:     "delete many",
			kind:     crud.DeleteMany,
			args:     crud.Args{Filter: map[string]any{"active": "eq.false"}},
			wantSQL:  `DELETE FROM "public"."users" WHERE "active" = $1 RETURNING "id"`,
			wantArgs: []any{false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := usersBuilder().Build(tt.kind, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, stmt.SQL)
			assert.Equal(t, tt.wantArgs, stmt.Args)
		})
	}
}

func TestQueryBuilderErrors(t *testing.T) {
	tests := []struct {
		name    string
		kind    crud.Kind
		args    crud.Args
		wantErr error
	}{
		{"unknown filter column", crud.FindMany, crud.Args{Filter: map[string]any{"nope": "eq.1"}}, ErrUnknownColumn},
		{"unknown insert column", crud.UpsertOne, crud.Args{Values: []map[string]any{{"nope": 1}}}, ErrUnknownColumn},
		{"unknown order column", crud.FindMany, crud.Args{Order: "nope.desc"}, ErrUnknownColumn},
		{"bad operand", crud.FindMany, crud.Args{Filter: map[string]any{"id": "gt.abc"}}, ErrInvalidFilter},
		{"bad is", crud.FindMany, crud.Args{Filter: map[string]any{"id": "is.maybe"}}, ErrInvalidFilter},
		{"empty update", crud.PatchOne, crud.Args{Extra: map[string]any{"id": int64(1)}}, ErrNothingToUpdate},
		{"no rows", crud.UpsertMany, crud.Args{}, ErrNothingToInsert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := usersBuilder().Build(tt.kind, tt.args)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := usersBuilder().Build(crud.DeleteOne, crud.Args{})
	assert.ErrorContains(t, err, "missing primary key")
	_, err = usersBuilder().Build(crud.FindMany, crud.Args{Order: "name.sideways"})
	assert.ErrorContains(t, err, "invalid order modifier")
}

func TestQueryBuilderOpenColumns(t *testing.T) {
	b := NewQueryBuilder("app", "events", "id", nil)
	stmt, err := b.Build(crud.FindMany, crud.Args{Filter: map[string]any{"kind": "eq.42"}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "app"."events" WHERE "kind" = $1`, stmt.SQL)
	assert.Equal(t, []any{"42"}, stmt.Args)
}
