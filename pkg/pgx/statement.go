package pgx

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrNothingToUpdate = errors.New("no columns to update")
	ErrNothingToInsert = errors.New("no rows to insert")
	ErrInvalidFilter   = errors.New("invalid filter")
)

// QueryBuilder builds parameterized statements against one table. It
// implements crud.QueryService.
type QueryBuilder struct {
	Schema     string
	Table      string
	PrimaryKey string
	// Columns maps column names to their information_schema data type. A nil
	// map accepts any column and passes filter operands through as text.
	Columns map[string]string
}

var _ crud.QueryService = (*QueryBuilder)(nil)

// NewQueryBuilder returns a builder for schema.table. An empty schema
// defaults to public.
func NewQueryBuilder(schema, table, primaryKey string, columns map[string]string) *QueryBuilder {
	if schema == "" {
		schema = "public"
	}
	return &QueryBuilder{Schema: schema, Table: table, PrimaryKey: primaryKey, Columns: columns}
}

// Build implements crud.QueryService.
func (b *QueryBuilder) Build(kind crud.Kind, args crud.Args) (crud.Statement, error) {
	q := &query{b: b, nextIndex: 1}
	var err error
	switch kind {
	case crud.FindOne, crud.FindMany:
		err = q.selectRows(kind, args)
	case crud.UpsertOne, crud.UpsertMany, crud.PostRedirectGet:
		err = q.insertRows(args)
	case crud.UpdateOne, crud.UpdateMany, crud.PatchOne, crud.PatchMany:
		err = q.updateRows(kind, args)
	case crud.DeleteOne, crud.DeleteMany:
		err = q.deleteRows(kind, args)
	default:
		err = fmt.Errorf("unsupported operation kind %s", kind)
	}
	if err != nil {
		return crud.Statement{}, err
	}
	return crud.Statement{SQL: q.sql.String(), Args: q.values}, nil
}

type query struct {
	b         *QueryBuilder
	sql       strings.Builder
	values    []any
	nextIndex int
}

func (q *query) placeholder(value any) string {
	q.values = append(q.values, value)
	p := "$" + strconv.Itoa(q.nextIndex)
	q.nextIndex++
	return p
}

func (q *query) tableIdentifier() string {
	return pgx.Identifier{q.b.Schema, q.b.Table}.Sanitize()
}

func (q *query) column(name string) (string, error) {
	if q.b.Columns != nil {
		if _, ok := q.b.Columns[name]; !ok {
			return "", fmt.Errorf("%w %q", ErrUnknownColumn, name)
		}
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func (q *query) selectRows(kind crud.Kind, args crud.Args) error {
	fmt.Fprintf(&q.sql, "SELECT * FROM %s", q.tableIdentifier())
	if err := q.where(kind, args); err != nil {
		return err
	}
	if kind == crud.FindOne {
		return nil
	}
	if args.Order != "" {
		order, err := q.orderBy(args.Order)
		if err != nil {
			return err
		}
		q.sql.WriteString(" ORDER BY " + order)
	}
	if args.Limit > 0 {
		q.sql.WriteString(" LIMIT " + q.placeholder(args.Limit))
	}
	if args.Offset > 0 {
		q.sql.WriteString(" OFFSET " + q.placeholder(args.Offset))
	}
	return nil
}

// insertRows writes a multi-row INSERT. Columns missing from a row take
// their DEFAULT.
func (q *query) insertRows(args crud.Args) error {
	if len(args.Values) == 0 {
		return ErrNothingToInsert
	}

	var names []string
	for _, row := range args.Values {
		for name := range row {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)

	columns := make([]string, len(names))
	for i, name := range names {
		col, err := q.column(name)
		if err != nil {
			return err
		}
		columns[i] = col
	}

	if len(columns) == 0 {
		fmt.Fprintf(&q.sql, "INSERT INTO %s DEFAULT VALUES", q.tableIdentifier())
		if len(args.Values) > 1 {
			return fmt.Errorf("%w: rows declare no columns", ErrNothingToInsert)
		}
	} else {
		tuples := make([]string, len(args.Values))
		for i, row := range args.Values {
			placeholders := make([]string, len(names))
			for j, name := range names {
				if v, ok := row[name]; ok {
					placeholders[j] = q.placeholder(v)
				} else {
					placeholders[j] = "DEFAULT"
				}
			}
			tuples[i] = "(" + strings.Join(placeholders, ", ") + ")"
		}
		fmt.Fprintf(&q.sql, "INSERT INTO %s (%s) VALUES %s",
			q.tableIdentifier(), strings.Join(columns, ", "), strings.Join(tuples, ", "))
	}

	if args.OnConflict != nil {
		if err := q.onConflict(args, names); err != nil {
			return err
		}
	}
	q.sql.WriteString(" RETURNING *")
	return nil
}

// onConflict appends ON CONFLICT (unique columns) DO UPDATE. Without update
// columns every inserted non-unique column is overwritten; when none remain
// the conflict target is assigned to itself so the existing row is returned.
func (q *query) onConflict(args crud.Args, inserted []string) error {
	target := args.UniqueColumns
	if len(target) == 0 {
		target = []string{q.b.PrimaryKey}
	}
	targetCols := make([]string, len(target))
	for i, name := range target {
		col, err := q.column(name)
		if err != nil {
			return err
		}
		targetCols[i] = col
	}

	update := args.OnConflict.UpdateColumns
	if len(update) == 0 {
		for _, name := range inserted {
			if !slices.Contains(target, name) {
				update = append(update, name)
			}
		}
	}
	if len(update) == 0 {
		update = target[:1]
	}

	sets := make([]string, len(update))
	for i, name := range update {
		col, err := q.column(name)
		if err != nil {
			return err
		}
		sets[i] = col + " = EXCLUDED." + col
	}
	fmt.Fprintf(&q.sql, " ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(targetCols, ", "), strings.Join(sets, ", "))
	return nil
}

func (q *query) updateRows(kind crud.Kind, args crud.Args) error {
	if len(args.Update) == 0 {
		return ErrNothingToUpdate
	}
	names := make([]string, 0, len(args.Update))
	for name := range args.Update {
		names = append(names, name)
	}
	slices.Sort(names)

	sets := make([]string, len(names))
	for i, name := range names {
		col, err := q.column(name)
		if err != nil {
			return err
		}
		sets[i] = col + " = " + q.placeholder(args.Update[name])
	}
	fmt.Fprintf(&q.sql, "UPDATE %s SET %s", q.tableIdentifier(), strings.Join(sets, ", "))
	if err := q.where(kind, args); err != nil {
		return err
	}
	q.sql.WriteString(" RETURNING *")
	return nil
}

func (q *query) deleteRows(kind crud.Kind, args crud.Args) error {
	fmt.Fprintf(&q.sql, "DELETE FROM %s", q.tableIdentifier())
	if err := q.where(kind, args); err != nil {
		return err
	}
	pk, err := q.column(q.b.PrimaryKey)
	if err != nil {
		return err
	}
	q.sql.WriteString(" RETURNING " + pk)
	return nil
}

// where appends the primary key predicate of singular kinds and the filter
// predicates, joined with AND.
func (q *query) where(kind crud.Kind, args crud.Args) error {
	var clauses []string
	if kind.Singular() {
		v, ok := args.Extra[q.b.PrimaryKey]
		if !ok {
			return fmt.Errorf("missing primary key %q", q.b.PrimaryKey)
		}
		col, err := q.column(q.b.PrimaryKey)
		if err != nil {
			return err
		}
		operand, err := q.operand(q.b.PrimaryKey, v)
		if err != nil {
			return err
		}
		clauses = append(clauses, col+" = "+q.placeholder(operand))
	}

	names := make([]string, 0, len(args.Filter))
	for name := range args.Filter {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		var exprs []string
		switch v := args.Filter[name].(type) {
		case []string:
			exprs = v
		case string:
			exprs = []string{v}
		default:
			col, err := q.column(name)
			if err != nil {
				return err
			}
			clauses = append(clauses, col+" = "+q.placeholder(v))
			continue
		}
		for _, expr := range exprs {
			clause, err := q.filter(name, expr)
			if err != nil {
				return err
			}
			clauses = append(clauses, clause)
		}
	}

	if len(clauses) > 0 {
		q.sql.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	return nil
}

var operators = map[string]string{
	"eq":    "=",
	"neq":   "<>",
	"gt":    ">",
	"gte":   ">=",
	"lt":    "<",
	"lte":   "<=",
	"like":  "LIKE",
	"ilike": "ILIKE",
}

// filter renders one PostgREST style filter expression, eg gte.10,
// in.(1,2,3), is.null or not.eq.5. A bare value means eq.
func (q *query) filter(name, expr string) (string, error) {
	col, err := q.column(name)
	if err != nil {
		return "", err
	}

	negate := false
	if rest, ok := strings.CutPrefix(expr, "not."); ok {
		negate = true
		expr = rest
	}

	op, operand, ok := strings.Cut(expr, ".")
	if _, known := operators[op]; !ok || (!known && op != "in" && op != "is") {
		op, operand = "eq", expr
	}

	var clause string
	switch op {
	case "is":
		switch strings.ToLower(operand) {
		case "null":
			clause = col + " IS NULL"
		case "true":
			clause = col + " IS TRUE"
		case "false":
			clause = col + " IS FALSE"
		default:
			return "", fmt.Errorf("%w: is.%s", ErrInvalidFilter, operand)
		}
	case "in":
		list := strings.TrimSuffix(strings.TrimPrefix(operand, "("), ")")
		if list == "" {
			return "", fmt.Errorf("%w: empty in list for %q", ErrInvalidFilter, name)
		}
		items := strings.Split(list, ",")
		placeholders := make([]string, len(items))
		for i, item := range items {
			v, err := q.operand(name, strings.Trim(strings.TrimSpace(item), `"`))
			if err != nil {
				return "", err
			}
			placeholders[i] = q.placeholder(v)
		}
		clause = fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", "))
	case "like", "ilike":
		clause = fmt.Sprintf("%s %s %s", col, operators[op], q.placeholder(strings.ReplaceAll(operand, "*", "%")))
	default:
		v, err := q.operand(name, operand)
		if err != nil {
			return "", err
		}
		clause = fmt.Sprintf("%s %s %s", col, operators[op], q.placeholder(v))
	}

	if negate {
		clause = "NOT (" + clause + ")"
	}
	return clause, nil
}

// operand converts a textual filter operand to the Go type pgx encodes for
// the column's data type. Non-string values pass through.
func (q *query) operand(name string, v any) (any, error) {
	raw, ok := v.(string)
	if !ok {
		return v, nil
	}
	var (
		out any = raw
		err error
	)
	switch q.b.Columns[name] {
	case "smallint", "integer", "bigint":
		out, err = strconv.ParseInt(raw, 10, 64)
	case "real", "double precision":
		out, err = strconv.ParseFloat(raw, 64)
	case "numeric":
		var n pgtype.Numeric
		err = n.Scan(raw)
		out = n
	case "boolean":
		out, err = strconv.ParseBool(raw)
	case "uuid":
		out, err = uuid.Parse(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid %s for column %q", ErrInvalidFilter, raw, q.b.Columns[name], name)
	}
	return out, nil
}

// orderBy renders an order parameter, eg name.desc.nullsfirst,id.
func (q *query) orderBy(order string) (string, error) {
	var terms []string
	for _, part := range strings.Split(order, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ".")
		col, err := q.column(fields[0])
		if err != nil {
			return "", err
		}
		term := col
		for _, modifier := range fields[1:] {
			switch modifier {
			case "asc":
				term += " ASC"
			case "desc":
				term += " DESC"
			case "nullsfirst":
				term += " NULLS FIRST"
			case "nullslast":
				term += " NULLS LAST"
			default:
				return "", fmt.Errorf("invalid order modifier %q", modifier)
			}
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		return "", fmt.Errorf("empty order %q", order)
	}
	return strings.Join(terms, ", "), nil
}
