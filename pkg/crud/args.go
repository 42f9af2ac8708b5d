package crud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
)

// Reserved query parameters of find_many.
const (
	ParamLimit  = "limit"
	ParamOffset = "offset"
	ParamOrder  = "order"
)

// Reserved body keys of upsert kinds.
const (
	bodyInsert     = "insert"
	bodyOnConflict = "on_conflict"
)

const defaultMaxBodyBytes = 1 << 20

// extractArgs derives the plain Args of one request from its URL path,
// query string and body, as far as the kind's capabilities and binding
// allow.
func (r *Registry) extractArgs(req *http.Request, kind Kind, b Binding) (Args, error) {
	caps := kind.Capabilities()
	args := Args{UniqueColumns: r.entity.UniqueColumns}

	if caps.URLParam {
		extra, err := pathArgs(req, r.entity.PrimaryKey, b.RequestURLParam)
		if err != nil {
			return Args{}, &ArgumentError{Source: "path", Err: err}
		}
		args.Extra = extra
	}

	if caps.Query && b.RequestQuery != nil {
		filter, err := queryArgs(req, b.RequestQuery)
		if err != nil {
			return Args{}, &ArgumentError{Source: "query", Err: err}
		}
		if kind == FindMany {
			if args.Limit, err = popInt(filter, ParamLimit); err != nil {
				return Args{}, &ArgumentError{Source: "query", Err: err}
			}
			if args.Offset, err = popInt(filter, ParamOffset); err != nil {
				return Args{}, &ArgumentError{Source: "query", Err: err}
			}
			if order, ok := filter[ParamOrder]; ok {
				args.Order = fmt.Sprint(order)
				delete(filter, ParamOrder)
			}
		}
		args.Filter = filter
	}

	if caps.Body && b.RequestBody != nil {
		if err := r.bodyArgs(req, kind, b.RequestBody, &args); err != nil {
			var argErr *ArgumentError
			if errors.As(err, &argErr) {
				return Args{}, err
			}
			return Args{}, &ArgumentError{Source: "body", Err: err}
		}
	}
	return args, nil
}

// pathArgs reads the primary key path value, typed by the url-param schema
// when one is bound.
func pathArgs(req *http.Request, pk string, schema *Schema) (map[string]any, error) {
	raw := req.PathValue(pk)
	if raw == "" {
		return nil, fmt.Errorf("missing path parameter %q", pk)
	}
	if schema == nil {
		return map[string]any{pk: raw}, nil
	}
	v, err := parseScalar(raw, schema.PropertyType(pk))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pk, err)
	}
	extra := map[string]any{pk: v}
	if err := schema.Validate(validationForm(extra)); err != nil {
		return nil, err
	}
	return extra, nil
}

// queryArgs keeps the query parameters declared by schema. Repeated
// parameters become []string; single values are parsed by declared type,
// strings are kept raw so they may carry operator prefixes (eg gt.5).
func queryArgs(req *http.Request, schema *Schema) (map[string]any, error) {
	values := req.URL.Query()
	filter := make(map[string]any)
	for _, name := range schema.Properties() {
		vs, ok := values[name]
		if !ok || len(vs) == 0 {
			continue
		}
		if len(vs) > 1 {
			filter[name] = vs
			continue
		}
		v, err := parseScalar(vs[0], schema.PropertyType(name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		filter[name] = v
	}
	if err := schema.Validate(validationForm(filter)); err != nil {
		return nil, err
	}
	return filter, nil
}

func parseScalar(raw, typ string) (any, error) {
	switch typ {
	case "integer":
		return strconv.ParseInt(raw, 10, 64)
	case "number":
		return strconv.ParseFloat(raw, 64)
	case "boolean":
		return strconv.ParseBool(raw)
	}
	return raw, nil
}

func popInt(m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}
	delete(m, key)
	var n int64
	switch v := v.(type) {
	case int64:
		n = v
	case float64:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%s: unexpected value %v", key, v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return int(n), nil
}

func (r *Registry) bodyArgs(req *http.Request, kind Kind, schema *Schema, args *Args) error {
	data, err := io.ReadAll(io.LimitReader(req.Body, r.maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > r.maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedBody, r.maxBodyBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	switch kind {
	case UpsertMany:
		rows, onConflict, err := splitMany(body, schema)
		if err != nil {
			return err
		}
		for i, row := range rows {
			if rows[i], err = bindRow(row, schema); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		args.Values, args.OnConflict = rows, onConflict
	default:
		obj, ok := body.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected a JSON object", ErrMalformedBody)
		}
		if kind == UpsertOne && !schema.Has(bodyOnConflict) {
			if args.OnConflict, err = popOnConflict(obj); err != nil {
				return err
			}
		}
		row, err := bindRow(obj, schema)
		if err != nil {
			return err
		}
		switch kind {
		case UpsertOne, PostRedirectGet:
			args.Values = []map[string]any{row}
		default:
			args.Update = row
		}
	}
	return nil
}

// splitMany accepts either an array of rows or {"insert": [...],
// "on_conflict": {...}}.
func splitMany(body any, schema *Schema) ([]map[string]any, *OnConflict, error) {
	var items []any
	var onConflict *OnConflict
	switch v := body.(type) {
	case []any:
		items = v
	case map[string]any:
		insert, ok := v[bodyInsert].([]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: expected an array or an object with %q", ErrMalformedBody, bodyInsert)
		}
		var err error
		if onConflict, err = popOnConflict(v); err != nil {
			return nil, nil, err
		}
		items = insert
	default:
		return nil, nil, fmt.Errorf("%w: expected a JSON array", ErrMalformedBody)
	}
	if len(items) == 0 {
		return nil, nil, errors.New("no rows to insert")
	}

	rows := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: row %d is not an object", ErrMalformedBody, i)
		}
		rows[i] = obj
	}
	return rows, onConflict, nil
}

func popOnConflict(obj map[string]any) (*OnConflict, error) {
	raw, ok := obj[bodyOnConflict]
	if !ok {
		return nil, nil
	}
	delete(obj, bodyOnConflict)
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var oc OnConflict
	if err := json.Unmarshal(data, &oc); err != nil {
		return nil, fmt.Errorf("%s: %w", bodyOnConflict, err)
	}
	return &oc, nil
}

// bindRow drops undeclared properties, validates the row and converts JSON
// numbers to int64 or float64.
func bindRow(obj map[string]any, schema *Schema) (map[string]any, error) {
	open := len(schema.JSONSchema().Properties) == 0
	row := make(map[string]any, len(obj))
	for k, v := range obj {
		if open || schema.Has(k) {
			row[k] = v
		}
	}
	if err := schema.Validate(validationForm(row)); err != nil {
		return nil, err
	}
	return argForm(row).(map[string]any), nil
}

// validationForm converts v to the float64 number representation the
// validator expects.
func validationForm(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = validationForm(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = validationForm(e)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case json.Number:
		f, _ := v.Float64()
		return f
	case int64:
		return float64(v)
	}
	return v
}

func argForm(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = argForm(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = argForm(e)
		}
		return out
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	}
	return v
}
