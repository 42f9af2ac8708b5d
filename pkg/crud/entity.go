package crud

import (
	"errors"
	"fmt"
	"sort"
)

// Role names one schema slot of a Binding.
type Role string

const (
	RoleRequestBody     Role = "requestBodyModel"
	RoleRequestQuery    Role = "requestQueryModel"
	RoleRequestURLParam Role = "requestUrlParamModel"
	RoleResponse        Role = "responseModel"
)

// Binding associates request and response schemas with one operation kind.
// A nil request schema means the corresponding argument is absent.
type Binding struct {
	RequestBody     *Schema
	RequestQuery    *Schema
	RequestURLParam *Schema
	// Response is the schema of one returned entity; list kinds return an
	// array of it.
	Response *Schema
}

// BindingFromRoles builds a Binding from a role-keyed mapping.
func BindingFromRoles(roles map[Role]*Schema) (Binding, error) {
	var b Binding
	for role, schema := range roles {
		switch role {
		case RoleRequestBody:
			b.RequestBody = schema
		case RoleRequestQuery:
			b.RequestQuery = schema
		case RoleRequestURLParam:
			b.RequestURLParam = schema
		case RoleResponse:
			b.Response = schema
		default:
			return Binding{}, fmt.Errorf("crud: unknown schema role %q", role)
		}
	}
	return b, nil
}

// Schema returns the schema bound to role, or nil.
func (b Binding) Schema(role Role) *Schema {
	switch role {
	case RoleRequestBody:
		return b.RequestBody
	case RoleRequestQuery:
		return b.RequestQuery
	case RoleRequestURLParam:
		return b.RequestURLParam
	case RoleResponse:
		return b.Response
	}
	return nil
}

func (b Binding) check(k Kind) error {
	caps := k.Capabilities()
	switch {
	case b.Response == nil:
		return fmt.Errorf("%s: %s is required", k, RoleResponse)
	case b.RequestBody != nil && !caps.Body:
		return fmt.Errorf("%s: %s is not accepted", k, RoleRequestBody)
	case b.RequestQuery != nil && !caps.Query:
		return fmt.Errorf("%s: %s is not accepted", k, RoleRequestQuery)
	case b.RequestURLParam != nil && !caps.URLParam:
		return fmt.Errorf("%s: %s is not accepted", k, RoleRequestURLParam)
	}
	return nil
}

// Entity describes a persisted entity and the operations generated for it.
type Entity struct {
	Schema        string // database schema, eg public
	Table         string
	PrimaryKey    string
	UniqueColumns []string
	Operations    map[Kind]Binding
}

var (
	ErrNoPrimaryKey  = errors.New("entity has no primary key")
	ErrNoOperations  = errors.New("entity enables no operations")
	ErrDuplicateKind = errors.New("operation kinds share a route")
)

// Name returns the qualified entity name, eg public.users.
func (e *Entity) Name() string {
	if e.Schema == "" {
		return e.Table
	}
	return e.Schema + "." + e.Table
}

// Kinds returns the enabled kinds in declaration order.
func (e *Entity) Kinds() []Kind {
	kinds := make([]Kind, 0, len(e.Operations))
	for k := range e.Operations {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Validate performs the build-time configuration checks. The primary key
// must be declared by the response schema of every kind that derives a
// value from it (post_redirect_get, delete_one, delete_many).
func (e *Entity) Validate() error {
	if e.PrimaryKey == "" {
		return fmt.Errorf("%s: %w", e.Name(), ErrNoPrimaryKey)
	}
	if len(e.Operations) == 0 {
		return fmt.Errorf("%s: %w", e.Name(), ErrNoOperations)
	}

	routes := make(map[string]Kind)
	for _, k := range e.Kinds() {
		if !k.Valid() {
			return fmt.Errorf("%s: invalid operation kind %d", e.Name(), int(k))
		}
		b := e.Operations[k]
		if err := b.check(k); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		switch k {
		case PostRedirectGet, DeleteOne, DeleteMany:
			if !b.Response.Has(e.PrimaryKey) {
				return fmt.Errorf("%s: %s: %s does not declare primary key %q",
					e.Name(), k, RoleResponse, e.PrimaryKey)
			}
		}

		route := fmt.Sprintf("%s %t", k.Method(), k.Singular())
		if other, ok := routes[route]; ok {
			return fmt.Errorf("%s: %s and %s: %w", e.Name(), other, k, ErrDuplicateKind)
		}
		routes[route] = k
	}
	return nil
}
