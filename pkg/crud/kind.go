package crud

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind is one of the generated operation kinds.
type Kind int

const (
	FindOne Kind = iota
	FindMany
	UpsertOne
	UpsertMany
	UpdateOne
	UpdateMany
	PatchOne
	PatchMany
	DeleteOne
	DeleteMany
	PostRedirectGet
)

// Capabilities lists which request argument sources a kind accepts.
type Capabilities struct {
	Body     bool
	Query    bool
	URLParam bool
}

type kindSpec struct {
	name     string
	method   string
	singular bool // bound to /{pk} instead of the collection path
	list     bool // response body is an array
	caps     Capabilities
}

var kindSpecs = [...]kindSpec{
	FindOne:         {"find_one", http.MethodGet, true, false, Capabilities{Query: true, URLParam: true}},
	FindMany:        {"find_many", http.MethodGet, false, true, Capabilities{Query: true}},
	UpsertOne:       {"upsert_one", http.MethodPost, false, false, Capabilities{Body: true}},
	UpsertMany:      {"upsert_many", http.MethodPost, false, true, Capabilities{Body: true}},
	UpdateOne:       {"update_one", http.MethodPut, true, false, Capabilities{Body: true, Query: true, URLParam: true}},
	UpdateMany:      {"update_many", http.MethodPut, false, true, Capabilities{Body: true, Query: true}},
	PatchOne:        {"patch_one", http.MethodPatch, true, false, Capabilities{Body: true, Query: true, URLParam: true}},
	PatchMany:       {"patch_many", http.MethodPatch, false, true, Capabilities{Body: true, Query: true}},
	DeleteOne:       {"delete_one", http.MethodDelete, true, false, Capabilities{Query: true, URLParam: true}},
	DeleteMany:      {"delete_many", http.MethodDelete, false, true, Capabilities{Query: true}},
	PostRedirectGet: {"post_redirect_get", http.MethodPost, false, false, Capabilities{Body: true}},
}

// Kinds returns every operation kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, len(kindSpecs))
	for i := range kindSpecs {
		kinds[i] = Kind(i)
	}
	return kinds
}

// ParseKind parses the snake_case name of a kind, eg "find_one".
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, spec := range kindSpecs {
		if spec.name == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("crud: unknown operation kind %q", s)
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < len(kindSpecs)
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindSpecs[k].name
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("crud: invalid operation kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Method returns the HTTP method the kind is served on.
func (k Kind) Method() string { return kindSpecs[k].method }

// Singular reports whether the kind addresses one row by primary key.
func (k Kind) Singular() bool { return kindSpecs[k].singular }

// List reports whether the success body is an array.
func (k Kind) List() bool { return kindSpecs[k].list }

// Capabilities returns the argument sources the kind accepts.
func (k Kind) Capabilities() Capabilities { return kindSpecs[k].caps }

// Guarded reports whether execution failures are inspected for unique
// constraint conflicts.
func (k Kind) Guarded() bool {
	switch k {
	case UpsertOne, UpsertMany, PostRedirectGet:
		return true
	}
	return false
}

// Mutating reports whether the kind writes to the entity.
func (k Kind) Mutating() bool { return k != FindOne && k != FindMany }

// expires reports whether cached row state must be invalidated after the
// statement runs.
func (k Kind) expires() bool {
	switch k {
	case UpdateOne, UpdateMany, PatchOne, PatchMany, DeleteOne, DeleteMany:
		return true
	}
	return false
}
