package crud

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Linker computes the redirect target of a created row and checks that a
// read-by-key route answers it. The set of read routes is fixed when the
// Linker is built.
type Linker struct {
	primaryKey string
	readRoutes map[string]struct{}
}

// NewLinker returns a Linker for paths like "/users/{id}" (no method).
func NewLinker(primaryKey string, readRoutes ...string) *Linker {
	l := &Linker{
		primaryKey: primaryKey,
		readRoutes: make(map[string]struct{}, len(readRoutes)),
	}
	for _, route := range readRoutes {
		l.readRoutes[route] = struct{}{}
	}
	return l
}

// Link returns "<collectionPath>/<pk value>" for row. It fails with
// *RedirectError when no GET route "<collectionPath>/{<pk>}" is known.
func (l *Linker) Link(collectionPath string, row Row) (string, error) {
	value, ok := row[l.primaryKey]
	if !ok || value == nil {
		return "", &ShapeError{Err: fmt.Errorf("created row has no primary key %q", l.primaryKey)}
	}

	collectionPath = strings.TrimSuffix(collectionPath, "/")
	endpoint := collectionPath + "/{" + l.primaryKey + "}"
	if _, ok := l.readRoutes[endpoint]; !ok {
		return "", &RedirectError{Path: endpoint, Method: http.MethodGet}
	}

	return collectionPath + "/" + url.PathEscape(formatKey(value)), nil
}

func formatKey(v any) string {
	switch v := v.(type) {
	case json.Number:
		return v.String()
	case float64:
		// integral keys must not render as 1e+06
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
	}
	return fmt.Sprint(v)
}
