package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/edgeflare/pgcrud/pkg/crud"
)

// OpenAPIInfo contains API metadata for the OpenAPI specification
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// OpenAPIGenerator documents the mounted operations of every registry.
type OpenAPIGenerator struct {
	info      OpenAPIInfo
	basicAuth bool
	mu        sync.RWMutex
	resources []documented
}

type documented struct {
	entity *crud.Entity
	routes []crud.Route
}

func NewOpenAPIGenerator(info OpenAPIInfo, basicAuth bool) *OpenAPIGenerator {
	return &OpenAPIGenerator{info: info, basicAuth: basicAuth}
}

// Add documents routes mounted for entity.
func (g *OpenAPIGenerator) Add(entity *crud.Entity, routes []crud.Route) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = append(g.resources, documented{entity: entity, routes: routes})
}

// ServeHTTP implements http.Handler to serve the OpenAPI specification
func (g *OpenAPIGenerator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(g.GenerateSpecification())
}

// GenerateSpecification creates a complete OpenAPI 3.1 document. Component
// schemas are the JSON Schemas the operations validate with.
func (g *OpenAPIGenerator) GenerateSpecification() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()

	paths := make(map[string]map[string]any)
	schemas := make(map[string]any)

	for _, res := range g.resources {
		name := res.entity.Name()
		for _, route := range res.routes {
			b := res.entity.Operations[route.Kind]
			if _, ok := schemas[name]; !ok {
				schemas[name] = b.Response.JSONSchema()
			}
			if paths[route.Path] == nil {
				paths[route.Path] = make(map[string]any)
			}
			paths[route.Path][strings.ToLower(route.Method)] = g.operation(res.entity, route, b)
		}
	}

	spec := map[string]any{
		"openapi": "3.1.0",
		"info":    g.info,
		"paths":   paths,
		"components": map[string]any{
			"schemas": schemas,
			"responses": map[string]any{
				"Error": map[string]any{
					"description": "Error",
					"content": jsonContent(map[string]any{
						"type": "object",
						"properties": map[string]any{
							"message":    map[string]string{"type": "string"},
							"code":       map[string]string{"type": "integer"},
							"request_id": map[string]string{"type": "string"},
						},
					}),
				},
			},
		},
	}
	if g.basicAuth {
		spec["components"].(map[string]any)["securitySchemes"] = map[string]any{
			"basicAuth": map[string]any{
				"type":        "http",
				"scheme":      "basic",
				"description": "Basic HTTP authentication using username and password",
			},
		}
		spec["security"] = []map[string][]string{{"basicAuth": {}}}
	}
	return spec
}

var summaries = map[crud.Kind]string{
	crud.FindOne:         "Get %s by key",
	crud.FindMany:        "List %s",
	crud.UpsertOne:       "Create %s",
	crud.UpsertMany:      "Create many %s",
	crud.UpdateOne:       "Replace %s by key",
	crud.UpdateMany:      "Replace matching %s",
	crud.PatchOne:        "Update %s by key",
	crud.PatchMany:       "Update matching %s",
	crud.DeleteOne:       "Delete %s by key",
	crud.DeleteMany:      "Delete matching %s",
	crud.PostRedirectGet: "Create %s and redirect to it",
}

func (g *OpenAPIGenerator) operation(e *crud.Entity, route crud.Route, b crud.Binding) map[string]any {
	op := map[string]any{
		"operationId": route.Kind.String() + "_" + strings.ReplaceAll(e.Name(), ".", "_"),
		"summary":     fmt.Sprintf(summaries[route.Kind], e.Table),
		"tags":        []string{e.Name()},
	}

	var params []map[string]any
	if b.RequestURLParam != nil {
		params = append(params, parameters("path", b.RequestURLParam)...)
	}
	if b.RequestQuery != nil {
		params = append(params, parameters("query", b.RequestQuery)...)
	}
	if len(params) > 0 {
		op["parameters"] = params
	}

	if b.RequestBody != nil {
		body := any(b.RequestBody.JSONSchema())
		if route.Kind == crud.UpsertMany {
			body = map[string]any{"type": "array", "items": body}
		}
		op["requestBody"] = map[string]any{"required": true, "content": jsonContent(body)}
	}

	op["responses"] = responses(e, route.Kind, b)
	return op
}

func parameters(in string, s *crud.Schema) []map[string]any {
	js := s.JSONSchema()
	names := s.Properties()
	sort.Strings(names)
	params := make([]map[string]any, 0, len(names))
	for _, name := range names {
		p := map[string]any{"name": name, "in": in, "schema": js.Properties[name]}
		if in == "path" {
			p["required"] = true
		}
		if in == "query" && s.PropertyType(name) == "array" {
			p["explode"] = true
		}
		params = append(params, p)
	}
	return params
}

func responses(e *crud.Entity, k crud.Kind, b crud.Binding) map[string]any {
	ref := map[string]any{"$ref": "#/components/schemas/" + e.Name()}
	item := any(ref)
	switch k {
	case crud.DeleteOne, crud.DeleteMany:
		item = b.Response.JSONSchema()
	}
	body := item
	if k.List() {
		body = map[string]any{"type": "array", "items": item}
	}

	errRef := map[string]string{"$ref": "#/components/responses/Error"}
	r := map[string]any{"500": errRef}
	totalCount := map[string]any{"x-total-count": map[string]any{"schema": map[string]string{"type": "integer"}}}

	switch k {
	case crud.PostRedirectGet:
		r["303"] = map[string]any{
			"description": "See Other",
			"headers":     map[string]any{"Location": map[string]any{"schema": map[string]string{"type": "string"}}},
		}
		r["404"] = errRef
		r["409"] = errRef
	case crud.UpsertOne, crud.UpsertMany:
		r["201"] = map[string]any{"description": "Created", "headers": totalCount, "content": jsonContent(body)}
		r["409"] = errRef
	default:
		r["200"] = map[string]any{"description": "OK", "headers": totalCount, "content": jsonContent(body)}
		if k != crud.FindMany {
			r["204"] = map[string]string{"description": "No matching rows"}
		}
	}
	if k.Capabilities().Body || k.Capabilities().Query || k.Capabilities().URLParam {
		r["400"] = errRef
		r["422"] = errRef
	}
	return r
}

func jsonContent(schema any) map[string]any {
	return map[string]any{"application/json": map[string]any{"schema": schema}}
}
