package rest

import (
	"taskbridge/internal/bridge"
	"taskbridge/internal/mcpconst"
)

// OpenAPI renders an OpenAPI 3.1 document for the bound routes. It is built
// from the same schemas the MCP listings use.
func (s *Server) OpenAPI() map[string]any {
	b := s.bindings.Load()
	paths := map[string]any{
		"/health": map[string]any{
			"get": map[string]any{
				"operationId": "health",
				"summary":     "Liveness probe",
				"security":    []any{},
				"responses": map[string]any{
					"200": jsonResponse("Service is up", map[string]any{"type": "object"}),
				},
			},
		},
		"/progress/{invocation_id}": map[string]any{
			"get": map[string]any{
				"operationId": "progress",
				"summary":     "Stream progress events of one invocation",
				"parameters": []any{map[string]any{
					"name":     "invocation_id",
					"in":       "path",
					"required": true,
					"schema":   map[string]any{"type": "string"},
				}},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Server sent events: progress then done",
						"content": map[string]any{
							"text/event-stream": map[string]any{"schema": map[string]any{"type": "string"}},
						},
					},
				},
			},
		},
	}
	for _, name := range b.order {
		paths["/"+name] = map[string]any{"post": operation(b.byName[name])}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   s.opts.Title,
			"version": s.opts.Version,
		},
		"paths":    paths,
		"security": []any{map[string]any{"bearerAuth": []any{}}},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
			},
			"schemas": map[string]any{
				"Success": map[string]any{
					"type":                 "object",
					"required":             []string{"success"},
					"properties":           map[string]any{"success": map[string]any{"const": true}},
					"additionalProperties": true,
				},
				"Error": map[string]any{
					"type":     "object",
					"required": []string{"success", "error", "error_kind"},
					"properties": map[string]any{
						"success": map[string]any{"const": false},
						"error":   map[string]any{"type": "string"},
						"error_kind": map[string]any{
							"type": "string",
							"enum": []string{
								string(bridge.ErrValidation), string(bridge.ErrNotFound),
								string(bridge.ErrUpstream), string(bridge.ErrInternal),
							},
						},
						"field": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func operation(d bridge.Descriptor) map[string]any {
	body := d.Schema.JSONSchema()
	op := map[string]any{
		"operationId": d.Name,
		"summary":     d.Description,
		"tags":        []string{string(d.Kind)},
		"parameters": []any{map[string]any{
			"name":        mcpconst.INVOCATION_ID_HEADER,
			"in":          "header",
			"required":    false,
			"description": "Correlates the call with GET /progress/{invocation_id}",
			"schema":      map[string]any{"type": "string"},
		}},
		"requestBody": map[string]any{
			"required": len(d.Schema.RequiredNames()) > 0,
			"content": map[string]any{
				"application/json": map[string]any{"schema": body},
			},
		},
		"responses": map[string]any{
			"200": jsonResponse("Operation succeeded", ref("Success")),
			"401": jsonResponse("Missing or invalid bearer token", ref("Error")),
			"404": jsonResponse("Entity or operation not found", ref("Error")),
			"422": jsonResponse("Arguments failed validation", ref("Error")),
			"500": jsonResponse("Internal error", ref("Error")),
			"502": jsonResponse("Backend unavailable", ref("Error")),
		},
	}
	op["x-read-only"] = d.ReadOnly
	op["x-destructive"] = d.Destructive
	if d.Kind == bridge.KindResource {
		op["x-resource-uri"] = d.URI
	}
	return op
}

func jsonResponse(description string, schema map[string]any) map[string]any {
	return map[string]any{
		"description": description,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}
