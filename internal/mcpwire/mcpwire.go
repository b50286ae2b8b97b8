// Package mcpwire converts registry descriptors and dispatcher envelopes into
// MCP wire types. Every MCP transport renders operations through it so that
// listings and results look the same on stdio and HTTP.
package mcpwire

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/yosida95/uritemplate/v3"

	"taskbridge/internal/bridge"
)

// JSON-RPC error codes used for failed resource reads and prompt gets. Tool
// failures are reported inside the tool result instead.
const (
	CodeResourceNotFound int64 = -32002
	CodeInvalidParams    int64 = jsonrpc2.CodeInvalidParams
	CodeInternal         int64 = jsonrpc2.CodeInternalError
)

func Tool(d bridge.Descriptor) mcp.Tool {
	schema, _ := json.Marshal(d.Schema.JSONSchema())
	readOnly := d.ReadOnly
	destructive := d.Destructive
	return mcp.Tool{
		Name:           d.Name,
		Description:    d.Description,
		RawInputSchema: schema,
		Annotations: mcp.ToolAnnotation{
			ReadOnlyHint:    &readOnly,
			DestructiveHint: &destructive,
			IdempotentHint:  &readOnly,
		},
	}
}

func Resource(d bridge.Descriptor) mcp.Resource {
	return mcp.Resource{
		URI:         d.URI,
		Name:        d.Name,
		Description: d.Description,
		MIMEType:    d.MIMEType,
		Meta:        schemaMeta(d.Schema),
	}
}

func ResourceTemplate(d bridge.Descriptor) mcp.ResourceTemplate {
	tmpl, _ := uritemplate.New(d.URI)
	return mcp.ResourceTemplate{
		URITemplate: &mcp.URITemplate{Template: tmpl},
		Name:        d.Name,
		Description: d.Description,
		MIMEType:    d.MIMEType,
		Meta:        schemaMeta(d.Schema),
	}
}

// schemaMeta advertises a resource's input schema, since MCP resources have no
// schema field of their own.
func schemaMeta(s bridge.Schema) *mcp.Meta {
	if len(s.Fields) == 0 {
		return nil
	}
	return &mcp.Meta{AdditionalFields: map[string]any{"inputSchema": s.JSONSchema()}}
}

func Prompt(d bridge.Descriptor) mcp.Prompt {
	p := mcp.Prompt{Name: d.Name, Description: d.Description}
	for _, f := range d.Schema.Fields {
		p.Arguments = append(p.Arguments, mcp.PromptArgument{
			Name:        f.Name,
			Description: f.Description,
			Required:    f.Required,
		})
	}
	return p
}

// ToolResult frames an envelope as a tool result. The text content and the
// structured content carry the same envelope body.
func ToolResult(env *bridge.Envelope) *mcp.CallToolResult {
	body := env.Body()
	text, err := json.Marshal(body)
	if err != nil {
		text = []byte(`{"success":false,"error":"internal error","error_kind":"InternalError"}`)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(string(text))},
		StructuredContent: body,
		IsError:           !env.OK(),
	}
}

// ResourceResult renders a successful resource read. The resource text is the
// payload's "contents" value as indented JSON.
func ResourceResult(uri string, d bridge.Descriptor, env *bridge.Envelope) (*mcp.ReadResourceResult, error) {
	text, err := json.MarshalIndent(env.Payload["contents"], "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{mcp.TextResourceContents{
			URI:      uri,
			MIMEType: d.MIMEType,
			Text:     string(text),
		}},
	}, nil
}

// PromptResult renders a successful prompt payload.
func PromptResult(env *bridge.Envelope) (*mcp.GetPromptResult, error) {
	var msgs []bridge.PromptMessage
	raw, err := json.Marshal(env.Payload["messages"])
	if err == nil {
		err = json.Unmarshal(raw, &msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("decode prompt messages: %w", err)
	}

	desc, _ := env.Payload["description"].(string)
	res := &mcp.GetPromptResult{Description: desc, Messages: make([]mcp.PromptMessage, 0, len(msgs))}
	for _, m := range msgs {
		res.Messages = append(res.Messages, mcp.NewPromptMessage(mcp.Role(m.Role), mcp.NewTextContent(m.Text)))
	}
	return res, nil
}

// PromptArguments turns MCP's string prompt arguments into typed arguments.
func PromptArguments(d bridge.Descriptor, args map[string]string) map[string]any {
	return d.Schema.Coerce(args)
}

// FindResource resolves a resource URI against the catalog, exact URIs first,
// then templates in registration order.
func FindResource(cat bridge.Catalog, uri string) (bridge.Descriptor, map[string]any, bool) {
	var (
		match bridge.Descriptor
		vars  map[string]string
		found bool
	)
	for d := range cat.List(bridge.KindResource) {
		if d.Templated() {
			if !found {
				if v, ok := d.MatchURI(uri); ok {
					match, vars, found = d, v, true
				}
			}
			continue
		}
		if d.URI == uri {
			return d, map[string]any{}, true
		}
	}
	if !found {
		return bridge.Descriptor{}, nil, false
	}
	return match, match.Schema.Coerce(vars), true
}

// Error is a failed resource read or prompt get, reported as a JSON-RPC
// error.
type Error struct {
	Code    int64
	Kind    bridge.ErrorKind
	Message string
	Field   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// EnvelopeError converts a failed envelope.
func EnvelopeError(env *bridge.Envelope) *Error {
	code := CodeInternal
	switch env.ErrorKind {
	case bridge.ErrNotFound:
		code = CodeResourceNotFound
	case bridge.ErrValidation:
		code = CodeInvalidParams
	}
	return &Error{Code: code, Kind: env.ErrorKind, Message: env.Message, Field: env.Field}
}

// JSONRPC renders the error with its kind in the data member.
func (e *Error) JSONRPC() *jsonrpc2.Error {
	data := map[string]string{"error_kind": string(e.Kind)}
	if e.Field != "" {
		data["field"] = e.Field
	}
	out := &jsonrpc2.Error{Code: e.Code, Message: e.Message}
	out.SetError(data)
	return out
}

// ProgressParams is the notifications/progress payload for one event.
func ProgressParams(token mcp.ProgressToken, e bridge.ProgressEvent) mcp.ProgressNotificationParams {
	return mcp.ProgressNotificationParams{
		ProgressToken: token,
		Progress:      float64(e.Current),
		Total:         float64(e.Total),
		Message:       e.Note,
	}
}
