package mcpwire

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/bridge"
	"taskbridge/internal/operations"
)

func noop(context.Context, bridge.Args, bridge.Progress) (bridge.Payload, error) { return nil, nil }

func catalog(t *testing.T) *bridge.Registry {
	t.Helper()
	reg := bridge.NewRegistry()
	for _, d := range []bridge.Descriptor{
		{Name: "search", Kind: bridge.KindTool, ReadOnly: true, Handler: noop, Schema: bridge.Schema{Fields: []bridge.Field{
			bridge.StringField("status", bridge.OneOf("open", "done")),
			bridge.IntegerField("limit", bridge.Required()),
		}}},
		{Name: "item", Kind: bridge.KindResource, URI: "item://{id}", MIMEType: "application/json", Handler: noop,
			Schema: bridge.Schema{Fields: []bridge.Field{bridge.IntegerField("id", bridge.Required())}}},
		{Name: "all", Kind: bridge.KindResource, URI: "item://all", Handler: noop},
		{Name: "plan", Kind: bridge.KindPrompt, Handler: noop, Schema: bridge.Schema{Fields: []bridge.Field{
			bridge.StringField("goal", bridge.Required(), bridge.Describe("What to plan")),
		}}},
	} {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func TestToolCarriesSchemaAndHints(t *testing.T) {
	d, err := catalog(t).Get("search")
	require.NoError(t, err)

	raw, err := json.Marshal(Tool(d))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "search", got["name"])
	schema := got["inputSchema"].(map[string]any)
	assert.Equal(t, []any{"limit"}, schema["required"])
	assert.Equal(t, []any{"open", "done"}, schema["properties"].(map[string]any)["status"].(map[string]any)["enum"])
	assert.Equal(t, true, got["annotations"].(map[string]any)["readOnlyHint"])
}

func TestToolDestructiveHint(t *testing.T) {
	hints := map[string]bool{}
	for _, d := range operations.Descriptors(nil, nil) {
		if d.Kind == bridge.KindTool {
			hints[d.Name] = *Tool(d).Annotations.DestructiveHint
		}
	}
	assert.Equal(t, map[string]bool{
		"create_task":       false,
		"get_task":          false,
		"update_task":       true,
		"delete_task":       true,
		"bulk_update_tasks": true,
		"search_tasks":      false,
		"get_task_metrics":  false,
	}, hints)
}

func TestToolResultMirrorsEnvelope(t *testing.T) {
	res := ToolResult(bridge.Success(bridge.Payload{"message": "ok"}))
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.JSONEq(t, `{"success":true,"message":"ok"}`, res.Content[0].(mcp.TextContent).Text)

	failed := bridge.Failure(bridge.ErrValidation, "limit is required")
	failed.Field = "limit"
	res = ToolResult(failed)
	assert.True(t, res.IsError)
	assert.Equal(t, map[string]any{
		"success": false, "error": "limit is required", "error_kind": "ValidationError", "field": "limit",
	}, res.StructuredContent)
}

func TestFindResource(t *testing.T) {
	reg := catalog(t)

	d, args, ok := FindResource(reg, "item://all")
	require.True(t, ok)
	assert.Equal(t, "all", d.Name)
	assert.Empty(t, args)

	d, args, ok = FindResource(reg, "item://42")
	require.True(t, ok)
	assert.Equal(t, "item", d.Name)
	assert.Equal(t, map[string]any{"id": int64(42)}, args)

	_, _, ok = FindResource(reg, "other://42")
	assert.False(t, ok)
}

func TestResourceListings(t *testing.T) {
	reg := catalog(t)
	item, _ := reg.Get("item")

	raw, err := json.Marshal(ResourceTemplate(item))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"uriTemplate":"item://{id}"`)
	assert.Contains(t, string(raw), `"inputSchema"`)

	all, _ := reg.Get("all")
	assert.Nil(t, Resource(all).Meta)
}

func TestPromptRoundTrip(t *testing.T) {
	d, err := catalog(t).Get("plan")
	require.NoError(t, err)
	p := Prompt(d)
	require.Len(t, p.Arguments, 1)
	assert.Equal(t, mcp.PromptArgument{Name: "goal", Description: "What to plan", Required: true}, p.Arguments[0])

	res, err := PromptResult(bridge.Success(bridge.Payload{
		"description": "Planner",
		"messages":    []bridge.PromptMessage{{Role: "user", Text: "plan it"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "Planner", res.Description)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, mcp.RoleUser, res.Messages[0].Role)
	assert.Equal(t, "plan it", res.Messages[0].Content.(mcp.TextContent).Text)
}

func TestEnvelopeError(t *testing.T) {
	tests := []struct {
		kind bridge.ErrorKind
		code int64
	}{
		{bridge.ErrNotFound, CodeResourceNotFound},
		{bridge.ErrValidation, CodeInvalidParams},
		{bridge.ErrUpstream, CodeInternal},
		{bridge.ErrInternal, CodeInternal},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			e := EnvelopeError(bridge.Failure(tc.kind, "boom")).JSONRPC()
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, "boom", e.Message)
			require.NotNil(t, e.Data)
			assert.JSONEq(t, `{"error_kind":"`+string(tc.kind)+`"}`, string(*e.Data))
		})
	}
}
