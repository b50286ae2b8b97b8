package mcphttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taskbridge/internal/bridge"
	"taskbridge/internal/jsonrpc"
	"taskbridge/internal/mcpconst"
	"taskbridge/internal/mcphttp"
	"taskbridge/internal/rest"
	"taskbridge/internal/test"
)

const secret = "mcp-secret"

func newServer(t *testing.T) (*test.Bridge, string) {
	t.Helper()
	b := test.NewBridge(t)
	b.Seed(t)
	mcpServer := mcphttp.New(b.Dispatcher, b.Registry, mcphttp.Options{Version: "test", Logger: b.Logger})
	api := rest.New(b.Dispatcher, b.Registry, rest.Options{
		Secret: secret,
		Logger: b.Logger,
		Mounts: map[string]http.Handler{"/mcp": mcpServer},
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return b, srv.URL + "/mcp"
}

type progressLog struct {
	mu     sync.Mutex
	events []*sdk.ProgressNotificationParams
}

func (p *progressLog) add(_ context.Context, req *sdk.ProgressNotificationClientRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, req.Params)
}

func (p *progressLog) snapshot() []*sdk.ProgressNotificationParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

func connect(t *testing.T, endpoint string, progress *progressLog) *sdk.ClientSession {
	t.Helper()
	opts := &sdk.ClientOptions{}
	if progress != nil {
		opts.ProgressNotificationHandler = progress.add
	}
	client := sdk.NewClient(&sdk.Implementation{Name: t.Name(), Version: "1.0"}, opts)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cs, err := client.Connect(ctx, &sdk.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: mcphttp.BearerClient(secret),
		MaxRetries: -1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func structured(t *testing.T, res *sdk.CallToolResult) map[string]any {
	t.Helper()
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestListings(t *testing.T) {
	_, endpoint := newServer(t)
	cs := connect(t, endpoint, nil)
	ctx := context.Background()

	assert.Equal(t, "taskbridge", cs.InitializeResult().ServerInfo.Name)

	tools, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"create_task", "get_task", "update_task", "delete_task",
		"bulk_update_tasks", "search_tasks", "get_task_metrics"}, names)

	resources, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
	require.NoError(t, err)
	assert.Len(t, resources.Resources, 4)

	templates, err := cs.ListResourceTemplates(ctx, &sdk.ListResourceTemplatesParams{})
	require.NoError(t, err)
	require.Len(t, templates.ResourceTemplates, 1)
	assert.Equal(t, "task://get/{id}", templates.ResourceTemplates[0].URITemplate)

	prompts, err := cs.ListPrompts(ctx, &sdk.ListPromptsParams{})
	require.NoError(t, err)
	assert.Len(t, prompts.Prompts, 4)
}

func TestCallTool(t *testing.T) {
	_, endpoint := newServer(t)
	cs := connect(t, endpoint, nil)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: "create_task", Arguments: map[string]any{"title": "X"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	got := structured(t, res)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "Task created successfully with ID: 6", got["message"])
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"success":true`)

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: "update_task", Arguments: map[string]any{"task_id": 999999, "status": "completed"}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, map[string]any{"success": false, "error": "Task not found", "error_kind": "NotFound"}, structured(t, res))

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: "create_task", Arguments: map[string]any{}})
	require.NoError(t, err)
	got = structured(t, res)
	assert.Equal(t, "ValidationError", got["error_kind"])
	assert.Equal(t, "title", got["field"])
}

func TestReadResourceAndPrompt(t *testing.T) {
	_, endpoint := newServer(t)
	cs := connect(t, endpoint, nil)
	ctx := context.Background()

	res, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "task://get/2"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "task://get/2", res.Contents[0].URI)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	assert.Contains(t, res.Contents[0].Text, "Design database schema")

	res, err = cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "task://pending"})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, "Fix login timeout bug")

	_, err = cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "task://get/424242"})
	assert.ErrorContains(t, err, "Task not found")
	_, err = cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "task://nowhere"})
	assert.Error(t, err)

	prompt, err := cs.GetPrompt(ctx, &sdk.GetPromptParams{
		Name:      "sprint_planning",
		Arguments: map[string]string{"sprint_duration": "10", "team_capacity": "30"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sprint planning for 10 days with 30 story points capacity", prompt.Description)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, sdk.Role("user"), prompt.Messages[0].Role)

	_, err = cs.GetPrompt(ctx, &sdk.GetPromptParams{Name: "sprint_planning", Arguments: map[string]string{"sprint_duration": "10"}})
	assert.ErrorContains(t, err, "team_capacity is required")
}

func TestProgressThroughSDK(t *testing.T) {
	b, endpoint := newServer(t)
	progress := &progressLog{}
	cs := connect(t, endpoint, progress)

	ids := make([]any, 0, 12)
	for i := range 12 {
		ids = append(ids, i+1)
	}
	for range 7 {
		env := b.Dispatcher.Invoke(context.Background(), bridge.Request{
			Name:      "create_task",
			Arguments: map[string]any{"title": "filler"},
		}, nil)
		require.True(t, env.OK(), env.Message)
	}

	params := &sdk.CallToolParams{Name: "bulk_update_tasks", Arguments: map[string]any{"task_ids": ids, "priority": "low"}}
	params.SetProgressToken("bulk-sdk")
	res, err := cs.CallTool(context.Background(), params)
	require.NoError(t, err)
	got := structured(t, res)
	assert.Equal(t, 12.0, got["succeeded"])

	// Delivery is best effort; whatever arrives must be ordered and bounded.
	require.Eventually(t, func() bool { return len(progress.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	last := -1.0
	for _, p := range progress.snapshot() {
		assert.Equal(t, "bulk-sdk", p.ProgressToken)
		assert.Equal(t, 12.0, p.Total)
		assert.GreaterOrEqual(t, p.Progress, last)
		assert.LessOrEqual(t, p.Progress, p.Total)
		last = p.Progress
	}
}

func TestWireLevelSession(t *testing.T) {
	_, endpoint := newServer(t)
	ctx := context.Background()

	anonymous := &jsonrpc.Session{URL: endpoint}
	_, err := anonymous.Initialize(ctx, t.Name())
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	s := &jsonrpc.Session{URL: endpoint, Headers: map[string]string{"Authorization": "Bearer " + secret}}
	init, err := s.Initialize(ctx, t.Name())
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.NotNil(t, init.Capabilities.Tools)
	assert.NotNil(t, init.Capabilities.Resources)
	assert.NotNil(t, init.Capabilities.Prompts)

	var call struct {
		IsError           bool           `json:"isError"`
		StructuredContent map[string]any `json:"structuredContent"`
	}
	ex, err := s.Result(ctx, mcpconst.ToolsCall, map[string]any{
		"name":      "bulk_update_tasks",
		"arguments": map[string]any{"task_ids": []int{1, 999, 2}, "status": "completed"},
		"_meta":     map[string]any{"progressToken": 42},
	}, &call)
	require.NoError(t, err)
	assert.False(t, call.IsError)
	assert.Equal(t, 3.0, call.StructuredContent["total"])
	assert.Equal(t, 2.0, call.StructuredContent["succeeded"])
	assert.Equal(t, 1.0, call.StructuredContent["failed"])
	for _, n := range ex.Notifications {
		assert.Equal(t, string(mcpconst.NotificationsProgress), n.Method)
		var p struct {
			ProgressToken json.Number `json:"progressToken"`
			Progress      float64     `json:"progress"`
			Total         float64     `json:"total"`
		}
		require.NoError(t, json.Unmarshal(*n.Params, &p))
		assert.Equal(t, "42", p.ProgressToken.String())
		assert.Equal(t, 3.0, p.Total)
	}

	_, err = s.Result(ctx, mcpconst.ResourcesRead, map[string]any{"uri": "task://missing"}, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(-32002), rpcErr.Code)
}
