package grpcbridge_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"taskbridge/internal/bridge"
	"taskbridge/internal/grpcbridge"
	"taskbridge/internal/test"
)

const secret = "grpc-secret"

func dial(t *testing.T) (*test.Bridge, *grpc.ClientConn, *test.CountingInvoker) {
	t.Helper()
	b := test.NewBridge(t)
	b.Seed(t)
	counter := &test.CountingInvoker{Invoker: b.Dispatcher}

	lis := bufconn.Listen(1 << 20)
	stop := grpcbridge.NewServer(counter, b.Registry, grpcbridge.Options{Secret: secret, Logger: b.Logger}).StartOnListener(lis)
	t.Cleanup(stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return b, conn, counter
}

func TestInvoke(t *testing.T) {
	assert := assert.New(t)
	_, conn, _ := dial(t)
	c := grpcbridge.NewClient(conn, secret)
	ctx := context.Background()

	got, err := c.Invoke(ctx, "create_task", map[string]any{"title": "X"})
	require.NoError(t, err)
	assert.Equal(true, got["success"])
	assert.Equal("Task created successfully with ID: 6", got["message"])
	assert.Equal(6.0, got["task"].(map[string]any)["id"])

	got, err = c.Invoke(ctx, "task_get", map[string]any{"id": 4})
	require.NoError(t, err)
	assert.Equal("task://get/4", got["uri"])
}

func TestInvokeFailures(t *testing.T) {
	_, conn, _ := dial(t)
	c := grpcbridge.NewClient(conn, secret)

	tests := []struct {
		name    string
		op      string
		args    map[string]any
		code    codes.Code
		kind    bridge.ErrorKind
		field   string
		message string
	}{
		{"not found", "update_task", map[string]any{"task_id": 999999, "status": "completed"},
			codes.NotFound, bridge.ErrNotFound, "", "Task not found"},
		{"validation", "create_task", map[string]any{}, codes.InvalidArgument, bridge.ErrValidation, "title", "title is required"},
		{"unknown", "drop_tables", nil, codes.NotFound, bridge.ErrNotFound, "", "Unknown operation: drop_tables"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Invoke(context.Background(), tc.op, tc.args)
			st, _ := status.FromError(err)
			assert.Equal(t, tc.code, st.Code())
			assert.Equal(t, tc.message, st.Message())
			kind, field, ok := grpcbridge.ErrorKind(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.field, field)
		})
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+secret)
	err := conn.Invoke(ctx, grpcbridge.InvokeMethod, &structpb.Struct{}, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	bad := &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":      structpb.NewStringValue("create_task"),
		"arguments": structpb.NewStringValue("title=X"),
	}}
	err = conn.Invoke(ctx, grpcbridge.InvokeMethod, bad, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, codes.InvalidArgument, grpcbridge.CodeFor(bridge.ErrValidation))
	assert.Equal(t, codes.NotFound, grpcbridge.CodeFor(bridge.ErrNotFound))
	assert.Equal(t, codes.Unavailable, grpcbridge.CodeFor(bridge.ErrUpstream))
	assert.Equal(t, codes.Internal, grpcbridge.CodeFor(bridge.ErrInternal))
}

func TestInvokeStream(t *testing.T) {
	_, conn, _ := dial(t)
	c := grpcbridge.NewClient(conn, secret)
	ctx := context.Background()

	var events []bridge.ProgressEvent
	got, err := c.InvokeStream(ctx, "bulk_update_tasks",
		map[string]any{"task_ids": []any{1, 2, 3, 4, 5}, "status": "completed"},
		func(e bridge.ProgressEvent) { events = append(events, e) })
	require.NoError(t, err)
	assert.Equal(t, 5.0, got["succeeded"])
	assert.Equal(t, []bridge.ProgressEvent{
		{Current: 0, Total: 5, Note: "Starting bulk update"},
		{Current: 5, Total: 5, Note: "Processed 5 of 5 tasks"},
	}, events)

	_, err = c.InvokeStream(ctx, "get_task", map[string]any{"task_id": 404}, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestListOperations(t *testing.T) {
	_, conn, _ := dial(t)
	c := grpcbridge.NewClient(conn, secret)

	all, err := c.ListOperations(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 16)

	prompts, err := c.ListOperations(context.Background(), bridge.KindPrompt)
	require.NoError(t, err)
	require.Len(t, prompts, 4)
	assert.Equal(t, "project_planning", prompts[0].Name)
	assert.Equal(t, []any{"project_description"}, prompts[0].InputSchema["required"])

	resources, err := c.ListOperations(context.Background(), bridge.KindResource)
	require.NoError(t, err)
	assert.Equal(t, "task://list", resources[0].URI)
	assert.True(t, resources[0].ReadOnly)
}

func TestAuth(t *testing.T) {
	_, conn, counter := dial(t)
	ctx := context.Background()

	for name, token := range map[string]string{"missing": "", "wrong": "nope"} {
		t.Run(name, func(t *testing.T) {
			c := grpcbridge.NewClient(conn, token)
			_, err := c.Invoke(ctx, "search_tasks", nil)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
			_, err = c.InvokeStream(ctx, "search_tasks", nil, nil)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
			_, err = c.ListOperations(ctx, "")
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}
	assert.Equal(t, 0, counter.Calls())

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcbridge.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
