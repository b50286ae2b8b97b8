// Package test wires the whole bridge in process for tests: a SQLite task
// store behind httptest, the backend client pointed at it, and a dispatcher
// over the full operation catalog.
package test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/backend"
	"taskbridge/internal/bridge"
	"taskbridge/internal/operations"
	"taskbridge/internal/store"
)

// Bridge is a fully wired bridge over a private in-memory store.
type Bridge struct {
	Store      *store.Store
	StoreURL   string
	Backend    *backend.Client
	Registry   *bridge.Registry
	Dispatcher *bridge.Dispatcher
	Logger     *slog.Logger
	Logs       *LogBuffer
}

// NewBridge builds a Bridge whose resources are released when t ends.
func NewBridge(t testing.TB) *Bridge {
	t.Helper()
	logs := &LogBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	st, err := store.Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := httptest.NewServer(st.Handler())
	t.Cleanup(srv.Close)

	client, err := backend.New(backend.Options{
		BaseURL:     srv.URL,
		Timeout:     5 * time.Second,
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	reg := bridge.NewRegistry()
	require.NoError(t, operations.Register(reg, client, logger))

	return &Bridge{
		Store:      st,
		StoreURL:   srv.URL,
		Backend:    client,
		Registry:   reg,
		Dispatcher: bridge.NewDispatcher(reg, logger),
		Logger:     logger,
		Logs:       logs,
	}
}

// Seed fills the store with its sample tasks.
func (b *Bridge) Seed(t testing.TB) {
	t.Helper()
	_, err := b.Store.Seed(context.Background())
	require.NoError(t, err)
}

// CountingInvoker wraps an Invoker and counts calls.
type CountingInvoker struct {
	bridge.Invoker
	mu    sync.Mutex
	calls int
}

func (c *CountingInvoker) Invoke(ctx context.Context, req bridge.Request, sink bridge.ProgressSink) *bridge.Envelope {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Invoker.Invoke(ctx, req, sink)
}

func (c *CountingInvoker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// LogBuffer is a bytes.Buffer safe for concurrent log writes.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *LogBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *LogBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
