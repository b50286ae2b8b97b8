// Package stdio serves the operation catalog as an MCP server over a
// newline delimited JSON-RPC stream, normally the process's stdin and stdout.
package stdio

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sourcegraph/jsonrpc2"

	"taskbridge/internal/bridge"
)

// Server runs MCP sessions. Sessions share nothing but the invoker and the
// catalog, so one Server can serve many streams concurrently.
type Server struct {
	invoker      bridge.Invoker
	catalog      bridge.Catalog
	info         mcp.Implementation
	instructions string
	level        *slog.LevelVar
	logger       *slog.Logger
}

type Option func(*Server)

// WithInstructions sets the text returned to clients on initialize.
func WithInstructions(text string) Option {
	return func(s *Server) { s.instructions = text }
}

// WithLevelVar lets clients change the process log level through
// logging/setLevel.
func WithLevelVar(level *slog.LevelVar) Option {
	return func(s *Server) { s.level = level }
}

func NewServer(invoker bridge.Invoker, catalog bridge.Catalog, info mcp.Implementation, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{invoker: invoker, catalog: catalog, info: info, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs one session over rwc. It returns when the peer disconnects, the
// session is closed for a protocol violation, or ctx is done.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	sess := &session{server: s, logger: s.logger.With("session", sessionID())}
	conn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewPlainObjectStream(rwc),
		jsonrpc2.HandlerWithError(sess.handle).SuppressErrClosed(),
		jsonrpc2.SetLogger(slog.NewLogLogger(sess.logger.Handler(), slog.LevelDebug)),
	)
	sess.logger.Debug("session opened")

	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		_ = conn.Close()
		<-conn.DisconnectNotify()
	}
	sess.logger.Debug("session closed", "state", sess.state.String())
	return ctx.Err()
}

// ServeStdio runs a single session on the process's stdin and stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.ServeStreams(ctx, os.Stdin, os.Stdout)
}

// ServeStreams runs a single session reading requests from in and writing
// replies to out. in is closed when the session ends if it is an io.Closer.
func (s *Server) ServeStreams(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.Serve(ctx, streamConn{in: in, out: out})
}

type streamConn struct {
	in  io.Reader
	out io.Writer
}

func (c streamConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c streamConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c streamConn) Close() error {
	if closer, ok := c.in.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
