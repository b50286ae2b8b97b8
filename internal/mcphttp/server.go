// Package mcphttp serves the operation catalog over MCP streamable HTTP using
// the mcp-go server.
package mcphttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskbridge/internal/bridge"
	"taskbridge/internal/mcpconst"
	"taskbridge/internal/mcpwire"
)

type Options struct {
	Name         string
	Version      string
	Instructions string
	// EndpointPath defaults to /mcp.
	EndpointPath string
	Logger       *slog.Logger
}

// Server adapts the registry to an mcp-go server. It is an http.Handler.
type Server struct {
	invoker bridge.Invoker
	catalog bridge.Catalog
	logger  *slog.Logger
	mcp     *server.MCPServer
	http    *server.StreamableHTTPServer
}

func New(invoker bridge.Invoker, catalog bridge.Catalog, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EndpointPath == "" {
		opts.EndpointPath = "/mcp"
	}
	if opts.Name == "" {
		opts.Name = "taskbridge"
	}
	s := &Server{invoker: invoker, catalog: catalog, logger: opts.Logger}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		s.logger.Info("mcp session opened", "session", session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		s.logger.Info("mcp session closed", "session", session.SessionID())
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		s.logger.Debug("mcp request failed", "method", method, "id", id, "error", err)
	})

	s.mcp = server.NewMCPServer(opts.Name, opts.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithResourceRecovery(),
		server.WithInstructions(opts.Instructions),
		server.WithHooks(hooks),
	)
	s.http = server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(opts.EndpointPath),
		server.WithLogger(logAdapter{opts.Logger}),
	)
	s.Rebind()
	return s
}

// Rebind replaces the advertised tools, resources and prompts with the
// current catalog contents.
func (s *Server) Rebind() {
	var (
		tools     []server.ServerTool
		resources []server.ServerResource
		templates []server.ServerResourceTemplate
		prompts   []server.ServerPrompt
	)
	for d := range s.catalog.List() {
		switch d.Kind {
		case bridge.KindTool:
			tools = append(tools, server.ServerTool{Tool: mcpwire.Tool(d), Handler: s.callTool(d)})
		case bridge.KindResource:
			if d.Templated() {
				templates = append(templates, server.ServerResourceTemplate{
					Template: mcpwire.ResourceTemplate(d),
					Handler:  server.ResourceTemplateHandlerFunc(s.readResource(d)),
				})
				continue
			}
			resources = append(resources, server.ServerResource{Resource: mcpwire.Resource(d), Handler: s.readResource(d)})
		case bridge.KindPrompt:
			prompts = append(prompts, server.ServerPrompt{Prompt: mcpwire.Prompt(d), Handler: s.getPrompt(d)})
		}
	}
	s.mcp.SetTools(tools...)
	s.mcp.SetResources(resources...)
	s.mcp.SetResourceTemplates(templates...)
	s.mcp.SetPrompts(prompts...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

func (s *Server) callTool(d bridge.Descriptor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if req.Params.Arguments != nil && args == nil {
			return mcpwire.ToolResult(bridge.Failure(bridge.ErrValidation, "arguments must be an object")), nil
		}
		sink := bridge.DiscardProgress
		if req.Params.Meta != nil && req.Params.Meta.ProgressToken != nil {
			sink = s.progressSink(ctx, req.Params.Meta.ProgressToken)
		}
		env := s.invoker.Invoke(context.WithoutCancel(ctx),
			bridge.Request{Name: d.Name, Kind: bridge.KindTool, Arguments: args}, sink)
		return mcpwire.ToolResult(env), nil
	}
}

func (s *Server) progressSink(ctx context.Context, token mcp.ProgressToken) bridge.ProgressSink {
	return bridge.ProgressSinkFunc(func(e bridge.ProgressEvent) {
		p := mcpwire.ProgressParams(token, e)
		params := map[string]any{
			"progressToken": p.ProgressToken,
			"progress":      p.Progress,
			"total":         p.Total,
		}
		if p.Message != "" {
			params["message"] = p.Message
		}
		if err := s.mcp.SendNotificationToClient(ctx, string(mcpconst.NotificationsProgress), params); err != nil {
			s.logger.Debug("progress dropped", "error", err)
		}
	})
}

func (s *Server) readResource(d bridge.Descriptor) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		args := map[string]any{}
		if d.Templated() {
			vars, ok := d.MatchURI(req.Params.URI)
			if !ok {
				return nil, mcpwire.EnvelopeError(bridge.Failure(bridge.ErrNotFound, "Resource not found: "+req.Params.URI))
			}
			args = d.Schema.Coerce(vars)
		}
		env := s.invoker.Invoke(context.WithoutCancel(ctx),
			bridge.Request{Name: d.Name, Kind: bridge.KindResource, Arguments: args}, nil)
		if !env.OK() {
			return nil, mcpwire.EnvelopeError(env)
		}
		result, err := mcpwire.ResourceResult(req.Params.URI, d, env)
		if err != nil {
			return nil, err
		}
		return result.Contents, nil
	}
}

func (s *Server) getPrompt(d bridge.Descriptor) server.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		env := s.invoker.Invoke(context.WithoutCancel(ctx), bridge.Request{
			Name:      d.Name,
			Kind:      bridge.KindPrompt,
			Arguments: mcpwire.PromptArguments(d, req.Params.Arguments),
		}, nil)
		if !env.OK() {
			return nil, mcpwire.EnvelopeError(env)
		}
		return mcpwire.PromptResult(env)
	}
}

// logAdapter routes the transport's printf style logging into slog.
type logAdapter struct{ logger *slog.Logger }

func (l logAdapter) Infof(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "mcphttp")
}

func (l logAdapter) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "mcphttp")
}
