package stdio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sourcegraph/jsonrpc2"

	"taskbridge/internal/bridge"
	"taskbridge/internal/mcpconst"
	"taskbridge/internal/mcpwire"
)

type state int

const (
	uninitialized state = iota
	ready
	closed
)

func (s state) String() string {
	switch s {
	case uninitialized:
		return "uninitialized"
	case ready:
		return "ready"
	default:
		return "closed"
	}
}

func sessionID() string {
	return uuid.NewString()[:8]
}

// session is the state of one connection. jsonrpc2 calls handle from the
// connection's read loop, so requests are handled one at a time and need no
// locking.
type session struct {
	server *Server
	logger *slog.Logger
	state  state
	client mcp.Implementation
}

// initializeResult mirrors mcp.InitializeResult with a plain capabilities
// object, which is simpler to build than the nested optional structs.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

func (s *session) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	method := mcpconst.JsonRpcMethod(req.Method)
	if s.state == uninitialized && method != mcpconst.Initialize {
		return s.violate(ctx, conn, req, "session not initialized: expected initialize, got "+req.Method)
	}

	switch method {
	case mcpconst.Initialize:
		if s.state == ready {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "session already initialized"}
		}
		return s.initialize(req)
	case mcpconst.NotificationsInitialized, mcpconst.NotificationsCancelled:
		return nil, nil
	case mcpconst.Ping:
		return struct{}{}, nil
	case mcpconst.LoggingSetLevel:
		return s.setLevel(req)
	case mcpconst.ToolsList:
		tools := []mcp.Tool{}
		for d := range s.server.catalog.List(bridge.KindTool) {
			tools = append(tools, mcpwire.Tool(d))
		}
		return mcp.ListToolsResult{Tools: tools}, nil
	case mcpconst.ResourcesList:
		resources := []mcp.Resource{}
		for d := range s.server.catalog.List(bridge.KindResource) {
			if !d.Templated() {
				resources = append(resources, mcpwire.Resource(d))
			}
		}
		return mcp.ListResourcesResult{Resources: resources}, nil
	case mcpconst.ResourcesTemplatesList:
		templates := []mcp.ResourceTemplate{}
		for d := range s.server.catalog.List(bridge.KindResource) {
			if d.Templated() {
				templates = append(templates, mcpwire.ResourceTemplate(d))
			}
		}
		return mcp.ListResourceTemplatesResult{ResourceTemplates: templates}, nil
	case mcpconst.PromptsList:
		prompts := []mcp.Prompt{}
		for d := range s.server.catalog.List(bridge.KindPrompt) {
			prompts = append(prompts, mcpwire.Prompt(d))
		}
		return mcp.ListPromptsResult{Prompts: prompts}, nil
	case mcpconst.ToolsCall:
		return s.callTool(ctx, conn, req)
	case mcpconst.ResourcesRead:
		return s.readResource(ctx, req)
	case mcpconst.PromptsGet:
		return s.getPrompt(ctx, req)
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

// violate answers a protocol violation with an error, when the message can be
// answered, and closes the session.
func (s *session) violate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, msg string) (any, error) {
	s.logger.Warn("protocol violation", "method", req.Method, "reason", msg)
	s.state = closed
	if !req.Notif {
		_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: msg})
	}
	_ = conn.Close()
	return nil, jsonrpc2.ErrClosed
}

func (s *session) initialize(req *jsonrpc2.Request) (any, error) {
	var params mcp.InitializeParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	version := mcp.LATEST_PROTOCOL_VERSION
	if slices.Contains(mcp.ValidProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}
	s.client = params.ClientInfo
	s.state = ready
	s.logger.Info("session initialized", "client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version, "protocol", version)

	return initializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
			"logging":   map[string]any{},
		},
		ServerInfo:   s.server.info,
		Instructions: s.server.instructions,
	}, nil
}

var slogLevels = map[mcp.LoggingLevel]slog.Level{
	mcp.LoggingLevelDebug:   slog.LevelDebug,
	mcp.LoggingLevelInfo:    slog.LevelInfo,
	mcp.LoggingLevelNotice:  slog.LevelInfo,
	mcp.LoggingLevelWarning: slog.LevelWarn,
	mcp.LoggingLevelError:   slog.LevelError,
}

func (s *session) setLevel(req *jsonrpc2.Request) (any, error) {
	var params mcp.SetLevelParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	level, ok := slogLevels[params.Level]
	if !ok {
		level = slog.LevelError
	}
	if s.server.level != nil {
		s.server.level.Set(level)
	}
	return struct{}{}, nil
}

func (s *session) callTool(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params mcp.CallToolParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	args, ok := params.Arguments.(map[string]any)
	if params.Arguments != nil && !ok {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "arguments must be an object"}
	}

	sink := bridge.DiscardProgress
	if params.Meta != nil && params.Meta.ProgressToken != nil {
		sink = s.progressSink(ctx, conn, params.Meta.ProgressToken)
	}
	// A disconnect does not abort the handler; its result is simply dropped.
	env := s.server.invoker.Invoke(context.WithoutCancel(ctx),
		bridge.Request{Name: params.Name, Kind: bridge.KindTool, Arguments: args}, sink)
	s.logger.Debug("tool called", "tool", params.Name, "ok", env.OK())
	return mcpwire.ToolResult(env), nil
}

func (s *session) progressSink(ctx context.Context, conn *jsonrpc2.Conn, token mcp.ProgressToken) bridge.ProgressSink {
	return bridge.ProgressSinkFunc(func(e bridge.ProgressEvent) {
		err := conn.Notify(context.WithoutCancel(ctx), string(mcpconst.NotificationsProgress), mcpwire.ProgressParams(token, e))
		if err != nil {
			s.logger.Debug("progress dropped", "error", err)
		}
	})
}

func (s *session) readResource(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	var params mcp.ReadResourceParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	d, args, ok := mcpwire.FindResource(s.server.catalog, params.URI)
	if !ok {
		return nil, mcpwire.EnvelopeError(bridge.Failure(bridge.ErrNotFound, "Resource not found: "+params.URI)).JSONRPC()
	}
	env := s.server.invoker.Invoke(context.WithoutCancel(ctx),
		bridge.Request{Name: d.Name, Kind: bridge.KindResource, Arguments: args}, nil)
	if !env.OK() {
		return nil, mcpwire.EnvelopeError(env).JSONRPC()
	}
	return mcpwire.ResourceResult(params.URI, d, env)
}

func (s *session) getPrompt(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	var params mcp.GetPromptParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	var args map[string]any
	for d := range s.server.catalog.List(bridge.KindPrompt) {
		if d.Name == params.Name {
			args = mcpwire.PromptArguments(d, params.Arguments)
			break
		}
	}
	env := s.server.invoker.Invoke(context.WithoutCancel(ctx),
		bridge.Request{Name: params.Name, Kind: bridge.KindPrompt, Arguments: args}, nil)
	if !env.OK() {
		return nil, mcpwire.EnvelopeError(env).JSONRPC()
	}
	return mcpwire.PromptResult(env)
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return nil
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: fmt.Sprintf("invalid %s params: %s", req.Method, strings.TrimPrefix(err.Error(), "json: ")),
		}
	}
	return nil
}
