// Package jsonrpc is a wire level MCP client for the streamable HTTP
// transport. It keeps every message the server sends back, including
// notifications streamed ahead of the response.
package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sourcegraph/jsonrpc2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taskbridge/internal/mcpconst"
)

// this allows us to leverage different ways to create the http Request, a normal
// network one or also a mock one for testing. we set headers and deal with the body
// the same either way in NewJSONRPCRequest()
type NewHttpRequester func(ctx context.Context, method string, url string, body io.Reader) (*http.Request, error)

var nextID atomic.Uint64

// NewJSONRPCRequest builds the POST for one JSON-RPC message. Methods under
// notifications/ are sent without an id.
func NewJSONRPCRequest(ctx context.Context, url string, jsonRpcMethod mcpconst.JsonRpcMethod, params any,
	additionalHeaders map[string]string, reqFunc NewHttpRequester) (*http.Request, error) {

	var rawParams *json.RawMessage
	if params != nil {
		paramsMsg, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		rawParams = (*json.RawMessage)(&paramsMsg)
	}

	isNotification := strings.HasPrefix(string(jsonRpcMethod), "notifications/")
	reqBody := &jsonrpc2.Request{
		Method: string(jsonRpcMethod),
		Params: rawParams,
		ID:     jsonrpc2.ID{Num: nextID.Add(1)},
		Notif:  isNotification,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error putting together jsonrpc request: %w", err)
	}

	req, err := reqFunc(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("problem creating new JSONRPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	for header, val := range additionalHeaders {
		req.Header.Set(header, val)
	}

	return req, nil
}

// Exchange is what came back for one request: the response, if any, and the
// notifications the server streamed before it.
type Exchange struct {
	Response      *jsonrpc2.Response
	Notifications []jsonrpc2.Request
	HTTP          *http.Response
}

// DoRequest sends a JSON-RPC request and parses the reply, which is either
// plain JSON or an SSE stream of messages.
func DoRequest(ctx context.Context, client *http.Client, req *http.Request) (*Exchange, error) {
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "failed to call mcp server: %v", err)
	}
	defer httpResp.Body.Close()
	ex := &Exchange{HTTP: httpResp}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		code := codes.Unavailable
		if httpResp.StatusCode == http.StatusUnauthorized {
			code = codes.Unauthenticated
		}
		return ex, status.Errorf(code, "mcp server returned non-2xx status: %d: %s", httpResp.StatusCode, string(body))
	}

	if !strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return ex, status.Errorf(codes.Internal, "failed to read mcp server response: %v", err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			// notifications are answered with 202 and no body
			return ex, nil
		}
		return ex, ex.add(body)
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if err := ex.add([]byte(data)); err != nil {
			return ex, err
		}
		if ex.Response != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return ex, status.Errorf(codes.Internal, "failed to read mcp server SSE response: %v", err)
	}
	return ex, nil
}

func (ex *Exchange) add(raw []byte) error {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return status.Errorf(codes.Internal, "failed to unmarshal mcp server message: %s", string(raw))
	}
	if probe.Method != "" {
		var n jsonrpc2.Request
		if err := json.Unmarshal(raw, &n); err != nil {
			return status.Errorf(codes.Internal, "failed to unmarshal mcp notification: %s", string(raw))
		}
		ex.Notifications = append(ex.Notifications, n)
		return nil
	}
	var resp jsonrpc2.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return status.Errorf(codes.Internal, "failed to unmarshal mcp server response: %s", string(raw))
	}
	ex.Response = &resp
	return nil
}

// Session is a client side MCP session over streamable HTTP.
type Session struct {
	URL     string
	Client  *http.Client
	Headers map[string]string
	// ID is the session id assigned by the server on initialize.
	ID string
}

func (s *Session) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

// Initialize runs the initialize handshake and records the session id.
func (s *Session) Initialize(ctx context.Context, clientName string) (*mcp.InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": clientName, "version": "1.0"},
	}
	var result mcp.InitializeResult
	ex, err := s.call(ctx, mcpconst.Initialize, params, &result)
	if err != nil {
		return nil, err
	}
	s.ID = ex.HTTP.Header.Get(mcpconst.MCP_SESSION_ID_HEADER)
	if _, err := s.Call(ctx, mcpconst.NotificationsInitialized, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Call sends one message within the session.
func (s *Session) Call(ctx context.Context, method mcpconst.JsonRpcMethod, params any) (*Exchange, error) {
	headers := make(map[string]string, len(s.Headers)+1)
	for k, v := range s.Headers {
		headers[k] = v
	}
	if s.ID != "" {
		headers[mcpconst.MCP_SESSION_ID_HEADER] = s.ID
	}
	req, err := NewJSONRPCRequest(ctx, s.URL, method, params, headers, http.NewRequestWithContext)
	if err != nil {
		return nil, err
	}
	return DoRequest(ctx, s.client(), req)
}

// Result calls method and decodes its result into out. A JSON-RPC error
// reply is returned as *jsonrpc2.Error.
func (s *Session) Result(ctx context.Context, method mcpconst.JsonRpcMethod, params any, out any) (*Exchange, error) {
	return s.call(ctx, method, params, out)
}

func (s *Session) call(ctx context.Context, method mcpconst.JsonRpcMethod, params any, out any) (*Exchange, error) {
	ex, err := s.Call(ctx, method, params)
	if err != nil {
		return ex, err
	}
	if ex.Response == nil {
		return ex, errors.New("no response from mcp server")
	}
	if ex.Response.Error != nil {
		return ex, ex.Response.Error
	}
	if out != nil && ex.Response.Result != nil {
		if err := json.Unmarshal(*ex.Response.Result, out); err != nil {
			return ex, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return ex, nil
}
