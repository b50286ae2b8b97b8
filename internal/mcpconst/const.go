package mcpconst

// Header names in canonical form, so they can be used directly as
// http.Header keys.
const (
	MCP_SESSION_ID_HEADER = "Mcp-Session-Id"
	// INVOCATION_ID_HEADER carries the id a REST caller uses to subscribe to
	// the progress stream of its call.
	INVOCATION_ID_HEADER = "X-Invocation-Id"
)

// JsonRpcMethod is a typed string for JSON-RPC method names.
type JsonRpcMethod string

// Defines the JSON-RPC methods the bridge speaks for MCP.
const (
	Initialize               JsonRpcMethod = "initialize"
	NotificationsInitialized JsonRpcMethod = "notifications/initialized"
	NotificationsProgress    JsonRpcMethod = "notifications/progress"
	NotificationsCancelled   JsonRpcMethod = "notifications/cancelled"
	Ping                     JsonRpcMethod = "ping"
	ToolsList                JsonRpcMethod = "tools/list"
	ToolsCall                JsonRpcMethod = "tools/call"
	ResourcesList            JsonRpcMethod = "resources/list"
	ResourcesTemplatesList   JsonRpcMethod = "resources/templates/list"
	ResourcesRead            JsonRpcMethod = "resources/read"
	PromptsList              JsonRpcMethod = "prompts/list"
	PromptsGet               JsonRpcMethod = "prompts/get"
	LoggingSetLevel          JsonRpcMethod = "logging/setLevel"
)
