package domain

import "time"

// TransportKind selects how the gateway reaches a tool server.
type TransportKind string

const (
	// TransportProcess launches the server as a subprocess and speaks MCP
	// over its stdio pipes.
	TransportProcess TransportKind = "process"

	// TransportEventStream connects to a server-sent-events endpoint.
	TransportEventStream TransportKind = "event-stream"

	// TransportHTTP connects to a streamable HTTP endpoint.
	TransportHTTP TransportKind = "http"
)

// NormalizeTransport maps config aliases onto a canonical TransportKind.
func NormalizeTransport(kind string) TransportKind {
	switch kind {
	case "process", "stdio":
		return TransportProcess
	case "event-stream", "sse":
		return TransportEventStream
	case "http", "streamable-http":
		return TransportHTTP
	default:
		return TransportKind(kind)
	}
}

// ServerDescriptor is the registry entry for one tool server. Descriptors are
// immutable once registered; add/remove are administrative operations.
type ServerDescriptor struct {
	ServerID        string            `json:"serverId"`
	DisplayName     string            `json:"displayName"`
	Transport       TransportKind     `json:"transportKind"`
	Endpoint        string            `json:"endpoint,omitempty"`
	Command         []string          `json:"command,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	CapabilityTags  []string          `json:"capabilityTags,omitempty"`
	RoutingKeywords []string          `json:"routingKeywords,omitempty"`
	ToolNames       []string          `json:"toolNames,omitempty"`
}

// ToolDescriptor describes one callable tool as discovered from a server at
// connect time. Descriptors are owned by the session that discovered them and
// are only valid while that session is ready.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ToolResult is the flattened outcome of one tool invocation. IsError marks a
// tool-reported failure; those are observations for the model, not gateway
// errors.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

type SessionStatus string

const (
	SessionConnecting SessionStatus = "connecting"
	SessionReady      SessionStatus = "ready"
	SessionError      SessionStatus = "error"
	SessionClosed     SessionStatus = "closed"
)

// ServerStatus is the best-effort liveness reported by listServers: a server
// with at least one live session is "connected", otherwise "available".
type ServerStatus string

const (
	ServerAvailable ServerStatus = "available"
	ServerConnected ServerStatus = "connected"
)

// ServerSummary pairs a descriptor with its live status for status queries.
type ServerSummary struct {
	Descriptor ServerDescriptor `json:"descriptor"`
	Status     ServerStatus     `json:"status"`
}

// ChatRequest is the inbound boundary contract. Identity is an opaque
// authenticated principal supplied by an external collaborator; the core
// never validates credentials itself.
type ChatRequest struct {
	Identity     string `json:"-"`
	Prompt       string `json:"prompt"`
	ThreadID     string `json:"threadId,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Model        string `json:"modelName,omitempty"`
}

// Usage carries the per-request accounting returned alongside the result and
// persisted on the assistant message.
type Usage struct {
	SelectedServer   string `json:"selected_server"`
	Rounds           int    `json:"rounds"`
	ToolCalls        int    `json:"tool_calls"`
	ToolErrors       int    `json:"tool_errors"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Truncated        bool   `json:"truncated,omitempty"`
}

// ChatResult is returned to the caller after the orchestration loop finishes.
type ChatResult struct {
	Result             string `json:"result"`
	Usage              Usage  `json:"usage"`
	ThreadID           string `json:"threadId"`
	AssistantMessageID string `json:"assistantMessageId"`
}

// SessionInfo is a read-only snapshot of one pooled session.
type SessionInfo struct {
	Identity  string        `json:"identity"`
	ServerID  string        `json:"serverId"`
	Status    SessionStatus `json:"status"`
	ToolCount int           `json:"toolCount"`
	LastUsed  time.Time     `json:"lastUsed"`
}
