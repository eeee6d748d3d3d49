package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldServerID   = "serverID"
	FieldIdentity   = "identity"
	FieldThreadID   = "threadID"
	FieldTool       = "tool"
	FieldModel      = "model"
	FieldDurationMs = "duration_ms"
	FieldRequestID  = "request_id"
)

const (
	EventConnectAttempt = "connect_attempt"
	EventConnectSuccess = "connect_success"
	EventConnectFailure = "connect_failure"
	EventDisconnect     = "disconnect"
	EventIdleEvict      = "idle_evict"
	EventToolCall       = "tool_call"
	EventToolFailure    = "tool_failure"
	EventModelCall      = "model_call"
	EventModelFailure   = "model_failure"
	EventChatComplete   = "chat_complete"
	EventChatTruncated  = "chat_truncated"
	EventRegistryReload = "registry_reload"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ServerField(serverID string) zap.Field {
	return zap.String(FieldServerID, serverID)
}

func IdentityField(identity string) zap.Field {
	return zap.String(FieldIdentity, identity)
}

func ThreadField(threadID string) zap.Field {
	return zap.String(FieldThreadID, threadID)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func ModelField(model string) zap.Field {
	return zap.String(FieldModel, model)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}
