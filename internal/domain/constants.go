package domain

import "time"

const (
	DefaultIdleWindow    = 30 * time.Minute
	DefaultSweepInterval = time.Minute

	DefaultConnectTimeout = 15 * time.Second
	DefaultInvokeTimeout  = 30 * time.Second
	DefaultModelTimeout   = 60 * time.Second

	// DefaultMaxRounds bounds the model/tool-call loop per request.
	DefaultMaxRounds = 8

	// DefaultHTTPMaxRetries is the reconnect budget for streamable HTTP
	// transports.
	DefaultHTTPMaxRetries = 3

	DefaultListenAddress        = "127.0.0.1:8080"
	DefaultObservabilityAddress = "127.0.0.1:9090"

	// DefaultStorePath is where the conversation database lives when the
	// config does not name one.
	DefaultStorePath = "mcpgate.db"

	DefaultSystemPrompt = "You are an assistant that uses MCP tools to access data and perform tasks. " +
		"Always use the available tools when appropriate to fulfill requests. " +
		"Provide clear and helpful responses based on the tool results."
)
