package transport

import (
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpgate/internal/domain"
)

// EventStreamDialer connects to server-sent-event endpoints.
type EventStreamDialer struct{}

func NewEventStreamDialer() *EventStreamDialer {
	return &EventStreamDialer{}
}

func (d *EventStreamDialer) Dial(desc domain.ServerDescriptor) (mcp.Transport, error) {
	endpoint := strings.TrimSpace(desc.Endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required for event-stream transport")
	}

	client, err := buildHTTPClient(desc.Headers)
	if err != nil {
		return nil, err
	}

	return &mcp.SSEClientTransport{
		Endpoint:   endpoint,
		HTTPClient: client,
	}, nil
}
