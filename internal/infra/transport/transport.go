// Package transport builds MCP client transports for the three endpoint
// kinds the gateway supports: subprocess stdio pipes, server-sent-event
// streams, and streamable HTTP. Callers above this layer never branch on the
// transport kind; they hand a ServerDescriptor to the composite dialer and
// get back an mcp.Transport ready for a client handshake.
package transport

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpgate/internal/domain"
)

// Dialer turns a server descriptor into a connectable MCP transport.
// Connect failures are not retried here; retry policy belongs to the caller.
type Dialer interface {
	Dial(desc domain.ServerDescriptor) (mcp.Transport, error)
}
