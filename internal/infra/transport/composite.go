package transport

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpgate/internal/domain"
)

// CompositeDialer dispatches on the descriptor's transport kind so that the
// session layer stays transport-agnostic.
type CompositeDialer struct {
	process     Dialer
	eventStream Dialer
	http        Dialer
}

type CompositeDialerOptions struct {
	Process     Dialer
	EventStream Dialer
	HTTP        Dialer
}

func NewCompositeDialer(opts CompositeDialerOptions) *CompositeDialer {
	if opts.Process == nil {
		panic("composite dialer requires process dialer")
	}
	if opts.EventStream == nil {
		panic("composite dialer requires event-stream dialer")
	}
	if opts.HTTP == nil {
		panic("composite dialer requires http dialer")
	}
	return &CompositeDialer{
		process:     opts.Process,
		eventStream: opts.EventStream,
		http:        opts.HTTP,
	}
}

// NewDefaultDialer wires the three concrete dialers with default settings.
func NewDefaultDialer() *CompositeDialer {
	return NewCompositeDialer(CompositeDialerOptions{
		Process:     NewProcessDialer(),
		EventStream: NewEventStreamDialer(),
		HTTP:        NewHTTPDialer(HTTPDialerOptions{}),
	})
}

func (d *CompositeDialer) Dial(desc domain.ServerDescriptor) (mcp.Transport, error) {
	switch domain.NormalizeTransport(string(desc.Transport)) {
	case domain.TransportProcess:
		return d.process.Dial(desc)
	case domain.TransportEventStream:
		return d.eventStream.Dial(desc)
	case domain.TransportHTTP:
		return d.http.Dial(desc)
	default:
		return nil, fmt.Errorf("unknown transport %q", desc.Transport)
	}
}
