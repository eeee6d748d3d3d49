// Package session owns the lifecycle of one MCP client connection: connect
// and handshake, tool discovery, invocation, and teardown. Sessions are
// created by the pool and never shared across identities.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/telemetry"
	"mcpgate/internal/infra/transport"
)

const (
	clientName    = "mcpgate"
	clientVersion = "0.1.0"
)

type Options struct {
	Identity   string
	Descriptor domain.ServerDescriptor
	Dialer     transport.Dialer
	Logger     *zap.Logger
	Metrics    domain.Metrics
}

// Session is a stateful connection to one tool server on behalf of one
// identity. All methods are safe for concurrent use.
type Session struct {
	identity string
	desc     domain.ServerDescriptor
	dialer   transport.Dialer
	logger   *zap.Logger
	metrics  domain.Metrics

	mu        sync.RWMutex
	status    domain.SessionStatus
	client    *mcp.ClientSession
	tools     []domain.ToolDescriptor
	toolIndex map[string]domain.ToolDescriptor
	lastUsed  time.Time
}

func New(opts Options) (*Session, error) {
	if opts.Identity == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "session.New", "identity is required", nil)
	}
	if opts.Descriptor.ServerID == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "session.New", "server descriptor is required", nil)
	}
	if opts.Dialer == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "session.New", "dialer is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Session{
		identity: opts.Identity,
		desc:     opts.Descriptor,
		dialer:   opts.Dialer,
		logger: logger.With(
			telemetry.ServerField(opts.Descriptor.ServerID),
			telemetry.IdentityField(opts.Identity),
		),
		metrics:  metrics,
		status:   domain.SessionConnecting,
		lastUsed: time.Now(),
	}, nil
}

// Connect dials the server, performs the MCP handshake, and snapshots the
// tool inventory. A session connects at most once; a failed session is
// discarded, not retried.
func (s *Session) Connect(ctx context.Context) error {
	const op = "session.Connect"

	s.mu.Lock()
	if s.status != domain.SessionConnecting {
		status := s.status
		s.mu.Unlock()
		return domain.E(domain.CodeInternal, op, fmt.Sprintf("connect called in status %q", status), nil)
	}
	s.mu.Unlock()

	started := time.Now()
	s.logger.Debug("connecting to tool server", telemetry.EventField(telemetry.EventConnectAttempt))

	tr, err := s.dialer.Dial(s.desc)
	if err != nil {
		return s.failConnect(op, started, err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	clientSession, err := client.Connect(ctx, tr, nil)
	if err != nil {
		return s.failConnect(op, started, err)
	}

	listed, err := clientSession.ListTools(ctx, nil)
	if err != nil {
		_ = clientSession.Close()
		return s.failConnect(op, started, err)
	}

	tools := make([]domain.ToolDescriptor, 0, len(listed.Tools))
	index := make(map[string]domain.ToolDescriptor, len(listed.Tools))
	for _, tool := range listed.Tools {
		desc := domain.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}
		tools = append(tools, desc)
		index[tool.Name] = desc
	}

	s.mu.Lock()
	s.client = clientSession
	s.tools = tools
	s.toolIndex = index
	s.status = domain.SessionReady
	s.lastUsed = time.Now()
	s.mu.Unlock()

	s.metrics.ObserveSessionConnect(s.desc.ServerID, time.Since(started), nil)
	s.logger.Info("tool session ready",
		telemetry.EventField(telemetry.EventConnectSuccess),
		zap.Int("toolCount", len(tools)),
		telemetry.DurationField(time.Since(started)),
	)
	return nil
}

func (s *Session) failConnect(op string, started time.Time, err error) error {
	s.mu.Lock()
	s.status = domain.SessionError
	s.mu.Unlock()

	s.metrics.ObserveSessionConnect(s.desc.ServerID, time.Since(started), err)
	s.logger.Warn("tool session connect failed",
		telemetry.EventField(telemetry.EventConnectFailure),
		zap.Error(err),
	)
	return domain.Wrap(domain.CodeConnectFailed, op, err)
}

// Invoke calls one tool and flattens its content. A tool-reported failure
// comes back as a ToolResult with IsError set, not as an error; only
// transport and protocol faults surface as errors.
func (s *Session) Invoke(ctx context.Context, tool string, args map[string]any) (domain.ToolResult, error) {
	const op = "session.Invoke"

	s.mu.RLock()
	status := s.status
	client := s.client
	_, known := s.toolIndex[tool]
	s.mu.RUnlock()

	if status != domain.SessionReady {
		return domain.ToolResult{}, domain.E(domain.CodeNotReady, op,
			fmt.Sprintf("session for %s is %s", s.desc.ServerID, status), nil)
	}
	if !known {
		return domain.ToolResult{}, domain.E(domain.CodeUnknownTool, op,
			fmt.Sprintf("tool %q is not offered by %s", tool, s.desc.ServerID), nil)
	}

	started := time.Now()
	result, err := client.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		s.metrics.ObserveToolCall(s.desc.ServerID, tool, "error", time.Since(started))
		s.logger.Warn("tool invocation failed",
			telemetry.EventField(telemetry.EventToolFailure),
			telemetry.ToolField(tool),
			zap.Error(err),
		)
		return domain.ToolResult{}, domain.Wrap(domain.CodeToolExecutionFailed, op, err)
	}

	s.Touch()
	callStatus := "ok"
	if result.IsError {
		callStatus = "tool_error"
	}
	s.metrics.ObserveToolCall(s.desc.ServerID, tool, callStatus, time.Since(started))
	s.logger.Debug("tool invocation complete",
		telemetry.EventField(telemetry.EventToolCall),
		telemetry.ToolField(tool),
		zap.Bool("isError", result.IsError),
		telemetry.DurationField(time.Since(started)),
	)

	return domain.ToolResult{
		Content: flattenContent(result.Content),
		IsError: result.IsError,
	}, nil
}

// flattenContent joins the textual parts of a tool result. Non-text parts
// are rendered as JSON so the model still sees them.
func flattenContent(parts []mcp.Content) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch content := part.(type) {
		case *mcp.TextContent:
			out = append(out, content.Text)
		default:
			raw, err := json.Marshal(part)
			if err != nil {
				continue
			}
			out = append(out, string(raw))
		}
	}
	return strings.Join(out, "\n")
}

// Ping verifies the connection is still alive.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.RLock()
	status := s.status
	client := s.client
	s.mu.RUnlock()
	if status != domain.SessionReady {
		return domain.ErrSessionClosed
	}
	return client.Ping(ctx, nil)
}

// Tools returns the inventory snapshot taken at connect time.
func (s *Session) Tools() []domain.ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *Session) HasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.toolIndex[name]
	return ok
}

// Touch records use so the idle sweeper spares the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

func (s *Session) Status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Identity() string { return s.identity }

func (s *Session) ServerID() string { return s.desc.ServerID }

func (s *Session) Info() domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionInfo{
		Identity:  s.identity,
		ServerID:  s.desc.ServerID,
		Status:    s.status,
		ToolCount: len(s.tools),
		LastUsed:  s.lastUsed,
	}
}

// Disconnect tears the session down. It is idempotent; the reason is
// reported to metrics and logs only on the first call.
func (s *Session) Disconnect(reason string) error {
	s.mu.Lock()
	if s.status == domain.SessionClosed {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	s.client = nil
	s.status = domain.SessionClosed
	s.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	s.metrics.ObserveSessionDisconnect(s.desc.ServerID, reason)
	s.logger.Info("tool session closed",
		telemetry.EventField(telemetry.EventDisconnect),
		zap.String("reason", reason),
	)
	return err
}
