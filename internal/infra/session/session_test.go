package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/domain"
)

type memoryDialer struct {
	transport mcp.Transport
	err       error
}

func (d *memoryDialer) Dial(domain.ServerDescriptor) (mcp.Transport, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func newTestServer(t *testing.T) *mcp.Server {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "fixture", Version: "0.1.0"}, &mcp.ServerOptions{HasTools: true})

	server.AddTool(&mcp.Tool{
		Name:        "echo",
		Description: "echo arguments back",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
		}, nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "flaky",
		Description: "always reports a tool failure",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "backend exploded"}},
			IsError: true,
		}, nil
	})

	return server
}

func newConnectedSession(t *testing.T, ctx context.Context) *Session {
	t.Helper()
	server := newTestServer(t)
	ct, st := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	sess, err := New(Options{
		Identity:   "user-1",
		Descriptor: domain.ServerDescriptor{ServerID: "fixture", Transport: domain.TransportProcess},
		Dialer:     &memoryDialer{transport: ct},
	})
	require.NoError(t, err)
	require.NoError(t, sess.Connect(ctx))
	t.Cleanup(func() { _ = sess.Disconnect("test_cleanup") })
	return sess
}

func TestSessionConnectDiscoversTools(t *testing.T) {
	ctx := context.Background()
	sess := newConnectedSession(t, ctx)

	assert.Equal(t, domain.SessionReady, sess.Status())
	tools := sess.Tools()
	require.Len(t, tools, 2)
	assert.True(t, sess.HasTool("echo"))
	assert.True(t, sess.HasTool("flaky"))
	assert.False(t, sess.HasTool("missing"))

	info := sess.Info()
	assert.Equal(t, "user-1", info.Identity)
	assert.Equal(t, "fixture", info.ServerID)
	assert.Equal(t, 2, info.ToolCount)
}

func TestSessionInvokeReturnsFlattenedText(t *testing.T) {
	ctx := context.Background()
	sess := newConnectedSession(t, ctx)

	result, err := sess.Invoke(ctx, "echo", map[string]any{"city": "tokyo"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"city":"tokyo"}`, result.Content)
}

func TestSessionInvokeToolErrorIsObservation(t *testing.T) {
	ctx := context.Background()
	sess := newConnectedSession(t, ctx)

	result, err := sess.Invoke(ctx, "flaky", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "backend exploded", result.Content)
}

func TestSessionInvokeUnknownTool(t *testing.T) {
	ctx := context.Background()
	sess := newConnectedSession(t, ctx)

	_, err := sess.Invoke(ctx, "missing", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnknownTool, code)
}

func TestSessionInvokeBeforeConnect(t *testing.T) {
	sess, err := New(Options{
		Identity:   "user-1",
		Descriptor: domain.ServerDescriptor{ServerID: "fixture"},
		Dialer:     &memoryDialer{},
	})
	require.NoError(t, err)

	_, err = sess.Invoke(context.Background(), "echo", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNotReady, code)
}

func TestSessionConnectFailure(t *testing.T) {
	sess, err := New(Options{
		Identity:   "user-1",
		Descriptor: domain.ServerDescriptor{ServerID: "fixture"},
		Dialer:     &memoryDialer{err: errors.New("refused")},
	})
	require.NoError(t, err)

	err = sess.Connect(context.Background())
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeConnectFailed, code)
	assert.Equal(t, domain.SessionError, sess.Status())
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	ctx := context.Background()
	sess := newConnectedSession(t, ctx)

	require.NoError(t, sess.Disconnect("shutdown"))
	require.NoError(t, sess.Disconnect("shutdown"))
	assert.Equal(t, domain.SessionClosed, sess.Status())

	_, err := sess.Invoke(ctx, "echo", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNotReady, code)
}
