package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/domain"
)

// serverDialer spins up a fresh in-memory MCP server per dial so every pooled
// session gets its own backend, mirroring subprocess behavior.
type serverDialer struct {
	t     *testing.T
	dials atomic.Int64
	fail  atomic.Bool
	delay time.Duration
}

func (d *serverDialer) Dial(domain.ServerDescriptor) (mcp.Transport, error) {
	d.dials.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.fail.Load() {
		return nil, errors.New("refused")
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "fixture", Version: "0.1.0"}, &mcp.ServerOptions{HasTools: true})
	server.AddTool(&mcp.Tool{
		Name:        "noop",
		Description: "does nothing",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}, nil
	})

	ct, st := mcp.NewInMemoryTransports()
	if _, err := server.Connect(context.Background(), st, nil); err != nil {
		return nil, err
	}
	return ct, nil
}

func newTestPool(t *testing.T, dialer *serverDialer, idleWindow time.Duration) *Pool {
	t.Helper()
	p, err := New(Options{
		Dialer:     dialer,
		IdleWindow: idleWindow,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func desc(serverID string) domain.ServerDescriptor {
	return domain.ServerDescriptor{ServerID: serverID, Transport: domain.TransportProcess}
}

func TestAcquireReusesSessionPerIdentity(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t}
	p := newTestPool(t, dialer, time.Hour)

	first, release1, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	release1()

	second, release2, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	release2()

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, dialer.dials.Load())
}

func TestAcquireIsolatesIdentities(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t}
	p := newTestPool(t, dialer, time.Hour)

	s1, release1, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	release1()

	s2, release2, err := p.Acquire(ctx, "u2", desc("srv"))
	require.NoError(t, err)
	release2()

	assert.NotSame(t, s1, s2)
	assert.EqualValues(t, 2, dialer.dials.Load())

	infos := p.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "u1", infos[0].Identity)
	assert.Equal(t, "u2", infos[1].Identity)
}

func TestAcquireCoalescesConcurrentConnects(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t, delay: 50 * time.Millisecond}
	p := newTestPool(t, dialer, time.Hour)

	const workers = 8
	sessions := make([]any, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sess, release, err := p.Acquire(ctx, "u1", desc("srv"))
			if err != nil {
				errs[idx] = err
				return
			}
			sessions[idx] = sess
			release()
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, dialer.dials.Load())
	for i := 1; i < workers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestConnectFailureSharedByWaiters(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t, delay: 30 * time.Millisecond}
	dialer.fail.Store(true)
	p := newTestPool(t, dialer, time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, err := p.Acquire(ctx, "u1", desc("srv"))
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		code, ok := domain.CodeFrom(err)
		require.True(t, ok)
		assert.Equal(t, domain.CodeConnectFailed, code)
	}

	// A failed attempt leaves no entry behind; the next acquire retries.
	dialer.fail.Store(false)
	_, release, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	release()
}

func TestReapIdleEvictsAndReconnects(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t}
	p := newTestPool(t, dialer, 10*time.Millisecond)

	first, release, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	release()

	time.Sleep(25 * time.Millisecond)
	p.reapIdle()

	assert.Equal(t, domain.SessionClosed, first.Status())
	assert.Empty(t, p.Snapshot())

	second, release2, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	release2()
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, dialer.dials.Load())
}

func TestReapIdleSparesLeasedSessions(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t}
	p := newTestPool(t, dialer, 10*time.Millisecond)

	sess, release, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	p.reapIdle()
	assert.Equal(t, domain.SessionReady, sess.Status())

	release()
	time.Sleep(25 * time.Millisecond)
	p.reapIdle()
	assert.Equal(t, domain.SessionClosed, sess.Status())
}

func TestEvictServerDropsAllIdentities(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t}
	p := newTestPool(t, dialer, time.Hour)

	s1, r1, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	r1()
	s2, r2, err := p.Acquire(ctx, "u2", desc("srv"))
	require.NoError(t, err)
	r2()
	s3, r3, err := p.Acquire(ctx, "u1", desc("other"))
	require.NoError(t, err)
	r3()

	require.True(t, p.HasLiveSession("srv"))
	p.EvictServer("srv", "server_removed")

	assert.Equal(t, domain.SessionClosed, s1.Status())
	assert.Equal(t, domain.SessionClosed, s2.Status())
	assert.Equal(t, domain.SessionReady, s3.Status())
	assert.False(t, p.HasLiveSession("srv"))
	assert.True(t, p.HasLiveSession("other"))
}

func TestShutdownRejectsFurtherAcquires(t *testing.T) {
	ctx := context.Background()
	dialer := &serverDialer{t: t}
	p := newTestPool(t, dialer, time.Hour)

	sess, release, err := p.Acquire(ctx, "u1", desc("srv"))
	require.NoError(t, err)
	release()

	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, domain.SessionClosed, sess.Status())

	_, _, err = p.Acquire(ctx, "u1", desc("srv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPoolClosed)
}
