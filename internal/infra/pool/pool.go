// Package pool keys live MCP sessions by (identity, server) and owns their
// lifetime: coalesced connects, lease tracking, idle eviction, and shutdown.
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/session"
	"mcpgate/internal/infra/telemetry"
	"mcpgate/internal/infra/transport"
)

type key struct {
	identity string
	serverID string
}

// entry tracks one pooled session. While connecting is set, connectCh is open
// and waiters block on it; the outcome of that single attempt (sess or
// connectErr) is shared by every caller that arrived during the attempt.
type entry struct {
	sess       *session.Session
	connecting bool
	connectCh  chan struct{}
	connectErr error
	leases     int
}

type Options struct {
	Dialer         transport.Dialer
	Logger         *zap.Logger
	Metrics        domain.Metrics
	IdleWindow     time.Duration
	SweepInterval  time.Duration
	ConnectTimeout time.Duration
}

// Pool is the per-identity session pool. Sessions are never shared across
// identities; two users talking to the same server hold two processes or
// connections.
type Pool struct {
	dialer         transport.Dialer
	logger         *zap.Logger
	metrics        domain.Metrics
	idleWindow     time.Duration
	sweepInterval  time.Duration
	connectTimeout time.Duration

	mu           sync.Mutex
	entries      map[key]*entry
	knownServers map[string]struct{}
	closed       bool

	wg sync.WaitGroup
}

func New(opts Options) (*Pool, error) {
	if opts.Dialer == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "pool.New", "dialer is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	idleWindow := opts.IdleWindow
	if idleWindow <= 0 {
		idleWindow = domain.DefaultIdleWindow
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = domain.DefaultSweepInterval
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = domain.DefaultConnectTimeout
	}
	return &Pool{
		dialer:         opts.Dialer,
		logger:         logger.Named("pool"),
		metrics:        metrics,
		idleWindow:     idleWindow,
		sweepInterval:  sweepInterval,
		connectTimeout: connectTimeout,
		entries:        make(map[key]*entry),
		knownServers:   make(map[string]struct{}),
	}, nil
}

// Start launches the idle sweeper. It returns immediately; the sweeper stops
// when ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.reapIdle()
			}
		}
	}()
}

// Acquire returns a ready session for (identity, server), connecting one if
// none exists. Concurrent callers for the same key share a single connect
// attempt and its outcome. The returned release func ends the caller's lease;
// leased sessions are never evicted.
func (p *Pool) Acquire(ctx context.Context, identity string, desc domain.ServerDescriptor) (*session.Session, func(), error) {
	const op = "pool.Acquire"
	k := key{identity: identity, serverID: desc.ServerID}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, nil, domain.Wrap(domain.CodeUpstreamUnavailable, op, domain.ErrPoolClosed)
		}

		e, ok := p.entries[k]
		if !ok {
			e = &entry{connecting: true, connectCh: make(chan struct{})}
			p.entries[k] = e
			p.mu.Unlock()
			return p.connect(ctx, k, desc, e)
		}

		if e.connecting {
			ch := e.connectCh
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, nil, domain.Wrap(domain.CodeCanceled, op, ctx.Err())
			case <-ch:
			}
			if e.connectErr != nil {
				return nil, nil, domain.Wrap(domain.CodeConnectFailed, op, e.connectErr)
			}
			continue
		}

		sess := e.sess
		if sess == nil || sess.Status() != domain.SessionReady {
			// Stale entry left behind by an eviction race.
			delete(p.entries, k)
			p.mu.Unlock()
			continue
		}
		e.leases++
		p.mu.Unlock()

		sess.Touch()
		return sess, p.releaseFunc(k), nil
	}
}

// connect performs the single coalesced connect attempt for k.
func (p *Pool) connect(ctx context.Context, k key, desc domain.ServerDescriptor, e *entry) (*session.Session, func(), error) {
	const op = "pool.Acquire"

	sess, err := session.New(session.Options{
		Identity:   k.identity,
		Descriptor: desc,
		Dialer:     p.dialer,
		Logger:     p.logger,
		Metrics:    p.metrics,
	})
	if err == nil {
		connectCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
		err = sess.Connect(connectCtx)
		cancel()
	}

	p.mu.Lock()
	e.connecting = false
	if err != nil {
		e.connectErr = err
		delete(p.entries, k)
		close(e.connectCh)
		p.mu.Unlock()
		return nil, nil, domain.Wrap(domain.CodeConnectFailed, op, err)
	}
	e.sess = sess
	e.leases = 1
	close(e.connectCh)
	p.updateGaugesLocked()
	p.mu.Unlock()

	return sess, p.releaseFunc(k), nil
}

func (p *Pool) releaseFunc(k key) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if e, ok := p.entries[k]; ok && e.leases > 0 {
				e.leases--
			}
			p.mu.Unlock()
		})
	}
}

// reapIdle evicts unleased sessions whose last use is older than the idle
// window. Teardown happens outside the lock.
func (p *Pool) reapIdle() {
	cutoff := time.Now().Add(-p.idleWindow)

	p.mu.Lock()
	var victims []*session.Session
	for k, e := range p.entries {
		if e.connecting || e.leases > 0 || e.sess == nil {
			continue
		}
		if e.sess.LastUsed().Before(cutoff) {
			victims = append(victims, e.sess)
			delete(p.entries, k)
		}
	}
	if len(victims) > 0 {
		p.updateGaugesLocked()
	}
	p.mu.Unlock()

	for _, sess := range victims {
		p.logger.Info("evicting idle session",
			telemetry.EventField(telemetry.EventIdleEvict),
			telemetry.ServerField(sess.ServerID()),
			telemetry.IdentityField(sess.Identity()),
		)
		_ = sess.Disconnect("idle")
	}
}

// Evict removes one pooled session immediately, regardless of idleness.
// Leased sessions are torn down too; in-flight calls will fail.
func (p *Pool) Evict(identity, serverID, reason string) {
	k := key{identity: identity, serverID: serverID}

	p.mu.Lock()
	e, ok := p.entries[k]
	if ok {
		delete(p.entries, k)
		p.updateGaugesLocked()
	}
	p.mu.Unlock()

	if ok && e.sess != nil {
		_ = e.sess.Disconnect(reason)
	}
}

// EvictServer drops every identity's session for one server. Used when a
// server is removed from the registry.
func (p *Pool) EvictServer(serverID, reason string) {
	p.mu.Lock()
	var victims []*session.Session
	for k, e := range p.entries {
		if k.serverID != serverID || e.sess == nil {
			continue
		}
		victims = append(victims, e.sess)
		delete(p.entries, k)
	}
	if len(victims) > 0 {
		p.updateGaugesLocked()
	}
	p.mu.Unlock()

	for _, sess := range victims {
		_ = sess.Disconnect(reason)
	}
}

// HasLiveSession reports whether any identity holds a ready session for the
// server. Used by server status queries.
func (p *Pool) HasLiveSession(serverID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.entries {
		if k.serverID == serverID && e.sess != nil && e.sess.Status() == domain.SessionReady {
			return true
		}
	}
	return false
}

// Snapshot returns session infos ordered by identity then server.
func (p *Pool) Snapshot() []domain.SessionInfo {
	p.mu.Lock()
	infos := make([]domain.SessionInfo, 0, len(p.entries))
	for _, e := range p.entries {
		if e.sess != nil {
			infos = append(infos, e.sess.Info())
		}
	}
	p.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Identity != infos[j].Identity {
			return infos[i].Identity < infos[j].Identity
		}
		return infos[i].ServerID < infos[j].ServerID
	})
	return infos
}

// Shutdown closes every session concurrently and rejects further acquires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var victims []*session.Session
	for _, e := range p.entries {
		if e.sess != nil {
			victims = append(victims, e.sess)
		}
	}
	p.entries = make(map[key]*entry)
	p.mu.Unlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, sess := range victims {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			_ = s.Disconnect("shutdown")
		}(sess)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// updateGaugesLocked recomputes the active-session gauge per server,
// including servers that just dropped to zero. Callers hold p.mu.
func (p *Pool) updateGaugesLocked() {
	counts := make(map[string]int)
	for k, e := range p.entries {
		if e.sess != nil {
			counts[k.serverID]++
			p.knownServers[k.serverID] = struct{}{}
		}
	}
	for serverID := range p.knownServers {
		p.metrics.SetActiveSessions(serverID, counts[serverID])
	}
}
