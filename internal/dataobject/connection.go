package dataobject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
)

// Connection is credentials plus a shared pool to a remote store. The
// core treats the underlying session as opaque; backends decide what a
// Session actually is (a JDBC handle, an HTTP client, ...).
type Connection interface {
	ID() idtype.ConnectionID
	// Test performs the single validation call the scheduler's Prepare
	// phase runs once per connection before any action prepares.
	Test(ctx context.Context) error
}

// Session is an opaque handle leased from a connection's pool.
type Session any

// SessionFactory produces one session at a time for a Connection's pool.
type SessionFactory func(ctx context.Context) (Session, error)

// Lease is a scoped handle returned by Pool.Acquire. Release must be
// called exactly once, normally via defer, on every exit path including
// panics: acquire on entry to the user closure, release on all exits.
type Lease struct {
	ID      string
	Session Session
	pool    *Pool
}

// Release returns the session to the pool, making it available to the
// next acquirer (or eligible for idle eviction).
func (l *Lease) Release() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.release(l)
}

// Pool is a bounded, lease-scoped pool of sessions for one Connection,
// with idle-timeout eviction, generalising the pack's acquire/release
// account-pool idiom (lock-free lease identifiers via uuid.New(), a
// bounded pool of reusable handles) to a generic session pool.
type Pool struct {
	mu          sync.Mutex
	factory     SessionFactory
	maxSize     int
	maxIdle     time.Duration
	idle        []*pooledSession
	outstanding int
	waiters     []chan *pooledSession
	closed      bool
	stopSweep   chan struct{}
}

type pooledSession struct {
	session  Session
	lastUsed time.Time
}

// NewPool constructs a pool bounded at maxSize with the given idle-eviction
// window. A maxIdle of zero disables idle eviction.
func NewPool(factory SessionFactory, maxSize int, maxIdle time.Duration) *Pool {
	if maxSize <= 0 {
		maxSize = 1
	}
	p := &Pool{
		factory:   factory,
		maxSize:   maxSize,
		maxIdle:   maxIdle,
		stopSweep: make(chan struct{}),
	}
	if maxIdle > 0 {
		go p.sweepLoop()
	}
	return p
}

// Acquire leases a session, blocking until one becomes available or ctx is
// cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("dataobject: pool closed")
	}

	if len(p.idle) > 0 {
		ps := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.outstanding++
		p.mu.Unlock()
		return p.newLease(ps.session), nil
	}

	if p.outstanding < p.maxSize {
		p.outstanding++
		p.mu.Unlock()
		session, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.outstanding--
			p.mu.Unlock()
			return nil, err
		}
		return p.newLease(session), nil
	}

	wait := make(chan *pooledSession, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	select {
	case ps := <-wait:
		return p.newLease(ps.session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) newLease(session Session) *Lease {
	return &Lease{ID: uuid.NewString(), Session: session, pool: p}
}

func (p *Pool) release(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps := &pooledSession{session: l.Session, lastUsed: time.Now()}

	if len(p.waiters) > 0 {
		waiter := p.waiters[0]
		p.waiters = p.waiters[1:]
		waiter <- ps
		return
	}

	p.outstanding--
	p.idle = append(p.idle, ps)
}

// Close stops the idle-eviction sweep. In-flight leases are unaffected.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.stopSweep)
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopSweep:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.maxIdle)
	kept := p.idle[:0]
	for _, ps := range p.idle {
		if ps.lastUsed.After(cutoff) {
			kept = append(kept, ps)
		}
	}
	p.idle = kept
}
