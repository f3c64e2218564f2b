package transport

import (
	"context"
	"sync"
	"time"

	"github.com/utcp-go/utcp/utcperr"
)

// ConnState is the lifecycle of a pooled connection (spec §4.8).
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)

// PooledConn is any long-lived handle a transport keeps alive across calls.
type PooledConn interface {
	State() ConnState
	Close() error
}

// Dialer opens a fresh connection for a pool key.
type Dialer func(ctx context.Context, key string) (PooledConn, error)

type entry struct {
	conn     PooledConn
	lastUsed time.Time
	retries  int
}

// Pool implements the connection-pool discipline shared by every long-lived
// transport: a pool_key→connection map bounded by max_connections, an
// idle-eviction sweeper, and reconnect with exponential backoff.
type Pool struct {
	mu             sync.Mutex
	entries        map[string]*entry
	maxConnections int
	idleTimeout    time.Duration
	dial           Dialer

	backoffBase    time.Duration
	backoffFactor  float64
	maxReconnects  int
	stopSweep      chan struct{}
	sweepStartOnce sync.Once
}

// NewPool constructs a pool. maxConnections <= 0 means unbounded.
func NewPool(maxConnections int, idleTimeout time.Duration, dial Dialer) *Pool {
	return &Pool{
		entries:        make(map[string]*entry),
		maxConnections: maxConnections,
		idleTimeout:    idleTimeout,
		dial:           dial,
		backoffBase:    1 * time.Second,
		backoffFactor:  2,
		maxReconnects:  3,
		stopSweep:      make(chan struct{}),
	}
}

// StartSweeper launches the periodic idle-eviction sweep. Calling it more
// than once is a no-op.
func (p *Pool) StartSweeper(interval time.Duration) {
	p.sweepStartOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					p.sweepIdle()
				case <-p.stopSweep:
					return
				}
			}
		}()
	})
}

func (p *Pool) sweepIdle() {
	if p.idleTimeout <= 0 {
		return
	}
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		if now.Sub(e.lastUsed) > p.idleTimeout {
			e.conn.Close()
			delete(p.entries, key)
		}
	}
}

// Get returns the pooled connection for key, dialing or reconnecting as
// needed per the pool discipline in spec §4.6.
func (p *Pool) Get(ctx context.Context, key string) (PooledConn, error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok && e.conn.State() == StateConnected {
		e.lastUsed = time.Now()
		conn := e.conn
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	if ok {
		return p.reconnect(ctx, key, e)
	}
	return p.open(ctx, key)
}

func (p *Pool) open(ctx context.Context, key string) (PooledConn, error) {
	p.mu.Lock()
	if p.maxConnections > 0 && len(p.entries) >= p.maxConnections {
		if victim := p.lruLocked(); victim != "" {
			p.entries[victim].conn.Close()
			delete(p.entries, victim)
		} else {
			p.mu.Unlock()
			return nil, &utcperr.PoolExhausted{PoolKey: key}
		}
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, key)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: key, Err: err}
	}
	p.mu.Lock()
	p.entries[key] = &entry{conn: conn, lastUsed: time.Now()}
	p.mu.Unlock()
	return conn, nil
}

func (p *Pool) lruLocked() string {
	var oldestKey string
	var oldest time.Time
	for k, e := range p.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey = k
			oldest = e.lastUsed
		}
	}
	return oldestKey
}

func (p *Pool) reconnect(ctx context.Context, key string, e *entry) (PooledConn, error) {
	delay := p.backoffBase
	var lastErr error
	for attempt := 0; attempt < p.maxReconnects; attempt++ {
		conn, err := p.dial(ctx, key)
		if err == nil {
			p.mu.Lock()
			p.entries[key] = &entry{conn: conn, lastUsed: time.Now()}
			p.mu.Unlock()
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.backoffFactor)
	}
	return nil, &utcperr.ConnectFailed{Target: key, Err: lastErr}
}

// Release marks a connection as idle again; pooled connections are kept
// open between calls, so release only refreshes last_used.
func (p *Pool) Release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		e.lastUsed = time.Now()
	}
}

// CloseConn forcibly closes and evicts one entry.
func (p *Pool) CloseConn(key string) error {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return e.conn.Close()
}

// CloseAll closes every pooled connection and clears the pool, then stops
// the sweeper.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	close(p.stopSweep)
	var firstErr error
	for _, e := range entries {
		if err := e.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
