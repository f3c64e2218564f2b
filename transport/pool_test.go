package transport

import (
	"context"
	"testing"
	"time"
)

type fakeConn struct {
	state  ConnState
	closed bool
}

func (c *fakeConn) State() ConnState { return c.state }
func (c *fakeConn) Close() error     { c.closed = true; c.state = StateDisconnected; return nil }

func TestPool_GetReusesConnected(t *testing.T) {
	dials := 0
	p := NewPool(2, time.Minute, func(ctx context.Context, key string) (PooledConn, error) {
		dials++
		return &fakeConn{state: StateConnected}, nil
	})
	ctx := context.Background()
	c1, err := p.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	c2, err := p.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get2: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected reused connection")
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial, got %d", dials)
	}
}

func TestPool_EvictsLRUAtCapacity(t *testing.T) {
	p := NewPool(1, time.Minute, func(ctx context.Context, key string) (PooledConn, error) {
		return &fakeConn{state: StateConnected}, nil
	})
	ctx := context.Background()
	if _, err := p.Get(ctx, "a"); err != nil {
		t.Fatalf("get a: %v", err)
	}
	if _, err := p.Get(ctx, "b"); err != nil {
		t.Fatalf("get b: %v", err)
	}
	p.mu.Lock()
	_, stillHasA := p.entries["a"]
	_, hasB := p.entries["b"]
	p.mu.Unlock()
	if stillHasA || !hasB {
		t.Fatalf("expected a evicted and b present, got a=%v b=%v", stillHasA, hasB)
	}
}

func TestPool_CloseAll(t *testing.T) {
	var closedConns []*fakeConn
	p := NewPool(0, time.Minute, func(ctx context.Context, key string) (PooledConn, error) {
		c := &fakeConn{state: StateConnected}
		closedConns = append(closedConns, c)
		return c, nil
	})
	ctx := context.Background()
	p.Get(ctx, "a")
	p.Get(ctx, "b")
	if err := p.CloseAll(); err != nil {
		t.Fatalf("closeall: %v", err)
	}
	for _, c := range closedConns {
		if !c.closed {
			t.Fatal("expected all connections closed")
		}
	}
}
