package graphql

import (
	"context"
	"sync"
	"time"

	"github.com/machinebox/graphql"

	"github.com/utcp-go/utcp/transport"
)

const defaultMaxConnections = 10
const defaultIdleTimeout = 5 * time.Minute
const sweepInterval = 30 * time.Second

// pooledClient wraps a *graphql.Client so it satisfies transport.PooledConn.
// The client holds no socket of its own to keep alive; Close just marks the
// entry disconnected so the pool dials a fresh client on next use.
type pooledClient struct {
	client *graphql.Client

	mu    sync.Mutex
	state transport.ConnState
}

func (c *pooledClient) State() transport.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *pooledClient) Close() error {
	c.mu.Lock()
	c.state = transport.StateDisconnected
	c.mu.Unlock()
	return nil
}

// clientPool caches one *graphql.Client per provider URL through the shared
// connection-pool discipline (spec §4.6), so repeated calls against the
// same endpoint reuse its underlying *http.Client instead of constructing a
// fresh client per call.
type clientPool struct {
	pool *transport.Pool
}

func newClientPool() *clientPool {
	cp := &clientPool{}
	cp.pool = transport.NewPool(defaultMaxConnections, defaultIdleTimeout, cp.dial)
	cp.pool.StartSweeper(sweepInterval)
	return cp
}

func (p *clientPool) dial(ctx context.Context, url string) (transport.PooledConn, error) {
	return &pooledClient{client: graphql.NewClient(url), state: transport.StateConnected}, nil
}

func (p *clientPool) get(ctx context.Context, url string, logf func(string, error)) *graphql.Client {
	pc, err := p.pool.Get(ctx, url)
	if err != nil {
		logf("graphql: pool get failed, dialing unpooled client", err)
		c := graphql.NewClient(url)
		c.Log = func(s string) { logf(s, nil) }
		return c
	}
	client := pc.(*pooledClient).client
	client.Log = func(s string) { logf(s, nil) }
	return client
}

func (p *clientPool) close(url string) error {
	return p.pool.CloseConn(url)
}
