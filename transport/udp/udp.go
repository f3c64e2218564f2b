// Package udp implements the raw UDP transport: one pooled datagram socket
// per provider, JSON-encoded payloads, with a literal "DISCOVER" sentinel
// datagram used for manual discovery instead of a structured request (UDP
// has no notion of a connection to distinguish a discovery call from a tool
// call otherwise).
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

const maxDatagram = 65535

const defaultMaxConnections = 10
const defaultIdleTimeout = 5 * time.Minute
const sweepInterval = 30 * time.Second

// pooledConn wraps a *net.UDPConn so it satisfies transport.PooledConn and
// so concurrent calls against the same provider don't interleave their
// writes and reads on the shared socket.
type pooledConn struct {
	conn *net.UDPConn

	mu    sync.Mutex
	state transport.ConnState
}

func (c *pooledConn) State() transport.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *pooledConn) Close() error {
	c.mu.Lock()
	c.state = transport.StateDisconnected
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *pooledConn) writeAndRead(deadline time.Time, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.state = transport.StateError
		return nil, &utcperr.ConnectFailed{Target: c.conn.RemoteAddr().String(), Err: err}
	}
	if _, err := c.conn.Write(payload); err != nil {
		c.state = transport.StateError
		return nil, &utcperr.ConnectFailed{Target: c.conn.RemoteAddr().String(), Err: err}
	}
	buf := make([]byte, maxDatagram)
	n, err := c.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &utcperr.Timeout{Op: "udp read"}
		}
		c.state = transport.StateError
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return buf[:n], nil
}

// Transport implements transport.ClientTransport for UDPProvider.
type Transport struct {
	logger func(format string, args ...interface{})

	pool *transport.Pool

	mu        sync.Mutex
	providers map[string]*provider.UDPProvider
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	t := &Transport{logger: logger, providers: make(map[string]*provider.UDPProvider)}
	t.pool = transport.NewPool(defaultMaxConnections, defaultIdleTimeout, t.dialPooled)
	t.pool.StartSweeper(sweepInterval)
	return t
}

func (t *Transport) Name() string            { return "udp" }
func (t *Transport) SupportsStreaming() bool { return true }

func udpProvider(p provider.Provider) (*provider.UDPProvider, error) {
	up, ok := p.(*provider.UDPProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "udp transport requires a UDPProvider"}
	}
	return up, nil
}

func udpPoolKey(up *provider.UDPProvider) string {
	return fmt.Sprintf("%s:%d", up.Host, up.Port)
}

func (t *Transport) timeout(up *provider.UDPProvider) time.Duration {
	d := time.Duration(up.Timeout) * time.Millisecond
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}

func (t *Transport) dialConn(up *provider.UDPProvider) (*net.UDPConn, error) {
	addr := fmt.Sprintf("%s:%d", up.Host, up.Port)
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: addr, Err: err}
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: addr, Err: err}
	}
	return conn, nil
}

// dialPooled is the transport.Dialer bound to t.pool.
func (t *Transport) dialPooled(ctx context.Context, key string) (transport.PooledConn, error) {
	t.mu.Lock()
	up, ok := t.providers[key]
	t.mu.Unlock()
	if !ok {
		return nil, &utcperr.ConnectFailed{Target: key, Err: fmt.Errorf("no provider registered for pool key %q", key)}
	}
	conn, err := t.dialConn(up)
	if err != nil {
		return nil, err
	}
	return &pooledConn{conn: conn, state: transport.StateConnected}, nil
}

func (t *Transport) getConn(ctx context.Context, up *provider.UDPProvider) (*pooledConn, error) {
	key := udpPoolKey(up)
	t.mu.Lock()
	t.providers[key] = up
	t.mu.Unlock()
	pc, err := t.pool.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return pc.(*pooledConn), nil
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	up, err := udpProvider(p)
	if err != nil {
		return nil, err
	}
	pc, err := t.getConn(ctx, up)
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(udpPoolKey(up))

	resp, err := pc.writeAndRead(time.Now().Add(t.timeout(up)), []byte("DISCOVER"))
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := jsonutil.Unmarshal(resp, &raw); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return tool.ManualFromMap(raw).Tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	up, err := udpProvider(p)
	if err != nil {
		return err
	}
	key := udpPoolKey(up)
	t.mu.Lock()
	delete(t.providers, key)
	t.mu.Unlock()
	return t.pool.CloseConn(key)
}

type callPayload struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	up, err := udpProvider(p)
	if err != nil {
		return nil, err
	}
	pc, err := t.getConn(ctx, up)
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(udpPoolKey(up))

	payload, err := jsonutil.Marshal(callPayload{Tool: toolName, Args: args})
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	resp, err := pc.writeAndRead(time.Now().Add(t.timeout(up)), payload)
	if err != nil {
		return nil, err
	}
	var result interface{}
	if err := jsonutil.Unmarshal(resp, &result); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return result, nil
}

// CallStream dials a dedicated socket instead of the shared pooled
// connection: it holds the socket open for a progressive read loop spanning
// multiple datagrams, which would otherwise block every other call against
// the same provider for the stream's whole lifetime.
func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	up, err := udpProvider(p)
	if err != nil {
		return nil, err
	}
	conn, err := t.dialConn(up)
	if err != nil {
		return nil, err
	}

	payload, err := jsonutil.Marshal(callPayload{Tool: toolName, Args: args})
	if err != nil {
		conn.Close()
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	timeout := t.timeout(up)
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, &utcperr.ConnectFailed{Target: conn.RemoteAddr().String(), Err: err}
	}
	if _, err := conn.Write(payload); err != nil {
		conn.Close()
		return nil, &utcperr.ConnectFailed{Target: conn.RemoteAddr().String(), Err: err}
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "udp", Tool: toolName, Provider: up.Name}
	go func() {
		defer close(ch)
		defer conn.Close()
		var seq transport.SequenceCounter
		buf := make([]byte, maxDatagram)
		for {
			conn.SetReadDeadline(time.Now().Add(timeout))
			n, err := conn.Read(buf)
			if err != nil {
				ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta, Reason: "timeout"}
				return
			}
			var value interface{}
			if jsonutil.Unmarshal(buf[:n], &value) != nil {
				continue
			}
			if m, ok := value.(map[string]interface{}); ok && m["type"] == "stream_end" {
				ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
				return
			}
			ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: value}
		}
	}()

	return transport.NewChannelStreamResult(ch, func() error { return conn.Close() }), nil
}
