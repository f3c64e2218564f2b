// Package tcp implements the raw TCP transport: one pooled connection per
// provider, newline-delimited JSON messages of the shape {tool, args,
// timestamp, protocol}, read until a response line or the socket closes.
package tcp

import (
	"bufio"
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

const defaultMaxConnections = 10
const defaultIdleTimeout = 5 * time.Minute
const sweepInterval = 30 * time.Second

// pooledConn wraps a net.Conn so it satisfies transport.PooledConn and so
// every request/response exchange over the shared socket is serialized: TCP
// carries no correlation id, so two interleaved writes would corrupt the
// stream.
type pooledConn struct {
	conn   net.Conn
	reader *bufio.Reader

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

// exchange writes payload and reads back one newline-delimited response,
// reporting write and read failures separately so callers can map each to
// the right utcperr type instead of swallowing one into a false success.
func (c *pooledConn) exchange(payload []byte) (line []byte, writeErr, readErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(payload); err != nil {
		c.state = transport.StateError
		return nil, err, nil
	}
	l, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.state = transport.StateError
		return nil, nil, err
	}
	return l, nil, nil
}

// Transport implements transport.ClientTransport for TCPProvider.
type Transport struct {
	logger func(format string, args ...interface{})

	pool *transport.Pool

	mu        sync.Mutex
	providers map[string]*provider.TCPProvider
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	t := &Transport{logger: logger, providers: make(map[string]*provider.TCPProvider)}
	t.pool = transport.NewPool(defaultMaxConnections, defaultIdleTimeout, t.dialPooled)
	t.pool.StartSweeper(sweepInterval)
	return t
}

func (t *Transport) Name() string            { return "tcp" }
func (t *Transport) SupportsStreaming() bool { return true }

func tcpProvider(p provider.Provider) (*provider.TCPProvider, error) {
	tp, ok := p.(*provider.TCPProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "tcp transport requires a TCPProvider"}
	}
	return tp, nil
}

func tcpPoolKey(tp *provider.TCPProvider) string {
	return fmt.Sprintf("%s:%d", tp.Host, tp.Port)
}

func (t *Transport) dialConn(ctx context.Context, tp *provider.TCPProvider) (net.Conn, error) {
	timeout := time.Duration(tp.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", tp.Host, tp.Port))
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: fmt.Sprintf("%s:%d", tp.Host, tp.Port), Err: err}
	}
	return conn, nil
}

// dialPooled is the transport.Dialer bound to t.pool: it looks up the
// provider registered under key and opens a fresh socket for it.
func (t *Transport) dialPooled(ctx context.Context, key string) (transport.PooledConn, error) {
	t.mu.Lock()
	tp, ok := t.providers[key]
	t.mu.Unlock()
	if !ok {
		return nil, &utcperr.ConnectFailed{Target: key, Err: fmt.Errorf("no provider registered for pool key %q", key)}
	}
	conn, err := t.dialConn(ctx, tp)
	if err != nil {
		return nil, err
	}
	return &pooledConn{conn: conn, reader: bufio.NewReader(conn), state: transport.StateConnected}, nil
}

func (t *Transport) getConn(ctx context.Context, tp *provider.TCPProvider) (*pooledConn, error) {
	key := tcpPoolKey(tp)
	t.mu.Lock()
	t.providers[key] = tp
	t.mu.Unlock()
	pc, err := t.pool.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return pc.(*pooledConn), nil
}

type message struct {
	Tool      string         `json:"tool,omitempty"`
	Action    string         `json:"action,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Protocol  string         `json:"protocol"`
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	tp, err := tcpProvider(p)
	if err != nil {
		return nil, err
	}
	pc, err := t.getConn(ctx, tp)
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(tcpPoolKey(tp))

	req := message{Action: "list", Timestamp: time.Now().Unix(), Protocol: "tcp"}
	data, err := jsonutil.Marshal(req)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	line, writeErr, readErr := pc.exchange(append(data, '\n'))
	if writeErr != nil {
		return nil, &utcperr.ConnectFailed{Target: tp.Host, Err: writeErr}
	}
	if readErr != nil {
		return nil, &utcperr.DecodeFailed{Err: readErr}
	}
	var raw map[string]interface{}
	if err := jsonutil.Unmarshal(line, &raw); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return tool.ManualFromMap(raw).Tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	tp, err := tcpProvider(p)
	if err != nil {
		return err
	}
	key := tcpPoolKey(tp)
	t.mu.Lock()
	delete(t.providers, key)
	t.mu.Unlock()
	return t.pool.CloseConn(key)
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	tp, err := tcpProvider(p)
	if err != nil {
		return nil, err
	}
	pc, err := t.getConn(ctx, tp)
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(tcpPoolKey(tp))

	req := message{Tool: toolName, Args: args, Timestamp: time.Now().Unix(), Protocol: "tcp"}
	data, err := jsonutil.Marshal(req)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	line, writeErr, readErr := pc.exchange(append(data, '\n'))
	if writeErr != nil {
		return nil, &utcperr.ConnectFailed{Target: tp.Host, Err: writeErr}
	}
	if readErr != nil {
		return nil, &utcperr.DecodeFailed{Err: readErr}
	}
	var result interface{}
	if err := jsonutil.Unmarshal(line, &result); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return result, nil
}

// CallStream dials a dedicated socket instead of the shared pooled
// connection: it holds the socket open for a progressive read loop spanning
// multiple response lines, which would otherwise block every other call
// against the same provider for the stream's whole lifetime.
func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	tp, err := tcpProvider(p)
	if err != nil {
		return nil, err
	}
	conn, err := t.dialConn(ctx, tp)
	if err != nil {
		return nil, err
	}

	req := message{Tool: toolName, Args: args, Timestamp: time.Now().Unix(), Protocol: "tcp"}
	data, err := jsonutil.Marshal(req)
	if err != nil {
		conn.Close()
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		conn.Close()
		return nil, &utcperr.ConnectFailed{Target: tp.Host, Err: err}
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "tcp", Tool: toolName, Provider: tp.Name}
	go func() {
		defer close(ch)
		defer conn.Close()
		var seq transport.SequenceCounter
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				var value interface{}
				if jsonutil.Unmarshal(line, &value) == nil {
					if m, ok := value.(map[string]interface{}); ok && m["type"] == "stream_end" {
						ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
						return
					}
					ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: value}
				}
			}
			if err != nil {
				ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
				return
			}
		}
	}()

	return transport.NewChannelStreamResult(ch, func() error { return conn.Close() }), nil
}
