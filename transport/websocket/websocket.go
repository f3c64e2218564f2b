// Package websocket implements the persistent WebSocket transport: one
// pooled connection per provider, a FIFO message queue, and an optional
// ping/pong keep-alive scheduler (spec §4.4).
package websocket

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/utcp-go/utcp/auth"
	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

const defaultPingInterval = 30 * time.Second
const defaultCallTimeout = 30 * time.Second
const defaultMaxConnections = 10
const defaultIdleTimeout = 5 * time.Minute
const sweepInterval = 30 * time.Second

// envelope is the {"type": ...} wire frame exchanged over the socket.
type envelope struct {
	Type string         `json:"type"`
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// conn is one persistent WebSocket connection: a read-loop goroutine feeds
// a FIFO queue of raw text frames that Call/CallStream drain synchronously.
type conn struct {
	ws    *gws.Conn
	mu    sync.Mutex
	state transport.ConnState

	queue    chan []byte
	lastPong time.Time
	stopPing chan struct{}
	closed   bool
}

func (c *conn) State() transport.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = transport.StateDisconnected
	close(c.stopPing)
	c.mu.Unlock()
	return c.ws.Close()
}

// Transport implements transport.ClientTransport for WebSocketProvider,
// keeping one live conn per provider via the shared connection pool instead
// of re-dialing on every call.
type Transport struct {
	logger func(format string, args ...interface{})

	pool *transport.Pool

	mu        sync.Mutex
	providers map[string]*provider.WebSocketProvider
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	t := &Transport{logger: logger, providers: make(map[string]*provider.WebSocketProvider)}
	t.pool = transport.NewPool(defaultMaxConnections, defaultIdleTimeout, t.dial)
	t.pool.StartSweeper(sweepInterval)
	return t
}

func (t *Transport) Name() string            { return "websocket" }
func (t *Transport) SupportsStreaming() bool { return true }

func poolKey(p *provider.WebSocketProvider) string {
	return p.URL + ":" + p.Name
}

func wsProvider(p provider.Provider) (*provider.WebSocketProvider, error) {
	wp, ok := p.(*provider.WebSocketProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "websocket transport requires a WebSocketProvider"}
	}
	return wp, nil
}

func basicToken(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func applyAuthHeaders(header http.Header, a auth.Auth) {
	switch v := a.(type) {
	case *auth.ApiKeyAuth:
		if v.Location == "header" || v.Location == "" {
			header.Set(v.VarName, v.APIKey)
		}
	case *auth.BasicAuth:
		header.Set("Authorization", "Basic "+basicToken(v.Username, v.Password))
	}
}

// connect opens a fresh WebSocket connection for the given provider and
// starts its read loop and, if enabled, its ping scheduler.
func (t *Transport) connect(ctx context.Context, wp *provider.WebSocketProvider) (*conn, error) {
	header := http.Header{}
	for k, v := range wp.Headers {
		header.Set(k, v)
	}
	if wp.Auth != nil {
		applyAuthHeaders(header, wp.Auth)
	}

	dialer := gws.Dialer{HandshakeTimeout: 10 * time.Second}
	if wp.Protocol != "" {
		dialer.Subprotocols = []string{wp.Protocol}
	}
	wsConn, _, err := dialer.DialContext(ctx, wp.URL, header)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: wp.URL, Err: err}
	}

	c := &conn{
		ws:       wsConn,
		state:    transport.StateConnected,
		queue:    make(chan []byte, 64),
		stopPing: make(chan struct{}),
		lastPong: time.Now(),
	}
	wsConn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop()
	if wp.KeepAlive {
		go c.pingLoop(defaultPingInterval)
	}
	return c, nil
}

func (c *conn) readLoop() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.state = transport.StateDisconnected
			}
			c.mu.Unlock()
			close(c.queue)
			return
		}
		if msgType == gws.TextMessage {
			c.queue <- data
		}
	}
}

func (c *conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ws.WriteControl(gws.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-c.stopPing:
			return
		}
	}
}

// send encodes v as JSON text and writes it to the connection.
func (c *conn) send(v interface{}) error {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return &utcperr.EncodeFailed{Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(gws.TextMessage, data)
}

// recv synchronously dequeues the next frame, waiting up to timeout.
func (c *conn) recv(timeout time.Duration) ([]byte, error) {
	select {
	case data, ok := <-c.queue:
		if !ok {
			return nil, &utcperr.ConnectFailed{Target: "websocket", Err: fmt.Errorf("connection closed")}
		}
		return data, nil
	case <-time.After(timeout):
		return nil, &utcperr.Timeout{Op: "websocket recv"}
	}
}

// dial is the transport.Dialer the shared pool uses to open or reconnect a
// connection for pool key. It looks up the full provider record registered
// under that key since the pool itself only ever deals in keys.
func (t *Transport) dial(ctx context.Context, key string) (transport.PooledConn, error) {
	t.mu.Lock()
	wp, ok := t.providers[key]
	t.mu.Unlock()
	if !ok {
		return nil, &utcperr.ConnectFailed{Target: key, Err: fmt.Errorf("no provider registered for pool key %q", key)}
	}
	return t.connect(ctx, wp)
}

// getConn returns the provider's pooled connection, dialing or reconnecting
// through the shared pool as needed.
func (t *Transport) getConn(ctx context.Context, wp *provider.WebSocketProvider) (*conn, error) {
	key := poolKey(wp)
	t.mu.Lock()
	t.providers[key] = wp
	t.mu.Unlock()
	pc, err := t.pool.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return pc.(*conn), nil
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	wp, err := wsProvider(p)
	if err != nil {
		return nil, err
	}
	c, err := t.getConn(ctx, wp)
	if err != nil {
		return nil, err
	}
	if err := c.ws.WriteMessage(gws.TextMessage, []byte("manual")); err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	data, err := c.recv(defaultCallTimeout)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := jsonutil.Unmarshal(data, &raw); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return tool.ManualFromMap(raw).Tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	wp, err := wsProvider(p)
	if err != nil {
		return nil
	}
	key := poolKey(wp)
	t.mu.Lock()
	delete(t.providers, key)
	t.mu.Unlock()
	return t.pool.CloseConn(key)
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	wp, err := wsProvider(p)
	if err != nil {
		return nil, err
	}
	c, err := t.getConn(ctx, wp)
	if err != nil {
		return nil, err
	}
	if err := c.send(envelope{Type: "tool_call", Tool: toolName, Args: args}); err != nil {
		return nil, err
	}
	data, err := c.recv(defaultCallTimeout)
	if err != nil {
		return nil, err
	}
	var result interface{}
	if err := jsonutil.Unmarshal(data, &result); err != nil {
		return strings.TrimSpace(string(data)), nil
	}
	return result, nil
}

func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	wp, err := wsProvider(p)
	if err != nil {
		return nil, err
	}
	c, err := t.getConn(ctx, wp)
	if err != nil {
		return nil, err
	}
	if err := c.send(envelope{Type: "tool_stream", Tool: toolName, Args: args}); err != nil {
		return nil, err
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "websocket", Tool: toolName, Provider: wp.Name}
	go func() {
		defer close(ch)
		var seq transport.SequenceCounter
		for {
			data, err := c.recv(defaultCallTimeout)
			if err != nil {
				if _, ok := err.(*utcperr.Timeout); ok {
					ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta, Reason: "timeout"}
					return
				}
				ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: err.Error()}
				return
			}
			var frame map[string]interface{}
			if jsonutil.Unmarshal(data, &frame) == nil {
				if frame["type"] == "stream_end" {
					ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
					return
				}
			}
			var value interface{}
			if jsonutil.Unmarshal(data, &value) != nil {
				value = string(data)
			}
			ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: value}
		}
	}()

	return transport.NewChannelStreamResult(ch, func() error { return nil }), nil
}
