// Package grpc implements the gRPC transport: a generic passthrough to a
// three-RPC UTCPService contract (GetManual/CallTool/CallToolStream), plus a
// direct gNMI Subscribe streaming path for gp.ServiceName=="gnmi.gNMI".
//
// The pack carries no protoc-generated stub for UTCPService, so requests and
// responses are carried as google.protobuf.Struct instead of a dedicated
// message type: any server implementing the three RPCs with Struct payloads
// shaped {tool, args_json} / {result_json} / {version, tools_json} satisfies
// this client without a .proto build step.
package grpc

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gnmi "github.com/openconfig/gnmi/proto/gnmi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/utcp-go/utcp/auth"
	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

const (
	methodGetManual       = "/utcp.UTCPService/GetManual"
	methodCallTool        = "/utcp.UTCPService/CallTool"
	methodCallToolStream  = "/utcp.UTCPService/CallToolStream"
)

type basicAuthCreds struct {
	username, password string
}

func (b *basicAuthCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	return map[string]string{"authorization": "Basic " + token}, nil
}

func (b *basicAuthCreds) RequireTransportSecurity() bool { return false }

type apiKeyCreds struct {
	header, value string
	secure        bool
}

func (a *apiKeyCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{strings.ToLower(a.header): a.value}, nil
}

func (a *apiKeyCreds) RequireTransportSecurity() bool { return a.secure }

// pooledConn wraps a *grpc.ClientConn so it satisfies transport.PooledConn,
// translating grpc's own connectivity.State into the shared ConnState enum.
type pooledConn struct {
	cc *grpc.ClientConn
}

func (c *pooledConn) State() transport.ConnState {
	switch c.cc.GetState() {
	case connectivity.Ready, connectivity.Idle:
		return transport.StateConnected
	case connectivity.Connecting:
		return transport.StateConnecting
	case connectivity.TransientFailure, connectivity.Shutdown:
		return transport.StateError
	default:
		return transport.StateDisconnected
	}
}

func (c *pooledConn) Close() error { return c.cc.Close() }

const defaultMaxConnections = 10
const defaultIdleTimeout = 5 * time.Minute
const sweepInterval = 30 * time.Second

// Transport implements transport.ClientTransport for GRPCProvider, keeping
// one pooled *grpc.ClientConn per host:port instead of dialing fresh on
// every call.
type Transport struct {
	logger func(format string, args ...interface{})

	pool *transport.Pool

	mu        sync.Mutex
	providers map[string]*provider.GRPCProvider
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	t := &Transport{logger: logger, providers: make(map[string]*provider.GRPCProvider)}
	t.pool = transport.NewPool(defaultMaxConnections, defaultIdleTimeout, t.dialPooled)
	t.pool.StartSweeper(sweepInterval)
	return t
}

func (t *Transport) Name() string            { return "grpc" }
func (t *Transport) SupportsStreaming() bool { return true }

func grpcProvider(p provider.Provider) (*provider.GRPCProvider, error) {
	gp, ok := p.(*provider.GRPCProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "grpc transport requires a GRPCProvider"}
	}
	return gp, nil
}

func (t *Transport) addTargetToContext(ctx context.Context, gp *provider.GRPCProvider) context.Context {
	if gp.Target != "" {
		md := metadata.Pairs("target", gp.Target)
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	return ctx
}

func grpcPoolKey(gp *provider.GRPCProvider) string {
	return fmt.Sprintf("%s:%d", gp.Host, gp.Port)
}

// dialPooled is the transport.Dialer the shared pool uses to open or
// reconnect a connection for key. It looks up the full provider record
// registered under that key since the pool itself only ever deals in keys.
func (t *Transport) dialPooled(ctx context.Context, key string) (transport.PooledConn, error) {
	t.mu.Lock()
	gp, ok := t.providers[key]
	t.mu.Unlock()
	if !ok {
		return nil, &utcperr.ConnectFailed{Target: key, Err: fmt.Errorf("no provider registered for pool key %q", key)}
	}
	cc, err := t.dialConn(ctx, gp)
	if err != nil {
		return nil, err
	}
	return &pooledConn{cc: cc}, nil
}

// getConn returns the provider's pooled *grpc.ClientConn, dialing or
// reconnecting through the shared pool as needed.
func (t *Transport) getConn(ctx context.Context, gp *provider.GRPCProvider) (*grpc.ClientConn, error) {
	key := grpcPoolKey(gp)
	t.mu.Lock()
	t.providers[key] = gp
	t.mu.Unlock()
	pc, err := t.pool.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return pc.(*pooledConn).cc, nil
}

func (t *Transport) dialConn(ctx context.Context, gp *provider.GRPCProvider) (*grpc.ClientConn, error) {
	addr := fmt.Sprintf("%s:%d", gp.Host, gp.Port)
	var opts []grpc.DialOption

	if gp.Target != "" {
		opts = append(opts, grpc.WithAuthority(gp.Target))
	}

	if gp.Auth != nil {
		switch a := gp.Auth.(type) {
		case *auth.BasicAuth:
			opts = append(opts, grpc.WithPerRPCCredentials(&basicAuthCreds{username: a.Username, password: a.Password}))
		case *auth.ApiKeyAuth:
			opts = append(opts, grpc.WithPerRPCCredentials(&apiKeyCreds{header: a.VarName, value: a.APIKey, secure: gp.UseSSL}))
		}
	}

	if gp.UseSSL {
		tlsConfig := &tls.Config{ServerName: gp.Host}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: addr, Err: err}
	}
	return conn, nil
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	gp, err := grpcProvider(p)
	if err != nil {
		return nil, err
	}
	ctx = t.addTargetToContext(ctx, gp)
	conn, err := t.getConn(ctx, gp)
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(grpcPoolKey(gp))

	req, _ := structpb.NewStruct(map[string]interface{}{})
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, methodGetManual, req, resp); err != nil {
		return nil, &utcperr.ConnectFailed{Target: gp.Host, Err: err}
	}

	raw := resp.AsMap()
	toolsJSON, _ := raw["tools_json"].(string)
	if toolsJSON == "" {
		return nil, nil
	}
	var manual map[string]interface{}
	if err := jsonutil.Unmarshal([]byte(toolsJSON), &manual); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return tool.ManualFromMap(manual).Tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	gp, err := grpcProvider(p)
	if err != nil {
		return err
	}
	key := grpcPoolKey(gp)
	t.mu.Lock()
	delete(t.providers, key)
	t.mu.Unlock()
	return t.pool.CloseConn(key)
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	gp, err := grpcProvider(p)
	if err != nil {
		return nil, err
	}
	ctx = t.addTargetToContext(ctx, gp)
	conn, err := t.getConn(ctx, gp)
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(grpcPoolKey(gp))

	payload, err := jsonutil.Marshal(args)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	req, _ := structpb.NewStruct(map[string]interface{}{"tool": toolName, "args_json": string(payload)})
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, methodCallTool, req, resp); err != nil {
		return nil, &utcperr.RemoteError{Code: "grpc", Message: err.Error()}
	}

	resultJSON, _ := resp.AsMap()["result_json"].(string)
	if resultJSON == "" {
		return nil, nil
	}
	var result interface{}
	if err := jsonutil.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return result, nil
}

func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	gp, err := grpcProvider(p)
	if err != nil {
		return nil, err
	}

	if gp.ServiceName == "gnmi.gNMI" && gp.MethodName == "Subscribe" {
		return t.callGNMISubscribe(ctx, args, gp)
	}
	return t.callUTCPToolStream(ctx, toolName, args, gp)
}

func (t *Transport) callUTCPToolStream(ctx context.Context, toolName string, args map[string]any, gp *provider.GRPCProvider) (transport.StreamResult, error) {
	ctx, cancel := context.WithCancel(t.addTargetToContext(ctx, gp))
	conn, err := t.getConn(ctx, gp)
	if err != nil {
		cancel()
		return nil, err
	}
	key := grpcPoolKey(gp)

	payload, err := jsonutil.Marshal(args)
	if err != nil {
		cancel()
		t.pool.Release(key)
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	req, _ := structpb.NewStruct(map[string]interface{}{"tool": toolName, "args_json": string(payload)})

	desc := &grpc.StreamDesc{StreamName: "CallToolStream", ServerStreams: true}
	stream, err := conn.NewStream(ctx, desc, methodCallToolStream)
	if err != nil {
		cancel()
		t.pool.Release(key)
		return nil, &utcperr.ConnectFailed{Target: gp.Host, Err: err}
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		t.pool.Release(key)
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		t.pool.Release(key)
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "grpc", Tool: toolName, Provider: gp.Name}
	go func() {
		defer func() { close(ch); cancel(); t.pool.Release(key) }()
		var seq transport.SequenceCounter
		for {
			resp := &structpb.Struct{}
			if err := stream.RecvMsg(resp); err != nil {
				if err == io.EOF {
					ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
					return
				}
				ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: err.Error()}
				return
			}
			resultJSON, _ := resp.AsMap()["result_json"].(string)
			var value interface{}
			if jsonutil.Unmarshal([]byte(resultJSON), &value) != nil {
				value = resultJSON
			}
			ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: value}
		}
	}()

	return transport.NewChannelStreamResult(ch, func() error { cancel(); return nil }), nil
}

func (t *Transport) callGNMISubscribe(ctx context.Context, args map[string]any, gp *provider.GRPCProvider) (transport.StreamResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	conn, err := t.getConn(ctx, gp)
	if err != nil {
		cancel()
		return nil, err
	}
	key := grpcPoolKey(gp)

	client := gnmi.NewGNMIClient(conn)
	stream, err := client.Subscribe(ctx)
	if err != nil {
		cancel()
		t.pool.Release(key)
		return nil, &utcperr.ConnectFailed{Target: gp.Host, Err: err}
	}

	subReq, err := buildGNMISubscribeRequest(args, gp)
	if err != nil {
		cancel()
		t.pool.Release(key)
		return nil, err
	}
	if err := stream.Send(subReq); err != nil {
		cancel()
		t.pool.Release(key)
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "grpc", Tool: "gnmi.Subscribe", Provider: gp.Name}
	pollStop := startGNMIPolling(ctx, stream, args, subReq.GetSubscribe().Mode, ch, meta)
	go func() {
		defer func() {
			if pollStop != nil {
				close(pollStop)
			}
			close(ch)
			cancel()
			t.pool.Release(key)
		}()
		var seq transport.SequenceCounter
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
					return
				}
				ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: err.Error()}
				return
			}
			obj, err := gnmiResponseToJSON(resp)
			if err != nil {
				ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: err.Error()}
				return
			}
			ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: obj}
		}
	}()

	return transport.NewChannelStreamResult(ch, func() error { cancel(); return nil }), nil
}

func buildGNMISubscribeRequest(args map[string]any, gp *provider.GRPCProvider) (*gnmi.SubscribeRequest, error) {
	pathStr, _ := args["path"].(string)
	modeStr, _ := args["mode"].(string)

	subMode := gnmi.SubscriptionList_STREAM
	switch strings.ToUpper(modeStr) {
	case "ONCE":
		subMode = gnmi.SubscriptionList_ONCE
	case "POLL":
		subMode = gnmi.SubscriptionList_POLL
	}

	path := parseGNMIPath(pathStr)
	req := &gnmi.SubscribeRequest{
		Request: &gnmi.SubscribeRequest_Subscribe{
			Subscribe: &gnmi.SubscriptionList{
				Mode:         subMode,
				Subscription: []*gnmi.Subscription{{Path: path}},
			},
		},
	}
	if gp.Target != "" {
		req.GetSubscribe().Prefix = &gnmi.Path{Target: gp.Target}
	}
	return req, nil
}

func startGNMIPolling(ctx context.Context, stream gnmi.GNMI_SubscribeClient, args map[string]any, mode gnmi.SubscriptionList_Mode, ch chan transport.Chunk, meta transport.Meta) chan struct{} {
	if mode != gnmi.SubscriptionList_POLL {
		return nil
	}
	var pollEveryMs int64
	switch v := args["poll_every_ms"].(type) {
	case int:
		pollEveryMs = int64(v)
	case int64:
		pollEveryMs = v
	case float64:
		pollEveryMs = int64(v)
	}
	if pollEveryMs <= 0 {
		return nil
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(pollEveryMs) * time.Millisecond)
		defer ticker.Stop()
		var seq transport.SequenceCounter
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := stream.Send(&gnmi.SubscribeRequest{Request: &gnmi.SubscribeRequest_Poll{Poll: &gnmi.Poll{}}}); err != nil {
					ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: err.Error()}
					return
				}
			}
		}
	}()
	return stop
}

func gnmiResponseToJSON(resp *gnmi.SubscribeResponse) (any, error) {
	b, err := protojson.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var obj any
	if err := jsonutil.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func parseGNMIPath(p string) *gnmi.Path {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return &gnmi.Path{}
	}
	return &gnmi.Path{Element: strings.Split(p, "/")}
}
