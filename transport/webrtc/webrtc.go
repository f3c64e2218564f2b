// Package webrtc implements the WebRTC data-channel transport: a peer
// connection is negotiated once per provider through an external signaling
// server (SDP offer/answer plus ICE candidates over plain HTTP), then every
// call and stream multiplexes over the single resulting data channel,
// correlated by a UUID request id.
package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v3"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

var newPeerConnection = pion.NewPeerConnection

type peer struct {
	pc *pion.PeerConnection
	dc *pion.DataChannel

	mu      sync.Mutex
	state   transport.ConnState
	pending map[string]chan map[string]any
	streams map[string]chan map[string]any
}

// State and Close let peer serve as a transport.PooledConn entry.
func (pr *peer) State() transport.ConnState {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.state
}

func (pr *peer) Close() error {
	pr.mu.Lock()
	pr.state = transport.StateDisconnected
	pr.mu.Unlock()
	if pr.dc != nil {
		pr.dc.Close()
	}
	if pr.pc != nil {
		return pr.pc.Close()
	}
	return nil
}

const defaultMaxConnections = 10
const defaultIdleTimeout = 5 * time.Minute
const sweepInterval = 30 * time.Second

// Transport implements transport.ClientTransport for WebRTCProvider,
// keeping one pooled peer connection per PeerID instead of negotiating a
// fresh one on every call.
type Transport struct {
	logger func(format string, args ...interface{})

	pool *transport.Pool

	mu         sync.Mutex
	providers  map[string]*provider.WebRTCProvider
	discovered map[string][]tool.Tool
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	t := &Transport{
		logger:     logger,
		providers:  make(map[string]*provider.WebRTCProvider),
		discovered: make(map[string][]tool.Tool),
	}
	t.pool = transport.NewPool(defaultMaxConnections, defaultIdleTimeout, t.dialPooled)
	t.pool.StartSweeper(sweepInterval)
	return t
}

func (t *Transport) Name() string            { return "webrtc" }
func (t *Transport) SupportsStreaming() bool { return true }

func webrtcProvider(p provider.Provider) (*provider.WebRTCProvider, error) {
	wp, ok := p.(*provider.WebRTCProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "webrtc transport requires a WebRTCProvider"}
	}
	return wp, nil
}

func (t *Transport) connect(ctx context.Context, wp *provider.WebRTCProvider) (*peer, []tool.Tool, error) {
	iceServers := make([]pion.ICEServer, 0, len(wp.ICEServers))
	for _, s := range wp.ICEServers {
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	pc, err := newPeerConnection(pion.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		body, _ := jsonutil.Marshal(map[string]any{"peer_id": wp.PeerID, "candidate": c.ToJSON()})
		req, _ := http.NewRequest(http.MethodPost, wp.SignalingServer+"/candidate", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		go func() {
			client := &http.Client{Timeout: 10 * time.Second}
			if _, err := client.Do(req); err != nil {
				t.logger("webrtc: failed to send ICE candidate: %v", err)
			}
		}()
	})

	dc, err := pc.CreateDataChannel(wp.DataChannelName, nil)
	if err != nil {
		return nil, nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}
	<-pion.GatheringCompletePromise(pc)

	body, _ := jsonutil.Marshal(map[string]string{"peer_id": wp.PeerID, "sdp": offer.SDP})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wp.SignalingServer+"/connect", bytes.NewReader(body))
	if err != nil {
		return nil, nil, &utcperr.EncodeFailed{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}
	defer resp.Body.Close()

	var ans struct {
		SDP        string                   `json:"sdp"`
		Tools      []tool.Tool              `json:"tools"`
		Candidates []pion.ICECandidateInit  `json:"candidates"`
	}
	if err := jsonutil.NewDecoder(resp.Body).Decode(&ans); err != nil {
		return nil, nil, &utcperr.DecodeFailed{Err: err}
	}
	answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: ans.SDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return nil, nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}
	for _, ci := range ans.Candidates {
		if err := pc.AddICECandidate(ci); err != nil {
			t.logger("webrtc: failed to add ICE candidate: %v", err)
		}
	}

	openCh := make(chan struct{})
	dc.OnOpen(func() { close(openCh) })
	select {
	case <-openCh:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, nil, &utcperr.Timeout{Op: "webrtc data channel open"}
	}

	pr := &peer{pc: pc, dc: dc, state: transport.StateConnected, pending: make(map[string]chan map[string]any), streams: make(map[string]chan map[string]any)}

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		var envelope map[string]any
		if err := jsonutil.Unmarshal(msg.Data, &envelope); err != nil {
			t.logger("webrtc: unmarshal message: %v", err)
			return
		}
		id, _ := envelope["id"].(string)

		pr.mu.Lock()
		if ch, ok := pr.streams[id]; ok {
			pr.mu.Unlock()
			ch <- envelope
			return
		}
		if ch, ok := pr.pending[id]; ok {
			delete(pr.pending, id)
			pr.mu.Unlock()
			ch <- envelope
			return
		}
		pr.mu.Unlock()
	})

	return pr, ans.Tools, nil
}

// dialPooled is the transport.Dialer bound to t.pool. It looks up the
// provider registered under key and negotiates a fresh peer connection,
// stashing any tools the signaling answer discovered for getPeer to collect.
func (t *Transport) dialPooled(ctx context.Context, key string) (transport.PooledConn, error) {
	t.mu.Lock()
	wp, ok := t.providers[key]
	t.mu.Unlock()
	if !ok {
		return nil, &utcperr.ConnectFailed{Target: key, Err: fmt.Errorf("no provider registered for peer %q", key)}
	}

	pr, tools, err := t.connect(ctx, wp)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.discovered[key] = tools
	t.mu.Unlock()
	return pr, nil
}

func (t *Transport) getPeer(ctx context.Context, wp *provider.WebRTCProvider) (*peer, []tool.Tool, error) {
	key := wp.PeerID
	t.mu.Lock()
	t.providers[key] = wp
	t.mu.Unlock()

	pc, err := t.pool.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	t.mu.Lock()
	tools := t.discovered[key]
	delete(t.discovered, key)
	t.mu.Unlock()

	return pc.(*peer), tools, nil
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	wp, err := webrtcProvider(p)
	if err != nil {
		return nil, err
	}
	_, tools, err := t.getPeer(ctx, wp)
	if err != nil {
		return nil, err
	}
	// An inline tool list on the provider takes precedence over whatever the
	// signaling answer declared, letting a peer skip discovery entirely.
	if len(wp.Tools) > 0 {
		raw := make([]interface{}, len(wp.Tools))
		for i, m := range wp.Tools {
			raw[i] = m
		}
		manual := tool.ManualFromMap(map[string]interface{}{"tools": raw})
		return manual.Tools, nil
	}
	if tools == nil {
		return nil, nil
	}
	return tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	wp, err := webrtcProvider(p)
	if err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.providers, wp.PeerID)
	delete(t.discovered, wp.PeerID)
	t.mu.Unlock()
	return t.pool.CloseConn(wp.PeerID)
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	wp, err := webrtcProvider(p)
	if err != nil {
		return nil, err
	}
	pr, _, err := t.getPeer(ctx, wp)
	if err != nil {
		return nil, err
	}
	if pr.dc == nil {
		return nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: fmt.Errorf("data channel not established")}
	}

	id := uuid.NewString()
	payload, err := jsonutil.Marshal(map[string]any{"id": id, "tool": toolName, "args": args})
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	respCh := make(chan map[string]any, 1)
	pr.mu.Lock()
	pr.pending[id] = respCh
	pr.mu.Unlock()

	if err := pr.dc.SendText(string(payload)); err != nil {
		pr.mu.Lock()
		delete(pr.pending, id)
		pr.mu.Unlock()
		return nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env := <-respCh:
		if errMsg, ok := env["error"].(string); ok && errMsg != "" {
			return nil, &utcperr.RemoteError{Message: errMsg}
		}
		return env["result"], nil
	}
}

func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	wp, err := webrtcProvider(p)
	if err != nil {
		return nil, err
	}
	pr, _, err := t.getPeer(ctx, wp)
	if err != nil {
		return nil, err
	}
	if pr.dc == nil {
		return nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: fmt.Errorf("data channel not established")}
	}

	id := uuid.NewString()
	payload, err := jsonutil.Marshal(map[string]any{"id": id, "tool": toolName, "args": args, "stream": true})
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	frames := make(chan map[string]any, 16)
	pr.mu.Lock()
	pr.streams[id] = frames
	pr.mu.Unlock()

	if err := pr.dc.SendText(string(payload)); err != nil {
		pr.mu.Lock()
		delete(pr.streams, id)
		pr.mu.Unlock()
		return nil, &utcperr.ConnectFailed{Target: wp.SignalingServer, Err: err}
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "webrtc", Tool: toolName, Provider: wp.Name}
	closeFn := func() error {
		pr.mu.Lock()
		delete(pr.streams, id)
		pr.mu.Unlock()
		return nil
	}
	go func() {
		defer close(ch)
		defer closeFn()
		var seq transport.SequenceCounter
		for {
			select {
			case <-ctx.Done():
				ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta, Reason: "context canceled"}
				return
			case env := <-frames:
				if msgType, _ := env["type"].(string); msgType == "stream_end" {
					ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
					return
				}
				if errMsg, ok := env["error"].(string); ok && errMsg != "" {
					ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: errMsg}
					return
				}
				ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: env["result"]}
			}
		}
	}()

	return transport.NewChannelStreamResult(ch, closeFn), nil
}
