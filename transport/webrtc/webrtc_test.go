package webrtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	pion "github.com/pion/webrtc/v3"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/transport"
)

type signalingServer struct {
	pc  *pion.PeerConnection
	srv *httptest.Server
}

func newSignalingServer(t *testing.T, onMessage func(dc *pion.DataChannel, env map[string]any)) *signalingServer {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	server := &signalingServer{pc: pc}
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		jsonutil.NewDecoder(r.Body).Decode(&req)
		offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: req["sdp"]}
		if err := pc.SetRemoteDescription(offer); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		<-pion.GatheringCompletePromise(pc)
		resp := map[string]any{"sdp": pc.LocalDescription().SDP, "tools": []map[string]any{{"name": "echo"}}}
		jsonutil.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/candidate", func(w http.ResponseWriter, r *http.Request) {})
	server.srv = httptest.NewServer(mux)
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			var env map[string]any
			jsonutil.Unmarshal(msg.Data, &env)
			onMessage(dc, env)
		})
	})
	return server
}

func (s *signalingServer) close() { s.srv.Close(); s.pc.Close() }

func TestTransport_RegisterAndCall(t *testing.T) {
	srv := newSignalingServer(t, func(dc *pion.DataChannel, env map[string]any) {
		id, _ := env["id"].(string)
		args, _ := env["args"].(map[string]any)
		out, _ := jsonutil.Marshal(map[string]any{"id": id, "result": map[string]any{"echo": args["msg"]}})
		dc.SendText(string(out))
	})
	defer srv.close()

	p := provider.NewWebRTCProvider("w", srv.srv.URL, "peer")
	tr := New(nil)
	ctx := context.Background()

	tools, err := tr.Register(ctx, p)
	if err != nil || len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("register: %v tools:%v", err, tools)
	}

	res, err := tr.Call(ctx, "echo", map[string]any{"msg": "hi"}, p)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	m, ok := res.(map[string]any)
	if !ok || m["echo"] != "hi" {
		t.Fatalf("bad result: %#v", res)
	}

	if err := tr.Deregister(ctx, p); err != nil {
		t.Fatalf("dereg: %v", err)
	}
}

func TestTransport_CallStream_EndsOnStreamEnd(t *testing.T) {
	srv := newSignalingServer(t, func(dc *pion.DataChannel, env map[string]any) {
		id, _ := env["id"].(string)
		if _, isStream := env["stream"]; !isStream {
			return
		}
		first, _ := jsonutil.Marshal(map[string]any{"id": id, "result": map[string]any{"chunk": 1}})
		dc.SendText(string(first))
		end, _ := jsonutil.Marshal(map[string]any{"id": id, "type": "stream_end"})
		dc.SendText(string(end))
	})
	defer srv.close()

	p := provider.NewWebRTCProvider("w", srv.srv.URL, "peer2")
	tr := New(nil)
	ctx := context.Background()

	sr, err := tr.CallStream(ctx, "echo", map[string]any{}, p)
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	defer sr.Close()

	c1, err := sr.Next()
	if err != nil || c1.Kind != transport.ChunkData {
		t.Fatalf("expected data chunk, got %+v err=%v", c1, err)
	}
	c2, err := sr.Next()
	if err != nil || c2.Kind != transport.ChunkEnd {
		t.Fatalf("expected end chunk, got %+v err=%v", c2, err)
	}
}

func TestTransport_SupportsStreaming(t *testing.T) {
	if !New(nil).SupportsStreaming() {
		t.Fatal("expected webrtc transport to report streaming support")
	}
}
