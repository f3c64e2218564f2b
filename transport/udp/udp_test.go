package udp

import (
	"context"
	"net"
	"testing"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/transport"
)

func echoUDPServer(t *testing.T, handle func(addr *net.UDPAddr, payload []byte, conn *net.UDPConn)) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	go func() {
		buf := make([]byte, maxDatagram)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			go handle(addr, payload, conn)
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestTransport_Register(t *testing.T) {
	port := echoUDPServer(t, func(addr *net.UDPAddr, payload []byte, conn *net.UDPConn) {
		if string(payload) != "DISCOVER" {
			t.Errorf("expected DISCOVER sentinel, got %q", payload)
		}
		conn.WriteToUDP([]byte(`{"tools":[{"name":"ping","description":"","inputs":{"type":"object"}}]}`), addr)
	})

	tr := New(nil)
	p := provider.NewUDPProvider("svc", "127.0.0.1", port)
	tools, err := tr.Register(context.Background(), p)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "ping" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestTransport_Call(t *testing.T) {
	port := echoUDPServer(t, func(addr *net.UDPAddr, payload []byte, conn *net.UDPConn) {
		var req map[string]interface{}
		jsonutil.Unmarshal(payload, &req)
		if req["tool"] != "ping" {
			t.Errorf("expected tool ping, got %+v", req)
		}
		conn.WriteToUDP([]byte(`{"ok":true}`), addr)
	})

	tr := New(nil)
	p := provider.NewUDPProvider("svc", "127.0.0.1", port)
	result, err := tr.Call(context.Background(), "ping", map[string]any{}, p)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok || m["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTransport_CallStream_EndsOnStreamEnd(t *testing.T) {
	port := echoUDPServer(t, func(addr *net.UDPAddr, payload []byte, conn *net.UDPConn) {
		conn.WriteToUDP([]byte(`{"value":1}`), addr)
		conn.WriteToUDP([]byte(`{"type":"stream_end"}`), addr)
	})

	tr := New(nil)
	p := provider.NewUDPProvider("svc", "127.0.0.1", port)
	sr, err := tr.CallStream(context.Background(), "ping", map[string]any{}, p)
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

func TestTransport_CallStream_TimesOutAsEnd(t *testing.T) {
	port := echoUDPServer(t, func(addr *net.UDPAddr, payload []byte, conn *net.UDPConn) {
		conn.WriteToUDP([]byte(`{"value":1}`), addr)
	})

	tr := New(nil)
	p := provider.NewUDPProvider("svc", "127.0.0.1", port)
	p.Timeout = 200
	sr, err := tr.CallStream(context.Background(), "ping", map[string]any{}, p)
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	defer sr.Close()

	c1, err := sr.Next()
	if err != nil || c1.Kind != transport.ChunkData {
		t.Fatalf("expected data chunk, got %+v err=%v", c1, err)
	}
	c2, err := sr.Next()
	if err != nil || c2.Kind != transport.ChunkEnd || c2.Reason != "timeout" {
		t.Fatalf("expected timeout end chunk, got %+v err=%v", c2, err)
	}
}
