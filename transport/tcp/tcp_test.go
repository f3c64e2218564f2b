package tcp

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/transport"
)

func echoTCPServer(t *testing.T, handler func(req map[string]interface{}) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				line, err := reader.ReadBytes('\n')
				if err != nil {
					return
				}
				var req map[string]interface{}
				if jsonutil.Unmarshal(line, &req) != nil {
					return
				}
				resp := handler(req)
				c.Write([]byte(resp + "\n"))
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return h, port
}

func TestTransport_Register(t *testing.T) {
	addr := echoTCPServer(t, func(req map[string]interface{}) string {
		if req["action"] != "list" {
			t.Errorf("expected list action, got %+v", req)
		}
		return `{"tools":[{"name":"ping","description":"","inputs":{"type":"object"}}]}`
	})
	host, port := hostPort(t, addr)

	tr := New(nil)
	p := provider.NewTCPProvider("svc", host, port)
	tools, err := tr.Register(context.Background(), p)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "ping" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestTransport_Call(t *testing.T) {
	addr := echoTCPServer(t, func(req map[string]interface{}) string {
		if req["tool"] != "ping" {
			t.Errorf("expected tool ping, got %+v", req)
		}
		return `{"ok":true}`
	})
	host, port := hostPort(t, addr)

	tr := New(nil)
	p := provider.NewTCPProvider("svc", host, port)
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
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bufio.NewReader(conn).ReadBytes('\n')
		conn.Write([]byte(`{"value":1}` + "\n"))
		conn.Write([]byte(`{"type":"stream_end"}` + "\n"))
	}()

	host, port := hostPort(t, ln.Addr().String())
	tr := New(nil)
	p := provider.NewTCPProvider("svc", host, port)
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
