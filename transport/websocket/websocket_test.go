package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/transport"
)

func echoServer(t *testing.T, handle func(conn *gws.Conn)) *httptest.Server {
	upgrader := gws.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		handle(c)
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestTransport_Register(t *testing.T) {
	srv := echoServer(t, func(c *gws.Conn) {
		defer c.Close()
		_, _, _ = c.ReadMessage()
		c.WriteMessage(gws.TextMessage, []byte(`{"version":"1.0","tools":[{"name":"ping"}]}`))
	})
	defer srv.Close()

	tr := New(nil)
	p := provider.NewWebSocketProvider("echo", wsURL(srv.URL))
	tools, err := tr.Register(context.Background(), p)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "ping" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestTransport_Call_ReusesConnection(t *testing.T) {
	calls, accepted := 0, 0
	srv := echoServer(t, func(c *gws.Conn) {
		accepted++
		defer c.Close()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			calls++
			_ = data
			c.WriteMessage(gws.TextMessage, []byte(`{"ok":true}`))
		}
	})
	defer srv.Close()

	tr := New(nil)
	p := provider.NewWebSocketProvider("echo", wsURL(srv.URL))

	for i := 0; i < 3; i++ {
		if _, err := tr.Call(context.Background(), "echo.ping", map[string]any{}, p); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	n := accepted
	if n != 1 {
		t.Fatalf("expected exactly one persistent connection, got %d", n)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls over the same connection, got %d", calls)
	}
}

func TestTransport_CallStream_EndsOnStreamEnd(t *testing.T) {
	srv := echoServer(t, func(c *gws.Conn) {
		defer c.Close()
		_, _, _ = c.ReadMessage()
		c.WriteMessage(gws.TextMessage, []byte(`{"n":1}`))
		c.WriteMessage(gws.TextMessage, []byte(`{"n":2}`))
		c.WriteMessage(gws.TextMessage, []byte(`{"type":"stream_end"}`))
	})
	defer srv.Close()

	tr := New(nil)
	p := provider.NewWebSocketProvider("echo", wsURL(srv.URL))
	sr, err := tr.CallStream(context.Background(), "echo.stream", map[string]any{}, p)
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	defer sr.Close()

	c1, err := sr.Next()
	if err != nil || c1.Kind != transport.ChunkData || c1.Sequence != 0 {
		t.Fatalf("unexpected first chunk: %+v err=%v", c1, err)
	}
	c2, err := sr.Next()
	if err != nil || c2.Kind != transport.ChunkData || c2.Sequence != 1 {
		t.Fatalf("unexpected second chunk: %+v err=%v", c2, err)
	}
	c3, err := sr.Next()
	if err != nil || c3.Kind != transport.ChunkEnd {
		t.Fatalf("expected end chunk, got %+v err=%v", c3, err)
	}
}

func TestTransport_KeepAliveDisabled_NoPingLoop(t *testing.T) {
	srv := echoServer(t, func(c *gws.Conn) {
		defer c.Close()
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	tr := New(nil)
	p := provider.NewWebSocketProvider("echo", wsURL(srv.URL))
	p.KeepAlive = false
	c, err := tr.getConn(context.Background(), p)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case <-c.stopPing:
		t.Fatal("stopPing channel should not be closed yet")
	default:
	}
}

func TestTransport_SupportsStreaming_True(t *testing.T) {
	tr := New(nil)
	if !tr.SupportsStreaming() {
		t.Fatal("websocket transport supports streaming")
	}
}
