package cli

import (
	"context"
	"testing"

	"github.com/utcp-go/utcp/provider"
)

func TestTransport_Call_JSONOutput(t *testing.T) {
	tr := New(nil)
	p := provider.NewCLIProvider("echoer", "/bin/echo")
	p.Args = []string{`{"sum":3}`}
	result, err := tr.Call(context.Background(), "echoer.add", map[string]any{}, p)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok || m["sum"].(float64) != 3 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestTransport_Call_PlainTextFallback(t *testing.T) {
	tr := New(nil)
	p := provider.NewCLIProvider("echoer", "/bin/echo")
	p.Args = []string{"hello"}
	result, err := tr.Call(context.Background(), "echoer.say", map[string]any{}, p)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected plain text fallback, got %#v", result)
	}
}

func TestTransport_Call_RejectsShellMetacharacters(t *testing.T) {
	tr := New(nil)
	p := provider.NewCLIProvider("echoer", "/bin/echo")
	_, err := tr.Call(context.Background(), "echoer.say", map[string]any{"cmd": "x; rm -rf /"}, p)
	if err == nil {
		t.Fatal("expected command-injection rejection")
	}
}

func TestTransport_SupportsStreaming_False(t *testing.T) {
	tr := New(nil)
	if tr.SupportsStreaming() {
		t.Fatal("cli transport must not support streaming")
	}
	if _, err := tr.CallStream(context.Background(), "x.y", nil, provider.NewCLIProvider("x", "/bin/echo")); err == nil {
		t.Fatal("expected CallStream to error")
	}
}
