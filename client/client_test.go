package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/search"
)

// fakeHTTPProviderServer serves both discovery and invocation off a single
// URL, the way HTTPProvider's transport calls back into the same hp.URL for
// both Register and Call: a request carrying an "id" query parameter is
// treated as a tool call, anything else as tool-catalog discovery.
func fakeHTTPProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "" {
			fmt.Fprint(w, `{"id":"42","name":"ada"}`)
			return
		}
		fmt.Fprint(w, `{"tools":[{"name":"get_user","description":"fetch a user by id","inputs":{"type":"object","properties":{"id":{"type":"string"}}}}]}`)
	})
	return httptest.NewServer(mux)
}

func TestClient_RegisterAndCallTool(t *testing.T) {
	srv := fakeHTTPProviderServer(t)
	defer srv.Close()

	c, err := New(context.Background(), NewConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	p := provider.NewHTTPProvider("users", srv.URL+"/users")
	tools, err := c.RegisterProvider(context.Background(), p)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "users.get_user" {
		t.Fatalf("expected qualified tool name, got %+v", tools)
	}

	if _, err := c.repo.GetProvider(context.Background(), "users"); err != nil {
		t.Fatalf("provider not stored: %v", err)
	}

	result, err := c.CallTool(context.Background(), "users.get_user", map[string]any{"id": "42"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok || m["name"] != "ada" {
		t.Fatalf("unexpected call result: %+v", result)
	}
}

func TestClient_CallTool_UnknownProvider(t *testing.T) {
	c, err := New(context.Background(), NewConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.CallTool(context.Background(), "missing.tool", nil); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestClient_DeregisterProvider_RemovesTools(t *testing.T) {
	srv := fakeHTTPProviderServer(t)
	defer srv.Close()

	c, err := New(context.Background(), NewConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	p := provider.NewHTTPProvider("users", srv.URL+"/users")
	if _, err := c.RegisterProvider(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.DeregisterProvider(context.Background(), "users"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := c.CallTool(context.Background(), "users.get_user", nil); err == nil {
		t.Fatal("expected call on deregistered provider to fail")
	}
}

func TestClient_SubstituteProviderVariables(t *testing.T) {
	cfg := NewConfig()
	cfg.Variables["API_HOST"] = "http://127.0.0.1:9"
	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	p := provider.NewHTTPProvider("svc", "${API_HOST}/discover")
	out, err := c.substituteProviderVariables(p)
	if err != nil {
		t.Fatalf("substitute: %v", err)
	}
	hp, ok := out.(*provider.HTTPProvider)
	if !ok || hp.URL != "http://127.0.0.1:9/discover" {
		t.Fatalf("expected substituted URL, got %+v", out)
	}
}

func TestClient_SearchTools_DelegatesToEngine(t *testing.T) {
	srv := fakeHTTPProviderServer(t)
	defer srv.Close()

	c, err := New(context.Background(), NewConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	p := provider.NewHTTPProvider("users", srv.URL+"/users")
	if _, err := c.RegisterProvider(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}

	results, err := c.SearchTools(context.Background(), "users.get_user", search.Options{Algorithm: search.Exact})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].Tool.Name != "users.get_user" {
		t.Fatalf("expected get_user in results, got %+v", results)
	}
}

func TestClient_GetStats(t *testing.T) {
	srv := fakeHTTPProviderServer(t)
	defer srv.Close()

	c, err := New(context.Background(), NewConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	p := provider.NewHTTPProvider("users", srv.URL+"/users")
	if _, err := c.RegisterProvider(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}
	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ProviderCount != 1 || stats.ToolCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
