package graphql

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/utcp-go/utcp/provider"
)

func TestTransport_Register_IntrospectsFieldsWithArgs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"__schema":{
			"queryType":{"fields":[{"name":"user","description":"fetch a user","args":[{"name":"id","type":{"kind":"NON_NULL","name":null,"ofType":{"kind":"SCALAR","name":"ID","ofType":null}}}]}]},
			"mutationType":{"fields":[{"name":"createUser","description":null,"args":[]}]},
			"subscriptionType":null
		}}}`)
	}))
	defer srv.Close()

	tr := New(nil)
	p := provider.NewGraphQLProvider("gh", srv.URL)
	tools, err := tr.Register(context.Background(), p)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d: %+v", len(tools), tools)
	}
	var user *struct{}
	for _, tl := range tools {
		if tl.Name == "user" {
			if tl.Inputs.Properties["id"] == nil {
				t.Fatalf("expected id property on user tool")
			}
			if len(tl.Inputs.Required) != 1 || tl.Inputs.Required[0] != "id" {
				t.Fatalf("expected id to be required, got %+v", tl.Inputs.Required)
			}
			user = &struct{}{}
		}
	}
	if user == nil {
		t.Fatal("expected a user tool")
	}
}

func TestTransport_Call_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"add":{"sum":3}}}`)
	}))
	defer srv.Close()

	tr := New(nil)
	p := provider.NewGraphQLProvider("calc", srv.URL)
	result, err := tr.Call(context.Background(), "add", map[string]any{"a": 1, "b": 2}, p)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok || m["sum"].(float64) != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTransport_Call_RejectsSubscriptionOperation(t *testing.T) {
	tr := New(nil)
	p := provider.NewGraphQLProvider("sub", "https://example.com/graphql")
	p.OperationType = "subscription"
	if _, err := tr.Call(context.Background(), "ticks", map[string]any{}, p); err == nil {
		t.Fatal("expected rejection of subscription via Call")
	}
}

func TestTransport_Register_RejectsPlainHTTP(t *testing.T) {
	tr := New(nil)
	p := provider.NewGraphQLProvider("x", "http://example.com/graphql")
	if _, err := tr.Register(context.Background(), p); err == nil {
		t.Fatal("expected rejection of non-HTTPS, non-localhost URL")
	}
}

func TestBuildQuery_InfersTypes(t *testing.T) {
	q, _ := buildQuery("query", "", "add", map[string]any{"a": 1})
	if q == "" {
		t.Fatal("expected non-empty query")
	}
}

func TestClientPool_ReusesClient(t *testing.T) {
	pool := newClientPool()
	c1 := pool.get(context.Background(), "https://example.com/graphql", func(string, error) {})
	c2 := pool.get(context.Background(), "https://example.com/graphql", func(string, error) {})
	if c1 != c2 {
		t.Fatal("expected the same pooled client for the same URL")
	}
}
