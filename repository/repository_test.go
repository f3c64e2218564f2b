package repository

import (
	"context"
	"testing"

	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
)

func TestSaveAndGet(t *testing.T) {
	r := NewInMemoryToolRepository()
	ctx := context.Background()
	p := provider.NewHTTPProvider("svc", "http://x")
	tools := []tool.Tool{{Name: "add"}, {Name: "sub"}}

	if err := r.SaveProviderWithTools(ctx, p, tools); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := r.GetToolsByProvider(ctx, "svc")
	if err != nil || len(got) != 2 {
		t.Fatalf("GetToolsByProvider: %v %v", got, err)
	}

	tl, err := r.GetTool(ctx, "add")
	if err != nil || tl.Name != "add" {
		t.Fatalf("GetTool: %v %v", tl, err)
	}

	if _, err := r.GetProvider(ctx, "svc"); err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
}

func TestSaveProviderWithTools_MultipleProvidersDoNotCollide(t *testing.T) {
	r := NewInMemoryToolRepository()
	ctx := context.Background()
	p1 := provider.NewHTTPProvider("svc1", "http://x")
	p2 := provider.NewHTTPProvider("svc2", "http://y")
	r.SaveProviderWithTools(ctx, p1, []tool.Tool{{Name: "a"}})
	r.SaveProviderWithTools(ctx, p2, []tool.Tool{{Name: "b"}})

	all, _ := r.GetTools(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 tools across 2 providers, got %d", len(all))
	}
}

func TestRemoveProvider_NotFound(t *testing.T) {
	r := NewInMemoryToolRepository()
	if err := r.RemoveProvider(context.Background(), "missing"); err == nil {
		t.Fatal("expected error removing unknown provider")
	}
}

func TestGetToolsByProvider_Snapshot(t *testing.T) {
	r := NewInMemoryToolRepository()
	ctx := context.Background()
	p := provider.NewHTTPProvider("svc", "http://x")
	r.SaveProviderWithTools(ctx, p, []tool.Tool{{Name: "add"}})

	got, _ := r.GetToolsByProvider(ctx, "svc")
	got[0].Name = "mutated"

	got2, _ := r.GetToolsByProvider(ctx, "svc")
	if got2[0].Name != "add" {
		t.Fatalf("repository snapshot was mutated by caller: %q", got2[0].Name)
	}
}
