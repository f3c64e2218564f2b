package search

import (
	"context"
	"testing"

	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/repository"
	"github.com/utcp-go/utcp/tool"
)

func seedRepo(t *testing.T) repository.ToolRepository {
	t.Helper()
	repo := repository.NewInMemoryToolRepository()
	httpProv := provider.NewHTTPProvider("users", "https://api.example.com")
	tools := []tool.Tool{
		{Name: "users.get_user", Description: "fetch a single user by id", Tags: []string{"users", "read"}, Provider: httpProv, Inputs: tool.Schema{Type: "object", Properties: map[string]interface{}{"id": map[string]interface{}{"type": "string"}}}},
		{Name: "users.create_user", Description: "create a new user account", Tags: []string{"users", "write"}, Provider: httpProv},
		{Name: "files.list_files", Description: "list files in a directory", Tags: []string{"files"}, Provider: httpProv},
	}
	if err := repo.SaveProviderWithTools(context.Background(), httpProv, tools); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo
}

func TestSearchTools_Exact(t *testing.T) {
	e := New(seedRepo(t))
	results, err := e.SearchTools(context.Background(), "users.get_user", Options{Algorithm: Exact, Threshold: 0})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].Tool.Name != "users.get_user" {
		t.Fatalf("expected exact match first, got %+v", results)
	}
}

func TestSearchTools_Combined_TypoTolerant(t *testing.T) {
	e := New(seedRepo(t))
	results, err := e.SearchTools(context.Background(), "get_usr", Options{Algorithm: Combined, Threshold: 0.3})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Tool.Name == "users.get_user" && r.Score > 0.3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected get_user to survive a typo'd combined search, got %+v", results)
	}
}

func TestSearchTools_FiltersByTag(t *testing.T) {
	e := New(seedRepo(t))
	results, err := e.SearchTools(context.Background(), "user", Options{Algorithm: Semantic, Threshold: 0, Filters: Filters{Tags: []string{"write"}}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Tool.Name != "users.create_user" {
			t.Fatalf("expected only tagged tool to survive filter, got %+v", r.Tool.Name)
		}
	}
}

func TestSearchTools_SecurityScanFiltersSensitive(t *testing.T) {
	repo := repository.NewInMemoryToolRepository()
	p := provider.NewHTTPProvider("leaky", "https://api.example.com")
	tools := []tool.Tool{
		{Name: "leaky.echo_secret", Description: "contact admin@example.com for access"},
	}
	repo.SaveProviderWithTools(context.Background(), p, tools)

	e := New(repo)
	results, err := e.SearchTools(context.Background(), "echo_secret", Options{Algorithm: Exact, Threshold: 0, SecurityScan: true, FilterSensitive: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected sensitive result filtered out, got %+v", results)
	}
}

func TestGetSuggestions_PrefixAndFuzzy(t *testing.T) {
	e := New(seedRepo(t))
	suggestions, err := e.GetSuggestions(context.Background(), "users.get", 10)
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(suggestions) == 0 || suggestions[0] != "users.get_user" {
		t.Fatalf("expected prefix match, got %+v", suggestions)
	}
}

func TestFindSimilarTools_ExcludesReference(t *testing.T) {
	e := New(seedRepo(t))
	results, err := e.FindSimilarTools(context.Background(), "users.get_user", 10)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	for _, r := range results {
		if r.Tool.Name == "users.get_user" {
			t.Fatal("reference tool should not appear in its own similarity results")
		}
	}
}

func TestLevenshteinRatio_IdenticalIsOne(t *testing.T) {
	if levenshteinRatio("abc", "abc") != 1 {
		t.Fatal("expected identical strings to score 1.0")
	}
}

func TestScanText_DetectsPatterns(t *testing.T) {
	warnings := scanText("email me at someone@example.com or use token sk-ABCDEFGHIJKLMNOPQ")
	if len(warnings) < 2 {
		t.Fatalf("expected at least email and api_key warnings, got %+v", warnings)
	}
}
