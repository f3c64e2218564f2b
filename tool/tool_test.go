package tool

import "testing"

func TestQualifiedName(t *testing.T) {
	tl := Tool{Name: "add"}
	if got := tl.QualifiedName("calc"); got != "calc.add" {
		t.Fatalf("got %q", got)
	}
}

func TestManualFromMap(t *testing.T) {
	m := map[string]interface{}{
		"version": "1.0",
		"tools": []interface{}{
			map[string]interface{}{
				"name":        "add",
				"description": "adds two numbers",
				"tags":        []interface{}{"math"},
				"inputs": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"a", "b"},
				},
			},
		},
	}
	manual := ManualFromMap(m)
	if manual.Version != "1.0" {
		t.Fatalf("version mismatch: %q", manual.Version)
	}
	if len(manual.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(manual.Tools))
	}
	got := manual.Tools[0]
	if got.Name != "add" || len(got.Tags) != 1 || got.Tags[0] != "math" {
		t.Fatalf("tool mismatch: %+v", got)
	}
	if got.Inputs.Type != "object" || len(got.Inputs.Required) != 2 {
		t.Fatalf("inputs mismatch: %+v", got.Inputs)
	}
}

func TestManualFromMap_MissingVersion(t *testing.T) {
	manual := ManualFromMap(map[string]interface{}{"tools": []interface{}{}})
	if manual.Version != "1.0" {
		t.Fatalf("expected default version, got %q", manual.Version)
	}
}
