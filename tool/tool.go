// Package tool holds the Tool and Manual records exchanged during provider
// discovery and the JSON-schema shape their inputs/outputs describe.
package tool

import "github.com/utcp-go/utcp/provider"

// Schema mirrors a (deliberately small) subset of JSON Schema sufficient to
// describe a tool's inputs or outputs.
type Schema struct {
	Type        string                 `json:"type"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Description string                 `json:"description,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	Format      string                 `json:"format,omitempty"`
}

// Tool is one RPC operation a provider exposes.
type Tool struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Inputs              Schema   `json:"inputs"`
	Outputs             Schema   `json:"outputs"`
	Tags                []string `json:"tags,omitempty"`
	AverageResponseSize *int     `json:"average_response_size,omitempty"`

	// Provider is set by the client orchestrator at registration time, never
	// carried on the wire.
	Provider provider.Provider `json:"-"`
}

// QualifiedName returns "<provider>.<tool>", the namespace the client
// orchestrator routes calls by for every transport except MCP, whose tools
// are addressed by their bare wire name.
func (t Tool) QualifiedName(providerName string) string {
	return providerName + "." + t.Name
}

// Manual is the discovery payload a provider returns: its declared protocol
// version and the tools it exposes.
type Manual struct {
	Version string `json:"version"`
	Tools   []Tool `json:"tools"`
}

// ManualFromMap builds a Manual from a loosely-typed map, the shape HTTP
// discovery responses decode into before the version field is known to be
// present.
func ManualFromMap(m map[string]interface{}) Manual {
	manual := Manual{Version: "1.0"}
	if v, ok := m["version"].(string); ok {
		manual.Version = v
	}
	rawTools, ok := m["tools"].([]interface{})
	if !ok {
		return manual
	}
	for _, rt := range rawTools {
		tm, ok := rt.(map[string]interface{})
		if !ok {
			continue
		}
		manual.Tools = append(manual.Tools, toolFromMap(tm))
	}
	return manual
}

func toolFromMap(m map[string]interface{}) Tool {
	t := Tool{}
	if v, ok := m["name"].(string); ok {
		t.Name = v
	}
	if v, ok := m["description"].(string); ok {
		t.Description = v
	}
	if tags, ok := m["tags"].([]interface{}); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				t.Tags = append(t.Tags, s)
			}
		}
	}
	if in, ok := m["inputs"].(map[string]interface{}); ok {
		t.Inputs = schemaFromMap(in)
	}
	if out, ok := m["outputs"].(map[string]interface{}); ok {
		t.Outputs = schemaFromMap(out)
	}
	return t
}

func schemaFromMap(m map[string]interface{}) Schema {
	s := Schema{Type: "object"}
	if v, ok := m["type"].(string); ok {
		s.Type = v
	}
	if v, ok := m["description"].(string); ok {
		s.Description = v
	}
	if v, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = v
	}
	if req, ok := m["required"].([]interface{}); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	return s
}
