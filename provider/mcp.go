package provider

import (
	"encoding/json"

	"github.com/utcp-go/utcp/auth"
)

// MCPProvider describes a Model Context Protocol server reachable over
// JSON-RPC 2.0 HTTP. Tool names are exchanged on the wire in their bare
// MCP-native form, never prefixed with the provider name.
type MCPProvider struct {
	Base
	URL     string            `json:"url"`
	Auth    auth.Auth         `json:"auth,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func NewMCPProvider(name, url string) *MCPProvider {
	return &MCPProvider{Base: Base{Name: name, Kind: KindMCP}, URL: url}
}

func UnmarshalMCPProvider(data []byte) (*MCPProvider, error) {
	type alias MCPProvider
	aux := struct {
		*alias
		Auth json.RawMessage `json:"auth"`
	}{alias: (*alias)(&MCPProvider{Base: Base{Kind: KindMCP}})}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, err
	}
	p := (*MCPProvider)(aux.alias)
	if len(aux.Auth) > 0 && string(aux.Auth) != "null" {
		a, err := auth.Unmarshal(aux.Auth)
		if err != nil {
			return nil, err
		}
		p.Auth = a
	}
	return p, nil
}
