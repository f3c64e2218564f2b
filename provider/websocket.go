package provider

import (
	"encoding/json"

	"github.com/utcp-go/utcp/auth"
)

// WebSocketProvider describes a persistent WebSocket endpoint.
type WebSocketProvider struct {
	Base
	URL       string            `json:"url"`
	Protocol  string            `json:"protocol,omitempty"`
	KeepAlive bool              `json:"keep_alive"`
	Auth      auth.Auth         `json:"auth,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

func NewWebSocketProvider(name, url string) *WebSocketProvider {
	return &WebSocketProvider{Base: Base{Name: name, Kind: KindWebSocket}, URL: url, KeepAlive: true}
}

func UnmarshalWebSocketProvider(data []byte) (*WebSocketProvider, error) {
	type alias WebSocketProvider
	aux := struct {
		*alias
		Auth json.RawMessage `json:"auth"`
	}{alias: (*alias)(&WebSocketProvider{Base: Base{Kind: KindWebSocket}})}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, err
	}
	p := (*WebSocketProvider)(aux.alias)
	if len(aux.Auth) > 0 && string(aux.Auth) != "null" {
		a, err := auth.Unmarshal(aux.Auth)
		if err != nil {
			return nil, err
		}
		p.Auth = a
	}
	return p, nil
}
