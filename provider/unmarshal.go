package provider

import (
	"encoding/json"
	"fmt"
)

// Unmarshal decodes a provider record by first reading its provider_type
// discriminator, then dispatching to the matching concrete decoder.
func Unmarshal(data []byte) (Provider, error) {
	var disc struct {
		Kind Kind `json:"provider_type"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	switch disc.Kind {
	case KindHTTP:
		return UnmarshalHTTPProvider(data)
	case KindCLI:
		p := &CLIProvider{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
		return p, nil
	case KindWebSocket:
		return UnmarshalWebSocketProvider(data)
	case KindGRPC:
		return UnmarshalGRPCProvider(data)
	case KindGraphQL:
		return UnmarshalGraphQLProvider(data)
	case KindMCP:
		return UnmarshalMCPProvider(data)
	case KindTCP:
		p := &TCPProvider{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
		return p, nil
	case KindUDP:
		p := &UDPProvider{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
		return p, nil
	case KindWebRTC:
		return UnmarshalWebRTCProvider(data)
	default:
		return nil, fmt.Errorf("provider: unknown provider_type %q", disc.Kind)
	}
}

// UnmarshalList decodes a JSON array of provider records.
func UnmarshalList(data []byte) ([]Provider, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	out := make([]Provider, 0, len(raw))
	for _, r := range raw {
		p, err := Unmarshal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
