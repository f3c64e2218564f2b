package provider

import (
	"encoding/json"

	"github.com/utcp-go/utcp/auth"
)

// GRPCProvider describes a gRPC service and the single RPC method this
// provider entry exposes as a UTCP tool.
type GRPCProvider struct {
	Base
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Target      string    `json:"target,omitempty"` // overrides host:port when set, e.g. a DNS-discovered address
	ServiceName string    `json:"service_name"`
	MethodName  string    `json:"method_name"`
	UseSSL      bool      `json:"use_ssl"`
	Auth        auth.Auth `json:"auth,omitempty"`
}

func NewGRPCProvider(name, host string, port int, service, method string) *GRPCProvider {
	return &GRPCProvider{
		Base:        Base{Name: name, Kind: KindGRPC},
		Host:        host,
		Port:        port,
		ServiceName: service,
		MethodName:  method,
	}
}

func UnmarshalGRPCProvider(data []byte) (*GRPCProvider, error) {
	type alias GRPCProvider
	aux := struct {
		*alias
		Auth json.RawMessage `json:"auth"`
	}{alias: (*alias)(&GRPCProvider{Base: Base{Kind: KindGRPC}})}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, err
	}
	p := (*GRPCProvider)(aux.alias)
	if len(aux.Auth) > 0 && string(aux.Auth) != "null" {
		a, err := auth.Unmarshal(aux.Auth)
		if err != nil {
			return nil, err
		}
		p.Auth = a
	}
	return p, nil
}
