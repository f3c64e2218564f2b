package provider

import (
	"encoding/json"

	"github.com/utcp-go/utcp/auth"
)

// HTTPProvider describes a RESTful HTTP/HTTPS endpoint: one URL that either
// serves a UTCP manual for discovery, or accepts tool calls directly when
// templated with {arg} placeholders.
type HTTPProvider struct {
	Base
	HTTPMethod  string            `json:"http_method"`
	URL         string            `json:"url"`
	ContentType string            `json:"content_type"`
	Auth        auth.Auth         `json:"auth,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func NewHTTPProvider(name, url string) *HTTPProvider {
	return &HTTPProvider{
		Base:        Base{Name: name, Kind: KindHTTP},
		HTTPMethod:  "GET",
		URL:         url,
		ContentType: "application/json",
	}
}

// UnmarshalHTTPProvider decodes an HTTPProvider, deferring the auth field to
// the auth package's discriminated decoder.
func UnmarshalHTTPProvider(data []byte) (*HTTPProvider, error) {
	type alias HTTPProvider
	aux := struct {
		*alias
		Auth json.RawMessage `json:"auth"`
	}{alias: (*alias)(&HTTPProvider{Base: Base{Kind: KindHTTP}})}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, err
	}
	p := (*HTTPProvider)(aux.alias)
	if len(aux.Auth) > 0 && string(aux.Auth) != "null" {
		a, err := auth.Unmarshal(aux.Auth)
		if err != nil {
			return nil, err
		}
		p.Auth = a
	}
	return p, nil
}
