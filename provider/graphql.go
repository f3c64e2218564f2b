package provider

import (
	"encoding/json"

	"github.com/utcp-go/utcp/auth"
)

// GraphQLProvider describes a GraphQL endpoint. OperationType chooses
// between query, mutation, and subscription for tools with no explicit
// override.
type GraphQLProvider struct {
	Base
	URL           string            `json:"url"`
	OperationType string            `json:"operation_type,omitempty"`
	OperationName string            `json:"operation_name,omitempty"`
	Auth          auth.Auth         `json:"auth,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

func NewGraphQLProvider(name, url string) *GraphQLProvider {
	return &GraphQLProvider{Base: Base{Name: name, Kind: KindGraphQL}, URL: url, OperationType: "query"}
}

func UnmarshalGraphQLProvider(data []byte) (*GraphQLProvider, error) {
	type alias GraphQLProvider
	aux := struct {
		*alias
		Auth json.RawMessage `json:"auth"`
	}{alias: (*alias)(&GraphQLProvider{Base: Base{Kind: KindGraphQL}})}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, err
	}
	p := (*GraphQLProvider)(aux.alias)
	if len(aux.Auth) > 0 && string(aux.Auth) != "null" {
		a, err := auth.Unmarshal(aux.Auth)
		if err != nil {
			return nil, err
		}
		p.Auth = a
	}
	return p, nil
}
