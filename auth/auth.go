// Package auth holds the credential-applier union: api-key, basic, and
// OAuth2 client-credentials authentication that providers attach to their
// outbound requests.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies which concrete auth scheme a provider record carries.
type Type string

const (
	APIKeyType Type = "api_key"
	BasicType  Type = "basic"
	OAuth2Type Type = "oauth2"
)

// Auth is implemented by every concrete authentication scheme.
type Auth interface {
	Type() Type
	Validate() error
}

// ApiKeyAuth sends a pre-shared key via a header, query parameter, or
// cookie.
type ApiKeyAuth struct {
	AuthType Type   `json:"auth_type"`
	APIKey   string `json:"api_key"`
	VarName  string `json:"var_name"`
	Location string `json:"location"`
}

// NewApiKeyAuth builds an ApiKeyAuth with the conventional header defaults.
func NewApiKeyAuth(apiKey string) *ApiKeyAuth {
	return &ApiKeyAuth{
		AuthType: APIKeyType,
		APIKey:   apiKey,
		VarName:  "X-Api-Key",
		Location: "header",
	}
}

func (a *ApiKeyAuth) Type() Type { return a.AuthType }

func (a *ApiKeyAuth) Validate() error {
	if a.APIKey == "" {
		return errors.New("api_key must be provided")
	}
	switch a.Location {
	case "header", "query", "cookie":
	default:
		return errors.New("location must be 'header', 'query', or 'cookie'")
	}
	return nil
}

// BasicAuth sends RFC 7617 HTTP Basic credentials.
type BasicAuth struct {
	AuthType Type   `json:"auth_type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewBasicAuth builds a BasicAuth.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{AuthType: BasicType, Username: username, Password: password}
}

func (b *BasicAuth) Type() Type { return b.AuthType }

func (b *BasicAuth) Validate() error {
	if b.Username == "" {
		return errors.New("username must be provided")
	}
	if b.Password == "" {
		return errors.New("password must be provided")
	}
	return nil
}

// OAuth2Auth drives the client-credentials grant, with a Basic-auth header
// fallback when the token endpoint rejects credentials in the body.
type OAuth2Auth struct {
	AuthType     Type    `json:"auth_type"`
	TokenURL     string  `json:"token_url"`
	ClientID     string  `json:"client_id"`
	ClientSecret string  `json:"client_secret"`
	Scope        *string `json:"scope,omitempty"`
}

// NewOAuth2Auth builds an OAuth2Auth.
func NewOAuth2Auth(tokenURL, clientID, clientSecret string, scope *string) *OAuth2Auth {
	return &OAuth2Auth{
		AuthType:     OAuth2Type,
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        scope,
	}
}

func (o *OAuth2Auth) Type() Type { return o.AuthType }

func (o *OAuth2Auth) Validate() error {
	if o.TokenURL == "" {
		return errors.New("token_url must be provided")
	}
	if o.ClientID == "" {
		return errors.New("client_id must be provided")
	}
	if o.ClientSecret == "" {
		return errors.New("client_secret must be provided")
	}
	return nil
}

// Unmarshal inspects auth_type and decodes data into the matching concrete
// type. Providers keep Auth fields as auth.Auth and defer decoding to this
// function via a two-pass json.RawMessage alias, the pattern used
// throughout the provider package.
func Unmarshal(data []byte) (Auth, error) {
	var disc struct {
		AuthType Type `json:"auth_type"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	switch disc.AuthType {
	case APIKeyType:
		a := &ApiKeyAuth{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	case BasicType:
		a := &BasicAuth{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	case OAuth2Type:
		a := &OAuth2Auth{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("auth: unknown auth_type %q", disc.AuthType)
	}
}
