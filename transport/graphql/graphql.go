// Package graphql implements the GraphQL transport: HTTP POST
// query/mutation via machinebox/graphql with a pooled client per endpoint,
// real introspection-to-tool-schema extraction, and graphql-ws subscription
// streaming.
package graphql

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	gqlclient "github.com/machinebox/graphql"

	"github.com/utcp-go/utcp/auth"
	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

type oauthToken struct {
	AccessToken string `json:"access_token"`
}

// Transport implements transport.ClientTransport for GraphQLProvider.
type Transport struct {
	logger func(format string, args ...interface{})
	pool   *clientPool

	mu          sync.Mutex
	oauthTokens map[string]oauthToken
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	return &Transport{logger: logger, pool: newClientPool(), oauthTokens: make(map[string]oauthToken)}
}

func (t *Transport) Name() string            { return "graphql" }
func (t *Transport) SupportsStreaming() bool { return true }

func (t *Transport) logf(s string, err error) {
	if err != nil {
		t.logger("%s: %v", s, err)
		return
	}
	t.logger("%s", s)
}

func graphqlProvider(p provider.Provider) (*provider.GraphQLProvider, error) {
	gp, ok := p.(*provider.GraphQLProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "graphql transport requires a GraphQLProvider"}
	}
	return gp, nil
}

func (t *Transport) enforceHTTPSOrLocalhost(u string) error {
	ok := strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "http://localhost") ||
		strings.HasPrefix(u, "http://127.0.0.1") ||
		strings.HasPrefix(u, "wss://") ||
		strings.HasPrefix(u, "ws://localhost") ||
		strings.HasPrefix(u, "ws://127.0.0.1")
	if !ok {
		return fmt.Errorf("graphql: url must use HTTPS/WSS or localhost, got %s", u)
	}
	return nil
}

func (t *Transport) handleOAuth2(ctx context.Context, a *auth.OAuth2Auth) (string, error) {
	t.mu.Lock()
	if tok, ok := t.oauthTokens[a.ClientID]; ok {
		t.mu.Unlock()
		return tok.AccessToken, nil
	}
	t.mu.Unlock()

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", a.ClientID)
	data.Set("client_secret", a.ClientSecret)
	if a.Scope != nil {
		data.Set("scope", *a.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := ioutil.ReadAll(resp.Body)
		return "", fmt.Errorf("oauth2 token request failed: %s", string(body))
	}
	var tok oauthToken
	if err := jsonutil.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	t.mu.Lock()
	t.oauthTokens[a.ClientID] = tok
	t.mu.Unlock()
	return tok.AccessToken, nil
}

func (t *Transport) prepareHeaders(ctx context.Context, gp *provider.GraphQLProvider) (map[string]string, error) {
	headers := make(map[string]string)
	for k, v := range gp.Headers {
		headers[k] = v
	}
	if gp.Auth == nil {
		return headers, nil
	}
	switch a := gp.Auth.(type) {
	case *auth.ApiKeyAuth:
		if !strings.EqualFold(a.Location, "header") {
			return nil, fmt.Errorf("graphql: api-key location %q not supported, only header", a.Location)
		}
		headers[a.VarName] = a.APIKey
	case *auth.BasicAuth:
		token := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		headers["Authorization"] = "Basic " + token
	case *auth.OAuth2Auth:
		token, err := t.handleOAuth2(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("graphql: oauth2 token error: %w", err)
		}
		headers["Authorization"] = "Bearer " + token
	}
	return headers, nil
}

func inferGraphQLType(value interface{}) string {
	if value == nil {
		return "String"
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "Int"
	case reflect.Float32, reflect.Float64:
		return "Float"
	case reflect.Bool:
		return "Boolean"
	case reflect.String:
		return "String"
	default:
		return "JSON"
	}
}

// buildQuery constructs a query/mutation document with typed variable
// definitions inferred from the call arguments' Go types.
func buildQuery(opType, opName, toolName string, args map[string]any) (string, map[string]interface{}) {
	var b strings.Builder
	b.WriteString(opType + " ")
	if opName != "" {
		b.WriteString(opName + " ")
	}

	var defs, passes []string
	for k := range args {
		defs = append(defs, fmt.Sprintf("$%s: %s", k, inferGraphQLType(args[k])))
		passes = append(passes, fmt.Sprintf("%s: $%s", k, k))
	}
	if len(defs) > 0 {
		b.WriteString("(" + strings.Join(defs, ", ") + ") ")
	}
	b.WriteString("{ " + toolName)
	if len(passes) > 0 {
		b.WriteString("(" + strings.Join(passes, ", ") + ")")
	}
	b.WriteString(" }")
	return b.String(), args
}

func introspectionURL(gp *provider.GraphQLProvider) (string, error) {
	if !strings.EqualFold(gp.OperationType, "subscription") {
		return gp.URL, nil
	}
	u, err := url.Parse(gp.URL)
	if err != nil {
		return "", fmt.Errorf("graphql: invalid provider url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.String(), nil
}

const introspectionQuery = `
query IntrospectionQuery {
  __schema {
    queryType { fields { name description args { name type { kind name ofType { kind name ofType { kind name } } } } } }
    mutationType { fields { name description args { name type { kind name ofType { kind name ofType { kind name } } } } } }
    subscriptionType { fields { name description args { name type { kind name ofType { kind name ofType { kind name } } } } } }
  }
}`

type introspectionResponse struct {
	Schema struct {
		QueryType        struct{ Fields []introspectionField } `json:"queryType"`
		MutationType     *struct{ Fields []introspectionField } `json:"mutationType"`
		SubscriptionType *struct{ Fields []introspectionField } `json:"subscriptionType"`
	} `json:"__schema"`
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	gp, err := graphqlProvider(p)
	if err != nil {
		return nil, err
	}
	if err := t.enforceHTTPSOrLocalhost(gp.URL); err != nil {
		return nil, err
	}
	headers, err := t.prepareHeaders(ctx, gp)
	if err != nil {
		return nil, err
	}
	introURL, err := introspectionURL(gp)
	if err != nil {
		return nil, err
	}

	client := t.pool.get(ctx, introURL, t.logf)
	req := gqlclient.NewRequest(introspectionQuery)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	var resp introspectionResponse
	if err := client.Run(ctx, req, &resp); err != nil {
		return nil, &utcperr.ConnectFailed{Target: introURL, Err: err}
	}

	var tools []tool.Tool
	for _, f := range resp.Schema.QueryType.Fields {
		tools = append(tools, fieldToTool(gp.Name, f))
	}
	if resp.Schema.MutationType != nil {
		for _, f := range resp.Schema.MutationType.Fields {
			tools = append(tools, fieldToTool(gp.Name, f))
		}
	}
	if resp.Schema.SubscriptionType != nil {
		for _, f := range resp.Schema.SubscriptionType.Fields {
			tools = append(tools, fieldToTool(gp.Name, f))
		}
	}
	return tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	gp, err := graphqlProvider(p)
	if err != nil {
		return err
	}
	return t.pool.close(gp.URL)
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	gp, err := graphqlProvider(p)
	if err != nil {
		return nil, err
	}
	if err := t.enforceHTTPSOrLocalhost(gp.URL); err != nil {
		return nil, err
	}
	opType := strings.ToLower(gp.OperationType)
	if opType == "" {
		opType = "query"
	}
	if opType == "subscription" {
		return nil, fmt.Errorf("graphql: subscription operations must use CallStream")
	}
	if opType != "query" && opType != "mutation" {
		return nil, fmt.Errorf("graphql: invalid operation type %q", opType)
	}

	headers, err := t.prepareHeaders(ctx, gp)
	if err != nil {
		return nil, err
	}
	query, vars := buildQuery(opType, gp.OperationName, toolName, args)
	req := gqlclient.NewRequest(query)
	for k, v := range vars {
		req.Var(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := t.pool.get(ctx, gp.URL, t.logf)
	var resp map[string]interface{}
	if err := client.Run(ctx, req, &resp); err != nil {
		return nil, &utcperr.RemoteError{Code: "graphql", Message: err.Error()}
	}
	if data, ok := resp[toolName]; ok {
		return data, nil
	}
	return resp, nil
}

func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	gp, err := graphqlProvider(p)
	if err != nil {
		return nil, err
	}
	if err := t.enforceHTTPSOrLocalhost(gp.URL); err != nil {
		return nil, err
	}
	if !strings.EqualFold(gp.OperationType, "subscription") {
		return nil, fmt.Errorf("graphql: CallStream requires operation_type=subscription")
	}

	headers, err := t.prepareHeaders(ctx, gp)
	if err != nil {
		return nil, err
	}
	query, vars := buildQuery("subscription", gp.OperationName, toolName, args)

	dialer := websocket.Dialer{Subprotocols: []string{"graphql-ws"}}
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}
	conn, _, err := dialer.DialContext(ctx, gp.URL, hdr)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: gp.URL, Err: err}
	}

	if err := conn.WriteJSON(map[string]interface{}{"type": "connection_init"}); err != nil {
		conn.Close()
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, &utcperr.ConnectFailed{Target: gp.URL, Err: err}
	}
	if ack["type"] != "connection_ack" {
		conn.Close()
		return nil, fmt.Errorf("graphql: expected connection_ack, got %v", ack["type"])
	}

	if err := conn.WriteJSON(map[string]interface{}{
		"id":   "subscription-1",
		"type": "start",
		"payload": map[string]interface{}{
			"query":     query,
			"variables": vars,
		},
	}); err != nil {
		conn.Close()
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "graphql", Tool: toolName, Provider: gp.Name}
	go func() {
		defer close(ch)
		var seq transport.SequenceCounter
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: err.Error()}
				return
			}
			switch msg["type"] {
			case "data":
				payload, _ := msg["payload"].(map[string]interface{})
				data, _ := payload["data"].(map[string]interface{})
				var value interface{} = data
				if v, ok := data[toolName]; ok {
					value = v
				}
				ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: value}
			case "error":
				ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: fmt.Sprint(msg["payload"])}
				return
			case "complete":
				ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
				return
			}
		}
	}()

	return transport.NewChannelStreamResult(ch, func() error {
		conn.WriteJSON(map[string]interface{}{"id": "subscription-1", "type": "stop"})
		return conn.Close()
	}), nil
}
