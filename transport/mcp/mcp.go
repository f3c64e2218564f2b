// Package mcp implements the Model Context Protocol transport: JSON-RPC 2.0
// envelopes carried over HTTP POST rather than the stdio subprocess pipe
// MCP servers traditionally speak. One POST per logical exchange; the
// response body is scanned line by line so a server may emit zero or more
// notification lines ahead of its final correlated result, the same
// discipline a stdio transport applies to a subprocess's stdout.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/mark3labs/mcp-go/mcp"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

const defaultTimeout = 30 * time.Second

// Transport implements transport.ClientTransport for MCPProvider.
type Transport struct {
	logger func(format string, args ...interface{})
	client *http.Client

	mu     sync.Mutex
	nextID int
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	return &Transport{logger: logger, client: &http.Client{Timeout: defaultTimeout}}
}

func (t *Transport) Name() string            { return "mcp" }
func (t *Transport) SupportsStreaming() bool { return true }

func mcpProvider(p provider.Provider) (*provider.MCPProvider, error) {
	mp, ok := p.(*provider.MCPProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "mcp transport requires an MCPProvider"}
	}
	return mp, nil
}

func (t *Transport) generateID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

func (t *Transport) post(ctx context.Context, mp *provider.MCPProvider, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mp.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range mp.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: mp.URL, Err: err}
	}
	return resp, nil
}

// request sends one JSON-RPC request and scans the response body line by
// line until a message carrying the matching id arrives, surfacing any
// notification lines seen along the way.
func (t *Transport) request(ctx context.Context, mp *provider.MCPProvider, method string, params interface{}, notifications chan<- map[string]interface{}) (map[string]interface{}, error) {
	id := t.generateID()
	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		envelope["params"] = params
	}
	body, err := jsonutil.Marshal(envelope)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	resp, err := t.post(ctx, mp, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg map[string]interface{}
		if jsonutil.Unmarshal([]byte(line), &msg) != nil {
			continue
		}
		if _, hasID := msg["id"]; !hasID {
			if notifications != nil {
				notifications <- msg
			}
			continue
		}
		if toInt(msg["id"]) != id {
			continue
		}
		if errVal, ok := msg["error"]; ok {
			errMap, _ := errVal.(map[string]interface{})
			code, _ := errMap["code"].(float64)
			message, _ := errMap["message"].(string)
			return nil, &utcperr.RemoteError{Code: fmt.Sprintf("%d", int(code)), Message: message}
		}
		result, _ := msg["result"].(map[string]interface{})
		return result, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return nil, &utcperr.DecodeFailed{Err: fmt.Errorf("mcp: no response matched request id %d", id)}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return -1
	}
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	mp, err := mcpProvider(p)
	if err != nil {
		return nil, err
	}
	if _, err := t.request(ctx, mp, "initialize", map[string]interface{}{}, nil); err != nil {
		return nil, err
	}
	result, err := t.request(ctx, mp, "tools/list", nil, nil)
	if err != nil {
		return nil, err
	}

	rawTools, _ := result["tools"].([]interface{})
	if len(rawTools) == 0 {
		return nil, nil
	}
	encoded, err := jsonutil.Marshal(rawTools)
	if err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	var sdkTools []mcpsdk.Tool
	if err := jsonutil.Unmarshal(encoded, &sdkTools); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}

	tools := make([]tool.Tool, len(sdkTools))
	for i, st := range sdkTools {
		tools[i] = tool.Tool{
			Name:        st.Name,
			Description: st.Description,
			Inputs: tool.Schema{
				Type:       "object",
				Properties: st.InputSchema.Properties,
				Required:   st.InputSchema.Required,
			},
		}
	}
	return tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	_, err := mcpProvider(p)
	return err
}

// bareName strips the <provider>. qualifier the orchestrator attaches to
// every other transport's tool names; MCP servers only ever see the part
// after the final dot, per the tool-name convention.
func bareName(toolName string) string {
	if idx := strings.LastIndex(toolName, "."); idx >= 0 {
		return toolName[idx+1:]
	}
	return toolName
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	mp, err := mcpProvider(p)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{"name": bareName(toolName), "arguments": args}
	result, err := t.request(ctx, mp, "tools/call", params, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	mp, err := mcpProvider(p)
	if err != nil {
		return nil, err
	}
	id := t.generateID()
	envelope := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]interface{}{"name": bareName(toolName), "arguments": args},
	}
	body, err := jsonutil.Marshal(envelope)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	resp, err := t.post(ctx, mp, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "mcp", Tool: toolName, Provider: mp.Name}
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		var seq transport.SequenceCounter
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var msg map[string]interface{}
			if jsonutil.Unmarshal([]byte(line), &msg) != nil {
				continue
			}
			if _, hasID := msg["id"]; !hasID {
				ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: msg}
				continue
			}
			if toInt(msg["id"]) != id {
				continue
			}
			if errVal, ok := msg["error"]; ok {
				errMap, _ := errVal.(map[string]interface{})
				message, _ := errMap["message"].(string)
				ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: message}
				return
			}
			ch <- transport.Chunk{Kind: transport.ChunkData, Sequence: seq.Next(), Meta: meta, Value: msg["result"]}
			ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
			return
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			ch <- transport.Chunk{Kind: transport.ChunkError, Sequence: seq.Next(), Meta: meta, Reason: err.Error()}
			return
		}
		ch <- transport.Chunk{Kind: transport.ChunkEnd, Sequence: seq.Next(), Meta: meta}
	}()

	return transport.NewChannelStreamResult(ch, func() error { return resp.Body.Close() }), nil
}
