// Package http implements the unary HTTP transport and its SSE streaming
// mode (spec §4.3).
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/utcp-go/utcp/auth"
	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

// Transport implements transport.ClientTransport for HTTPProvider records,
// including the SSE streaming mode.
type Transport struct {
	client      *http.Client
	oauthTokens map[string]map[string]interface{}
	logger      func(format string, args ...interface{})
	maxRetries  int
}

func nopLogger(string, ...interface{}) {}

// New constructs an HTTP transport. A nil logger is replaced with a no-op.
func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	return &Transport{
		client:      &http.Client{Timeout: 30 * time.Second},
		oauthTokens: make(map[string]map[string]interface{}),
		logger:      logger,
		maxRetries:  3,
	}
}

func (t *Transport) Name() string           { return "http" }
func (t *Transport) SupportsStreaming() bool { return true }

func (t *Transport) httpProvider(p provider.Provider) (*provider.HTTPProvider, error) {
	hp, ok := p.(*provider.HTTPProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "http transport requires an HTTPProvider"}
	}
	return hp, nil
}

func (t *Transport) applyAuth(req *http.Request, hp *provider.HTTPProvider) error {
	if hp.Auth == nil {
		return nil
	}
	switch a := hp.Auth.(type) {
	case *auth.ApiKeyAuth:
		if a.APIKey == "" {
			return errors.New("api key for ApiKeyAuth not found")
		}
		switch a.Location {
		case "header":
			req.Header.Set(a.VarName, a.APIKey)
		case "query":
			q := req.URL.Query()
			q.Set(a.VarName, a.APIKey)
			req.URL.RawQuery = q.Encode()
		case "cookie":
			req.AddCookie(&http.Cookie{Name: a.VarName, Value: a.APIKey})
		}
	case *auth.BasicAuth:
		req.SetBasicAuth(a.Username, a.Password)
	case *auth.OAuth2Auth:
		token, err := t.handleOAuth2(req.Context(), a)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (t *Transport) handleOAuth2(ctx context.Context, oauth *auth.OAuth2Auth) (string, error) {
	if cached, ok := t.oauthTokens[oauth.ClientID]; ok {
		if access, ok := cached["access_token"].(string); ok {
			return access, nil
		}
	}
	scope := ""
	if oauth.Scope != nil {
		scope = *oauth.Scope
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", oauth.ClientID)
	form.Set("client_secret", oauth.ClientSecret)
	form.Set("scope", scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if resp, err := t.client.Do(req); err == nil && resp.StatusCode < 300 {
		defer resp.Body.Close()
		var data map[string]interface{}
		if err := jsonutil.NewDecoder(resp.Body).Decode(&data); err == nil {
			t.oauthTokens[oauth.ClientID] = data
			if tok, ok := data["access_token"].(string); ok {
				return tok, nil
			}
		}
	}

	req2, err := http.NewRequestWithContext(ctx, http.MethodPost, oauth.TokenURL,
		strings.NewReader("grant_type=client_credentials&scope="+url.QueryEscape(scope)))
	if err != nil {
		return "", err
	}
	req2.SetBasicAuth(oauth.ClientID, oauth.ClientSecret)
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp2, err := t.client.Do(req2)
	if err != nil {
		return "", err
	}
	defer resp2.Body.Close()
	var data2 map[string]interface{}
	if err := jsonutil.NewDecoder(resp2.Body).Decode(&data2); err != nil {
		return "", err
	}
	t.oauthTokens[oauth.ClientID] = data2
	if tok, ok := data2["access_token"].(string); ok {
		return tok, nil
	}
	return "", errors.New("access_token not found in OAuth2 response")
}

func enforceHTTPSOrLocalhost(u string) error {
	if strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://localhost") || strings.HasPrefix(u, "http://127.0.0.1") {
		return nil
	}
	return fmt.Errorf("security error: URL must use HTTPS or localhost; got: %s", u)
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	hp, err := t.httpProvider(p)
	if err != nil {
		return nil, err
	}
	if err := enforceHTTPSOrLocalhost(hp.URL); err != nil {
		return nil, err
	}
	t.logger("discovering tools from %q at %s", hp.Name, hp.URL)

	method := hp.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, hp.URL, nil)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	req.Header = make(http.Header)
	for k, v := range hp.Headers {
		req.Header.Set(k, v)
	}
	if err := t.applyAuth(req, hp); err != nil {
		return nil, err
	}

	resp, err := t.retryDo(req)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: hp.URL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &utcperr.RemoteError{Code: resp.Status, Message: fmt.Sprintf("discovery request to %s failed", hp.Name)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}

	var raw map[string]interface{}
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "yaml") || strings.HasSuffix(hp.URL, ".yaml") || strings.HasSuffix(hp.URL, ".yml") {
		if err := yaml.Unmarshal(body, &raw); err != nil {
			return nil, &utcperr.DecodeFailed{Err: err}
		}
	} else if err := jsonutil.Unmarshal(body, &raw); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	manual := tool.ManualFromMap(raw)
	return manual.Tools, nil
}

// retryDo applies the exponential backoff retry policy (§4.3): retry
// network errors and 5xx responses, never 4xx.
func (t *Transport) retryDo(req *http.Request) (*http.Response, error) {
	delay := 1 * time.Second
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		resp, err := t.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			resp.Body.Close()
		}
		if attempt == t.maxRetries {
			break
		}
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	return nil
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	hp, err := t.httpProvider(p)
	if err != nil {
		return nil, err
	}

	urlTemplate := hp.URL
	remaining := make(map[string]any, len(args))
	for k, v := range args {
		placeholder := fmt.Sprintf("{%s}", k)
		if strings.Contains(urlTemplate, placeholder) {
			urlTemplate = strings.ReplaceAll(urlTemplate, placeholder, fmt.Sprintf("%v", v))
		} else {
			remaining[k] = v
		}
	}

	u, err := url.Parse(urlTemplate)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}

	method := hp.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	var req *http.Request
	if len(remaining) > 0 && method == http.MethodPost {
		body, err := jsonutil.Marshal(remaining)
		if err != nil {
			return nil, &utcperr.EncodeFailed{Err: err}
		}
		req, err = http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(string(body)))
		if err != nil {
			return nil, &utcperr.EncodeFailed{Err: err}
		}
		req.Header = make(http.Header)
		req.Header.Set("Content-Type", "application/json")
	} else {
		q := u.Query()
		for k, v := range remaining {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return nil, &utcperr.EncodeFailed{Err: err}
		}
		req.Header = make(http.Header)
	}
	for k, v := range hp.Headers {
		req.Header.Set(k, v)
	}
	if err := t.applyAuth(req, hp); err != nil {
		return nil, err
	}

	resp, err := t.retryDo(req)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: u.String(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &utcperr.RemoteError{Code: resp.Status, Message: fmt.Sprintf("tool %s returned an error", toolName)}
	}

	var result interface{}
	if err := jsonutil.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return result, nil
}

// CallStream opens a streaming HTTP request with SSE headers and runs the
// incoming-buffer/next-sequence state machine described by spec §4.3.
func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	hp, err := t.httpProvider(p)
	if err != nil {
		return nil, err
	}

	body, err := jsonutil.Marshal(args)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hp.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hp.Headers {
		req.Header.Set(k, v)
	}
	if err := t.applyAuth(req, hp); err != nil {
		return nil, err
	}

	streamClient := &http.Client{} // infinite read timeout for the streaming body
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: hp.URL, Err: err}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &utcperr.RemoteError{Code: resp.Status, Message: fmt.Sprintf("stream request to %s failed", hp.Name)}
	}

	ch := make(chan transport.Chunk, 16)
	meta := transport.Meta{Transport: "http", Tool: toolName, Provider: hp.Name}
	go runSSELoop(resp.Body, ch, meta)

	return transport.NewChannelStreamResult(ch, func() error { return resp.Body.Close() }), nil
}

// runSSELoop implements the SSE state machine: double-newline event
// splitting, data:/id:/event:/retry:/comment-line handling, [DONE]
// sentinel, and a 5s no-event timeout.
func runSSELoop(body io.ReadCloser, out chan<- transport.Chunk, meta transport.Meta) {
	defer close(out)
	reader := bufio.NewReader(body)
	var seq transport.SequenceCounter

	lineCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lineCh <- line
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	var buffer strings.Builder
	emit := func(c transport.Chunk) {
		c.Sequence = seq.Next()
		c.Meta = meta
		out <- c
	}

	for {
		select {
		case line := <-lineCh:
			buffer.WriteString(line)
			if strings.HasSuffix(buffer.String(), "\n\n") || strings.HasSuffix(buffer.String(), "\r\n\r\n") {
				event := buffer.String()
				buffer.Reset()
				if done := processSSEEvent(event, emit); done {
					return
				}
			}
		case err := <-errCh:
			if err == io.EOF {
				if buffer.Len() > 0 {
					processSSEEvent(buffer.String(), emit)
				}
				emit(transport.Chunk{Kind: transport.ChunkEnd})
				return
			}
			emit(transport.Chunk{Kind: transport.ChunkError, Reason: err.Error()})
			return
		case <-time.After(5 * time.Second):
			emit(transport.Chunk{Kind: transport.ChunkError, Reason: "timeout waiting for next SSE event"})
			return
		}
	}
}

// processSSEEvent parses one double-newline-delimited SSE event and emits
// the corresponding chunk(s). Returns true if the stream should terminate.
func processSSEEvent(event string, emit func(transport.Chunk)) bool {
	lines := strings.Split(strings.ReplaceAll(event, "\r\n", "\n"), "\n")
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			emit(transport.Chunk{Kind: transport.ChunkEnd})
			return true
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
			emit(transport.Chunk{Kind: transport.ChunkData, Value: decoded})
		} else {
			emit(transport.Chunk{Kind: transport.ChunkData, Value: payload})
		}
	}
	return false
}
