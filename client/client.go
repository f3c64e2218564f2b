// Package client is the orchestrator: it owns the transport registry, the
// tool repository, the search engine, and telemetry, and exposes the
// single call surface applications use to register providers and invoke
// tools regardless of transport.
//
// The orchestrator itself holds no mutable state beyond what it is
// constructed with — transports, the repository, and the search engine
// each own their own concurrency story. Outbound calls are dispatched by
// reading a provider/tool snapshot from the repository and then calling
// straight into the transport, never while holding any lock of the
// orchestrator's own.
package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/repository"
	"github.com/utcp-go/utcp/search"
	"github.com/utcp-go/utcp/telemetry"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/transport/cli"
	"github.com/utcp-go/utcp/transport/graphql"
	"github.com/utcp-go/utcp/transport/grpc"
	"github.com/utcp-go/utcp/transport/http"
	"github.com/utcp-go/utcp/transport/mcp"
	"github.com/utcp-go/utcp/transport/tcp"
	"github.com/utcp-go/utcp/transport/udp"
	"github.com/utcp-go/utcp/transport/webrtc"
	"github.com/utcp-go/utcp/transport/websocket"
	"github.com/utcp-go/utcp/utcperr"
)

// Client is the single entry point applications hold.
type Client struct {
	config     *Config
	transports map[provider.Kind]transport.ClientTransport
	repo       repository.ToolRepository
	search     *search.Engine
	telemetry  *telemetry.Recorder
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithRepository overrides the default in-memory repository, e.g. for tests
// that want to pre-seed tool state.
func WithRepository(repo repository.ToolRepository) Option {
	return func(c *Client) { c.repo = repo }
}

// WithTelemetry overrides the default no-op sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(c *Client) { c.telemetry = telemetry.NewRecorder(sink) }
}

func defaultTransports(logger func(format string, args ...interface{})) map[provider.Kind]transport.ClientTransport {
	return map[provider.Kind]transport.ClientTransport{
		provider.KindHTTP:      http.New(logger),
		provider.KindCLI:       cli.New(logger),
		provider.KindWebSocket: websocket.New(logger),
		provider.KindGRPC:      grpc.New(logger),
		provider.KindGraphQL:   graphql.New(logger),
		provider.KindMCP:       mcp.New(logger),
		provider.KindTCP:       tcp.New(logger),
		provider.KindUDP:       udp.New(logger),
		provider.KindWebRTC:    webrtc.New(logger),
	}
}

func defaultLogger(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "utcp: "+format+"\n", args...)
}

// New constructs a Client, optionally loading and registering providers
// from cfg.ProvidersFilePath.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.Variables == nil {
		cfg.Variables = make(map[string]string)
	}

	repo := repository.ToolRepository(repository.NewInMemoryToolRepository())
	c := &Client{
		config:     cfg,
		transports: defaultTransports(defaultLogger),
		repo:       repo,
		search:     nil,
		telemetry:  telemetry.NewRecorder(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.search == nil {
		c.search = search.New(c.repo)
	}

	if cfg.ProvidersFilePath != "" {
		if err := c.loadProviders(ctx, cfg.ProvidersFilePath); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) loadProviders(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("utcp: reading providers file %q: %w", path, err)
	}
	var rawList []map[string]interface{}
	if err := jsonutil.Unmarshal(data, &rawList); err != nil {
		return fmt.Errorf("utcp: invalid JSON in providers file %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	for _, raw := range rawList {
		kind, _ := raw["provider_type"].(string)
		if kind == "" {
			fmt.Fprintf(os.Stderr, "utcp: warning: skipping provider without provider_type: %v\n", raw)
			continue
		}
		substituted, _ := c.substituteAny(raw).(map[string]interface{})
		blob, err := jsonutil.Marshal(substituted)
		if err != nil {
			fmt.Fprintf(os.Stderr, "utcp: warning: re-encoding provider %q: %v\n", kind, err)
			continue
		}
		p, err := provider.Unmarshal(blob)
		if err != nil {
			fmt.Fprintf(os.Stderr, "utcp: warning: decoding provider %q: %v\n", kind, err)
			continue
		}
		if cliProv, ok := p.(*provider.CLIProvider); ok && cliProv.WorkingDir == "" {
			cliProv.WorkingDir = dir
		}
		if _, err := c.RegisterProvider(ctx, p); err != nil {
			fmt.Fprintf(os.Stderr, "utcp: warning: registering provider %q: %v\n", p.ProviderName(), err)
		}
	}
	return nil
}

// substituteProviderVariables round-trips p through JSON, replacing every
// ${VAR}/$VAR placeholder, and decodes the result back into a provider of
// the same concrete type.
func (c *Client) substituteProviderVariables(p provider.Provider) (provider.Provider, error) {
	blob, err := jsonutil.Marshal(p)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	var raw map[string]interface{}
	if err := jsonutil.Unmarshal(blob, &raw); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	substituted, _ := c.substituteAny(raw).(map[string]interface{})
	out, err := jsonutil.Marshal(substituted)
	if err != nil {
		return nil, &utcperr.EncodeFailed{Err: err}
	}
	return provider.Unmarshal(out)
}

func (c *Client) transportFor(kind provider.Kind) (transport.ClientTransport, error) {
	tr, ok := c.transports[kind]
	if !ok {
		return nil, &utcperr.NoTransport{Kind: string(kind)}
	}
	return tr, nil
}

// RegisterProvider substitutes variables, discovers the provider's tool
// catalog through the matching transport, namespaces every tool name as
// "<provider>.<tool>", and commits provider+tools to the repository. No
// partial state is committed if discovery fails.
func (c *Client) RegisterProvider(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	p, err := c.substituteProviderVariables(p)
	if err != nil {
		return nil, err
	}
	name := strings.ReplaceAll(p.ProviderName(), ".", "_")
	if base, ok := p.(interface{ SetProviderName(string) }); ok {
		base.SetProviderName(name)
	}

	tr, err := c.transportFor(p.ProviderKind())
	if err != nil {
		return nil, err
	}

	var tools []tool.Tool
	err = c.telemetry.Timed(ctx, telemetry.Provider, "register:"+name, name, tr.Name(), nil, func(ctx context.Context) error {
		discovered, regErr := tr.Register(ctx, p)
		if regErr != nil {
			return regErr
		}
		tools = discovered
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover tools: %w", err)
	}

	for i := range tools {
		if !strings.HasPrefix(tools[i].Name, name+".") {
			tools[i].Name = name + "." + tools[i].Name
		}
		tools[i].Provider = p
	}

	if err := c.repo.SaveProviderWithTools(ctx, p, tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// DeregisterProvider releases the transport's connection state and removes
// the provider and its tools from the repository.
func (c *Client) DeregisterProvider(ctx context.Context, providerName string) error {
	p, err := c.repo.GetProvider(ctx, providerName)
	if err != nil {
		return err
	}
	tr, err := c.transportFor(p.ProviderKind())
	if err != nil {
		return err
	}
	if err := tr.Deregister(ctx, p); err != nil {
		return err
	}
	c.telemetry.Instant(telemetry.Provider, "deregister:"+providerName, providerName, tr.Name(), nil)
	return c.repo.RemoveProvider(ctx, providerName)
}

// splitQualified splits "<provider>.<tool>" into its two parts.
func splitQualified(toolName string) (providerName, rest string, err error) {
	idx := strings.Index(toolName, ".")
	if idx <= 0 {
		return "", "", &utcperr.ToolNotFound{Name: toolName}
	}
	return toolName[:idx], toolName[idx+1:], nil
}

// resolve looks up the provider and transport for a qualified tool name,
// re-substituting provider variables (a credential may rotate between
// register and call) before handing back a ready-to-call provider.
func (c *Client) resolve(ctx context.Context, toolName string) (provider.Provider, transport.ClientTransport, error) {
	providerName, _, err := splitQualified(toolName)
	if err != nil {
		return nil, nil, err
	}
	p, err := c.repo.GetProvider(ctx, providerName)
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.repo.GetTool(ctx, toolName); err != nil {
		return nil, nil, err
	}
	p, err = c.substituteProviderVariables(p)
	if err != nil {
		return nil, nil, err
	}
	tr, err := c.transportFor(p.ProviderKind())
	if err != nil {
		return nil, nil, err
	}
	return p, tr, nil
}

// CallTool invokes toolName (qualified "<provider>.<tool>") once. Every
// transport's Call receives the qualified name; transports whose wire
// protocol only knows the bare tool name (MCP) strip the qualifier
// themselves, per the tool-name convention.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	p, tr, err := c.resolve(ctx, toolName)
	if err != nil {
		return nil, err
	}
	var result any
	err = c.telemetry.Timed(ctx, telemetry.ToolCall, toolName, p.ProviderName(), tr.Name(), nil, func(ctx context.Context) error {
		res, callErr := tr.Call(ctx, toolName, args, p)
		if callErr != nil {
			return callErr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute tool: %w", err)
	}
	return result, nil
}

// CallToolStream invokes toolName and returns a lazily-consumed chunk
// sequence. The CLI transport is the one provider kind with no streaming
// model; its CallStream returns an error, which this method passes through
// unchanged rather than special-casing SupportsStreaming itself.
func (c *Client) CallToolStream(ctx context.Context, toolName string, args map[string]any) (transport.StreamResult, error) {
	p, tr, err := c.resolve(ctx, toolName)
	if err != nil {
		return nil, err
	}
	c.telemetry.Instant(telemetry.ToolCall, toolName+":stream-start", p.ProviderName(), tr.Name(), nil)
	return tr.CallStream(ctx, toolName, args, p)
}

// SearchTools, SearchProviders, GetSuggestions and FindSimilarTools
// delegate to the search engine. SearchTools records a telemetry event per
// call; the other three emit no telemetry.
func (c *Client) SearchTools(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	var results []search.Result
	err := c.telemetry.Timed(ctx, telemetry.Search, query, "", "", map[string]string{"algorithm": string(opts.Algorithm)}, func(ctx context.Context) error {
		r, searchErr := c.search.SearchTools(ctx, query, opts)
		if searchErr != nil {
			return searchErr
		}
		results = r
		return nil
	})
	return results, err
}

func (c *Client) SearchProviders(ctx context.Context, query string, limit int) ([]search.ProviderResult, error) {
	return c.search.SearchProviders(ctx, query, limit)
}

func (c *Client) GetSuggestions(ctx context.Context, prefix string, limit int) ([]string, error) {
	return c.search.GetSuggestions(ctx, prefix, limit)
}

func (c *Client) FindSimilarTools(ctx context.Context, ref string, limit int) ([]search.Result, error) {
	return c.search.FindSimilarTools(ctx, ref, limit)
}

// Stats is a cheap snapshot of repository size, returned by GetStats.
type Stats struct {
	ProviderCount int
	ToolCount     int
}

// GetStats reports how many providers and tools are currently registered.
func (c *Client) GetStats(ctx context.Context) (Stats, error) {
	providers, err := c.repo.GetProviders(ctx)
	if err != nil {
		return Stats{}, err
	}
	tools, err := c.repo.GetTools(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{ProviderCount: len(providers), ToolCount: len(tools)}, nil
}
