// Package transport defines the uniform verb set every concrete transport
// implements, and the streaming primitives shared across them.
package transport

import (
	"context"

	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
)

// ClientTransport is the uniform surface the orchestrator drives every
// provider kind through.
type ClientTransport interface {
	// Name identifies the transport, e.g. "http", "websocket".
	Name() string

	// SupportsStreaming reports whether CallStream is meaningful for
	// this transport. Only the CLI transport answers false.
	SupportsStreaming() bool

	// Register discovers the tool catalog a provider exposes.
	Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error)

	// Deregister releases any transport-held state for a provider
	// (pooled connections, cached schemas, subprocess handles).
	Deregister(ctx context.Context, p provider.Provider) error

	// Call invokes toolName once and returns its single result.
	Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error)

	// CallStream invokes toolName and returns a lazily-consumed sequence
	// of chunks.
	CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (StreamResult, error)
}
