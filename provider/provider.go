// Package provider defines the tagged union of provider records the client
// registers: one entry per transport kind, sharing a name and an optional
// credential applier.
package provider

// Kind discriminates the nine supported provider transports.
type Kind string

const (
	KindHTTP      Kind = "http"
	KindCLI       Kind = "cli"
	KindWebSocket Kind = "websocket"
	KindGRPC      Kind = "grpc"
	KindGraphQL   Kind = "graphql"
	KindMCP       Kind = "mcp"
	KindTCP       Kind = "tcp"
	KindUDP       Kind = "udp"
	KindWebRTC    Kind = "webrtc"
)

// Provider is implemented by every concrete provider record.
type Provider interface {
	// ProviderName returns the unique registration name.
	ProviderName() string
	// ProviderKind returns the transport discriminator.
	ProviderKind() Kind
}

// Base holds the fields common to every provider kind.
type Base struct {
	Name string `json:"name"`
	Kind Kind   `json:"provider_type"`
}

func (b *Base) ProviderName() string { return b.Name }
func (b *Base) ProviderKind() Kind   { return b.Kind }

// SetProviderName lets the orchestrator normalize a provider's registration
// name (e.g. replacing "." with "_" so it can't collide with the
// "<provider>.<tool>" qualifier) without a type switch over every kind.
func (b *Base) SetProviderName(name string) { b.Name = name }
