// Package repository is the in-memory index of registered providers and
// the tools each one owns.
package repository

import (
	"context"
	"sync"

	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/utcperr"
)

// ToolRepository is the storage contract the client orchestrator and the
// search engine both depend on.
type ToolRepository interface {
	SaveProviderWithTools(ctx context.Context, p provider.Provider, tools []tool.Tool) error
	RemoveProvider(ctx context.Context, providerName string) error
	RemoveTool(ctx context.Context, toolName string) error
	GetTool(ctx context.Context, toolName string) (*tool.Tool, error)
	GetTools(ctx context.Context) ([]tool.Tool, error)
	GetToolsByProvider(ctx context.Context, providerName string) ([]tool.Tool, error)
	GetProvider(ctx context.Context, providerName string) (provider.Provider, error)
	GetProviders(ctx context.Context) ([]provider.Provider, error)
}

// InMemoryToolRepository keys every entry by provider name. Writes take the
// exclusive lock; reads take a read lock just long enough to copy out a
// snapshot slice, so callers never hold the repository's lock themselves.
type InMemoryToolRepository struct {
	mu        sync.RWMutex
	tools     map[string][]tool.Tool
	providers map[string]provider.Provider
}

// NewInMemoryToolRepository constructs an empty repository.
func NewInMemoryToolRepository() *InMemoryToolRepository {
	return &InMemoryToolRepository{
		tools:     make(map[string][]tool.Tool),
		providers: make(map[string]provider.Provider),
	}
}

func (r *InMemoryToolRepository) SaveProviderWithTools(ctx context.Context, p provider.Provider, tools []tool.Tool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	name := p.ProviderName()
	if name == "" {
		return &utcperr.InvalidProvider{Reason: "provider name must not be empty"}
	}
	snapshot := make([]tool.Tool, len(tools))
	copy(snapshot, tools)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	r.tools[name] = snapshot
	return nil
}

func (r *InMemoryToolRepository) RemoveProvider(ctx context.Context, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[providerName]; !ok {
		return &utcperr.ProviderNotFound{Name: providerName}
	}
	delete(r.providers, providerName)
	delete(r.tools, providerName)
	return nil
}

func (r *InMemoryToolRepository) RemoveTool(ctx context.Context, toolName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for providerName, tools := range r.tools {
		for i, t := range tools {
			if t.Name == toolName {
				r.tools[providerName] = append(tools[:i:i], tools[i+1:]...)
				return nil
			}
		}
	}
	return &utcperr.ToolNotFound{Name: toolName}
}

func (r *InMemoryToolRepository) GetTool(ctx context.Context, toolName string) (*tool.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tools := range r.tools {
		for _, t := range tools {
			if t.Name == toolName {
				cp := t
				return &cp, nil
			}
		}
	}
	return nil, &utcperr.ToolNotFound{Name: toolName}
}

func (r *InMemoryToolRepository) GetTools(ctx context.Context) ([]tool.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []tool.Tool
	for _, tools := range r.tools {
		all = append(all, tools...)
	}
	return all, nil
}

func (r *InMemoryToolRepository) GetToolsByProvider(ctx context.Context, providerName string) ([]tool.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools, ok := r.tools[providerName]
	if !ok {
		return nil, &utcperr.ProviderNotFound{Name: providerName}
	}
	out := make([]tool.Tool, len(tools))
	copy(out, tools)
	return out, nil
}

func (r *InMemoryToolRepository) GetProvider(ctx context.Context, providerName string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerName]
	if !ok {
		return nil, &utcperr.ProviderNotFound{Name: providerName}
	}
	return p, nil
}

func (r *InMemoryToolRepository) GetProviders(ctx context.Context) ([]provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out, nil
}
