// Package infobroker exposes a read-only, fact-keyed query surface over the
// processor's store and resource backends. Components that only need to look
// things up depend on the Broker instead of the concrete services, so the
// facts they consume can be served locally or over the wire without the
// consumers noticing.
package infobroker

import (
	"context"
	"fmt"
	"sync"

	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// Params carries the keyword arguments of a fact query.
type Params map[string]any

// String returns the named string parameter, or "" when absent.
func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Int64 returns the named integer parameter, tolerating the numeric types a
// JSON round trip may produce.
func (p Params) Int64(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// ProviderFunc answers one fact.
type ProviderFunc func(ctx context.Context, params Params) (any, error)

// Broker answers fact queries.
type Broker interface {
	Get(ctx context.Context, fact string, params Params) (any, error)
}

// Registry is a Broker backed by a map of registered providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]ProviderFunc)}
}

// Register binds a provider to a fact name, replacing any previous binding.
func (r *Registry) Register(fact string, provider ProviderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[fact] = provider
}

// Get answers the fact query, or ErrNotFound when no provider is bound.
func (r *Registry) Get(ctx context.Context, fact string, params Params) (any, error) {
	r.mu.RLock()
	provider, ok := r.providers[fact]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("fact %q: %w", fact, errs.ErrNotFound)
	}
	return provider(ctx, params)
}
