package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"iam/internal/verification/models"
)

// Provider verifies one kind of account fact (a "stamp") for an address.
//
// Implementations report an invalid check through the returned result
// (Valid=false with Errors). Returning an error means the check itself could
// not run and is reported to the client as a 400.
type Provider interface {
	// Type is the provider type label, e.g. "Github" or "AllowList".
	Type() string

	// Verify checks payload for this provider. pctx is shared with the other
	// providers of the same platform group for the duration of one request.
	Verify(ctx context.Context, payload models.RequestPayload, pctx *Context) (*models.VerifiedResult, error)
}

// Func adapts a function into a Provider.
type Func struct {
	Name string
	Fn   func(ctx context.Context, payload models.RequestPayload, pctx *Context) (*models.VerifiedResult, error)
}

func (f Func) Type() string { return f.Name }

func (f Func) Verify(ctx context.Context, payload models.RequestPayload, pctx *Context) (*models.VerifiedResult, error) {
	return f.Fn(ctx, payload, pctx)
}

// Registry maps provider types to implementations. Register everything
// during startup; lookups are safe for concurrent use afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p keyed by its type. Duplicate types are rejected.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := p.Type()
	if _, exists := r.providers[t]; exists {
		return fmt.Errorf("provider %s already registered", t)
	}
	r.providers[t] = p
	return nil
}

func (r *Registry) Get(providerType string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerType]
	return p, ok
}

// Types lists registered provider types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for t := range r.providers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Verify dispatches to the provider registered for providerType.
func (r *Registry) Verify(ctx context.Context, providerType string, payload models.RequestPayload, pctx *Context) (*models.VerifiedResult, error) {
	p, ok := r.Get(providerType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
	}
	return p.Verify(ctx, payload, pctx)
}
