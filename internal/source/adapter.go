package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nftwatch/internal/model"
)

// Source names tag raw transactions so the normalizer can pick a decoder.
const (
	SourceOpenSea   = "opensea"
	SourceMagicEden = "magiceden"
	SourceOnchain   = "onchain"
)

// Adapter fetches recent raw transactions for a collection.
// Implementations must honor ctx cancellation and report failures as *FetchError.
type Adapter interface {
	Fetch(ctx context.Context, collection model.Collection) ([]model.RawTransaction, error)
}

// Validator is implemented by adapters that can check a collection key
// before it is tracked.
type Validator interface {
	ValidateKey(key string) error
}

// Canonicalizer is implemented by adapters whose keys have several
// spellings for one collection.
type Canonicalizer interface {
	CanonicalKey(key string) (string, error)
}

// NameResolver is implemented by adapters that can look up a collection's
// display name from its key.
type NameResolver interface {
	ResolveName(ctx context.Context, key string) (string, error)
}

// ConfigurationError reports a tracked route without a registered adapter.
type ConfigurationError struct {
	Chain       model.Chain
	Marketplace model.Marketplace
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no source adapter for %s/%s", e.Chain, e.Marketplace)
}

type route struct {
	chain       model.Chain
	marketplace model.Marketplace
}

func (r route) String() string {
	return string(r.chain) + "/" + string(r.marketplace)
}

// Registry maps chain/marketplace pairs to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[route]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[route]Adapter)}
}

// Register binds an adapter to a chain/marketplace pair, replacing any previous one.
func (r *Registry) Register(chain model.Chain, marketplace model.Marketplace, adapter Adapter) {
	r.mu.Lock()
	r.adapters[route{chain: chain, marketplace: marketplace}] = adapter
	r.mu.Unlock()
}

// Lookup returns the adapter for the collection's route.
func (r *Registry) Lookup(id model.CollectionID) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[route{chain: id.Chain, marketplace: id.Marketplace}]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Chain: id.Chain, Marketplace: id.Marketplace}
	}
	return adapter, nil
}

// Supported reports whether an adapter is registered for the pair.
func (r *Registry) Supported(chain model.Chain, marketplace model.Marketplace) bool {
	_, err := r.Lookup(model.CollectionID{Chain: chain, Marketplace: marketplace})
	return err == nil
}

// Routes lists the registered pairs as chain/marketplace strings, sorted.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.adapters))
	for key := range r.adapters {
		out = append(out, key.String())
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ValidateKey checks the key with the route's adapter when it supports validation.
func (r *Registry) ValidateKey(id model.CollectionID) error {
	adapter, err := r.Lookup(id)
	if err != nil {
		return err
	}
	if id.Key == "" {
		return fmt.Errorf("collection key is required")
	}
	if v, ok := adapter.(Validator); ok {
		return v.ValidateKey(id.Key)
	}
	return nil
}

// Canonicalize validates the key and rewrites it to the adapter's canonical
// spelling, so one collection maps to one CollectionID.
func (r *Registry) Canonicalize(id model.CollectionID) (model.CollectionID, error) {
	if err := r.ValidateKey(id); err != nil {
		return id, err
	}
	adapter, _ := r.Lookup(id)
	c, ok := adapter.(Canonicalizer)
	if !ok {
		return id, nil
	}
	key, err := c.CanonicalKey(id.Key)
	if err != nil {
		return id, err
	}
	id.Key = key
	return id, nil
}

// ResolveName asks the route's adapter for a display name. It returns "" when
// the adapter cannot resolve names.
func (r *Registry) ResolveName(ctx context.Context, id model.CollectionID) (string, error) {
	adapter, err := r.Lookup(id)
	if err != nil {
		return "", err
	}
	if n, ok := adapter.(NameResolver); ok {
		return n.ResolveName(ctx, id.Key)
	}
	return "", nil
}
