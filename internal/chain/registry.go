package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// Registry holds one connected Client per configured chain, addressable by
// the config alias and by numeric chain ID.
type Registry struct {
	byKey map[string]*Client
	byID  map[uint64]*Client
}

// NewRegistry dials every configured chain. On any failure the already
// opened connections are closed and the error returned.
func NewRegistry(ctx context.Context, cfgs map[string]Config, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		byKey: make(map[string]*Client, len(cfgs)),
		byID:  make(map[uint64]*Client, len(cfgs)),
	}

	for key, cfg := range cfgs {
		cfg.Key = key
		client, err := Dial(ctx, cfg, logger)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.byKey[key] = client
		r.byID[cfg.ChainID] = client
	}

	return r, nil
}

// Get returns the client for the given config alias.
func (r *Registry) Get(key string) (*Client, error) {
	c, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("chain: no client for %q: %w", key, domain.ErrNotFound)
	}
	return c, nil
}

// ByChainID returns the client for the given numeric chain ID.
func (r *Registry) ByChainID(id uint64) (*Client, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("chain: no client for chain id %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// Keys returns the aliases of every registered chain.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	return keys
}

// Close tears down every connection in the registry.
func (r *Registry) Close() {
	for _, c := range r.byKey {
		c.Close()
	}
}
