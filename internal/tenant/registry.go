// Package tenant tracks which tenants the pipeline serves.
package tenant

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

// Registry enumerates tenants from static configuration plus whatever
// tenants already have keys in the store. Discovered tenants keep
// sweeps working for data written by earlier deployments whose tenants
// have since dropped out of the config.
type Registry struct {
	static []string
	kv     keyval.Store
	logger *zap.Logger
}

// NewRegistry creates a tenant registry.
func NewRegistry(static []string, kv keyval.Store, logger *zap.Logger) (*Registry, error) {
	if kv == nil {
		return nil, fmt.Errorf("tenant: key-value store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{static: static, kv: kv, logger: logger}, nil
}

// ListTenants returns the sorted union of configured and discovered
// tenants.
func (r *Registry) ListTenants(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{}, len(r.static))
	for _, t := range r.static {
		seen[t] = struct{}{}
	}

	keys, err := r.kv.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("tenant: listing keys: %w", err)
	}
	for _, key := range keys {
		if t := keyval.Tenant(key); t != "" {
			seen[t] = struct{}{}
		}
	}

	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}
