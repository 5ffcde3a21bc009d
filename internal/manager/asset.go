package manager

import (
	"context"
	"strings"

	"github.com/Combine-Capital/cqre/internal/registry"
)

// List limits
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Stats summarizes the size of the registry and its indices.
type Stats struct {
	AssetCount      int `json:"coin_count"`
	SearchIndexSize int `json:"search_index_size"`
	HolderCount     int `json:"holder_count"`
	ConflictCount   int `json:"conflict_count"`
}

// AssetManager is the read-only query surface over the canonical registry.
// Lookups that find nothing return an empty result, never an error.
type AssetManager struct {
	store   *registry.Store
	wrapped WrappedTokenMap
}

// NewAssetManager creates a new AssetManager instance
func NewAssetManager(store *registry.Store, wrapped WrappedTokenMap) *AssetManager {
	if wrapped == nil {
		wrapped = DefaultWrappedTokens
	}
	return &AssetManager{
		store:   store,
		wrapped: wrapped,
	}
}

// GetAsset retrieves an asset by ID
func (m *AssetManager) GetAsset(ctx context.Context, assetID string) (registry.Asset, bool) {
	return m.store.Get(strings.TrimSpace(assetID))
}

// SearchAssets returns the assets indexed under a symbol, name or pair term
func (m *AssetManager) SearchAssets(ctx context.Context, term string) []registry.Asset {
	if strings.TrimSpace(term) == "" {
		return []registry.Asset{}
	}
	return m.store.Search(term)
}

// GetAssetsByContractAddress returns the assets deployed at address on any chain
func (m *AssetManager) GetAssetsByContractAddress(ctx context.Context, address string) []registry.Asset {
	if strings.TrimSpace(address) == "" {
		return []registry.Asset{}
	}
	return m.store.ByContractAddress(address)
}

// GetAssetsByExchange returns the assets with a spot or derivative listing on the exchange
func (m *AssetManager) GetAssetsByExchange(ctx context.Context, exchangeID string) []registry.Asset {
	return m.store.ByExchange(strings.TrimSpace(exchangeID))
}

// GetAssetsByHolder returns the assets for which address is a top holder
func (m *AssetManager) GetAssetsByHolder(ctx context.Context, address string) []registry.Asset {
	if strings.TrimSpace(address) == "" {
		return []registry.Asset{}
	}
	return m.store.ByHolder(address)
}

// ListAssets returns a page of assets in creation order. The limit defaults
// to DefaultListLimit and is capped at MaxListLimit.
func (m *AssetManager) ListAssets(ctx context.Context, offset, limit int) []registry.Asset {
	return m.store.List(offset, ClampLimit(limit))
}

// Conflicts returns the reconciliation conflict audit list
func (m *AssetManager) Conflicts(ctx context.Context) []registry.Conflict {
	return m.store.Conflicts()
}

// IsWrapped reports whether the asset wraps another asset
func (m *AssetManager) IsWrapped(assetID string) bool {
	return m.wrapped.IsWrapped(assetID)
}

// Stats returns registry size figures
func (m *AssetManager) Stats() Stats {
	return Stats{
		AssetCount:      m.store.Len(),
		SearchIndexSize: m.store.SearchIndexSize(),
		HolderCount:     m.store.HolderIndexSize(),
		ConflictCount:   m.store.ConflictTotal(),
	}
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
