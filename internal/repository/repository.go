package repository

import (
	"context"

	"github.com/Combine-Capital/cqre/internal/registry"
)

// SnapshotRepository persists the canonical registry between restarts.
// Saves are idempotent upserts: running SaveAssets twice with the same
// assets leaves the database unchanged.
type SnapshotRepository interface {
	// SaveAssets upserts every asset with its supply, addresses, listings
	// and holders in a single transaction.
	SaveAssets(ctx context.Context, assets []registry.Asset) error

	// LoadAssets returns every persisted asset in creation order.
	LoadAssets(ctx context.Context) ([]registry.Asset, error)

	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	// Health check
	Ping(ctx context.Context) error
}
