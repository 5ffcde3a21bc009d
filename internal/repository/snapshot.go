package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Combine-Capital/cqre/internal/registry"
)

// SaveAssets upserts the given assets and everything attached to them
func (r *PostgresRepository) SaveAssets(ctx context.Context, assets []registry.Asset) error {
	return r.WithTransaction(ctx, func(tx *PostgresRepository) error {
		for _, a := range assets {
			if err := tx.saveAsset(ctx, a); err != nil {
				return fmt.Errorf("save asset %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) saveAsset(ctx context.Context, a registry.Asset) error {
	createdAt, updatedAt := a.CreatedAt, a.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := r.exec(ctx, `
		INSERT INTO assets (id, symbol, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.Symbol, a.Name, createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}

	if a.Supply != nil {
		s := a.Supply
		_, err = r.exec(ctx, `
			INSERT INTO supply_snapshots (asset_id, total_supply, circulating_supply, market_cap, cached_price, as_of)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (asset_id) DO UPDATE SET
				total_supply = EXCLUDED.total_supply,
				circulating_supply = EXCLUDED.circulating_supply,
				market_cap = EXCLUDED.market_cap,
				cached_price = EXCLUDED.cached_price,
				as_of = EXCLUDED.as_of
		`, a.ID, s.TotalSupply, s.CirculatingSupply, s.MarketCap, s.CachedPrice, s.AsOf)
		if err != nil {
			return fmt.Errorf("upsert supply snapshot: %w", err)
		}
	}

	for _, addr := range a.OnChainAddresses {
		_, err = r.exec(ctx, `
			INSERT INTO on_chain_addresses (asset_id, chain, address, address_key)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chain, address_key) DO NOTHING
		`, a.ID, addr.Chain, addr.Address, registry.NormalizeAddress(addr.Address))
		if err != nil {
			return fmt.Errorf("insert on-chain address: %w", err)
		}
	}

	if err := r.saveListings(ctx, "spot_listings", a.ID, a.SpotListings); err != nil {
		return err
	}
	if err := r.saveListings(ctx, "derivative_listings", a.ID, a.DerivativeListings); err != nil {
		return err
	}

	for _, h := range a.Holders {
		if err := r.saveHolding(ctx, a.ID, h); err != nil {
			return err
		}
	}
	return nil
}

// saveListings inserts listings into table, which is one of the fixed listing tables
func (r *PostgresRepository) saveListings(ctx context.Context, table, assetID string, listings []registry.Listing) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (asset_id, exchange_id, pair)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_id, exchange_id, pair) DO NOTHING
	`, table)
	for _, l := range listings {
		if _, err := r.exec(ctx, query, assetID, l.ExchangeID, l.Pair); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (r *PostgresRepository) saveHolding(ctx context.Context, assetID string, h registry.HolderRecord) error {
	key := registry.NormalizeAddress(h.Address)
	updatedAt := h.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.exec(ctx, `
		INSERT INTO holders (address, chain_type, label_name, entity_name, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			chain_type = EXCLUDED.chain_type,
			label_name = EXCLUDED.label_name,
			entity_name = EXCLUDED.entity_name,
			updated_at = GREATEST(holders.updated_at, EXCLUDED.updated_at)
	`, key, h.ChainType, h.LabelName, h.EntityName, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert holder: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO holdings (asset_id, holder_address, raw_address, chain_type, label_name, entity_name, balance, usd_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset_id, holder_address) DO UPDATE SET
			raw_address = EXCLUDED.raw_address,
			chain_type = EXCLUDED.chain_type,
			label_name = EXCLUDED.label_name,
			entity_name = EXCLUDED.entity_name,
			balance = EXCLUDED.balance,
			usd_value = EXCLUDED.usd_value,
			updated_at = EXCLUDED.updated_at
	`, assetID, key, h.Address, h.ChainType, h.LabelName, h.EntityName, h.Balance, h.USDValue, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

// LoadAssets reads every persisted asset in creation order
func (r *PostgresRepository) LoadAssets(ctx context.Context) ([]registry.Asset, error) {
	rows, err := r.query(ctx, `
		SELECT id, symbol, name, created_at, updated_at
		FROM assets
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}

	var assets []registry.Asset
	index := make(map[string]int)
	for rows.Next() {
		var a registry.Asset
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		index[a.ID] = len(assets)
		assets = append(assets, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}

	if err := r.loadSupply(ctx, assets, index); err != nil {
		return nil, err
	}
	if err := r.loadAddresses(ctx, assets, index); err != nil {
		return nil, err
	}
	if err := r.loadListings(ctx, "spot_listings", assets, index, func(a *registry.Asset, l registry.Listing) {
		a.SpotListings = append(a.SpotListings, l)
	}); err != nil {
		return nil, err
	}
	if err := r.loadListings(ctx, "derivative_listings", assets, index, func(a *registry.Asset, l registry.Listing) {
		a.DerivativeListings = append(a.DerivativeListings, l)
	}); err != nil {
		return nil, err
	}
	if err := r.loadHoldings(ctx, assets, index); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *PostgresRepository) loadSupply(ctx context.Context, assets []registry.Asset, index map[string]int) error {
	rows, err := r.query(ctx, `
		SELECT asset_id, total_supply, circulating_supply, market_cap, cached_price, as_of
		FROM supply_snapshots
	`)
	if err != nil {
		return fmt.Errorf("query supply snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			assetID string
			s       registry.SupplySnapshot
		)
		if err := rows.Scan(&assetID, &s.TotalSupply, &s.CirculatingSupply, &s.MarketCap, &s.CachedPrice, &s.AsOf); err != nil {
			return fmt.Errorf("scan supply snapshot: %w", err)
		}
		if i, ok := index[assetID]; ok {
			assets[i].Supply = &s
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) loadAddresses(ctx context.Context, assets []registry.Asset, index map[string]int) error {
	rows, err := r.query(ctx, `
		SELECT asset_id, chain, address
		FROM on_chain_addresses
		ORDER BY asset_id, chain, address
	`)
	if err != nil {
		return fmt.Errorf("query on-chain addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			assetID string
			addr    registry.ChainAddress
		)
		if err := rows.Scan(&assetID, &addr.Chain, &addr.Address); err != nil {
			return fmt.Errorf("scan on-chain address: %w", err)
		}
		if i, ok := index[assetID]; ok {
			assets[i].OnChainAddresses = append(assets[i].OnChainAddresses, addr)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) loadListings(ctx context.Context, table string, assets []registry.Asset, index map[string]int, add func(a *registry.Asset, l registry.Listing)) error {
	rows, err := r.query(ctx, fmt.Sprintf(`
		SELECT asset_id, exchange_id, pair
		FROM %s
		ORDER BY asset_id, exchange_id, pair
	`, table))
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			assetID string
			l       registry.Listing
		)
		if err := rows.Scan(&assetID, &l.ExchangeID, &l.Pair); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if i, ok := index[assetID]; ok {
			add(&assets[i], l)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) loadHoldings(ctx context.Context, assets []registry.Asset, index map[string]int) error {
	rows, err := r.query(ctx, `
		SELECT asset_id, raw_address, chain_type, label_name, entity_name, balance, usd_value, updated_at
		FROM holdings
		ORDER BY asset_id, holder_address
	`)
	if err != nil {
		return fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			assetID string
			h       registry.HolderRecord
		)
		if err := rows.Scan(&assetID, &h.Address, &h.ChainType, &h.LabelName, &h.EntityName, &h.Balance, &h.USDValue, &h.UpdatedAt); err != nil {
			return fmt.Errorf("scan holding: %w", err)
		}
		if i, ok := index[assetID]; ok {
			assets[i].Holders = append(assets[i].Holders, h)
		}
	}
	return rows.Err()
}
