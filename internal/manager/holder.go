package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/Combine-Capital/cqre/internal/registry"
	"github.com/rs/zerolog/log"
)

// DefaultHolderExchanges restricts holder refreshes to assets listed on these exchanges.
var DefaultHolderExchanges = []string{"binance", "binance_futures", "okex", "okex_swap"}

// HolderIngester refreshes the top holders of assets and keeps the holder
// index in step. Holders are upserted by (asset, address) and never removed.
type HolderIngester struct {
	store     *registry.Store
	provider  provider.HolderProvider
	exchanges []string
	maxAssets int
}

// NewHolderIngester creates a new HolderIngester instance.
// Refresh targets assets listed on one of exchanges, or every listed asset
// when exchanges is empty; maxAssets caps a refresh when positive.
func NewHolderIngester(store *registry.Store, p provider.HolderProvider, exchanges []string, maxAssets int) *HolderIngester {
	return &HolderIngester{
		store:     store,
		provider:  p,
		exchanges: exchanges,
		maxAssets: maxAssets,
	}
}

// IngestAsset fetches and upserts the top holders of one asset. It returns
// the number of holder records written.
func (h *HolderIngester) IngestAsset(ctx context.Context, assetID string) (int, error) {
	if !h.store.Exists(assetID) {
		return 0, fmt.Errorf("%w: %s", registry.ErrAssetNotFound, assetID)
	}

	holders, err := h.provider.TopHolders(ctx, assetID)
	if err != nil {
		return 0, fmt.Errorf("fetch top holders: %w", err)
	}

	chains := make([]string, 0, len(holders))
	for chain := range holders {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	now := h.store.Now()
	written := 0
	for _, chain := range chains {
		for _, entry := range holders[chain] {
			if strings.TrimSpace(entry.Address) == "" {
				log.Debug().Str("asset_id", assetID).Str("chain", chain).Msg("Skipping holder without address")
				continue
			}
			_, err := h.store.UpsertHolder(assetID, registry.HolderRecord{
				Address:    strings.TrimSpace(entry.Address),
				ChainType:  chain,
				LabelName:  entry.Label,
				EntityName: entry.Entity,
				Balance:    entry.Balance,
				USDValue:   entry.USDValue,
				UpdatedAt:  now,
			})
			if err != nil {
				return written, fmt.Errorf("upsert holder: %w", err)
			}
			written++
		}
	}
	return written, nil
}

// Targets returns the ids of assets whose holders should be refreshed, in
// creation order.
func (h *HolderIngester) Targets() []string {
	var targets []string
	for _, id := range h.store.IDs() {
		a, ok := h.store.Get(id)
		if !ok || !h.selected(a) {
			continue
		}
		targets = append(targets, id)
		if h.maxAssets > 0 && len(targets) >= h.maxAssets {
			break
		}
	}
	return targets
}

func (h *HolderIngester) selected(a registry.Asset) bool {
	if len(h.exchanges) == 0 {
		return a.HasListings()
	}
	for _, exchangeID := range h.exchanges {
		if a.ListedOn(exchangeID) {
			return true
		}
	}
	return false
}

// Refresh ingests holders for every target asset.
func (h *HolderIngester) Refresh(ctx context.Context) *StageResult {
	return h.RefreshAssets(ctx, h.Targets())
}

// RefreshAssets ingests holders for the given assets one at a time. A
// failure for one asset is logged and the loop moves on.
func (h *HolderIngester) RefreshAssets(ctx context.Context, assetIDs []string) *StageResult {
	result := NewStageResult("holders")
	records := 0

	for _, id := range assetIDs {
		n, err := h.IngestAsset(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("asset_id", id).Msg("Holder refresh failed for asset")
			result.AddFailure(id, "ingest holders", err)
			continue
		}
		records += n
		result.AddSuccess()
	}

	log.Info().
		Int("assets", len(assetIDs)).
		Int("failed", result.Failed).
		Int("holder_records", records).
		Int("holder_addresses", h.store.HolderIndexSize()).
		Msg("Holder refresh complete")
	return result
}
