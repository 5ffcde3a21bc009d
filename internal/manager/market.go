package manager

import (
	"context"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/Combine-Capital/cqre/internal/registry"
	"github.com/rs/zerolog/log"
)

// MarketDataAggregator merges provider market figures into canonical assets.
// It never creates assets: records that match nothing are dropped.
type MarketDataAggregator struct {
	store        *registry.Store
	wrapped      WrappedTokenMap
	slugFallback bool
}

// NewMarketDataAggregator creates a new MarketDataAggregator instance.
// With slugFallback set, a record that matches no (symbol, name) is merged
// into the asset whose id equals the record slug, if one exists.
func NewMarketDataAggregator(store *registry.Store, wrapped WrappedTokenMap, slugFallback bool) *MarketDataAggregator {
	if wrapped == nil {
		wrapped = DefaultWrappedTokens
	}
	return &MarketDataAggregator{
		store:        store,
		wrapped:      wrapped,
		slugFallback: slugFallback,
	}
}

// Refresh fetches the latest listings and merges them.
func (a *MarketDataAggregator) Refresh(ctx context.Context, p provider.MarketListingProvider, limit int) *StageResult {
	records, err := p.Latest(ctx, limit)
	if err != nil {
		result := NewStageResult("market_data")
		result.ProviderErr = err
		log.Error().Err(err).Msg("Market listing provider unavailable, skipping market data refresh")
		return result
	}
	return a.Merge(ctx, records)
}

// Merge applies market records with last-writer-wins semantics and
// propagates each update to the origin's wrapped tokens.
func (a *MarketDataAggregator) Merge(ctx context.Context, records []provider.MarketRecord) *StageResult {
	result := NewStageResult("market_data")
	propagated := 0

	for _, rec := range records {
		subject := rec.Slug
		if subject == "" {
			subject = rec.Symbol
		}
		if err := ValidateMarketRecord(rec); err != nil {
			result.AddSkipped(subject, err.Error())
			continue
		}

		id, _ := matchIdentity(a.store, SourceMarketData, subject, rec.Symbol, rec.Name)
		if id == "" && a.slugFallback && rec.Slug != "" && a.store.Exists(rec.Slug) {
			id = rec.Slug
		}
		if id == "" {
			result.AddSkipped(subject, "no matching asset")
			continue
		}

		snap := registry.SupplySnapshot{
			TotalSupply:       rec.TotalSupply,
			CirculatingSupply: rec.CirculatingSupply,
			MarketCap:         rec.MarketCap,
			CachedPrice:       rec.Price,
			AsOf:              a.store.Now(),
		}
		if err := a.store.SetSupply(id, snap); err != nil {
			result.AddFailure(subject, "set supply", err)
			continue
		}
		result.AddSuccess()
		propagated += a.Propagate(id, snap)
	}

	log.Info().
		Int("records", len(records)).
		Int("merged", result.Succeeded).
		Int("skipped", result.Skipped).
		Int("propagated", propagated).
		Msg("Market data merge complete")
	return result
}

// Propagate copies snap onto every registered wrapped token of origin, each
// with its own as-of time. It returns the number of wrapped assets updated.
func (a *MarketDataAggregator) Propagate(origin string, snap registry.SupplySnapshot) int {
	updated := 0
	for _, wrappedID := range a.wrapped.Wrapped(origin) {
		if !a.store.Exists(wrappedID) {
			continue
		}
		clone := *snap.Clone()
		clone.AsOf = a.store.Now()
		if err := a.store.SetSupply(wrappedID, clone); err != nil {
			log.Warn().Err(err).Str("origin_id", origin).Str("asset_id", wrappedID).Msg("Failed to propagate wrapped token snapshot")
			continue
		}
		updated++
	}
	return updated
}
