package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/Combine-Capital/cqre/internal/registry"
	"github.com/rs/zerolog/log"
)

// Conflict sources
const (
	SourceCoinList   = "coin_list"
	SourceMarketData = "market_data"
)

// Resolution describes how a coin list record was reconciled.
type Resolution struct {
	AssetID          string
	Created          bool
	Renamed          bool
	Ambiguous        bool
	Attached         int
	AddressConflicts int
	InvalidAddresses int
}

// IdentityMatcher reconciles provider coin list records into canonical assets.
type IdentityMatcher struct {
	store          *registry.Store
	eventPublisher *EventPublisher
}

// NewIdentityMatcher creates a new IdentityMatcher instance
func NewIdentityMatcher(store *registry.Store, eventPublisher *EventPublisher) *IdentityMatcher {
	return &IdentityMatcher{
		store:          store,
		eventPublisher: eventPublisher,
	}
}

// Resolve maps a coin list record to a canonical asset.
//
// A record whose id is already registered is that asset, renamed if its
// symbol or name changed. Otherwise the record is matched on (symbol, name);
// the first match in creation order wins and further candidates are recorded
// as an ambiguous-match conflict. Without a match a new asset is created.
// Platform addresses are then attached to the resolved asset.
func (m *IdentityMatcher) Resolve(ctx context.Context, coin provider.ListedCoin) (Resolution, error) {
	coin.ID = strings.TrimSpace(coin.ID)
	coin.Symbol = strings.TrimSpace(coin.Symbol)
	coin.Name = strings.TrimSpace(coin.Name)
	if coin.ID == "" || coin.Symbol == "" || coin.Name == "" {
		return Resolution{}, &provider.ParseError{Source: SourceCoinList, Record: coin.ID, Reason: "id, symbol and name are required"}
	}

	var res Resolution
	if m.store.Exists(coin.ID) {
		renamed, err := m.store.Rename(coin.ID, coin.Symbol, coin.Name)
		if err != nil {
			return Resolution{}, fmt.Errorf("rename asset: %w", err)
		}
		res.AssetID = coin.ID
		res.Renamed = renamed
	} else if id, ambiguous := matchIdentity(m.store, SourceCoinList, coin.ID, coin.Symbol, coin.Name); id != "" {
		res.AssetID = id
		res.Ambiguous = ambiguous
	} else {
		created, err := m.store.EnsureAsset(coin.ID, coin.Symbol, coin.Name)
		if err != nil {
			return Resolution{}, fmt.Errorf("create asset: %w", err)
		}
		res.AssetID = coin.ID
		res.Created = created
	}

	m.attachPlatforms(ctx, &res, coin.Platforms)

	if res.Created {
		if a, ok := m.store.Get(res.AssetID); ok {
			m.eventPublisher.PublishAssetCreated(ctx, AssetToProto(a, false), SourceCoinList)
		}
	}
	return res, nil
}

func (m *IdentityMatcher) attachPlatforms(ctx context.Context, res *Resolution, platforms map[string]string) {
	chains := make([]string, 0, len(platforms))
	for chain := range platforms {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		address := strings.TrimSpace(platforms[chain])
		if address == "" {
			continue
		}
		if err := ValidateContractAddress(address, chain); err != nil {
			res.InvalidAddresses++
			log.Warn().Err(err).Str("asset_id", res.AssetID).Str("chain", chain).Msg("Skipping invalid contract address")
			continue
		}

		addr := registry.ChainAddress{Chain: chain, Address: address}
		attached, owner, err := m.store.AttachAddress(res.AssetID, addr)
		if err != nil {
			log.Error().Err(err).Str("asset_id", res.AssetID).Str("chain", chain).Msg("Failed to attach contract address")
			continue
		}
		if owner != "" {
			res.AddressConflicts++
			m.store.RecordConflict(registry.Conflict{
				Kind:       registry.ConflictAddress,
				Source:     SourceCoinList,
				Subject:    chain + ":" + registry.NormalizeAddress(address),
				Chosen:     owner,
				Candidates: []string{owner, res.AssetID},
			})
			log.Warn().
				Str("asset_id", res.AssetID).
				Str("owner_id", owner).
				Str("chain", chain).
				Str("address", address).
				Msg("Contract address already owned by another asset, dropping")
			continue
		}
		if attached {
			res.Attached++
			m.eventPublisher.PublishAssetDeploymentCreated(ctx, DeploymentToProto(res.AssetID, addr), SourceCoinList)
		}
	}
}

// Refresh lists every coin from the provider and resolves each record.
// A provider failure yields an empty batch; a bad record only skips itself.
func (m *IdentityMatcher) Refresh(ctx context.Context, p provider.CoinListingProvider) *StageResult {
	result := NewStageResult("identity")

	coins, err := p.ListAssets(ctx)
	if err != nil {
		result.ProviderErr = err
		log.Error().Err(err).Msg("Coin list provider unavailable, skipping identity refresh")
		return result
	}

	ambiguous := 0
	for _, coin := range coins {
		res, err := m.Resolve(ctx, coin)
		if err != nil {
			var parseErr *provider.ParseError
			if errors.As(err, &parseErr) {
				result.AddSkipped(coin.ID, parseErr.Reason)
				continue
			}
			result.AddFailure(coin.ID, "resolve", err)
			continue
		}
		if res.Ambiguous {
			ambiguous++
		}
		if res.Created {
			result.AddCreated()
		} else {
			result.AddSuccess()
		}
	}

	log.Info().
		Int("records", len(coins)).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("ambiguous", ambiguous).
		Int("assets", m.store.Len()).
		Msg("Identity refresh complete")
	return result
}

// matchIdentity returns the first asset matching (symbol, name) and whether
// the match was ambiguous. Ambiguity is logged and recorded, never an error.
func matchIdentity(store *registry.Store, source, subject, symbol, name string) (string, bool) {
	ids := store.MatchIdentity(symbol, name)
	if len(ids) == 0 {
		return "", false
	}
	if len(ids) == 1 {
		return ids[0], false
	}

	strategy := store.Strategy()
	store.RecordConflict(registry.Conflict{
		Kind:       registry.ConflictAmbiguousMatch,
		Source:     source,
		Subject:    subject,
		Chosen:     ids[0],
		Candidates: ids,
		Strategy:   strategy.Name(),
		Confidence: strategy.Confidence() / float64(len(ids)),
	})
	log.Warn().
		Str("source", source).
		Str("record", subject).
		Str("symbol", symbol).
		Str("name", name).
		Str("chosen", ids[0]).
		Strs("candidates", ids).
		Msg("Ambiguous identity match, using first candidate")
	return ids[0], true
}
