package service

import (
	"fmt"

	"github.com/Combine-Capital/cqre/internal/config"
	"github.com/Combine-Capital/cqre/internal/manager"
	"github.com/Combine-Capital/cqre/internal/provider/client"
	"github.com/Combine-Capital/cqre/internal/refresh"
	"github.com/Combine-Capital/cqre/internal/registry"
	"github.com/rs/zerolog/log"
)

// Engine is the reconciliation core: the registry, its query surface and
// the orchestrator that refreshes it.
type Engine struct {
	Store        *registry.Store
	Assets       *manager.AssetManager
	Holders      *manager.HolderIngester
	Orchestrator *refresh.Orchestrator
}

// NewEngine wires the provider clients, ingesters and orchestrator from cfg.
// snapshotter and eventPublisher may be nil.
func NewEngine(cfg *config.Config, snapshotter refresh.Snapshotter, eventPublisher *manager.EventPublisher) (*Engine, error) {
	strategy, err := registry.StrategyByName(cfg.Engine.MatchStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to select match strategy: %w", err)
	}
	store := registry.NewStore(
		registry.WithStrategy(strategy),
		registry.WithConflictCapacity(cfg.Engine.ConflictCapacity),
	)

	p := cfg.Providers
	coinGecko := client.NewCoinGeckoClient(
		p.CoinGecko.BaseURL,
		p.CoinGecko.APIKey,
		p.CoinGecko.RateLimitPerSecond,
		p.CoinGecko.Timeout,
		p.CoinGecko.TickerPages,
	)
	coinMarketCap := client.NewCoinMarketCapClient(
		p.CoinMarketCap.BaseURL,
		p.CoinMarketCap.APIKey,
		p.CoinMarketCap.RateLimitPerSecond,
		p.CoinMarketCap.Timeout,
	)

	wrapped := manager.DefaultWrappedTokens
	if len(cfg.Engine.WrappedTokens) > 0 {
		wrapped = manager.NewWrappedTokenMap(cfg.Engine.WrappedTokens)
	}

	ex := cfg.Engine.Exchanges
	exchangeCfg := manager.ExchangeConfig{
		SpotExchanges:       orDefault(ex.Spot, manager.DefaultSpotExchanges),
		DerivativeExchanges: orDefault(ex.Derivatives, manager.DefaultDerivativeExchanges),
		StableQuotes:        ex.StableQuotes,
		Concurrency:         ex.Concurrency,
	}

	var holders *manager.HolderIngester
	switch {
	case !cfg.Engine.Holders.Enabled:
		log.Info().Msg("Holder refresh disabled by configuration")
	case p.Arkham.APIKey == "" && p.Arkham.Cookie == "":
		log.Warn().Msg("Arkham credentials not configured, holder refresh disabled")
	default:
		arkham := client.NewArkhamClient(
			p.Arkham.BaseURL,
			p.Arkham.APIKey,
			p.Arkham.Cookie,
			p.Arkham.RateLimitPerSecond,
			p.Arkham.Timeout,
		)
		holders = manager.NewHolderIngester(
			store,
			arkham,
			orDefault(cfg.Engine.Holders.Exchanges, manager.DefaultHolderExchanges),
			cfg.Engine.Holders.MaxAssets,
		)
	}

	var marketListing *client.CoinMarketCapClient
	if p.CoinMarketCap.APIKey != "" {
		marketListing = coinMarketCap
	} else {
		log.Warn().Msg("CoinMarketCap API key not configured, market data refresh disabled")
	}

	orchestratorCfg := refresh.Config{
		Identity:    manager.NewIdentityMatcher(store, eventPublisher),
		CoinList:    coinGecko,
		Market:      manager.NewMarketDataAggregator(store, wrapped, cfg.Engine.Market.SlugFallback),
		MarketLimit: cfg.Engine.MarketListingLimit,
		Exchanges:   manager.NewExchangeTickerIngester(store, coinGecko, exchangeCfg, eventPublisher),
		Holders:     holders,
		Snapshotter: snapshotter,
	}
	if marketListing != nil {
		orchestratorCfg.MarketListing = marketListing
	}

	return &Engine{
		Store:        store,
		Assets:       manager.NewAssetManager(store, wrapped),
		Holders:      holders,
		Orchestrator: refresh.NewOrchestrator(store, orchestratorCfg),
	}, nil
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}
