package manager

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/Combine-Capital/cqre/internal/registry"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Default exchange sets.
var (
	DefaultSpotExchanges       = []string{"okex", "bybit_spot", "binance", "gate", "bitget", "mxc"}
	DefaultDerivativeExchanges = []string{"binance_futures", "bitget_futures", "gate_futures", "bybit", "mxc_futures", "okex_swap"}
)

// ExchangeConfig selects the exchanges and quotes an ExchangeTickerIngester handles.
type ExchangeConfig struct {
	SpotExchanges       []string
	DerivativeExchanges []string
	StableQuotes        []string
	// Concurrency caps simultaneous exchange fetches; 0 runs every fetch at once.
	Concurrency int
}

// ExchangeOutcome is the result of ingesting one exchange feed.
type ExchangeOutcome struct {
	ExchangeID  string
	Kind        registry.ListingKind
	Tickers     int
	Listed      int
	NewListings int
	Fabricated  int
	Skipped     int
	Duration    time.Duration
	Err         error
}

// ExchangeReport aggregates the outcomes of one exchange ingestion cycle.
type ExchangeReport struct {
	Outcomes      []ExchangeOutcome
	PricesUpdated int
	Result        *StageResult
}

// Failed returns the outcomes whose fetch failed.
func (r *ExchangeReport) Failed() []ExchangeOutcome {
	var failed []ExchangeOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// ExchangeTickerIngester pulls tickers from every configured exchange in
// parallel, records listings and reconciles a cached price per asset.
type ExchangeTickerIngester struct {
	store          *registry.Store
	provider       provider.ExchangeTickerProvider
	cfg            ExchangeConfig
	eventPublisher *EventPublisher
}

// NewExchangeTickerIngester creates a new ExchangeTickerIngester instance
func NewExchangeTickerIngester(store *registry.Store, p provider.ExchangeTickerProvider, cfg ExchangeConfig, eventPublisher *EventPublisher) *ExchangeTickerIngester {
	if len(cfg.StableQuotes) == 0 {
		cfg.StableQuotes = DefaultStableQuotes
	}
	return &ExchangeTickerIngester{
		store:          store,
		provider:       p,
		cfg:            cfg,
		eventPublisher: eventPublisher,
	}
}

type exchangeTaskOutput struct {
	outcome ExchangeOutcome
	result  *StageResult
	prices  map[string]float64
}

// Refresh ingests every configured exchange concurrently. A failing
// exchange is recorded in its outcome and does not affect the others. Once
// all fetches finish, the highest price observed per asset is written as
// its cached price.
func (i *ExchangeTickerIngester) Refresh(ctx context.Context) *ExchangeReport {
	p := pool.NewWithResults[exchangeTaskOutput]()
	if i.cfg.Concurrency > 0 {
		p = p.WithMaxGoroutines(i.cfg.Concurrency)
	}

	for _, exchangeID := range i.cfg.SpotExchanges {
		exchangeID := exchangeID
		p.Go(func() exchangeTaskOutput {
			return i.ingest(ctx, exchangeID, registry.ListingSpot)
		})
	}
	for _, exchangeID := range i.cfg.DerivativeExchanges {
		exchangeID := exchangeID
		p.Go(func() exchangeTaskOutput {
			return i.ingest(ctx, exchangeID, registry.ListingDerivative)
		})
	}
	outputs := p.Wait()

	report := &ExchangeReport{Result: NewStageResult("exchange")}
	best := make(map[string]float64)
	for _, out := range outputs {
		report.Outcomes = append(report.Outcomes, out.outcome)
		report.Result.Merge(out.result)
		for id, price := range out.prices {
			if price > best[id] {
				best[id] = price
			}
		}
	}
	sort.Slice(report.Outcomes, func(a, b int) bool {
		if report.Outcomes[a].Kind != report.Outcomes[b].Kind {
			return report.Outcomes[a].Kind > report.Outcomes[b].Kind
		}
		return report.Outcomes[a].ExchangeID < report.Outcomes[b].ExchangeID
	})

	asOf := i.store.Now()
	for id, price := range best {
		if err := i.store.SetCachedPrice(id, price, asOf); err != nil {
			log.Warn().Err(err).Str("asset_id", id).Msg("Failed to set reconciled price")
			continue
		}
		report.PricesUpdated++
	}

	failed := report.Failed()
	if len(failed) > 0 {
		report.Result.ProviderErr = fmt.Errorf("%d of %d exchange feeds failed", len(failed), len(report.Outcomes))
	}

	log.Info().
		Int("feeds", len(report.Outcomes)).
		Int("failed_feeds", len(failed)).
		Int("prices_updated", report.PricesUpdated).
		Int("fabricated", report.Result.Created).
		Msg("Exchange ticker refresh complete")
	return report
}

// ingest processes a single exchange feed. Errors and panics are captured
// in the returned outcome.
func (i *ExchangeTickerIngester) ingest(ctx context.Context, exchangeID string, kind registry.ListingKind) (out exchangeTaskOutput) {
	start := time.Now()
	out = exchangeTaskOutput{
		outcome: ExchangeOutcome{ExchangeID: exchangeID, Kind: kind},
		result:  NewStageResult("exchange"),
		prices:  make(map[string]float64),
	}
	defer func() {
		if r := recover(); r != nil {
			out.outcome.Err = fmt.Errorf("exchange %s panicked: %v", exchangeID, r)
		}
		out.outcome.Duration = time.Since(start)
		if out.outcome.Err != nil {
			log.Error().
				Err(out.outcome.Err).
				Str("exchange_id", exchangeID).
				Str("kind", string(kind)).
				Msg("Exchange feed failed")
		}
	}()

	var (
		tickers []provider.Ticker
		err     error
	)
	if kind == registry.ListingDerivative {
		tickers, err = i.provider.DerivativeTickers(ctx, exchangeID)
	} else {
		tickers, err = i.provider.SpotTickers(ctx, exchangeID)
	}
	if err != nil {
		out.outcome.Err = err
		out.result.ProviderErr = err
		return out
	}
	out.outcome.Tickers = len(tickers)

	for _, t := range tickers {
		i.applyTicker(ctx, exchangeID, kind, t, &out)
	}
	return out
}

func (i *ExchangeTickerIngester) applyTicker(ctx context.Context, exchangeID string, kind registry.ListingKind, t provider.Ticker, out *exchangeTaskOutput) {
	skip := func(entity, reason string) {
		out.outcome.Skipped++
		out.result.AddSkipped(entity, reason)
	}

	base, target, err := NormalizeTicker(t, i.cfg.StableQuotes)
	if err != nil {
		skip(exchangeID+":"+t.Symbol, err.Error())
		return
	}
	if !IsStableQuote(target, i.cfg.StableQuotes) {
		out.outcome.Skipped++
		return
	}
	pair := PairString(base, target)
	assetID := strings.TrimSpace(t.AssetID)
	if assetID == "" {
		skip(exchangeID+":"+pair, "ticker has no asset id")
		return
	}

	created := false
	if !i.store.Exists(assetID) {
		if kind != registry.ListingDerivative {
			skip(exchangeID+":"+pair, "unknown asset on spot exchange")
			return
		}
		name := strings.TrimSpace(t.Base)
		if name == "" {
			name = base
		}
		created, err = i.store.EnsureAsset(assetID, base, name)
		if err != nil {
			out.result.AddFailure(assetID, "create derivative asset", err)
			return
		}
		if created {
			out.outcome.Fabricated++
			if a, ok := i.store.Get(assetID); ok {
				i.eventPublisher.PublishAssetCreated(ctx, AssetToProto(a, false), exchangeID)
			}
		}
	}

	listing := registry.Listing{ExchangeID: exchangeID, Pair: pair}
	added, err := i.store.AddListing(assetID, kind, listing)
	if err != nil {
		out.result.AddFailure(assetID, "add listing", err)
		return
	}
	out.outcome.Listed++
	if added {
		out.outcome.NewListings++
		i.eventPublisher.PublishVenueAssetListed(ctx, ListingToProto(assetID, listing))
	}
	if created {
		out.result.AddCreated()
	} else {
		out.result.AddSuccess()
	}

	if t.Last == nil || IsLeveragedBase(base) {
		return
	}
	price := *t.Last
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	if price > out.prices[assetID] {
		out.prices[assetID] = price
	}
}
