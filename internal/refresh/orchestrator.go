// Package refresh drives the reconciliation cycle: identity, market data,
// exchange tickers and holders, in that order, over a shared registry.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Combine-Capital/cqre/internal/manager"
	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/Combine-Capital/cqre/internal/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCycleInProgress is returned when a cycle is requested while another is running.
	ErrCycleInProgress = errors.New("refresh cycle already in progress")

	// ErrPersistenceDisabled is returned by Save when no snapshotter is configured.
	ErrPersistenceDisabled = errors.New("snapshot persistence is not configured")
)

// State is the orchestrator's position in the refresh cycle.
type State int32

const (
	StateIdle State = iota
	StateIdentityRefresh
	StateMarketDataRefresh
	StateExchangeRefresh
	StateHolderRefresh
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIdentityRefresh:
		return "identity_refresh"
	case StateMarketDataRefresh:
		return "market_data_refresh"
	case StateExchangeRefresh:
		return "exchange_refresh"
	case StateHolderRefresh:
		return "holder_refresh"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Snapshotter persists the registry contents.
type Snapshotter interface {
	SaveAssets(ctx context.Context, assets []registry.Asset) error
}

// Config wires the stages of a cycle. A nil component skips its stage.
type Config struct {
	Identity *manager.IdentityMatcher
	CoinList provider.CoinListingProvider

	Market        *manager.MarketDataAggregator
	MarketListing provider.MarketListingProvider
	MarketLimit   int

	Exchanges *manager.ExchangeTickerIngester
	Holders   *manager.HolderIngester

	Snapshotter Snapshotter
}

// CycleReport summarizes one refresh cycle.
type CycleReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []*manager.StageResult
	Exchange   *manager.ExchangeReport
	Assets     int
	Saved      bool
	SaveErr    error
}

// Duration returns how long the cycle ran.
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stage returns the result of the named stage, or nil if it did not run.
func (r *CycleReport) Stage(name string) *manager.StageResult {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s
		}
	}
	return nil
}

// Degraded reports whether any stage ran without its upstream data.
func (r *CycleReport) Degraded() bool {
	for _, s := range r.Stages {
		if s.ProviderErr != nil {
			return true
		}
	}
	return false
}

// Orchestrator runs refresh cycles one at a time. Every stage runs even
// when an earlier one failed, and merged data is never rolled back.
type Orchestrator struct {
	cfg   Config
	store *registry.Store

	running sync.Mutex
	state   atomic.Int32

	lastMu sync.RWMutex
	last   *CycleReport
}

// NewOrchestrator creates a new Orchestrator instance
func NewOrchestrator(store *registry.Store, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		store: store,
	}
}

// State returns the stage currently running, or StateIdle.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastReport returns the report of the most recent completed cycle, or nil.
func (o *Orchestrator) LastReport() *CycleReport {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	return o.last
}

// RunCycle runs one full refresh cycle. A call made while a cycle is in
// flight returns ErrCycleInProgress immediately.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !o.running.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer o.running.Unlock()
	defer o.state.Store(int32(StateIdle))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &CycleReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := log.With().Str("cycle_id", report.ID).Logger()
	logger.Info().Int("assets", o.store.Len()).Msg("Starting refresh cycle")

	if o.cfg.Identity != nil && o.cfg.CoinList != nil {
		o.state.Store(int32(StateIdentityRefresh))
		o.record(report, o.cfg.Identity.Refresh(ctx, o.cfg.CoinList), "coin_list")
	}

	if o.cfg.Market != nil && o.cfg.MarketListing != nil {
		o.state.Store(int32(StateMarketDataRefresh))
		o.record(report, o.cfg.Market.Refresh(ctx, o.cfg.MarketListing, o.cfg.MarketLimit), "market_listing")
	}

	if o.cfg.Exchanges != nil {
		o.state.Store(int32(StateExchangeRefresh))
		exchangeReport := o.cfg.Exchanges.Refresh(ctx)
		report.Exchange = exchangeReport
		o.record(report, exchangeReport.Result, "")
		for _, failed := range exchangeReport.Failed() {
			recordProviderFailure("exchange:" + failed.ExchangeID)
		}
	}

	if o.cfg.Holders != nil {
		o.state.Store(int32(StateHolderRefresh))
		o.record(report, o.cfg.Holders.Refresh(ctx), "holders")
	}

	report.Assets = o.store.Len()
	if o.cfg.Snapshotter != nil {
		if err := o.save(ctx); err != nil {
			report.SaveErr = err
			logger.Error().Err(err).Msg("Failed to save registry snapshot")
		} else {
			report.Saved = true
		}
	}
	report.FinishedAt = time.Now()

	o.lastMu.Lock()
	o.last = report
	o.lastMu.Unlock()

	event := logger.Info()
	if report.Degraded() {
		event = logger.Warn()
	}
	event.
		Int("assets", report.Assets).
		Dur("duration", report.Duration()).
		Bool("degraded", report.Degraded()).
		Bool("saved", report.Saved).
		Msg("Refresh cycle complete")
	return report, nil
}

// Save persists the current registry contents. It may run while a cycle
// is in flight; the snapshot reflects whatever has been merged so far.
func (o *Orchestrator) Save(ctx context.Context) (int, error) {
	if o.cfg.Snapshotter == nil {
		return 0, ErrPersistenceDisabled
	}
	assets := o.store.Export()
	if err := o.cfg.Snapshotter.SaveAssets(ctx, assets); err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return len(assets), nil
}

func (o *Orchestrator) save(ctx context.Context) error {
	_, err := o.Save(ctx)
	return err
}

func (o *Orchestrator) record(report *CycleReport, result *manager.StageResult, providerName string) {
	report.Stages = append(report.Stages, result)

	outcome := "ok"
	switch {
	case result.ProviderErr != nil:
		outcome = "provider_error"
		if providerName != "" {
			recordProviderFailure(providerName)
		}
	case result.Failed > 0:
		outcome = "partial"
	}
	recordStage(result.Stage, outcome)

	log.Info().Msg(result.Summary())
}
