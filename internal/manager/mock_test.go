package manager

import (
	"context"
	"sync"
	"time"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/Combine-Capital/cqre/internal/registry"
)

func floatPtr(f float64) *float64 { return &f }

// steppingClock returns a time one second later on every call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore() *registry.Store {
	return registry.NewStore(registry.WithClock(steppingClock()))
}

// mockCoinList implements provider.CoinListingProvider for testing
type mockCoinList struct {
	coins []provider.ListedCoin
	err   error
}

func (m *mockCoinList) ListAssets(ctx context.Context) ([]provider.ListedCoin, error) {
	return m.coins, m.err
}

// mockMarketListing implements provider.MarketListingProvider for testing
type mockMarketListing struct {
	records   []provider.MarketRecord
	err       error
	lastLimit int
}

func (m *mockMarketListing) Latest(ctx context.Context, limit int) ([]provider.MarketRecord, error) {
	m.lastLimit = limit
	return m.records, m.err
}

// mockTickers implements provider.ExchangeTickerProvider for testing
type mockTickers struct {
	spot           map[string][]provider.Ticker
	derivatives    map[string][]provider.Ticker
	spotErr        map[string]error
	derivativesErr map[string]error
	panicOn        string
}

func (m *mockTickers) SpotTickers(ctx context.Context, exchangeID string) ([]provider.Ticker, error) {
	if exchangeID == m.panicOn {
		panic("connector crashed")
	}
	if err := m.spotErr[exchangeID]; err != nil {
		return nil, err
	}
	return m.spot[exchangeID], nil
}

func (m *mockTickers) DerivativeTickers(ctx context.Context, exchangeID string) ([]provider.Ticker, error) {
	if exchangeID == m.panicOn {
		panic("connector crashed")
	}
	if err := m.derivativesErr[exchangeID]; err != nil {
		return nil, err
	}
	return m.derivatives[exchangeID], nil
}

// mockHolders implements provider.HolderProvider for testing
type mockHolders struct {
	mu      sync.Mutex
	holders map[string]map[string][]provider.HolderEntry
	errs    map[string]error
	calls   []string
}

func (m *mockHolders) TopHolders(ctx context.Context, assetID string) (map[string][]provider.HolderEntry, error) {
	m.mu.Lock()
	m.calls = append(m.calls, assetID)
	m.mu.Unlock()
	if err := m.errs[assetID]; err != nil {
		return nil, err
	}
	return m.holders[assetID], nil
}
