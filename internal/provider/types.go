// Package provider defines the upstream data contracts consumed by the
// reconciliation engine and the records they return.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks a failed upstream call: network error, timeout,
// authentication failure or unexpected status.
var ErrUnavailable = errors.New("provider unavailable")

// ParseError reports a single upstream record that could not be interpreted.
type ParseError struct {
	Source string
	Record string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s record %q: %s", e.Source, e.Record, e.Reason)
}

// ListedCoin is one entry of a provider's full coin list.
type ListedCoin struct {
	ID        string
	Symbol    string
	Name      string
	Platforms map[string]string // chain -> contract address
}

// MarketRecord carries provider market figures. Numeric fields are nil when
// the provider omitted them.
type MarketRecord struct {
	Slug              string
	Symbol            string
	Name              string
	TotalSupply       *float64
	CirculatingSupply *float64
	Price             *float64
	MarketCap         *float64
}

// Ticker is one exchange ticker. Base and Target may be empty when the
// exchange only reports a combined Symbol such as "BTCUSDT".
type Ticker struct {
	Base    string
	Target  string
	Symbol  string
	AssetID string
	Last    *float64
}

// HolderEntry is one top holder of an asset on a chain.
type HolderEntry struct {
	Address  string
	Label    string
	Entity   string
	Balance  *float64
	USDValue *float64
}

// CoinListingProvider lists every known coin with its contract deployments.
type CoinListingProvider interface {
	ListAssets(ctx context.Context) ([]ListedCoin, error)
}

// MarketListingProvider returns the latest market figures.
type MarketListingProvider interface {
	Latest(ctx context.Context, limit int) ([]MarketRecord, error)
}

// ExchangeTickerProvider returns spot and derivative tickers per exchange.
type ExchangeTickerProvider interface {
	SpotTickers(ctx context.Context, exchangeID string) ([]Ticker, error)
	DerivativeTickers(ctx context.Context, exchangeID string) ([]Ticker, error)
}

// HolderProvider returns the top holders of an asset grouped by chain.
type HolderProvider interface {
	TopHolders(ctx context.Context, assetID string) (map[string][]HolderEntry, error)
}
