package registry

import (
	"sort"
	"sync"
	"time"
)

// ListingKind distinguishes spot from derivative exchange listings.
type ListingKind string

const (
	ListingSpot       ListingKind = "spot"
	ListingDerivative ListingKind = "derivative"
)

// ChainAddress identifies a token contract on a specific chain.
type ChainAddress struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

// key returns the normalized identity of the contract.
func (c ChainAddress) key() ChainAddress {
	return ChainAddress{Chain: c.Chain, Address: NormalizeAddress(c.Address)}
}

// Listing is a trading pair on an exchange, e.g. ("binance", "BTC/USDT").
type Listing struct {
	ExchangeID string `json:"exchange_id"`
	Pair       string `json:"pair"`
}

// SupplySnapshot holds the reconciled market figures of an asset.
// Every figure is optional because providers routinely omit some of them.
type SupplySnapshot struct {
	TotalSupply       *float64  `json:"total_supply,omitempty"`
	CirculatingSupply *float64  `json:"circulating_supply,omitempty"`
	MarketCap         *float64  `json:"market_cap,omitempty"`
	CachedPrice       *float64  `json:"cached_price,omitempty"`
	AsOf              time.Time `json:"as_of"`
}

// Clone returns a deep copy of the snapshot.
func (s *SupplySnapshot) Clone() *SupplySnapshot {
	if s == nil {
		return nil
	}
	return &SupplySnapshot{
		TotalSupply:       cloneFloat(s.TotalSupply),
		CirculatingSupply: cloneFloat(s.CirculatingSupply),
		MarketCap:         cloneFloat(s.MarketCap),
		CachedPrice:       cloneFloat(s.CachedPrice),
		AsOf:              s.AsOf,
	}
}

// HolderRecord is one top-holder entry of an asset.
type HolderRecord struct {
	Address    string    `json:"address"`
	ChainType  string    `json:"chain_type"`
	LabelName  string    `json:"label_name,omitempty"`
	EntityName string    `json:"entity_name,omitempty"`
	Balance    *float64  `json:"balance,omitempty"`
	USDValue   *float64  `json:"usd_value,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h HolderRecord) clone() HolderRecord {
	h.Balance = cloneFloat(h.Balance)
	h.USDValue = cloneFloat(h.USDValue)
	return h
}

// Asset is a read-only snapshot of a canonical asset. Values returned by the
// Store are deep copies and may be freely modified by callers.
type Asset struct {
	ID                 string          `json:"id"`
	Symbol             string          `json:"symbol"`
	Name               string          `json:"name"`
	OnChainAddresses   []ChainAddress  `json:"on_chain_addresses"`
	SpotListings       []Listing       `json:"spot_listings"`
	DerivativeListings []Listing       `json:"derivative_listings"`
	Supply             *SupplySnapshot `json:"supply,omitempty"`
	Holders            []HolderRecord  `json:"holders"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ListedOn reports whether the asset has a spot or derivative listing on the exchange.
func (a Asset) ListedOn(exchangeID string) bool {
	for _, l := range a.SpotListings {
		if l.ExchangeID == exchangeID {
			return true
		}
	}
	for _, l := range a.DerivativeListings {
		if l.ExchangeID == exchangeID {
			return true
		}
	}
	return false
}

// HasListings reports whether the asset is listed on any exchange.
func (a Asset) HasListings() bool {
	return len(a.SpotListings) > 0 || len(a.DerivativeListings) > 0
}

// entry is the mutable, lock-protected form of an asset held by the Store.
type entry struct {
	mu          sync.RWMutex
	seq         int
	id          string
	symbol      string
	name        string
	addresses   map[ChainAddress]ChainAddress // normalized key -> address as supplied
	spot        map[Listing]struct{}
	derivatives map[Listing]struct{}
	supply      *SupplySnapshot
	holders     map[string]HolderRecord // normalized address -> record
	createdAt   time.Time
	updatedAt   time.Time
}

func newEntry(seq int, id, symbol, name string, now time.Time) *entry {
	return &entry{
		seq:         seq,
		id:          id,
		symbol:      symbol,
		name:        name,
		addresses:   make(map[ChainAddress]ChainAddress),
		spot:        make(map[Listing]struct{}),
		derivatives: make(map[Listing]struct{}),
		holders:     make(map[string]HolderRecord),
		createdAt:   now,
		updatedAt:   now,
	}
}

// snapshot copies the entry into an Asset. Callers must hold the entry lock.
func (e *entry) snapshot() Asset {
	a := Asset{
		ID:                 e.id,
		Symbol:             e.symbol,
		Name:               e.name,
		OnChainAddresses:   make([]ChainAddress, 0, len(e.addresses)),
		SpotListings:       sortedListings(e.spot),
		DerivativeListings: sortedListings(e.derivatives),
		Supply:             e.supply.Clone(),
		Holders:            make([]HolderRecord, 0, len(e.holders)),
		CreatedAt:          e.createdAt,
		UpdatedAt:          e.updatedAt,
	}
	for _, addr := range e.addresses {
		a.OnChainAddresses = append(a.OnChainAddresses, addr)
	}
	sort.Slice(a.OnChainAddresses, func(i, j int) bool {
		if a.OnChainAddresses[i].Chain != a.OnChainAddresses[j].Chain {
			return a.OnChainAddresses[i].Chain < a.OnChainAddresses[j].Chain
		}
		return a.OnChainAddresses[i].Address < a.OnChainAddresses[j].Address
	})
	for _, h := range e.holders {
		a.Holders = append(a.Holders, h.clone())
	}
	sort.Slice(a.Holders, func(i, j int) bool {
		return a.Holders[i].Address < a.Holders[j].Address
	})
	return a
}

func (e *entry) listings(kind ListingKind) map[Listing]struct{} {
	if kind == ListingDerivative {
		return e.derivatives
	}
	return e.spot
}

func sortedListings(set map[Listing]struct{}) []Listing {
	out := make([]Listing, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExchangeID != out[j].ExchangeID {
			return out[i].ExchangeID < out[j].ExchangeID
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
