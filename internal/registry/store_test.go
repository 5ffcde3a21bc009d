package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestStore_Create(t *testing.T) {
	s := NewStore()

	a, err := s.Create("bitcoin", "btc", "Bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", a.ID)
	assert.Equal(t, "BTC", a.Symbol)
	assert.Equal(t, "Bitcoin", a.Name)
	assert.Nil(t, a.Supply)

	_, err = s.Create("bitcoin", "BTC", "Bitcoin")
	assert.ErrorIs(t, err, ErrAssetExists)

	_, err = s.Create("  ", "X", "X")
	assert.Error(t, err)

	assert.Equal(t, 1, s.Len())
}

func TestStore_SearchCompleteness(t *testing.T) {
	s := NewStore()
	_, err := s.Create("ethereum", "ETH", "Ethereum")
	require.NoError(t, err)

	tests := []struct {
		name string
		term string
		want []string
	}{
		{name: "symbol lower", term: "eth", want: []string{"ethereum"}},
		{name: "symbol upper", term: "ETH", want: []string{"ethereum"}},
		{name: "name", term: "Ethereum", want: []string{"ethereum"}},
		{name: "padded", term: "  ethereum ", want: []string{"ethereum"}},
		{name: "miss", term: "bitcoin", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Search(tt.term)
			ids := make([]string, 0, len(got))
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_Rename(t *testing.T) {
	s := NewStore()
	_, err := s.Create("matic-network", "MATIC", "Polygon")
	require.NoError(t, err)

	changed, err := s.Rename("matic-network", "POL", "POL (ex-MATIC)")
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, []string{"matic-network"}, s.MatchIdentity("pol", "pol (ex-matic)"))
	assert.Empty(t, s.MatchIdentity("MATIC", "Polygon"))
	assert.Len(t, s.Search("pol"), 1)
	assert.Len(t, s.Search("matic"), 1, "previous terms stay searchable")

	changed, err = s.Rename("matic-network", "POL", "POL (ex-MATIC)")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.Rename("unknown", "X", "Y")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestStore_MatchIdentityCreationOrder(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"weth-a", "weth-b", "weth-c"} {
		_, err := s.Create(id, "WETH", "Wrapped Ether")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"weth-a", "weth-b", "weth-c"}, s.MatchIdentity("weth", "wrapped ether"))

	// a rename away and back keeps the original creation rank
	_, err := s.Rename("weth-a", "XWETH", "Other")
	require.NoError(t, err)
	_, err = s.Rename("weth-a", "WETH", "Wrapped Ether")
	require.NoError(t, err)
	assert.Equal(t, []string{"weth-a", "weth-b", "weth-c"}, s.MatchIdentity("WETH", "Wrapped Ether"))
}

func TestStore_MatchIdentityNormalizedStrategy(t *testing.T) {
	s := NewStore(WithStrategy(NormalizedStrategy{}))
	_, err := s.Create("wrapped-steth", "wstETH", "Wrapped stETH")
	require.NoError(t, err)

	assert.Equal(t, []string{"wrapped-steth"}, s.MatchIdentity("WSTETH", "wrapped-steth"))
	assert.Equal(t, "normalized", s.Strategy().Name())
}

func TestStore_AttachAddressUniqueness(t *testing.T) {
	s := NewStore()
	_, err := s.Create("usd-coin", "USDC", "USDC")
	require.NoError(t, err)
	_, err = s.Create("bridged-usdc", "USDC.E", "Bridged USDC")
	require.NoError(t, err)

	addr := ChainAddress{Chain: "ethereum", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"}

	attached, owner, err := s.AttachAddress("usd-coin", addr)
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Empty(t, owner)

	// same pair, different case, same asset: no-op without conflict
	attached, owner, err = s.AttachAddress("usd-coin", ChainAddress{Chain: "ethereum", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"})
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Empty(t, owner)

	// same pair claimed by another asset: refused, owner reported
	attached, owner, err = s.AttachAddress("bridged-usdc", addr)
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Equal(t, "usd-coin", owner)

	// same address on a different chain is a different pair
	attached, _, err = s.AttachAddress("bridged-usdc", ChainAddress{Chain: "arbitrum-one", Address: addr.Address})
	require.NoError(t, err)
	assert.True(t, attached)

	usdc, _ := s.Get("usd-coin")
	assert.Len(t, usdc.OnChainAddresses, 1)

	found := s.ByContractAddress("0XA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48")
	require.Len(t, found, 2)
	assert.Equal(t, "bridged-usdc", found[0].ID)
	assert.Equal(t, "usd-coin", found[1].ID)

	_, _, err = s.AttachAddress("missing", addr)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestStore_ListingsAreSets(t *testing.T) {
	s := NewStore()
	_, err := s.Create("bitcoin", "BTC", "Bitcoin")
	require.NoError(t, err)

	l := Listing{ExchangeID: "binance", Pair: "BTC/USDT"}
	added, err := s.AddListing("bitcoin", ListingSpot, l)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddListing("bitcoin", ListingSpot, l)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.AddListing("bitcoin", ListingDerivative, Listing{ExchangeID: "binance_futures", Pair: "BTC/USDT"})
	require.NoError(t, err)
	assert.True(t, added)

	a, _ := s.Get("bitcoin")
	assert.Equal(t, []Listing{l}, a.SpotListings)
	assert.Len(t, a.DerivativeListings, 1)
	assert.True(t, a.ListedOn("binance_futures"))
	assert.False(t, a.ListedOn("okex"))

	assert.Len(t, s.ByExchange("binance"), 1)
	assert.Len(t, s.ByExchange("binance_futures"), 1)
	assert.Empty(t, s.ByExchange("okex"))
	assert.Len(t, s.Search("btc/usdt"), 1)

	_, err = s.AddListing("missing", ListingSpot, l)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestStore_HolderIndexSymmetry(t *testing.T) {
	s := NewStore()
	_, err := s.Create("chainlink", "LINK", "Chainlink")
	require.NoError(t, err)
	_, err = s.Create("uniswap", "UNI", "Uniswap")
	require.NoError(t, err)

	holder := "0x28C6c06298d514Db089934071355E5743bf21d60"
	for _, id := range []string{"chainlink", "uniswap"} {
		inserted, err := s.UpsertHolder(id, HolderRecord{Address: holder, ChainType: "ethereum", Balance: floatPtr(10)})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	// re-ingest overwrites without duplicating
	inserted, err := s.UpsertHolder("chainlink", HolderRecord{Address: holder, ChainType: "ethereum", Balance: floatPtr(25), LabelName: "Binance 14"})
	require.NoError(t, err)
	assert.False(t, inserted)

	link, _ := s.Get("chainlink")
	require.Len(t, link.Holders, 1)
	assert.Equal(t, 25.0, *link.Holders[0].Balance)
	assert.Equal(t, "Binance 14", link.Holders[0].LabelName)

	assert.Equal(t, []string{"chainlink", "uniswap"}, s.HolderAssetIDs(holder))
	for _, a := range s.Export() {
		for _, h := range a.Holders {
			assert.Contains(t, s.HolderAssetIDs(h.Address), a.ID)
		}
	}
	for _, a := range s.ByHolder(holder) {
		require.Len(t, a.Holders, 1)
		assert.Equal(t, NormalizeAddress(holder), NormalizeAddress(a.Holders[0].Address))
	}

	_, err = s.UpsertHolder("chainlink", HolderRecord{})
	assert.Error(t, err)
}

func TestStore_SupplyAndCachedPrice(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return now }))
	_, err := s.Create("solana", "SOL", "Solana")
	require.NoError(t, err)

	require.NoError(t, s.SetCachedPrice("solana", 150, time.Time{}))
	a, _ := s.Get("solana")
	require.NotNil(t, a.Supply)
	assert.Equal(t, 150.0, *a.Supply.CachedPrice)
	assert.Nil(t, a.Supply.MarketCap)
	assert.Equal(t, now, a.Supply.AsOf)

	require.NoError(t, s.SetSupply("solana", SupplySnapshot{CachedPrice: floatPtr(151), MarketCap: floatPtr(7e10)}))
	a, _ = s.Get("solana")
	assert.Equal(t, 151.0, *a.Supply.CachedPrice)
	assert.Equal(t, 7e10, *a.Supply.MarketCap)

	assert.ErrorIs(t, s.SetSupply("missing", SupplySnapshot{}), ErrAssetNotFound)
	assert.ErrorIs(t, s.SetCachedPrice("missing", 1, now), ErrAssetNotFound)
}

func TestStore_CopyOnRead(t *testing.T) {
	s := NewStore()
	_, err := s.Create("dogecoin", "DOGE", "Dogecoin")
	require.NoError(t, err)
	require.NoError(t, s.SetSupply("dogecoin", SupplySnapshot{CachedPrice: floatPtr(0.1)}))
	_, err = s.AddListing("dogecoin", ListingSpot, Listing{ExchangeID: "binance", Pair: "DOGE/USDT"})
	require.NoError(t, err)

	a, _ := s.Get("dogecoin")
	*a.Supply.CachedPrice = 99
	a.SpotListings[0].Pair = "MUTATED"
	a.Symbol = "MUT"

	b, _ := s.Get("dogecoin")
	assert.Equal(t, 0.1, *b.Supply.CachedPrice)
	assert.Equal(t, "DOGE/USDT", b.SpotListings[0].Pair)
	assert.Equal(t, "DOGE", b.Symbol)
}

func TestStore_List(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		_, err := s.Create(fmt.Sprintf("asset-%d", i), fmt.Sprintf("A%d", i), fmt.Sprintf("Asset %d", i))
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		offset int
		limit  int
		want   []string
	}{
		{name: "first page", offset: 0, limit: 2, want: []string{"asset-0", "asset-1"}},
		{name: "second page", offset: 2, limit: 2, want: []string{"asset-2", "asset-3"}},
		{name: "tail", offset: 4, limit: 10, want: []string{"asset-4"}},
		{name: "past end", offset: 10, limit: 2, want: []string{}},
		{name: "no limit", offset: 3, limit: 0, want: []string{"asset-3", "asset-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.List(tt.offset, tt.limit)
			ids := make([]string, 0, len(got))
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_ExportRestore(t *testing.T) {
	src := NewStore()
	_, err := src.Create("ethereum", "ETH", "Ethereum")
	require.NoError(t, err)
	_, err = src.Create("weth", "WETH", "WETH")
	require.NoError(t, err)
	_, _, err = src.AttachAddress("weth", ChainAddress{Chain: "ethereum", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"})
	require.NoError(t, err)
	_, err = src.AddListing("ethereum", ListingDerivative, Listing{ExchangeID: "okex_swap", Pair: "ETH/USDT"})
	require.NoError(t, err)
	_, err = src.UpsertHolder("weth", HolderRecord{Address: "0xabc", ChainType: "ethereum"})
	require.NoError(t, err)
	require.NoError(t, src.SetSupply("ethereum", SupplySnapshot{CachedPrice: floatPtr(3000)}))

	dst := NewStore()
	assert.Equal(t, 2, dst.Restore(src.Export()))
	assert.Equal(t, 0, dst.Restore(src.Export()), "existing ids are skipped")

	assert.Equal(t, src.Export(), dst.Export())
	assert.Equal(t, []string{"ethereum", "weth"}, dst.IDs())
	assert.Len(t, dst.ByExchange("okex_swap"), 1)
	assert.Equal(t, []string{"weth"}, dst.HolderAssetIDs("0xabc"))
	assert.Len(t, dst.ByContractAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), 1)
	assert.Equal(t, src.SearchIndexSize(), dst.SearchIndexSize())
}

func TestStore_ConcurrentWritesAndReads(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		_, err := s.Create(fmt.Sprintf("asset-%d", i), fmt.Sprintf("A%d", i), fmt.Sprintf("Asset %d", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("asset-%d", i%10)
				_, _ = s.AddListing(id, ListingSpot, Listing{ExchangeID: fmt.Sprintf("ex-%d", w), Pair: "A/USDT"})
				_, _ = s.UpsertHolder(id, HolderRecord{Address: fmt.Sprintf("holder-%d", i%7)})
				_ = s.SetCachedPrice(id, float64(i), time.Time{})
				_, _ = s.EnsureAsset(fmt.Sprintf("extra-%d", i%5), "X", "Extra")
				_ = s.Search("a/usdt")
				_ = s.ByExchange("ex-0")
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 15, s.Len())
	for i := 0; i < 10; i++ {
		a, ok := s.Get(fmt.Sprintf("asset-%d", i))
		require.True(t, ok)
		assert.Len(t, a.SpotListings, 8)
		assert.Len(t, a.Holders, 7)
	}
}
