package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoinGeckoTestServer(t *testing.T, handler http.HandlerFunc) *CoinGeckoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCoinGeckoClient(srv.URL, "test-key", 100, 5*time.Second, 2)
}

func TestCoinGeckoClient_ListAssets(t *testing.T) {
	c := newCoinGeckoTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/list", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_platform"))
		assert.Equal(t, "test-key", r.Header.Get("x-cg-pro-api-key"))
		w.Write([]byte(`[
			{"id":"bitcoin","symbol":"btc","name":"Bitcoin","platforms":{}},
			{"id":"usd-coin","symbol":"usdc","name":"USDC","platforms":{
				"ethereum":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
				"solana":"solana:EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				"":"0xdead",
				"polygon-pos":""
			}}
		]`))
	})

	coins, err := c.ListAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 2)

	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.Empty(t, coins[0].Platforms)

	assert.Equal(t, map[string]string{
		"ethereum": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		"solana":   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	}, coins[1].Platforms)
}

func TestCoinGeckoClient_SpotTickersPaginates(t *testing.T) {
	c := newCoinGeckoTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchanges/binance/tickers", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"name":"Binance","tickers":[
				{"base":"BTC","target":"USDT","coin_id":"bitcoin","last":65000,"converted_last":{"usd":65010}},
				{"base":"ETH","target":"BTC","coin_id":"ethereum","last":0.05}
			]}`))
		case "2":
			w.Write([]byte(`{"name":"Binance","tickers":[
				{"base":"SOL","target":"USDC","coin_id":"solana","last":150}
			]}`))
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("page"))
		}
	})

	tickers, err := c.SpotTickers(context.Background(), "binance")
	require.NoError(t, err)
	require.Len(t, tickers, 3)

	assert.Equal(t, "bitcoin", tickers[0].AssetID)
	require.NotNil(t, tickers[0].Last)
	assert.Equal(t, 65010.0, *tickers[0].Last, "converted usd price preferred")
	assert.Equal(t, 0.05, *tickers[1].Last)
	assert.Equal(t, "SOL", tickers[2].Base)
}

func TestCoinGeckoClient_DerivativeTickers(t *testing.T) {
	c := newCoinGeckoTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/derivatives/exchanges/binance_futures", r.URL.Path)
		assert.Equal(t, "unexpired", r.URL.Query().Get("include_tickers"))
		w.Write([]byte(`{"name":"Binance (Futures)","tickers":[
			{"symbol":"1000PEPEUSDT","base":"1000PEPE","target":"USDT","coin_id":"pepe","last":0.012}
		]}`))
	})

	tickers, err := c.DerivativeTickers(context.Background(), "binance_futures")
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	assert.Equal(t, provider.Ticker{Base: "1000PEPE", Target: "USDT", Symbol: "1000PEPEUSDT", AssetID: "pepe", Last: tickers[0].Last}, tickers[0])
	assert.Equal(t, 0.012, *tickers[0].Last)
}

func TestCoinGeckoClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`},
		{name: "bad json", status: http.StatusOK, body: `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoinGeckoTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.DerivativeTickers(context.Background(), "bybit")
			require.Error(t, err)
			assert.ErrorIs(t, err, provider.ErrUnavailable)
		})
	}
}

func TestCoinGeckoClient_DerivativeTickersStringPrices(t *testing.T) {
	c := newCoinGeckoTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Binance (Futures)","tickers":[
			{"symbol":"BTCUSDT","base":"BTC","target":"USDT","coin_id":"bitcoin","last":65000,"converted_last":{"btc":"1.0","usd":"65010.5"}},
			{"symbol":"SOLUSDT","base":"SOL","target":"USDT","coin_id":"solana","last":"not-a-price"},
			{"symbol":"ETHUSDT","base":"ETH","target":"USDT","coin_id":"ethereum","last":3000}
		]}`))
	})

	tickers, err := c.DerivativeTickers(context.Background(), "binance_futures")
	require.NoError(t, err)
	require.Len(t, tickers, 2, "malformed ticker is skipped, the rest of the feed kept")

	assert.Equal(t, "bitcoin", tickers[0].AssetID)
	require.NotNil(t, tickers[0].Last)
	assert.Equal(t, 65010.5, *tickers[0].Last)

	assert.Equal(t, "ethereum", tickers[1].AssetID)
	require.NotNil(t, tickers[1].Last)
	assert.Equal(t, 3000.0, *tickers[1].Last)
}
