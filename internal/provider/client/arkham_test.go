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

func TestArkhamClient_TopHolders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token/holders/chainlink", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("groupByEntity"))
		assert.Equal(t, "ark-key", r.Header.Get("API-Key"))
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		w.Write([]byte(`{"addressTopHolders":{
			"ethereum":[
				{"address":{"address":"0xF977814e90dA44bFA03b6295A0616a897441aceC","chain":"ethereum",
				  "arkhamLabel":{"name":"Hot Wallet","address":"0xF977814e90dA44bFA03b6295A0616a897441aceC"},
				  "arkhamEntity":{"name":"Binance","type":"cex"}},
				 "balance":1000,"usd":15000},
				{"address":{"address":"0x0000000000000000000000000000000000000001","chain":"ethereum"},"balance":5,"usd":null}
			],
			"arbitrum_one":[]
		}}`))
	}))
	defer srv.Close()

	c := NewArkhamClient(srv.URL, "ark-key", "session=abc", 100, 5*time.Second)
	holders, err := c.TopHolders(context.Background(), "chainlink")
	require.NoError(t, err)

	require.Len(t, holders["ethereum"], 2)
	first := holders["ethereum"][0]
	assert.Equal(t, "0xF977814e90dA44bFA03b6295A0616a897441aceC", first.Address)
	assert.Equal(t, "Hot Wallet", first.Label)
	assert.Equal(t, "Binance", first.Entity)
	assert.Equal(t, 15000.0, *first.USDValue)

	second := holders["ethereum"][1]
	assert.Empty(t, second.Label)
	assert.Nil(t, second.USDValue)
	assert.Equal(t, 5.0, *second.Balance)

	assert.Contains(t, holders, "arbitrum_one")
	assert.Empty(t, holders["arbitrum_one"])
}

func TestArkhamClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewArkhamClient(srv.URL, "", "", 100, time.Second)
	_, err := c.TopHolders(context.Background(), "chainlink")
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}
