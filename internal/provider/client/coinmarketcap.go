package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// CoinMarketCapClient is a client for the CoinMarketCap listings API
type CoinMarketCapClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewCoinMarketCapClient creates a new CoinMarketCap API client with rate limiting
func NewCoinMarketCapClient(baseURL, apiKey string, rateLimit int, timeout time.Duration) *CoinMarketCapClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CoinMarketCapClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

type cmcListing struct {
	ID                int                 `json:"id"`
	Name              string              `json:"name"`
	Symbol            string              `json:"symbol"`
	Slug              string              `json:"slug"`
	TotalSupply       *float64            `json:"total_supply"`
	CirculatingSupply *float64            `json:"circulating_supply"`
	Quote             map[string]cmcQuote `json:"quote"`
}

type cmcQuote struct {
	Price     *float64 `json:"price"`
	MarketCap *float64 `json:"market_cap"`
}

type cmcListingsResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data []cmcListing `json:"data"`
}

// Latest fetches the latest listings ordered by market cap.
func (c *CoinMarketCapClient) Latest(ctx context.Context, limit int) ([]provider.MarketRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: coinmarketcap rate limiter: %v", provider.ErrUnavailable, err)
	}

	query := url.Values{"convert": {"USD"}}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.baseURL + "/v1/cryptocurrency/listings/latest?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: coinmarketcap listings: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: coinmarketcap returned status %d: %s", provider.ErrUnavailable, resp.StatusCode, string(body))
	}

	var listings cmcListingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		return nil, fmt.Errorf("%w: decode coinmarketcap listings: %v", provider.ErrUnavailable, err)
	}
	if listings.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("%w: coinmarketcap error %d: %s", provider.ErrUnavailable, listings.Status.ErrorCode, listings.Status.ErrorMessage)
	}

	records := make([]provider.MarketRecord, 0, len(listings.Data))
	for _, l := range listings.Data {
		usd := l.Quote["USD"]
		records = append(records, provider.MarketRecord{
			Slug:              l.Slug,
			Symbol:            l.Symbol,
			Name:              l.Name,
			TotalSupply:       l.TotalSupply,
			CirculatingSupply: l.CirculatingSupply,
			Price:             usd.Price,
			MarketCap:         usd.MarketCap,
		})
	}

	log.Info().Int("count", len(records)).Msg("Fetched CoinMarketCap listings")
	return records, nil
}
