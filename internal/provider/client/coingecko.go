package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// CoinGeckoClient is a client for the CoinGecko API with rate limiting.
// It serves the coin list and exchange ticker feeds.
type CoinGeckoClient struct {
	baseURL     string
	apiKey      string
	tickerPages int
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewCoinGeckoClient creates a new CoinGecko API client with rate limiting
func NewCoinGeckoClient(baseURL, apiKey string, rateLimit int, timeout time.Duration, tickerPages int) *CoinGeckoClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if tickerPages < 1 {
		tickerPages = 1
	}
	return &CoinGeckoClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		tickerPages: tickerPages,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

type coinListEntry struct {
	ID        string            `json:"id"`
	Symbol    string            `json:"symbol"`
	Name      string            `json:"name"`
	Platforms map[string]string `json:"platforms"`
}

// flexFloat decodes a JSON number or a numeric string. The derivatives
// endpoint reports converted prices as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", string(data))
	}
	*f = flexFloat(v)
	return nil
}

type coinGeckoTicker struct {
	Symbol        string               `json:"symbol"`
	Base          string               `json:"base"`
	Target        string               `json:"target"`
	CoinID        string               `json:"coin_id"`
	Last          *flexFloat           `json:"last"`
	ConvertedLast map[string]flexFloat `json:"converted_last"`
}

// Tickers are decoded one by one so a malformed entry only loses itself.
type tickersResponse struct {
	Name    string            `json:"name"`
	Tickers []json.RawMessage `json:"tickers"`
}

// ListAssets fetches the full coin list including contract deployments.
func (c *CoinGeckoClient) ListAssets(ctx context.Context) ([]provider.ListedCoin, error) {
	var entries []coinListEntry
	if err := c.get(ctx, "/coins/list", url.Values{"include_platform": {"true"}}, &entries); err != nil {
		return nil, err
	}

	coins := make([]provider.ListedCoin, 0, len(entries))
	for _, e := range entries {
		coins = append(coins, provider.ListedCoin{
			ID:        e.ID,
			Symbol:    e.Symbol,
			Name:      e.Name,
			Platforms: cleanPlatforms(e.Platforms),
		})
	}

	log.Info().Int("count", len(coins)).Msg("Fetched CoinGecko coin list")
	return coins, nil
}

// SpotTickers fetches the spot tickers of an exchange, following up to the
// configured number of pages.
func (c *CoinGeckoClient) SpotTickers(ctx context.Context, exchangeID string) ([]provider.Ticker, error) {
	var tickers []provider.Ticker
	for page := 1; page <= c.tickerPages; page++ {
		var resp tickersResponse
		query := url.Values{"page": {fmt.Sprint(page)}}
		if err := c.get(ctx, "/exchanges/"+url.PathEscape(exchangeID)+"/tickers", query, &resp); err != nil {
			if page > 1 {
				log.Warn().Err(err).Str("exchange_id", exchangeID).Int("page", page).Msg("Stopping ticker pagination early")
				break
			}
			return nil, err
		}
		if len(resp.Tickers) == 0 {
			break
		}
		tickers = append(tickers, convertTickers(exchangeID, resp.Tickers)...)
	}

	log.Debug().Str("exchange_id", exchangeID).Int("count", len(tickers)).Msg("Fetched spot tickers")
	return tickers, nil
}

// DerivativeTickers fetches the unexpired derivative tickers of an exchange.
func (c *CoinGeckoClient) DerivativeTickers(ctx context.Context, exchangeID string) ([]provider.Ticker, error) {
	var resp tickersResponse
	query := url.Values{"include_tickers": {"unexpired"}}
	if err := c.get(ctx, "/derivatives/exchanges/"+url.PathEscape(exchangeID), query, &resp); err != nil {
		return nil, err
	}

	tickers := convertTickers(exchangeID, resp.Tickers)
	log.Debug().Str("exchange_id", exchangeID).Int("count", len(tickers)).Msg("Fetched derivative tickers")
	return tickers, nil
}

func (c *CoinGeckoClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: coingecko rate limiter: %v", provider.ErrUnavailable, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	log.Debug().Str("url", endpoint).Msg("CoinGecko request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: coingecko %s: %v", provider.ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: coingecko rate limit exceeded (HTTP 429)", provider.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: coingecko %s returned status %d: %s", provider.ErrUnavailable, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode coingecko %s: %v", provider.ErrUnavailable, path, err)
	}
	return nil
}

func convertTickers(exchangeID string, in []json.RawMessage) []provider.Ticker {
	out := make([]provider.Ticker, 0, len(in))
	for i, raw := range in {
		var t coinGeckoTicker
		if err := json.Unmarshal(raw, &t); err != nil {
			perr := &provider.ParseError{Source: "coingecko", Record: fmt.Sprintf("%s#%d", exchangeID, i), Reason: err.Error()}
			log.Warn().Err(perr).Str("exchange_id", exchangeID).Msg("Skipping malformed ticker")
			continue
		}
		out = append(out, provider.Ticker{
			Base:    t.Base,
			Target:  t.Target,
			Symbol:  t.Symbol,
			AssetID: t.CoinID,
			Last:    tickerPrice(t),
		})
	}
	return out
}

// tickerPrice prefers the USD-converted last price over the raw last trade.
func tickerPrice(t coinGeckoTicker) *float64 {
	if usd, ok := t.ConvertedLast["usd"]; ok && usd > 0 {
		price := float64(usd)
		return &price
	}
	if t.Last == nil {
		return nil
	}
	last := float64(*t.Last)
	return &last
}

// cleanPlatforms drops empty entries and strips the "chain:" prefix some
// responses carry on the contract address.
func cleanPlatforms(platforms map[string]string) map[string]string {
	out := make(map[string]string, len(platforms))
	for chain, address := range platforms {
		if chain == "" || address == "" {
			continue
		}
		address = strings.TrimSpace(strings.TrimPrefix(address, chain+":"))
		if address == "" {
			continue
		}
		out[chain] = address
	}
	return out
}
