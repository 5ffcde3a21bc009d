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

// ArkhamClient is a client for the Arkham Intelligence token holder API
type ArkhamClient struct {
	baseURL    string
	apiKey     string
	cookie     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewArkhamClient creates a new Arkham API client. Either apiKey or cookie
// authenticates requests.
func NewArkhamClient(baseURL, apiKey, cookie string, rateLimit int, timeout time.Duration) *ArkhamClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ArkhamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		cookie:  cookie,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

type arkhamHolder struct {
	Address struct {
		Address     string `json:"address"`
		Chain       string `json:"chain"`
		ArkhamLabel *struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"arkhamLabel"`
		ArkhamEntity *struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"arkhamEntity"`
	} `json:"address"`
	Balance *float64 `json:"balance"`
	USD     *float64 `json:"usd"`
}

type arkhamHoldersResponse struct {
	AddressTopHolders map[string][]arkhamHolder `json:"addressTopHolders"`
}

// TopHolders fetches the top holders of an asset grouped by chain.
func (c *ArkhamClient) TopHolders(ctx context.Context, assetID string) (map[string][]provider.HolderEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: arkham rate limiter: %v", provider.ErrUnavailable, err)
	}

	endpoint := fmt.Sprintf("%s/token/holders/%s?groupByEntity=true", c.baseURL, url.PathEscape(assetID))
	log.Debug().Str("asset_id", assetID).Msg("Fetching Arkham top holders")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("API-Key", c.apiKey)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: arkham holders %s: %v", provider.ErrUnavailable, assetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: arkham returned status %d for %s: %s", provider.ErrUnavailable, resp.StatusCode, assetID, string(body))
	}

	var payload arkhamHoldersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode arkham holders %s: %v", provider.ErrUnavailable, assetID, err)
	}

	holders := make(map[string][]provider.HolderEntry, len(payload.AddressTopHolders))
	for chain, list := range payload.AddressTopHolders {
		entries := make([]provider.HolderEntry, 0, len(list))
		for _, h := range list {
			entry := provider.HolderEntry{
				Address:  h.Address.Address,
				Balance:  h.Balance,
				USDValue: h.USD,
			}
			if h.Address.ArkhamLabel != nil {
				entry.Label = h.Address.ArkhamLabel.Name
			}
			if h.Address.ArkhamEntity != nil {
				entry.Entity = h.Address.ArkhamEntity.Name
			}
			entries = append(entries, entry)
		}
		holders[chain] = entries
	}
	return holders, nil
}
