package manager

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/Combine-Capital/cqre/internal/provider"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultStableQuotes are the quote currencies whose tickers are retained.
var DefaultStableQuotes = []string{"USDT", "USDC"}

// Solana address regex (base58, typically 32-44 characters)
var solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// evmPlatforms lists provider platform ids whose contracts use EVM addresses.
var evmPlatforms = map[string]bool{
	"ethereum":            true,
	"binance-smart-chain": true,
	"polygon-pos":         true,
	"arbitrum-one":        true,
	"optimistic-ethereum": true,
	"base":                true,
	"avalanche":           true,
	"fantom":              true,
	"linea":               true,
	"zksync":              true,
	"scroll":              true,
	"mantle":              true,
	"blast":               true,
	"cronos":              true,
	"xdai":                true,
}

// ValidateContractAddress validates contract address format based on the platform it is deployed on
func ValidateContractAddress(contractAddress, platform string) error {
	contractAddress = strings.TrimSpace(contractAddress)
	if contractAddress == "" {
		return fmt.Errorf("contract_address is required")
	}

	platform = strings.ToLower(platform)
	switch {
	case evmPlatforms[platform]:
		if !strings.HasPrefix(strings.ToLower(contractAddress), "0x") || !common.IsHexAddress(contractAddress) {
			return fmt.Errorf("invalid EVM contract address format: %s (expected 0x followed by 40 hex characters)", contractAddress)
		}
	case platform == "solana":
		if !solanaAddressRegex.MatchString(contractAddress) {
			return fmt.Errorf("invalid Solana contract address format: %s (expected base58 address)", contractAddress)
		}
	}
	return nil
}

// ValidateMarketRecord checks that a market record carries the fields required to merge it.
func ValidateMarketRecord(rec provider.MarketRecord) error {
	if strings.TrimSpace(rec.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if rec.Price == nil {
		return fmt.Errorf("price is required")
	}
	if rec.CirculatingSupply == nil {
		return fmt.Errorf("circulating_supply is required")
	}
	for field, v := range map[string]*float64{
		"price":              rec.Price,
		"circulating_supply": rec.CirculatingSupply,
		"total_supply":       rec.TotalSupply,
		"market_cap":         rec.MarketCap,
	} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("%s is not a finite number", field)
		}
		if *v < 0 {
			return fmt.Errorf("%s cannot be negative: %v", field, *v)
		}
	}
	return nil
}

// ParsePair splits a combined ticker symbol such as "BTC/USDT", "BTC-USDT",
// "BTC_USDT" or "BTCUSDT" into base and target. Concatenated symbols are only
// split on one of the given quote currencies.
func ParsePair(symbol string, quotes []string) (base, target string, err error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", "", fmt.Errorf("empty pair")
	}

	for _, sep := range []string{"/", "-", "_"} {
		if b, t, ok := strings.Cut(s, sep); ok {
			if b == "" || t == "" {
				return "", "", fmt.Errorf("malformed pair %q", symbol)
			}
			return b, t, nil
		}
	}

	for _, q := range quotes {
		q = strings.ToUpper(q)
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q, nil
		}
	}
	return "", "", fmt.Errorf("cannot split pair %q", symbol)
}

// NormalizeTicker returns the upper-cased base and target of a ticker,
// parsing the combined symbol when either is missing.
func NormalizeTicker(t provider.Ticker, quotes []string) (base, target string, err error) {
	base = strings.ToUpper(strings.TrimSpace(t.Base))
	target = strings.ToUpper(strings.TrimSpace(t.Target))
	if base != "" && target != "" {
		return base, target, nil
	}
	b, q, err := ParsePair(t.Symbol, quotes)
	if err != nil {
		return "", "", &provider.ParseError{Source: "ticker", Record: t.Symbol, Reason: err.Error()}
	}
	return b, q, nil
}

// PairString returns the canonical listing pair "BASE/TARGET".
func PairString(base, target string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(target)
}

// IsStableQuote reports whether target is one of the retained quote currencies.
func IsStableQuote(target string, quotes []string) bool {
	for _, q := range quotes {
		if strings.EqualFold(target, q) {
			return true
		}
	}
	return false
}

// IsLeveragedBase reports whether a base symbol denotes a scaled contract
// such as "1000PEPE", whose quoted price is not the unit price of the asset.
func IsLeveragedBase(base string) bool {
	for _, r := range base {
		return unicode.IsDigit(r)
	}
	return false
}
