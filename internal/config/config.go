package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	cqiconfig "github.com/Combine-Capital/cqi/pkg/config"
	"github.com/spf13/viper"
)

// Config extends CQI base configuration with CQRE engine and provider settings
type Config struct {
	cqiconfig.Config `mapstructure:",squash"` // Embed CQI config

	Engine    EngineConfig    `mapstructure:"engine"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// EngineConfig controls the reconciliation cycle
type EngineConfig struct {
	RefreshInterval    time.Duration       `mapstructure:"refresh_interval"`  // Default: 1h
	MatchStrategy      string              `mapstructure:"match_strategy"`    // exact | normalized
	ConflictCapacity   int                 `mapstructure:"conflict_capacity"` // Default: 1000
	MarketListingLimit int                 `mapstructure:"market_limit"`      // Default: 5000
	ForceRefresh       bool                `mapstructure:"force_refresh"`     // Skip snapshot restore
	Market             MarketConfig        `mapstructure:"market"`
	Exchanges          ExchangeConfig      `mapstructure:"exchanges"`
	Holders            HolderConfig        `mapstructure:"holders"`
	WrappedTokens      map[string][]string `mapstructure:"wrapped_tokens"`
}

// MarketConfig controls market data merging
type MarketConfig struct {
	SlugFallback bool `mapstructure:"slug_fallback"`
}

// ExchangeConfig selects the exchange feeds to ingest
type ExchangeConfig struct {
	Spot         []string `mapstructure:"spot"`
	Derivatives  []string `mapstructure:"derivatives"`
	StableQuotes []string `mapstructure:"stable_quotes"`
	Concurrency  int      `mapstructure:"concurrency"` // 0 fetches every feed at once
}

// HolderConfig controls holder refreshes
type HolderConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Exchanges []string `mapstructure:"exchanges"`
	MaxAssets int      `mapstructure:"max_assets"` // 0 means no cap
}

// ProvidersConfig holds upstream API client configuration
type ProvidersConfig struct {
	CoinGecko     ProviderConfig `mapstructure:"coingecko"`
	CoinMarketCap ProviderConfig `mapstructure:"coinmarketcap"`
	Arkham        ArkhamConfig   `mapstructure:"arkham"`
}

// ProviderConfig holds the settings shared by every provider client
type ProviderConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	RateLimitPerSecond int           `mapstructure:"rate_limit_per_second"`
	Timeout            time.Duration `mapstructure:"timeout"`
	TickerPages        int           `mapstructure:"ticker_pages"` // CoinGecko only, default 1
}

// ArkhamConfig holds Arkham client configuration
type ArkhamConfig struct {
	ProviderConfig `mapstructure:",squash"`
	Cookie         string `mapstructure:"cookie"`
}

// Load reads configuration from file and environment variables.
// The CQI sections are loaded by CQI; engine and provider sections are read
// from the same file with the same environment prefix.
func Load(configPath, envPrefix string) (*Config, error) {
	baseCfg, err := cqiconfig.Load(configPath, envPrefix)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Config: *baseCfg,
	}

	if err := loadEngineSections(cfg, configPath, envPrefix); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// This is useful in main() where configuration errors should be fatal.
func MustLoad(configPath, envPrefix string) *Config {
	cfg, err := Load(configPath, envPrefix)
	if err != nil {
		panic(err)
	}
	return cfg
}

func loadEngineSections(cfg *Config, configPath, envPrefix string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("engine.holders.enabled", true)
	for _, key := range []string{
		"engine.refresh_interval",
		"engine.match_strategy",
		"engine.force_refresh",
		"engine.market_limit",
		"engine.holders.enabled",
		"engine.holders.max_assets",
		"providers.coingecko.api_key",
		"providers.coinmarketcap.api_key",
		"providers.arkham.api_key",
		"providers.arkham.cookie",
	} {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	var sections struct {
		Engine    EngineConfig    `mapstructure:"engine"`
		Providers ProvidersConfig `mapstructure:"providers"`
	}
	if err := v.Unmarshal(&sections); err != nil {
		return fmt.Errorf("unmarshal engine config: %w", err)
	}
	cfg.Engine = sections.Engine
	cfg.Providers = sections.Providers
	return nil
}

// applyDefaults applies CQRE-specific default values
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "cqre"
	}

	e := &cfg.Engine
	if e.RefreshInterval == 0 {
		e.RefreshInterval = time.Hour
	}
	if e.MatchStrategy == "" {
		e.MatchStrategy = "exact"
	}
	if e.ConflictCapacity == 0 {
		e.ConflictCapacity = 1000
	}
	if e.MarketListingLimit == 0 {
		e.MarketListingLimit = 5000
	}

	p := &cfg.Providers
	if p.CoinGecko.BaseURL == "" {
		p.CoinGecko.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if p.CoinGecko.RateLimitPerSecond == 0 {
		p.CoinGecko.RateLimitPerSecond = 10 // Free tier limit
	}
	if p.CoinMarketCap.BaseURL == "" {
		p.CoinMarketCap.BaseURL = "https://pro-api.coinmarketcap.com"
	}
	if p.CoinMarketCap.RateLimitPerSecond == 0 {
		p.CoinMarketCap.RateLimitPerSecond = 5
	}
	if p.Arkham.BaseURL == "" {
		p.Arkham.BaseURL = "https://api.arkm.com"
	}
	if p.Arkham.RateLimitPerSecond == 0 {
		p.Arkham.RateLimitPerSecond = 2
	}
	for _, pc := range []*ProviderConfig{&p.CoinGecko, &p.CoinMarketCap, &p.Arkham.ProviderConfig} {
		if pc.Timeout == 0 {
			pc.Timeout = 30 * time.Second
		}
	}
}

// Validate checks that the engine and provider configuration is usable.
// Empty API keys fall back to the conventional environment variables.
func (c *Config) Validate() error {
	p := &c.Providers
	if p.CoinGecko.APIKey == "" {
		p.CoinGecko.APIKey = os.Getenv("COINGECKO_API_KEY")
	}
	if p.CoinMarketCap.APIKey == "" {
		p.CoinMarketCap.APIKey = os.Getenv("CMC_API_KEY")
	}
	if p.Arkham.APIKey == "" {
		p.Arkham.APIKey = os.Getenv("ARKHAM_API_KEY")
	}
	if p.Arkham.Cookie == "" {
		p.Arkham.Cookie = os.Getenv("ARKHAM_COOKIE")
	}

	switch strings.ToLower(c.Engine.MatchStrategy) {
	case "exact", "normalized":
	default:
		return fmt.Errorf("unknown match strategy: %s", c.Engine.MatchStrategy)
	}

	if c.Engine.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh interval must be at least 1m, got: %s", c.Engine.RefreshInterval)
	}

	for name, pc := range map[string]ProviderConfig{
		"CoinGecko":     p.CoinGecko,
		"CoinMarketCap": p.CoinMarketCap,
		"Arkham":        p.Arkham.ProviderConfig,
	} {
		if pc.RateLimitPerSecond < 1 || pc.RateLimitPerSecond > 100 {
			return fmt.Errorf("%s rate limit must be between 1-100 requests/second, got: %d", name, pc.RateLimitPerSecond)
		}
	}

	if c.Engine.Exchanges.Concurrency < 0 {
		return fmt.Errorf("exchanges concurrency cannot be negative, got: %d", c.Engine.Exchanges.Concurrency)
	}

	if c.Engine.Holders.MaxAssets < 0 {
		return fmt.Errorf("holders max_assets cannot be negative, got: %d", c.Engine.Holders.MaxAssets)
	}
	return nil
}

// DatabaseEnabled reports whether snapshot persistence is configured
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != ""
}

// EventBusEnabled reports whether event publishing is configured
func (c *Config) EventBusEnabled() bool {
	return len(c.EventBus.Servers) > 0
}
