package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Market    MarketConfig    `yaml:"market"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	Store     StoreConfig     `yaml:"store"`
	Insight   InsightConfig   `yaml:"insight"`
}

type ServerConfig struct {
	Port       int `yaml:"port"`
	StreamPort int `yaml:"stream_port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MarketConfig struct {
	QuoteAsset       string `yaml:"quote_asset"`
	BinanceBaseURL   string `yaml:"binance_base_url"`
	CoinGeckoBaseURL string `yaml:"coingecko_base_url"`
	CoinGeckoAPIKey  string `yaml:"coingecko_api_key"`
	TimeoutMs        int    `yaml:"timeout_ms"`
	WindowDays       int    `yaml:"window_days"`
	// CoinGeckoPriceFallback adds CoinGecko as a second price source.
	CoinGeckoPriceFallback bool `yaml:"coingecko_price_fallback"`
}

type WatchlistConfig struct {
	Symbols     []string `yaml:"symbols"`
	RefreshSpec string   `yaml:"refresh_spec"`
	HistorySpec string   `yaml:"history_spec"`
}

type StoreConfig struct {
	Sqlite SqliteConfig `yaml:"sqlite"`
}

type SqliteConfig struct {
	Path string `yaml:"path"`
}

type InsightConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, StreamPort: 8081},
		Log:    LogConfig{Level: "info"},
		Market: MarketConfig{
			QuoteAsset:             "USDT",
			BinanceBaseURL:         "https://api.binance.com",
			CoinGeckoBaseURL:       "https://api.coingecko.com",
			TimeoutMs:              5000,
			WindowDays:             180,
			CoinGeckoPriceFallback: true,
		},
		Watchlist: WatchlistConfig{
			RefreshSpec: "@every 5s",
			HistorySpec: "@every 30m",
		},
		Insight: InsightConfig{
			Enabled:   false,
			Model:     "gpt-4.1-mini",
			TimeoutMs: 10000,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Server.StreamPort != 0 {
		if err := validPort("server.stream_port", c.Server.StreamPort); err != nil {
			return err
		}
		if c.Server.StreamPort == c.Server.Port {
			return fmt.Errorf("server.stream_port must differ from server.port")
		}
	}
	if strings.TrimSpace(c.Market.QuoteAsset) == "" {
		return fmt.Errorf("market.quote_asset is required")
	}
	if c.Market.WindowDays <= 0 {
		return fmt.Errorf("market.window_days must be positive: %d", c.Market.WindowDays)
	}
	if strings.TrimSpace(c.Watchlist.RefreshSpec) == "" {
		return fmt.Errorf("watchlist.refresh_spec is required")
	}
	return nil
}

func validPort(name string, p int) error {
	if p <= 0 || p > 65535 {
		return fmt.Errorf("invalid %s: %d", name, p)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("STREAM_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 || p > 65535 {
			return fmt.Errorf("invalid STREAM_PORT: %q", v)
		}
		cfg.Server.StreamPort = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Market.CoinGeckoAPIKey = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Market.BinanceBaseURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Store.Sqlite.Path = v
	}
	if v := os.Getenv("REFRESH_SPEC"); v != "" {
		cfg.Watchlist.RefreshSpec = v
	}
	if v := os.Getenv("WATCHLIST_SYMBOLS"); v != "" {
		var syms []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				syms = append(syms, s)
			}
		}
		cfg.Watchlist.Symbols = syms
	}
	return nil
}
