package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Logger     Logger     `mapstructure:"logger"`
	Database   Database   `mapstructure:"database"`
	Redis      Redis      `mapstructure:"redis"`
	Server     Server     `mapstructure:"server"`
	Metrics    Metrics    `mapstructure:"metrics"`
	SignalFeed SignalFeed `mapstructure:"signal_feed"`
	RateLimit  RateLimit  `mapstructure:"rate_limit"`
	Risk       Risk       `mapstructure:"risk"`
	Advisory   Advisory   `mapstructure:"advisory"`
	Consensus  Consensus  `mapstructure:"consensus"`
	Telegram   Telegram   `mapstructure:"telegram"`
	Trading    Trading    `mapstructure:"trading"`
	Binance    Binance    `mapstructure:"binance"`
	Orderly    Orderly    `mapstructure:"orderly"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Redis backs signal deduplication and the symbol info cache.
type Redis struct {
	URL            string        `mapstructure:"url"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
	SymbolCacheTTL time.Duration `mapstructure:"symbol_cache_ttl"`
}

// Server holds the configuration for the control API.
type Server struct {
	Port int `mapstructure:"port"`
}

// Metrics holds the prometheus listener address. Empty disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// SignalFeed points at the active-signal endpoint.
type SignalFeed struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimit bounds outbound exchange calls: at most MaxCalls inside any Window.
type RateLimit struct {
	MaxCalls int           `mapstructure:"max_calls"`
	Window   time.Duration `mapstructure:"window"`
}

// Risk holds sizing and gating thresholds.
type Risk struct {
	RiskPerTradePct      float64 `mapstructure:"risk_per_trade_pct"`
	MarginUtilizationCap float64 `mapstructure:"margin_utilization_cap"`
	LeverageVeryStrong   int     `mapstructure:"leverage_very_strong"`
	LeverageStrong       int     `mapstructure:"leverage_strong"`
	LeverageModerate     int     `mapstructure:"leverage_moderate"`
	MinBacktestTrades    int     `mapstructure:"min_backtest_trades"`
	MinExpectancy        float64 `mapstructure:"min_expectancy"`
}

// Advisory configures the external reasoning service.
type Advisory struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	PromptPath     string        `mapstructure:"prompt_path"`
	RefusalMarker  string        `mapstructure:"refusal_marker"`
	CandleLimit    int           `mapstructure:"candle_limit"`
	OrderBookDepth int           `mapstructure:"order_book_depth"`
	FundingPoints  int           `mapstructure:"funding_points"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Consensus configures the default liquidity-consensus policy.
type Consensus struct {
	MinQuoteVolume float64 `mapstructure:"min_quote_volume"`
}

// Telegram configures the operator notification channel. An empty token disables it.
type Telegram struct {
	BaseURL   string  `mapstructure:"base_url"`
	Token     string  `mapstructure:"token"`
	ChatID    string  `mapstructure:"chat_id"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// Trading holds settings shared by every venue loop.
type Trading struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	DryRun       bool          `mapstructure:"dry_run"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

// Venue holds per-venue pipeline limits.
type Venue struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxOpenPositions  int     `mapstructure:"max_open_positions"`
	MinBalance        float64 `mapstructure:"min_balance"`
	BumpToMinNotional bool    `mapstructure:"bump_to_min_notional"`
}

// Binance holds the configuration for the Binance USDⓈ-M futures API.
type Binance struct {
	Venue      `mapstructure:",squash"`
	BaseURL    string `mapstructure:"base_url"`
	ApiKey     string `mapstructure:"apiKey"`
	SecretKey  string `mapstructure:"secretKey"`
	RecvWindow int    `mapstructure:"recv_window"`
	QuoteAsset string `mapstructure:"quote_asset"`
}

// Orderly holds the configuration for the Orderly perpetuals API.
type Orderly struct {
	Venue     `mapstructure:",squash"`
	BaseURL   string `mapstructure:"base_url"`
	WSURL     string `mapstructure:"ws_url"`
	AccountID string `mapstructure:"account_id"`
	PublicKey string `mapstructure:"public_key"`
	Secret    string `mapstructure:"secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("database.dsn", "data/trading.db")

	v.SetDefault("redis.key_prefix", "futures-bot:")
	v.SetDefault("redis.dedup_ttl", time.Hour)
	v.SetDefault("redis.symbol_cache_ttl", time.Hour)

	v.SetDefault("server.port", 8080)

	v.SetDefault("signal_feed.url", "https://signal.globaldv.net/api/v1/signals/active")
	v.SetDefault("signal_feed.timeout", 10*time.Second)

	v.SetDefault("rate_limit.max_calls", 10)
	v.SetDefault("rate_limit.window", time.Second)

	v.SetDefault("risk.risk_per_trade_pct", 1.5)
	v.SetDefault("risk.margin_utilization_cap", 0.5)
	v.SetDefault("risk.leverage_very_strong", 5)
	v.SetDefault("risk.leverage_strong", 4)
	v.SetDefault("risk.leverage_moderate", 3)
	v.SetDefault("risk.min_backtest_trades", 15)
	v.SetDefault("risk.min_expectancy", 0.0025)

	v.SetDefault("advisory.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("advisory.model", "deepseek-chat")
	v.SetDefault("advisory.max_tokens", 500)
	v.SetDefault("advisory.refusal_marker", "DO NOT EXECUTE")
	v.SetDefault("advisory.candle_limit", 80)
	v.SetDefault("advisory.order_book_depth", 15)
	v.SetDefault("advisory.funding_points", 12)
	v.SetDefault("advisory.timeout", 60*time.Second)

	v.SetDefault("consensus.min_quote_volume", 5_000_000)

	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.rate_limit", 1)

	v.SetDefault("trading.poll_interval", 30*time.Second)
	v.SetDefault("trading.cycle_timeout", 3*time.Minute)
	v.SetDefault("trading.http_timeout", 10*time.Second)

	v.SetDefault("binance.base_url", "https://fapi.binance.com")
	v.SetDefault("binance.recv_window", 5000)
	v.SetDefault("binance.quote_asset", "USDT")
	v.SetDefault("binance.min_balance", 15)

	// Registered so AutomaticEnv can bind them; viper only looks up env for known keys.
	for _, key := range []string{
		"logger.file", "metrics.addr", "redis.url", "advisory.api_key", "advisory.prompt_path",
		"telegram.token", "telegram.chat_id",
		"binance.apiKey", "binance.secretKey",
		"orderly.account_id", "orderly.public_key", "orderly.secret",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("binance.enabled", false)
	v.SetDefault("binance.max_open_positions", 0)
	v.SetDefault("binance.bump_to_min_notional", false)
	v.SetDefault("orderly.enabled", false)
	v.SetDefault("trading.dry_run", false)

	v.SetDefault("orderly.base_url", "https://api-evm.orderly.org")
	v.SetDefault("orderly.ws_url", "wss://ws-evm.orderly.org/ws/stream")
	v.SetDefault("orderly.min_balance", 5)
	v.SetDefault("orderly.max_open_positions", 1)
	v.SetDefault("orderly.bump_to_min_notional", true)
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is tolerated so that a pure-environment deployment works.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load() // best-effort

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

// Validate reports configuration that must stop the process at startup:
// missing or malformed exchange credentials, and nothing to run.
func (c *Config) Validate() error {
	if !c.Binance.Enabled && !c.Orderly.Enabled {
		return errors.New("no venue enabled")
	}
	if c.Binance.Enabled && (c.Binance.ApiKey == "" || c.Binance.SecretKey == "") {
		return errors.New("binance.apiKey and binance.secretKey are required")
	}
	if c.Orderly.Enabled {
		if c.Orderly.AccountID == "" || c.Orderly.PublicKey == "" || c.Orderly.Secret == "" {
			return errors.New("orderly.account_id, orderly.public_key and orderly.secret are required")
		}
		raw, err := base58.Decode(strings.TrimPrefix(c.Orderly.Secret, "ed25519:"))
		if err != nil {
			return fmt.Errorf("orderly.secret is not base58: %w", err)
		}
		if len(raw) != 32 && len(raw) != 64 {
			return fmt.Errorf("orderly.secret decodes to %d bytes, want 32 or 64", len(raw))
		}
	}
	if c.Advisory.APIKey == "" {
		return errors.New("advisory.api_key is required")
	}
	if c.RateLimit.MaxCalls <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.max_calls and rate_limit.window must be positive")
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.MarginUtilizationCap <= 0 || c.Risk.MarginUtilizationCap > 1 {
		return errors.New("risk.risk_per_trade_pct must be positive and risk.margin_utilization_cap in (0, 1]")
	}
	return nil
}
