// Package config loads and validates the application configuration from a
// YAML file, with environment variable overrides under the VELORA_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"velora/internal/backtest"
	"velora/internal/engine"
	"velora/internal/exchange"
	"velora/internal/execution"
	"velora/internal/risk"
	"velora/internal/strategy"
)

// Config is the main configuration carrier.
type Config struct {
	App      AppConfig            `yaml:"app"`
	Exchange exchange.Config      `yaml:"exchange"`
	Strategy StrategyConfig       `yaml:"strategy"`
	Backtest backtest.Config      `yaml:"backtest"`
	Live     engine.Config        `yaml:"live"`
	Router   execution.LiveConfig `yaml:"router"`
	Risk     RiskConfig           `yaml:"risk"`
}

type AppConfig struct {
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
	LogPath  string `yaml:"log_path"`
	HTTPAddr string `yaml:"http_addr"`
	DBPath   string `yaml:"db_path"`
}

// StrategyConfig names the strategy and carries its tuning knobs.
type StrategyConfig struct {
	Name       string  `yaml:"name"`
	Symbol     string  `yaml:"symbol"`
	Fast       int     `yaml:"fast"`
	Slow       int     `yaml:"slow"`
	Allocation float64 `yaml:"allocation"`
}

// Params converts the section into strategy construction options.
func (s StrategyConfig) Params() strategy.Params {
	return strategy.Params{
		Symbol:     s.Symbol,
		Fast:       s.Fast,
		Slow:       s.Slow,
		Allocation: s.Allocation,
	}
}

// RiskConfig holds the admission limits plus an optional file that is
// watched for hot reloads while live trading.
type RiskConfig struct {
	Limits     risk.Limits `yaml:"limits"`
	LimitsFile string      `yaml:"limits_file"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VELORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const (
	defaultLogLevel = "info"
	defaultHTTPAddr = ":9991"
	defaultDBPath   = "data/velora.db"
	defaultExchange = "binance"
	defaultSymbol   = "BTCUSDT"
)

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultHTTPAddr
	}
	if c.App.DBPath == "" {
		c.App.DBPath = defaultDBPath
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = defaultExchange
	}
	if c.Strategy.Symbol == "" {
		c.Strategy.Symbol = defaultSymbol
	}
	if c.Backtest.Symbol == "" {
		c.Backtest.Symbol = c.Strategy.Symbol
	}
	if c.Backtest.Strategy == "" {
		c.Backtest.Strategy = c.Strategy.Name
	}
	if c.Live.Symbol == "" {
		c.Live.Symbol = c.Strategy.Symbol
	}
	if c.Live.Interval == "" {
		c.Live.Interval = c.Backtest.Interval
	}
}

func validate(c *Config) error {
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug, info, warn, error, got %q", c.App.LogLevel)
	}
	if err := c.Exchange.Auth.Validate(); err != nil {
		return fmt.Errorf("exchange.auth: %w", err)
	}
	if c.Strategy.Allocation < 0 || c.Strategy.Allocation > 1 {
		return fmt.Errorf("strategy.allocation must be within [0, 1], got %v", c.Strategy.Allocation)
	}
	if c.Strategy.Fast < 0 || c.Strategy.Slow < 0 {
		return fmt.Errorf("strategy periods must be non-negative")
	}
	if c.Strategy.Fast > 0 && c.Strategy.Slow > 0 && c.Strategy.Fast >= c.Strategy.Slow {
		return fmt.Errorf("strategy.fast (%d) must be shorter than strategy.slow (%d)", c.Strategy.Fast, c.Strategy.Slow)
	}
	if c.Backtest.CommissionRate < 0 || c.Router.CommissionRate < 0 {
		return fmt.Errorf("commission rates must be non-negative")
	}
	return nil
}
