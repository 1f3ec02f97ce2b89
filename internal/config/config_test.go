package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":8080"
  db_path: /tmp/velora-test.db
exchange:
  name: binance
  testnet: true
  auth:
    method: api_key
    api_key: k
    api_secret: s
strategy:
  name: sma_cross
  symbol: ETHUSDT
  fast: 9
  slow: 21
  allocation: 0.5
backtest:
  interval: 4h
  start: 2024-01-01T00:00:00Z
  end: 2024-06-01T00:00:00Z
  initial_capital: 25000
  commission_rate: 0.0004
  fill_model: realistic
  slippage_bps: 5
live:
  leverage: 3
  heartbeat: 2s
  order_timeout: 45s
router:
  dry_run: true
  commission_rate: 0.0004
  max_retries: 5
  retry_backoff: 250ms
risk:
  limits_file: /tmp/limits.yaml
  limits:
    max_position_size: 20000
    max_drawdown_pct: 0.2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.True(t, cfg.Exchange.Testnet)
	assert.Equal(t, "k", cfg.Exchange.Auth.APIKey)

	assert.Equal(t, "ETHUSDT", cfg.Strategy.Symbol)
	assert.Equal(t, 9, cfg.Strategy.Fast)

	// Symbol and strategy name flow down into the run sections.
	assert.Equal(t, "ETHUSDT", cfg.Backtest.Symbol)
	assert.Equal(t, "sma_cross", cfg.Backtest.Strategy)
	assert.Equal(t, "ETHUSDT", cfg.Live.Symbol)
	assert.Equal(t, "4h", cfg.Live.Interval)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Backtest.Start)
	assert.Equal(t, 25_000.0, cfg.Backtest.InitialCapital)

	assert.Equal(t, 2*time.Second, cfg.Live.Heartbeat)
	assert.Equal(t, 45*time.Second, cfg.Live.OrderTimeout)
	assert.Equal(t, 3.0, cfg.Live.Leverage)

	assert.True(t, cfg.Router.DryRun)
	assert.Equal(t, 5, cfg.Router.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Router.RetryBackoff)

	assert.Equal(t, 20_000.0, cfg.Risk.Limits.MaxPositionSize)
	assert.Equal(t, "/tmp/limits.yaml", cfg.Risk.LimitsFile)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "app: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, "BTCUSDT", cfg.Strategy.Symbol)
	assert.Equal(t, "BTCUSDT", cfg.Backtest.Symbol)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad log level": `
app:
  log_level: verbose
`,
		"allocation out of range": `
strategy:
  allocation: 1.5
`,
		"fast not shorter than slow": `
strategy:
  fast: 30
  slow: 10
`,
		"incomplete auth": `
exchange:
  auth:
    method: api_key
    api_key: only-key
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	_, err = Load("")
	require.Error(t, err)
}
