package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"velora/internal/ledger"
	"velora/internal/perf"
)

// Report is the full outcome of one backtest run.
type Report struct {
	RunID          string               `json:"run_id" yaml:"run_id"`
	Config         Config               `json:"config" yaml:"config"`
	Metrics        perf.Metrics         `json:"metrics" yaml:"metrics"`
	EquityCurve    []ledger.EquityPoint `json:"equity_curve" yaml:"equity_curve"`
	Trades         []ledger.Trade       `json:"trades" yaml:"trades"`
	Orders         []*ledger.Order      `json:"orders" yaml:"orders"`
	RejectedOrders int                  `json:"rejected_orders" yaml:"rejected_orders"`
	FirstCandle    time.Time            `json:"first_candle" yaml:"first_candle"`
	LastCandle     time.Time            `json:"last_candle" yaml:"last_candle"`
	GeneratedAt    time.Time            `json:"generated_at" yaml:"generated_at"`
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return writeFile(path, data)
}

// WriteYAML writes the report as YAML.
func (r *Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Summary renders a short human-readable digest for the console.
func (r *Report) Summary() string {
	m := r.Metrics
	return fmt.Sprintf(
		"run %s | %s %s | equity %.2f -> %.2f (%.2f%%) | sharpe %.2f | max dd %.2f%% | trades %d (win %.0f%%)",
		r.RunID, r.Config.Symbol, r.Config.Interval,
		m.InitialCapital, m.FinalEquity, m.TotalReturnPct,
		m.SharpeRatio, m.MaxDrawdownPct, m.TotalTrades, m.WinRate*100,
	)
}
