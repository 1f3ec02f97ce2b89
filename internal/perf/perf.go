// Package perf computes performance analytics from an equity curve and a
// trade log. Everything is recomputed from scratch on each call so the
// numbers can never drift from the ledger.
package perf

import (
	"math"
	"time"

	"velora/internal/ledger"
)

// PeriodsPerYear constants for common sampling frequencies.
const (
	PeriodsDaily  = 252.0
	PeriodsHourly = 24.0 * 365.0
)

// Metrics is the full analytics summary for one run.
type Metrics struct {
	InitialCapital      float64       `json:"initial_capital" yaml:"initial_capital"`
	FinalEquity         float64       `json:"final_equity" yaml:"final_equity"`
	TotalReturn         float64       `json:"total_return" yaml:"total_return"`
	TotalReturnPct      float64       `json:"total_return_pct" yaml:"total_return_pct"`
	AnnualizedReturnPct float64       `json:"annualized_return_pct" yaml:"annualized_return_pct"`
	SharpeRatio         float64       `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	SortinoRatio        float64       `json:"sortino_ratio" yaml:"sortino_ratio"`
	MaxDrawdownPct      float64       `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration_ns" yaml:"max_drawdown_duration_ns"`
	TotalTrades         int           `json:"total_trades" yaml:"total_trades"`
	WinningTrades       int           `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades        int           `json:"losing_trades" yaml:"losing_trades"`
	WinRate             float64       `json:"win_rate" yaml:"win_rate"`
	ProfitFactor        float64       `json:"profit_factor" yaml:"profit_factor"`
	AvgWin              float64       `json:"avg_win" yaml:"avg_win"`
	AvgLoss             float64       `json:"avg_loss" yaml:"avg_loss"`
	LargestWin          float64       `json:"largest_win" yaml:"largest_win"`
	LargestLoss         float64       `json:"largest_loss" yaml:"largest_loss"`
	AvgHoldingHours     float64       `json:"avg_holding_hours" yaml:"avg_holding_hours"`
	TotalCommission     float64       `json:"total_commission" yaml:"total_commission"`
}

// Compute reduces the equity curve and trade log into Metrics.
// periodsPerYear is the annualization factor matching the curve's sampling
// frequency (252 for daily samples). ProfitFactor is reported as 0 when
// there is no gross loss to divide by.
func Compute(curve []ledger.EquityPoint, trades []ledger.Trade, initialCapital, periodsPerYear float64) Metrics {
	m := Metrics{InitialCapital: initialCapital}
	if periodsPerYear <= 0 {
		periodsPerYear = PeriodsDaily
	}

	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
	} else {
		m.FinalEquity = initialCapital
	}
	m.TotalReturn = m.FinalEquity - initialCapital
	if initialCapital > 0 {
		m.TotalReturnPct = m.TotalReturn / initialCapital * 100
	}

	m.AnnualizedReturnPct = annualizedReturnPct(curve, initialCapital)
	m.SharpeRatio, m.SortinoRatio = riskAdjusted(curve, periodsPerYear)
	m.MaxDrawdownPct, m.MaxDrawdownDuration = maxDrawdown(curve)

	m.TotalTrades = len(trades)
	var grossProfit, grossLoss, largestWin, largestLoss, holding float64
	for _, t := range trades {
		m.TotalCommission += t.Commission
		holding += t.HoldingDuration().Hours()
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossProfit += t.PnL
			if t.PnL > largestWin {
				largestWin = t.PnL
			}
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += -t.PnL
			if -t.PnL > largestLoss {
				largestLoss = -t.PnL
			}
		default:
			m.LosingTrades++
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AvgHoldingHours = holding / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 && grossLoss > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	m.LargestWin = largestWin
	m.LargestLoss = -largestLoss
	return m
}

func annualizedReturnPct(curve []ledger.EquityPoint, initialCapital float64) float64 {
	if len(curve) < 2 || initialCapital <= 0 {
		return 0
	}
	final := curve[len(curve)-1].Equity
	if final <= 0 {
		return -100
	}
	span := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp)
	years := span.Hours() / (24 * 365)
	if years <= 0 {
		return 0
	}
	return (math.Pow(final/initialCapital, 1/years) - 1) * 100
}

// riskAdjusted returns the annualized Sharpe and Sortino ratios over the
// curve's per-period returns. Both are 0 when the curve has no variance.
func riskAdjusted(curve []ledger.EquityPoint, periodsPerYear float64) (float64, float64) {
	returns := periodReturns(curve)
	if len(returns) < 2 {
		return 0, 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance, downVariance float64
	var downCount int
	for _, r := range returns {
		d := r - mean
		variance += d * d
		if r < 0 {
			downVariance += r * r
			downCount++
		}
	}
	variance /= float64(len(returns) - 1)

	var sharpe, sortino float64
	if std := math.Sqrt(variance); std > 0 {
		sharpe = mean / std * math.Sqrt(periodsPerYear)
	}
	if downCount > 0 {
		if downStd := math.Sqrt(downVariance / float64(len(returns))); downStd > 0 {
			sortino = mean / downStd * math.Sqrt(periodsPerYear)
		}
	}
	return sharpe, sortino
}

func periodReturns(curve []ledger.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

// maxDrawdown returns the largest peak-to-trough equity decline as a
// percentage, and the longest stretch spent below a prior peak.
func maxDrawdown(curve []ledger.EquityPoint) (float64, time.Duration) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	peakAt := curve[0].Timestamp
	var maxDD float64
	var maxDur time.Duration
	for _, pt := range curve {
		if pt.Equity >= peak {
			peak = pt.Equity
			peakAt = pt.Timestamp
			continue
		}
		if peak > 0 {
			if dd := (peak - pt.Equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
		if dur := pt.Timestamp.Sub(peakAt); dur > maxDur {
			maxDur = dur
		}
	}
	return maxDD, maxDur
}
