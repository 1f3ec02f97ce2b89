package backtest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velora/internal/core"
	"velora/internal/execution"
	"velora/internal/risk"
	"velora/internal/strategy"
)

// scriptedStrategy emits a fixed signal at configured bar indexes.
type scriptedStrategy struct {
	script map[int]strategy.Signal
	bar    int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) OnCandle(ctx strategy.Context) ([]strategy.Signal, error) {
	sig, ok := s.script[s.bar]
	s.bar++
	if !ok {
		return nil, nil
	}
	if sig.Action == strategy.ActionClose {
		if pos, has := ctx.Position(ctx.Candle.Symbol); has {
			sig.Quantity = pos.Quantity
		}
	}
	return []strategy.Signal{sig}, nil
}

func flatCandles(n int, price float64) []core.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]core.Candle, n)
	for i := range out {
		open := start.Add(time.Duration(i) * time.Hour)
		out[i] = core.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "1h",
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Hour).UnixMilli() - 1,
			Open:      price,
			High:      price * 1.001,
			Low:       price * 0.999,
			Close:     price,
			Volume:    1_000,
		}
	}
	return out
}

func rampCandles(n int, startPrice, step float64) []core.Candle {
	out := flatCandles(n, startPrice)
	for i := range out {
		px := startPrice + float64(i)*step
		out[i].Open = px
		out[i].High = px * 1.001
		out[i].Low = px * 0.999
		out[i].Close = px
	}
	return out
}

func TestBacktesterRoundTrip(t *testing.T) {
	strat := &scriptedStrategy{script: map[int]strategy.Signal{
		1: {Action: strategy.ActionBuy, Symbol: "BTCUSDT", Quantity: 0.1, OrderType: core.OrderTypeMarket},
		4: {Action: strategy.ActionClose, Symbol: "BTCUSDT", OrderType: core.OrderTypeMarket},
	}}
	bt, err := New(Config{
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		InitialCapital: 10_000,
		CommissionRate: 0.001,
		FillModel:      execution.FillModelMarket,
	}, strat)
	require.NoError(t, err)

	// Buy signal on bar 1 fills on bar 2 at 52000; close on bar 4 fills
	// on bar 5 at 55000.
	candles := rampCandles(8, 50_000, 1_000)
	report, err := bt.Run(context.Background(), candles)
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	trade := report.Trades[0]
	assert.InDelta(t, 52_000.0, trade.EntryPrice, 1e-9)
	assert.InDelta(t, 55_000.0, trade.ExitPrice, 1e-9)
	// gross 300 minus commissions 5.2 + 5.5
	assert.InDelta(t, 289.3, trade.PnL, 1e-6)

	assert.InDelta(t, 10_289.3, report.Metrics.FinalEquity, 1e-6)
	assert.Equal(t, 1, report.Metrics.TotalTrades)
	assert.InDelta(t, 1.0, report.Metrics.WinRate, 1e-9)

	// Both orders reached a terminal state.
	for _, o := range report.Orders {
		assert.Equal(t, core.StatusFilled, o.Status)
	}
}

func TestBacktesterRiskRejectionLeavesLedgerClean(t *testing.T) {
	strat := &scriptedStrategy{script: map[int]strategy.Signal{
		0: {Action: strategy.ActionBuy, Symbol: "BTCUSDT", Quantity: 10, OrderType: core.OrderTypeMarket},
	}}
	bt, err := New(Config{
		Symbol:         "BTCUSDT",
		InitialCapital: 10_000,
		Risk:           risk.Limits{MaxPositionSize: 1_000},
	}, strat)
	require.NoError(t, err)

	report, err := bt.Run(context.Background(), flatCandles(3, 50_000))
	require.NoError(t, err)

	assert.Equal(t, 1, report.RejectedOrders)
	assert.Empty(t, report.Orders)
	assert.Empty(t, report.Trades)
	assert.InDelta(t, 10_000.0, report.Metrics.FinalEquity, 1e-9)
}

func TestBacktesterUnfilledLimitOrderReleasesCapital(t *testing.T) {
	strat := &scriptedStrategy{script: map[int]strategy.Signal{
		0: {Action: strategy.ActionBuy, Symbol: "BTCUSDT", Quantity: 0.1,
			OrderType: core.OrderTypeLimit, LimitPrice: 10_000},
	}}
	bt, err := New(Config{Symbol: "BTCUSDT", InitialCapital: 10_000}, strat)
	require.NoError(t, err)

	report, err := bt.Run(context.Background(), flatCandles(3, 50_000))
	require.NoError(t, err)

	require.Len(t, report.Orders, 1)
	assert.Equal(t, core.StatusCancelled, report.Orders[0].Status)
	// Reservation released on flush, equity untouched.
	assert.InDelta(t, 10_000.0, report.Metrics.FinalEquity, 1e-9)
}

func TestBacktesterNoData(t *testing.T) {
	bt, err := New(Config{Symbol: "BTCUSDT"}, &scriptedStrategy{})
	require.NoError(t, err)
	_, err = bt.Run(context.Background(), nil)
	var noData *core.NoDataError
	assert.ErrorAs(t, err, &noData)
}

func TestBacktesterDeterministicReplay(t *testing.T) {
	run := func() []byte {
		strat, err := strategy.NewSMACross(strategy.Params{Symbol: "BTCUSDT", Fast: 3, Slow: 8})
		require.NoError(t, err)
		bt, err := New(Config{
			Symbol:            "BTCUSDT",
			Interval:          "1h",
			InitialCapital:    10_000,
			CommissionRate:    0.0005,
			SlippageBps:       5,
			FillModel:         execution.FillModelRealistic,
			LiquidityFraction: 0.5,
		}, strat)
		require.NoError(t, err)

		// Sawtooth prices produce repeated crosses.
		candles := flatCandles(120, 50_000)
		for i := range candles {
			px := 50_000 + 2_000*float64((i/10)%2) + 50*float64(i%10)
			candles[i].Open = px
			candles[i].High = px * 1.002
			candles[i].Low = px * 0.998
			candles[i].Close = px
		}
		report, err := bt.Run(context.Background(), candles)
		require.NoError(t, err)

		data, err := json.Marshal(struct {
			Trades any
			Curve  any
			Orders any
		}{report.Trades, report.EquityCurve, report.Orders})
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, run(), run(), "same config and candles must reproduce identical results")
}
