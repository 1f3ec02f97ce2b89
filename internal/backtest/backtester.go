// Package backtest replays a strategy over historical candles through the
// simulated execution path and reduces the outcome into a report.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"velora/internal/core"
	"velora/internal/execution"
	"velora/internal/ledger"
	"velora/internal/logger"
	"velora/internal/perf"
	"velora/internal/risk"
	"velora/internal/strategy"
)

// Config is immutable for the duration of one run.
type Config struct {
	Symbol            string              `json:"symbol" yaml:"symbol"`
	Interval          string              `json:"interval" yaml:"interval"`
	Start             time.Time           `json:"start" yaml:"start"`
	End               time.Time           `json:"end" yaml:"end"`
	InitialCapital    float64             `json:"initial_capital" yaml:"initial_capital"`
	Leverage          float64             `json:"leverage" yaml:"leverage"`
	CommissionRate    float64             `json:"commission_rate" yaml:"commission_rate"`
	SlippageBps       float64             `json:"slippage_bps" yaml:"slippage_bps"`
	FillModel         execution.FillModel `json:"fill_model" yaml:"fill_model"`
	LiquidityFraction float64             `json:"liquidity_fraction" yaml:"liquidity_fraction"`
	Strategy          string              `json:"strategy" yaml:"strategy"`
	Risk              risk.Limits         `json:"risk" yaml:"risk"`
}

func (c *Config) applyDefaults() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 10_000
	}
	if c.Leverage <= 0 {
		c.Leverage = 1
	}
	if c.FillModel == "" {
		c.FillModel = execution.FillModelMarket
	}
	if c.Interval == "" {
		c.Interval = "1h"
	}
}

// Backtester drives one run. Not safe for concurrent use; build one per run.
type Backtester struct {
	cfg      Config
	strat    strategy.Strategy
	sim      *execution.Simulator
	ledger   *ledger.Ledger
	pf       *ledger.Portfolio
	guard    *risk.Guard
	orderSeq int
	rejected int
}

func New(cfg Config, strat strategy.Strategy) (*Backtester, error) {
	cfg.applyDefaults()
	if strat == nil {
		return nil, fmt.Errorf("backtest: strategy is required")
	}
	sim, err := execution.NewSimulator(execution.SimConfig{
		Model:             cfg.FillModel,
		CommissionRate:    cfg.CommissionRate,
		SlippageBps:       cfg.SlippageBps,
		LiquidityFraction: cfg.LiquidityFraction,
	})
	if err != nil {
		return nil, err
	}
	return &Backtester{
		cfg:    cfg,
		strat:  strat,
		sim:    sim,
		ledger: ledger.NewLedger(),
		pf:     ledger.NewPortfolio(cfg.InitialCapital, cfg.Leverage),
		guard:  risk.NewGuard(cfg.Risk, cfg.CommissionRate),
	}, nil
}

// Run replays the candles in order. Candles must be a single symbol and
// interval, sorted by open time.
func (b *Backtester) Run(ctx context.Context, candles []core.Candle) (*Report, error) {
	if len(candles) == 0 {
		return nil, &core.NoDataError{Symbol: b.cfg.Symbol, Start: b.cfg.Start, End: b.cfg.End}
	}
	started := time.Now()

	for i := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.step(candles[i])
	}
	b.flushPending(candles[len(candles)-1])

	report := b.buildReport(candles)
	logger.Infof("backtest %s finished: %d candles, %d trades, return %.2f%%, elapsed %s",
		report.RunID, len(candles), report.Metrics.TotalTrades,
		report.Metrics.TotalReturnPct, time.Since(started).Round(time.Millisecond))
	return report, nil
}

func (b *Backtester) step(c core.Candle) {
	ts := c.CloseAt()

	// Fills first: orders submitted on earlier candles execute against
	// this bar before the strategy sees it.
	for _, exec := range b.sim.ProcessCandle(c) {
		b.applyExecution(exec)
	}

	b.pf.MarkToMarket(c.Symbol, c.Close, ts)

	signals, err := b.strat.OnCandle(strategy.Context{Candle: c, Portfolio: b.pf.State()})
	if err != nil {
		logger.Warnf("strategy %s error on %s: %v", b.strat.Name(), ts.Format(time.RFC3339), err)
	}
	for _, sig := range signals {
		b.placeSignal(sig, c, ts)
	}

	b.pf.Sample(ts)
}

func (b *Backtester) applyExecution(exec execution.Execution) {
	if err := b.ledger.Apply(exec.Update); err != nil {
		logger.Errorf("ledger update for order %s rejected: %v", exec.Update.OrderID, err)
		return
	}
	if exec.Update.Status.IsTerminal() {
		b.pf.Release(exec.Update.OrderID)
	}
	b.pf.ApplyFill(exec.Fill)
}

func (b *Backtester) placeSignal(sig strategy.Signal, c core.Candle, ts time.Time) {
	order, ok := b.orderFromSignal(sig, ts)
	if !ok {
		return
	}
	if err := b.guard.Admit(order, c.Close, b.pf, ts); err != nil {
		b.rejected++
		logger.Warnf("order rejected (%s %s %v %s): %v", order.Side, order.Type, order.Quantity, order.Symbol, err)
		return
	}
	if err := b.ledger.Create(order); err != nil {
		b.pf.Release(order.ID)
		logger.Errorf("order create failed: %v", err)
		return
	}
	if err := b.sim.Submit(order); err != nil {
		b.pf.Release(order.ID)
		logger.Errorf("order submit failed: %v", err)
		return
	}
	// The simulator accepted the order, which is this path's venue ack.
	if err := b.ledger.MarkSubmitted(order.ID, order.ID, ts); err != nil {
		logger.Errorf("order %s submit transition failed: %v", order.ID, err)
	}
}

func (b *Backtester) orderFromSignal(sig strategy.Signal, ts time.Time) (*ledger.Order, bool) {
	if sig.Action == strategy.ActionHold || sig.Quantity <= 0 {
		return nil, false
	}
	b.orderSeq++
	id := fmt.Sprintf("bt-%06d", b.orderSeq)

	var side core.Side
	reduceOnly := false
	switch sig.Action {
	case strategy.ActionBuy:
		side = core.Buy
	case strategy.ActionSell:
		side = core.Sell
	case strategy.ActionClose:
		pos, ok := b.pf.Book().Get(sig.Symbol)
		if !ok {
			return nil, false
		}
		side = pos.Side.Opposite()
		reduceOnly = true
	default:
		return nil, false
	}

	var order *ledger.Order
	if sig.OrderType == core.OrderTypeLimit && sig.LimitPrice > 0 {
		order = ledger.NewLimitOrder(id, sig.Symbol, side, sig.Quantity, sig.LimitPrice, ts)
	} else {
		order = ledger.NewMarketOrder(id, sig.Symbol, side, sig.Quantity, ts)
	}
	order.ReduceOnly = reduceOnly
	order.Reason = sig.Reason
	return order, true
}

// flushPending cancels whatever is still resting after the last candle so
// reservations never leak into the report.
func (b *Backtester) flushPending(last core.Candle) {
	for _, id := range b.sim.PendingIDs() {
		update, err := b.sim.Cancel(id)
		if err != nil {
			continue
		}
		update.Timestamp = last.CloseAt()
		if err := b.ledger.Apply(update); err != nil {
			logger.Errorf("pending order %s cancel failed: %v", id, err)
			continue
		}
		b.pf.Release(id)
	}
}

func (b *Backtester) buildReport(candles []core.Candle) *Report {
	curve := b.pf.EquityCurve()
	trades := b.pf.Trades()

	periods := perf.PeriodsDaily
	if dur, err := core.IntervalDuration(b.cfg.Interval); err == nil && dur > 0 {
		periods = float64(365*24*time.Hour) / float64(dur)
	}

	return &Report{
		RunID:          uuid.NewString(),
		Config:         b.cfg,
		Metrics:        perf.Compute(curve, trades, b.cfg.InitialCapital, periods),
		EquityCurve:    curve,
		Trades:         trades,
		Orders:         b.ledger.All(),
		RejectedOrders: b.rejected,
		FirstCandle:    time.UnixMilli(candles[0].OpenTime).UTC(),
		LastCandle:     time.UnixMilli(candles[len(candles)-1].CloseTime).UTC(),
		GeneratedAt:    time.Now().UTC(),
	}
}
