package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"velora/internal/backtest"
	"velora/internal/core"
	"velora/internal/exchange"
	"velora/internal/logger"
	"velora/internal/store"
	"velora/internal/strategy"
)

// maxCandlesPerFetch matches the largest page the venue serves per request.
const maxCandlesPerFetch = 1000

// RunBacktest loads candles (from the store, backfilling from the exchange
// when missing), runs the configured strategy and persists the results.
// Report files land under outDir.
func (a *App) RunBacktest(ctx context.Context, outDir string) error {
	cfg := a.cfg

	st, err := store.Open(cfg.App.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	candles, err := a.loadCandles(ctx, st)
	if err != nil {
		return err
	}
	logger.Infof("backtesting %s %s over %d candles", cfg.Backtest.Symbol, cfg.Backtest.Interval, len(candles))

	strat, err := strategy.New(cfg.Backtest.Strategy, cfg.Strategy.Params())
	if err != nil {
		return err
	}
	bt, err := backtest.New(cfg.Backtest, strat)
	if err != nil {
		return err
	}
	report, err := bt.Run(ctx, candles)
	if err != nil {
		return err
	}

	rec := store.RunRecord{
		ID:        report.RunID,
		Strategy:  cfg.Backtest.Strategy,
		Symbol:    cfg.Backtest.Symbol,
		Interval:  cfg.Backtest.Interval,
		StartTime: report.FirstCandle,
		EndTime:   report.LastCandle,
		Metrics:   report.Metrics,
	}
	if err := st.SaveRun(ctx, rec, report.Trades, report.EquityCurve); err != nil {
		return fmt.Errorf("persisting run %s: %w", report.RunID, err)
	}

	if outDir == "" {
		outDir = "reports"
	}
	base := filepath.Join(outDir, report.RunID)
	if err := report.WriteJSON(base + ".json"); err != nil {
		return err
	}
	if err := report.WriteYAML(base + ".yaml"); err != nil {
		return err
	}
	if err := report.WriteChart(base + ".html"); err != nil {
		return err
	}

	logger.Infof("run %s saved, report files at %s.{json,yaml,html}", report.RunID, base)
	fmt.Println(report.Summary())
	return nil
}

// loadCandles serves the backtest window from the store, pulling from the
// exchange whatever the store does not yet have.
func (a *App) loadCandles(ctx context.Context, st *store.Store) ([]core.Candle, error) {
	cfg := a.cfg.Backtest

	candles, err := st.Candles(ctx, cfg.Symbol, cfg.Interval, cfg.Start, cfg.End)
	var noData *core.NoDataError
	if err != nil && !errors.As(err, &noData) {
		return nil, err
	}
	if err == nil && coversWindow(candles, cfg.Start, cfg.End, cfg.Interval) {
		return candles, nil
	}

	logger.Infof("store misses candles for %s %s, backfilling from %s", cfg.Symbol, cfg.Interval, a.cfg.Exchange.Name)
	fetched, err := a.fetchCandles(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.SaveCandles(ctx, fetched); err != nil {
		return nil, fmt.Errorf("caching %d candles: %w", len(fetched), err)
	}
	return st.Candles(ctx, cfg.Symbol, cfg.Interval, cfg.Start, cfg.End)
}

func (a *App) fetchCandles(ctx context.Context) ([]core.Candle, error) {
	cfg := a.cfg.Backtest

	ex, err := exchange.New(a.cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("building exchange adapter: %w", err)
	}
	if err := ex.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", a.cfg.Exchange.Name, err)
	}
	defer ex.Close()

	step := intervalStep(cfg.Interval)
	var out []core.Candle
	for cursor := cfg.Start; cursor.Before(cfg.End); {
		batch, err := ex.Candles(ctx, cfg.Symbol, cfg.Interval, cursor, cfg.End, maxCandlesPerFetch)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
		last := batch[len(batch)-1]
		next := time.UnixMilli(last.OpenTime).Add(step)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	if len(out) == 0 {
		return nil, &core.NoDataError{Symbol: cfg.Symbol, Start: cfg.Start, End: cfg.End}
	}
	return out, nil
}

func intervalStep(interval string) time.Duration {
	if dur, err := core.IntervalDuration(interval); err == nil && dur > 0 {
		return dur
	}
	return time.Hour
}

// coversWindow is a cheap completeness check: the cached range must reach
// both ends of the requested window within one interval.
func coversWindow(candles []core.Candle, start, end time.Time, interval string) bool {
	if len(candles) == 0 {
		return false
	}
	step := intervalStep(interval)
	first := time.UnixMilli(candles[0].OpenTime)
	last := time.UnixMilli(candles[len(candles)-1].OpenTime)
	return !first.After(start.Add(step)) && !last.Before(end.Add(-2*step))
}
