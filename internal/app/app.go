// Package app wires configuration into runnable services. It owns the
// lifecycle of the store, the exchange adapter and the trading services so
// main stays a thin argument parser.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"velora/internal/config"
	"velora/internal/engine"
	"velora/internal/exchange"
	_ "velora/internal/exchange/binance"
	"velora/internal/execution"
	"velora/internal/logger"
	"velora/internal/risk"
	"velora/internal/strategy"
	monitorhttp "velora/internal/transport/http"
)

// App is the application-level orchestrator.
type App struct {
	cfg *config.Config
}

// New builds an app from loaded configuration. Nothing is started yet.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetJSON(cfg.App.LogJSON)
	return &App{cfg: cfg}, nil
}

// RunLive connects the exchange, starts the engine and serves the
// monitoring API until ctx is cancelled.
func (a *App) RunLive(ctx context.Context) error {
	cfg := a.cfg

	ex, err := exchange.New(cfg.Exchange)
	if err != nil {
		return fmt.Errorf("building exchange adapter: %w", err)
	}
	if err := ex.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Exchange.Name, err)
	}
	defer ex.Close()

	strat, err := strategy.New(cfg.Strategy.Name, cfg.Strategy.Params())
	if err != nil {
		return err
	}

	limits := cfg.Risk.Limits
	if cfg.Risk.LimitsFile != "" {
		loaded, err := risk.LoadLimits(cfg.Risk.LimitsFile)
		if err != nil {
			return fmt.Errorf("loading risk limits: %w", err)
		}
		limits = loaded
	}
	guard := risk.NewGuard(limits, cfg.Router.CommissionRate)

	router := execution.NewRouter(ex, exchange.ForVenue(cfg.Exchange.Name), cfg.Router)
	eng := engine.New(cfg.Live, strat, router, guard, ex)

	srv, err := monitorhttp.NewServer(cfg.App.HTTPAddr, eng)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("monitor http server: %w", err)
		}
		return nil
	})

	if cfg.Risk.LimitsFile != "" {
		group.Go(func() error {
			if err := risk.Watch(ctx, cfg.Risk.LimitsFile, guard); err != nil && ctx.Err() == nil {
				return fmt.Errorf("risk limits watcher: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		<-ctx.Done()
		return eng.Stop()
	})

	logger.Infof("live trading started: venue=%s strategy=%s symbol=%s dry_run=%v",
		cfg.Exchange.Name, cfg.Strategy.Name, cfg.Live.Symbol, cfg.Router.DryRun)
	return group.Wait()
}
