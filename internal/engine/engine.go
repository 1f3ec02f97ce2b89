// Package engine runs the live trading loop. A single event-driven actor
// owns the ledger and portfolio; candles, venue order events and heartbeats
// are serialized through one channel so state is never touched concurrently.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"velora/internal/core"
	"velora/internal/exchange"
	"velora/internal/execution"
	"velora/internal/ledger"
	"velora/internal/logger"
	"velora/internal/risk"
	"velora/internal/strategy"
)

// OrderRouter is the slice of the live router the engine drives. Satisfied
// by *execution.Router.
type OrderRouter interface {
	SetEventHandler(h execution.EventHandler)
	Start(ctx context.Context) error
	Submit(ctx context.Context, o *ledger.Order, refPrice float64) (exchange.OrderAck, error)
	Cancel(ctx context.Context, symbol, venueOrderID string) error
}

// Config parameterizes a live engine run.
type Config struct {
	Symbol         string        `mapstructure:"symbol" yaml:"symbol"`
	Interval       string        `mapstructure:"interval" yaml:"interval"`
	InitialCapital float64       `mapstructure:"initial_capital" yaml:"initial_capital"`
	Leverage       float64       `mapstructure:"leverage" yaml:"leverage"`
	Heartbeat      time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	OrderTimeout   time.Duration `mapstructure:"order_timeout" yaml:"order_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

func (c *Config) applyDefaults() {
	if c.Interval == "" {
		c.Interval = "1h"
	}
	if c.InitialCapital <= 0 {
		c.InitialCapital = 10_000
	}
	if c.Leverage <= 0 {
		c.Leverage = 1
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 5 * time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
}

// Snapshot is the read-only view published to the monitoring surface. It is
// rebuilt inside the event loop and swapped atomically, so readers never
// block trading.
type Snapshot struct {
	Running      bool                  `json:"running"`
	Strategy     string                `json:"strategy"`
	Symbol       string                `json:"symbol"`
	Portfolio    ledger.PortfolioState `json:"portfolio"`
	ActiveOrders []ledger.Order        `json:"active_orders"`
	Trades       []ledger.Trade        `json:"trades"`
	EquityCurve  []ledger.EquityPoint  `json:"equity_curve"`
	LastCandle   core.Candle           `json:"last_candle"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Engine is the live counterpart of the backtester. It reuses the same
// ledger, portfolio and admission path but routes orders to a venue and
// reconciles state from the venue's order stream.
type Engine struct {
	cfg    Config
	strat  strategy.Strategy
	router OrderRouter
	guard  *risk.Guard
	market exchange.MarketData

	ledger *ledger.Ledger
	pf     *ledger.Portfolio

	lastCandle core.Candle
	lastOpen   int64

	msgCh  chan envelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool

	live atomic.Bool

	snapshot         atomic.Value
	snapshotThrottle time.Duration
	lastSnapshot     time.Time
}

// New builds an engine. market may be nil when candles are fed externally
// through HandleCandle.
func New(cfg Config, strat strategy.Strategy, router OrderRouter, guard *risk.Guard, market exchange.MarketData) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:              cfg,
		strat:            strat,
		router:           router,
		guard:            guard,
		market:           market,
		ledger:           ledger.NewLedger(),
		pf:               ledger.NewPortfolio(cfg.InitialCapital, cfg.Leverage),
		msgCh:            make(chan envelope, 100),
		stopCh:           make(chan struct{}),
		snapshotThrottle: 50 * time.Millisecond,
	}
	e.refreshSnapshot(false)
	return e
}

// Start wires the router's event stream into the loop and launches the
// loop, heartbeat and candle poller goroutines.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return core.ErrAlreadyRunning
	}
	if e.stopped {
		return fmt.Errorf("engine cannot be restarted")
	}

	e.router.SetEventHandler(func(evt exchange.OrderEvent) {
		if err := e.send(envelope{Type: evtOrderEvent, Payload: orderEventPayload{Event: evt}}); err != nil {
			logger.Warnf("order event for %s dropped: %v", evt.ClientOrderID, err)
		}
	})
	if err := e.router.Start(ctx); err != nil {
		return fmt.Errorf("start order router: %w", err)
	}

	e.running = true
	e.live.Store(true)
	e.wg.Add(2)
	go e.runLoop()
	go e.heartbeatLoop(ctx)
	if e.market != nil {
		e.wg.Add(1)
		go e.pollLoop(ctx)
	}
	logger.Infof("engine started: strategy=%s symbol=%s interval=%s", e.strat.Name(), e.cfg.Symbol, e.cfg.Interval)
	return nil
}

// Stop drains the loop and waits for all goroutines to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return core.ErrNotRunning
	}
	close(e.stopCh)
	e.wg.Wait()
	e.running = false
	e.stopped = true
	e.live.Store(false)
	e.refreshSnapshot(true)
	logger.Infof("engine stopped")
	return nil
}

// HandleCandle injects one closed candle and waits for it to be processed.
func (e *Engine) HandleCandle(ctx context.Context, c core.Candle) error {
	return e.sendSync(ctx, envelope{Type: evtCandle, Payload: candlePayload{Candle: c}})
}

// CancelOrder asks the venue to cancel an active order and marks it
// cancelled in the ledger.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	return e.sendSync(ctx, envelope{Type: evtCancel, Payload: cancelPayload{OrderID: orderID}})
}

// Snapshot returns the most recently published state view.
func (e *Engine) Snapshot() Snapshot {
	val := e.snapshot.Load()
	if val == nil {
		return Snapshot{}
	}
	return val.(Snapshot)
}

func (e *Engine) send(evt envelope) error {
	select {
	case e.msgCh <- evt:
		return nil
	case <-e.stopCh:
		return core.ErrNotRunning
	}
}

func (e *Engine) sendSync(ctx context.Context, evt envelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := e.send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return core.ErrNotRunning
	}
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	for {
		select {
		case evt := <-e.msgCh:
			e.handleEvent(evt)
		case <-e.stopCh:
			e.drain()
			e.cancelOpenOrders()
			return
		}
	}
}

// drain processes whatever was already queued when Stop was called so
// in-flight fills are not lost.
func (e *Engine) drain() {
	for {
		select {
		case evt := <-e.msgCh:
			e.handleEvent(evt)
		default:
			return
		}
	}
}

func (e *Engine) handleEvent(evt envelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine panic handling %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("slow event %s took %v", evt.Type, dur)
		}
	}()

	switch p := evt.Payload.(type) {
	case candlePayload:
		err = e.handleCandle(p.Candle)
	case orderEventPayload:
		e.handleOrderEvent(p.Event)
	case heartbeatPayload:
		e.handleHeartbeat(p)
	case cancelPayload:
		err = e.handleCancel(p.OrderID)
	default:
		logger.Warnf("no handler for event type %s", evt.Type)
	}
	if err != nil {
		logger.Errorf("engine failed to handle %s: %v", evt.Type, err)
	}
}

func (e *Engine) handleCandle(c core.Candle) error {
	if c.OpenTime <= e.lastOpen && e.lastOpen != 0 {
		return nil
	}
	e.lastOpen = c.OpenTime
	e.lastCandle = c
	ts := c.CloseAt()

	e.pf.MarkToMarket(c.Symbol, c.Close, ts)

	signals, err := e.strat.OnCandle(strategy.Context{Candle: c, Portfolio: e.pf.State()})
	if err != nil {
		return fmt.Errorf("strategy %s: %w", e.strat.Name(), err)
	}
	for _, sig := range signals {
		e.placeSignal(sig, c.Close, ts)
	}

	e.pf.Sample(ts)
	e.refreshSnapshot(false)
	return nil
}

func (e *Engine) placeSignal(sig strategy.Signal, refPrice float64, ts time.Time) {
	order, ok := e.orderFromSignal(sig, ts)
	if !ok {
		return
	}
	if err := e.guard.Admit(order, refPrice, e.pf, ts); err != nil {
		logger.Warnf("order rejected (%s %s %v %s): %v", order.Side, order.Type, order.Quantity, order.Symbol, err)
		return
	}
	if err := e.ledger.Create(order); err != nil {
		e.pf.Release(order.ID)
		logger.Errorf("order create failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ack, err := e.router.Submit(ctx, order, refPrice)
	if err != nil {
		e.pf.Release(order.ID)
		if uerr := e.ledger.Apply(ledger.OrderUpdate{
			OrderID:   order.ID,
			Status:    core.StatusFailed,
			Reason:    err.Error(),
			Timestamp: ts,
		}); uerr != nil {
			logger.Errorf("order %s failure transition: %v", order.ID, uerr)
		}
		logger.Errorf("order submit failed: %v", err)
		return
	}
	if err := e.ledger.MarkSubmitted(order.ID, ack.VenueOrderID, ts); err != nil {
		logger.Errorf("order %s submit transition failed: %v", order.ID, err)
	}
}

func (e *Engine) orderFromSignal(sig strategy.Signal, ts time.Time) (*ledger.Order, bool) {
	if sig.Action == strategy.ActionHold || sig.Quantity <= 0 {
		return nil, false
	}
	id := uuid.NewString()

	var side core.Side
	reduceOnly := false
	switch sig.Action {
	case strategy.ActionBuy:
		side = core.Buy
	case strategy.ActionSell:
		side = core.Sell
	case strategy.ActionClose:
		pos, ok := e.pf.Book().Get(sig.Symbol)
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

// handleOrderEvent reconciles a venue update into the ledger and portfolio.
// ClientOrderID carries our order ID, so matching is direct.
func (e *Engine) handleOrderEvent(evt exchange.OrderEvent) {
	order, err := e.ledger.Get(evt.ClientOrderID)
	if err != nil {
		logger.Warnf("order event for unknown order %s (venue %s)", evt.ClientOrderID, evt.VenueOrderID)
		return
	}

	update := ledger.OrderUpdate{
		OrderID:        order.ID,
		Status:         evt.Status,
		FilledQuantity: evt.FilledQuantity,
		AvgFillPrice:   evt.AvgFillPrice,
		Reason:         evt.Reason,
		Timestamp:      evt.Timestamp,
	}
	if err := e.ledger.Apply(update); err != nil {
		logger.Warnf("venue update for order %s rejected: %v", order.ID, err)
		return
	}
	if evt.Status.IsTerminal() {
		e.pf.Release(order.ID)
	}
	if evt.LastFillQuantity > 0 {
		e.pf.ApplyFill(ledger.Fill{
			OrderID:    order.ID,
			Symbol:     evt.Symbol,
			Side:       evt.Side,
			Quantity:   evt.LastFillQuantity,
			Price:      evt.LastFillPrice,
			Commission: evt.Commission,
			Timestamp:  evt.Timestamp,
		})
		e.pf.MarkToMarket(evt.Symbol, evt.LastFillPrice, evt.Timestamp)
	}
	e.refreshSnapshot(false)
}

// handleHeartbeat marks positions to the latest price, samples the equity
// curve and fails orders the venue never acknowledged filling.
func (e *Engine) handleHeartbeat(p heartbeatPayload) {
	if p.Price > 0 {
		e.pf.MarkToMarket(e.cfg.Symbol, p.Price, p.Now)
	}
	e.pf.Sample(p.Now)
	e.expireStaleOrders(p.Now)
	e.refreshSnapshot(false)
}

func (e *Engine) expireStaleOrders(now time.Time) {
	for _, o := range e.ledger.Active() {
		if o.Status != core.StatusSubmitted || now.Sub(o.UpdatedAt) < e.cfg.OrderTimeout {
			continue
		}
		logger.Warnf("order %s timed out after %v, failing and releasing capital", o.ID, e.cfg.OrderTimeout)
		if err := e.ledger.Apply(ledger.OrderUpdate{
			OrderID:   o.ID,
			Status:    core.StatusFailed,
			Reason:    "order timed out",
			Timestamp: now,
		}); err != nil {
			logger.Errorf("order %s timeout transition: %v", o.ID, err)
			continue
		}
		e.pf.Release(o.ID)
		if o.VenueOrderID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.router.Cancel(ctx, o.Symbol, o.VenueOrderID); err != nil {
				logger.Warnf("best effort cancel of timed out order %s: %v", o.ID, err)
			}
			cancel()
		}
	}
}

// cancelOpenOrders sweeps the ledger on shutdown so no working order is left
// on the venue after the loop exits. Each cancel gets a bounded wait and
// failures are logged, not retried.
func (e *Engine) cancelOpenOrders() {
	for _, o := range e.ledger.Active() {
		if err := e.handleCancel(o.ID); err != nil {
			logger.Warnf("shutdown cancel of order %s: %v", o.ID, err)
			continue
		}
		logger.Infof("cancelled order %s on shutdown", o.ID)
	}
}

func (e *Engine) handleCancel(orderID string) error {
	order, err := e.ledger.Cancel(orderID)
	if err != nil {
		return err
	}
	if order.VenueOrderID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.router.Cancel(ctx, order.Symbol, order.VenueOrderID); err != nil {
			return fmt.Errorf("venue cancel for order %s: %w", orderID, err)
		}
	}
	if err := e.ledger.Apply(ledger.OrderUpdate{
		OrderID:   orderID,
		Status:    core.StatusCancelled,
		Reason:    "cancelled by operator",
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}
	e.pf.Release(orderID)
	e.refreshSnapshot(true)
	return nil
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			price := e.fetchPrice(ctx)
			evt := envelope{Type: evtHeartbeat, Payload: heartbeatPayload{Price: price, Now: time.Now()}}
			if err := e.send(evt); err != nil {
				return
			}
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// fetchPrice is best effort. A zero return skips mark to market on that
// heartbeat; the last candle close still anchors equity.
func (e *Engine) fetchPrice(ctx context.Context) float64 {
	if e.market == nil {
		return 0
	}
	tctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ticker, err := e.market.Ticker(tctx, e.cfg.Symbol)
	if err != nil {
		logger.Warnf("ticker fetch for %s: %v", e.cfg.Symbol, err)
		return 0
	}
	return ticker.Last
}

// pollLoop fetches recent candles and forwards closed ones the loop has not
// seen. Deduplication happens in handleCandle on open time.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.pollCandles(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) pollCandles(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	step := time.Hour
	if dur, err := core.IntervalDuration(e.cfg.Interval); err == nil && dur > 0 {
		step = dur
	}
	end := time.Now()
	start := end.Add(-3 * step)
	candles, err := e.market.Candles(tctx, e.cfg.Symbol, e.cfg.Interval, start, end, 5)
	if err != nil {
		logger.Warnf("candle poll for %s %s: %v", e.cfg.Symbol, e.cfg.Interval, err)
		return
	}
	now := time.Now()
	for _, c := range candles {
		if c.CloseAt().After(now) {
			continue // still forming
		}
		if err := e.send(envelope{Type: evtCandle, Payload: candlePayload{Candle: c}}); err != nil {
			return
		}
	}
}

func (e *Engine) refreshSnapshot(force bool) {
	if !force && e.snapshotThrottle > 0 && !e.lastSnapshot.IsZero() {
		if time.Since(e.lastSnapshot) < e.snapshotThrottle {
			return
		}
	}

	active := e.ledger.Active()
	orders := make([]ledger.Order, 0, len(active))
	for _, o := range active {
		orders = append(orders, *o)
	}

	snap := Snapshot{
		Running:      e.live.Load(),
		Strategy:     e.stratName(),
		Symbol:       e.cfg.Symbol,
		Portfolio:    e.pf.State(),
		ActiveOrders: orders,
		Trades:       e.pf.Trades(),
		EquityCurve:  e.pf.EquityCurve(),
		LastCandle:   e.lastCandle,
		UpdatedAt:    time.Now(),
	}
	e.snapshot.Store(snap)
	e.lastSnapshot = time.Now()
}

func (e *Engine) stratName() string {
	if e.strat == nil {
		return ""
	}
	return e.strat.Name()
}
