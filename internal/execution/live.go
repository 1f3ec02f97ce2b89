package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"velora/internal/core"
	"velora/internal/exchange"
	"velora/internal/ledger"
	"velora/internal/logger"
	"velora/internal/pkg/circuit"
)

// LiveConfig parameterizes the live order router.
type LiveConfig struct {
	DryRun           bool          `mapstructure:"dry_run" yaml:"dry_run"`
	CommissionRate   float64       `mapstructure:"commission_rate" yaml:"commission_rate"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

func (c *LiveConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// EventHandler receives order events from the venue stream (or synthetic
// ones in dry-run mode).
type EventHandler func(exchange.OrderEvent)

// Router forwards orders to a venue, throttled by the venue's rate limiter
// and shielded by a circuit breaker. Transport errors are retried with
// exponential backoff; venue rejections are not.
type Router struct {
	ex      exchange.Exchange
	limiter *exchange.RateLimiter
	breaker *circuit.Breaker
	cfg     LiveConfig
	handler EventHandler
}

func NewRouter(ex exchange.Exchange, limiter *exchange.RateLimiter, cfg LiveConfig) *Router {
	cfg.applyDefaults()
	return &Router{
		ex:      ex,
		limiter: limiter,
		breaker: circuit.NewBreaker(ex.Name(), cfg.BreakerThreshold, cfg.BreakerCooldown),
		cfg:     cfg,
	}
}

// SetEventHandler installs the sink for asynchronous order events. Must be
// called before Start.
func (r *Router) SetEventHandler(h EventHandler) { r.handler = h }

// Start pumps the venue's order stream into the event handler until the
// context ends, resubscribing when the stream drops. Dry-run needs no
// stream; Start returns immediately.
func (r *Router) Start(ctx context.Context) error {
	if r.cfg.DryRun {
		logger.Infof("dry run: orders will be acknowledged locally, nothing is sent to %s", r.ex.Name())
		return nil
	}
	events, err := r.ex.StreamOrderEvents(ctx)
	if err != nil {
		return err
	}
	go r.pump(ctx, events)
	return nil
}

func (r *Router) pump(ctx context.Context, events <-chan exchange.OrderEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Stream dropped. Back off and resubscribe.
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.cfg.RetryBackoff):
				}
				next, err := r.ex.StreamOrderEvents(ctx)
				if err != nil {
					logger.Errorf("order stream resubscribe failed: %v", err)
					continue
				}
				logger.Infof("order stream resubscribed")
				events = next
				continue
			}
			if r.handler != nil {
				r.handler(ev)
			}
		}
	}
}

// Submit places the order at the venue and returns the venue's ack. In
// dry-run mode nothing leaves the process: the order is acknowledged and a
// synthetic fill at refPrice is emitted.
func (r *Router) Submit(ctx context.Context, o *ledger.Order, refPrice float64) (exchange.OrderAck, error) {
	if r.cfg.DryRun {
		return r.dryRunFill(o, refPrice)
	}
	if !r.breaker.Allow() {
		return exchange.OrderAck{}, core.ErrCircuitOpen
	}
	req := exchange.OrderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Quantity:      o.RemainingQuantity(),
		Price:         o.LimitPrice,
		StopPrice:     o.StopPrice,
		ReduceOnly:    o.ReduceOnly,
		ClientOrderID: o.ID,
	}
	var ack exchange.OrderAck
	err := r.withRetries(ctx, "place order", func() error {
		if err := r.limiter.WaitOrder(ctx); err != nil {
			return err
		}
		var placeErr error
		ack, placeErr = r.ex.PlaceOrder(ctx, req)
		return placeErr
	})
	return ack, err
}

// Cancel asks the venue to cancel the order.
func (r *Router) Cancel(ctx context.Context, symbol, venueOrderID string) error {
	if r.cfg.DryRun {
		logger.Infof("dry run: cancel %s %s", symbol, venueOrderID)
		return nil
	}
	if !r.breaker.Allow() {
		return core.ErrCircuitOpen
	}
	return r.withRetries(ctx, "cancel order", func() error {
		if err := r.limiter.WaitOrder(ctx); err != nil {
			return err
		}
		return r.ex.CancelOrder(ctx, symbol, venueOrderID)
	})
}

// Modify amends a resting order's price and quantity at the venue.
func (r *Router) Modify(ctx context.Context, symbol, venueOrderID string, price, quantity float64) (exchange.OrderAck, error) {
	if r.cfg.DryRun {
		logger.Infof("dry run: modify %s %s price=%v qty=%v", symbol, venueOrderID, price, quantity)
		return exchange.OrderAck{VenueOrderID: venueOrderID, Status: core.StatusSubmitted, Timestamp: time.Now().UTC()}, nil
	}
	if !r.breaker.Allow() {
		return exchange.OrderAck{}, core.ErrCircuitOpen
	}
	var ack exchange.OrderAck
	err := r.withRetries(ctx, "modify order", func() error {
		if err := r.limiter.WaitOrder(ctx); err != nil {
			return err
		}
		var modErr error
		ack, modErr = r.ex.ModifyOrder(ctx, symbol, venueOrderID, price, quantity)
		return modErr
	})
	return ack, err
}

// withRetries runs fn, retrying transport failures with exponential backoff.
// Venue rejections and context errors fail immediately.
func (r *Router) withRetries(ctx context.Context, op string, fn func() error) error {
	backoff := r.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		lastErr = fn()
		if lastErr == nil {
			r.breaker.RecordSuccess()
			return nil
		}
		var connErr *core.ConnectionError
		if !errors.As(lastErr, &connErr) {
			// Definitive answer from the venue, retrying cannot help.
			r.breaker.RecordFailure()
			return lastErr
		}
		logger.Warnf("%s attempt %d/%d failed: %v", op, attempt+1, r.cfg.MaxRetries, lastErr)
	}
	r.breaker.RecordFailure()
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// dryRunFill acknowledges the order and synthesizes an immediate full fill.
func (r *Router) dryRunFill(o *ledger.Order, refPrice float64) (exchange.OrderAck, error) {
	price := refPrice
	if o.Type == core.OrderTypeLimit && o.LimitPrice > 0 {
		price = o.LimitPrice
	}
	if price <= 0 {
		return exchange.OrderAck{}, &core.InvalidOrderError{Reason: "dry run needs a reference price"}
	}
	now := time.Now().UTC()
	venueID := "dry-" + o.ID
	logger.Infof("dry run: %s %s %v %s @ %.4f", o.Side, o.Type, o.Quantity, o.Symbol, price)
	if r.handler != nil {
		qty := o.RemainingQuantity()
		r.handler(exchange.OrderEvent{
			VenueOrderID:     venueID,
			ClientOrderID:    o.ID,
			Symbol:           o.Symbol,
			Side:             o.Side,
			Status:           core.StatusFilled,
			FilledQuantity:   o.Quantity,
			AvgFillPrice:     price,
			LastFillQuantity: qty,
			LastFillPrice:    price,
			Commission:       r.cfg.CommissionRate * qty * price,
			Timestamp:        now,
		})
	}
	return exchange.OrderAck{VenueOrderID: venueID, Status: core.StatusSubmitted, Timestamp: now}, nil
}
