// Package execution turns admitted orders into fills. The Simulator replays
// orders against historical candles; the Router forwards them to a live
// venue. Both feed the same ledger types so accounting is identical in
// backtests and live trading.
package execution

import (
	"fmt"

	"velora/internal/core"
	"velora/internal/ledger"
)

// FillModel selects how the simulator prices executions.
type FillModel string

const (
	// FillModelMarket fills at the bar close with no slippage.
	FillModelMarket FillModel = "market"
	// FillModelRealistic applies slippage against the taker and can split
	// fills across bars when the order is large relative to bar volume.
	FillModelRealistic FillModel = "realistic"
	// FillModelPessimistic fills buys at the bar high and sells at the low.
	FillModelPessimistic FillModel = "pessimistic"
)

// SimConfig parameterizes the simulator.
type SimConfig struct {
	Model          FillModel
	CommissionRate float64
	// SlippageBps shifts realistic fills against the taker, in basis points.
	SlippageBps float64
	// LiquidityFraction caps a single fill at this share of the bar's
	// volume under the realistic model. 0 disables partial fills.
	LiquidityFraction float64
}

func (c SimConfig) validate() error {
	switch c.Model {
	case FillModelMarket, FillModelRealistic, FillModelPessimistic:
	case "":
		return fmt.Errorf("fill model not set")
	default:
		return fmt.Errorf("unknown fill model %q", c.Model)
	}
	if c.CommissionRate < 0 || c.SlippageBps < 0 || c.LiquidityFraction < 0 || c.LiquidityFraction > 1 {
		return fmt.Errorf("invalid simulator config: %+v", c)
	}
	return nil
}

// Execution pairs a fill with the lifecycle update it implies.
type Execution struct {
	Fill   ledger.Fill
	Update ledger.OrderUpdate
}

type simOrder struct {
	id        string
	symbol    string
	side      core.Side
	typ       core.OrderType
	quantity  float64
	filled    float64
	limit     float64
	stop      float64
	triggered bool

	fillNotional float64
}

func (o *simOrder) remaining() float64 { return o.quantity - o.filled }

func (o *simOrder) avgPrice() float64 {
	if o.filled <= 0 {
		return 0
	}
	return o.fillNotional / o.filled
}

// Simulator executes orders against candles. Pending orders are kept in
// submission order, so identical inputs always produce identical fills.
type Simulator struct {
	cfg     SimConfig
	pending []*simOrder
}

func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.Model == "" {
		cfg.Model = FillModelMarket
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg}, nil
}

// Submit accepts an order for execution on subsequent candles.
func (s *Simulator) Submit(o *ledger.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	for _, p := range s.pending {
		if p.id == o.ID {
			return &core.InvalidOrderError{Reason: fmt.Sprintf("order %s already pending", o.ID)}
		}
	}
	s.pending = append(s.pending, &simOrder{
		id:       o.ID,
		symbol:   o.Symbol,
		side:     o.Side,
		typ:      o.Type,
		quantity: o.Quantity,
		filled:   o.FilledQuantity,
		limit:    o.LimitPrice,
		stop:     o.StopPrice,
	})
	return nil
}

// Cancel removes a pending order and returns the cancellation update.
func (s *Simulator) Cancel(id string) (ledger.OrderUpdate, error) {
	for i, p := range s.pending {
		if p.id == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return ledger.OrderUpdate{
				OrderID:        id,
				Status:         core.StatusCancelled,
				FilledQuantity: p.filled,
				AvgFillPrice:   p.avgPrice(),
			}, nil
		}
	}
	return ledger.OrderUpdate{}, fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
}

// Modify adjusts the price and quantity of a pending order. Quantity below
// the already-filled amount is rejected.
func (s *Simulator) Modify(id string, price, quantity float64) error {
	for _, p := range s.pending {
		if p.id != id {
			continue
		}
		if quantity > 0 {
			if quantity < p.filled {
				return &core.InvalidOrderError{
					Reason: fmt.Sprintf("quantity %v below filled %v on order %s", quantity, p.filled, id),
				}
			}
			p.quantity = quantity
		}
		if price > 0 {
			switch p.typ {
			case core.OrderTypeLimit, core.OrderTypeStopLimit:
				p.limit = price
			case core.OrderTypeStopMarket:
				p.stop = price
			default:
				return &core.InvalidOrderError{Reason: "market orders cannot be modified"}
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
}

// PendingCount returns the number of orders awaiting execution.
func (s *Simulator) PendingCount() int { return len(s.pending) }

// PendingIDs returns the ids of orders awaiting execution, in submission
// order.
func (s *Simulator) PendingIDs() []string {
	ids := make([]string, 0, len(s.pending))
	for _, p := range s.pending {
		ids = append(ids, p.id)
	}
	return ids
}

// ProcessCandle executes pending orders against the candle and returns the
// executions in submission order.
func (s *Simulator) ProcessCandle(c core.Candle) []Execution {
	var out []Execution
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.symbol != c.Symbol {
			kept = append(kept, p)
			continue
		}
		exec, done := s.execute(p, c)
		if exec != nil {
			out = append(out, *exec)
		}
		if !done {
			kept = append(kept, p)
		}
	}
	s.pending = kept
	return out
}

// execute attempts one fill. It returns the execution (nil when the candle
// does not trigger the order) and whether the order left the book.
func (s *Simulator) execute(p *simOrder, c core.Candle) (*Execution, bool) {
	price, ok := s.fillPrice(p, c)
	if !ok {
		return nil, false
	}

	qty := p.remaining()
	if s.cfg.Model == FillModelRealistic && s.cfg.LiquidityFraction > 0 {
		if maxQty := c.Volume * s.cfg.LiquidityFraction; maxQty > 0 && qty > maxQty {
			qty = maxQty
		}
	}
	if qty <= 0 {
		return nil, true
	}

	fill := ledger.Fill{
		OrderID:    p.id,
		Symbol:     p.symbol,
		Side:       p.side,
		Quantity:   qty,
		Price:      price,
		Commission: s.cfg.CommissionRate * qty * price,
		Timestamp:  c.CloseAt(),
	}
	p.filled += qty
	p.fillNotional += qty * price

	status := core.StatusFilled
	if p.remaining() > 1e-9 {
		status = core.StatusPartiallyFilled
	}
	update := ledger.OrderUpdate{
		OrderID:        p.id,
		Status:         status,
		FilledQuantity: p.filled,
		AvgFillPrice:   p.avgPrice(),
		Timestamp:      fill.Timestamp,
	}
	return &Execution{Fill: fill, Update: update}, status == core.StatusFilled
}

// fillPrice decides whether the candle triggers the order and at what price.
func (s *Simulator) fillPrice(p *simOrder, c core.Candle) (float64, bool) {
	switch p.typ {
	case core.OrderTypeMarket:
		return s.marketPrice(p.side, c), true

	case core.OrderTypeLimit:
		// A buy fills once the bar trades at or below the limit;
		// a sell once it trades at or above.
		if p.side == core.Buy && c.Low <= p.limit {
			return p.limit, true
		}
		if p.side == core.Sell && c.High >= p.limit {
			return p.limit, true
		}
		return 0, false

	case core.OrderTypeStopMarket:
		if !s.stopTriggered(p, c) {
			return 0, false
		}
		return s.slip(p.side, p.stop), true

	case core.OrderTypeStopLimit:
		if !p.triggered && !s.stopTriggered(p, c) {
			return 0, false
		}
		p.triggered = true
		if p.side == core.Buy && c.Low <= p.limit {
			return p.limit, true
		}
		if p.side == core.Sell && c.High >= p.limit {
			return p.limit, true
		}
		return 0, false
	}
	return 0, false
}

func (s *Simulator) stopTriggered(p *simOrder, c core.Candle) bool {
	if p.side == core.Buy {
		return c.High >= p.stop
	}
	return c.Low <= p.stop
}

func (s *Simulator) marketPrice(side core.Side, c core.Candle) float64 {
	switch s.cfg.Model {
	case FillModelPessimistic:
		if side == core.Buy {
			return c.High
		}
		return c.Low
	case FillModelRealistic:
		return s.slip(side, c.Close)
	default:
		return c.Close
	}
}

// slip shifts the price against the taker under the realistic model.
func (s *Simulator) slip(side core.Side, price float64) float64 {
	if s.cfg.Model != FillModelRealistic || s.cfg.SlippageBps <= 0 {
		return price
	}
	adj := s.cfg.SlippageBps / 10_000
	if side == core.Buy {
		return price * (1 + adj)
	}
	return price * (1 - adj)
}
