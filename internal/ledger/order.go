// Package ledger tracks orders, fills, positions and cash for the execution
// core. A single Ledger instance is the system of record for one run; both
// the simulated and the live execution paths write through it.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"velora/internal/core"
)

const qtyEpsilon = 1e-9

// Order is one instruction to trade. Mutations go through the Ledger so the
// lifecycle state machine is enforced in one place.
type Order struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	Side           core.Side        `json:"side"`
	Type           core.OrderType   `json:"type"`
	Quantity       float64          `json:"quantity"`
	LimitPrice     float64          `json:"limit_price,omitempty"`
	StopPrice      float64          `json:"stop_price,omitempty"`
	ReduceOnly     bool             `json:"reduce_only,omitempty"`
	Status         core.OrderStatus `json:"status"`
	FilledQuantity float64          `json:"filled_quantity"`
	AvgFillPrice   float64          `json:"avg_fill_price"`
	VenueOrderID   string           `json:"venue_order_id,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func NewMarketOrder(id, symbol string, side core.Side, quantity float64, now time.Time) *Order {
	return &Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Type:      core.OrderTypeMarket,
		Quantity:  quantity,
		Status:    core.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewLimitOrder(id, symbol string, side core.Side, quantity, limitPrice float64, now time.Time) *Order {
	o := NewMarketOrder(id, symbol, side, quantity, now)
	o.Type = core.OrderTypeLimit
	o.LimitPrice = limitPrice
	return o
}

// RemainingQuantity is the unfilled part of the order.
func (o *Order) RemainingQuantity() float64 {
	r := o.Quantity - o.FilledQuantity
	if r < 0 {
		return 0
	}
	return r
}

func (o *Order) Validate() error {
	if o.ID == "" {
		return &core.InvalidOrderError{Reason: "empty order id"}
	}
	if o.Symbol == "" {
		return &core.InvalidOrderError{Reason: "empty symbol"}
	}
	if o.Side != core.Buy && o.Side != core.Sell {
		return &core.InvalidOrderError{Reason: fmt.Sprintf("unknown side %q", o.Side)}
	}
	if o.Quantity <= 0 {
		return &core.InvalidOrderError{Reason: fmt.Sprintf("quantity must be positive, got %v", o.Quantity)}
	}
	switch o.Type {
	case core.OrderTypeMarket:
	case core.OrderTypeLimit:
		if o.LimitPrice <= 0 {
			return &core.InvalidOrderError{Reason: "limit order requires a positive limit price"}
		}
	case core.OrderTypeStopMarket:
		if o.StopPrice <= 0 {
			return &core.InvalidOrderError{Reason: "stop order requires a positive stop price"}
		}
	case core.OrderTypeStopLimit:
		if o.StopPrice <= 0 || o.LimitPrice <= 0 {
			return &core.InvalidOrderError{Reason: "stop-limit order requires positive stop and limit prices"}
		}
	default:
		return &core.InvalidOrderError{Reason: fmt.Sprintf("unknown order type %q", o.Type)}
	}
	return nil
}

// OrderUpdate carries one lifecycle transition. FilledQuantity is cumulative.
type OrderUpdate struct {
	OrderID        string
	Status         core.OrderStatus
	FilledQuantity float64
	AvgFillPrice   float64
	Reason         string
	Timestamp      time.Time
}

// Ledger is the system of record for orders. Active orders keep insertion
// order so iteration is reproducible across runs.
type Ledger struct {
	mu      sync.RWMutex
	orders  map[string]*Order
	active  []string
	history []OrderUpdate
}

func NewLedger() *Ledger {
	return &Ledger{orders: make(map[string]*Order)}
}

// Create registers a pending order. The order must validate and the id must
// be unused.
func (l *Ledger) Create(o *Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.Status != core.StatusPending {
		return &core.InvalidOrderError{Reason: fmt.Sprintf("new order must be pending, got %s", o.Status)}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[o.ID]; ok {
		return &core.InvalidOrderError{Reason: fmt.Sprintf("duplicate order id %s", o.ID)}
	}
	cp := *o
	l.orders[o.ID] = &cp
	l.active = append(l.active, o.ID)
	return nil
}

// MarkSubmitted transitions a pending order to submitted, recording the id
// assigned by the venue.
func (l *Ledger) MarkSubmitted(id, venueOrderID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", core.ErrOrderTerminal, id, o.Status)
	}
	if !o.Status.CanTransition(core.StatusSubmitted) {
		return &core.InvalidOrderError{Reason: fmt.Sprintf("cannot submit order %s in status %s", id, o.Status)}
	}
	o.Status = core.StatusSubmitted
	o.VenueOrderID = venueOrderID
	o.UpdatedAt = now
	l.history = append(l.history, OrderUpdate{OrderID: id, Status: core.StatusSubmitted, Timestamp: now})
	return nil
}

// Apply replays one update onto the order it targets. Updates for terminal
// orders, illegal transitions and regressing fill quantities are rejected.
func (l *Ledger) Apply(u OrderUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[u.OrderID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrOrderNotFound, u.OrderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", core.ErrOrderTerminal, u.OrderID, o.Status)
	}
	if !o.Status.CanTransition(u.Status) {
		return &core.InvalidOrderError{
			Reason: fmt.Sprintf("illegal transition %s -> %s for order %s", o.Status, u.Status, u.OrderID),
		}
	}
	switch u.Status {
	case core.StatusPartiallyFilled, core.StatusFilled:
		if u.FilledQuantity < o.FilledQuantity-qtyEpsilon {
			return &core.InvalidOrderError{
				Reason: fmt.Sprintf("filled quantity regressed on order %s: %v -> %v", u.OrderID, o.FilledQuantity, u.FilledQuantity),
			}
		}
		if u.FilledQuantity > o.Quantity+qtyEpsilon {
			return &core.InvalidOrderError{
				Reason: fmt.Sprintf("overfill on order %s: %v of %v", u.OrderID, u.FilledQuantity, o.Quantity),
			}
		}
		if u.Status == core.StatusFilled && u.FilledQuantity < o.Quantity-qtyEpsilon {
			return &core.InvalidOrderError{
				Reason: fmt.Sprintf("order %s marked filled with %v of %v", u.OrderID, u.FilledQuantity, o.Quantity),
			}
		}
		o.FilledQuantity = u.FilledQuantity
		if u.AvgFillPrice > 0 {
			o.AvgFillPrice = u.AvgFillPrice
		}
	}
	o.Status = u.Status
	if u.Reason != "" {
		o.Reason = u.Reason
	}
	if !u.Timestamp.IsZero() {
		o.UpdatedAt = u.Timestamp
	}
	if o.Status.IsTerminal() {
		l.removeActive(u.OrderID)
	}
	l.history = append(l.history, u)
	return nil
}

// Cancel validates that the order may still be cancelled. It does not change
// state: the caller requests the cancel at the venue (or the simulator) and
// feeds the resulting update back through Apply.
func (l *Ledger) Cancel(id string) (*Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is %s", core.ErrOrderTerminal, id, o.Status)
	}
	cp := *o
	return &cp, nil
}

func (l *Ledger) removeActive(id string) {
	for i, aid := range l.active {
		if aid == id {
			l.active = append(l.active[:i], l.active[i+1:]...)
			return
		}
	}
}

func (l *Ledger) Get(id string) (*Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

// Active returns non-terminal orders in creation order.
func (l *Ledger) Active() []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Order, 0, len(l.active))
	for _, id := range l.active {
		cp := *l.orders[id]
		out = append(out, &cp)
	}
	return out
}

// Pending returns active orders not yet acknowledged by a venue, in
// creation order.
func (l *Ledger) Pending() []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Order
	for _, id := range l.active {
		if o := l.orders[id]; o.Status == core.StatusPending {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// All returns every order ever created, sorted by creation time then id.
func (l *Ledger) All() []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Order, 0, len(l.orders))
	for _, o := range l.orders {
		cp := *o
		out = append(out, &cp)
	}
	sortOrders(out)
	return out
}

// Completed returns terminal orders, sorted by creation time then id.
func (l *Ledger) Completed() []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Order
	for _, o := range l.orders {
		if o.Status.IsTerminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortOrders(out)
	return out
}

// BySymbol returns every order on the symbol, sorted by creation time then id.
func (l *Ledger) BySymbol(symbol string) []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Order
	for _, o := range l.orders {
		if o.Symbol == symbol {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortOrders(out)
	return out
}

// History returns the applied updates in order, the ledger's audit trail.
func (l *Ledger) History() []OrderUpdate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]OrderUpdate, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

func sortOrders(orders []*Order) {
	// Stable ordering for reports and replay comparison.
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0; j-- {
			a, b := orders[j-1], orders[j]
			if a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID <= b.ID) {
				break
			}
			orders[j-1], orders[j] = b, a
		}
	}
}
