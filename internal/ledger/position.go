package ledger

import (
	"sync"
	"time"

	"velora/internal/core"
)

// Position is the open exposure on one symbol. Side Buy means long.
type Position struct {
	Symbol      string    `json:"symbol"`
	Side        core.Side `json:"side"`
	Quantity    float64   `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	MarkPrice   float64   `json:"mark_price"`
	Leverage    float64   `json:"leverage"`
	Margin      float64   `json:"margin"`
	RealizedPnL float64   `json:"realized_pnl"`
	Commission  float64   `json:"commission"`
	OpenedAt    time.Time `json:"opened_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	closedQuantity float64
	closedNotional float64
}

// UnrealizedPnL is mark-to-market profit on the open quantity.
func (p *Position) UnrealizedPnL() float64 {
	return (p.MarkPrice - p.EntryPrice) * p.Quantity * p.Side.Sign()
}

// Notional is the open quantity valued at the mark price.
func (p *Position) Notional() float64 {
	return p.Quantity * p.MarkPrice
}

// Trade is a completed round trip on one symbol. PnL is net of commission.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Side       core.Side `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
}

// HoldingDuration is the time between entry and exit.
func (t Trade) HoldingDuration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// Book tracks open positions and completed trades. Symbols keep first-touch
// order so listings are reproducible.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
	symbols   []string
	trades    []Trade
}

func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// ApplyFill folds one fill into the book. A fill in the position's direction
// grows it at a volume-weighted entry price; a fill against it reduces it,
// realizing PnL, and flips the position if the fill quantity exceeds the
// open quantity. It returns the gross realized PnL delta and, when the fill
// flattens or flips the position, the completed trade.
func (b *Book) ApplyFill(f Fill, leverage float64) (float64, *Trade) {
	if leverage <= 0 {
		leverage = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[f.Symbol]
	if !ok {
		b.open(f, f.Quantity, f.Commission, leverage)
		return 0, nil
	}

	if p.Side == f.Side {
		// Same direction: grow at volume-weighted entry.
		newQty := p.Quantity + f.Quantity
		p.EntryPrice = (p.EntryPrice*p.Quantity + f.Price*f.Quantity) / newQty
		p.Quantity = newQty
		p.Margin += f.Notional() / leverage
		p.Commission += f.Commission
		p.MarkPrice = f.Price
		p.UpdatedAt = f.Timestamp
		return 0, nil
	}

	closeQty := f.Quantity
	if closeQty > p.Quantity {
		closeQty = p.Quantity
	}
	realized := (f.Price - p.EntryPrice) * closeQty * p.Side.Sign()
	closeFrac := closeQty / f.Quantity
	p.RealizedPnL += realized
	p.Commission += f.Commission * closeFrac
	p.Margin *= (p.Quantity - closeQty) / p.Quantity
	p.Quantity -= closeQty
	p.closedQuantity += closeQty
	p.closedNotional += closeQty * f.Price
	p.MarkPrice = f.Price
	p.UpdatedAt = f.Timestamp

	if p.Quantity > qtyEpsilon {
		return realized, nil
	}

	trade := Trade{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   p.closedQuantity,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.closedNotional / p.closedQuantity,
		PnL:        p.RealizedPnL - p.Commission,
		Commission: p.Commission,
		EntryTime:  p.OpenedAt,
		ExitTime:   f.Timestamp,
	}
	b.trades = append(b.trades, trade)
	b.remove(f.Symbol)

	if remainder := f.Quantity - closeQty; remainder > qtyEpsilon {
		// Flip: the excess opens a fresh position in the fill's direction.
		b.open(f, remainder, f.Commission*(1-closeFrac), leverage)
	}
	return realized, &trade
}

func (b *Book) open(f Fill, qty, commission, leverage float64) {
	p := &Position{
		Symbol:     f.Symbol,
		Side:       f.Side,
		Quantity:   qty,
		EntryPrice: f.Price,
		MarkPrice:  f.Price,
		Leverage:   leverage,
		Margin:     qty * f.Price / leverage,
		Commission: commission,
		OpenedAt:   f.Timestamp,
		UpdatedAt:  f.Timestamp,
	}
	b.positions[f.Symbol] = p
	b.symbols = append(b.symbols, f.Symbol)
}

func (b *Book) remove(symbol string) {
	delete(b.positions, symbol)
	for i, s := range b.symbols {
		if s == symbol {
			b.symbols = append(b.symbols[:i], b.symbols[i+1:]...)
			return
		}
	}
}

// MarkPrice updates the mark on an open position, if any.
func (b *Book) MarkPrice(symbol string, price float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[symbol]; ok {
		p.MarkPrice = price
		p.UpdatedAt = ts
	}
}

func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// List returns open positions in first-touch order.
func (b *Book) List() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.symbols))
	for _, s := range b.symbols {
		out = append(out, *b.positions[s])
	}
	return out
}

func (b *Book) Trades() []Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

func (b *Book) TotalUnrealized() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sum float64
	for _, s := range b.symbols {
		sum += b.positions[s].UnrealizedPnL()
	}
	return sum
}

func (b *Book) TotalMargin() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sum float64
	for _, s := range b.symbols {
		sum += b.positions[s].Margin
	}
	return sum
}

// TotalNotional is the mark value of all open positions.
func (b *Book) TotalNotional() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sum float64
	for _, s := range b.symbols {
		sum += b.positions[s].Notional()
	}
	return sum
}
