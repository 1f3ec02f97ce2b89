package ledger

import (
	"fmt"
	"sync"
	"time"

	"velora/internal/core"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
}

// PortfolioState is a read-only snapshot handed to strategies and the
// monitoring surface.
type PortfolioState struct {
	InitialCapital float64    `json:"initial_capital"`
	Cash           float64    `json:"cash"`
	Available      float64    `json:"available"`
	Equity         float64    `json:"equity"`
	Margin         float64    `json:"margin"`
	UnrealizedPnL  float64    `json:"unrealized_pnl"`
	RealizedPnL    float64    `json:"realized_pnl"`
	Positions      []Position `json:"positions"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Portfolio owns the cash account and the position book. Cash always equals
//
//	initial capital + gross realized PnL - total commission - locked margin
//
// which makes every fill's cash impact match its TotalCost at leverage 1.
// Equity adds back locked margin plus unrealized PnL, so it moves only with
// prices and costs, never with the mere act of opening a position.
type Portfolio struct {
	mu             sync.RWMutex
	initialCapital float64
	leverage       float64
	cash           float64
	realizedGross  float64
	commission     float64
	book           *Book
	reservations   map[string]float64
	reservedTotal  float64
	curve          []EquityPoint
	peakEquity     float64
}

func NewPortfolio(initialCapital, leverage float64) *Portfolio {
	if leverage <= 0 {
		leverage = 1
	}
	return &Portfolio{
		initialCapital: initialCapital,
		leverage:       leverage,
		cash:           initialCapital,
		book:           NewBook(),
		reservations:   make(map[string]float64),
		peakEquity:     initialCapital,
	}
}

func (p *Portfolio) InitialCapital() float64 { return p.initialCapital }
func (p *Portfolio) Leverage() float64       { return p.leverage }

func (p *Portfolio) Book() *Book { return p.book }

func (p *Portfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Available is cash minus outstanding order reservations.
func (p *Portfolio) Available() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash - p.reservedTotal
}

// Equity is cash plus the carrying value of open positions (locked margin
// plus unrealized PnL).
func (p *Portfolio) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

func (p *Portfolio) equityLocked() float64 {
	return p.cash + p.book.TotalMargin() + p.book.TotalUnrealized()
}

// Reserve earmarks cash for an in-flight order. It fails with
// InsufficientCapitalError when the amount exceeds available cash.
func (p *Portfolio) Reserve(orderID string, amount float64) error {
	if amount < 0 {
		return &core.InvalidOrderError{Reason: fmt.Sprintf("negative reserve %v for order %s", amount, orderID)}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	available := p.cash - p.reservedTotal
	if amount > available {
		return &core.InsufficientCapitalError{Available: available, Required: amount}
	}
	p.reservations[orderID] = amount
	p.reservedTotal += amount
	return nil
}

// Release frees the reservation held for an order, if any. Safe to call for
// orders that never reserved.
func (p *Portfolio) Release(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amt, ok := p.reservations[orderID]; ok {
		delete(p.reservations, orderID)
		p.reservedTotal -= amt
	}
}

// ApplyFill folds a fill into the book and reprices cash from the account
// identity. It returns the completed trade when the fill closes a position.
func (p *Portfolio) ApplyFill(f Fill) *Trade {
	realized, trade := p.book.ApplyFill(f, p.leverage)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.realizedGross += realized
	p.commission += f.Commission
	p.cash = p.initialCapital + p.realizedGross - p.commission - p.book.TotalMargin()
	return trade
}

// MarkToMarket updates the mark price of the symbol's open position.
func (p *Portfolio) MarkToMarket(symbol string, price float64, ts time.Time) {
	p.book.MarkPrice(symbol, price, ts)
}

// Sample appends one equity point and returns it.
func (p *Portfolio) Sample(ts time.Time) EquityPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt := EquityPoint{Timestamp: ts, Equity: p.equityLocked(), Cash: p.cash}
	p.curve = append(p.curve, pt)
	if pt.Equity > p.peakEquity {
		p.peakEquity = pt.Equity
	}
	return pt
}

// Drawdown is the current decline from the equity peak, as a fraction.
func (p *Portfolio) Drawdown() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.peakEquity <= 0 {
		return 0
	}
	dd := (p.peakEquity - p.equityLocked()) / p.peakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

func (p *Portfolio) EquityCurve() []EquityPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]EquityPoint, len(p.curve))
	copy(out, p.curve)
	return out
}

func (p *Portfolio) Trades() []Trade {
	return p.book.Trades()
}

func (p *Portfolio) State() PortfolioState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	positions := p.book.List()
	var netRealized float64
	for _, t := range p.book.Trades() {
		netRealized += t.PnL
	}
	return PortfolioState{
		InitialCapital: p.initialCapital,
		Cash:           p.cash,
		Available:      p.cash - p.reservedTotal,
		Equity:         p.equityLocked(),
		Margin:         p.book.TotalMargin(),
		UnrealizedPnL:  p.book.TotalUnrealized(),
		RealizedPnL:    netRealized,
		Positions:      positions,
		UpdatedAt:      time.Now().UTC(),
	}
}
