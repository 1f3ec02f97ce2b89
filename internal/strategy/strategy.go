// Package strategy defines the signal-generating side of the system.
// Strategies observe closed candles plus a read-only portfolio snapshot and
// emit signals; they never touch orders or cash directly.
package strategy

import (
	"fmt"

	"velora/internal/core"
	"velora/internal/ledger"
)

// Action is what a signal asks the engine to do.
type Action string

const (
	ActionHold  Action = "hold"
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionClose Action = "close"
)

// Signal is one trading intention. Quantity 0 on entries lets the engine
// size the order from the strategy's allocation.
type Signal struct {
	Action     Action
	Symbol     string
	Quantity   float64
	OrderType  core.OrderType
	LimitPrice float64
	Reason     string
}

// Context is the read-only view handed to a strategy on every candle.
// Mutating it has no effect on the engine's state.
type Context struct {
	Candle    core.Candle
	Portfolio ledger.PortfolioState
}

// Position returns the open position on the context's symbol, if any.
func (c Context) Position(symbol string) (ledger.Position, bool) {
	for _, p := range c.Portfolio.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return ledger.Position{}, false
}

// Strategy turns candles into signals. OnCandle is called once per closed
// candle, in time order, from a single goroutine.
type Strategy interface {
	Name() string
	OnCandle(ctx Context) ([]Signal, error)
}

// Params carries strategy construction options from configuration.
type Params struct {
	Symbol     string
	Fast       int
	Slow       int
	Allocation float64
}

// New builds a registered strategy by name.
func New(name string, p Params) (Strategy, error) {
	switch name {
	case "sma_cross", "":
		return NewSMACross(p)
	case "momentum":
		return NewMomentum(p)
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
