package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"velora/internal/core"
)

// SMACross goes long on a golden cross of two simple moving averages and
// flattens on the death cross. Long-only.
type SMACross struct {
	symbol     string
	fast       int
	slow       int
	allocation float64
	closes     []float64
}

func NewSMACross(p Params) (*SMACross, error) {
	if p.Fast <= 0 {
		p.Fast = 10
	}
	if p.Slow <= 0 {
		p.Slow = 30
	}
	if p.Fast >= p.Slow {
		return nil, fmt.Errorf("sma_cross: fast period %d must be below slow period %d", p.Fast, p.Slow)
	}
	if p.Allocation <= 0 || p.Allocation > 1 {
		p.Allocation = 0.95
	}
	return &SMACross{symbol: p.Symbol, fast: p.Fast, slow: p.Slow, allocation: p.Allocation}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) OnCandle(ctx Context) ([]Signal, error) {
	if s.symbol != "" && ctx.Candle.Symbol != s.symbol {
		return nil, nil
	}
	s.closes = append(s.closes, ctx.Candle.Close)
	if len(s.closes) <= s.slow {
		return nil, nil
	}

	fast := talib.Sma(s.closes, s.fast)
	slow := talib.Sma(s.closes, s.slow)
	n := len(s.closes) - 1
	crossedUp := fast[n] > slow[n] && fast[n-1] <= slow[n-1]
	crossedDown := fast[n] < slow[n] && fast[n-1] >= slow[n-1]

	pos, hasPos := ctx.Position(ctx.Candle.Symbol)
	switch {
	case crossedUp && !hasPos:
		qty := ctx.Portfolio.Equity * s.allocation / ctx.Candle.Close
		if qty <= 0 {
			return nil, nil
		}
		return []Signal{{
			Action:    ActionBuy,
			Symbol:    ctx.Candle.Symbol,
			Quantity:  qty,
			OrderType: core.OrderTypeMarket,
			Reason:    fmt.Sprintf("sma %d crossed above %d", s.fast, s.slow),
		}}, nil
	case crossedDown && hasPos && pos.Side == core.Buy:
		return []Signal{{
			Action:    ActionClose,
			Symbol:    ctx.Candle.Symbol,
			Quantity:  pos.Quantity,
			OrderType: core.OrderTypeMarket,
			Reason:    fmt.Sprintf("sma %d crossed below %d", s.fast, s.slow),
		}}, nil
	}
	return nil, nil
}
