package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"velora/internal/core"
)

// Momentum enters long when RSI leaves the oversold zone and exits when it
// reaches the overbought zone.
type Momentum struct {
	symbol     string
	period     int
	allocation float64
	closes     []float64
}

func NewMomentum(p Params) (*Momentum, error) {
	period := p.Fast
	if period <= 0 {
		period = 14
	}
	if p.Allocation <= 0 || p.Allocation > 1 {
		p.Allocation = 0.95
	}
	return &Momentum{symbol: p.Symbol, period: period, allocation: p.Allocation}, nil
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) OnCandle(ctx Context) ([]Signal, error) {
	if m.symbol != "" && ctx.Candle.Symbol != m.symbol {
		return nil, nil
	}
	m.closes = append(m.closes, ctx.Candle.Close)
	if len(m.closes) <= m.period+1 {
		return nil, nil
	}

	rsi := talib.Rsi(m.closes, m.period)
	n := len(m.closes) - 1
	pos, hasPos := ctx.Position(ctx.Candle.Symbol)

	switch {
	case !hasPos && rsi[n] > 30 && rsi[n-1] <= 30:
		qty := ctx.Portfolio.Equity * m.allocation / ctx.Candle.Close
		if qty <= 0 {
			return nil, nil
		}
		return []Signal{{
			Action:    ActionBuy,
			Symbol:    ctx.Candle.Symbol,
			Quantity:  qty,
			OrderType: core.OrderTypeMarket,
			Reason:    fmt.Sprintf("rsi recovered from oversold (%.1f)", rsi[n]),
		}}, nil
	case hasPos && pos.Side == core.Buy && rsi[n] >= 70:
		return []Signal{{
			Action:    ActionClose,
			Symbol:    ctx.Candle.Symbol,
			Quantity:  pos.Quantity,
			OrderType: core.OrderTypeMarket,
			Reason:    fmt.Sprintf("rsi overbought (%.1f)", rsi[n]),
		}}, nil
	}
	return nil, nil
}
