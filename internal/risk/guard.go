// Package risk gates orders before they reach execution. The guard is pure
// validation: a rejected order is never created and nothing in the ledger
// changes; an admitted order leaves only a cash reservation behind.
package risk

import (
	"sync"
	"time"

	"velora/internal/core"
	"velora/internal/ledger"
)

// Limits configures the admission rules. A zero value disables the
// corresponding rule.
type Limits struct {
	// MaxPositionSize caps the notional of a single position, quote currency.
	MaxPositionSize float64 `mapstructure:"max_position_size" yaml:"max_position_size" json:"max_position_size"`
	// MaxTotalExposure caps gross open notional as a multiple of equity.
	MaxTotalExposure float64 `mapstructure:"max_total_exposure" yaml:"max_total_exposure" json:"max_total_exposure"`
	// MaxDrawdownPct halts new entries once the equity drawdown reaches
	// this percentage.
	MaxDrawdownPct float64 `mapstructure:"max_drawdown_pct" yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	// MaxDailyLoss halts new entries once equity has fallen this much,
	// quote currency, since the UTC day opened.
	MaxDailyLoss float64 `mapstructure:"max_daily_loss" yaml:"max_daily_loss" json:"max_daily_loss"`
	// PositionLimits overrides MaxPositionSize per symbol.
	PositionLimits map[string]float64 `mapstructure:"position_limits" yaml:"position_limits" json:"position_limits"`
}

func (l Limits) limitFor(symbol string) float64 {
	if cap, ok := l.PositionLimits[symbol]; ok {
		return cap
	}
	return l.MaxPositionSize
}

// Guard applies Limits to incoming orders. Limits may be swapped at runtime
// via SetLimits; in-flight checks always see a consistent set.
type Guard struct {
	mu             sync.RWMutex
	limits         Limits
	commissionRate float64
	dayAnchor      time.Time
	dayStartEquity float64
}

func NewGuard(limits Limits, commissionRate float64) *Guard {
	return &Guard{limits: limits, commissionRate: commissionRate}
}

func (g *Guard) Limits() Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

func (g *Guard) SetLimits(limits Limits) {
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()
}

// RequiredCapital is the cash to reserve for an order at the given reference
// price: full notional plus commission without leverage, margin plus
// commission with it.
func (g *Guard) RequiredCapital(notional, leverage float64) float64 {
	g.mu.RLock()
	rate := g.commissionRate
	g.mu.RUnlock()
	if leverage <= 1 {
		return notional * (1 + rate)
	}
	return notional/leverage + notional*rate
}

// Admit validates the order against capital and risk limits and, on success,
// reserves the required cash under the order's id. refPrice is the price used
// to size the order when it has no limit price.
func (g *Guard) Admit(o *ledger.Order, refPrice float64, pf *ledger.Portfolio, now time.Time) error {
	price := refPrice
	if o.Type == core.OrderTypeLimit && o.LimitPrice > 0 {
		price = o.LimitPrice
	}
	if price <= 0 {
		return &core.InvalidOrderError{Reason: "no reference price to size order"}
	}

	equity := pf.Equity()
	g.rollDay(now, equity)

	g.mu.RLock()
	limits := g.limits
	dayStart := g.dayStartEquity
	g.mu.RUnlock()

	// A fill against an existing position frees margin rather than
	// consuming it, so only the increasing part counts against limits.
	increaseQty := o.Quantity
	existing, hasPos := pf.Book().Get(o.Symbol)
	if hasPos && existing.Side != o.Side {
		increaseQty -= existing.Quantity
		if increaseQty < 0 {
			increaseQty = 0
		}
	}

	if limits.MaxDrawdownPct > 0 && increaseQty > 0 {
		if dd := pf.Drawdown() * 100; dd >= limits.MaxDrawdownPct {
			return &core.RiskViolationError{Rule: "max_drawdown", Limit: limits.MaxDrawdownPct, Actual: dd}
		}
	}
	if limits.MaxDailyLoss > 0 && increaseQty > 0 {
		if loss := dayStart - equity; loss >= limits.MaxDailyLoss {
			return &core.RiskViolationError{Rule: "max_daily_loss", Limit: limits.MaxDailyLoss, Actual: loss}
		}
	}

	incNotional := increaseQty * price
	if incNotional > 0 {
		if limit := limits.limitFor(o.Symbol); limit > 0 {
			current := 0.0
			if hasPos && existing.Side == o.Side {
				current = existing.Notional()
			}
			if current+incNotional > limit {
				return &core.RiskViolationError{Rule: "max_position_size", Limit: limit, Actual: current + incNotional}
			}
		}
		if limits.MaxTotalExposure > 0 && equity > 0 {
			maxNotional := limits.MaxTotalExposure * equity
			if pf.Book().TotalNotional()+incNotional > maxNotional {
				return &core.RiskViolationError{
					Rule:   "max_total_exposure",
					Limit:  maxNotional,
					Actual: pf.Book().TotalNotional() + incNotional,
				}
			}
		}
	}

	required := g.RequiredCapital(incNotional, pf.Leverage())
	return pf.Reserve(o.ID, required)
}

func (g *Guard) rollDay(now time.Time, equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(g.dayAnchor) {
		g.dayAnchor = day
		g.dayStartEquity = equity
	}
}
