package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"velora/internal/core"
)

func sideTo(s core.Side) futures.SideType {
	if s == core.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func sideFrom(s futures.SideType) core.Side {
	if s == futures.SideTypeSell {
		return core.Sell
	}
	return core.Buy
}

func orderTypeTo(t core.OrderType) futures.OrderType {
	switch t {
	case core.OrderTypeLimit:
		return futures.OrderTypeLimit
	case core.OrderTypeStopMarket:
		return futures.OrderTypeStopMarket
	case core.OrderTypeStopLimit:
		return futures.OrderTypeStop
	default:
		return futures.OrderTypeMarket
	}
}

func statusFrom(s futures.OrderStatusType) core.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return core.StatusSubmitted
	case futures.OrderStatusTypePartiallyFilled:
		return core.StatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return core.StatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return core.StatusCancelled
	case futures.OrderStatusTypeRejected:
		return core.StatusRejected
	default:
		return core.StatusSubmitted
	}
}

func candleFromKline(symbol, interval string, k *futures.Kline) (core.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return core.Candle{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return core.Candle{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return core.Candle{}, err
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return core.Candle{}, err
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return core.Candle{}, err
	}
	return core.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

// wrapErr classifies a client error: API rejections become VenueError,
// everything else is a retryable ConnectionError.
func wrapErr(venue, op string, err error) error {
	if apiErr, ok := err.(*common.APIError); ok {
		return &core.VenueError{Venue: venue, Code: int(apiErr.Code), Message: apiErr.Message}
	}
	return &core.ConnectionError{Venue: venue, Op: op, Err: err}
}

// filterTable caches per-symbol step and tick sizes from exchange info and
// quantizes outgoing quantities and prices to them.
type filterTable struct {
	mu    sync.RWMutex
	steps map[string]decimal.Decimal
	ticks map[string]decimal.Decimal
}

func newFilterTable() *filterTable {
	return &filterTable{
		steps: make(map[string]decimal.Decimal),
		ticks: make(map[string]decimal.Decimal),
	}
}

func (f *filterTable) load(ctx context.Context, api *futures.Client) error {
	info, err := api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range info.Symbols {
		if lot := s.LotSizeFilter(); lot != nil {
			if step, err := decimal.NewFromString(lot.StepSize); err == nil && step.IsPositive() {
				f.steps[s.Symbol] = step
			}
		}
		if pf := s.PriceFilter(); pf != nil {
			if tick, err := decimal.NewFromString(pf.TickSize); err == nil && tick.IsPositive() {
				f.ticks[s.Symbol] = tick
			}
		}
	}
	return nil
}

// quantizeQty floors the quantity to the symbol's step size. Flooring keeps
// the order inside the reserved capital.
func (f *filterTable) quantizeQty(symbol string, qty float64) string {
	return f.quantize(f.steps, symbol, qty)
}

func (f *filterTable) quantizePrice(symbol string, price float64) string {
	return f.quantize(f.ticks, symbol, price)
}

func (f *filterTable) quantize(table map[string]decimal.Decimal, symbol string, v float64) string {
	d := decimal.NewFromFloat(v)
	f.mu.RLock()
	step, ok := table[symbol]
	f.mu.RUnlock()
	if !ok || step.IsZero() {
		return d.String()
	}
	return d.Div(step).Floor().Mul(step).String()
}
