package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velora/internal/core"
)

func fillAt(side core.Side, qty, price, commission float64, at time.Time) Fill {
	return Fill{
		OrderID:    "o",
		Symbol:     "BTCUSDT",
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Timestamp:  at,
	}
}

func TestFillTotalCost(t *testing.T) {
	buy := fillAt(core.Buy, 0.1, 50_000, 5, testNow)
	assert.InDelta(t, 5_005.0, buy.TotalCost(), 1e-9)

	sell := fillAt(core.Sell, 0.1, 50_000, 5, testNow)
	assert.InDelta(t, 4_995.0, sell.TotalCost(), 1e-9)

	assert.InDelta(t, 0.1, buy.SignedQuantity(), 1e-12)
	assert.InDelta(t, -0.1, sell.SignedQuantity(), 1e-12)
}

func TestBookOpenGrowReduce(t *testing.T) {
	b := NewBook()

	_, trade := b.ApplyFill(fillAt(core.Buy, 1, 100, 0.1, testNow), 1)
	assert.Nil(t, trade)

	p, ok := b.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.Buy, p.Side)
	assert.InDelta(t, 1.0, p.Quantity, 1e-12)
	assert.InDelta(t, 100.0, p.EntryPrice, 1e-12)

	t.Run("add averages entry", func(t *testing.T) {
		b.ApplyFill(fillAt(core.Buy, 1, 110, 0.1, testNow.Add(time.Minute)), 1)
		p, _ := b.Get("BTCUSDT")
		assert.InDelta(t, 2.0, p.Quantity, 1e-12)
		assert.InDelta(t, 105.0, p.EntryPrice, 1e-12)
	})

	t.Run("partial reduce realizes pnl", func(t *testing.T) {
		realized, trade := b.ApplyFill(fillAt(core.Sell, 1, 120, 0.1, testNow.Add(2*time.Minute)), 1)
		assert.Nil(t, trade)
		assert.InDelta(t, 15.0, realized, 1e-9)
		p, _ := b.Get("BTCUSDT")
		assert.InDelta(t, 1.0, p.Quantity, 1e-12)
		assert.InDelta(t, 105.0, p.EntryPrice, 1e-12)
	})

	t.Run("flatten emits trade", func(t *testing.T) {
		realized, trade := b.ApplyFill(fillAt(core.Sell, 1, 125, 0.1, testNow.Add(3*time.Minute)), 1)
		require.NotNil(t, trade)
		assert.InDelta(t, 20.0, realized, 1e-9)
		assert.InDelta(t, 2.0, trade.Quantity, 1e-12)
		assert.InDelta(t, 105.0, trade.EntryPrice, 1e-12)
		assert.InDelta(t, 122.5, trade.ExitPrice, 1e-9)
		// gross 35 minus four fills of commission 0.1
		assert.InDelta(t, 34.6, trade.PnL, 1e-9)
		_, ok := b.Get("BTCUSDT")
		assert.False(t, ok)
	})
}

func TestBookNetQuantityMatchesSignedFills(t *testing.T) {
	b := NewBook()
	fills := []Fill{
		fillAt(core.Buy, 2, 100, 0, testNow),
		fillAt(core.Sell, 0.5, 101, 0, testNow),
		fillAt(core.Buy, 1, 102, 0, testNow),
		fillAt(core.Sell, 1.2, 103, 0, testNow),
	}
	var net float64
	for _, f := range fills {
		b.ApplyFill(f, 1)
		net += f.SignedQuantity()
	}
	p, ok := b.Get("BTCUSDT")
	require.True(t, ok)
	signed := p.Quantity * p.Side.Sign()
	assert.InDelta(t, net, signed, 1e-9)
}

func TestBookFlip(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fillAt(core.Buy, 1, 100, 1, testNow), 1)
	realized, trade := b.ApplyFill(fillAt(core.Sell, 3, 110, 3, testNow.Add(time.Hour)), 1)

	require.NotNil(t, trade)
	assert.InDelta(t, 10.0, realized, 1e-9)
	assert.Equal(t, core.Buy, trade.Side)
	assert.InDelta(t, 1.0, trade.Quantity, 1e-12)
	// entry commission 1 plus one third of the closing fill's commission
	assert.InDelta(t, 2.0, trade.Commission, 1e-9)
	assert.InDelta(t, 8.0, trade.PnL, 1e-9)

	p, ok := b.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.Sell, p.Side)
	assert.InDelta(t, 2.0, p.Quantity, 1e-12)
	assert.InDelta(t, 110.0, p.EntryPrice, 1e-12)
	assert.InDelta(t, 2.0, p.Commission, 1e-9)
}

func TestBookShortPnL(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fillAt(core.Sell, 2, 200, 0, testNow), 1)

	b.MarkPrice("BTCUSDT", 190, testNow.Add(time.Minute))
	p, _ := b.Get("BTCUSDT")
	assert.InDelta(t, 20.0, p.UnrealizedPnL(), 1e-9)

	realized, trade := b.ApplyFill(fillAt(core.Buy, 2, 195, 0, testNow.Add(2*time.Minute)), 1)
	require.NotNil(t, trade)
	assert.InDelta(t, 10.0, realized, 1e-9)
	assert.InDelta(t, 10.0, trade.PnL, 1e-9)
}

func TestBookMarginAndLeverage(t *testing.T) {
	b := NewBook()
	b.ApplyFill(fillAt(core.Buy, 1, 1000, 0, testNow), 5)
	p, _ := b.Get("BTCUSDT")
	assert.InDelta(t, 200.0, p.Margin, 1e-9)

	b.ApplyFill(fillAt(core.Sell, 0.5, 1000, 0, testNow), 5)
	p, _ = b.Get("BTCUSDT")
	assert.InDelta(t, 100.0, p.Margin, 1e-9)
	assert.InDelta(t, 100.0, b.TotalMargin(), 1e-9)
}
