package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velora/internal/core"
)

func TestPortfolioRoundTripCash(t *testing.T) {
	pf := NewPortfolio(10_000, 1)

	pf.ApplyFill(fillAt(core.Buy, 0.1, 50_000, 5, testNow))
	assert.InDelta(t, 4_995.0, pf.Cash(), 1e-9)

	trade := pf.ApplyFill(fillAt(core.Sell, 0.1, 51_000, 5, testNow.Add(time.Hour)))
	assert.InDelta(t, 10_090.0, pf.Cash(), 1e-9)
	require.NotNil(t, trade)
	assert.InDelta(t, 90.0, trade.PnL, 1e-9)
	assert.InDelta(t, 10.0, trade.Commission, 1e-9)
	assert.InDelta(t, 10_090.0, pf.Equity(), 1e-9)
}

func TestPortfolioEquityIdentity(t *testing.T) {
	pf := NewPortfolio(10_000, 1)
	pf.ApplyFill(fillAt(core.Buy, 0.1, 50_000, 5, testNow))

	check := func() {
		st := pf.State()
		assert.InDelta(t, st.Cash+st.Margin+st.UnrealizedPnL, st.Equity, 1e-9)
	}

	// Opening moves cash into margin but only commission leaves equity.
	assert.InDelta(t, 9_995.0, pf.Equity(), 1e-9)
	check()

	pf.MarkToMarket("BTCUSDT", 52_000, testNow.Add(time.Minute))
	assert.InDelta(t, 10_195.0, pf.Equity(), 1e-9)
	check()

	pf.MarkToMarket("BTCUSDT", 48_000, testNow.Add(2*time.Minute))
	assert.InDelta(t, 9_795.0, pf.Equity(), 1e-9)
	check()
}

func TestPortfolioReservations(t *testing.T) {
	pf := NewPortfolio(1_000, 1)

	require.NoError(t, pf.Reserve("o1", 600))
	assert.InDelta(t, 400.0, pf.Available(), 1e-9)
	assert.InDelta(t, 1_000.0, pf.Cash(), 1e-9)

	t.Run("over-reserve reports exact amounts", func(t *testing.T) {
		err := pf.Reserve("o2", 500)
		var insufficient *core.InsufficientCapitalError
		require.ErrorAs(t, err, &insufficient)
		assert.InDelta(t, 400.0, insufficient.Available, 1e-9)
		assert.InDelta(t, 500.0, insufficient.Required, 1e-9)
	})

	t.Run("release restores availability", func(t *testing.T) {
		pf.Release("o1")
		assert.InDelta(t, 1_000.0, pf.Available(), 1e-9)
		pf.Release("o1") // idempotent
		assert.InDelta(t, 1_000.0, pf.Available(), 1e-9)
	})
}

func TestPortfolioSampleAndDrawdown(t *testing.T) {
	pf := NewPortfolio(10_000, 1)
	pf.Sample(testNow)

	pf.ApplyFill(fillAt(core.Buy, 1, 1_000, 0, testNow))
	pf.MarkToMarket("BTCUSDT", 2_000, testNow.Add(time.Minute))
	pf.Sample(testNow.Add(time.Minute))
	assert.InDelta(t, 0.0, pf.Drawdown(), 1e-9)

	pf.MarkToMarket("BTCUSDT", 900, testNow.Add(2*time.Minute))
	pf.Sample(testNow.Add(2 * time.Minute))
	// peak 11000, now 9900
	assert.InDelta(t, 0.1, pf.Drawdown(), 1e-9)

	curve := pf.EquityCurve()
	require.Len(t, curve, 3)
	assert.InDelta(t, 10_000.0, curve[0].Equity, 1e-9)
	assert.InDelta(t, 11_000.0, curve[1].Equity, 1e-9)
	assert.InDelta(t, 9_900.0, curve[2].Equity, 1e-9)
}

func TestPortfolioLeveragedMargin(t *testing.T) {
	pf := NewPortfolio(10_000, 10)
	pf.ApplyFill(fillAt(core.Buy, 1, 50_000, 20, testNow))

	// 5000 margin locked plus 20 commission
	assert.InDelta(t, 4_980.0, pf.Cash(), 1e-9)
	assert.InDelta(t, 9_980.0, pf.Equity(), 1e-9)

	trade := pf.ApplyFill(fillAt(core.Sell, 1, 51_000, 20, testNow.Add(time.Hour)))
	require.NotNil(t, trade)
	assert.InDelta(t, 960.0, trade.PnL, 1e-9)
	assert.InDelta(t, 10_960.0, pf.Cash(), 1e-9)
}
