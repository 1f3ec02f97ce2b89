package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velora/internal/core"
	"velora/internal/ledger"
)

func candleClosing(close float64, i int) core.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	open := base.Add(time.Duration(i) * time.Hour)
	return core.Candle{
		Symbol:    "BTCUSDT",
		Interval:  "1h",
		OpenTime:  open.UnixMilli(),
		CloseTime: open.Add(time.Hour).UnixMilli() - 1,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    100,
	}
}

func feed(t *testing.T, s Strategy, closes []float64, state ledger.PortfolioState) []Signal {
	t.Helper()
	var all []Signal
	for i, c := range closes {
		sigs, err := s.OnCandle(Context{Candle: candleClosing(c, i), Portfolio: state})
		require.NoError(t, err)
		all = append(all, sigs...)
	}
	return all
}

func TestSMACrossSignals(t *testing.T) {
	s, err := NewSMACross(Params{Symbol: "BTCUSDT", Fast: 2, Slow: 4, Allocation: 0.5})
	require.NoError(t, err)

	state := ledger.PortfolioState{Equity: 10_000}

	// Downtrend to prime the averages, then a sharp reversal.
	closes := []float64{110, 108, 106, 104, 102, 100, 120, 140}
	signals := feed(t, s, closes, state)

	require.Len(t, signals, 1)
	assert.Equal(t, ActionBuy, signals[0].Action)
	assert.Equal(t, "BTCUSDT", signals[0].Symbol)
	assert.Greater(t, signals[0].Quantity, 0.0)
}

func TestSMACrossCloseOnDeathCross(t *testing.T) {
	s, err := NewSMACross(Params{Symbol: "BTCUSDT", Fast: 2, Slow: 4})
	require.NoError(t, err)

	longState := ledger.PortfolioState{
		Equity: 10_000,
		Positions: []ledger.Position{{
			Symbol: "BTCUSDT", Side: core.Buy, Quantity: 0.5, EntryPrice: 120, MarkPrice: 120,
		}},
	}

	closes := []float64{100, 102, 104, 106, 108, 110, 90, 70}
	signals := feed(t, s, closes, longState)

	require.NotEmpty(t, signals)
	last := signals[len(signals)-1]
	assert.Equal(t, ActionClose, last.Action)
	assert.InDelta(t, 0.5, last.Quantity, 1e-12)
}

func TestSMACrossRejectsBadPeriods(t *testing.T) {
	_, err := NewSMACross(Params{Fast: 30, Slow: 10})
	assert.Error(t, err)
}

func TestSMACrossIgnoresOtherSymbols(t *testing.T) {
	s, err := NewSMACross(Params{Symbol: "ETHUSDT", Fast: 2, Slow: 3})
	require.NoError(t, err)
	sigs, err := s.OnCandle(Context{Candle: candleClosing(100, 0)})
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestNewStrategyRegistry(t *testing.T) {
	s, err := New("sma_cross", Params{Fast: 5, Slow: 20})
	require.NoError(t, err)
	assert.Equal(t, "sma_cross", s.Name())

	m, err := New("momentum", Params{})
	require.NoError(t, err)
	assert.Equal(t, "momentum", m.Name())

	_, err = New("nope", Params{})
	assert.Error(t, err)
}
