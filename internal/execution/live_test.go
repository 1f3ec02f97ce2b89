package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"velora/internal/core"
	"velora/internal/exchange"
	"velora/internal/ledger"
)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) Name() string              { return "mock" }
func (m *mockExchange) Venue() exchange.VenueType { return exchange.VenueCEX }

func (m *mockExchange) Connect(ctx context.Context) error { return nil }
func (m *mockExchange) Close() error                      { return nil }

func (m *mockExchange) Candles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]core.Candle, error) {
	args := m.Called(ctx, symbol, interval, start, end, limit)
	if c := args.Get(0); c != nil {
		return c.([]core.Candle), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockExchange) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(core.Ticker), args.Error(1)
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderAck), args.Error(1)
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	args := m.Called(ctx, symbol, venueOrderID)
	return args.Error(0)
}

func (m *mockExchange) ModifyOrder(ctx context.Context, symbol, venueOrderID string, price, quantity float64) (exchange.OrderAck, error) {
	args := m.Called(ctx, symbol, venueOrderID, price, quantity)
	return args.Get(0).(exchange.OrderAck), args.Error(1)
}

func (m *mockExchange) StreamOrderEvents(ctx context.Context) (<-chan exchange.OrderEvent, error) {
	args := m.Called(ctx)
	if ch := args.Get(0); ch != nil {
		return ch.(chan exchange.OrderEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func fastLimiter() *exchange.RateLimiter {
	return exchange.NewRateLimiter(1_000, time.Second, 1_000, time.Second)
}

func liveOrder(id string) *ledger.Order {
	return ledger.NewMarketOrder(id, "BTCUSDT", core.Buy, 0.1, time.Now().UTC())
}

func TestRouterSubmitSuccess(t *testing.T) {
	ex := &mockExchange{}
	ack := exchange.OrderAck{VenueOrderID: "42", Status: core.StatusSubmitted, Timestamp: time.Now().UTC()}
	ex.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.ClientOrderID == "o1" && req.Side == core.Buy
	})).Return(ack, nil).Once()

	r := NewRouter(ex, fastLimiter(), LiveConfig{})
	got, err := r.Submit(context.Background(), liveOrder("o1"), 50_000)
	require.NoError(t, err)
	assert.Equal(t, "42", got.VenueOrderID)
	ex.AssertExpectations(t)
}

func TestRouterRetriesTransportErrors(t *testing.T) {
	ex := &mockExchange{}
	connErr := &core.ConnectionError{Venue: "mock", Op: "place order", Err: errors.New("timeout")}
	ack := exchange.OrderAck{VenueOrderID: "42", Status: core.StatusSubmitted}
	ex.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderAck{}, connErr).Twice()
	ex.On("PlaceOrder", mock.Anything, mock.Anything).Return(ack, nil).Once()

	r := NewRouter(ex, fastLimiter(), LiveConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})
	got, err := r.Submit(context.Background(), liveOrder("o1"), 50_000)
	require.NoError(t, err)
	assert.Equal(t, "42", got.VenueOrderID)
	ex.AssertNumberOfCalls(t, "PlaceOrder", 3)
}

func TestRouterDoesNotRetryVenueRejections(t *testing.T) {
	ex := &mockExchange{}
	rejection := &core.VenueError{Venue: "mock", Code: -2019, Message: "margin is insufficient"}
	ex.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderAck{}, rejection).Once()

	r := NewRouter(ex, fastLimiter(), LiveConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})
	_, err := r.Submit(context.Background(), liveOrder("o1"), 50_000)
	var venueErr *core.VenueError
	require.ErrorAs(t, err, &venueErr)
	ex.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestRouterExhaustsRetries(t *testing.T) {
	ex := &mockExchange{}
	connErr := &core.ConnectionError{Venue: "mock", Op: "place order", Err: errors.New("refused")}
	ex.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderAck{}, connErr)

	r := NewRouter(ex, fastLimiter(), LiveConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})
	_, err := r.Submit(context.Background(), liveOrder("o1"), 50_000)
	require.Error(t, err)
	assert.ErrorIs(t, err, connErr)
	ex.AssertNumberOfCalls(t, "PlaceOrder", 2)
}

func TestRouterCircuitOpensAfterFailures(t *testing.T) {
	ex := &mockExchange{}
	rejection := &core.VenueError{Venue: "mock", Code: -1000, Message: "internal error"}
	ex.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.OrderAck{}, rejection)

	r := NewRouter(ex, fastLimiter(), LiveConfig{
		MaxRetries: 1, RetryBackoff: time.Millisecond,
		BreakerThreshold: 2, BreakerCooldown: time.Hour,
	})
	ctx := context.Background()
	_, err := r.Submit(ctx, liveOrder("o1"), 50_000)
	require.Error(t, err)
	_, err = r.Submit(ctx, liveOrder("o2"), 50_000)
	require.Error(t, err)

	_, err = r.Submit(ctx, liveOrder("o3"), 50_000)
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	ex.AssertNumberOfCalls(t, "PlaceOrder", 2)
}

func TestRouterDryRun(t *testing.T) {
	ex := &mockExchange{} // no expectations: nothing may reach the venue
	r := NewRouter(ex, fastLimiter(), LiveConfig{DryRun: true, CommissionRate: 0.001})

	var events []exchange.OrderEvent
	r.SetEventHandler(func(ev exchange.OrderEvent) { events = append(events, ev) })
	require.NoError(t, r.Start(context.Background()))

	ack, err := r.Submit(context.Background(), liveOrder("o1"), 50_000)
	require.NoError(t, err)
	assert.Equal(t, "dry-o1", ack.VenueOrderID)

	require.Len(t, events, 1)
	assert.Equal(t, core.StatusFilled, events[0].Status)
	assert.InDelta(t, 50_000.0, events[0].LastFillPrice, 1e-9)
	assert.InDelta(t, 5.0, events[0].Commission, 1e-9)

	assert.NoError(t, r.Cancel(context.Background(), "BTCUSDT", "dry-o1"))
	ex.AssertExpectations(t)
}

func TestRouterStreamPumpForwardsEvents(t *testing.T) {
	ex := &mockExchange{}
	events := make(chan exchange.OrderEvent, 1)
	ex.On("StreamOrderEvents", mock.Anything).Return(events, nil).Once()

	r := NewRouter(ex, fastLimiter(), LiveConfig{})
	received := make(chan exchange.OrderEvent, 1)
	r.SetEventHandler(func(ev exchange.OrderEvent) { received <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	events <- exchange.OrderEvent{ClientOrderID: "o1", Status: core.StatusFilled}
	select {
	case ev := <-received:
		assert.Equal(t, "o1", ev.ClientOrderID)
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
}

func TestRouterCancelRetries(t *testing.T) {
	ex := &mockExchange{}
	connErr := &core.ConnectionError{Venue: "mock", Op: "cancel", Err: errors.New("reset")}
	ex.On("CancelOrder", mock.Anything, "BTCUSDT", "42").Return(connErr).Once()
	ex.On("CancelOrder", mock.Anything, "BTCUSDT", "42").Return(nil).Once()

	r := NewRouter(ex, fastLimiter(), LiveConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})
	assert.NoError(t, r.Cancel(context.Background(), "BTCUSDT", "42"))
	ex.AssertNumberOfCalls(t, "CancelOrder", 2)
}
