package monitorhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velora/internal/core"
	"velora/internal/engine"
	"velora/internal/ledger"
)

type stubProvider struct {
	snap      engine.Snapshot
	cancelErr error
	cancelled []string
}

func (s *stubProvider) Snapshot() engine.Snapshot { return s.snap }

func (s *stubProvider) CancelOrder(ctx context.Context, orderID string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, orderID)
	return nil
}

func testSnapshot() engine.Snapshot {
	return engine.Snapshot{
		Running:  true,
		Strategy: "sma_cross",
		Symbol:   "BTCUSDT",
		Portfolio: ledger.PortfolioState{
			InitialCapital: 10_000,
			Cash:           9_500,
			Equity:         10_100,
			Positions: []ledger.Position{
				{Symbol: "BTCUSDT", Side: core.Buy, Quantity: 0.1, EntryPrice: 50_000},
			},
		},
		ActiveOrders: []ledger.Order{
			{ID: "o1", Symbol: "BTCUSDT", Side: core.Buy, Status: core.StatusSubmitted},
		},
		EquityCurve: []ledger.EquityPoint{
			{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Equity: 10_000, Cash: 10_000},
			{Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), Equity: 10_100, Cash: 9_500},
		},
		UpdatedAt: time.Now(),
	}
}

func doRequest(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServerStatusAndReads(t *testing.T) {
	provider := &stubProvider{snap: testSnapshot()}
	srv, err := NewServer(":0", provider)
	require.NoError(t, err)

	rec, body := doRequest(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = doRequest(t, srv, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "sma_cross", body["strategy"])
	assert.Equal(t, float64(1), body["active_orders"])

	rec, body = doRequest(t, srv, http.MethodGet, "/api/equity")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["equity_curve"], 2)

	rec, body = doRequest(t, srv, http.MethodGet, "/api/positions")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["positions"], 1)

	rec, body = doRequest(t, srv, http.MethodGet, "/api/orders")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["orders"], 1)

	rec, body = doRequest(t, srv, http.MethodGet, "/api/report")
	assert.Equal(t, http.StatusOK, rec.Code)
	metrics, ok := body["metrics"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 1.0, metrics["total_return_pct"].(float64), 1e-9)
}

func TestServerCancelOrder(t *testing.T) {
	provider := &stubProvider{snap: testSnapshot()}
	srv, err := NewServer(":0", provider)
	require.NoError(t, err)

	rec, body := doRequest(t, srv, http.MethodPost, "/api/orders/o1/cancel")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o1", body["cancelled"])
	assert.Equal(t, []string{"o1"}, provider.cancelled)
}

func TestServerCancelOrderErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("lookup: %w", core.ErrOrderNotFound), http.StatusNotFound},
		{fmt.Errorf("cancel: %w", core.ErrOrderTerminal), http.StatusConflict},
		{core.ErrNotRunning, http.StatusServiceUnavailable},
		{fmt.Errorf("venue exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		provider := &stubProvider{snap: testSnapshot(), cancelErr: tc.err}
		srv, err := NewServer(":0", provider)
		require.NoError(t, err)

		rec, _ := doRequest(t, srv, http.MethodPost, "/api/orders/o1/cancel")
		assert.Equal(t, tc.status, rec.Code)
	}
}

func TestServerRequiresProvider(t *testing.T) {
	_, err := NewServer(":0", nil)
	require.Error(t, err)
}
