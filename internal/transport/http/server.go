// Package monitorhttp serves the read-only monitoring API for a live
// engine. All data comes from the engine's atomic snapshot, so handlers
// never contend with the trading loop.
package monitorhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"velora/internal/core"
	"velora/internal/engine"
	"velora/internal/logger"
	"velora/internal/perf"
)

// StateProvider is the slice of the engine the API reads from. Satisfied by
// *engine.Engine.
type StateProvider interface {
	Snapshot() engine.Snapshot
	CancelOrder(ctx context.Context, orderID string) error
}

// Server hosts the monitoring API.
type Server struct {
	addr   string
	router *gin.Engine
}

// NewServer builds the server. addr falls back to :9991 when empty.
func NewServer(addr string, provider StateProvider) (*Server, error) {
	if provider == nil {
		return nil, errors.New("monitor http server requires a state provider")
	}
	if addr == "" {
		addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	h := &handlers{provider: provider}
	api.GET("/status", h.status)
	api.GET("/equity", h.equity)
	api.GET("/positions", h.positions)
	api.GET("/orders", h.orders)
	api.GET("/trades", h.trades)
	api.GET("/report", h.report)
	api.POST("/orders/:id/cancel", h.cancelOrder)

	return &Server{addr: addr, router: router}, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	provider StateProvider
}

func (h *handlers) status(c *gin.Context) {
	snap := h.provider.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"running":       snap.Running,
		"strategy":      snap.Strategy,
		"symbol":        snap.Symbol,
		"portfolio":     snap.Portfolio,
		"last_candle":   snap.LastCandle,
		"active_orders": len(snap.ActiveOrders),
		"trades":        len(snap.Trades),
		"updated_at":    snap.UpdatedAt,
	})
}

func (h *handlers) equity(c *gin.Context) {
	snap := h.provider.Snapshot()
	c.JSON(http.StatusOK, gin.H{"equity_curve": snap.EquityCurve})
}

func (h *handlers) positions(c *gin.Context) {
	snap := h.provider.Snapshot()
	c.JSON(http.StatusOK, gin.H{"positions": snap.Portfolio.Positions})
}

func (h *handlers) orders(c *gin.Context) {
	snap := h.provider.Snapshot()
	c.JSON(http.StatusOK, gin.H{"orders": snap.ActiveOrders})
}

func (h *handlers) trades(c *gin.Context) {
	snap := h.provider.Snapshot()
	c.JSON(http.StatusOK, gin.H{"trades": snap.Trades})
}

// report computes performance metrics over the session so far.
func (h *handlers) report(c *gin.Context) {
	snap := h.provider.Snapshot()
	periods := perf.PeriodsDaily
	if dur, err := core.IntervalDuration(snap.LastCandle.Interval); err == nil && dur > 0 {
		periods = float64(365*24*time.Hour) / float64(dur)
	}
	metrics := perf.Compute(snap.EquityCurve, snap.Trades, snap.Portfolio.InitialCapital, periods)
	c.JSON(http.StatusOK, gin.H{
		"strategy": snap.Strategy,
		"symbol":   snap.Symbol,
		"metrics":  metrics,
	})
}

func (h *handlers) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	if err := h.provider.CancelOrder(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, core.ErrOrderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, core.ErrOrderTerminal):
			status = http.StatusConflict
		case errors.Is(err, core.ErrNotRunning):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
