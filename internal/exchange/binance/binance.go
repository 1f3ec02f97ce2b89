// Package binance adapts Binance USD-M futures to the exchange interface.
// It registers itself with the exchange factory under the name "binance".
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"velora/internal/core"
	"velora/internal/exchange"
	"velora/internal/logger"
)

func init() {
	exchange.Register("binance", func(cfg exchange.Config) (exchange.Exchange, error) {
		return New(cfg)
	})
}

// Client wraps the futures REST and websocket APIs.
type Client struct {
	name    string
	api     *futures.Client
	filters *filterTable
}

func New(cfg exchange.Config) (*Client, error) {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	api := futures.NewClient(cfg.Auth.APIKey, cfg.Auth.APISecret)
	return &Client{name: "binance", api: api, filters: newFilterTable()}, nil
}

func (c *Client) Name() string              { return c.name }
func (c *Client) Venue() exchange.VenueType { return exchange.VenueCEX }

// Connect verifies connectivity and warms the symbol filter cache.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return &core.ConnectionError{Venue: c.name, Op: "ping", Err: err}
	}
	if err := c.filters.load(ctx, c.api); err != nil {
		logger.Warnf("binance: exchange info unavailable, using raw precision: %v", err)
	}
	return nil
}

func (c *Client) Close() error { return nil }

func (c *Client) Candles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]core.Candle, error) {
	svc := c.api.NewKlinesService().Symbol(symbol).Interval(interval)
	if !start.IsZero() {
		svc = svc.StartTime(start.UnixMilli())
	}
	if !end.IsZero() {
		svc = svc.EndTime(end.UnixMilli())
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr(c.name, "klines", err)
	}
	out := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := candleFromKline(symbol, interval, k)
		if err != nil {
			return nil, fmt.Errorf("binance: bad kline for %s: %w", symbol, err)
		}
		out = append(out, candle)
	}
	if len(out) == 0 {
		return nil, &core.NoDataError{Symbol: symbol, Start: start, End: end}
	}
	return out, nil
}

func (c *Client) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	books, err := c.api.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return core.Ticker{}, wrapErr(c.name, "book ticker", err)
	}
	if len(books) == 0 {
		return core.Ticker{}, fmt.Errorf("binance: no book ticker for %s", symbol)
	}
	bid, _ := strconv.ParseFloat(books[0].BidPrice, 64)
	ask, _ := strconv.ParseFloat(books[0].AskPrice, 64)
	return core.Ticker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   (bid + ask) / 2,
		Time:   time.Now().UTC(),
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	qty := c.filters.quantizeQty(req.Symbol, req.Quantity)
	if qty == "0" {
		return exchange.OrderAck{}, &core.InvalidOrderError{
			Reason: fmt.Sprintf("quantity %v rounds to zero for %s", req.Quantity, req.Symbol),
		}
	}
	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideTo(req.Side)).
		Type(orderTypeTo(req.Type)).
		Quantity(qty)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	switch req.Type {
	case core.OrderTypeLimit:
		svc = svc.Price(c.filters.quantizePrice(req.Symbol, req.Price)).
			TimeInForce(futures.TimeInForceTypeGTC)
	case core.OrderTypeStopMarket:
		svc = svc.StopPrice(c.filters.quantizePrice(req.Symbol, req.StopPrice))
	case core.OrderTypeStopLimit:
		svc = svc.StopPrice(c.filters.quantizePrice(req.Symbol, req.StopPrice)).
			Price(c.filters.quantizePrice(req.Symbol, req.Price)).
			TimeInForce(futures.TimeInForceTypeGTC)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, wrapErr(c.name, "place order", err)
	}
	return exchange.OrderAck{
		VenueOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:       statusFrom(resp.Status),
		Timestamp:    time.UnixMilli(resp.UpdateTime).UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	id, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return &core.InvalidOrderError{Reason: fmt.Sprintf("bad venue order id %q", venueOrderID)}
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return wrapErr(c.name, "cancel order", err)
	}
	return nil
}

// ModifyOrder amends a resting order's price and quantity. Binance requires
// the original side on the modify call, so the order is looked up first.
func (c *Client) ModifyOrder(ctx context.Context, symbol, venueOrderID string, price, quantity float64) (exchange.OrderAck, error) {
	id, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return exchange.OrderAck{}, &core.InvalidOrderError{Reason: fmt.Sprintf("bad venue order id %q", venueOrderID)}
	}
	existing, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, wrapErr(c.name, "get order", err)
	}
	resp, err := c.api.NewModifyOrderService().
		Symbol(symbol).
		OrderID(id).
		Side(existing.Side).
		Price(c.filters.quantizePrice(symbol, price)).
		Quantity(c.filters.quantizeQty(symbol, quantity)).
		Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, wrapErr(c.name, "modify order", err)
	}
	return exchange.OrderAck{
		VenueOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:       statusFrom(resp.Status),
		Timestamp:    time.UnixMilli(resp.UpdateTime).UTC(),
	}, nil
}
