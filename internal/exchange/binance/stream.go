package binance

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"velora/internal/core"
	"velora/internal/exchange"
	"velora/internal/logger"
)

const listenKeyKeepalive = 25 * time.Minute

// StreamOrderEvents opens the user data stream and forwards order updates.
// The returned channel closes when the context ends or the stream drops;
// callers are expected to resubscribe on closure.
func (c *Client) StreamOrderEvents(ctx context.Context) (<-chan exchange.OrderEvent, error) {
	listenKey, err := c.api.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, &core.ConnectionError{Venue: c.name, Op: "start user stream", Err: err}
	}

	out := make(chan exchange.OrderEvent, 64)
	handler := func(event *futures.WsUserDataEvent) {
		if event.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		ev, ok := orderEventFrom(&event.OrderTradeUpdate)
		if !ok {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		logger.Warnf("binance user stream error: %v", err)
	}

	doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return nil, &core.ConnectionError{Venue: c.name, Op: "user stream", Err: err}
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(listenKeyKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(stopC)
				return
			case <-doneC:
				return
			case <-ticker.C:
				if err := c.api.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
					logger.Warnf("binance listen key keepalive failed: %v", err)
				}
			}
		}
	}()
	return out, nil
}

func orderEventFrom(u *futures.WsOrderTradeUpdate) (exchange.OrderEvent, bool) {
	filled, err := strconv.ParseFloat(u.AccumulatedFilledQty, 64)
	if err != nil {
		return exchange.OrderEvent{}, false
	}
	avgPrice, _ := strconv.ParseFloat(u.AveragePrice, 64)
	lastQty, _ := strconv.ParseFloat(u.LastFilledQty, 64)
	lastPrice, _ := strconv.ParseFloat(u.LastFilledPrice, 64)
	commission, _ := strconv.ParseFloat(u.Commission, 64)

	return exchange.OrderEvent{
		VenueOrderID:     strconv.FormatInt(u.ID, 10),
		ClientOrderID:    u.ClientOrderID,
		Symbol:           u.Symbol,
		Side:             sideFrom(u.Side),
		Status:           statusFrom(u.Status),
		FilledQuantity:   filled,
		AvgFillPrice:     avgPrice,
		LastFillQuantity: lastQty,
		LastFillPrice:    lastPrice,
		Commission:       commission,
		Timestamp:        time.UnixMilli(u.TradeTime).UTC(),
	}, true
}
