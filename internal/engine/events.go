package engine

import (
	"time"

	"velora/internal/core"
	"velora/internal/exchange"
)

type eventType string

const (
	evtCandle     eventType = "candle_closed"
	evtOrderEvent eventType = "order_event"
	evtHeartbeat  eventType = "heartbeat"
	evtCancel     eventType = "cancel_order"
)

// envelope is one unit of work for the event loop. ReplyCh, when set, is
// written exactly once with the handler's error and then closed so
// synchronous callers never leak.
type envelope struct {
	Type    eventType
	Payload any
	ReplyCh chan error
}

type candlePayload struct {
	Candle core.Candle
}

type orderEventPayload struct {
	Event exchange.OrderEvent
}

type heartbeatPayload struct {
	Price float64
	Now   time.Time
}

type cancelPayload struct {
	OrderID string
}
