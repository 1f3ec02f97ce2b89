package ledger

import (
	"time"

	"velora/internal/core"
)

// Fill is one execution against an order.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       core.Side `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notional is quantity times price, before commission.
func (f Fill) Notional() float64 {
	return f.Quantity * f.Price
}

// TotalCost is the cash impact of the fill: a buy costs notional plus
// commission, a sell nets notional minus commission.
func (f Fill) TotalCost() float64 {
	if f.Side == core.Buy {
		return f.Notional() + f.Commission
	}
	return f.Notional() - f.Commission
}

// SignedQuantity is positive for buys, negative for sells.
func (f Fill) SignedQuantity() float64 {
	return f.Quantity * f.Side.Sign()
}
