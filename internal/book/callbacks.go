package book

import (
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// Callbacks is the narrow capability a Book needs back into its owner
// (MultiBookExchange). Replaces the source's signal/slot fan-out with an
// explicit subscriber — a Book never reaches back into the exchange's full
// state, only these pure notifications (§9's "Signal/slot fan-out" design
// note).
type Callbacks interface {
	OrderCreated(bookId types.BookId, o *Order)
	Trade(bookId types.BookId, tradeId types.TradeId, aggressor, resting *Order, price, size decimal.Decimal)
	CancelOrderDetails(bookId types.BookId, o *Order, cancelledVolume decimal.Decimal)
	Unregister(bookId types.BookId, o *Order)
}

// NopCallbacks is a zero-value Callbacks implementation, useful in tests
// that only exercise book mechanics.
type NopCallbacks struct{}

func (NopCallbacks) OrderCreated(types.BookId, *Order)                                {}
func (NopCallbacks) Trade(types.BookId, types.TradeId, *Order, *Order, decimal.Decimal, decimal.Decimal) {}
func (NopCallbacks) CancelOrderDetails(types.BookId, *Order, decimal.Decimal)          {}
func (NopCallbacks) Unregister(types.BookId, *Order)                                  {}
