package book

import (
	"fmt"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// Kind discriminates the two order variants from §3.
type Kind int8

const (
	Market Kind = iota
	Limit
)

func (k Kind) String() string {
	if k == Market {
		return "MARKET"
	}
	return "LIMIT"
}

// ClientCtx correlates an order back to its issuing agent and an optional
// client-supplied id, round-tripped on every callback (order2clientCtx,
// §3; SUPPLEMENTED FEATURES #2 in SPEC_FULL.md).
type ClientCtx struct {
	AgentId       types.AgentId
	ClientOrderId string
}

// Order is the book's single concrete order representation. Rather than
// the spec's two-variant hierarchy, fields that only apply to limit orders
// (Price, PostOnly, TIF, Expiry) are zero-valued on market orders — mirrors
// the teacher's single flattened Order struct (internal/engine/order.go)
// generalized with the fields §3 adds for MarketOrder/LimitOrder.
type Order struct {
	Id        types.OrderId
	BookId    types.BookId
	Timestamp types.Timestamp
	Direction types.Side
	Kind      Kind

	// Volume is the remaining (non-leveraged) order volume. TotalVolume
	// derives from Volume*(1+Leverage) and both shrink together as the
	// order matches.
	Volume   decimal.Decimal
	Leverage decimal.Decimal

	STPFlag    types.STPFlag
	SettleFlag types.SettleFlag
	Currency   types.Currency

	Price    decimal.Decimal // > 0 for Limit, unused for Market
	PostOnly bool
	TIF      types.TimeInForce
	Expiry   *types.Timestamp // set when TIF == GTT

	Ctx ClientCtx
}

// TotalVolume is the leverage-inflated size used for matching (§3).
func (o *Order) TotalVolume() decimal.Decimal {
	return o.Volume.Mul(decimal.FromInt(1).Add(o.Leverage))
}

// volumeFromTotal converts a total-volume-denominated fill size back to the
// order's native (non-leveraged) volume units.
func (o *Order) volumeFromTotal(total decimal.Decimal) decimal.Decimal {
	return total.Div(decimal.FromInt(1).Add(o.Leverage), 12)
}

func (o *Order) String() string {
	return fmt.Sprintf(
		"Order{id=%d book=%d dir=%s kind=%s vol=%s lev=%s price=%s agent=%d}",
		o.Id, o.BookId, o.Direction, o.Kind, o.Volume, o.Leverage, o.Price, o.Ctx.AgentId,
	)
}
