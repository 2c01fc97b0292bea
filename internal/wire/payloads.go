package wire

import (
	"encoding/json"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// SettleFlagWire is the JSON-friendly projection of types.SettleFlag.
type SettleFlagWire struct {
	Kind    string        `json:"kind"` // "NONE" | "FIFO" | "ORDER_ID"
	OrderId types.OrderId `json:"orderId,omitempty"`
}

func (w SettleFlagWire) ToTypes() types.SettleFlag {
	switch w.Kind {
	case "FIFO":
		return types.SettleFlagFIFO()
	case "ORDER_ID":
		return types.SettleFlagFor(w.OrderId)
	default:
		return types.SettleFlagNone()
	}
}

func SettleFlagFromTypes(f types.SettleFlag) SettleFlagWire {
	switch f.Kind {
	case types.SettleFIFO:
		return SettleFlagWire{Kind: "FIFO"}
	case types.SettleOrderId:
		return SettleFlagWire{Kind: "ORDER_ID", OrderId: f.OrderId}
	default:
		return SettleFlagWire{Kind: "NONE"}
	}
}

// PlaceOrderMarketPayload is PLACE_ORDER_MARKET's body.
type PlaceOrderMarketPayload struct {
	AgentId       types.AgentId   `json:"agentId"`
	BookId        types.BookId    `json:"bookId"`
	Direction     string          `json:"direction"` // "BUY" | "SELL"
	Volume        decimal.Decimal `json:"volume"`
	Leverage      decimal.Decimal `json:"leverage"`
	Currency      string          `json:"currency"` // "BASE" | "QUOTE"
	STPFlag       string          `json:"stpFlag"`
	SettleFlag    SettleFlagWire  `json:"settleFlag"`
	ClientOrderId string          `json:"clientOrderId,omitempty"`
}

// PlaceOrderLimitPayload is PLACE_ORDER_LIMIT's body.
type PlaceOrderLimitPayload struct {
	PlaceOrderMarketPayload
	Price        decimal.Decimal `json:"price"`
	PostOnly     bool            `json:"postOnly"`
	TimeInForce  string          `json:"timeInForce"` // "GTC" | "GTT" | "IOC" | "FOK"
	ExpiryPeriod *int64          `json:"expiryPeriod,omitempty"`
}

// CancelOrdersPayload is CANCEL_ORDERS' body; Volume nil cancels each id in
// full.
type CancelOrdersPayload struct {
	BookId   types.BookId     `json:"bookId"`
	OrderIds []types.OrderId  `json:"orderIds"`
	Volume   *decimal.Decimal `json:"volume,omitempty"`
}

// ClosePositionsPayload is CLOSE_POSITIONS' body (§4.5).
type ClosePositionsPayload struct {
	BookId   types.BookId    `json:"bookId"`
	OrderIds []types.OrderId `json:"orderIds"`
}

// ResetAgentPayload is RESET_AGENT's (empty) body.
type ResetAgentPayload struct{}

// SubscriptionPayload is SUBSCRIBE_EVENT/UNSUBSCRIBE_EVENT's body.
type SubscriptionPayload struct {
	BookId types.BookId `json:"bookId"`
	Events []string     `json:"events"` // e.g. "TRADE", "LIMIT", "MARKET", "TRADE_BY_ORDER"
}

// RetrieveL1Payload/Response are the best-bid/ask/mid depth query (§4.5,
// SPEC_FULL.md SUPPLEMENTED FEATURES #1).
type RetrieveL1Payload struct {
	BookId types.BookId `json:"bookId"`
}

type RetrieveL1Response struct {
	BookId   types.BookId    `json:"bookId"`
	BestBid  decimal.Decimal `json:"bestBid"`
	BestAsk  decimal.Decimal `json:"bestAsk"`
	MidPrice decimal.Decimal `json:"midPrice"`
}

// RetrieveL2Payload/Response return aggregated depth down to maxDepth
// levels per side.
type RetrieveL2Payload struct {
	BookId   types.BookId `json:"bookId"`
	MaxDepth int          `json:"maxDepth"`
}

type L2Level struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

type RetrieveL2Response struct {
	BookId types.BookId `json:"bookId"`
	Bids   []L2Level    `json:"bids"`
	Asks   []L2Level    `json:"asks"`
}

// RetrieveOrdersPayload/Response list an agent's resting orders in a book.
type RetrieveOrdersPayload struct {
	BookId  types.BookId  `json:"bookId"`
	AgentId types.AgentId `json:"agentId"`
}

type OrderSummary struct {
	OrderId   types.OrderId   `json:"orderId"`
	Direction string          `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
}

type RetrieveOrdersResponse struct {
	BookId types.BookId   `json:"bookId"`
	Orders []OrderSummary `json:"orders"`
}

// PlaceOrderResponsePayload correlates an accepted placement back to the
// issuer's clientOrderId (SUPPLEMENTED FEATURES #2). Rejections are sent as
// ErrorResponsePayload instead, which carries no clientOrderId.
type PlaceOrderResponsePayload struct {
	OrderId       types.OrderId `json:"orderId"`
	ClientOrderId string        `json:"clientOrderId,omitempty"`
	Status        string        `json:"status"` // "FILLED" when no volume remains, else "RESTED"
}

// CancelOrdersResponsePayload reports per-id outcomes for CANCEL_ORDERS.
type CancelOrdersResponsePayload struct {
	Succeeded []types.OrderId `json:"succeeded"`
	Failed    []types.OrderId `json:"failed"`
}

// ErrorResponsePayload carries a stable discriminant for any validation
// failure (§7); never used for invariant/scheduler/I-O failures, which
// unwind instead of producing a response.
type ErrorResponsePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DistributedResponsePayload wraps a response destined for a remote
// (non-negative id) agent (SUPPLEMENTED FEATURES #3).
type DistributedResponsePayload struct {
	AgentId types.AgentId   `json:"agentId"`
	Payload json.RawMessage `json:"payload"`
}
