// Package types holds the primitive identifiers and enums shared across the
// matching/clearing core, grounded in the teacher's common.Order fields
// (Side, OrderType, AssetType) generalized to the simulator's full domain.
package types

import "fmt"

// Timestamp is a monotonic integer in the simulation's configured time
// scale (seconds/ms/us/ns) — never wall-clock time.
type Timestamp int64

// OrderId and TradeId are strictly increasing per book.
type OrderId uint64

// TradeId is strictly increasing per book.
type TradeId uint64

// BookId is a local index within a simulation block.
type BookId uint32

// BookIdCanon is globally unique across blocks: blockIdx*blockDim + bookId.
type BookIdCanon uint64

func CanonicalBookId(blockIdx, blockDim uint32, bookId BookId) BookIdCanon {
	return BookIdCanon(uint64(blockIdx)*uint64(blockDim) + uint64(bookId))
}

// Decanon splits a canonical book id back into (blockIdx, localBookId).
func Decanon(canon BookIdCanon, blockDim uint32) (blockIdx uint32, bookId BookId) {
	return uint32(uint64(canon) / uint64(blockDim)), BookId(uint64(canon) % uint64(blockDim))
}

// AgentId is signed: local (in-process) agents use negative ids, remote
// (distributed) agents use non-negative ids.
type AgentId int64

func (a AgentId) IsRemote() bool { return a >= 0 }

// Side is the direction of an order.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Currency selects which leg of the pair an amount is denominated in.
type Currency int8

const (
	Base Currency = iota
	Quote
)

func (c Currency) String() string {
	if c == Base {
		return "BASE"
	}
	return "QUOTE"
}

// STPFlag is the self-trade prevention mode requested on an order.
type STPFlag int8

const (
	STPNone STPFlag = iota
	STPCancelNew
	STPCancelOld
	STPCancelBoth
	STPDecrementCancel
)

func (f STPFlag) String() string {
	switch f {
	case STPNone:
		return "NONE"
	case STPCancelNew:
		return "CN"
	case STPCancelOld:
		return "CO"
	case STPCancelBoth:
		return "CB"
	case STPDecrementCancel:
		return "DC"
	default:
		return fmt.Sprintf("STPFlag(%d)", int8(f))
	}
}

// TimeInForce controls how long an order may rest.
type TimeInForce int8

const (
	GTC TimeInForce = iota // good-till-cancel
	GTT                    // good-till-time
	IOC                    // immediate-or-cancel
	FOK                    // fill-or-kill
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case GTT:
		return "GTT"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return fmt.Sprintf("TimeInForce(%d)", int8(t))
	}
}

// SettleKind discriminates SettleFlag's policy variant from a specific
// order/loan id to close.
type SettleKind int8

const (
	SettleNone SettleKind = iota
	SettleFIFO
	SettleOrderId
)

// SettleFlag is either a settlement policy (NONE/FIFO) or a specific
// loan/order id to close, per the GLOSSARY.
type SettleFlag struct {
	Kind    SettleKind
	OrderId OrderId // valid when Kind == SettleOrderId
}

func SettleFlagNone() SettleFlag { return SettleFlag{Kind: SettleNone} }
func SettleFlagFIFO() SettleFlag { return SettleFlag{Kind: SettleFIFO} }
func SettleFlagFor(id OrderId) SettleFlag {
	return SettleFlag{Kind: SettleOrderId, OrderId: id}
}

// OrderErrorCode is the stable discriminant string used by ErrorResponsePayload
// (§7). Validation failures are never fatal; they are always returned as one
// of these.
type OrderErrorCode string

const (
	ErrInvalidVolume          OrderErrorCode = "INVALID_VOLUME"
	ErrInvalidPrice           OrderErrorCode = "INVALID_PRICE"
	ErrInvalidLeverage        OrderErrorCode = "INVALID_LEVERAGE"
	ErrInvalidCurrency        OrderErrorCode = "INVALID_CURRENCY"
	ErrInvalidSTP             OrderErrorCode = "INVALID_STP"
	ErrInvalidSettle          OrderErrorCode = "INVALID_SETTLE"
	ErrUnknownBook            OrderErrorCode = "UNKNOWN_BOOK"
	ErrUnknownOrder           OrderErrorCode = "UNKNOWN_ORDER"
	ErrInsufficientLiquidity  OrderErrorCode = "INSUFFICIENT_LIQUIDITY"
	ErrInsufficientBalance    OrderErrorCode = "INSUFFICIENT_BALANCE"
	ErrPostOnlyWouldCross     OrderErrorCode = "POST_ONLY_VIOLATION"
	ErrFOKWouldNotFullyFill   OrderErrorCode = "FOK_VIOLATION"
	ErrActiveOrderCapExceeded OrderErrorCode = "ACTIVE_ORDER_CAP_EXCEEDED"
)

// OrderError pairs a stable discriminant with a human-readable cause, never
// fatal — always returned to the issuer as a response payload (§7).
type OrderError struct {
	Code  OrderErrorCode
	Cause error
}

func (e *OrderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *OrderError) Unwrap() error { return e.Cause }

func NewOrderError(code OrderErrorCode, cause error) *OrderError {
	return &OrderError{Code: code, Cause: cause}
}
