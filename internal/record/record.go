// Package record implements the L3 Event Record (C8): an append-only,
// per-book log of order/trade/cancellation events with monotonically
// increasing event ids, cleared at step boundaries (P4). Grounded in the
// teacher's plain-struct event modeling (internal/common/trade.go) expanded
// from a single Trade type into the spec's OrderEvent/TradeEvent/
// CancellationEvent union.
package record

import (
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// Kind discriminates the three event variants an Entry may carry.
type Kind string

const (
	KindOrder        Kind = "ORDER"
	KindTrade        Kind = "TRADE"
	KindCancellation Kind = "CANCELLATION"
)

// OrderEvent records a new order entering a book.
type OrderEvent struct {
	OrderId       types.OrderId
	Direction     types.Side
	Kind          string // "MARKET" or "LIMIT"
	Price         decimal.Decimal
	Volume        decimal.Decimal
	AgentId       types.AgentId
	ClientOrderId string
}

// TradeEvent records one match. Cause carries a free-form marker, notably
// the "_MC" suffix for margin-call-triggered liquidations (§8 S6), set by
// clearing.Manager.Trade.
type TradeEvent struct {
	TradeId        types.TradeId
	AggressorId    types.OrderId
	RestingId      types.OrderId
	AggressorAgent types.AgentId
	RestingAgent   types.AgentId
	Price          decimal.Decimal
	Volume         decimal.Decimal
	Cause          string
}

// CancellationEvent records a full or partial cancel.
type CancellationEvent struct {
	OrderId         types.OrderId
	AgentId         types.AgentId
	CancelledVolume decimal.Decimal
}

// Entry is one slot in the record: exactly one of Order/Trade/Cancellation
// is non-nil, discriminated by Kind.
type Entry struct {
	EventId      uint64
	BookId       types.BookId
	Timestamp    types.Timestamp
	Kind         Kind
	Order        *OrderEvent
	Trade        *TradeEvent
	Cancellation *CancellationEvent
}

// Record holds the per-book event buffer plus each book's monotonic id
// counter. The id counter is never reset; Clear only empties the buffer
// returned to callers between step boundaries, matching the L3 log's
// "eventId monotonic per book per simulation" contract (§6).
type Record struct {
	nextId  map[types.BookId]uint64
	entries map[types.BookId][]Entry
}

func New() *Record {
	return &Record{
		nextId:  make(map[types.BookId]uint64),
		entries: make(map[types.BookId][]Entry),
	}
}

func (r *Record) allocate(bookId types.BookId) uint64 {
	id := r.nextId[bookId]
	r.nextId[bookId] = id + 1
	return id
}

func (r *Record) append(bookId types.BookId, entry Entry) uint64 {
	entry.EventId = r.allocate(bookId)
	entry.BookId = bookId
	r.entries[bookId] = append(r.entries[bookId], entry)
	return entry.EventId
}

func (r *Record) AppendOrder(bookId types.BookId, ts types.Timestamp, e OrderEvent) uint64 {
	return r.append(bookId, Entry{Timestamp: ts, Kind: KindOrder, Order: &e})
}

func (r *Record) AppendTrade(bookId types.BookId, ts types.Timestamp, e TradeEvent) uint64 {
	return r.append(bookId, Entry{Timestamp: ts, Kind: KindTrade, Trade: &e})
}

func (r *Record) AppendCancellation(bookId types.BookId, ts types.Timestamp, e CancellationEvent) uint64 {
	return r.append(bookId, Entry{Timestamp: ts, Kind: KindCancellation, Cancellation: &e})
}

// Entries returns the buffered entries for a book since its last Clear.
func (r *Record) Entries(bookId types.BookId) []Entry {
	return r.entries[bookId]
}

// Clear empties a book's buffer at a step boundary without touching its id
// counter (P4).
func (r *Record) Clear(bookId types.BookId) {
	delete(r.entries, bookId)
}

// ClearAll empties every book's buffer, used at the end of each simulation
// step (clearing.Manager.EndStep).
func (r *Record) ClearAll() {
	for bookId := range r.entries {
		delete(r.entries, bookId)
	}
}

// NextEventId previews the id the next append to bookId would receive,
// useful for checkpointing (§6).
func (r *Record) NextEventId(bookId types.BookId) uint64 {
	return r.nextId[bookId]
}

// SetNextEventId restores a book's id counter from a checkpoint.
func (r *Record) SetNextEventId(bookId types.BookId, next uint64) {
	r.nextId[bookId] = next
}
