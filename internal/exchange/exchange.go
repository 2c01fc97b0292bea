// Package exchange implements the MultiBookExchange (C9): it owns a
// block's books and ClearingManager, routes wire.Message traffic to the
// right book/clearing operation, and maintains per-book, per-event
// subscriber sets for broadcast (§4.5). Grounded in the teacher's
// internal/net/server.go dispatch loop (a type switch over incoming
// messages driving engine calls) generalized from a single book to N
// books plus the richer message set §4.5 and §6 describe.
package exchange

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fenrirsim/internal/account"
	"fenrirsim/internal/book"
	"fenrirsim/internal/clearing"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
	"fenrirsim/internal/wire"
)

// MessageQueueResetter is the narrow scheduler-side hook RESET_AGENT needs
// to drop an agent's future-queued messages (§4.5, §4.6); scheduler.
// Simulation implements it without this package ever importing scheduler.
type MessageQueueResetter interface {
	ResetAgent(agentName string)
}

// Exchange owns every book in one simulation block plus the ClearingManager
// that validates and settles against them.
type Exchange struct {
	blockIdx uint32
	blockDim uint32

	books      map[types.BookId]*book.Book
	clearing   *clearing.Manager
	accounts   *account.Registry
	queueReset MessageQueueResetter

	// subscriptions[bookId][event] is the set of subscribed agent ids
	// (§4.5's per-event subscriber sets).
	subscriptions map[types.BookId]map[string]map[types.AgentId]struct{}

	nextOccurrence uint64
}

const (
	EventTrade         = "TRADE"
	EventTradeByOrder  = "TRADE_BY_ORDER"
	EventLimitOrder    = "LIMIT"
	EventMarketOrder   = "MARKET"
)

func New(blockIdx, blockDim uint32, clearingMgr *clearing.Manager, accounts *account.Registry) *Exchange {
	return &Exchange{
		blockIdx:      blockIdx,
		blockDim:      blockDim,
		books:         make(map[types.BookId]*book.Book),
		clearing:      clearingMgr,
		accounts:      accounts,
		subscriptions: make(map[types.BookId]map[string]map[types.AgentId]struct{}),
	}
}

// RegisterBook constructs a new book routed through this exchange's
// ClearingManager and tracks it locally for message dispatch and L1/L2
// queries.
func (e *Exchange) RegisterBook(bookId types.BookId, priceDecimals, volumeDecimals int32) *book.Book {
	b := book.NewBook(bookId, priceDecimals, volumeDecimals, e.clearing)
	e.books[bookId] = b
	e.clearing.RegisterBook(bookId, b)
	e.subscriptions[bookId] = map[string]map[types.AgentId]struct{}{
		EventTrade: {}, EventTradeByOrder: {}, EventLimitOrder: {}, EventMarketOrder: {},
	}
	return b
}

// SetQueueResetter wires the Scheduler's message-dropping hook in; the
// exchange and its Simulation are constructed in sequence by the driver
// program, so this is set once after both exist (cmd/fenrirsim).
func (e *Exchange) SetQueueResetter(q MessageQueueResetter) {
	e.queueReset = q
}

func (e *Exchange) CanonicalBookId(bookId types.BookId) types.BookIdCanon {
	return types.CanonicalBookId(e.blockIdx, e.blockDim, bookId)
}

// BookIds returns every locally-registered book id, for the
// SimulationManager's per-barrier state aggregation (§4.7).
func (e *Exchange) BookIds() []types.BookId {
	out := make([]types.BookId, 0, len(e.books))
	for id := range e.books {
		out = append(out, id)
	}
	return out
}

// Quote reports a book's current top-of-book snapshot.
func (e *Exchange) Quote(bookId types.BookId) (bid, ask, mid decimal.Decimal, ok bool) {
	b, ok := e.books[bookId]
	if !ok {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}
	return b.BestBid(), b.BestAsk(), b.MidPrice(), true
}

// EvaluateMarginCalls runs the ClearingManager's per-book margin-call sweep
// for every book this exchange owns, called once per step by the
// SimulationManager between barrier rounds (§4.7).
func (e *Exchange) EvaluateMarginCalls(ts types.Timestamp) {
	for bookId := range e.books {
		e.clearing.EvaluateMarginCalls(bookId, ts)
	}
}

// EndStep runs the ClearingManager's per-step housekeeping (fee-tier
// window expiry, L3 record clearing), called once per step by the
// SimulationManager after the barrier round (§4.4, §8 P4).
func (e *Exchange) EndStep(ts types.Timestamp) {
	e.clearing.EndStep(ts)
}

// Dispatch routes one inbound message to the matching handler (§4.5),
// returning zero or more response messages to deliver back through the
// Scheduler.
func (e *Exchange) Dispatch(msg wire.Message) []wire.Message {
	switch msg.Type {
	case wire.TypePlaceOrderMarket:
		return e.handlePlaceMarket(msg)
	case wire.TypePlaceOrderLimit:
		return e.handlePlaceLimit(msg)
	case wire.TypeCancelOrders:
		return e.handleCancel(msg)
	case wire.TypeClosePositions:
		return e.handleClosePositions(msg)
	case wire.TypeResetAgent:
		return e.handleResetAgent(msg)
	case wire.TypeRetrieveL1:
		return e.handleRetrieveL1(msg)
	case wire.TypeRetrieveL2:
		return e.handleRetrieveL2(msg)
	case wire.TypeRetrieveOrders:
		return e.handleRetrieveOrders(msg)
	case wire.TypeSubscribeEvent:
		return e.handleSubscription(msg, true)
	case wire.TypeUnsubscribeEvent:
		return e.handleSubscription(msg, false)
	default:
		log.Error().Str("type", msg.Type).Msg("exchange: unrecognized message type")
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, fmt.Errorf("unrecognized message type %q", msg.Type))}
	}
}

func (e *Exchange) occurrence() uint64 {
	e.nextOccurrence++
	return e.nextOccurrence
}

func (e *Exchange) respond(msg wire.Message, msgType string, payload any) wire.Message {
	resp, err := wire.NewMessage(e.occurrence(), msg.Arrival, "EXCHANGE", msg.Source, msgType, payload)
	if err != nil {
		log.Error().Err(err).Msg("exchange: failed to marshal response")
	}
	if agentIsRemote(msg.Source) {
		agentId, _ := e.accounts.Lookup(msg.Source)
		wrapped, werr := wire.NewMessage(e.occurrence(), msg.Arrival, "EXCHANGE", msg.Source,
			wire.TypeDistributedPrefix+msgType, wire.DistributedResponsePayload{AgentId: agentId, Payload: resp.Payload})
		if werr == nil {
			return wrapped
		}
	}
	return resp
}

// agentIsRemote is a best-effort heuristic over the wire: the scheduler
// identifies distributed agents by name convention since wire.Message's
// Source is a string, not a typed AgentId (SUPPLEMENTED FEATURES #3).
func agentIsRemote(source string) bool {
	return len(source) > 0 && source[0] == '@'
}

func (e *Exchange) errorResponse(msg wire.Message, code types.OrderErrorCode, cause error) wire.Message {
	m := ""
	if cause != nil {
		m = cause.Error()
	}
	return e.respond(msg, wire.TypeErrorResponse, wire.ErrorResponsePayload{Code: string(code), Message: m})
}

func directionFromWire(s string) types.Side {
	if s == "SELL" {
		return types.Sell
	}
	return types.Buy
}

func currencyFromWire(s string) types.Currency {
	if s == "QUOTE" {
		return types.Quote
	}
	return types.Base
}

func stpFromWire(s string) types.STPFlag {
	switch s {
	case "CN":
		return types.STPCancelNew
	case "CO":
		return types.STPCancelOld
	case "CB":
		return types.STPCancelBoth
	case "DC":
		return types.STPDecrementCancel
	default:
		return types.STPNone
	}
}

func tifFromWire(s string) types.TimeInForce {
	switch s {
	case "GTT":
		return types.GTT
	case "IOC":
		return types.IOC
	case "FOK":
		return types.FOK
	default:
		return types.GTC
	}
}

func (e *Exchange) handlePlaceMarket(msg wire.Message) []wire.Message {
	var p wire.PlaceOrderMarketPayload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrInvalidVolume, err)}
	}
	if p.ClientOrderId == "" {
		p.ClientOrderId = uuid.New().String()
	}
	o, err := e.clearing.PlaceMarketOrder(clearing.PlaceOrderRequest{
		BookId: p.BookId, AgentId: p.AgentId, Timestamp: msg.Arrival,
		Direction: directionFromWire(p.Direction), Volume: p.Volume, Leverage: p.Leverage,
		Currency: currencyFromWire(p.Currency), STPFlag: stpFromWire(p.STPFlag),
		SettleFlag: p.SettleFlag.ToTypes(), ClientOrderId: p.ClientOrderId,
	})
	if err != nil {
		return e.respondError(msg, err)
	}
	return append([]wire.Message{e.respondPlaced(msg, o, p.ClientOrderId)}, e.broadcast(p.BookId, EventMarketOrder, msg)...)
}

func (e *Exchange) handlePlaceLimit(msg wire.Message) []wire.Message {
	var p wire.PlaceOrderLimitPayload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrInvalidPrice, err)}
	}
	if p.ClientOrderId == "" {
		p.ClientOrderId = uuid.New().String()
	}
	var expiry *types.Timestamp
	if p.ExpiryPeriod != nil {
		ts := msg.Arrival + types.Timestamp(*p.ExpiryPeriod)
		expiry = &ts
	}
	o, err := e.clearing.PlaceLimitOrder(clearing.PlaceOrderRequest{
		BookId: p.BookId, AgentId: p.AgentId, Timestamp: msg.Arrival,
		Direction: directionFromWire(p.Direction), Volume: p.Volume, Price: p.Price, Leverage: p.Leverage,
		Currency: currencyFromWire(p.Currency), STPFlag: stpFromWire(p.STPFlag),
		SettleFlag: p.SettleFlag.ToTypes(), ClientOrderId: p.ClientOrderId,
		PostOnly: p.PostOnly, TIF: tifFromWire(p.TimeInForce), Expiry: expiry,
	})
	if err != nil {
		return e.respondError(msg, err)
	}
	out := append([]wire.Message{e.respondPlaced(msg, o, p.ClientOrderId)}, e.broadcast(p.BookId, EventLimitOrder, msg)...)
	if expiry != nil && o.Volume.IsPositive() {
		if cancel, cerr := e.expiryCancel(p.BookId, o.Id, *expiry); cerr == nil {
			out = append(out, cancel)
		}
	}
	return out
}

// expiryCancel builds the CANCEL_ORDERS message a GTT order schedules for
// delivery at arrival+expiryPeriod (§4.1). It is returned alongside the
// placement response so Simulation.deliver enqueues it through the same
// path as any other exchange response.
func (e *Exchange) expiryCancel(bookId types.BookId, orderId types.OrderId, at types.Timestamp) (wire.Message, error) {
	return wire.NewMessage(e.occurrence(), at, "EXCHANGE", wire.TargetExchange, wire.TypeCancelOrders,
		wire.CancelOrdersPayload{BookId: bookId, OrderIds: []types.OrderId{orderId}})
}

func (e *Exchange) respondPlaced(msg wire.Message, o *book.Order, clientOrderId string) wire.Message {
	status := "RESTED"
	if o.Volume.IsZero() {
		status = "FILLED"
	}
	return e.respond(msg, wire.TypePlaceOrderResponse, wire.PlaceOrderResponsePayload{
		OrderId: o.Id, ClientOrderId: clientOrderId, Status: status,
	})
}

func (e *Exchange) respondError(msg wire.Message, err error) []wire.Message {
	if oerr, ok := err.(*types.OrderError); ok {
		return []wire.Message{e.errorResponse(msg, oerr.Code, oerr.Cause)}
	}
	return []wire.Message{e.errorResponse(msg, types.ErrInsufficientLiquidity, err)}
}

func (e *Exchange) handleCancel(msg wire.Message) []wire.Message {
	var p wire.CancelOrdersPayload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownOrder, err)}
	}
	var succeeded, failed []types.OrderId
	vol := decimal.Zero
	if p.Volume != nil {
		vol = *p.Volume
	}
	for _, id := range p.OrderIds {
		ok, err := e.clearing.CancelOrder(p.BookId, id, vol)
		if err != nil || !ok {
			failed = append(failed, id)
			continue
		}
		succeeded = append(succeeded, id)
	}
	return []wire.Message{e.respond(msg, wire.TypeCancelResponse, wire.CancelOrdersResponsePayload{Succeeded: succeeded, Failed: failed})}
}

func (e *Exchange) handleClosePositions(msg wire.Message) []wire.Message {
	var p wire.ClosePositionsPayload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownOrder, err)}
	}
	agentId, err := e.sourceAgentId(msg.Source)
	if err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownOrder, err)}
	}
	errs := e.clearing.ClosePositions(p.BookId, agentId, msg.Arrival, p.OrderIds)
	if len(errs) > 0 {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownOrder, errs[0])}
	}
	return []wire.Message{e.respond(msg, wire.TypeCancelResponse, wire.CancelOrdersResponsePayload{Succeeded: p.OrderIds})}
}

func (e *Exchange) handleResetAgent(msg wire.Message) []wire.Message {
	agentId, err := e.sourceAgentId(msg.Source)
	if err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownOrder, err)}
	}
	e.clearing.ResetAgent(agentId)
	if e.queueReset != nil {
		e.queueReset.ResetAgent(msg.Source)
	}
	return []wire.Message{e.respond(msg, wire.TypeResetAgent, wire.ResetAgentPayload{})}
}

func (e *Exchange) handleRetrieveL1(msg wire.Message) []wire.Message {
	var p wire.RetrieveL1Payload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, err)}
	}
	b, ok := e.books[p.BookId]
	if !ok {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, nil)}
	}
	return []wire.Message{e.respond(msg, wire.TypeRetrieveL1, wire.RetrieveL1Response{
		BookId: p.BookId, BestBid: b.BestBid(), BestAsk: b.BestAsk(), MidPrice: b.MidPrice(),
	})}
}

func (e *Exchange) handleRetrieveL2(msg wire.Message) []wire.Message {
	var p wire.RetrieveL2Payload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, err)}
	}
	b, ok := e.books[p.BookId]
	if !ok {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, nil)}
	}
	depth := p.MaxDepth
	if depth <= 0 {
		depth = 10
	}
	bids := toL2(b.Bids(), depth)
	asks := toL2(b.Asks(), depth)
	return []wire.Message{e.respond(msg, wire.TypeRetrieveL2, wire.RetrieveL2Response{BookId: p.BookId, Bids: bids, Asks: asks})}
}

func toL2(levels []*book.TickContainer, depth int) []wire.L2Level {
	out := make([]wire.L2Level, 0, depth)
	for i, lvl := range levels {
		if i >= depth {
			break
		}
		out = append(out, wire.L2Level{Price: lvl.Price, Volume: lvl.Volume})
	}
	return out
}

func (e *Exchange) handleRetrieveOrders(msg wire.Message) []wire.Message {
	var p wire.RetrieveOrdersPayload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, err)}
	}
	b, ok := e.books[p.BookId]
	if !ok {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, nil)}
	}
	ids := e.accounts.ActiveOrders(p.AgentId, p.BookId)
	orders := make([]wire.OrderSummary, 0, len(ids))
	for _, id := range ids {
		o, ok := b.GetOrder(id)
		if !ok {
			continue
		}
		orders = append(orders, wire.OrderSummary{OrderId: o.Id, Direction: o.Direction.String(), Price: o.Price, Volume: o.Volume})
	}
	return []wire.Message{e.respond(msg, wire.TypeRetrieveOrders, wire.RetrieveOrdersResponse{BookId: p.BookId, Orders: orders})}
}

func (e *Exchange) handleSubscription(msg wire.Message, subscribe bool) []wire.Message {
	var p wire.SubscriptionPayload
	if err := msg.Decode(&p); err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, err)}
	}
	agentId, err := e.sourceAgentId(msg.Source)
	if err != nil {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownOrder, err)}
	}
	events, ok := e.subscriptions[p.BookId]
	if !ok {
		return []wire.Message{e.errorResponse(msg, types.ErrUnknownBook, nil)}
	}
	for _, ev := range p.Events {
		set, ok := events[ev]
		if !ok {
			set = make(map[types.AgentId]struct{})
			events[ev] = set
		}
		if subscribe {
			set[agentId] = struct{}{}
		} else {
			delete(set, agentId)
		}
	}
	return nil
}

// broadcast builds a notification to every subscriber of event on bookId,
// other than the originating message's own source (which already got a
// direct response).
func (e *Exchange) broadcast(bookId types.BookId, event string, original wire.Message) []wire.Message {
	subs, ok := e.subscriptions[bookId][event]
	if !ok || len(subs) == 0 {
		return nil
	}
	var out []wire.Message
	for agentId := range subs {
		name, ok := e.accounts.Name(agentId)
		if !ok || name == original.Source {
			continue
		}
		msg, err := wire.NewMessage(e.occurrence(), original.Arrival, "EXCHANGE", name, event, original.Payload)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (e *Exchange) sourceAgentId(source string) (types.AgentId, error) {
	id, ok := e.accounts.Lookup(source)
	if !ok {
		return 0, fmt.Errorf("exchange: unknown agent name %q", source)
	}
	return id, nil
}
