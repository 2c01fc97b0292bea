// Package clearing implements the ClearingManager (C7): pre-placement
// validation and collateral reservation, post-match settlement driven by
// book.Callbacks, and per-step margin-call evaluation. Grounded in the
// teacher's server-side order handling (internal/net/server.go's dispatch
// of place/cancel onto the engine) generalized into the spec's full
// validate-reserve-match-settle pipeline.
package clearing

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"fenrirsim/internal/account"
	"fenrirsim/internal/balance"
	"fenrirsim/internal/book"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/fee"
	"fenrirsim/internal/record"
	"fenrirsim/internal/types"
)

// Config bundles the per-book precision and risk parameters from
// ExchangeConfig (§6) that validation and settlement need.
type Config struct {
	PriceDecimals     int32
	VolumeDecimals    int32
	BaseDecimals      int32
	QuoteDecimals     int32
	MaxLeverage       decimal.Decimal
	MaintenanceMargin decimal.Decimal
	MaxOpenOrders     int
}

func (c Config) balanceDecimals() balance.Decimals {
	return balance.Decimals{Price: c.PriceDecimals, Volume: c.VolumeDecimals, Base: c.BaseDecimals, Quote: c.QuoteDecimals}
}

// Manager is C7: it owns no book itself (books are registered by the
// exchange that constructs them) but is the sole writer of every
// account's Balances and the sole source of margin-call liquidation
// orders.
type Manager struct {
	cfg      Config
	accounts *account.Registry
	fees     *fee.Policy
	rec      *record.Record
	books    map[types.BookId]*book.Book

	marginBuys  map[types.BookId]*marginMap
	marginSells map[types.BookId]*marginMap

	liquidationSeq uint64
}

func New(cfg Config, accounts *account.Registry, fees *fee.Policy, rec *record.Record) *Manager {
	return &Manager{
		cfg:         cfg,
		accounts:    accounts,
		fees:        fees,
		rec:         rec,
		books:       make(map[types.BookId]*book.Book),
		marginBuys:  make(map[types.BookId]*marginMap),
		marginSells: make(map[types.BookId]*marginMap),
	}
}

// RegisterBook associates a book with this manager so its callbacks route
// here; the exchange calls this once per book at startup.
func (m *Manager) RegisterBook(bookId types.BookId, b *book.Book) {
	m.books[bookId] = b
	m.marginBuys[bookId] = newMarginMap()
	m.marginSells[bookId] = newMarginMap()
}

// PlaceOrderRequest is the validated shape ClearingManager.PlaceMarketOrder
// / PlaceLimitOrder accept; it mirrors the wire payload (§6) after
// deserialization.
type PlaceOrderRequest struct {
	BookId     types.BookId
	AgentId    types.AgentId
	Timestamp  types.Timestamp
	Direction  types.Side
	Volume     decimal.Decimal
	Price      decimal.Decimal // ignored for market orders
	Leverage   decimal.Decimal
	Currency   types.Currency
	STPFlag       types.STPFlag
	SettleFlag    types.SettleFlag
	ClientOrderId string
	PostOnly      bool
	TIF           types.TimeInForce
	Expiry        *types.Timestamp
}

// PlaceMarketOrder validates, reserves, and places a market order (§4.1,
// §4.2).
func (m *Manager) PlaceMarketOrder(req PlaceOrderRequest) (*book.Order, error) {
	b, ok := m.books[req.BookId]
	if !ok {
		return nil, types.NewOrderError(types.ErrUnknownBook, nil)
	}

	volume := req.Volume.Round(m.cfg.VolumeDecimals)
	if req.Currency == types.Quote {
		converted, err := m.convertQuoteMarketVolume(b, req.Direction, volume)
		if err != nil {
			return nil, err
		}
		volume = converted
	}
	if volume.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewOrderError(types.ErrInvalidVolume, nil)
	}

	if err := m.validateCommon(req.BookId, req.AgentId, req.Leverage); err != nil {
		return nil, err
	}

	bal, err := m.requireBalances(req.AgentId, req.BookId)
	if err != nil {
		return nil, err
	}

	reservePrice := m.estimatedPrice(b, req.Direction)
	if reservePrice.IsZero() {
		return nil, types.NewOrderError(types.ErrInsufficientLiquidity, fmt.Errorf("no resting liquidity to price collateral"))
	}
	reserveAmount := m.naturalReserveAmount(req.Direction, volume, reservePrice)
	if !bal.CanBorrow(reserveAmount, reservePrice, req.Direction) {
		return nil, types.NewOrderError(types.ErrInsufficientBalance, nil)
	}

	ctx := book.ClientCtx{AgentId: req.AgentId, ClientOrderId: req.ClientOrderId}
	o, err := b.PlaceMarketOrder(req.Direction, req.Timestamp, volume, req.Leverage, ctx, req.STPFlag, req.SettleFlag, req.Currency)
	if err != nil {
		return nil, err
	}

	if rerr := bal.MakeReservation(o.Id, reservePrice, reserveAmount, req.Leverage, req.Direction); rerr != nil {
		log.Error().Err(rerr).Msg("clearing: reservation after market placement failed")
	}
	return o, nil
}

// PlaceLimitOrder validates, reserves, and places a limit order (§4.1,
// §4.2).
func (m *Manager) PlaceLimitOrder(req PlaceOrderRequest) (*book.Order, error) {
	b, ok := m.books[req.BookId]
	if !ok {
		return nil, types.NewOrderError(types.ErrUnknownBook, nil)
	}

	volume := req.Volume.Round(m.cfg.VolumeDecimals)
	price := req.Price.Round(m.cfg.PriceDecimals)
	if req.Currency == types.Quote {
		converted := volume.Div(price, m.cfg.VolumeDecimals)
		volume = converted
	}
	if volume.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewOrderError(types.ErrInvalidVolume, nil)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewOrderError(types.ErrInvalidPrice, nil)
	}

	if err := m.validateCommon(req.BookId, req.AgentId, req.Leverage); err != nil {
		return nil, err
	}

	bal, err := m.requireBalances(req.AgentId, req.BookId)
	if err != nil {
		return nil, err
	}

	reserveAmount := m.naturalReserveAmount(req.Direction, volume, price)
	if !bal.CanBorrow(reserveAmount, price, req.Direction) {
		return nil, types.NewOrderError(types.ErrInsufficientBalance, nil)
	}

	ctx := book.ClientCtx{AgentId: req.AgentId, ClientOrderId: req.ClientOrderId}
	o, err := b.PlaceLimitOrder(req.Direction, req.Timestamp, volume, price, req.Leverage, ctx,
		req.STPFlag, req.SettleFlag, req.PostOnly, req.TIF, req.Expiry, req.Currency)
	if err != nil {
		return nil, err
	}

	if rerr := bal.MakeReservation(o.Id, price, reserveAmount, req.Leverage, req.Direction); rerr != nil {
		log.Error().Err(rerr).Msg("clearing: reservation after limit placement failed")
	}
	return o, nil
}

// CancelOrder cancels up to volume of a resting order and frees its
// collateral.
func (m *Manager) CancelOrder(bookId types.BookId, orderId types.OrderId, volume decimal.Decimal) (bool, error) {
	b, ok := m.books[bookId]
	if !ok {
		return false, types.NewOrderError(types.ErrUnknownBook, nil)
	}
	return b.CancelOrder(orderId, volume)
}

// ClosePositions closes a specific loan id via a counter-market order sized
// to the outstanding loan, forcing settlement of that exact loan (§4.5
// CLOSE_POSITIONS, distinct from a margin-call triggered liquidation).
func (m *Manager) ClosePositions(bookId types.BookId, agentId types.AgentId, ts types.Timestamp, orderIds []types.OrderId) []error {
	errs := make([]error, 0, len(orderIds))
	for _, id := range orderIds {
		if err := m.closeOne(bookId, agentId, ts, id, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (m *Manager) closeOne(bookId types.BookId, agentId types.AgentId, ts types.Timestamp, loanOrderId types.OrderId, suffix string) error {
	bal, ok := m.accounts.Balances(agentId, bookId)
	if !ok {
		return types.NewOrderError(types.ErrUnknownOrder, nil)
	}
	loan, ok := bal.Loan(loanOrderId)
	if !ok {
		return types.NewOrderError(types.ErrUnknownOrder, nil)
	}
	b, ok := m.books[bookId]
	if !ok {
		return types.NewOrderError(types.ErrUnknownBook, nil)
	}

	closingDirection := loan.Direction.Opposite()
	clientOrderId := fmt.Sprintf("close-%d%s", loanOrderId, suffix)
	ctx := book.ClientCtx{AgentId: agentId, ClientOrderId: clientOrderId}

	_, err := b.PlaceMarketOrder(closingDirection, ts, loan.Amount, decimal.Zero, ctx, types.STPCancelOld,
		types.SettleFlagFor(loanOrderId), types.Base)
	return err
}

// EvaluateMarginCalls runs once per step per book: any leveraged long whose
// marginCallPrice has been reached by the current bestBid (inclusive), and
// any leveraged short whose marginCallPrice has been reached by bestAsk
// (inclusive), is liquidated with a high-priority closing market order
// tagged "_MC" (§4.2, §8 S6).
func (m *Manager) EvaluateMarginCalls(bookId types.BookId, ts types.Timestamp) []*book.Order {
	b, ok := m.books[bookId]
	if !ok {
		return nil
	}
	var closed []*book.Order

	if bestBid := b.BestBid(); bestBid.IsPositive() {
		for _, hit := range m.marginBuys[bookId].triggeredByBidAtOrBelow(bestBid) {
			if o := m.liquidate(bookId, hit, ts); o != nil {
				closed = append(closed, o)
			}
		}
	}
	if bestAsk := b.BestAsk(); bestAsk.IsPositive() {
		for _, hit := range m.marginSells[bookId].triggeredByAskAtOrAbove(bestAsk) {
			if o := m.liquidate(bookId, hit, ts); o != nil {
				closed = append(closed, o)
			}
		}
	}
	return closed
}

func (m *Manager) liquidate(bookId types.BookId, hit marginHit, ts types.Timestamp) *book.Order {
	bal, ok := m.accounts.Balances(hit.AgentId, bookId)
	if !ok {
		return nil
	}
	loan, ok := bal.Loan(hit.OrderId)
	if !ok {
		return nil
	}
	b, ok := m.books[bookId]
	if !ok {
		return nil
	}

	m.liquidationSeq++
	closingDirection := loan.Direction.Opposite()
	ctx := book.ClientCtx{AgentId: hit.AgentId, ClientOrderId: fmt.Sprintf("mc-%d_MC", hit.OrderId)}

	o, err := b.PlaceMarketOrder(closingDirection, ts, loan.Amount, decimal.Zero, ctx, types.STPCancelOld,
		types.SettleFlagFor(hit.OrderId), types.Base)
	if err != nil {
		log.Error().Err(err).Uint64("orderId", uint64(hit.OrderId)).Msg("clearing: margin-call liquidation order rejected")
		return nil
	}
	log.Info().
		Uint32("book", uint32(bookId)).
		Int64("agent", int64(hit.AgentId)).
		Uint64("loanOrderId", uint64(hit.OrderId)).
		Str("marginCallPrice", hit.Price.String()).
		Msg("clearing: margin call liquidation issued")
	return o
}

// EndStep runs the per-step housekeeping §4.4 and §8 P4 require: expiring
// rolling fee-tier volume older than the window, and clearing the L3
// record buffer so it never accumulates past one step's worth of events.
func (m *Manager) EndStep(ts types.Timestamp) {
	m.fees.UpdateFeeTiers(ts)
	m.rec.ClearAll()
}

// ResetAgent cancels every open order the agent holds across all books,
// voids their reservations, restores its Balances to their initial
// snapshot, and erases fee-tier history (§4.5 RESET_AGENT). Dropping the
// agent's queued-but-undelivered messages is a Scheduler-level concern
// (§4.6) the exchange layer triggers separately through its
// MessageQueueResetter hook.
func (m *Manager) ResetAgent(agentId types.AgentId) {
	cleared := m.accounts.ResetAgent(agentId)
	for bookId, ids := range cleared {
		b, ok := m.books[bookId]
		if !ok {
			continue
		}
		for _, id := range ids {
			if _, err := b.CancelOrder(id, decimal.Zero); err != nil {
				log.Error().Err(err).Msg("clearing: reset-agent cancel failed")
			}
		}
	}
	m.accounts.RestoreInitialBalances(agentId)
	for bookId := range m.books {
		m.marginBuys[bookId].removeAgent(agentId)
		m.marginSells[bookId].removeAgent(agentId)
	}
	m.fees.ResetHistory([]types.AgentId{agentId})
}

// --- book.Callbacks implementation -----------------------------------------

func (m *Manager) OrderCreated(bookId types.BookId, o *book.Order) {
	m.accounts.AddActiveOrder(o.Ctx.AgentId, bookId, o.Id)
	m.rec.AppendOrder(bookId, o.Timestamp, record.OrderEvent{
		OrderId: o.Id, Direction: o.Direction, Kind: o.Kind.String(),
		Price: o.Price, Volume: o.Volume, AgentId: o.Ctx.AgentId, ClientOrderId: o.Ctx.ClientOrderId,
	})
}

func (m *Manager) Trade(bookId types.BookId, tradeId types.TradeId, aggressor, resting *book.Order, price, size decimal.Decimal) {
	aggBal, aggOk := m.accounts.Balances(aggressor.Ctx.AgentId, bookId)
	restBal, restOk := m.accounts.Balances(resting.Ctx.AgentId, bookId)
	if !aggOk || !restOk {
		log.Error().Msg("clearing: trade callback for agent with no Balances")
		return
	}

	notional := size.Mul(price).Round(m.cfg.QuoteDecimals)
	takerRate := m.fees.GetRates(bookId, aggressor.Ctx.AgentId).Taker
	makerRate := m.fees.GetRates(bookId, resting.Ctx.AgentId).Maker
	takerFee := notional.Mul(takerRate).Round(m.cfg.QuoteDecimals)
	makerFee := notional.Mul(makerRate).Round(m.cfg.QuoteDecimals)

	if err := m.settleSide(aggBal, aggressor, price, size, notional, takerFee); err != nil {
		log.Error().Err(err).Msg("clearing: aggressor settlement failed")
	}
	if err := m.settleSide(restBal, resting, price, size, notional, makerFee); err != nil {
		log.Error().Err(err).Msg("clearing: resting settlement failed")
	}

	m.fees.RecordVolume(bookId, aggressor.Ctx.AgentId, aggressor.Timestamp, size)
	m.fees.RecordVolume(bookId, resting.Ctx.AgentId, resting.Timestamp, size)

	m.trackLoan(bookId, aggressor.Ctx.AgentId, aggressor.Id, aggressor.Direction, aggBal)
	m.trackLoan(bookId, resting.Ctx.AgentId, resting.Id, resting.Direction, restBal)

	cause := ""
	if isMarginCallOrder(aggressor.Ctx.ClientOrderId) {
		cause = "_MC"
	}
	m.rec.AppendTrade(bookId, aggressor.Timestamp, record.TradeEvent{
		TradeId: tradeId, AggressorId: aggressor.Id, RestingId: resting.Id,
		AggressorAgent: aggressor.Ctx.AgentId, RestingAgent: resting.Ctx.AgentId,
		Price: price, Volume: size, Cause: cause,
	})
}

func (m *Manager) settleSide(bal *balance.Balances, o *book.Order, price, size, notional, fee decimal.Decimal) error {
	var amount, counterAmount decimal.Decimal
	if o.Direction == types.Buy {
		amount, counterAmount = notional, size
	} else {
		amount, counterAmount = size, notional
	}
	return bal.Commit(o.Id, o.Direction, price, amount, counterAmount, fee, m.cfg.MaintenanceMargin, o.SettleFlag)
}

// trackLoan registers/updates a margin-call entry after a leveraged fill;
// entries are erased only once Unregister confirms the position fully
// settled (the (a) choice from §9's Open Question).
func (m *Manager) trackLoan(bookId types.BookId, agentId types.AgentId, orderId types.OrderId, direction types.Side, bal *balance.Balances) {
	loan, ok := bal.Loan(orderId)
	if !ok || loan.Amount.IsZero() {
		return
	}
	if direction == types.Buy {
		m.marginBuys[bookId].insert(loan.MarginCallPrice, orderId, agentId)
	} else {
		m.marginSells[bookId].insert(loan.MarginCallPrice, orderId, agentId)
	}
}

func (m *Manager) CancelOrderDetails(bookId types.BookId, o *book.Order, cancelledVolume decimal.Decimal) {
	if bal, ok := m.accounts.Balances(o.Ctx.AgentId, bookId); ok {
		amount := cancelledVolume
		if o.Direction == types.Buy {
			amount = cancelledVolume.Mul(o.Price).Round(m.cfg.QuoteDecimals)
		}
		if err := bal.FreeReservation(o.Id, o.Price, o.Direction, amount); err != nil {
			log.Error().Err(err).Msg("clearing: freeReservation on cancel failed")
		}
	}
	m.rec.AppendCancellation(bookId, o.Timestamp, record.CancellationEvent{
		OrderId: o.Id, AgentId: o.Ctx.AgentId, CancelledVolume: cancelledVolume,
	})
}

// Unregister erases a margin-call entry only once the loan it tracks is
// confirmed gone from Balances (the (a) choice from §9's Open Question).
// A plain leveraged order is its own loan, so o.Id is the loan id; a
// margin-call or CLOSE_POSITIONS closing order instead settles a loan
// named by its SettleFlag, so that id is checked instead — the closing
// order's own Price/Id were never the key the loan was inserted under.
func (m *Manager) Unregister(bookId types.BookId, o *book.Order) {
	m.accounts.RemoveActiveOrder(o.Ctx.AgentId, bookId, o.Id)
	bal, ok := m.accounts.Balances(o.Ctx.AgentId, bookId)
	if !ok {
		return
	}

	loanId := o.Id
	loanDirection := o.Direction
	if o.SettleFlag.Kind == types.SettleOrderId {
		loanId = o.SettleFlag.OrderId
		loanDirection = o.Direction.Opposite()
	}

	if _, hasLoan := bal.Loan(loanId); hasLoan {
		return
	}
	if loanDirection == types.Buy {
		m.marginBuys[bookId].removeOrderAnyPrice(loanId)
	} else {
		m.marginSells[bookId].removeOrderAnyPrice(loanId)
	}
}

// --- validation helpers ------------------------------------------------

func (m *Manager) validateCommon(bookId types.BookId, agentId types.AgentId, leverage decimal.Decimal) error {
	if leverage.IsNegative() || leverage.GreaterThan(m.cfg.MaxLeverage) {
		return types.NewOrderError(types.ErrInvalidLeverage, nil)
	}
	if m.accounts.ActiveOrderCount(agentId, bookId) >= m.cfg.MaxOpenOrders {
		return types.NewOrderError(types.ErrActiveOrderCapExceeded, nil)
	}
	return nil
}

func (m *Manager) requireBalances(agentId types.AgentId, bookId types.BookId) (*balance.Balances, error) {
	bal, ok := m.accounts.Balances(agentId, bookId)
	if !ok {
		return nil, types.NewOrderError(types.ErrUnknownOrder, fmt.Errorf("no balances seeded for agent %d book %d", agentId, bookId))
	}
	return bal, nil
}

// naturalReserveAmount is the amount to reserve in the natural currency for
// a prospective order, before any leveraged base/quote split (§4.3).
func (m *Manager) naturalReserveAmount(direction types.Side, volume, price decimal.Decimal) decimal.Decimal {
	if direction == types.Buy {
		return volume.Mul(price).Round(m.cfg.QuoteDecimals)
	}
	return volume.Round(m.cfg.BaseDecimals)
}

// estimatedPrice is the price used to reserve collateral for a market
// order: the opposing side's current top of book. Market orders reserve
// against a snapshot price since there is no order price to reserve
// against directly (§4.2).
func (m *Manager) estimatedPrice(b *book.Book, direction types.Side) decimal.Decimal {
	if direction == types.Buy {
		return b.BestAsk()
	}
	return b.BestBid()
}

// convertQuoteMarketVolume converts a quote-denominated market order's
// requested amount into a base volume by walking the opposing side,
// accumulating notional until it is exhausted (§4.2's currency=QUOTE
// dual-conversion path). Returns ErrInsufficientLiquidity if the book
// cannot absorb the full quote amount.
func (m *Manager) convertQuoteMarketVolume(b *book.Book, direction types.Side, quoteAmount decimal.Decimal) (decimal.Decimal, error) {
	levels := b.Asks()
	if direction == types.Sell {
		levels = b.Bids()
	}
	remaining := quoteAmount
	base := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		levelNotional := lvl.Volume.Mul(lvl.Price).Round(m.cfg.QuoteDecimals)
		if levelNotional.LessThanOrEqual(remaining) {
			base = base.Add(lvl.Volume)
			remaining = remaining.Sub(levelNotional)
		} else {
			base = base.Add(remaining.Div(lvl.Price, m.cfg.VolumeDecimals))
			remaining = decimal.Zero
		}
	}
	if remaining.IsPositive() {
		return decimal.Zero, types.NewOrderError(types.ErrInsufficientLiquidity, nil)
	}
	return base.Round(m.cfg.VolumeDecimals), nil
}

func isMarginCallOrder(clientOrderId string) bool {
	if len(clientOrderId) < 3 {
		return false
	}
	return clientOrderId[len(clientOrderId)-3:] == "_MC"
}
