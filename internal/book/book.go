// Package book implements the price-time priority matching engine (C6):
// two price-sorted sides of FIFO levels, self-trade prevention, and
// time-in-force handling. Grounded in the teacher's
// internal/engine/orderbook.go (tidwall/btree price levels, sweep-style
// Match loop) generalized from a single-asset float64 book to the
// multi-currency, leveraged, multi-TIF book §4.1 describes.
package book

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// Book is one price-time priority order book for a single (block-local)
// trading pair instance.
type Book struct {
	id types.BookId

	bids *btree.BTreeG[*TickContainer] // sorted highest price first
	asks *btree.BTreeG[*TickContainer] // sorted lowest price first

	orderIdMap map[types.OrderId]*Order

	nextOrderId types.OrderId
	nextTradeId types.TradeId

	priceDecimals  int32
	volumeDecimals int32

	callbacks Callbacks
}

// NewBook constructs an empty book. callbacks may be NopCallbacks{} for
// tests that only exercise matching mechanics.
func NewBook(id types.BookId, priceDecimals, volumeDecimals int32, callbacks Callbacks) *Book {
	if callbacks == nil {
		callbacks = NopCallbacks{}
	}
	return &Book{
		id: id,
		bids: btree.NewBTreeG(func(a, b *TickContainer) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewBTreeG(func(a, b *TickContainer) bool {
			return a.Price.LessThan(b.Price)
		}),
		orderIdMap:     make(map[types.OrderId]*Order),
		priceDecimals:  priceDecimals,
		volumeDecimals: volumeDecimals,
		callbacks:      callbacks,
	}
}

func (b *Book) Id() types.BookId { return b.id }

func (b *Book) nextOrder() types.OrderId {
	b.nextOrderId++
	return b.nextOrderId
}

func (b *Book) nextTrade() types.TradeId {
	b.nextTradeId++
	return b.nextTradeId
}

// BestBid returns the highest resting bid price, or Zero if the buy side is
// empty.
func (b *Book) BestBid() decimal.Decimal {
	if lvl, ok := b.bids.Min(); ok {
		return lvl.Price
	}
	return decimal.Zero
}

// BestAsk returns the lowest resting ask price, or Zero if the sell side is
// empty.
func (b *Book) BestAsk() decimal.Decimal {
	if lvl, ok := b.asks.Min(); ok {
		return lvl.Price
	}
	return decimal.Zero
}

// MidPrice is the average of BestBid/BestAsk, or Zero if either side is
// empty.
func (b *Book) MidPrice() decimal.Decimal {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.FromInt(2), b.priceDecimals)
}

func (b *Book) GetOrder(id types.OrderId) (*Order, bool) {
	o, ok := b.orderIdMap[id]
	return o, ok
}

// PlaceMarketOrder places and immediately attempts to match a market order
// (§4.1).
func (b *Book) PlaceMarketOrder(
	direction types.Side,
	ts types.Timestamp,
	volume, leverage decimal.Decimal,
	ctx ClientCtx,
	stpFlag types.STPFlag,
	settleFlag types.SettleFlag,
	currency types.Currency,
) (*Order, error) {
	volume = volume.Round(b.volumeDecimals)
	leverage = leverage.Round(b.volumeDecimals)
	if volume.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewOrderError(types.ErrInvalidVolume, fmt.Errorf("volume rounds to zero"))
	}

	o := &Order{
		Id:         b.nextOrder(),
		BookId:     b.id,
		Timestamp:  ts,
		Direction:  direction,
		Kind:       Market,
		Volume:     volume,
		Leverage:   leverage,
		STPFlag:    stpFlag,
		SettleFlag: settleFlag,
		Currency:   currency,
		TIF:        IOCForMarket,
		Ctx:        ctx,
	}

	if o.TIF == types.FOK {
		if !b.canFullyMatch(o, false, decimal.Zero) {
			return nil, types.NewOrderError(types.ErrFOKWouldNotFullyFill, nil)
		}
	}

	b.orderIdMap[o.Id] = o
	b.callbacks.OrderCreated(b.id, o)
	b.match(o, false, decimal.Zero)

	// Market orders never rest; any unfilled remainder is simply dropped
	// (there is no liquidity left to take).
	if o.Volume.IsPositive() {
		b.callbacks.CancelOrderDetails(b.id, o, o.Volume)
	}
	b.unregister(o)
	return o, nil
}

// IOCForMarket is the effective time-in-force every market order carries:
// it either fills against the book now or its remainder is dropped.
const IOCForMarket = types.IOC

// PlaceLimitOrder places a limit order, matching what it can and resting
// the remainder subject to postOnly/TIF (§4.1).
func (b *Book) PlaceLimitOrder(
	direction types.Side,
	ts types.Timestamp,
	volume, price, leverage decimal.Decimal,
	ctx ClientCtx,
	stpFlag types.STPFlag,
	settleFlag types.SettleFlag,
	postOnly bool,
	tif types.TimeInForce,
	expiry *types.Timestamp,
	currency types.Currency,
) (*Order, error) {
	volume = volume.Round(b.volumeDecimals)
	leverage = leverage.Round(b.volumeDecimals)
	price = price.Round(b.priceDecimals)
	if volume.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewOrderError(types.ErrInvalidVolume, fmt.Errorf("volume rounds to zero"))
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewOrderError(types.ErrInvalidPrice, fmt.Errorf("price rounds to non-positive"))
	}

	if postOnly && b.wouldCross(direction, price) {
		return nil, types.NewOrderError(types.ErrPostOnlyWouldCross, nil)
	}

	o := &Order{
		Id:         b.nextOrder(),
		BookId:     b.id,
		Timestamp:  ts,
		Direction:  direction,
		Kind:       Limit,
		Volume:     volume,
		Leverage:   leverage,
		STPFlag:    stpFlag,
		SettleFlag: settleFlag,
		Currency:   currency,
		Price:      price,
		PostOnly:   postOnly,
		TIF:        tif,
		Expiry:     expiry,
		Ctx:        ctx,
	}

	if tif == types.FOK {
		if !b.canFullyMatch(o, true, price) {
			return nil, types.NewOrderError(types.ErrFOKWouldNotFullyFill, nil)
		}
	}

	b.orderIdMap[o.Id] = o
	b.callbacks.OrderCreated(b.id, o)
	b.match(o, true, price)

	if o.Volume.LessThanOrEqual(decimal.Zero) {
		b.unregister(o)
		return o, nil
	}

	switch tif {
	case types.IOC, types.FOK:
		// No residual resting volume permitted (P7).
		remainder := o.Volume
		o.Volume = decimal.Zero
		b.callbacks.CancelOrderDetails(b.id, o, remainder)
		b.unregister(o)
	default:
		b.restLimit(o)
	}
	return o, nil
}

// wouldCross reports whether a limit order at price on the given side
// would immediately take liquidity (used for postOnly rejection).
func (b *Book) wouldCross(direction types.Side, price decimal.Decimal) bool {
	if direction == types.Buy {
		if lvl, ok := b.asks.Min(); ok {
			return price.GreaterThanOrEqual(lvl.Price)
		}
		return false
	}
	if lvl, ok := b.bids.Min(); ok {
		return price.LessThanOrEqual(lvl.Price)
	}
	return false
}

// canFullyMatch performs a read-only walk of the opposing side to check
// whether the aggressor's full totalVolume is coverable, for FOK's
// match-or-nothing pre-check (§4.1). It never mutates book state.
func (b *Book) canFullyMatch(o *Order, hasCap bool, capPrice decimal.Decimal) bool {
	opposing := b.asks
	if o.Direction == types.Sell {
		opposing = b.bids
	}
	need := o.TotalVolume()
	var levels []*TickContainer
	opposing.Scan(func(lvl *TickContainer) bool {
		if hasCap {
			if o.Direction == types.Buy && lvl.Price.GreaterThan(capPrice) {
				return false
			}
			if o.Direction == types.Sell && lvl.Price.LessThan(capPrice) {
				return false
			}
		}
		levels = append(levels, lvl)
		return true
	})
	for _, lvl := range levels {
		for _, ord := range lvl.Orders {
			if ord.Ctx.AgentId == o.Ctx.AgentId && o.STPFlag != types.STPNone {
				continue // self-trades never contribute liquidity under STP
			}
			need = need.Sub(ord.TotalVolume())
			if need.LessThanOrEqual(decimal.Zero) {
				return true
			}
		}
	}
	return need.LessThanOrEqual(decimal.Zero)
}

// restLimit inserts a limit order's remainder onto its side, creating a new
// price level if none exists.
func (b *Book) restLimit(o *Order) {
	side := b.asks
	if o.Direction == types.Buy {
		side = b.bids
	}
	if lvl, ok := side.Get(&TickContainer{Price: o.Price}); ok {
		lvl.append(o)
	} else {
		lvl := newLevel(o.Price)
		lvl.append(o)
		side.Set(lvl)
	}
}

// match sweeps the opposing side against the aggressor while prices cross,
// applying price-time priority and self-trade prevention (§4.1).
func (b *Book) match(aggressor *Order, hasCap bool, capPrice decimal.Decimal) {
	opposing := b.asks
	if aggressor.Direction == types.Sell {
		opposing = b.bids
	}

	for aggressor.Volume.IsPositive() {
		level, ok := opposing.Min()
		if !ok {
			return
		}
		if hasCap {
			if aggressor.Direction == types.Buy && level.Price.GreaterThan(capPrice) {
				return
			}
			if aggressor.Direction == types.Sell && level.Price.LessThan(capPrice) {
				return
			}
		}

		resting := level.front()
		if resting == nil {
			opposing.Delete(level)
			continue
		}

		if resting.Ctx.AgentId == aggressor.Ctx.AgentId && aggressor.STPFlag != types.STPNone {
			exit := b.applySTP(aggressor, resting, level, opposing)
			if exit {
				return
			}
			continue
		}

		restingPrice := resting.Price.Round(b.priceDecimals)
		if restingPrice.LessThanOrEqual(decimal.Zero) {
			restingPrice = decimal.New(1, -b.priceDecimals)
		}

		size := decimal.Min(aggressor.TotalVolume(), resting.TotalVolume())
		tradeId := b.nextTrade()
		b.callbacks.Trade(b.id, tradeId, aggressor, resting, restingPrice, size)

		aggDelta := aggressor.volumeFromTotal(size)
		restDelta := resting.volumeFromTotal(size)

		aggressor.Volume = decimal.Max(decimal.Zero, aggressor.Volume.Sub(aggDelta))
		resting.Volume = decimal.Max(decimal.Zero, resting.Volume.Sub(restDelta))
		level.Volume = decimal.Max(decimal.Zero, level.Volume.Sub(restDelta))

		if resting.Volume.Round(b.volumeDecimals).LessThanOrEqual(decimal.Zero) {
			level.popFront()
			b.unregister(resting)
		}
		if level.empty() {
			opposing.Delete(level)
		}
	}
}

// applySTP runs self-trade prevention when the resting top-of-queue order
// belongs to the same agent as the aggressor (§4.1). Returns true if the
// aggressor is fully resolved and matching should stop.
func (b *Book) applySTP(aggressor, resting *Order, level *TickContainer, opposing *btree.BTreeG[*TickContainer]) bool {
	switch aggressor.STPFlag {
	case types.STPCancelNew:
		aggressor.Volume = decimal.Zero
		return true

	case types.STPCancelOld:
		b.cancelResting(resting, level, opposing)
		return false

	case types.STPCancelBoth:
		b.cancelResting(resting, level, opposing)
		aggressor.Volume = decimal.Zero
		return true

	case types.STPDecrementCancel:
		aggTotal, restTotal := aggressor.TotalVolume(), resting.TotalVolume()
		switch {
		case aggTotal.Equal(restTotal):
			b.cancelResting(resting, level, opposing)
			aggressor.Volume = decimal.Zero
			return true
		case restTotal.LessThan(aggTotal):
			dec := resting.Volume
			b.cancelResting(resting, level, opposing)
			aggressor.Volume = decimal.Max(decimal.Zero, aggressor.Volume.Sub(dec))
			return false
		default:
			dec := aggressor.Volume
			resting.Volume = decimal.Max(decimal.Zero, resting.Volume.Sub(dec))
			level.Volume = decimal.Max(decimal.Zero, level.Volume.Sub(dec))
			b.callbacks.CancelOrderDetails(b.id, resting, dec)
			aggressor.Volume = decimal.Zero
			return true
		}

	default:
		log.Error().Str("flag", aggressor.STPFlag.String()).Msg("book: applySTP called with STPNone")
		return false
	}
}

// cancelResting fully removes a resting order: pops it from its level,
// deletes the level if now empty, and unregisters it.
func (b *Book) cancelResting(resting *Order, level *TickContainer, opposing *btree.BTreeG[*TickContainer]) {
	volume := resting.Volume
	level.removeById(func(o *Order) bool { return o.Id == resting.Id })
	if level.empty() {
		opposing.Delete(level)
	}
	b.callbacks.CancelOrderDetails(b.id, resting, volume)
	b.unregister(resting)
}

// CancelOrder cancels up to volume (Zero meaning full) of a resting order.
// Returns false if id is unknown (§4.1).
func (b *Book) CancelOrder(id types.OrderId, volume decimal.Decimal) (bool, error) {
	o, ok := b.orderIdMap[id]
	if !ok {
		return false, nil
	}

	side := b.asks
	if o.Direction == types.Buy {
		side = b.bids
	}
	level, ok := side.Get(&TickContainer{Price: o.Price})
	if !ok {
		return false, nil
	}

	requested := volume
	if requested.IsZero() || requested.GreaterThan(o.Volume) {
		requested = o.Volume
	}
	requested = requested.Round(b.volumeDecimals)

	o.Volume = o.Volume.Sub(requested)
	level.Volume = decimal.Max(decimal.Zero, level.Volume.Sub(requested))
	b.callbacks.CancelOrderDetails(b.id, o, requested)

	if o.Volume.LessThanOrEqual(decimal.Zero) {
		level.removeById(func(ord *Order) bool { return ord.Id == id })
		if level.empty() {
			side.Delete(level)
		}
		b.unregister(o)
	}
	return true, nil
}

func (b *Book) unregister(o *Order) {
	delete(b.orderIdMap, o.Id)
	b.callbacks.Unregister(b.id, o)
}

// Bids and Asks expose the resting levels for read-only queries (L1/L2,
// checkpointing), best price first: Bids from highest to lowest price, Asks
// from lowest to highest.
func (b *Book) Bids() []*TickContainer { return b.levels(b.bids) }
func (b *Book) Asks() []*TickContainer { return b.levels(b.asks) }

func (b *Book) levels(tree *btree.BTreeG[*TickContainer]) []*TickContainer {
	var out []*TickContainer
	tree.Scan(func(lvl *TickContainer) bool {
		out = append(out, lvl)
		return true
	})
	return out
}
