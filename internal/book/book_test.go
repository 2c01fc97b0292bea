package book_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrirsim/internal/book"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

func ctx(agent types.AgentId) book.ClientCtx {
	return book.ClientCtx{AgentId: agent}
}

func newTestBook() *book.Book {
	return book.NewBook(1, 2, 4, book.NopCallbacks{})
}

// S3: resting limit orders fill price-time priority, oldest order at a
// price level trades first.
func TestPriceTimePriority(t *testing.T) {
	b := newTestBook()
	first, err := b.PlaceLimitOrder(types.Buy, 1, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)
	second, err := b.PlaceLimitOrder(types.Buy, 2, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-2), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	_, err = b.PlaceMarketOrder(types.Sell, 3, decimal.FromInt(1), decimal.Zero,
		ctx(-3), types.STPNone, types.SettleFlagNone(), types.Quote)
	require.NoError(t, err)

	got, ok := b.GetOrder(first.Id)
	assert.False(t, ok, "first resting order should be fully filled and unregistered")
	_ = got
	rest, ok := b.GetOrder(second.Id)
	require.True(t, ok)
	assert.True(t, rest.Volume.Equal(decimal.FromInt(1)))
}

// A crossing limit order matches immediately instead of resting.
func TestCrossingLimitMatchesImmediately(t *testing.T) {
	b := newTestBook()
	_, err := b.PlaceLimitOrder(types.Sell, 1, decimal.FromInt(2), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	buy, err := b.PlaceLimitOrder(types.Buy, 2, decimal.FromInt(2), decimal.FromInt(105), decimal.Zero,
		ctx(-2), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	assert.True(t, b.BestAsk().IsZero())
	_, ok := b.GetOrder(buy.Id)
	assert.False(t, ok)
}

// S4: post-only orders that would cross are rejected, never resting nor
// matching.
func TestPostOnlyRejectedWhenCrossing(t *testing.T) {
	b := newTestBook()
	_, err := b.PlaceLimitOrder(types.Sell, 1, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	_, err = b.PlaceLimitOrder(types.Buy, 2, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-2), types.STPNone, types.SettleFlagNone(), true, types.GTC, nil, types.Quote)
	require.Error(t, err)
	oerr, ok := err.(*types.OrderError)
	require.True(t, ok)
	assert.Equal(t, types.ErrPostOnlyWouldCross, oerr.Code)
}

// S5: IOC orders never rest; any unfilled remainder is dropped.
func TestIOCDropsRemainder(t *testing.T) {
	b := newTestBook()
	_, err := b.PlaceLimitOrder(types.Sell, 1, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	buy, err := b.PlaceLimitOrder(types.Buy, 2, decimal.FromInt(3), decimal.FromInt(100), decimal.Zero,
		ctx(-2), types.STPNone, types.SettleFlagNone(), false, types.IOC, nil, types.Quote)
	require.NoError(t, err)
	_, ok := b.GetOrder(buy.Id)
	assert.False(t, ok)
	assert.True(t, b.BestBid().IsZero())
}

// FOK rejects entirely when the book cannot fully fill the order, and
// leaves the book untouched.
func TestFOKRejectsWhenInsufficientLiquidity(t *testing.T) {
	b := newTestBook()
	_, err := b.PlaceLimitOrder(types.Sell, 1, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	_, err = b.PlaceLimitOrder(types.Buy, 2, decimal.FromInt(3), decimal.FromInt(100), decimal.Zero,
		ctx(-2), types.STPNone, types.SettleFlagNone(), false, types.FOK, nil, types.Quote)
	require.Error(t, err)
	oerr, ok := err.(*types.OrderError)
	require.True(t, ok)
	assert.Equal(t, types.ErrFOKWouldNotFullyFill, oerr.Code)
	assert.True(t, b.BestAsk().Equal(decimal.FromInt(100)))
}

// STPCancelNew voids the aggressor without touching the resting order.
func TestSTPCancelNew(t *testing.T) {
	b := newTestBook()
	resting, err := b.PlaceLimitOrder(types.Sell, 1, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	agg, err := b.PlaceLimitOrder(types.Buy, 2, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPCancelNew, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	_, ok := b.GetOrder(agg.Id)
	assert.False(t, ok)
	stillResting, ok := b.GetOrder(resting.Id)
	require.True(t, ok)
	assert.True(t, stillResting.Volume.Equal(decimal.FromInt(1)))
}

// S7: STPCancelOld removes the resting order and lets the aggressor keep
// matching against the next resting order at the same price.
func TestSTPCancelOldContinuesMatching(t *testing.T) {
	b := newTestBook()
	_, err := b.PlaceLimitOrder(types.Sell, 1, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)
	other, err := b.PlaceLimitOrder(types.Sell, 2, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-2), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	agg, err := b.PlaceLimitOrder(types.Buy, 3, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPCancelOld, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	_, ok := b.GetOrder(agg.Id)
	assert.False(t, ok, "aggressor should fill entirely against the second resting order")
	_, ok = b.GetOrder(other.Id)
	assert.False(t, ok)
}

// Cancelling part of a resting order leaves it registered with its volume
// reduced by the cancelled amount.
func TestPartialCancel(t *testing.T) {
	b := newTestBook()
	o, err := b.PlaceLimitOrder(types.Buy, 1, decimal.FromInt(5), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)

	ok, err := b.CancelOrder(o.Id, decimal.FromInt(2))
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, ok := b.GetOrder(o.Id)
	require.True(t, ok)
	assert.True(t, remaining.Volume.Equal(decimal.FromInt(3)))
}

func TestCancelUnknownOrderReturnsFalse(t *testing.T) {
	b := newTestBook()
	ok, err := b.CancelOrder(999, decimal.Zero)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMidPriceZeroWhenOneSideEmpty(t *testing.T) {
	b := newTestBook()
	_, err := b.PlaceLimitOrder(types.Buy, 1, decimal.FromInt(1), decimal.FromInt(100), decimal.Zero,
		ctx(-1), types.STPNone, types.SettleFlagNone(), false, types.GTC, nil, types.Quote)
	require.NoError(t, err)
	assert.True(t, b.MidPrice().IsZero())
}
