package exchange_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrirsim/internal/account"
	"fenrirsim/internal/balance"
	"fenrirsim/internal/clearing"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/exchange"
	"fenrirsim/internal/fee"
	"fenrirsim/internal/record"
	"fenrirsim/internal/types"
	"fenrirsim/internal/wire"
)

func newExchange(t *testing.T) (*exchange.Exchange, *account.Registry, types.BookId) {
	t.Helper()
	cfg := clearing.Config{
		PriceDecimals: 4, VolumeDecimals: 4, BaseDecimals: 4, QuoteDecimals: 4,
		MaxLeverage: decimal.FromInt(5), MaintenanceMargin: decimal.New(2, -1), MaxOpenOrders: 100,
	}
	accounts := account.New()
	fees := fee.New([]fee.Tier{{VolumeRequired: decimal.Zero, MakerRate: decimal.Zero, TakerRate: decimal.Zero}}, 1000)
	rec := record.New()
	mgr := clearing.New(cfg, accounts, fees, rec)
	ex := exchange.New(0, 1, mgr, accounts)

	bookId := types.BookId(0)
	ex.RegisterBook(bookId, 4, 4)
	return ex, accounts, bookId
}

func seedAgent(accounts *account.Registry, name string, bookId types.BookId) types.AgentId {
	id := accounts.RegisterLocal(name)
	decimals := balance.Decimals{Price: 4, Volume: 4, Base: 4, Quote: 4}
	accounts.EnsureBalances(id, bookId, decimal.FromInt(1000), decimal.FromInt(1000), decimals)
	return id
}

func TestDispatchPlaceLimitOrderRespondsRested(t *testing.T) {
	ex, accounts, bookId := newExchange(t)
	agentId := seedAgent(accounts, "alice", bookId)

	payload := wire.PlaceOrderLimitPayload{
		PlaceOrderMarketPayload: wire.PlaceOrderMarketPayload{
			AgentId: agentId, BookId: bookId, Direction: "BUY",
			Volume: decimal.FromInt(1), Leverage: decimal.Zero, Currency: "BASE",
			STPFlag: "NONE", SettleFlag: wire.SettleFlagWire{Kind: "NONE"},
		},
		Price: decimal.FromInt(100), TimeInForce: "GTC",
	}
	msg, err := wire.NewMessage(1, 0, "alice", wire.TargetExchange, wire.TypePlaceOrderLimit, payload)
	require.NoError(t, err)

	resp := ex.Dispatch(msg)
	require.Len(t, resp, 1)
	assert.Equal(t, wire.TypePlaceOrderResponse, resp[0].Type)

	var placed wire.PlaceOrderResponsePayload
	require.NoError(t, resp[0].Decode(&placed))
	assert.Equal(t, "RESTED", placed.Status)
}

func TestDispatchPlaceMarketOrderWithNoLiquidityErrors(t *testing.T) {
	ex, accounts, bookId := newExchange(t)
	agentId := seedAgent(accounts, "alice", bookId)

	payload := wire.PlaceOrderMarketPayload{
		AgentId: agentId, BookId: bookId, Direction: "BUY",
		Volume: decimal.FromInt(1), Leverage: decimal.Zero, Currency: "BASE",
		STPFlag: "NONE", SettleFlag: wire.SettleFlagWire{Kind: "NONE"},
	}
	msg, err := wire.NewMessage(1, 0, "alice", wire.TargetExchange, wire.TypePlaceOrderMarket, payload)
	require.NoError(t, err)

	resp := ex.Dispatch(msg)
	require.Len(t, resp, 1)
	assert.Equal(t, wire.TypeErrorResponse, resp[0].Type)
}

func TestDispatchUnknownMessageTypeReturnsError(t *testing.T) {
	ex, _, _ := newExchange(t)
	msg, err := wire.NewMessage(1, 0, "alice", wire.TargetExchange, "NOT_A_REAL_TYPE", struct{}{})
	require.NoError(t, err)

	resp := ex.Dispatch(msg)
	require.Len(t, resp, 1)
	assert.Equal(t, wire.TypeErrorResponse, resp[0].Type)
}

func TestRetrieveL1ReturnsBestBidAsk(t *testing.T) {
	ex, accounts, bookId := newExchange(t)
	agentId := seedAgent(accounts, "alice", bookId)

	place, _ := wire.NewMessage(1, 0, "alice", wire.TargetExchange, wire.TypePlaceOrderLimit, wire.PlaceOrderLimitPayload{
		PlaceOrderMarketPayload: wire.PlaceOrderMarketPayload{
			AgentId: agentId, BookId: bookId, Direction: "BUY",
			Volume: decimal.FromInt(1), Leverage: decimal.Zero, Currency: "BASE",
			STPFlag: "NONE", SettleFlag: wire.SettleFlagWire{Kind: "NONE"},
		},
		Price: decimal.FromInt(99), TimeInForce: "GTC",
	})
	ex.Dispatch(place)

	query, err := wire.NewMessage(2, 0, "alice", wire.TargetExchange, wire.TypeRetrieveL1, wire.RetrieveL1Payload{BookId: bookId})
	require.NoError(t, err)
	resp := ex.Dispatch(query)
	require.Len(t, resp, 1)

	var l1 wire.RetrieveL1Response
	require.NoError(t, resp[0].Decode(&l1))
	assert.True(t, l1.BestBid.Equal(decimal.FromInt(99)))
}

// GTT schedules a CANCEL_ORDERS message for arrival+expiryPeriod so the
// order is pulled automatically if it never fills (spec §4.1).
func TestDispatchGTTLimitOrderSchedulesExpiryCancel(t *testing.T) {
	ex, accounts, bookId := newExchange(t)
	agentId := seedAgent(accounts, "alice", bookId)

	expiryPeriod := int64(50)
	payload := wire.PlaceOrderLimitPayload{
		PlaceOrderMarketPayload: wire.PlaceOrderMarketPayload{
			AgentId: agentId, BookId: bookId, Direction: "BUY",
			Volume: decimal.FromInt(1), Leverage: decimal.Zero, Currency: "BASE",
			STPFlag: "NONE", SettleFlag: wire.SettleFlagWire{Kind: "NONE"},
		},
		Price: decimal.FromInt(100), TimeInForce: "GTT", ExpiryPeriod: &expiryPeriod,
	}
	msg, err := wire.NewMessage(1, 10, "alice", wire.TargetExchange, wire.TypePlaceOrderLimit, payload)
	require.NoError(t, err)

	resp := ex.Dispatch(msg)
	require.Len(t, resp, 2, "a resting GTT order must also schedule a CANCEL_ORDERS message")
	assert.Equal(t, wire.TypePlaceOrderResponse, resp[0].Type)

	cancelMsg := resp[1]
	assert.Equal(t, wire.TypeCancelOrders, cancelMsg.Type)
	assert.Equal(t, types.Timestamp(60), cancelMsg.Arrival, "expiry = arrival(10) + expiryPeriod(50)")

	var cancel wire.CancelOrdersPayload
	require.NoError(t, cancelMsg.Decode(&cancel))
	assert.Equal(t, bookId, cancel.BookId)
	require.Len(t, cancel.OrderIds, 1)

	var placed wire.PlaceOrderResponsePayload
	require.NoError(t, resp[0].Decode(&placed))
	assert.Equal(t, placed.OrderId, cancel.OrderIds[0])
}

// A GTT order that fills immediately must not also schedule an expiry
// cancel: there is nothing left to cancel.
func TestDispatchGTTLimitOrderFullyFilledSkipsExpiryCancel(t *testing.T) {
	ex, accounts, bookId := newExchange(t)
	alice := seedAgent(accounts, "alice", bookId)
	bob := seedAgent(accounts, "bob", bookId)

	sell, err := wire.NewMessage(1, 0, "bob", wire.TargetExchange, wire.TypePlaceOrderLimit, wire.PlaceOrderLimitPayload{
		PlaceOrderMarketPayload: wire.PlaceOrderMarketPayload{
			AgentId: bob, BookId: bookId, Direction: "SELL",
			Volume: decimal.FromInt(1), Leverage: decimal.Zero, Currency: "BASE",
			STPFlag: "NONE", SettleFlag: wire.SettleFlagWire{Kind: "NONE"},
		},
		Price: decimal.FromInt(100), TimeInForce: "GTC",
	})
	require.NoError(t, err)
	ex.Dispatch(sell)

	expiryPeriod := int64(50)
	buy, err := wire.NewMessage(2, 0, "alice", wire.TargetExchange, wire.TypePlaceOrderLimit, wire.PlaceOrderLimitPayload{
		PlaceOrderMarketPayload: wire.PlaceOrderMarketPayload{
			AgentId: alice, BookId: bookId, Direction: "BUY",
			Volume: decimal.FromInt(1), Leverage: decimal.Zero, Currency: "BASE",
			STPFlag: "NONE", SettleFlag: wire.SettleFlagWire{Kind: "NONE"},
		},
		Price: decimal.FromInt(100), TimeInForce: "GTT", ExpiryPeriod: &expiryPeriod,
	})
	require.NoError(t, err)

	resp := ex.Dispatch(buy)
	require.Len(t, resp, 1, "a fully filled GTT order has nothing left to expire")
	assert.Equal(t, wire.TypePlaceOrderResponse, resp[0].Type)
}

// stubQueueResetter records which agent names RESET_AGENT asked to have
// their future-queued messages dropped.
type stubQueueResetter struct {
	resetNames []string
}

func (s *stubQueueResetter) ResetAgent(agentName string) {
	s.resetNames = append(s.resetNames, agentName)
}

func TestDispatchResetAgentDropsQueuedMessagesViaHook(t *testing.T) {
	ex, accounts, bookId := newExchange(t)
	seedAgent(accounts, "alice", bookId)

	resetter := &stubQueueResetter{}
	ex.SetQueueResetter(resetter)

	msg, err := wire.NewMessage(1, 0, "alice", wire.TargetExchange, wire.TypeResetAgent, wire.ResetAgentPayload{})
	require.NoError(t, err)

	resp := ex.Dispatch(msg)
	require.Len(t, resp, 1)
	assert.Equal(t, wire.TypeResetAgent, resp[0].Type)
	assert.Equal(t, []string{"alice"}, resetter.resetNames, "RESET_AGENT must drop the agent's future-queued messages")
}

func TestSubscribeThenUnsubscribeClearsSubscriberSet(t *testing.T) {
	ex, accounts, bookId := newExchange(t)
	seedAgent(accounts, "alice", bookId)

	sub, err := wire.NewMessage(1, 0, "alice", wire.TargetExchange, wire.TypeSubscribeEvent,
		wire.SubscriptionPayload{BookId: bookId, Events: []string{exchange.EventLimitOrder}})
	require.NoError(t, err)
	assert.Nil(t, ex.Dispatch(sub))

	unsub, err := wire.NewMessage(2, 0, "alice", wire.TargetExchange, wire.TypeUnsubscribeEvent,
		wire.SubscriptionPayload{BookId: bookId, Events: []string{exchange.EventLimitOrder}})
	require.NoError(t, err)
	assert.Nil(t, ex.Dispatch(unsub))
}
