package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
	"fenrirsim/internal/wire"
)

func TestTargetListSplitsOnPipe(t *testing.T) {
	m := wire.Message{Targets: "alice|bob|EXCHANGE"}
	assert.Equal(t, []string{"alice", "bob", "EXCHANGE"}, m.TargetList())
}

func TestTargetListEmptyForNoTargets(t *testing.T) {
	m := wire.Message{}
	assert.Nil(t, m.TargetList())
}

func TestNewMessageRoundTripsPayload(t *testing.T) {
	payload := wire.PlaceOrderMarketPayload{
		AgentId: -1, BookId: 0, Direction: "BUY",
		Volume: decimal.FromInt(1), Leverage: decimal.Zero, Currency: "BASE",
		STPFlag: "NONE", SettleFlag: wire.SettleFlagWire{Kind: "NONE"},
	}
	msg, err := wire.NewMessage(1, 100, "alice", wire.TargetExchange, wire.TypePlaceOrderMarket, payload)
	require.NoError(t, err)

	var decoded wire.PlaceOrderMarketPayload
	require.NoError(t, msg.Decode(&decoded))
	assert.Equal(t, payload.AgentId, decoded.AgentId)
	assert.True(t, decoded.Volume.Equal(decimal.FromInt(1)))
}

func TestSettleFlagWireRoundTrip(t *testing.T) {
	f := types.SettleFlagFor(42)
	w := wire.SettleFlagFromTypes(f)
	back := w.ToTypes()
	assert.Equal(t, f, back)
}
