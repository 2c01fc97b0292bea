package account_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrirsim/internal/account"
	"fenrirsim/internal/balance"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

func decimals() balance.Decimals {
	return balance.Decimals{Price: 4, Volume: 4, Base: 4, Quote: 4}
}

func TestRegisterLocalAssignsDescendingNegativeIds(t *testing.T) {
	r := account.New()
	a := r.RegisterLocal("alice")
	b := r.RegisterLocal("bob")
	assert.Equal(t, types.AgentId(-1), a)
	assert.Equal(t, types.AgentId(-2), b)

	again := r.RegisterLocal("alice")
	assert.Equal(t, a, again, "re-registering the same name returns the existing id")
}

func TestRegisterRemoteRejectsNegativeId(t *testing.T) {
	r := account.New()
	err := r.RegisterRemote("validator-agent-1", -5)
	require.Error(t, err)
}

func TestEnsureBalancesIsLazyAndIdempotent(t *testing.T) {
	r := account.New()
	agent := r.RegisterLocal("alice")

	b1 := r.EnsureBalances(agent, 0, decimal.FromInt(1000), decimal.FromInt(1000), decimals())
	b2 := r.EnsureBalances(agent, 0, decimal.FromInt(999), decimal.FromInt(999), decimals())
	assert.Same(t, b1, b2, "second call must return the same Balances, not reseed it")
	assert.True(t, b1.Base.Free().Equal(decimal.FromInt(1000)))
}

func TestActiveOrderLifecycle(t *testing.T) {
	r := account.New()
	agent := r.RegisterLocal("alice")

	r.AddActiveOrder(agent, 0, 1)
	r.AddActiveOrder(agent, 0, 2)
	assert.Equal(t, 2, r.ActiveOrderCount(agent, 0))

	r.RemoveActiveOrder(agent, 0, 1)
	assert.Equal(t, 1, r.ActiveOrderCount(agent, 0))
	assert.ElementsMatch(t, []types.OrderId{2}, r.ActiveOrders(agent, 0))
}

func TestRestoreInitialBalancesResetsDriftAndReservations(t *testing.T) {
	r := account.New()
	agent := r.RegisterLocal("alice")

	bal := r.EnsureBalances(agent, 0, decimal.FromInt(1000), decimal.FromInt(2000), decimals())
	require.NoError(t, bal.Base.MakeReservation(7, decimal.FromInt(100)))
	require.NoError(t, bal.Quote.Deposit(decimal.FromInt(-500)))

	r.RestoreInitialBalances(agent)

	restored, ok := r.Balances(agent, 0)
	require.True(t, ok)
	assert.True(t, restored.Base.Free().Equal(decimal.FromInt(1000)))
	assert.True(t, restored.Base.Reserved().IsZero())
	assert.True(t, restored.Quote.Free().Equal(decimal.FromInt(2000)))
}

func TestResetAgentClearsAllBooks(t *testing.T) {
	r := account.New()
	agent := r.RegisterLocal("alice")
	r.AddActiveOrder(agent, 0, 1)
	r.AddActiveOrder(agent, 1, 2)

	cleared := r.ResetAgent(agent)
	assert.ElementsMatch(t, []types.OrderId{1}, cleared[0])
	assert.ElementsMatch(t, []types.OrderId{2}, cleared[1])
	assert.Equal(t, 0, r.ActiveOrderCount(agent, 0))
}
