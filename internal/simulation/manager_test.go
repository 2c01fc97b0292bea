package simulation_test

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
	"fenrirsim/internal/scheduler"
	"fenrirsim/internal/simulation"
	"fenrirsim/internal/types"
)

func newBlock(t *testing.T, idx uint32, blockDim uint32) *simulation.Block {
	t.Helper()
	cfg := clearing.Config{
		PriceDecimals: 4, VolumeDecimals: 4, BaseDecimals: 4, QuoteDecimals: 4,
		MaxLeverage: decimal.FromInt(5), MaintenanceMargin: decimal.New(2, -1), MaxOpenOrders: 100,
	}
	accounts := account.New()
	fees := fee.New([]fee.Tier{{VolumeRequired: decimal.Zero, MakerRate: decimal.Zero, TakerRate: decimal.Zero}}, 1000)
	rec := record.New()
	mgr := clearing.New(cfg, accounts, fees, rec)
	ex := exchange.New(idx, blockDim, mgr, accounts)
	ex.RegisterBook(types.BookId(0), 4, 4)

	sim := scheduler.New(0, 10, ex, accounts)
	return &simulation.Block{Idx: idx, Sim: sim, Exchange: ex}
}

func TestStepRunsEveryBlockAndAdvancesTime(t *testing.T) {
	blocks := []*simulation.Block{newBlock(t, 0, 2), newBlock(t, 1, 2)}
	m := simulation.New(2, blocks, nil)

	require.NoError(t, m.Step())
	assert.Equal(t, types.Timestamp(10), blocks[0].Sim.Current())
	assert.Equal(t, types.Timestamp(10), blocks[1].Sim.Current())
	require.NoError(t, m.Shutdown())
}

type stubPublisher struct {
	calls int
}

func (p *stubPublisher) Publish(step uint64, quotes []simulation.Quote) []simulation.ScheduledNotice {
	p.calls++
	return nil
}

func TestStepInvokesPublisherWhenConfigured(t *testing.T) {
	blocks := []*simulation.Block{newBlock(t, 0, 1)}
	pub := &stubPublisher{}
	m := simulation.New(1, blocks, pub)

	require.NoError(t, m.Step())
	assert.Equal(t, 1, pub.calls)
	require.NoError(t, m.Shutdown())
}

// newBlockWithHooks is like newBlock but also returns the fee.Policy and
// record.Record it wired the block's ClearingManager with, so a test can
// observe Step's per-step housekeeping (§4.4, §8 P4) directly.
func newBlockWithHooks(t *testing.T, idx uint32, blockDim uint32, window types.Timestamp) (*simulation.Block, *fee.Policy, *record.Record, *account.Registry) {
	t.Helper()
	cfg := clearing.Config{
		PriceDecimals: 4, VolumeDecimals: 4, BaseDecimals: 4, QuoteDecimals: 4,
		MaxLeverage: decimal.FromInt(5), MaintenanceMargin: decimal.New(2, -1), MaxOpenOrders: 100,
	}
	accounts := account.New()
	fees := fee.New([]fee.Tier{{VolumeRequired: decimal.Zero, MakerRate: decimal.Zero, TakerRate: decimal.Zero}}, window)
	rec := record.New()
	mgr := clearing.New(cfg, accounts, fees, rec)
	ex := exchange.New(idx, blockDim, mgr, accounts)
	ex.RegisterBook(types.BookId(0), 4, 4)

	sim := scheduler.New(0, 10, ex, accounts)
	return &simulation.Block{Idx: idx, Sim: sim, Exchange: ex}, fees, rec, accounts
}

func TestStepExpiresFeeTiersAndClearsRecordEachStep(t *testing.T) {
	blk, fees, rec, accounts := newBlockWithHooks(t, 0, 1, 5)
	bookId := types.BookId(0)
	agent := accounts.RegisterLocal("alice")
	accounts.EnsureBalances(agent, bookId, decimal.FromInt(1000), decimal.FromInt(1000),
		balance.Decimals{Price: 4, Volume: 4, Base: 4, Quote: 4})

	fees.RecordVolume(bookId, agent, 0, decimal.FromInt(10))
	rec.AppendOrder(bookId, 0, record.OrderEvent{
		OrderId: 1, Direction: types.Buy, Kind: "LIMIT",
		Price: decimal.FromInt(100), Volume: decimal.FromInt(1), AgentId: agent,
	})
	require.Len(t, rec.Entries(bookId), 1)
	require.True(t, fees.RollingVolume(bookId, agent).Equal(decimal.FromInt(10)))

	m := simulation.New(1, []*simulation.Block{blk}, nil)
	require.NoError(t, m.Step())

	assert.Empty(t, rec.Entries(bookId), "the L3 record must be cleared at the end of every step")
	// Step() advances Current() to 10; the window is 5, so the volume
	// recorded at t=0 is now older than cutoff(10)-window(5)=5 and expires.
	assert.True(t, fees.RollingVolume(bookId, agent).IsZero(), "fee-tier rolling volume must expire past its window")
	require.NoError(t, m.Shutdown())
}

func TestRunAdvancesMultipleSteps(t *testing.T) {
	blocks := []*simulation.Block{newBlock(t, 0, 1)}
	m := simulation.New(1, blocks, nil)

	require.NoError(t, m.Run(3))
	assert.Equal(t, types.Timestamp(30), blocks[0].Sim.Current())
	require.NoError(t, m.Shutdown())
}
