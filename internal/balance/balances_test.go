package balance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrirsim/internal/balance"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

func testDecimals() balance.Decimals {
	return balance.Decimals{Price: 4, Volume: 4, Base: 4, Quote: 4}
}

func TestNonLeveragedBuyCommit(t *testing.T) {
	bal := balance.NewBalances(decimal.FromInt(10000), decimal.FromInt(10000), testDecimals())

	price := decimal.FromInt(100)
	volume := decimal.FromInt(1)
	quoteAmount := price.Mul(volume)

	require.NoError(t, bal.MakeReservation(1, price, quoteAmount, decimal.Zero, types.Buy))
	assert.True(t, bal.Quote.Free().Equal(decimal.FromInt(9900)))

	require.NoError(t, bal.Commit(1, types.Buy, price, quoteAmount, volume, decimal.Zero, decimal.Zero, types.SettleFlagNone()))
	assert.True(t, bal.Base.Total().Equal(decimal.FromInt(10001)))
	assert.True(t, bal.Quote.Total().Equal(decimal.FromInt(9900)))
}

func TestNonLeveragedSellCommit(t *testing.T) {
	bal := balance.NewBalances(decimal.FromInt(10000), decimal.FromInt(10000), testDecimals())

	price := decimal.FromInt(100)
	volume := decimal.FromInt(1)
	quoteAmount := price.Mul(volume)

	require.NoError(t, bal.MakeReservation(2, price, volume, decimal.Zero, types.Sell))
	require.NoError(t, bal.Commit(2, types.Sell, price, volume, quoteAmount, decimal.Zero, decimal.Zero, types.SettleFlagNone()))
	assert.True(t, bal.Base.Total().Equal(decimal.FromInt(9999)))
	assert.True(t, bal.Quote.Total().Equal(decimal.FromInt(10100)))
}

func TestPartialCancelFreesExactReservation(t *testing.T) {
	bal := balance.NewBalances(decimal.FromInt(10000), decimal.FromInt(10000), testDecimals())
	price := decimal.FromInt(100)

	require.NoError(t, bal.MakeReservation(3, price, decimal.FromInt(500), decimal.Zero, types.Buy))
	assert.True(t, bal.Quote.Free().Equal(decimal.FromInt(9500)))

	require.NoError(t, bal.FreeReservation(3, price, types.Buy, decimal.FromInt(200)))
	assert.True(t, bal.Quote.Free().Equal(decimal.FromInt(9700)))
	assert.True(t, bal.Quote.Reservation(3).Equal(decimal.FromInt(300)))
}

func TestDepositRejectsNegativeOverdraft(t *testing.T) {
	b := balance.New(decimal.FromInt(10))
	err := b.Deposit(decimal.FromInt(-20))
	assert.ErrorIs(t, err, balance.ErrNegativeBalance)
	assert.True(t, b.Free().Equal(decimal.FromInt(10)))
}

func TestLeveragedBuyOpensLoanAndMarginCallPrice(t *testing.T) {
	bal := balance.NewBalances(decimal.FromInt(10000), decimal.FromInt(10000), testDecimals())
	price := decimal.FromInt(100)
	volume := decimal.FromInt(2)
	leverage := decimal.FromInt(1)
	maintenance := decimal.New(2, -1) // 0.2

	// Collateral reserved is just the non-leveraged notional; the loan
	// covers the leveraged excess.
	require.NoError(t, bal.MakeReservation(4, price, price.Mul(volume), leverage, types.Buy))

	totalVolume := volume.Mul(decimal.FromInt(1).Add(leverage))
	quoteAmount := price.Mul(totalVolume)
	require.NoError(t, bal.Commit(4, types.Buy, price, quoteAmount, totalVolume, decimal.Zero, maintenance, types.SettleFlagNone()))

	loan, ok := bal.Loan(4)
	require.True(t, ok)
	assert.True(t, loan.Amount.IsPositive())
	assert.True(t, loan.MarginCallPrice.LessThan(price))
}
