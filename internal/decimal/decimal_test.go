package decimal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fenrirsim/internal/decimal"
)

func TestRoundAndPack(t *testing.T) {
	d := decimal.FromFloat64(1.23456)
	assert.Equal(t, "1.2346", d.Round(4).String())

	packed := d.Round(4).Pack(4)
	assert.Equal(t, uint64(12346), packed)

	unpacked := decimal.Unpack(packed, 4)
	assert.True(t, unpacked.Equal(d.Round(4)))
}

func TestRoundUpDeficit(t *testing.T) {
	d := decimal.New(1, -4) // 0.0001
	assert.Equal(t, "0.0001", d.RoundUp(4).String())

	deficit := decimal.New(100033, -4) // 10.0033
	assert.Equal(t, "10.0033", deficit.RoundUp(4).String())

	frac := decimal.New(1000331, -5) // 10.00331
	assert.Equal(t, "10.0034", frac.RoundUp(4).String())
}

func TestDivByZeroIsZero(t *testing.T) {
	assert.True(t, decimal.FromInt(5).Div(decimal.Zero, 4).IsZero())
}

func TestMinMax(t *testing.T) {
	a := decimal.FromInt(3)
	b := decimal.FromInt(7)
	assert.True(t, decimal.Min(a, b).Equal(a))
	assert.True(t, decimal.Max(a, b).Equal(b))
}
