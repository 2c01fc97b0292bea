// Package decimal provides the exact fixed-decimal arithmetic the matching
// and clearing engine builds on. Money and size are never floats past the
// wire/log boundary: every balance, price, and volume in the engine is a
// Decimal.
package decimal

import (
	"fmt"

	shopspring "github.com/shopspring/decimal"
)

// Decimal wraps shopspring/decimal's arbitrary-precision fixed-point type.
// The engine never compares Decimals built from float64 conversions except
// at log/JSON boundaries (see Float64/FromFloat64).
type Decimal struct {
	v shopspring.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{v: shopspring.Zero}

// New builds a Decimal from an integer coefficient and base-10 exponent,
// i.e. coefficient * 10^exponent.
func New(coefficient int64, exponent int32) Decimal {
	return Decimal{v: shopspring.New(coefficient, exponent)}
}

// FromInt builds a whole-number Decimal.
func FromInt(i int64) Decimal {
	return Decimal{v: shopspring.NewFromInt(i)}
}

// FromFloat64 converts a float64 to Decimal. Only used at log/JSON
// boundaries per the no-floating-point-money rule.
func FromFloat64(f float64) Decimal {
	return Decimal{v: shopspring.NewFromFloat(f)}
}

// FromString parses a base-10 string (wire/JSON boundary).
func FromString(s string) (Decimal, error) {
	v, err := shopspring.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("decimal: parse %q: %w", s, err)
	}
	return Decimal{v: v}, nil
}

func (d Decimal) Add(o Decimal) Decimal { return Decimal{v: d.v.Add(o.v)} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{v: d.v.Sub(o.v)} }
func (d Decimal) Mul(o Decimal) Decimal { return Decimal{v: d.v.Mul(o.v)} }
func (d Decimal) Neg() Decimal          { return Decimal{v: d.v.Neg()} }

// Div divides d by o at the given number of decimal places of precision.
// Division by zero returns Zero; callers must guard against dividing by an
// empty book side themselves (see book.MidPrice).
func (d Decimal) Div(o Decimal, places int32) Decimal {
	if o.IsZero() {
		return Zero
	}
	return Decimal{v: d.v.DivRound(o.v, places)}
}

// Round rounds to the given number of decimal places, half-away-from-zero,
// matching the engine's "round to configured decimals" semantics.
func (d Decimal) Round(places int32) Decimal {
	return Decimal{v: d.v.Round(places)}
}

// RoundUp rounds away from zero toward positive infinity for non-negative
// values (used when rounding a deficit owed in a different currency, so the
// engine never under-reserves collateral).
func (d Decimal) RoundUp(places int32) Decimal {
	return Decimal{v: d.v.RoundCeil(places)}
}

// Pack encodes d, rounded to places, as a fixed-point uint64 payload:
// the integer number of smallest units. Panics if the value does not fit or
// is negative, since balances/reservations are never packed negative.
func (d Decimal) Pack(places int32) uint64 {
	rounded := d.Round(places)
	if rounded.IsNegative() {
		panic("decimal: Pack called on a negative value")
	}
	scaled := rounded.v.Shift(places).BigInt()
	if !scaled.IsUint64() {
		panic("decimal: Pack value does not fit in uint64")
	}
	return scaled.Uint64()
}

// Unpack reconstructs a Decimal from a Pack payload at the given places.
func Unpack(payload uint64, places int32) Decimal {
	return Decimal{v: shopspring.New(int64(payload), -places)}
}

func (d Decimal) Float64() float64 { f, _ := d.v.Float64(); return f }
func (d Decimal) String() string   { return d.v.String() }

func (d Decimal) IsZero() bool     { return d.v.IsZero() }
func (d Decimal) IsNegative() bool { return d.v.IsNegative() }
func (d Decimal) IsPositive() bool { return d.v.IsPositive() }

// Cmp returns -1, 0, or 1 comparing d to o.
func (d Decimal) Cmp(o Decimal) int { return d.v.Cmp(o.v) }

func (d Decimal) LessThan(o Decimal) bool           { return d.v.LessThan(o.v) }
func (d Decimal) LessThanOrEqual(o Decimal) bool    { return d.v.LessThanOrEqual(o.v) }
func (d Decimal) GreaterThan(o Decimal) bool        { return d.v.GreaterThan(o.v) }
func (d Decimal) GreaterThanOrEqual(o Decimal) bool { return d.v.GreaterThanOrEqual(o.v) }
func (d Decimal) Equal(o Decimal) bool              { return d.v.Equal(o.v) }

// Min and Max mirror the built-in min/max for Decimal operands.
func Min(a, b Decimal) Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

func Max(a, b Decimal) Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// MarshalJSON/UnmarshalJSON delegate to shopspring/decimal's string
// representation, keeping wire payloads exact.
func (d Decimal) MarshalJSON() ([]byte, error) { return d.v.MarshalJSON() }

func (d *Decimal) UnmarshalJSON(data []byte) error {
	return d.v.UnmarshalJSON(data)
}
