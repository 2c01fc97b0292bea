// Package balance implements the per-currency Balance (C2) and the
// per-(agent,book) pair Balances (C3), including leverage/loan bookkeeping.
// Grounded in the teacher's money handling idiom (plain structs, explicit
// error returns) generalized from float64 to decimal.Decimal throughout.
package balance

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

var (
	// ErrNegativeBalance is returned by Deposit when a signed deposit would
	// drive total below zero; state is left unchanged (§9 Open Question).
	ErrNegativeBalance = errors.New("balance: deposit would drive total negative")
	// ErrInsufficientFree is I3: makeReservation requires amount <= free.
	ErrInsufficientFree = errors.New("balance: insufficient free balance for reservation")
	// ErrInsufficientReservation is I4: freeReservation requires amount <= reservations[id].
	ErrInsufficientReservation = errors.New("balance: insufficient reservation for order")
	// ErrNoReservation means the order id has no recorded reservation at all.
	ErrNoReservation = errors.New("balance: no reservation recorded for order")
)

// Balance holds one currency's holdings for one (agent, book) and the
// per-order reservations earmarked out of it (I1-I4).
type Balance struct {
	free         decimal.Decimal
	reserved     decimal.Decimal
	reservations map[types.OrderId]decimal.Decimal
}

// New constructs a Balance with the given starting free amount and no
// reservations.
func New(initialFree decimal.Decimal) *Balance {
	return &Balance{
		free:         initialFree,
		reserved:     decimal.Zero,
		reservations: make(map[types.OrderId]decimal.Decimal),
	}
}

func (b *Balance) Free() decimal.Decimal     { return b.free }
func (b *Balance) Reserved() decimal.Decimal { return b.reserved }
func (b *Balance) Total() decimal.Decimal    { return b.free.Add(b.reserved) }

// Reservation returns the amount reserved for a specific order id, or Zero.
func (b *Balance) Reservation(id types.OrderId) decimal.Decimal {
	if v, ok := b.reservations[id]; ok {
		return v
	}
	return decimal.Zero
}

// HasReservation reports whether id has any non-zero earmark (P2).
func (b *Balance) HasReservation(id types.OrderId) bool {
	v, ok := b.reservations[id]
	return ok && !v.IsZero()
}

// Deposit atomically adds a signed amount. A negative amount that would
// drive total below zero is rejected and leaves state unchanged — the
// normalized semantic from §9's Open Question (never a silent clamp, never
// a panic).
func (b *Balance) Deposit(amount decimal.Decimal) error {
	if amount.IsNegative() && b.Total().Add(amount).IsNegative() {
		return fmt.Errorf("%w: total=%s amount=%s", ErrNegativeBalance, b.Total(), amount)
	}
	b.free = b.free.Add(amount)
	return nil
}

// MakeReservation earmarks amount out of free for order id (I3). Amounts
// accumulate if the order already has a reservation in this currency (the
// leveraged split path reserves into both currencies incrementally).
func (b *Balance) MakeReservation(id types.OrderId, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.GreaterThan(b.free) {
		return fmt.Errorf("%w: id=%d amount=%s free=%s", ErrInsufficientFree, id, amount, b.free)
	}
	b.free = b.free.Sub(amount)
	b.reserved = b.reserved.Add(amount)
	b.reservations[id] = b.Reservation(id).Add(amount)
	return nil
}

// FreeReservation releases amount of order id's earmark back to free (I4).
// Passing decimal.Zero as amount releases the reservation in full.
func (b *Balance) FreeReservation(id types.OrderId, amount decimal.Decimal) error {
	have, ok := b.reservations[id]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNoReservation, id)
	}
	if amount.IsZero() {
		amount = have
	}
	if amount.GreaterThan(have) {
		return fmt.Errorf("%w: id=%d amount=%s reserved=%s", ErrInsufficientReservation, id, amount, have)
	}
	b.reserved = b.reserved.Sub(amount)
	b.free = b.free.Add(amount)
	remaining := have.Sub(amount)
	if remaining.IsZero() {
		delete(b.reservations, id)
	} else {
		b.reservations[id] = remaining
	}
	return nil
}

// VoidReservation spends amount of order id's earmark: it leaves free
// untouched but reduces both reserved and total, because the earmarked
// funds have left the account (paid out in a trade). Used by
// ClearingManager.commit.
func (b *Balance) VoidReservation(id types.OrderId, amount decimal.Decimal) error {
	have, ok := b.reservations[id]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNoReservation, id)
	}
	if amount.IsZero() {
		amount = have
	}
	if amount.GreaterThan(have) {
		return fmt.Errorf("%w: id=%d amount=%s reserved=%s", ErrInsufficientReservation, id, amount, have)
	}
	b.reserved = b.reserved.Sub(amount)
	remaining := have.Sub(amount)
	if remaining.IsZero() {
		delete(b.reservations, id)
	} else {
		b.reservations[id] = remaining
	}
	return nil
}

// CheckInvariants validates I1/I2 and logs+clamps on violation rather than
// panicking, per §7's "clamp and continue" policy for invariant failures
// that arise purely from rounding.
func (b *Balance) CheckInvariants(places int32) {
	if b.free.IsNegative() {
		log.Error().Str("free", b.free.String()).Msg("balance: free went negative, clamping to zero")
		b.free = decimal.Zero
	}
	if b.reserved.IsNegative() {
		log.Error().Str("reserved", b.reserved.String()).Msg("balance: reserved went negative, clamping to zero")
		b.reserved = decimal.Zero
	}
	sum := decimal.Zero
	ids := make([]types.OrderId, 0, len(b.reservations))
	for id := range b.reservations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		sum = sum.Add(b.reservations[id])
	}
	if sum.Round(places).Cmp(b.reserved.Round(places)) != 0 {
		log.Error().
			Str("sumReservations", sum.String()).
			Str("reserved", b.reserved.String()).
			Msg("balance: I2 violated, reconciling reserved to sum of reservations")
		b.reserved = sum
	}
}
