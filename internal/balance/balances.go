package balance

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// Collateral is the base/quote split backing an open Loan.
type Collateral struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// Loan is an outstanding leveraged position (C3), closed by settlement or
// margin call.
type Loan struct {
	Amount          decimal.Decimal
	Direction       types.Side // Buy => quote loan, Sell => base loan
	Leverage        decimal.Decimal
	Collateral      Collateral
	MarginCallPrice decimal.Decimal
}

// Decimals bundles the four configured precisions a Balances pair needs to
// round amounts and conversions consistently (§6 ExchangeConfig).
type Decimals struct {
	Price  int32
	Volume int32
	Base   int32
	Quote  int32
}

// Balances is the base+quote pair for one (agent, book): C3.
type Balances struct {
	Base  *Balance
	Quote *Balance

	buyLeverages  map[types.OrderId]decimal.Decimal
	sellLeverages map[types.OrderId]decimal.Decimal

	loans     map[types.OrderId]*Loan
	loanOrder []types.OrderId

	decimals Decimals
}

// Seed records the starting free holdings and precisions a Balances pair
// was first constructed with, kept by the AccountRegistry so RESET_AGENT
// (§4.5) can restore an agent to this snapshot.
type Seed struct {
	BaseFree, QuoteFree decimal.Decimal
	Decimals            Decimals
}

// NewBalances constructs a Balances pair with the given starting free holdings.
func NewBalances(baseFree, quoteFree decimal.Decimal, decimals Decimals) *Balances {
	return &Balances{
		Base:          New(baseFree),
		Quote:         New(quoteFree),
		buyLeverages:  make(map[types.OrderId]decimal.Decimal),
		sellLeverages: make(map[types.OrderId]decimal.Decimal),
		loans:         make(map[types.OrderId]*Loan),
		decimals:      decimals,
	}
}

func (bal *Balances) sides(direction types.Side) (natural, other *Balance, leverages map[types.OrderId]decimal.Decimal) {
	if direction == types.Buy {
		return bal.Quote, bal.Base, bal.buyLeverages
	}
	return bal.Base, bal.Quote, bal.sellLeverages
}

func (bal *Balances) naturalDecimals(direction types.Side) int32 {
	if direction == types.Buy {
		return bal.decimals.Quote
	}
	return bal.decimals.Base
}

func (bal *Balances) otherDecimals(direction types.Side) int32 {
	if direction == types.Buy {
		return bal.decimals.Base
	}
	return bal.decimals.Quote
}

// naturalToOther converts an amount denominated in the natural currency to
// the other currency at price, e.g. for BUY quote->base is amount/price.
func (bal *Balances) naturalToOther(direction types.Side, amount, price decimal.Decimal) decimal.Decimal {
	if direction == types.Buy {
		return amount.Div(price, bal.decimals.Base)
	}
	return amount.Mul(price).Round(bal.decimals.Quote)
}

// otherToNatural is naturalToOther's inverse.
func (bal *Balances) otherToNatural(direction types.Side, amount, price decimal.Decimal) decimal.Decimal {
	if direction == types.Buy {
		return amount.Mul(price).Round(bal.decimals.Quote)
	}
	return amount.Div(price, bal.decimals.Base)
}

// BaseLoan, QuoteLoan, BaseCollateral, QuoteCollateral are I5's tracked
// aggregates, computed by summing the open loans. They are not clamped
// anywhere; they stay non-negative because a loan amount is floored at zero
// when opened and settlement never takes more than a loan's remaining
// amount or collateral.
func (bal *Balances) BaseLoan() decimal.Decimal  { return bal.loanSum(types.Sell, func(l *Loan) decimal.Decimal { return l.Amount }) }
func (bal *Balances) QuoteLoan() decimal.Decimal { return bal.loanSum(types.Buy, func(l *Loan) decimal.Decimal { return l.Amount }) }
func (bal *Balances) BaseCollateral() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range bal.loans {
		sum = sum.Add(l.Collateral.Base)
	}
	return sum
}
func (bal *Balances) QuoteCollateral() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range bal.loans {
		sum = sum.Add(l.Collateral.Quote)
	}
	return sum
}

func (bal *Balances) loanSum(direction types.Side, f func(*Loan) decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range bal.loans {
		if l.Direction == direction {
			sum = sum.Add(f(l))
		}
	}
	return sum
}

func (bal *Balances) Loan(id types.OrderId) (*Loan, bool) {
	l, ok := bal.loans[id]
	return l, ok
}

// Leverage returns the recorded leverage for an open order, or Zero.
func (bal *Balances) Leverage(id types.OrderId, direction types.Side) decimal.Decimal {
	_, _, leverages := bal.sides(direction)
	if v, ok := leverages[id]; ok {
		return v
	}
	return decimal.Zero
}

// CanBorrow reports whether amount of collateral (in the natural currency
// for direction) can be raised from free funds, possibly split across both
// currencies via price, per §4.2's pre-placement validation gate.
func (bal *Balances) CanBorrow(amount, price decimal.Decimal, direction types.Side) bool {
	natural, other, _ := bal.sides(direction)
	if amount.LessThanOrEqual(natural.Free()) {
		return true
	}
	deficit := amount.Sub(natural.Free())
	deficitOther := bal.naturalToOther(direction, deficit, price)
	return deficitOther.LessThanOrEqual(other.Free())
}

// MakeReservation earmarks collateral for a new order, splitting across
// base/quote when the natural currency alone is insufficient and the order
// carries leverage (§4.3).
func (bal *Balances) MakeReservation(id types.OrderId, price, amount, leverage decimal.Decimal, direction types.Side) error {
	naturalDecimals := bal.naturalDecimals(direction)
	amount = amount.Round(naturalDecimals)
	if amount.IsZero() {
		return nil
	}
	natural, other, leverages := bal.sides(direction)

	if leverage.IsZero() {
		return natural.MakeReservation(id, amount)
	}

	free := natural.Free()
	if amount.LessThanOrEqual(free) {
		if err := natural.MakeReservation(id, amount); err != nil {
			return err
		}
	} else {
		if !free.IsZero() {
			if err := natural.MakeReservation(id, free); err != nil {
				return err
			}
		}
		deficit := amount.Sub(free)
		deficitOther := bal.naturalToOther(direction, deficit, price).RoundUp(bal.otherDecimals(direction))
		if err := other.MakeReservation(id, deficitOther); err != nil {
			return fmt.Errorf("balance: split reservation shortfall: %w", err)
		}
	}
	leverages[id] = leverage
	return nil
}

// FreeReservation releases amount (natural-currency valuation; Zero means
// release in full) of order id's earmark, preferring the non-natural
// currency first for leveraged orders, per §4.3. price is always supplied by
// the caller (ClearingManager passes the cancelled order's own limit price),
// never a live book lookup.
func (bal *Balances) FreeReservation(id types.OrderId, price decimal.Decimal, direction types.Side, amount decimal.Decimal) error {
	natural, other, leverages := bal.sides(direction)
	lev, leveraged := leverages[id]

	if !leveraged || lev.IsZero() {
		if !natural.HasReservation(id) {
			return nil
		}
		if err := natural.FreeReservation(id, amount); err != nil {
			return err
		}
		bal.cleanupLeverage(id, leverages)
		return nil
	}

	full := amount.IsZero()
	otherHave := other.Reservation(id)
	naturalHave := natural.Reservation(id)

	if full {
		if !otherHave.IsZero() {
			if err := other.FreeReservation(id, decimal.Zero); err != nil {
				return err
			}
		}
		if !naturalHave.IsZero() {
			if err := natural.FreeReservation(id, decimal.Zero); err != nil {
				return err
			}
		}
	} else {
		otherEquivalent := bal.naturalToOther(direction, amount, price)
		takeOther := decimal.Min(otherEquivalent, otherHave)
		if !takeOther.IsZero() {
			if err := other.FreeReservation(id, takeOther); err != nil {
				return err
			}
		}
		coveredNatural := bal.otherToNatural(direction, takeOther, price)
		remainingNatural := decimal.Max(decimal.Zero, amount.Sub(coveredNatural))
		takeNatural := decimal.Min(remainingNatural, naturalHave)
		if !takeNatural.IsZero() {
			if err := natural.FreeReservation(id, takeNatural); err != nil {
				return err
			}
		}
	}

	bal.cleanupLeverage(id, leverages)
	return nil
}

func (bal *Balances) cleanupLeverage(id types.OrderId, leverages map[types.OrderId]decimal.Decimal) {
	if bal.Base.HasReservation(id) || bal.Quote.HasReservation(id) {
		return
	}
	if _, hasLoan := bal.loans[id]; hasLoan {
		return
	}
	delete(leverages, id)
}

// Commit applies a trade fill to the pair: non-leveraged trades void the
// spent reservation and deposit the proceeds directly (§4.3); leveraged
// trades route through Borrow, converting the reserved collateral into a
// Loan. If settleFlag requests it, outstanding opposite-direction loans are
// then paid down from the proceeds.
func (bal *Balances) Commit(
	id types.OrderId,
	direction types.Side,
	price decimal.Decimal,
	amount decimal.Decimal, // natural-currency leg: quote spent (BUY) or base sold (SELL)
	counterAmount decimal.Decimal, // other-currency leg: base received (BUY) or quote received (SELL)
	fee decimal.Decimal,
	maintenanceMargin decimal.Decimal,
	settleFlag types.SettleFlag,
) error {
	leverage := bal.Leverage(id, direction)

	if leverage.IsZero() {
		if direction == types.Buy {
			if err := bal.Quote.VoidReservation(id, amount.Add(fee)); err != nil {
				return fmt.Errorf("balance: commit BUY void quote: %w", err)
			}
			if err := bal.Base.Deposit(counterAmount); err != nil {
				return fmt.Errorf("balance: commit BUY deposit base: %w", err)
			}
		} else {
			if err := bal.Base.VoidReservation(id, amount); err != nil {
				return fmt.Errorf("balance: commit SELL void base: %w", err)
			}
			if err := bal.Quote.Deposit(counterAmount.Sub(fee)); err != nil {
				return fmt.Errorf("balance: commit SELL deposit quote: %w", err)
			}
		}
	} else {
		if err := bal.borrow(id, direction, price, amount, counterAmount, fee, leverage, maintenanceMargin); err != nil {
			return fmt.Errorf("balance: commit leveraged: %w", err)
		}
	}

	if settleFlag.Kind != types.SettleNone {
		proceedsDirection := direction // the currency just credited matches the new position's direction
		var proceeds decimal.Decimal
		if direction == types.Buy {
			proceeds = counterAmount
		} else {
			proceeds = counterAmount.Sub(fee)
		}
		bal.SettleLoan(proceedsDirection, proceeds, settleFlag)
	}

	bal.Base.CheckInvariants(bal.decimals.Base)
	bal.Quote.CheckInvariants(bal.decimals.Quote)
	return nil
}

// borrow converts the order's reserved collateral into a Loan and credits
// the traded asset, per §4.3's Borrow description. The loan's margin-call
// price uses the formula exercised in S6:
// price*(1 - 1/(1+leverage) + maintenance) for margin buys, mirrored for
// short sells.
func (bal *Balances) borrow(
	id types.OrderId,
	direction types.Side,
	price, amount, counterAmount, fee, leverage, maintenanceMargin decimal.Decimal,
) error {
	natural, other, _ := bal.sides(direction)

	collateralNatural := natural.Reservation(id)
	collateralOther := other.Reservation(id)
	if !collateralNatural.IsZero() {
		if err := natural.VoidReservation(id, decimal.Zero); err != nil {
			return err
		}
	}
	if !collateralOther.IsZero() {
		if err := other.VoidReservation(id, decimal.Zero); err != nil {
			return err
		}
	}

	one := decimal.FromInt(1)
	var collateralValueInNatural decimal.Decimal
	var loanAmount decimal.Decimal
	var marginCallPrice decimal.Decimal

	if direction == types.Buy {
		collateralValueInNatural = collateralNatural.Add(collateralOther.Mul(price))
		loanAmount = decimal.Max(decimal.Zero, amount.Add(fee).Sub(collateralValueInNatural))
		if err := bal.Base.Deposit(counterAmount); err != nil {
			return err
		}
		marginCallPrice = price.Mul(one.Sub(one.Div(one.Add(leverage), 8)).Add(maintenanceMargin)).Round(bal.decimals.Price)
	} else {
		collateralValueInNatural = collateralNatural.Add(collateralOther.Div(price, bal.decimals.Base))
		loanAmount = decimal.Max(decimal.Zero, amount.Sub(collateralValueInNatural))
		if err := bal.Quote.Deposit(counterAmount.Sub(fee)); err != nil {
			return err
		}
		marginCallPrice = price.Mul(one.Add(one.Div(one.Add(leverage), 8)).Sub(maintenanceMargin)).Round(bal.decimals.Price)
	}

	// Excess collateral beyond what the loan needs is refunded and
	// re-reserved on the order, per §4.3's rounding-excess clause.
	if excess := collateralValueInNatural.Sub(amount); leverage.IsPositive() && excess.IsPositive() && loanAmount.IsZero() {
		if err := natural.Deposit(excess); err != nil {
			log.Error().Err(err).Msg("balance: failed to refund rounding excess collateral")
		} else if err := natural.MakeReservation(id, excess); err != nil {
			log.Error().Err(err).Msg("balance: failed to re-reserve refunded collateral")
		}
	}

	collateral := Collateral{Base: collateralOther, Quote: collateralNatural}
	if direction == types.Sell {
		collateral = Collateral{Base: collateralNatural, Quote: collateralOther}
	}
	loan := &Loan{
		Amount:          loanAmount,
		Direction:       direction,
		Leverage:        leverage,
		Collateral:      collateral,
		MarginCallPrice: marginCallPrice,
	}
	if _, exists := bal.loans[id]; !exists {
		bal.loanOrder = append(bal.loanOrder, id)
	}
	bal.loans[id] = loan
	return nil
}

// SettleLoan pays down loans of the opposite direction to `direction` using
// `amount` of freshly credited proceeds, walking in FIFO order or a single
// specified loan id per settleFlag. Returns the unsettled remainder (already
// resting in the balance as free funds from Commit's deposit).
func (bal *Balances) SettleLoan(direction types.Side, amount decimal.Decimal, flag types.SettleFlag) decimal.Decimal {
	opposite := direction.Opposite()
	ids := bal.loanWalkOrder(flag)
	remaining := amount

	for _, id := range ids {
		if remaining.IsZero() {
			break
		}
		loan, ok := bal.loans[id]
		if !ok || loan.Direction != opposite {
			continue
		}
		settleAmt := decimal.Min(loan.Amount, remaining)
		if settleAmt.IsZero() {
			continue
		}
		frac := settleAmt.Div(loan.Amount, 8)
		releaseBase := loan.Collateral.Base.Mul(frac).Round(bal.decimals.Base)
		releaseQuote := loan.Collateral.Quote.Mul(frac).Round(bal.decimals.Quote)

		if err := bal.Base.Deposit(releaseBase); err != nil {
			log.Error().Err(err).Msg("balance: settleLoan base release failed")
			continue
		}
		if err := bal.Quote.Deposit(releaseQuote); err != nil {
			log.Error().Err(err).Msg("balance: settleLoan quote release failed")
			continue
		}

		loan.Collateral.Base = loan.Collateral.Base.Sub(releaseBase)
		loan.Collateral.Quote = loan.Collateral.Quote.Sub(releaseQuote)
		loan.Amount = loan.Amount.Sub(settleAmt)
		remaining = remaining.Sub(settleAmt)

		if loan.Amount.IsZero() {
			delete(bal.loans, id)
			bal.removeFromLoanOrder(id)
			if opposite == types.Buy {
				bal.cleanupLeverage(id, bal.buyLeverages)
			} else {
				bal.cleanupLeverage(id, bal.sellLeverages)
			}
		}
	}
	return remaining
}

func (bal *Balances) loanWalkOrder(flag types.SettleFlag) []types.OrderId {
	switch flag.Kind {
	case types.SettleOrderId:
		return []types.OrderId{flag.OrderId}
	case types.SettleFIFO:
		out := make([]types.OrderId, len(bal.loanOrder))
		copy(out, bal.loanOrder)
		return out
	default:
		return nil
	}
}

func (bal *Balances) removeFromLoanOrder(id types.OrderId) {
	for i, oid := range bal.loanOrder {
		if oid == id {
			bal.loanOrder = append(bal.loanOrder[:i], bal.loanOrder[i+1:]...)
			return
		}
	}
}
