package book

import "fenrirsim/internal/decimal"

// TickContainer is one price level: a FIFO queue of resting limit orders
// plus the cached sum of their remaining (non-leveraged) volumes, per §3's
// "each level's volume = sum of remaining volumes of its orders" invariant.
type TickContainer struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Orders []*Order
}

func newLevel(price decimal.Decimal) *TickContainer {
	return &TickContainer{Price: price, Volume: decimal.Zero}
}

func (l *TickContainer) append(o *Order) {
	l.Orders = append(l.Orders, o)
	l.Volume = l.Volume.Add(o.Volume)
}

// front is the oldest (highest time-priority) order on the level.
func (l *TickContainer) front() *Order {
	if len(l.Orders) == 0 {
		return nil
	}
	return l.Orders[0]
}

// popFront removes the oldest order after it has been fully consumed.
func (l *TickContainer) popFront() {
	if len(l.Orders) == 0 {
		return
	}
	l.Orders = l.Orders[1:]
}

// removeById removes a specific resting order (used by cancellation, which
// need not be at the front of the queue) and recomputes Volume.
func (l *TickContainer) removeById(id func(*Order) bool) {
	out := l.Orders[:0]
	for _, o := range l.Orders {
		if !id(o) {
			out = append(out, o)
		}
	}
	l.Orders = out
	sum := decimal.Zero
	for _, o := range l.Orders {
		sum = sum.Add(o.Volume)
	}
	l.Volume = sum
}

func (l *TickContainer) empty() bool { return len(l.Orders) == 0 }
