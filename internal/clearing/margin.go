package clearing

import (
	"github.com/tidwall/btree"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// marginLevel groups every position whose liquidation trigger is the same
// price, mirroring book.TickContainer's "one level per price" shape but
// keyed by marginCallPrice instead of a resting order queue (§4.2).
type marginLevel struct {
	Price   decimal.Decimal
	Entries map[types.OrderId]types.AgentId
}

// marginMap is a SortedMap<marginCallPrice, set<(orderId, agentId)>>, one
// per book per loan direction (buys liquidated on bid<=price, sells on
// ask>=price).
type marginMap struct {
	tree *btree.BTreeG[*marginLevel]
}

func newMarginMap() *marginMap {
	return &marginMap{
		tree: btree.NewBTreeG(func(a, b *marginLevel) bool { return a.Price.LessThan(b.Price) }),
	}
}

func (m *marginMap) insert(price decimal.Decimal, orderId types.OrderId, agentId types.AgentId) {
	if lvl, ok := m.tree.Get(&marginLevel{Price: price}); ok {
		lvl.Entries[orderId] = agentId
		return
	}
	lvl := &marginLevel{Price: price, Entries: map[types.OrderId]types.AgentId{orderId: agentId}}
	m.tree.Set(lvl)
}

// removeOrderAnyPrice deletes orderId from wherever it is tracked when the
// caller no longer knows the price it was inserted under (the closing
// order that settles a margin-called loan carries its own price, not the
// loan's marginCallPrice). Scan is acceptable: margin maps are small, one
// entry per open leveraged position per book.
func (m *marginMap) removeOrderAnyPrice(orderId types.OrderId) {
	var toDelete []*marginLevel
	m.tree.Scan(func(lvl *marginLevel) bool {
		if _, ok := lvl.Entries[orderId]; ok {
			delete(lvl.Entries, orderId)
			if len(lvl.Entries) == 0 {
				toDelete = append(toDelete, lvl)
			}
		}
		return true
	})
	for _, lvl := range toDelete {
		m.tree.Delete(lvl)
	}
}

// removeAgent drops every entry belonging to agentId, used when
// RESET_AGENT wipes an agent's Balances (and with them any outstanding
// loans) out from under the margin map's bookkeeping (§4.5).
func (m *marginMap) removeAgent(agentId types.AgentId) {
	var toDelete []*marginLevel
	m.tree.Scan(func(lvl *marginLevel) bool {
		for id, agent := range lvl.Entries {
			if agent == agentId {
				delete(lvl.Entries, id)
			}
		}
		if len(lvl.Entries) == 0 {
			toDelete = append(toDelete, lvl)
		}
		return true
	})
	for _, lvl := range toDelete {
		m.tree.Delete(lvl)
	}
}

// triggeredByBidAtOrBelow returns every (orderId, agentId) whose
// marginCallPrice is at or above bestBid (inclusive bound, §8 Boundary
// behaviors). Entries stay in the map until Unregister confirms the
// closing order actually settled the loan — a closing market order with
// no opposing liquidity matches nothing, and the position must remain
// under margin-call monitoring for the next step (SPEC_FULL.md's Open
// Question decision: erase only upon confirmed settlement).
func (m *marginMap) triggeredByBidAtOrBelow(bestBid decimal.Decimal) []marginHit {
	var hits []marginHit
	m.tree.Scan(func(lvl *marginLevel) bool {
		if lvl.Price.LessThan(bestBid) {
			return true // keep scanning toward higher prices
		}
		for id, agent := range lvl.Entries {
			hits = append(hits, marginHit{OrderId: id, AgentId: agent, Price: lvl.Price})
		}
		return true
	})
	return hits
}

// triggeredByAskAtOrAbove is the mirror for short positions: liquidate when
// ask >= marginCallPrice, i.e. every level at or below bestAsk. See
// triggeredByBidAtOrBelow for why entries are left in place here.
func (m *marginMap) triggeredByAskAtOrAbove(bestAsk decimal.Decimal) []marginHit {
	var hits []marginHit
	m.tree.Scan(func(lvl *marginLevel) bool {
		if lvl.Price.GreaterThan(bestAsk) {
			return false // ascending order: nothing further qualifies
		}
		for id, agent := range lvl.Entries {
			hits = append(hits, marginHit{OrderId: id, AgentId: agent, Price: lvl.Price})
		}
		return true
	})
	return hits
}

type marginHit struct {
	OrderId types.OrderId
	AgentId types.AgentId
	Price   decimal.Decimal
}
