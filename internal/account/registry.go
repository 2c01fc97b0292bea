// Package account implements the AccountRegistry (C4): the mapping between
// an agent's string identity and its numeric AgentId, its per-book Balances
// vector, and its per-book active-order sets. Grounded in the teacher's
// single-threaded, lock-free map ownership style (internal/engine/types.go
// holds its registries as plain maps, relying on the one-goroutine-per-block
// model rather than mutexes) generalized from a single map to the spec's
// per-(agent,book) vector of Balances.
package account

import (
	"fmt"

	"fenrirsim/internal/balance"
	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// Registry owns every agent's identity, balances, and active orders for one
// simulation block. Nothing outside this package holds a long-lived
// reference into its internals; callers go through its methods so a single
// goroutine per block is sufficient for safety.
type Registry struct {
	byName map[string]types.AgentId
	byId   map[types.AgentId]string

	nextLocalId types.AgentId // local agents are assigned successive negative ids

	balances     map[types.AgentId]map[types.BookId]*balance.Balances
	seeds        map[types.AgentId]map[types.BookId]balance.Seed
	activeOrders map[types.AgentId]map[types.BookId]map[types.OrderId]struct{}
}

func New() *Registry {
	return &Registry{
		byName:       make(map[string]types.AgentId),
		byId:         make(map[types.AgentId]string),
		nextLocalId:  -1,
		balances:     make(map[types.AgentId]map[types.BookId]*balance.Balances),
		seeds:        make(map[types.AgentId]map[types.BookId]balance.Seed),
		activeOrders: make(map[types.AgentId]map[types.BookId]map[types.OrderId]struct{}),
	}
}

// RegisterLocal assigns the next available negative id to a locally-driven
// agent (e.g. a trader process running in-block).
func (r *Registry) RegisterLocal(name string) types.AgentId {
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.nextLocalId
	r.nextLocalId--
	r.byName[name] = id
	r.byId[id] = name
	return id
}

// RegisterRemote binds a non-negative id to a distributed agent's name. The
// id is supplied by the remote validator, never assigned locally.
func (r *Registry) RegisterRemote(name string, id types.AgentId) error {
	if !id.IsRemote() {
		return fmt.Errorf("account: remote agent id %d must be non-negative", id)
	}
	if existing, ok := r.byId[id]; ok && existing != name {
		return fmt.Errorf("account: id %d already bound to %q", id, existing)
	}
	r.byName[name] = id
	r.byId[id] = name
	return nil
}

func (r *Registry) Name(id types.AgentId) (string, bool) {
	name, ok := r.byId[id]
	return name, ok
}

func (r *Registry) Lookup(name string) (types.AgentId, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Agents returns every registered agent id, used for "*" broadcast delivery
// (§4.6).
func (r *Registry) Agents() []types.AgentId {
	out := make([]types.AgentId, 0, len(r.byId))
	for id := range r.byId {
		out = append(out, id)
	}
	return out
}

// EnsureBalances returns the agent's Balances for bookId, creating and
// seeding it with baseFree/quoteFree on first access. Matches the source's
// lazy per-(agent,book) balance vector.
func (r *Registry) EnsureBalances(agentId types.AgentId, bookId types.BookId, baseFree, quoteFree decimal.Decimal, decimals balance.Decimals) *balance.Balances {
	perBook, ok := r.balances[agentId]
	if !ok {
		perBook = make(map[types.BookId]*balance.Balances)
		r.balances[agentId] = perBook
	}
	if b, ok := perBook[bookId]; ok {
		return b
	}
	b := balance.NewBalances(baseFree, quoteFree, decimals)
	perBook[bookId] = b

	perBookSeed, ok := r.seeds[agentId]
	if !ok {
		perBookSeed = make(map[types.BookId]balance.Seed)
		r.seeds[agentId] = perBookSeed
	}
	perBookSeed[bookId] = balance.Seed{BaseFree: baseFree, QuoteFree: quoteFree, Decimals: decimals}
	return b
}

// RestoreInitialBalances resets every book's Balances for agentId back to
// the seed it was first constructed with via EnsureBalances, discarding any
// reservations, loans, and accumulated free/reserved drift — RESET_AGENT's
// "restore the agent's balances from a saved snapshot" requirement (§4.5).
func (r *Registry) RestoreInitialBalances(agentId types.AgentId) {
	for bookId, seed := range r.seeds[agentId] {
		r.balances[agentId][bookId] = balance.NewBalances(seed.BaseFree, seed.QuoteFree, seed.Decimals)
	}
}

// Balances returns the agent's existing Balances for bookId, if any.
func (r *Registry) Balances(agentId types.AgentId, bookId types.BookId) (*balance.Balances, bool) {
	perBook, ok := r.balances[agentId]
	if !ok {
		return nil, false
	}
	b, ok := perBook[bookId]
	return b, ok
}

// BooksFor returns every bookId the agent holds Balances in.
func (r *Registry) BooksFor(agentId types.AgentId) []types.BookId {
	perBook, ok := r.balances[agentId]
	if !ok {
		return nil
	}
	out := make([]types.BookId, 0, len(perBook))
	for bookId := range perBook {
		out = append(out, bookId)
	}
	return out
}

// AddActiveOrder registers orderId under (agentId, bookId)'s active-order
// set (§4.2's orderCreated callback).
func (r *Registry) AddActiveOrder(agentId types.AgentId, bookId types.BookId, orderId types.OrderId) {
	perBook, ok := r.activeOrders[agentId]
	if !ok {
		perBook = make(map[types.BookId]map[types.OrderId]struct{})
		r.activeOrders[agentId] = perBook
	}
	set, ok := perBook[bookId]
	if !ok {
		set = make(map[types.OrderId]struct{})
		perBook[bookId] = set
	}
	set[orderId] = struct{}{}
}

// RemoveActiveOrder drops orderId from the active set (§4.2's unregister
// callback). A no-op if the order was not tracked.
func (r *Registry) RemoveActiveOrder(agentId types.AgentId, bookId types.BookId, orderId types.OrderId) {
	if perBook, ok := r.activeOrders[agentId]; ok {
		if set, ok := perBook[bookId]; ok {
			delete(set, orderId)
		}
	}
}

// ActiveOrderCount reports how many open orders the agent holds in bookId,
// for the active-order cap check (§4.2).
func (r *Registry) ActiveOrderCount(agentId types.AgentId, bookId types.BookId) int {
	if perBook, ok := r.activeOrders[agentId]; ok {
		if set, ok := perBook[bookId]; ok {
			return len(set)
		}
	}
	return 0
}

// ActiveOrders returns a snapshot of the agent's open order ids in bookId.
func (r *Registry) ActiveOrders(agentId types.AgentId, bookId types.BookId) []types.OrderId {
	perBook, ok := r.activeOrders[agentId]
	if !ok {
		return nil
	}
	set, ok := perBook[bookId]
	if !ok {
		return nil
	}
	out := make([]types.OrderId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ResetAgent clears every active-order set for the agent across all books,
// returning what was cleared so the caller (ClearingManager) can cancel
// each order and void its reservations (§4.5 RESET_AGENT).
func (r *Registry) ResetAgent(agentId types.AgentId) map[types.BookId][]types.OrderId {
	perBook, ok := r.activeOrders[agentId]
	if !ok {
		return nil
	}
	cleared := make(map[types.BookId][]types.OrderId, len(perBook))
	for bookId, set := range perBook {
		ids := make([]types.OrderId, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		cleared[bookId] = ids
	}
	delete(r.activeOrders, agentId)
	return cleared
}
