// Package simulation implements the SimulationManager (C11): blockCount
// parallel scheduler.Simulation instances, each owning its own Exchange and
// books, stepped concurrently and joined at a barrier once per logical
// step. Grounded in the teacher's WorkerPool/tomb.Tomb-supervised goroutine
// pool (internal/worker.go, internal/server.go), generalized from a pool of
// connection handlers to a pool of simulation blocks synchronized by a
// round barrier rather than a task channel.
package simulation

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/exchange"
	"fenrirsim/internal/scheduler"
	"fenrirsim/internal/types"
)

// Quote is one book's top-of-book snapshot, canonically identified, as
// published to the manager's remote collaborator after a barrier round.
type Quote struct {
	BookId   types.BookIdCanon
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	MidPrice decimal.Decimal
}

// Publisher is the narrow surface the SimulationManager needs from the
// HTTP/MQ transport to a remote validator — deliberately out of scope
// (spec.md §1's Non-goals) and represented only as this interface. Offline
// mode runs with a nil Publisher and simply skips the publish/notify step.
type Publisher interface {
	Publish(step uint64, quotes []Quote) []ScheduledNotice
}

// ScheduledNotice pairs a canonical book id with a pre-built wire payload
// ready for Simulation.Schedule once decanonized to a local BookId.
type ScheduledNotice struct {
	BookId            types.BookIdCanon
	Schedule          func(sim *scheduler.Simulation, localBookId types.BookId)
	SecondaryPriority int64
}

// Block is one parallel simulation shard: its own Simulation (scheduler)
// and Exchange (books + clearing), indexed by blockIdx within the manager's
// blockDim.
type Block struct {
	Idx      uint32
	Sim      *scheduler.Simulation
	Exchange *exchange.Exchange
}

// Manager is C11: it owns every Block and the tomb.Tomb supervising their
// per-step goroutines. Blocks never communicate except through the
// barrier; each owns all of its mutable state exclusively (§5).
type Manager struct {
	blockDim  uint32
	blocks    []*Block
	publisher Publisher
	t         tomb.Tomb

	stepCount uint64
}

func New(blockDim uint32, blocks []*Block, publisher Publisher) *Manager {
	return &Manager{blockDim: blockDim, blocks: blocks, publisher: publisher}
}

// Step runs one logical step across every block in parallel, waits for all
// of them at the barrier, evaluates margin calls, and — if a Publisher is
// configured — publishes the aggregated quote state and re-injects any
// notices it returns (§4.7). Returns the first block error encountered, if
// any ("Scheduler errors: fatal; abort the simulation block" — §7).
func (m *Manager) Step() error {
	if err := m.runRound(); err != nil {
		return err
	}
	m.evaluateMarginCalls()
	m.endStep()
	if m.publisher != nil {
		m.publishAndInject()
	}
	m.stepCount++
	return nil
}

func (m *Manager) runRound() error {
	var wg sync.WaitGroup
	errs := make([]error, len(m.blocks))
	for i, blk := range m.blocks {
		wg.Add(1)
		i, blk := i, blk
		m.t.Go(func() error {
			defer wg.Done()
			errs[i] = blk.Sim.Step()
			return nil
		})
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("simulation: block %d: %w", m.blocks[i].Idx, err)
		}
	}
	return nil
}

func (m *Manager) evaluateMarginCalls() {
	for _, blk := range m.blocks {
		blk.Exchange.EvaluateMarginCalls(blk.Sim.Current())
	}
}

// endStep expires rolling fee-tier volume older than the window and clears
// the L3 record buffer in every block, once per logical step (§4.4, §8 P4).
func (m *Manager) endStep() {
	for _, blk := range m.blocks {
		blk.Exchange.EndStep(blk.Sim.Current())
	}
}

func (m *Manager) publishAndInject() {
	quotes := m.aggregateQuotes()
	notices := m.publisher.Publish(m.stepCount, quotes)
	for _, n := range notices {
		blockIdx, localBookId := types.Decanon(n.BookId, m.blockDim)
		blk := m.blockByIdx(blockIdx)
		if blk == nil {
			log.Error().Uint32("blockIdx", blockIdx).Msg("simulation: remote notice addressed to unknown block")
			continue
		}
		n.Schedule(blk.Sim, localBookId)
	}
}

func (m *Manager) aggregateQuotes() []Quote {
	var out []Quote
	for _, blk := range m.blocks {
		for _, bookId := range blk.Exchange.BookIds() {
			bid, ask, mid, ok := blk.Exchange.Quote(bookId)
			if !ok {
				continue
			}
			out = append(out, Quote{BookId: blk.Exchange.CanonicalBookId(bookId), Bid: bid, Ask: ask, MidPrice: mid})
		}
	}
	return out
}

func (m *Manager) blockByIdx(idx uint32) *Block {
	for _, blk := range m.blocks {
		if blk.Idx == idx {
			return blk
		}
	}
	return nil
}

// Run drives steps steps in sequence, stopping at the first error.
func (m *Manager) Run(steps uint64) error {
	for i := uint64(0); i < steps; i++ {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the supervising tomb and waits for in-flight block
// goroutines to finish.
func (m *Manager) Shutdown() error {
	m.t.Kill(nil)
	return m.t.Wait()
}
