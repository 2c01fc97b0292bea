package scheduler

import (
	"fmt"
	"strings"

	"fenrirsim/internal/account"
	"fenrirsim/internal/types"
	"fenrirsim/internal/wire"
)

// Exchange is the narrow surface Simulation needs from exchange.Exchange —
// kept as an interface so this package never imports the concrete exchange
// package, mirroring the teacher's habit of driving the engine through a
// small interface rather than a concrete type.
type Exchange interface {
	Dispatch(msg wire.Message) []wire.Message
}

// AgentSink is the narrow surface a trader agent exposes to the scheduler.
// Agent decision logic itself is explicitly out of scope (spec.md §1's
// Non-goals): Simulation only ever hands a sink its inbound messages, never
// interprets what the agent does with them.
type AgentSink interface {
	Deliver(msg wire.Message)
}

// Simulation is C10: one block's cooperative, single-threaded message loop.
// All mutable state it touches (the queue, the exchange, the registered
// agent sinks) is owned by the single goroutine that calls Step — no locks,
// per §5's shared-resource policy.
type Simulation struct {
	current  types.Timestamp
	stepSize types.Timestamp

	queue    *Queue
	exchange Exchange
	accounts *account.Registry

	agents map[string]AgentSink
}

func New(startTime, stepSize types.Timestamp, exchange Exchange, accounts *account.Registry) *Simulation {
	return &Simulation{
		current:  startTime,
		stepSize: stepSize,
		queue:    NewQueue(),
		exchange: exchange,
		accounts: accounts,
		agents:   make(map[string]AgentSink),
	}
}

func (s *Simulation) RegisterAgent(name string, sink AgentSink) {
	s.agents[name] = sink
}

// Schedule enqueues msg for future delivery (§4.6).
func (s *Simulation) Schedule(msg wire.Message, secondaryPriority int64) {
	s.queue.Schedule(msg, secondaryPriority)
}

// Current reports the simulation's current time.
func (s *Simulation) Current() types.Timestamp { return s.current }

// ResetAgent drops every future-queued message addressed (in whole or via
// a multi-target list) to agentName, per §5's cancellation rule.
func (s *Simulation) ResetAgent(agentName string) {
	s.queue.RemoveIf(func(msg wire.Message) bool {
		if msg.Source == agentName {
			return true
		}
		for _, t := range msg.TargetList() {
			if t == agentName {
				return true
			}
		}
		return false
	})
}

// Step advances time to current+stepSize, delivers every message with
// arrival < cutoff, then sets current = max(current, cutoff) (§4.6). It
// returns an error only for an unrecoverable delivery failure (an unknown,
// non-wildcard target — §7's "Scheduler errors: fatal; abort the
// simulation block").
func (s *Simulation) Step() error {
	cutoff := s.current + s.stepSize
	due := s.queue.PopBefore(cutoff)
	for _, msg := range due {
		if err := s.deliver(msg); err != nil {
			return err
		}
	}
	if cutoff > s.current {
		s.current = cutoff
	}
	return nil
}

// Drain delivers every still-queued message regardless of arrival time,
// used when the simulation reaches its configured end and flushes
// remaining traffic before shutting down.
func (s *Simulation) Drain() error {
	for {
		arrival, ok := s.queue.PeekArrival()
		if !ok {
			return nil
		}
		for _, msg := range s.queue.PopBefore(arrival + 1) {
			if err := s.deliver(msg); err != nil {
				return err
			}
		}
		if arrival > s.current {
			s.current = arrival
		}
	}
}

func (s *Simulation) deliver(msg wire.Message) error {
	targets := msg.TargetList()
	if len(targets) == 0 {
		targets = []string{TargetExchange}
	}
	for _, target := range targets {
		switch {
		case target == TargetAll:
			for _, sink := range s.agents {
				sink.Deliver(msg)
			}
		case target == TargetExchange:
			for i, resp := range s.exchange.Dispatch(msg) {
				s.queue.Schedule(resp, int64(i))
			}
		case strings.HasSuffix(target, "*"):
			prefix := strings.TrimSuffix(target, "*")
			matched := false
			for name, sink := range s.agents {
				if strings.HasPrefix(name, prefix) {
					sink.Deliver(msg)
					matched = true
				}
			}
			if !matched {
				return fmt.Errorf("scheduler: wildcard target %q matched no agents", target)
			}
		default:
			sink, ok := s.agents[target]
			if !ok {
				return fmt.Errorf("scheduler: unknown delivery target %q", target)
			}
			sink.Deliver(msg)
		}
	}
	return nil
}

const (
	TargetAll      = wire.TargetAll
	TargetExchange = wire.TargetExchange
)
