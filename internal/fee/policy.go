// Package fee implements the tiered maker/taker fee schedule (C5): a
// per-agent rolling volume window looked up against a sorted list of tiers,
// generalized from the teacher's single flat-fee TODO in engine.Trade into
// a full schedule per §4.4.
package fee

import (
	"sort"

	"fenrirsim/internal/decimal"
	"fenrirsim/internal/types"
)

// Tier is one rung of the maker/taker schedule.
type Tier struct {
	VolumeRequired decimal.Decimal
	MakerRate      decimal.Decimal
	TakerRate      decimal.Decimal
}

// Rates is the resolved (maker, taker) rate pair for a given rolling volume.
type Rates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

type volumeEntry struct {
	at     types.Timestamp
	volume decimal.Decimal
}

type agentBookKey struct {
	book  types.BookId
	agent types.AgentId
}

// Policy tracks a base tier schedule, optional per-agent overrides, and a
// rolling trade-volume history windowed by timestamp.
type Policy struct {
	baseTiers      []Tier
	agentOverrides map[types.AgentId][]Tier
	window         types.Timestamp

	history map[agentBookKey][]volumeEntry
	rolling map[agentBookKey]decimal.Decimal
}

// New constructs a Policy. baseTiers are sorted ascending by VolumeRequired
// here, in any input order; the lowest tier is used as the default for agents below
// every threshold. window bounds how far back rolling volume is counted.
func New(baseTiers []Tier, window types.Timestamp) *Policy {
	sorted := append([]Tier(nil), baseTiers...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].VolumeRequired.LessThan(sorted[j].VolumeRequired)
	})
	return &Policy{
		baseTiers:      sorted,
		agentOverrides: make(map[types.AgentId][]Tier),
		window:         window,
		history:        make(map[agentBookKey][]volumeEntry),
		rolling:        make(map[agentBookKey]decimal.Decimal),
	}
}

// SetAgentOverride installs a distinct tier schedule for a specific agent,
// per the config schema's "Tiers with per-agent overrides" (§6).
func (p *Policy) SetAgentOverride(agent types.AgentId, tiers []Tier) {
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].VolumeRequired.LessThan(sorted[j].VolumeRequired)
	})
	p.agentOverrides[agent] = sorted
}

func (p *Policy) tiersFor(agent types.AgentId) []Tier {
	if t, ok := p.agentOverrides[agent]; ok {
		return t
	}
	return p.baseTiers
}

// RecordVolume adds a fill's traded volume to an agent's rolling history for
// a book, used to compute tier progression.
func (p *Policy) RecordVolume(bookId types.BookId, agent types.AgentId, at types.Timestamp, volume decimal.Decimal) {
	key := agentBookKey{bookId, agent}
	p.history[key] = append(p.history[key], volumeEntry{at: at, volume: volume})
	p.rolling[key] = p.rolling[key].Add(volume)
}

// UpdateFeeTiers expires history entries older than the rolling window
// relative to cutoff (§4.4).
func (p *Policy) UpdateFeeTiers(cutoff types.Timestamp) {
	for key, entries := range p.history {
		i := 0
		expired := decimal.Zero
		for i < len(entries) && entries[i].at < cutoff-p.window {
			expired = expired.Add(entries[i].volume)
			i++
		}
		if i == 0 {
			continue
		}
		p.history[key] = entries[i:]
		p.rolling[key] = decimal.Max(decimal.Zero, p.rolling[key].Sub(expired))
	}
}

// GetRates returns the tier whose VolumeRequired <= rolling volume and whose
// next tier's requirement exceeds it, or the base (lowest) tier (§4.4).
func (p *Policy) GetRates(bookId types.BookId, agent types.AgentId) Rates {
	tiers := p.tiersFor(agent)
	if len(tiers) == 0 {
		return Rates{}
	}
	rolling := p.rolling[agentBookKey{bookId, agent}]

	selected := tiers[0]
	for _, t := range tiers {
		if rolling.GreaterThanOrEqual(t.VolumeRequired) {
			selected = t
		} else {
			break
		}
	}
	return Rates{Maker: selected.MakerRate, Taker: selected.TakerRate}
}

// RollingVolume exposes the current rolling volume for inspection/logging.
func (p *Policy) RollingVolume(bookId types.BookId, agent types.AgentId) decimal.Decimal {
	return p.rolling[agentBookKey{bookId, agent}]
}

// ResetHistory erases rolling volume for the given agents, used in
// agent-reset flows (RESET_AGENT, §4.5).
func (p *Policy) ResetHistory(agents []types.AgentId) {
	agentSet := make(map[types.AgentId]struct{}, len(agents))
	for _, a := range agents {
		agentSet[a] = struct{}{}
	}
	for key := range p.history {
		if _, ok := agentSet[key.agent]; ok {
			delete(p.history, key)
			delete(p.rolling, key)
		}
	}
}
