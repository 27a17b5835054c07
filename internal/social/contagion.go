package social

import (
	"github.com/talgya/candy-cartel/internal/agents"
)

// ContagionConfig holds imitation tunables.
type ContagionConfig struct {
	Radius     float64 // Observation radius
	Window     uint64  // Ticks an observation counts toward a tally
	Count      int     // Observations of one strategy needed to adopt it
	Step       float64 // Blend step toward the observed strategy, 0–1
	MaxDrift   float64 // Hard clamp on parameter distance from the base personality
	Timeout    uint64  // Ticks without reinforcement before drift decays
	RevertStep float64 // Blend step back toward the base per decay pass
}

type sighting struct {
	tick uint64
	kind agents.PersonalityKind
}

// Adoption reports an observer blending toward a strategy.
type Adoption struct {
	Observer agents.AgentID
	Strategy agents.PersonalityKind
	Params   agents.Params
}

// Tracker tallies profitable trades each agent has watched and blends the
// watcher's personality toward strategies it keeps seeing pay off.
type Tracker struct {
	cfg        ContagionConfig
	table      agents.Table
	sightings  map[agents.AgentID][]sighting
	reinforced map[agents.AgentID]uint64
}

// NewTracker creates a contagion tracker for a personality table.
func NewTracker(cfg ContagionConfig, table agents.Table) *Tracker {
	return &Tracker{
		cfg:        cfg,
		table:      table,
		sightings:  make(map[agents.AgentID][]sighting),
		reinforced: make(map[agents.AgentID]uint64),
	}
}

// Radius is the observation radius callers use to find observers.
func (t *Tracker) Radius() float64 { return t.cfg.Radius }

// Observe records that observers watched performer complete a trade with
// the given profit. Only profitable trades are tallied.
func (t *Tracker) Observe(tick uint64, performer *agents.Agent, profit float64, observers []*agents.Agent) []Adoption {
	if profit <= 0 {
		return nil
	}
	strategy := performer.Personality.Kind
	var out []Adoption
	for _, o := range observers {
		if o.ID == performer.ID || o.Possessed {
			continue
		}
		list := t.prune(o.ID, tick)
		list = append(list, sighting{tick: tick, kind: strategy})
		n := 0
		for _, s := range list {
			if s.kind == strategy {
				n++
			}
		}
		if n < t.cfg.Count || strategy == o.Base.Kind {
			t.sightings[o.ID] = list
			continue
		}

		// Adopting resets that strategy's tally.
		kept := list[:0]
		for _, s := range list {
			if s.kind != strategy {
				kept = append(kept, s)
			}
		}
		t.sightings[o.ID] = kept
		o.Personality.Params = agents.Blend(o.Personality.Params, t.table[strategy], o.Base.Params, t.cfg.Step, t.cfg.MaxDrift)
		t.reinforced[o.ID] = tick
		out = append(out, Adoption{Observer: o.ID, Strategy: strategy, Params: o.Personality.Params})
	}
	return out
}

// Relax pulls agents whose drift has gone unreinforced for Timeout ticks
// back toward their base personality. It returns the ids that fully reverted.
func (t *Tracker) Relax(tick uint64, pop []*agents.Agent) []agents.AgentID {
	var reverted []agents.AgentID
	for _, a := range pop {
		if a.Personality.Params == a.Base.Params {
			continue
		}
		if last, ok := t.reinforced[a.ID]; ok && tick < last+t.cfg.Timeout {
			continue
		}
		a.Personality.Params = agents.Blend(a.Personality.Params, a.Base.Params, a.Base.Params, t.cfg.RevertStep, t.cfg.MaxDrift)
		if nearlyEqual(a.Personality.Params, a.Base.Params) {
			a.Personality.Params = a.Base.Params
			delete(t.reinforced, a.ID)
			reverted = append(reverted, a.ID)
		}
	}
	return reverted
}

// Tally returns how many sightings of strategy observer holds in the window.
func (t *Tracker) Tally(observer agents.AgentID, strategy agents.PersonalityKind, tick uint64) int {
	n := 0
	for _, s := range t.prune(observer, tick) {
		if s.kind == strategy {
			n++
		}
	}
	return n
}

func (t *Tracker) prune(id agents.AgentID, tick uint64) []sighting {
	list := t.sightings[id]
	i := 0
	for i < len(list) && list[i].tick+t.cfg.Window < tick {
		i++
	}
	list = list[i:]
	t.sightings[id] = list
	return list
}

func nearlyEqual(a, b agents.Params) bool {
	const eps = 1e-3
	d := func(x, y float64) bool { return x-y < eps && y-x < eps }
	return d(a.Threshold, b.Threshold) && d(a.LearningRate, b.LearningRate) &&
		d(a.RiskTolerance, b.RiskTolerance) && d(a.TradeProbability, b.TradeProbability)
}
