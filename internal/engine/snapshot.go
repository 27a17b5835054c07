package engine

import (
	"encoding/json"
	"fmt"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/config"
	"github.com/talgya/candy-cartel/internal/economy"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/world"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is a self-contained copy of the simulation state. It shares no
// memory with the world it was taken from.
type Snapshot struct {
	Version    int             `json:"version"`
	Tick       uint64          `json:"tick"`
	Config     config.Config   `json:"config"`
	Width      float64         `json:"width"`
	Height     float64         `json:"height"`
	Houses     []*world.House  `json:"houses"`
	Agents     []*agents.Agent `json:"agents"`
	Economy    EconomyState    `json:"economy"`
	Rumors     []*rumor.Rumor  `json:"rumors"`
	Blocs      []*social.Bloc  `json:"blocs"`
	Actions    []combo.Entry   `json:"actions"`
	Possession Possession      `json:"possession"`
	Stats      Stats           `json:"stats"`
	EventSeq   uint64          `json:"event_seq"`
	NextCmd    uint64          `json:"next_cmd"`
}

// EconomyState is the serialisable part of the economy.
type EconomyState struct {
	History   []economy.PricePoint    `json:"history"`
	Prices    [candy.NumKinds]float64 `json:"prices"`
	Discovery float64                 `json:"discovery"`
}

// Snapshot captures the current state. The copy is made through a JSON
// round trip so nothing aliases live data.
func (w *World) Snapshot() (Snapshot, error) {
	w.mu.RLock()
	live := Snapshot{
		Version:    SnapshotVersion,
		Tick:       w.tick,
		Config:     w.cfg,
		Width:      w.Map.Width,
		Height:     w.Map.Height,
		Houses:     w.Map.SortedHouses(),
		Agents:     w.agents,
		Economy:    EconomyState{History: w.eco.History, Prices: w.eco.Prices, Discovery: w.eco.Discovery},
		Rumors:     w.rumors.Active(),
		Blocs:      w.blocs.Blocs(),
		Actions:    w.combos.Log().Entries(),
		Possession: w.poss,
		Stats:      w.stats,
		EventSeq:   w.bus.seq,
		NextCmd:    w.nextCmd,
	}
	raw, err := json.Marshal(live)
	w.mu.RUnlock()
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Validate checks a snapshot before it is restored: configuration, id
// uniqueness, and the agent invariants.
func (s Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	if err := s.Config.Validate(); err != nil {
		return err
	}
	ids := make(map[agents.AgentID]bool, len(s.Agents))
	for _, a := range s.Agents {
		if a == nil {
			return fmt.Errorf("snapshot has a nil agent")
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate agent %d", a.ID)
		}
		ids[a.ID] = true
	}
	for _, a := range s.Agents {
		if a.Inventory.HasNegative() {
			return fmt.Errorf("agent %d: negative inventory", a.ID)
		}
		for k, b := range a.Beliefs {
			if b < agents.MinBelief || b > agents.MaxBelief {
				return fmt.Errorf("agent %d: belief %d out of range (%v)", a.ID, k, b)
			}
		}
		for cid := range a.Debts {
			if !ids[cid] {
				return fmt.Errorf("agent %d owes missing agent %d", a.ID, cid)
			}
		}
	}
	if p := s.Possession.Agent; p != nil && !ids[*p] {
		return fmt.Errorf("possessed agent %d missing", *p)
	}
	seen := make(map[agents.AgentID]social.BlocID)
	for _, b := range s.Blocs {
		for _, m := range b.Members {
			if prev, dup := seen[m]; dup {
				return fmt.Errorf("agent %d in blocs %d and %d", m, prev, b.ID)
			}
			seen[m] = b.ID
		}
	}
	return nil
}

// Restore replaces the world's state with a snapshot. Subscribers and the
// scheduler are kept. Bloc pair counters and contagion tallies restart
// empty.
func (w *World) Restore(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return reject(ErrConfiguration, err)
	}
	// Restore takes ownership of copies, never of the caller's pointers.
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	var own Snapshot
	if err := json.Unmarshal(raw, &own); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cfg := own.Config
	m := world.NewMap(own.Width, own.Height)
	for _, h := range own.Houses {
		m.Set(h)
	}
	for _, a := range own.Agents {
		if a.Trust == nil {
			a.Trust = make(map[agents.AgentID]float64)
		}
		if a.Social == nil {
			a.Social = make(map[agents.AgentID]struct{})
		}
		if a.Debts == nil {
			a.Debts = make(map[agents.AgentID]*agents.Debt)
		}
	}

	w.cfg = cfg
	w.seed = cfg.Seed
	w.tick = own.Tick
	w.table = cfg.PersonalityTable()
	w.Map = m
	w.nav = world.NewNavGrid(m, cfg.World.NavCell, cfg.World.HouseRadius)
	w.eco = economy.New(cfg.EconomyConfig())
	w.eco.Restore(own.Economy.History, own.Economy.Prices, own.Economy.Discovery)
	w.rumors = rumor.NewEngine(cfg.RumorConfig())
	w.rumors.Restore(own.Rumors)
	w.blocs = social.NewDetector(cfg.DetectorConfig())
	w.blocs.Restore(own.Blocs)
	w.contagion = social.NewTracker(cfg.TrackerConfig(), w.table)
	actions := combo.NewLog(cfg.Capacity.ActionLog)
	actions.Restore(own.Actions)
	w.combos = combo.NewDetector(cfg.Combos, actions)
	w.poss = own.Possession
	w.stats = own.Stats
	w.bus.limit = cfg.Capacity.RecentEvents
	w.bus.seq = own.EventSeq
	w.bus.recent = nil
	w.queue = nil
	if own.NextCmd > w.nextCmd {
		w.nextCmd = own.NextCmd
	}
	w.setAgents(own.Agents)

	w.eng.Tick = own.Tick
	w.eng.MediumEvery = cfg.Schedule.MediumEvery
	w.eng.SlowEvery = cfg.Schedule.SlowEvery
	return nil
}
