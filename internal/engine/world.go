package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/config"
	"github.com/talgya/candy-cartel/internal/economy"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/trade"
	"github.com/talgya/candy-cartel/internal/world"
)

// maxResults bounds how many command results are kept for lookup.
const maxResults = 1024

// Options supplies pre-built state to New. Nil fields are generated from
// the configuration seed.
type Options struct {
	Map    *world.Map
	Agents []*agents.Agent
}

// World is the single coordinator that owns every subsystem. External
// collaborators interact with the simulation only through its methods.
type World struct {
	mu sync.RWMutex

	cfg   config.Config
	seed  int64
	tick  uint64
	eng   *Engine
	table agents.Table

	Map    *world.Map
	agents []*agents.Agent // Ascending id
	index  map[agents.AgentID]*agents.Agent
	grid   *world.SpatialGrid
	nav    *world.NavGrid

	eco       *economy.Economy
	rumors    *rumor.Engine
	blocs     *social.Detector
	contagion *social.Tracker
	combos    *combo.Detector

	poss Possession
	bus  eventBus

	queue       []Command
	results     map[uint64]CommandResult
	resultOrder []uint64
	nextCmd     uint64

	rng   *rand.Rand // Used only in the single-writer phases
	stats Stats
}

// Stats are running counters for reports.
type Stats struct {
	Trades        uint64 `json:"trades"`
	DroppedTrades uint64 `json:"dropped_trades"`
	Defaults      uint64 `json:"defaults"`
	Combos        uint64 `json:"combos"`
	Spoiled       uint64 `json:"spoiled"`
	RumorsSpread  uint64 `json:"rumors_spread"`
}

// New builds a world from configuration. The configuration must already
// be validated.
func New(cfg config.Config, opts Options) *World {
	table := cfg.PersonalityTable()
	m := opts.Map
	if m == nil {
		m = world.Generate(cfg.GenConfig())
	}
	pop := opts.Agents
	if pop == nil {
		pop = agents.NewSpawner(cfg.Seed, table).SpawnPopulation(cfg.Agents, m)
	}

	w := &World{
		cfg:       cfg,
		seed:      cfg.Seed,
		table:     table,
		Map:       m,
		grid:      world.NewSpatialGrid(100),
		nav:       world.NewNavGrid(m, cfg.World.NavCell, cfg.World.HouseRadius),
		eco:       economy.New(cfg.EconomyConfig()),
		rumors:    rumor.NewEngine(cfg.RumorConfig()),
		blocs:     social.NewDetector(cfg.DetectorConfig()),
		contagion: social.NewTracker(cfg.TrackerConfig(), table),
		combos:    combo.NewDetector(cfg.Combos, combo.NewLog(cfg.Capacity.ActionLog)),
		poss:      Possession{Energy: cfg.Possession.MaxEnergy},
		results:   make(map[uint64]CommandResult),
		nextCmd:   1,
		rng:       rand.New(rand.NewSource(cfg.Seed + 500)),
	}
	w.bus.limit = cfg.Capacity.RecentEvents
	w.setAgents(pop)

	w.eng = NewEngine(time.Duration(cfg.Schedule.TickMs)*time.Millisecond, cfg.Schedule.MediumEvery, cfg.Schedule.SlowEvery)
	w.eng.OnFast = w.fastTick
	w.eng.OnMedium = w.mediumTick
	w.eng.OnSlow = w.slowTick
	return w
}

func (w *World) setAgents(pop []*agents.Agent) {
	sort.Slice(pop, func(i, j int) bool { return pop[i].ID < pop[j].ID })
	w.agents = pop
	w.index = make(map[agents.AgentID]*agents.Agent, len(pop))
	for _, a := range pop {
		w.index[a.ID] = a
	}
	w.rebuildGrid()
}

// walk sends a toward target, routing around houses on the way.
func (w *World) walk(a *agents.Agent, target world.Vec2, house *world.HouseID) {
	a.WalkTo(target, house, w.nav.Route(a.Position, target))
}

// Engine returns the scheduler, for speed control.
func (w *World) Engine() *Engine { return w.eng }

// Config returns the configuration the world runs with.
func (w *World) Config() config.Config { return w.cfg }

// Step advances one tick synchronously.
func (w *World) Step() { w.eng.Step() }

// Tick returns the most recently processed tick.
func (w *World) Tick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// Subscribe registers an event sink. Sinks run in registration order on
// the simulation goroutine.
func (w *World) Subscribe(fn Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bus.subscribe(fn)
}

// Enqueue queues a command for the next fast tick and returns its id.
func (w *World) Enqueue(cmd Command) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	cmd.ID = w.nextCmd
	w.nextCmd++
	w.queue = append(w.queue, cmd)
	w.storeResult(CommandResult{ID: cmd.ID, Status: StatusPending, Tick: w.tick})
	return cmd.ID
}

// Result returns the outcome of a command.
func (w *World) Result(id uint64) (CommandResult, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.results[id]
	return r, ok
}

func (w *World) storeResult(r CommandResult) {
	if _, ok := w.results[r.ID]; !ok {
		w.resultOrder = append(w.resultOrder, r.ID)
	}
	w.results[r.ID] = r
	for len(w.resultOrder) > maxResults {
		delete(w.results, w.resultOrder[0])
		w.resultOrder = w.resultOrder[1:]
	}
}

func (w *World) emit(e Event) {
	if e.Tick == 0 {
		e.Tick = w.tick
	}
	w.bus.emit(e)
}

func (w *World) agent(id agents.AgentID) *agents.Agent { return w.index[id] }

func (w *World) rebuildGrid() {
	w.grid.Clear()
	for _, a := range w.agents {
		w.grid.Insert(uint64(a.ID), a.Position)
	}
}

// nearby lists agents within radius of a, excluding a.
func (w *World) nearby(a *agents.Agent, radius float64) []*agents.Agent {
	var out []*agents.Agent
	for _, id := range w.grid.Nearby(a.Position, radius) {
		if agents.AgentID(id) == a.ID {
			continue
		}
		if b := w.index[agents.AgentID(id)]; b != nil {
			out = append(out, b)
		}
	}
	return out
}

// population adapts the world to rumor.Population.
type population struct{ w *World }

func (p population) Agent(id agents.AgentID) *agents.Agent { return p.w.index[id] }

func (p population) Nearby(id agents.AgentID, radius float64) []agents.AgentID {
	a := p.w.index[id]
	if a == nil {
		return nil
	}
	var out []agents.AgentID
	for _, b := range p.w.nearby(a, radius) {
		out = append(out, b.ID)
	}
	return out
}

// Affinity favours bloc co-members by the bloc's information advantage.
func (p population) Affinity(from, to agents.AgentID) float64 {
	if bl := p.w.sharedBloc(p.w.index[from], p.w.index[to]); bl != nil {
		return bl.InfoAdvantage()
	}
	return 1
}

// sharedBloc returns the bloc a and b both belong to, or nil.
func (w *World) sharedBloc(a, b *agents.Agent) *social.Bloc {
	if a == nil || b == nil || !agents.InBloc(a, b) {
		return nil
	}
	return w.blocs.Get(*a.BlocID)
}

// setMood changes an agent's mood and emits agent_mood_changed.
func (w *World) setMood(a *agents.Agent, m agents.Mood, reason string) {
	prev := a.Mood
	if !a.SetMood(m, w.tick) {
		return
	}
	w.emit(Event{
		Kind:        EventAgentMoodChanged,
		Agents:      []agents.AgentID{a.ID},
		Description: fmt.Sprintf("%s is now %s (%s)", a.Name, m, reason),
		Meta:        map[string]any{"from": prev.String(), "to": m.String(), "reason": reason},
	})
}

// logAction appends to the action log and awards any completed combos.
func (w *World) logAction(e combo.Entry) {
	e.Tick = w.tick
	_, triggers := w.combos.Record(e)
	for _, t := range triggers {
		w.stats.Combos++
		w.poss.addEnergy(t.Bonus, w.cfg.Possession.MaxEnergy)
		w.emit(Event{
			Kind:        EventComboTriggered,
			Description: fmt.Sprintf("combo %s (+%.0f)", t.Name, t.Bonus),
			Meta:        map[string]any{"name": t.Name, "bonus": t.Bonus, "seqs": t.Seqs},
		})
		slog.Info("combo triggered", "name", t.Name, "bonus", t.Bonus, "tick", w.tick)
	}
}

// tradeOptions builds evaluation context for a judging b's trade. The bloc
// discount grows with the shared bloc's strength.
func (w *World) tradeOptions(a, b *agents.Agent) trade.Options {
	discount := w.cfg.Trade.BlocDiscount
	bl := w.sharedBloc(a, b)
	if bl != nil {
		discount *= bl.TradeBonus()
	}
	return trade.Options{
		SameBloc:     bl != nil,
		BlocDiscount: discount,
		GoalDiscount: w.cfg.Trade.GoalDiscount,
		GoalUrgent:   a.Goal.Urgent(w.tick, w.cfg.Behavior.GoalUrgentAfter),
	}
}
