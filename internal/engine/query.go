package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/economy"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/world"
)

// Run drives the scheduler until ctx is done.
func (w *World) Run(ctx context.Context) { w.eng.Run(ctx) }

// Agents returns copies of every agent in ascending id.
func (w *World) Agents() []*agents.Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*agents.Agent, len(w.agents))
	for i, a := range w.agents {
		out[i] = a.Clone()
	}
	return out
}

// Agent returns a copy of one agent.
func (w *World) Agent(id agents.AgentID) (*agents.Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a := w.index[id]
	if a == nil {
		return nil, false
	}
	return a.Clone(), true
}

// EconomyView is a read-only summary of the market.
type EconomyView struct {
	Tick          uint64                  `json:"tick"`
	Prices        [candy.NumKinds]float64 `json:"prices"`
	Real          [candy.NumKinds]float64 `json:"real"`
	Trends        [candy.NumKinds]float64 `json:"trends"`
	Phase         string                  `json:"phase"`
	Discovery     float64                 `json:"discovery"`
	Volatility    float64                 `json:"volatility"`
	TrendStrength float64                 `json:"trend_strength"`
	BeliefError   float64                 `json:"belief_error"`
	Trades        int                     `json:"recent_trades"`
}

// Economy returns the current market summary.
func (w *World) Economy() EconomyView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v := EconomyView{
		Tick:          w.tick,
		Prices:        w.eco.Prices,
		Real:          w.eco.RealValues(),
		Phase:         w.eco.Phase().String(),
		Discovery:     w.eco.Discovery,
		Volatility:    w.eco.Volatility(),
		TrendStrength: w.eco.TrendStrength(),
		BeliefError:   w.eco.MeanAbsBeliefError(w.agents),
		Trades:        len(w.eco.History),
	}
	for k := candy.Kind(0); k < candy.NumKinds; k++ {
		v.Trends[k] = w.eco.PriceTrend(k)
	}
	return v
}

// PriceHistory returns a copy of the recorded trade prices.
func (w *World) PriceHistory() []economy.PricePoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]economy.PricePoint(nil), w.eco.History...)
}

// Rumors returns copies of the active rumors in id order.
func (w *World) Rumors() []rumor.Rumor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	active := w.rumors.Active()
	out := make([]rumor.Rumor, len(active))
	for i, r := range active {
		c := *r
		c.Visited = make(map[agents.AgentID]int, len(r.Visited))
		for id, d := range r.Visited {
			c.Visited[id] = d
		}
		out[i] = c
	}
	return out
}

// Blocs returns copies of the current blocs in id order.
func (w *World) Blocs() []social.Bloc {
	w.mu.RLock()
	defer w.mu.RUnlock()
	blocs := w.blocs.Blocs()
	out := make([]social.Bloc, len(blocs))
	for i, b := range blocs {
		c := *b
		c.Members = append([]agents.AgentID(nil), b.Members...)
		out[i] = c
	}
	return out
}

// Worth prices an agent's inventory at real values and freshness.
func (w *World) Worth(a *agents.Agent) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return a.RealValue(w.eco.ItemValue)
}

// ComboDefinitions returns the combos the world is watching for.
func (w *World) ComboDefinitions() []combo.Definition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]combo.Definition(nil), w.combos.Definitions()...)
}

// Houses returns copies of every house in id order.
func (w *World) Houses() []world.House {
	w.mu.RLock()
	defer w.mu.RUnlock()
	hs := w.Map.SortedHouses()
	out := make([]world.House, len(hs))
	for i, h := range hs {
		c := *h
		c.Kinds = append([]candy.Kind(nil), h.Kinds...)
		out[i] = c
	}
	return out
}

// Possession returns the player's current possession state.
func (w *World) Possession() Possession {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p := w.poss
	if p.Agent != nil {
		id := *p.Agent
		p.Agent = &id
	}
	p.Incoming = append([]Incoming(nil), p.Incoming...)
	return p
}

// EventsSince returns buffered events with a sequence number above after.
func (w *World) EventsSince(after uint64) []Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.bus.since(after)
}

// Actions returns the action log, oldest first.
func (w *World) Actions() []combo.Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.combos.Log().Entries()
}

// Stats returns the running counters.
func (w *World) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Results returns the retained command results, oldest first.
func (w *World) Results() []CommandResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]CommandResult, 0, len(w.resultOrder))
	for _, id := range w.resultOrder {
		out = append(out, w.results[id])
	}
	return out
}

// Confiscate removes up to count pieces of kind from an agent, as an
// external event. It returns how many pieces were taken.
func (w *World) Confiscate(id agents.AgentID, kind candy.Kind, count int) (int, error) {
	if !kind.Valid() {
		return 0, reject(ErrConfiguration, fmt.Errorf("%w: %d", candy.ErrUnknownKind, kind))
	}
	if count <= 0 {
		return 0, rejectf(ErrValidation, "confiscate count must be positive")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.index[id]
	if a == nil {
		return 0, rejectf(ErrValidation, "agent %d not found", id)
	}
	n := count
	if held := a.Inventory[kind]; held < n {
		n = held
	}
	if n == 0 {
		return 0, nil
	}
	var items candy.Inventory
	items[kind] = n
	if err := a.Give(items); err != nil {
		return 0, err
	}
	w.emit(Event{
		Kind:        EventConfiscated,
		Agents:      []agents.AgentID{a.ID},
		Description: fmt.Sprintf("%d %s confiscated from %s", n, kind, a.Name),
		Meta:        map[string]any{"candy": kind.String(), "count": n},
	})
	if agents.UpdateGoal(a, w.eco.ItemValue) {
		w.goalCompleted(a)
	}
	slog.Info("confiscation", "agent", a.ID, "candy", kind, "count", n)
	return n, nil
}
