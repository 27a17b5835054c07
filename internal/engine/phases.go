package engine

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/world"
)

// fastTick runs every tick: queued commands, possession energy, movement,
// house visits, house timers and spoilage.
func (w *World) fastTick(tick uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick = tick

	w.applyCommands()
	w.tickPossession()

	for _, a := range w.agents {
		target := a.HouseID
		if a.StepMovement(tick) && target != nil {
			w.visitHouse(a, *target)
		}
	}
	for _, h := range w.Map.SortedHouses() {
		h.Tick()
	}

	w.stats.Spoiled += uint64(w.eco.ApplyDecay(w.agents, 1))
	w.eco.AdvanceDiscovery()
	w.expireIncoming()
	w.rebuildGrid()
}

// visitHouse hands out candy to an agent that arrived at a house.
func (w *World) visitHouse(a *agents.Agent, id world.HouseID) {
	a.HouseID = nil
	h := w.Map.Get(id)
	if h == nil {
		return
	}
	haul := h.Dispense(w.rng.Intn)
	var fresh [candy.NumKinds]float64
	for k := range fresh {
		fresh[k] = 1
	}
	a.Receive(haul, fresh)
	switch n := haul.Total(); {
	case n == 0:
		w.setMood(a, agents.MoodAnxious, "empty haul")
	case n >= 4:
		w.setMood(a, agents.MoodHappy, "big haul")
	}
	if agents.UpdateGoal(a, w.eco.ItemValue) {
		w.goalCompleted(a)
	}
}

// mediumTick runs the AI: debt checks, decisions in parallel against a
// frozen view, then deterministic application in ascending agent id.
func (w *World) mediumTick(tick uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick = tick

	w.checkDebts()
	w.markDebtStates()

	changes := w.decide()
	w.applyPending(changes)
}

// slowTick recomputes prices, runs bloc detection, and applies decay to
// rumors, strategy drift and moods.
func (w *World) slowTick(tick uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick = tick

	for _, c := range w.eco.UpdateMarketPrices() {
		w.emit(Event{
			Kind:        EventPriceChanged,
			Description: fmt.Sprintf("%s %.2f -> %.2f", c.Kind, c.From, c.To),
			Meta:        map[string]any{"candy": c.Kind.String(), "from": c.From, "to": c.To},
		})
		p := combo.CandyOf(c.Kind)
		p.From, p.To = c.From, c.To
		w.logAction(combo.Entry{Kind: combo.ActionPriceChange, Payload: p})
	}

	for _, be := range w.blocs.Detect(tick, w.agent) {
		w.emitBloc(be)
	}

	for _, r := range w.rumors.Decay(w.cfg.Schedule.SlowEvery) {
		w.emit(Event{
			Kind:        EventRumorDecayed,
			Description: fmt.Sprintf("%s rumor %d faded after reaching %d agents", r.Kind, r.ID, r.Reached()),
			Meta:        map[string]any{"rumor": r.ID, "kind": r.Kind.String(), "reached": r.Reached()},
		})
	}

	for _, id := range w.contagion.Relax(tick, w.agents) {
		slog.Debug("strategy drift reverted", "agent", id, "tick", tick)
	}

	for _, a := range w.agents {
		if a.Mood != agents.MoodNeutral && tick >= a.MoodSince+w.cfg.Behavior.MoodRelaxTicks {
			w.setMood(a, agents.MoodNeutral, "calmed down")
		}
		if a.DebtAtRisk && len(a.Debts) == 0 && a.Mood == agents.MoodNeutral {
			a.DebtAtRisk = false
		}
	}

	w.report()
}

func (w *World) emitBloc(be social.BlocEvent) {
	e := Event{
		Agents: be.Members,
		Meta: map[string]any{
			"bloc":    be.Bloc,
			"members": be.Members,
			"joined":  be.Joined,
			"left":    be.Left,
		},
	}
	switch be.Kind {
	case social.BlocFormed:
		e.Kind = EventBlocFormed
		e.Description = fmt.Sprintf("bloc %d formed with %d members", be.Bloc, len(be.Members))
	case social.BlocFractured:
		e.Kind = EventBlocFractured
		e.Description = fmt.Sprintf("bloc %d fractured", be.Bloc)
	default:
		e.Kind = EventBlocMembershipChanged
		e.Description = fmt.Sprintf("bloc %d: +%d -%d members", be.Bloc, len(be.Joined), len(be.Left))
	}
	w.emit(e)
}

// report logs the slow-tick market summary.
func (w *World) report() {
	prices := make([]any, 0, 2*candy.NumKinds)
	for k := candy.Kind(0); k < candy.Trash; k++ {
		prices = append(prices, k.String(), humanize.FtoaWithDigits(w.eco.Prices[k], 2))
	}
	slog.Info("market report",
		append([]any{
			"tick", humanize.Comma(int64(w.tick)),
			"phase", w.eco.Phase().String(),
			"discovery", fmt.Sprintf("%.3f", w.eco.Discovery),
			"belief_error", fmt.Sprintf("%.3f", w.eco.MeanAbsBeliefError(w.agents)),
			"trades", humanize.Comma(int64(w.stats.Trades)),
			"dropped", w.stats.DroppedTrades,
			"rumors", w.rumors.Count(),
			"blocs", len(w.blocs.Blocs()),
			"energy", fmt.Sprintf("%.1f", w.poss.Energy),
		}, prices...)...,
	)
}

func (w *World) goalCompleted(a *agents.Agent) {
	w.setMood(a, agents.MoodHappy, "goal complete")
	w.emit(Event{
		Kind:        EventGoalCompleted,
		Agents:      []agents.AgentID{a.ID},
		Description: fmt.Sprintf("%s completed %s", a.Name, a.Goal.Kind),
		Meta:        map[string]any{"goal": a.Goal.Kind.String(), "target": a.Goal.Target},
	})
}
