package engine

import (
	"fmt"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/trade"
)

// execTrade applies an accepted proposal between proposer a and target b
// and runs everything a completed trade feeds: blocs, contagion, the
// action log, gossip and goals.
func (w *World) execTrade(a, b *agents.Agent, p trade.Proposal) (trade.Result, error) {
	restoreA := enterTrading(a)
	restoreB := enterTrading(b)
	res, err := trade.Execute(w.eco, a, b, p)
	restoreA()
	restoreB()
	if err != nil {
		return trade.Result{}, err
	}

	w.stats.Trades++
	w.blocs.RecordTrade(a.ID, b.ID, w.tick)
	w.emit(Event{
		Kind:        EventTradeCompleted,
		Agents:      []agents.AgentID{a.ID, b.ID},
		Description: fmt.Sprintf("%s traded %s to %s for %s", a.Name, p.Offer, b.Name, p.Request),
		Meta: map[string]any{
			"proposer":        a.ID,
			"target":          b.ID,
			"offer":           p.Offer,
			"request":         p.Request,
			"proposer_profit": res.ProposerProfit,
			"target_profit":   res.TargetProfit,
			"internal":        res.Internal,
		},
	})

	w.logAction(combo.Entry{Actor: a.ID, Kind: combo.ActionTrade, Payload: combo.Payload{Agent: &b.ID, Value: res.ProposerProfit}})
	for _, side := range []struct {
		who       *agents.Agent
		gave, got candy.Inventory
	}{{a, p.Offer, p.Request}, {b, p.Request, p.Offer}} {
		if !side.who.Possessed {
			continue
		}
		for _, k := range side.gave.Kinds() {
			w.logAction(combo.Entry{Actor: side.who.ID, Kind: combo.ActionSell, Payload: combo.CandyOf(k)})
		}
		for _, k := range side.got.Kinds() {
			w.logAction(combo.Entry{Actor: side.who.ID, Kind: combo.ActionBuy, Payload: combo.CandyOf(k)})
		}
	}

	w.observe(a, res.ProposerProfit)
	w.observe(b, res.TargetProfit)
	w.gossip(a, b)
	w.gossip(b, a)

	for _, x := range []*agents.Agent{a, b} {
		if agents.UpdateGoal(x, w.eco.ItemValue) {
			w.goalCompleted(x)
		}
	}
	return res, nil
}

// enterTrading puts an agent into TRADING for the duration of a swap and
// returns a func that restores its previous state.
func enterTrading(a *agents.Agent) func() {
	prev := a.State
	if a.Transition(agents.StateTrading) != nil {
		return func() {}
	}
	return func() {
		if a.State != agents.StateTrading {
			return
		}
		if prev == agents.StateMoving && a.Target != nil {
			a.State = agents.StateMoving
			return
		}
		a.State = agents.StateIdle
	}
}

// observe lets nearby agents tally a profitable trade by performer.
func (w *World) observe(performer *agents.Agent, profit float64) {
	if profit <= 0 {
		return
	}
	watchers := w.nearby(performer, w.contagion.Radius())
	for _, ad := range w.contagion.Observe(w.tick, performer, profit, watchers) {
		o := w.agent(ad.Observer)
		name := ""
		if o != nil {
			name = o.Name
		}
		w.emit(Event{
			Kind:        EventStrategyAdopted,
			Agents:      []agents.AgentID{ad.Observer, performer.ID},
			Description: fmt.Sprintf("%s starts trading like a %s", name, ad.Strategy),
			Meta: map[string]any{
				"observer":  ad.Observer,
				"performer": performer.ID,
				"strategy":  ad.Strategy.String(),
				"params":    ad.Params,
			},
		})
	}
}

// gossip may pass the speaker's newest still-active rumor on to the
// listener and onward through another spread pass.
func (w *World) gossip(speaker, listener *agents.Agent) {
	if w.cfg.Trade.GossipChance <= 0 || w.rng.Float64() >= w.cfg.Trade.GossipChance {
		return
	}
	for i := len(speaker.HeardRumors) - 1; i >= 0; i-- {
		id := speaker.HeardRumors[i]
		if w.rumors.Get(id) == nil || listener.HasHeard(id) {
			continue
		}
		w.runRumor(id, speaker.ID)
		return
	}
}
