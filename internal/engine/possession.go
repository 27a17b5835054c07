package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/trade"
)

// Possession is the player's hold over one agent, paid for in chaos energy.
type Possession struct {
	Agent    *agents.AgentID `json:"agent,omitempty"`
	Energy   float64         `json:"energy"`
	Cooldown uint64          `json:"cooldown"` // Ticks until possess is allowed again
	Incoming []Incoming      `json:"incoming,omitempty"`
	NextID   uint64          `json:"next_id"`
}

// Incoming is an AI proposal held for the possessed agent to answer.
type Incoming struct {
	ID       uint64         `json:"id"`
	Proposal trade.Proposal `json:"proposal"`
	Expires  uint64         `json:"expires"`
}

func (p *Possession) addEnergy(amount, limit float64) {
	p.Energy += amount
	if p.Energy > limit {
		p.Energy = limit
	}
	if p.Energy < 0 {
		p.Energy = 0
	}
}

func (p *Possession) spend(cost float64) error {
	if p.Energy < cost {
		return rejectf(ErrCapacity, "need %.0f chaos energy, have %.1f", cost, p.Energy)
	}
	p.Energy -= cost
	return nil
}

// holding reports whether id is the possessed agent.
func (p *Possession) holding(id agents.AgentID) bool {
	return p.Agent != nil && *p.Agent == id
}

func (p *Possession) hold(prop trade.Proposal, expires uint64) uint64 {
	if p.NextID == 0 {
		p.NextID = 1
	}
	id := p.NextID
	p.NextID++
	p.Incoming = append(p.Incoming, Incoming{ID: id, Proposal: prop, Expires: expires})
	return id
}

func (p *Possession) take(id uint64) (Incoming, bool) {
	for i, in := range p.Incoming {
		if in.ID == id {
			p.Incoming = append(p.Incoming[:i], p.Incoming[i+1:]...)
			return in, true
		}
	}
	return Incoming{}, false
}

// possess takes control of an agent.
func (w *World) possess(id agents.AgentID) error {
	a := w.agent(id)
	if a == nil {
		return rejectf(ErrValidation, "agent %d not found", id)
	}
	pc := w.cfg.Possession
	if w.poss.Agent != nil {
		if *w.poss.Agent == id {
			return rejectf(ErrConsistency, "agent %d already possessed", id)
		}
		w.release("switch")
	}
	if w.poss.Cooldown > 0 {
		return rejectf(ErrCapacity, "possession cooling down for %d ticks", w.poss.Cooldown)
	}
	if w.poss.Energy <= pc.MinEnergy {
		return rejectf(ErrCapacity, "chaos energy %.1f too low to possess", w.poss.Energy)
	}

	a.Possessed = true
	a.Stop()
	if a.State == agents.StateMoving {
		_ = a.Transition(agents.StateIdle)
	}
	w.poss.Agent = &a.ID
	w.logAction(combo.Entry{Actor: a.ID, Kind: combo.ActionPossess})
	w.emit(Event{
		Kind:        EventAgentPossessed,
		Agents:      []agents.AgentID{a.ID},
		Description: fmt.Sprintf("a spirit takes hold of %s", a.Name),
		Meta:        map[string]any{"energy": w.poss.Energy},
	})
	slog.Info("agent possessed", "agent", a.ID, "name", a.Name, "energy", w.poss.Energy)
	return nil
}

// release lets go of the possessed agent. Held offers are dropped.
func (w *World) release(reason string) bool {
	if w.poss.Agent == nil {
		return false
	}
	id := *w.poss.Agent
	w.poss.Agent = nil
	w.poss.Incoming = nil
	w.poss.Cooldown = w.cfg.Possession.CooldownTicks

	name := ""
	if a := w.agent(id); a != nil {
		a.Possessed = false
		name = a.Name
	}
	w.logAction(combo.Entry{Actor: id, Kind: combo.ActionRelease})
	w.emit(Event{
		Kind:        EventAgentReleased,
		Agents:      []agents.AgentID{id},
		Description: fmt.Sprintf("%s shakes off the spirit (%s)", name, reason),
		Meta:        map[string]any{"reason": reason, "energy": w.poss.Energy},
	})
	slog.Info("agent released", "agent", id, "reason", reason)
	return true
}

// tickPossession drains or regenerates energy and counts down cooldown.
func (w *World) tickPossession() {
	pc := w.cfg.Possession
	if w.poss.Agent != nil {
		w.poss.addEnergy(-pc.Drain, pc.MaxEnergy)
		if w.poss.Energy <= 0 {
			w.release("out of energy")
		}
		return
	}
	w.poss.addEnergy(pc.Regen, pc.MaxEnergy)
	if w.poss.Cooldown > 0 {
		w.poss.Cooldown--
	}
}

// expireIncoming drops held offers past their expiry.
func (w *World) expireIncoming() {
	kept := w.poss.Incoming[:0]
	for _, in := range w.poss.Incoming {
		if in.Expires > w.tick {
			kept = append(kept, in)
			continue
		}
		slog.Debug("incoming offer expired", "offer", in.ID, "from", in.Proposal.Proposer)
	}
	w.poss.Incoming = kept
}
