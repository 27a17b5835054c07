package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/trade"
)

// applyCommands drains the queue. A release that is not preceded by a
// possess in the same queue cancels the possession from an earlier tick,
// so it runs before everything else. Otherwise commands apply in order.
func (w *World) applyCommands() {
	if len(w.queue) == 0 {
		return
	}
	queue := w.queue
	w.queue = nil

	var first, rest []Command
	possessQueued := false
	for _, c := range queue {
		switch {
		case c.Kind == CmdPossess:
			possessQueued = true
			rest = append(rest, c)
		case c.Kind == CmdRelease && !possessQueued:
			first = append(first, c)
		default:
			rest = append(rest, c)
		}
	}
	ordered := append(first, rest...)

	for _, c := range ordered {
		res := CommandResult{ID: c.ID, Status: StatusApplied, Tick: w.tick}
		if err := w.applyCommand(c); err != nil {
			res.Status = StatusRejected
			res.Kind = classify(err)
			res.Reason = err.Error()
			slog.Debug("command rejected", "id", c.ID, "kind", c.Kind, "action", c.Action, "error", err)
		}
		w.storeResult(res)
	}
}

func (w *World) applyCommand(c Command) error {
	switch c.Kind {
	case CmdPossess:
		return w.possess(c.Agent)
	case CmdRelease:
		if !w.release("released") {
			return rejectf(ErrConsistency, "no agent is possessed")
		}
		return nil
	case CmdSupplyPower:
		return w.supplyPower(c)
	case CmdIssue:
		if !w.poss.holding(c.Agent) {
			return rejectf(ErrConsistency, "agent %d is not possessed", c.Agent)
		}
		return w.issue(w.agent(c.Agent), c)
	default:
		return rejectf(ErrValidation, "unknown command %q", c.Kind)
	}
}

// supplyPower curses or blesses a house for a number of ticks.
func (w *World) supplyPower(c Command) error {
	h := w.Map.Get(c.House)
	if h == nil {
		return rejectf(ErrValidation, "house %d not found", c.House)
	}
	if c.Duration == 0 {
		return rejectf(ErrValidation, "duration must be positive")
	}
	pc := w.cfg.Possession
	var (
		cost   float64
		action combo.ActionKind
	)
	switch c.Power {
	case PowerCurse:
		cost, action = pc.CurseCost, combo.ActionCurseHouse
	case PowerBless:
		cost, action = pc.BlessCost, combo.ActionBlessHouse
	default:
		return rejectf(ErrValidation, "unknown supply power %q", c.Power)
	}
	if err := w.poss.spend(cost); err != nil {
		return err
	}
	if c.Power == PowerCurse {
		h.Curse(c.Duration)
	} else {
		h.Bless(c.Duration)
	}

	// A curse hits the house's stock, so the payload names its first kind.
	p := combo.Payload{House: &h.ID}
	if len(h.Kinds) > 0 {
		k := h.Kinds[0]
		p.Candy = &k
	}
	w.logAction(combo.Entry{Kind: action, Payload: p})
	w.emit(Event{
		Kind:        EventSupplyPowerApplied,
		Description: fmt.Sprintf("house %d was %sd for %d ticks", h.ID, c.Power, c.Duration),
		Meta: map[string]any{
			"house":    h.ID,
			"power":    string(c.Power),
			"duration": c.Duration,
			"energy":   w.poss.Energy,
		},
	})
	return nil
}

// issue runs one action on the possessed agent.
func (w *World) issue(a *agents.Agent, c Command) error {
	if a == nil {
		return rejectf(ErrValidation, "agent %d not found", c.Agent)
	}
	switch c.Action {
	case ActProposeTrade:
		b := w.agent(c.Target)
		if b == nil {
			return rejectf(ErrValidation, "target %d not found", c.Target)
		}
		p := trade.Proposal{Proposer: a.ID, Target: b.ID, Offer: c.Offer, Request: c.Request, Tick: w.tick}
		if err := p.Validate(); err != nil {
			return reject(ErrValidation, err)
		}
		if b.Busy() {
			return rejectf(ErrConsistency, "%s is busy", b.Name)
		}
		if !b.CanCover(p.Request) || !a.CanCover(p.Offer) {
			return reject(ErrValidation, agents.ErrInsufficientInventory)
		}
		if !trade.Accepts(b, p.Request, p.Offer, w.tradeOptions(b, a)) {
			return rejectf(ErrConsistency, "%s refused the trade", b.Name)
		}
		_, err := w.execTrade(a, b, p)
		return err

	case ActMoveTo:
		if c.Pos == nil {
			return rejectf(ErrValidation, "move_to needs a position")
		}
		if a.State == agents.StateFleeing {
			return rejectf(ErrConsistency, "%s is fleeing", a.Name)
		}
		w.walk(a, c.Pos.Clamp(w.Map.Width, w.Map.Height), nil)
		return nil

	case ActAcceptIncoming:
		in, ok := w.poss.take(c.Incoming)
		if !ok {
			return rejectf(ErrValidation, "no incoming offer %d", c.Incoming)
		}
		b := w.agent(in.Proposal.Proposer)
		if b == nil {
			return rejectf(ErrConsistency, "proposer %d gone", in.Proposal.Proposer)
		}
		in.Proposal.Tick = w.tick
		_, err := w.execTrade(b, a, in.Proposal)
		return err

	case ActRejectIncoming:
		if _, ok := w.poss.take(c.Incoming); !ok {
			return rejectf(ErrValidation, "no incoming offer %d", c.Incoming)
		}
		return nil

	case ActBorrow:
		k, err := candy.ParseKind(c.Candy)
		if err != nil {
			return reject(ErrConfiguration, err)
		}
		return w.borrow(a, c.Target, k, c.Count)

	case ActHoard:
		if c.Candy == "" {
			a.HoardKind = nil
			return nil
		}
		k, err := candy.ParseKind(c.Candy)
		if err != nil {
			return reject(ErrConfiguration, err)
		}
		a.HoardKind = &k
		w.logAction(combo.Entry{Actor: a.ID, Kind: combo.ActionHoard, Payload: combo.CandyOf(k)})
		return nil

	case ActSpreadRumor:
		return w.spreadRumor(a, c)

	default:
		return rejectf(ErrValidation, "unknown action %q", c.Action)
	}
}

// spreadRumor plants a rumor at the possessed agent and runs the first pass.
func (w *World) spreadRumor(a *agents.Agent, c Command) error {
	p := rumor.Payload{Agent: c.RumorAbout, Magnitude: c.Magnitude}
	if c.RumorKind != rumor.KindPerson {
		k, err := candy.ParseKind(c.Candy)
		if err != nil {
			slog.Warn("rumor names unknown candy", "candy", c.Candy, "agent", a.ID)
			return reject(ErrConfiguration, fmt.Errorf("%w: %q", rumor.ErrUnknownCandy, c.Candy))
		}
		p.Candy = k
	} else if w.agent(c.RumorAbout) == nil {
		return rejectf(ErrValidation, "rumor subject %d not found", c.RumorAbout)
	}
	if err := w.poss.spend(w.cfg.Possession.RumorCost); err != nil {
		return err
	}
	r, err := w.rumors.Create(c.RumorKind, p, a.ID, 1, w.tick)
	if err != nil {
		return reject(classify(err), err)
	}
	w.runRumor(r.ID, a.ID)

	entry := combo.Entry{Actor: a.ID, Kind: combo.ActionSpreadRumor, Payload: combo.Payload{Value: c.Magnitude}}
	if r.Kind != rumor.KindPerson {
		entry.Payload.Candy = &p.Candy
	} else {
		entry.Payload.Agent = &p.Agent
	}
	w.logAction(entry)
	return nil
}

// runRumor spreads one pass and reports who heard it.
func (w *World) runRumor(id uint64, from agents.AgentID) {
	got, err := w.rumors.Spread(id, population{w}, w.rng)
	if err != nil {
		if !errors.Is(err, rumor.ErrUnknownCandy) {
			slog.Debug("rumor spread failed", "rumor", id, "error", err)
		}
		return
	}
	if len(got) == 0 {
		return
	}
	w.stats.RumorsSpread += uint64(len(got))
	r := w.rumors.Get(id)
	heard := make([]agents.AgentID, 0, len(got))
	for _, rc := range got {
		heard = append(heard, rc.Agent)
	}
	meta := map[string]any{"rumor": id, "from": from, "receptions": got}
	desc := fmt.Sprintf("rumor %d reached %d more agents", id, len(got))
	if r != nil {
		meta["kind"] = r.Kind.String()
		desc = fmt.Sprintf("%s rumor %d reached %d more agents", r.Kind, id, len(got))
	}
	w.emit(Event{Kind: EventRumorSpread, Agents: heard, Description: desc, Meta: meta})
}
