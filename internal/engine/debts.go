package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
)

// borrow moves count pieces of kind from lender to debtor and records the
// debt. Repeated loans from the same lender merge and keep the earlier due tick.
func (w *World) borrow(debtor *agents.Agent, lenderID agents.AgentID, kind candy.Kind, count int) error {
	if count <= 0 {
		return rejectf(ErrValidation, "borrow count must be positive")
	}
	lender := w.agent(lenderID)
	if lender == nil {
		return rejectf(ErrValidation, "lender %d not found", lenderID)
	}
	if lender.ID == debtor.ID {
		return rejectf(ErrValidation, "agent %d cannot borrow from itself", lender.ID)
	}
	if t := lender.TrustOf(debtor.ID); t < w.cfg.Debt.MinTrust {
		return rejectf(ErrConsistency, "%s trusts %s only %.2f", lender.Name, debtor.Name, t)
	}
	var items candy.Inventory
	items[kind] = count
	fresh := lender.Freshness
	if err := lender.Give(items); err != nil {
		return reject(ErrValidation, fmt.Errorf("lender %d: %w", lender.ID, err))
	}
	debtor.Receive(items, fresh)

	due := w.tick + w.cfg.Debt.TermTicks
	if d, ok := debtor.Debts[lender.ID]; ok {
		d.Items = d.Items.Add(items)
		if d.DueTick < due {
			due = d.DueTick
		}
		d.DueTick = due
	} else {
		debtor.Debts[lender.ID] = &agents.Debt{Items: items, DueTick: due}
	}

	w.logAction(combo.Entry{Actor: debtor.ID, Kind: combo.ActionBorrow, Payload: combo.Payload{Candy: &kind, Agent: &lender.ID, Value: float64(count)}})
	slog.Debug("loan made", "debtor", debtor.ID, "lender", lender.ID, "candy", kind, "count", count, "due", due)
	return nil
}

// checkDebts settles every debt that has come due, in ascending debtor id.
func (w *World) checkDebts() {
	for _, a := range w.agents {
		for _, cid := range agents.SortIDs(a.Debts) {
			d := a.Debts[cid]
			if d == nil || d.DueTick > w.tick {
				continue
			}
			w.settle(a, cid, 1)
		}
	}
}

// settle repays or defaults the debtor's debt to creditor. A default can
// leave the creditor short on its own elapsed debts, which are settled in
// turn up to the configured cascade depth.
func (w *World) settle(debtor *agents.Agent, creditorID agents.AgentID, depth int) {
	d := debtor.Debts[creditorID]
	if d == nil {
		return
	}
	creditor := w.agent(creditorID)
	delete(debtor.Debts, creditorID)
	if creditor == nil {
		return
	}

	if debtor.CanCover(d.Items) {
		fresh := debtor.Freshness
		_ = debtor.Give(d.Items)
		creditor.Receive(d.Items, fresh)
		creditor.AdjustTrust(debtor.ID, 0.05)
		if debtor.State == agents.StateResolvingDebt && len(debtor.Debts) == 0 {
			_ = debtor.Transition(agents.StateIdle)
		}
		w.emit(Event{
			Kind:        EventDebtRepaid,
			Agents:      []agents.AgentID{debtor.ID, creditor.ID},
			Description: fmt.Sprintf("%s repaid %s to %s", debtor.Name, d.Items, creditor.Name),
			Meta:        map[string]any{"debtor": debtor.ID, "creditor": creditor.ID, "items": d.Items},
		})
		return
	}

	w.stats.Defaults++
	creditor.AdjustTrust(debtor.ID, -w.cfg.Debt.DefaultTrustHit)
	creditor.DebtAtRisk = true
	w.setMood(creditor, agents.MoodAnxious, "debtor defaulted")
	w.setMood(debtor, agents.MoodPanic, "defaulted")
	debtor.Flee(creditor.Position, w.tick+w.cfg.Behavior.FleeTicks, w.Map)

	w.emit(Event{
		Kind:        EventDebtDefaulted,
		Agents:      []agents.AgentID{debtor.ID, creditor.ID},
		Description: fmt.Sprintf("%s defaulted on %s owed to %s", debtor.Name, d.Items, creditor.Name),
		Meta: map[string]any{
			"debtor":   debtor.ID,
			"creditor": creditor.ID,
			"items":    d.Items,
			"depth":    depth,
		},
	})
	w.logAction(combo.Entry{Actor: debtor.ID, Kind: combo.ActionDefault, Payload: combo.Payload{Agent: &creditor.ID}})
	slog.Info("debt default", "debtor", debtor.ID, "creditor", creditor.ID, "depth", depth, "tick", w.tick)

	if depth >= w.cfg.Debt.MaxCascadeDepth {
		return
	}
	for _, next := range agents.SortIDs(creditor.Debts) {
		if cd := creditor.Debts[next]; cd != nil && cd.DueTick <= w.tick {
			w.settle(creditor, next, depth+1)
		}
	}
}

// markDebtStates moves agents with a debt due soon into RESOLVING_DEBT.
func (w *World) markDebtStates() {
	for _, a := range w.agents {
		soon := false
		for _, d := range a.Debts {
			if d.DueTick <= w.tick+w.cfg.Debt.WarningTicks {
				soon = true
				break
			}
		}
		switch {
		case soon && (a.State == agents.StateIdle || a.State == agents.StateMoving):
			a.Stop()
			_ = a.Transition(agents.StateResolvingDebt)
		case !soon && a.State == agents.StateResolvingDebt:
			_ = a.Transition(agents.StateIdle)
		}
	}
}
