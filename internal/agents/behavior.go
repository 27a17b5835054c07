// Agent state machine and per-tick physical upkeep: walking and candy spoilage.
package agents

import (
	"fmt"

	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/world"
)

// transitions lists the allowed state changes.
var transitions = map[State][]State{
	StateIdle:          {StateMoving, StateTrading, StateFleeing, StateResolvingDebt},
	StateMoving:        {StateIdle, StateTrading, StateFleeing, StateResolvingDebt},
	StateTrading:       {StateIdle, StateFleeing},
	StateFleeing:       {StateIdle},
	StateResolvingDebt: {StateIdle, StateFleeing},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the agent into state to.
func (a *Agent) Transition(to State) error {
	if !CanTransition(a.State, to) {
		return fmt.Errorf("agent %d: illegal transition %s -> %s", a.ID, a.State, to)
	}
	a.State = to
	return nil
}

// Busy reports whether the agent is unavailable for new trades.
func (a *Agent) Busy() bool {
	return a.State == StateTrading || a.State == StateFleeing || a.Possessed
}

// WalkTo sets a movement target and enters MOVING. A nil route walks
// straight to target.
func (a *Agent) WalkTo(target world.Vec2, house *world.HouseID, route []world.Vec2) {
	if a.State == StateFleeing || a.State == StateTrading {
		return
	}
	t := target
	a.Target = &t
	a.Route = route
	a.HouseID = house
	a.State = StateMoving
}

// Stop drops any movement target.
func (a *Agent) Stop() {
	a.Target, a.Route, a.HouseID = nil, nil, nil
}

// Flee sends the agent away from threat until the given tick.
func (a *Agent) Flee(threat world.Vec2, until uint64, m *world.Map) {
	dx, dy := a.Position.X-threat.X, a.Position.Y-threat.Y
	away := world.Vec2{X: a.Position.X + dx*2, Y: a.Position.Y + dy*2}
	if m != nil {
		away = away.Clamp(m.Width, m.Height)
	}
	a.Target = &away
	a.Route = nil
	a.HouseID = nil
	a.State = StateFleeing
	a.StateUntil = until
}

// StepMovement advances the agent one fast tick along its route. It returns
// true on the tick the agent arrives at its target.
func (a *Agent) StepMovement(tick uint64) bool {
	if a.State == StateFleeing && tick >= a.StateUntil {
		a.State = StateIdle
		a.Target, a.Route = nil, nil
		return false
	}
	if a.Target == nil || (a.State != StateMoving && a.State != StateFleeing) {
		return false
	}
	speed := a.Speed
	if a.State == StateFleeing {
		speed *= 1.5
	}
	next := *a.Target
	if len(a.Route) > 0 {
		next = a.Route[0]
	}
	pos, reached := world.MoveToward(a.Position, next, speed)
	a.Position = pos
	if !reached {
		return false
	}
	if len(a.Route) > 0 {
		a.Route = a.Route[1:]
		if len(a.Route) > 0 || pos != *a.Target {
			return false
		}
	}
	a.Target, a.Route = nil, nil
	if a.State == StateMoving {
		a.State = StateIdle
	}
	return true
}

// Spoil decays freshness of every held kind by its rate. Stacks that reach
// zero freshness turn to trash. It returns the number of pieces spoiled.
func (a *Agent) Spoil(rates [candy.NumKinds]float64) int {
	spoiled := 0
	for k := candy.Kind(0); k < candy.NumKinds; k++ {
		if k == candy.Trash || a.Inventory[k] == 0 {
			continue
		}
		a.Freshness[k] -= rates[k]
		if a.Freshness[k] <= 0 {
			n := a.Inventory[k]
			a.Inventory[k] = 0
			a.Freshness[k] = 1.0
			a.Inventory[candy.Trash] += n
			spoiled += n
		}
	}
	return spoiled
}

// Clone returns a deep copy safe to read from other goroutines while the
// original is mutated.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Target != nil {
		t := *a.Target
		c.Target = &t
	}
	c.Route = append([]world.Vec2(nil), a.Route...)
	if a.HouseID != nil {
		h := *a.HouseID
		c.HouseID = &h
	}
	if a.HoardKind != nil {
		k := *a.HoardKind
		c.HoardKind = &k
	}
	if a.BlocID != nil {
		b := *a.BlocID
		c.BlocID = &b
	}
	c.Trust = make(map[AgentID]float64, len(a.Trust))
	for k, v := range a.Trust {
		c.Trust[k] = v
	}
	c.Social = make(map[AgentID]struct{}, len(a.Social))
	for k := range a.Social {
		c.Social[k] = struct{}{}
	}
	c.Debts = make(map[AgentID]*Debt, len(a.Debts))
	for k, d := range a.Debts {
		dd := *d
		c.Debts[k] = &dd
	}
	c.History = append([]TradeOutcome(nil), a.History...)
	c.HeardRumors = append([]uint64(nil), a.HeardRumors...)
	c.Goal.Kinds = append([]candy.Kind(nil), a.Goal.Kinds...)
	return &c
}
