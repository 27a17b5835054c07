// Personal goals: each agent chases one objective with a progress counter.
package agents

import (
	"github.com/talgya/candy-cartel/internal/candy"
)

// GoalKind identifies what a goal asks for.
type GoalKind uint8

const (
	GoalCollectKind GoalKind = iota // Hold Target pieces of Kinds[0]
	GoalTradeCount                  // Complete Target trades
	GoalAmassValue                  // Hold inventory worth Target at real values
)

var goalNames = [...]string{"COLLECT_KIND", "TRADE_COUNT", "AMASS_VALUE"}

func (g GoalKind) String() string {
	if int(g) < len(goalNames) {
		return goalNames[g]
	}
	return "UNKNOWN"
}

// Goal is a personal objective.
type Goal struct {
	Kind      GoalKind     `json:"kind"`
	Kinds     []candy.Kind `json:"kinds,omitempty"` // Candy kinds the goal cares about
	Target    float64      `json:"target"`
	Progress  float64      `json:"progress"`
	SetTick   uint64       `json:"set_tick"`
	Completed bool         `json:"completed,omitempty"`
}

// Fraction returns progress toward the target in [0,1].
func (g Goal) Fraction() float64 {
	if g.Target <= 0 {
		return 1
	}
	f := g.Progress / g.Target
	if f > 1 {
		f = 1
	}
	return f
}

// Wants reports whether the goal is served by acquiring kind k.
func (g Goal) Wants(k candy.Kind) bool {
	if g.Completed {
		return false
	}
	switch g.Kind {
	case GoalCollectKind:
		for _, gk := range g.Kinds {
			if gk == k {
				return true
			}
		}
	case GoalAmassValue:
		return k != candy.Trash
	}
	return false
}

// Urgent reports whether the goal is lagging: under half done after
// urgentAfter ticks.
func (g Goal) Urgent(tick, urgentAfter uint64) bool {
	return !g.Completed && tick >= g.SetTick+urgentAfter && g.Fraction() < 0.5
}

// UpdateGoal recomputes progress from the agent's current holdings. It
// returns true on the call that completes the goal.
func UpdateGoal(a *Agent, price Pricer) bool {
	g := &a.Goal
	if g.Completed {
		return false
	}
	switch g.Kind {
	case GoalCollectKind:
		n := 0
		for _, k := range g.Kinds {
			n += a.Inventory[k]
		}
		g.Progress = float64(n)
	case GoalTradeCount:
		g.Progress = float64(a.TradeCount)
	case GoalAmassValue:
		g.Progress = a.RealValue(price)
	}
	if g.Progress >= g.Target {
		g.Completed = true
		return true
	}
	return false
}
