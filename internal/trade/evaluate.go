// Package trade scores candidate swaps from one agent's point of view and
// executes accepted swaps atomically.
package trade

import (
	"errors"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
)

var (
	// ErrEmptyTrade is returned for a trade where neither side gives anything.
	ErrEmptyTrade = errors.New("empty trade")
	// ErrSelfTrade is returned when both sides are the same agent.
	ErrSelfTrade = errors.New("agent cannot trade with itself")
	// ErrNegativeQuantity is returned when a side lists a negative count.
	ErrNegativeQuantity = errors.New("negative quantity")
)

// Options carries the context an evaluation depends on beyond the agent.
type Options struct {
	SameBloc     bool    // Counterpart shares the agent's bloc
	BlocDiscount float64 // Subtracted from the threshold for bloc partners
	GoalDiscount float64 // Threshold shift when a side touches the goal
	GoalUrgent   bool    // Doubles GoalDiscount
}

// Threshold is the minimum believed gain the agent demands for this trade,
// after mood and goal adjustments. PANIC always yields zero.
func Threshold(a *agents.Agent, offer, request candy.Inventory, opts Options) float64 {
	if a.Mood == agents.MoodPanic {
		return 0
	}
	scale, bias := agents.MoodScale(a.Mood)
	th := a.Personality.Threshold*scale + bias

	d := opts.GoalDiscount
	if opts.GoalUrgent {
		d *= 2
	}
	for _, k := range request.Kinds() {
		if a.Goal.Wants(k) {
			th -= d
			break
		}
	}
	for _, k := range offer.Kinds() {
		if a.Goal.Wants(k) {
			th += d
			break
		}
	}
	if opts.SameBloc {
		th -= opts.BlocDiscount
	}
	return th
}

// Evaluate scores a trade in which a gives offer and receives request.
// A score of zero or more means the agent accepts. Callers must check that
// the agent can cover offer before evaluating. Evaluate has no side effects.
func Evaluate(a *agents.Agent, offer, request candy.Inventory, opts Options) (float64, error) {
	if offer.HasNegative() || request.HasNegative() {
		return 0, ErrNegativeQuantity
	}
	if offer.IsEmpty() && request.IsEmpty() {
		return 0, ErrEmptyTrade
	}
	delta := a.Value(request) - a.Value(offer)
	score := delta - Threshold(a, offer, request, opts)
	if a.Mood == agents.MoodPanic && score < 0 {
		score = 0
	}
	return score, nil
}

// Accepts reports whether a would take the trade. Agents never give away
// the kind they are hoarding.
func Accepts(a *agents.Agent, offer, request candy.Inventory, opts Options) bool {
	if a.HoardKind != nil && offer[*a.HoardKind] > 0 {
		return false
	}
	score, err := Evaluate(a, offer, request, opts)
	return err == nil && score >= 0
}
