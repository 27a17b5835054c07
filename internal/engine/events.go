package engine

import (
	"github.com/talgya/candy-cartel/internal/agents"
)

// EventKind is the typed name of an exported event.
type EventKind string

const (
	EventTradeCompleted        EventKind = "trade_completed"
	EventRumorSpread           EventKind = "rumor_spread"
	EventRumorDecayed          EventKind = "rumor_decayed"
	EventBlocFormed            EventKind = "bloc_formed"
	EventBlocFractured         EventKind = "bloc_fractured"
	EventBlocMembershipChanged EventKind = "bloc_membership_changed"
	EventComboTriggered        EventKind = "combo_triggered"
	EventDebtDefaulted         EventKind = "debt_defaulted"
	EventDebtRepaid            EventKind = "debt_repaid"
	EventAgentMoodChanged      EventKind = "agent_mood_changed"
	EventStrategyAdopted       EventKind = "strategy_adopted"
	EventSupplyPowerApplied    EventKind = "supply_power_applied"
	EventAgentPossessed        EventKind = "agent_possessed"
	EventAgentReleased         EventKind = "agent_released"
	EventPriceChanged          EventKind = "price_changed"
	EventGoalCompleted         EventKind = "goal_completed"
	EventConfiscated           EventKind = "confiscated"
)

// Event is a notable occurrence exported to UI, audio and telemetry sinks.
type Event struct {
	Seq         uint64           `json:"seq"`
	Tick        uint64           `json:"tick"`
	Kind        EventKind        `json:"kind"`
	Agents      []agents.AgentID `json:"agents,omitempty"`
	Description string           `json:"description"`
	Meta        map[string]any   `json:"meta,omitempty"`
}

// Subscriber receives events in emission order on the simulation goroutine.
// Subscribers must not call back into the World.
type Subscriber func(Event)

// eventBus delivers events to subscribers in registration order and keeps
// a bounded tail of recent events.
type eventBus struct {
	subs   []Subscriber
	recent []Event
	limit  int
	seq    uint64
}

func (b *eventBus) subscribe(fn Subscriber) {
	b.subs = append(b.subs, fn)
}

func (b *eventBus) emit(e Event) Event {
	b.seq++
	e.Seq = b.seq
	b.recent = append(b.recent, e)
	if b.limit > 0 && len(b.recent) > b.limit {
		b.recent = append(b.recent[:0], b.recent[len(b.recent)-b.limit:]...)
	}
	for _, fn := range b.subs {
		fn(e)
	}
	return e
}

// since returns recent events with Seq > after.
func (b *eventBus) since(after uint64) []Event {
	i := len(b.recent)
	for i > 0 && b.recent[i-1].Seq > after {
		i--
	}
	return append([]Event(nil), b.recent[i:]...)
}
