// Package combo records world and player actions in a bounded log and
// recognises timed action sequences that earn bonuses.
package combo

import (
	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/world"
)

// ActionKind names a loggable action.
type ActionKind string

const (
	ActionCurseHouse  ActionKind = "curse_house"
	ActionBlessHouse  ActionKind = "bless_house"
	ActionHoard       ActionKind = "hoard"
	ActionSell        ActionKind = "sell"
	ActionBuy         ActionKind = "buy"
	ActionTrade       ActionKind = "trade"
	ActionSpreadRumor ActionKind = "spread_rumor"
	ActionPriceChange ActionKind = "price_change"
	ActionPossess     ActionKind = "possess"
	ActionRelease     ActionKind = "release"
	ActionBorrow      ActionKind = "borrow"
	ActionDefault     ActionKind = "default"
)

var knownActions = map[ActionKind]bool{
	ActionCurseHouse: true, ActionBlessHouse: true, ActionHoard: true, ActionSell: true,
	ActionBuy: true, ActionTrade: true, ActionSpreadRumor: true, ActionPriceChange: true,
	ActionPossess: true, ActionRelease: true, ActionBorrow: true, ActionDefault: true,
}

// KnownAction reports whether k is an action the simulation logs.
func KnownAction(k ActionKind) bool { return knownActions[k] }

// Payload carries the optional details of an action.
type Payload struct {
	Candy *candy.Kind     `json:"candy,omitempty"`
	House *world.HouseID  `json:"house,omitempty"`
	Agent *agents.AgentID `json:"agent,omitempty"`
	Value float64         `json:"value,omitempty"`
	From  float64         `json:"from,omitempty"` // Price before, for price_change
	To    float64         `json:"to,omitempty"`   // Price after, for price_change
}

// Entry is one logged action.
type Entry struct {
	Seq     uint64         `json:"seq"`
	Tick    uint64         `json:"tick"`
	Actor   agents.AgentID `json:"actor"` // 0 for the world or the player's powers
	Kind    ActionKind     `json:"kind"`
	Payload Payload        `json:"payload"`
}

// CandyOf builds a payload naming one candy kind.
func CandyOf(k candy.Kind) Payload {
	return Payload{Candy: &k}
}

// Log is an append-only ring buffer of actions. When full, the oldest
// entry is overwritten.
type Log struct {
	buf     []Entry
	start   int
	size    int
	nextSeq uint64
	dropped uint64
}

// NewLog creates a log holding up to capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 256
	}
	return &Log{buf: make([]Entry, capacity), nextSeq: 1}
}

// Append stamps e with the next sequence number and stores it.
func (l *Log) Append(e Entry) Entry {
	e.Seq = l.nextSeq
	l.nextSeq++
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = e
		l.size++
		return e
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % len(l.buf)
	l.dropped++
	return e
}

// Len returns the number of stored entries.
func (l *Log) Len() int { return l.size }

// Dropped returns how many entries were evicted.
func (l *Log) Dropped() uint64 { return l.dropped }

// Entries returns stored entries oldest first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Since returns entries with tick ≥ from, oldest first.
func (l *Log) Since(from uint64) []Entry {
	all := l.Entries()
	i := 0
	for i < len(all) && all[i].Tick < from {
		i++
	}
	return all[i:]
}

// Restore replaces the log contents, keeping sequence numbers.
func (l *Log) Restore(entries []Entry) {
	l.start, l.size = 0, 0
	l.nextSeq = 1
	for _, e := range entries {
		if l.size == len(l.buf) {
			l.start = (l.start + 1) % len(l.buf)
			l.size--
		}
		l.buf[(l.start+l.size)%len(l.buf)] = e
		l.size++
		if e.Seq >= l.nextSeq {
			l.nextSeq = e.Seq + 1
		}
	}
}
