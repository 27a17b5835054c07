// Package agents provides the trader data model: inventory, beliefs, mood,
// personality, goals, social and debt relations, and the per-agent state machine.
package agents

import (
	"errors"
	"sort"

	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Belief bounds. Every believed value stays inside [MinBelief, MaxBelief].
const (
	MinBelief = 0.1
	MaxBelief = 10.0
)

// History bounds.
const (
	MaxTradeHistory = 20
	MaxHeardRumors  = 16
)

// ErrInsufficientInventory is returned when an agent cannot cover the items it
// is asked to give up.
var ErrInsufficientInventory = errors.New("insufficient inventory")

// State is the agent's finite-state-machine state.
type State uint8

const (
	StateIdle State = iota
	StateMoving
	StateTrading
	StateFleeing
	StateResolvingDebt
)

var stateNames = [...]string{"IDLE", "MOVING", "TRADING", "FLEEING", "RESOLVING_DEBT"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Mood is mutually exclusive; it scales how picky an agent is about trades.
type Mood uint8

const (
	MoodNeutral Mood = iota
	MoodHappy
	MoodAnxious
	MoodGreedy
	MoodPanic
)

var moodNames = [...]string{"NEUTRAL", "HAPPY", "ANXIOUS", "GREEDY", "PANIC"}

func (m Mood) String() string {
	if int(m) < len(moodNames) {
		return moodNames[m]
	}
	return "UNKNOWN"
}

// ParseMood maps a name to a mood.
func ParseMood(s string) (Mood, bool) {
	for i, n := range moodNames {
		if n == s {
			return Mood(i), true
		}
	}
	return MoodNeutral, false
}

// Debt is what a debtor owes one creditor.
type Debt struct {
	Items   candy.Inventory `json:"items"`
	DueTick uint64          `json:"due_tick"`
}

// TradeOutcome records one completed trade from this agent's side.
type TradeOutcome struct {
	Tick    uint64          `json:"tick"`
	Partner AgentID         `json:"partner"`
	Gave    candy.Inventory `json:"gave"`
	Got     candy.Inventory `json:"got"`
	Profit  float64         `json:"profit"` // Real-value gain, got − gave
}

// Agent is one simulated trader.
type Agent struct {
	ID   AgentID `json:"id"`
	Name string  `json:"name"`

	// Location
	Position world.Vec2     `json:"position"`
	Target   *world.Vec2    `json:"target,omitempty"`
	Route    []world.Vec2   `json:"route,omitempty"`    // Waypoints ending at Target
	HouseID  *world.HouseID `json:"house_id,omitempty"` // House being walked to
	Speed    float64        `json:"speed"`             // World units per fast tick

	// State machine
	State      State  `json:"state"`
	StateUntil uint64 `json:"state_until,omitempty"` // FLEEING ends at this tick

	// Personality: Base never changes after spawn; Current drifts through contagion.
	Base        Personality `json:"base"`
	Personality Personality `json:"personality"`

	Mood      Mood   `json:"mood"`
	MoodSince uint64 `json:"mood_since"`

	// Economic
	Inventory   candy.Inventory          `json:"inventory"`
	Freshness   [candy.NumKinds]float64  `json:"freshness"` // Count-weighted mean freshness per held kind, 0–1
	Beliefs     [candy.NumKinds]float64  `json:"beliefs"`
	Preferences [candy.NumKinds]float64  `json:"preferences"` // 0–1 taste per kind
	Supply      [candy.NumKinds]float64  `json:"supply"`      // Expected availability per kind, 0–2 (1 = normal)
	HoardKind   *candy.Kind              `json:"hoard_kind,omitempty"`

	// Social
	Trust  map[AgentID]float64  `json:"trust"`
	Social map[AgentID]struct{} `json:"social"`
	BlocID *uint64              `json:"bloc_id,omitempty"`

	// Debt ledger: creditor → debt. DebtAtRisk is set on a creditor whose debtor defaulted.
	Debts      map[AgentID]*Debt `json:"debts"`
	DebtAtRisk bool              `json:"debt_at_risk,omitempty"`

	Goal Goal `json:"goal"`

	History     []TradeOutcome `json:"history"`
	HeardRumors []uint64       `json:"heard_rumors,omitempty"`
	TradeCount  int            `json:"trade_count"`

	Possessed bool `json:"possessed,omitempty"`
}

// New creates an agent with empty relation tables and fresh stock.
func New(id AgentID, name string, pos world.Vec2, p Personality) *Agent {
	a := &Agent{
		ID:          id,
		Name:        name,
		Position:    pos,
		Speed:       DefaultSpeed,
		Base:        p,
		Personality: p,
		Trust:       make(map[AgentID]float64),
		Social:      make(map[AgentID]struct{}),
		Debts:       make(map[AgentID]*Debt),
	}
	for k := range a.Freshness {
		a.Freshness[k] = 1.0
		a.Beliefs[k] = 1.0
		a.Supply[k] = 1.0
		a.Preferences[k] = 0.5
	}
	return a
}

// DefaultSpeed is the base walking speed in world units per fast tick.
const DefaultSpeed = 5.0

// ClampBelief keeps a believed value inside the allowed range.
func ClampBelief(v float64) float64 {
	if v < MinBelief {
		return MinBelief
	}
	if v > MaxBelief {
		return MaxBelief
	}
	return v
}

// SetBelief stores a clamped belief for kind.
func (a *Agent) SetBelief(k candy.Kind, v float64) {
	a.Beliefs[k] = ClampBelief(v)
}

// Value prices an inventory with this agent's beliefs.
func (a *Agent) Value(inv candy.Inventory) float64 {
	return inv.Value(a.Beliefs)
}

// CanCover reports whether the agent holds everything in inv.
func (a *Agent) CanCover(inv candy.Inventory) bool {
	return a.Inventory.Covers(inv)
}

// Give removes items from the inventory.
func (a *Agent) Give(inv candy.Inventory) error {
	if !a.CanCover(inv) {
		return ErrInsufficientInventory
	}
	a.Inventory = a.Inventory.Sub(inv)
	for k, n := range a.Inventory {
		if n == 0 {
			a.Freshness[k] = 1.0
		}
	}
	return nil
}

// Receive adds items with the given freshness, merging stacks by
// count-weighted mean freshness.
func (a *Agent) Receive(inv candy.Inventory, fresh [candy.NumKinds]float64) {
	for k, n := range inv {
		if n <= 0 {
			continue
		}
		held := a.Inventory[k]
		a.Freshness[k] = (a.Freshness[k]*float64(held) + fresh[k]*float64(n)) / float64(held+n)
		a.Inventory[k] = held + n
	}
}

// AddSocial links two agents with an undirected social edge.
func AddSocial(a, b *Agent) {
	if a.ID == b.ID {
		return
	}
	a.Social[b.ID] = struct{}{}
	b.Social[a.ID] = struct{}{}
	if _, ok := a.Trust[b.ID]; !ok {
		a.Trust[b.ID] = 0.5
	}
	if _, ok := b.Trust[a.ID]; !ok {
		b.Trust[a.ID] = 0.5
	}
}

// SocialIDs returns social neighbours in ascending order.
func (a *Agent) SocialIDs() []AgentID {
	return SortIDs(a.Social)
}

// TrustOf returns trust in peer, defaulting to neutral.
func (a *Agent) TrustOf(peer AgentID) float64 {
	if t, ok := a.Trust[peer]; ok {
		return t
	}
	return 0.5
}

// AdjustTrust shifts trust in peer, clamped to [0,1].
func (a *Agent) AdjustTrust(peer AgentID, delta float64) {
	t := a.TrustOf(peer) + delta
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	a.Trust[peer] = t
}

// InBloc reports whether a and b are members of the same bloc.
func InBloc(a, b *Agent) bool {
	return a.BlocID != nil && b.BlocID != nil && *a.BlocID == *b.BlocID
}

// SetMood changes mood and returns true if it actually changed.
func (a *Agent) SetMood(m Mood, tick uint64) bool {
	if a.Mood == m {
		return false
	}
	a.Mood = m
	a.MoodSince = tick
	return true
}

// Pricer values one piece of a kind at the given freshness.
type Pricer func(k candy.Kind, freshness float64) float64

// RealValue prices the inventory piece by piece.
func (a *Agent) RealValue(price Pricer) float64 {
	total := 0.0
	for k, n := range a.Inventory {
		if n == 0 {
			continue
		}
		total += price(candy.Kind(k), a.Freshness[k]) * float64(n)
	}
	return total
}

// HasHeard reports whether the agent has heard rumor id.
func (a *Agent) HasHeard(id uint64) bool {
	for _, h := range a.HeardRumors {
		if h == id {
			return true
		}
	}
	return false
}

// Hear records a rumor id, evicting the oldest when full.
func (a *Agent) Hear(id uint64) {
	if a.HasHeard(id) {
		return
	}
	a.HeardRumors = append(a.HeardRumors, id)
	if len(a.HeardRumors) > MaxHeardRumors {
		a.HeardRumors = a.HeardRumors[len(a.HeardRumors)-MaxHeardRumors:]
	}
}

// SortIDs returns the keys of an ID set in ascending order.
func SortIDs[V any](m map[AgentID]V) []AgentID {
	out := make([]AgentID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
