// Package rumor creates, spreads, mutates and decays pieces of information
// that bend agent beliefs and trust.
package rumor

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
)

// ErrUnknownCandy is returned for a payload that names a candy kind the
// simulation does not know.
var ErrUnknownCandy = errors.New("rumor payload references unknown candy kind")

// Kind is what a rumor is about.
type Kind uint8

const (
	KindPrice Kind = iota
	KindQuality
	KindPerson
	KindSupply
	NumKinds
)

var kindNames = [...]string{"price", "quality", "person", "supply"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a name to a rumor kind.
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rumor kind %q", s)
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// State is the rumor lifecycle stage.
type State uint8

const (
	StateCreated State = iota
	StatePropagating
	StateDecayed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StatePropagating:
		return "PROPAGATING"
	default:
		return "DECAYED"
	}
}

// Payload is the kind-specific content of a rumor. Price, quality and
// supply rumors target Candy; person rumors target Agent. Magnitude is a
// signed relative nudge, e.g. 0.5 for "worth 50% more".
type Payload struct {
	Candy     candy.Kind     `json:"candy"`
	Agent     agents.AgentID `json:"agent,omitempty"`
	Magnitude float64        `json:"magnitude"`
}

// Rumor is one propagating piece of information.
type Rumor struct {
	ID            uint64                 `json:"id"`
	Kind          Kind                   `json:"kind"`
	Payload       Payload                `json:"payload"`
	Believability float64                `json:"believability"` // 0–1, never increases
	Origin        agents.AgentID         `json:"origin"`
	Age           uint64                 `json:"age"` // Ticks since creation
	MaxDepth      int                    `json:"max_depth"`
	Visited       map[agents.AgentID]int `json:"visited"` // Agent → hop depth
	State         State                  `json:"state"`
	CreatedTick   uint64                 `json:"created_tick"`
}

// Validate checks that the payload refers to things that exist.
func (r *Rumor) Validate() error {
	if r.Kind >= NumKinds {
		return fmt.Errorf("rumor %d: unknown kind %d", r.ID, r.Kind)
	}
	if r.Kind != KindPerson && !r.Payload.Candy.Valid() {
		return fmt.Errorf("rumor %d: %w (%d)", r.ID, ErrUnknownCandy, r.Payload.Candy)
	}
	return nil
}

// Reached returns how many agents have heard the rumor.
func (r *Rumor) Reached() int { return len(r.Visited) }

// Apply perturbs the receiving agent according to the rumor kind, scaled
// by believability.
func Apply(a *agents.Agent, kind Kind, p Payload, believability float64) {
	m := p.Magnitude * believability
	switch kind {
	case KindPrice:
		a.SetBelief(p.Candy, a.Beliefs[p.Candy]*(1+m))
	case KindQuality:
		a.SetBelief(p.Candy, a.Beliefs[p.Candy]*(1+m/2))
		a.Preferences[p.Candy] = clamp(a.Preferences[p.Candy]+m/2, 0, 1)
	case KindPerson:
		if a.ID != p.Agent {
			a.AdjustTrust(p.Agent, m)
		}
	case KindSupply:
		a.Supply[p.Candy] = clamp(a.Supply[p.Candy]+m, 0, 2)
	}
}

// decayFactor is the believability multiplier over dt ticks for a half-life.
func decayFactor(dt, halfLife float64) float64 {
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, dt/halfLife)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
