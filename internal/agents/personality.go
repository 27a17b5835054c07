// Personality archetypes: parameter bundles that decide how an agent
// values trades, learns, and takes risks.
package agents

import "fmt"

// PersonalityKind names a trading archetype.
type PersonalityKind uint8

const (
	ValueInvestor PersonalityKind = iota
	Hoarder
	MomentumTrader
	SocialTrader
	PanicSeller
	NumPersonalities
)

var personalityNames = [...]string{"VALUE_INVESTOR", "HOARDER", "MOMENTUM_TRADER", "SOCIAL_TRADER", "PANIC_SELLER"}

func (k PersonalityKind) String() string {
	if int(k) < len(personalityNames) {
		return personalityNames[k]
	}
	return "UNKNOWN"
}

// ParsePersonality maps a name to a kind.
func ParsePersonality(s string) (PersonalityKind, error) {
	for i, n := range personalityNames {
		if n == s {
			return PersonalityKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown personality %q", s)
}

// MarshalText encodes the kind by name.
func (k PersonalityKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *PersonalityKind) UnmarshalText(b []byte) error {
	p, err := ParsePersonality(string(b))
	if err != nil {
		return err
	}
	*k = p
	return nil
}

// Params are the tunable numbers behind a personality.
type Params struct {
	// Threshold is the minimum believed gain before a trade is accepted.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// LearningRate scales how fast beliefs move toward evidence.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	// RiskTolerance is how readily the agent lends, borrows, and acts on rumors, 0–1.
	RiskTolerance float64 `json:"risk_tolerance" yaml:"risk_tolerance"`
	// TradeProbability is the chance per decision tick that the agent proposes a trade.
	TradeProbability float64 `json:"trade_probability" yaml:"trade_probability"`
}

// Personality is a kind plus its current parameters.
type Personality struct {
	Kind PersonalityKind `json:"kind"`
	Params
}

// Table holds the parameters of every personality kind.
type Table [NumPersonalities]Params

// DefaultTable returns the built-in personality parameters.
func DefaultTable() Table {
	return Table{
		ValueInvestor:  {Threshold: 0.0, LearningRate: 0.10, RiskTolerance: 0.4, TradeProbability: 0.5},
		Hoarder:        {Threshold: 0.5, LearningRate: 0.05, RiskTolerance: 0.2, TradeProbability: 0.2},
		MomentumTrader: {Threshold: 0.1, LearningRate: 0.20, RiskTolerance: 0.7, TradeProbability: 0.6},
		SocialTrader:   {Threshold: -0.1, LearningRate: 0.08, RiskTolerance: 0.5, TradeProbability: 0.7},
		PanicSeller:    {Threshold: -0.3, LearningRate: 0.15, RiskTolerance: 0.1, TradeProbability: 0.5},
	}
}

// Of returns the personality for kind under this table.
func (t Table) Of(k PersonalityKind) Personality {
	return Personality{Kind: k, Params: t[k]}
}

// Blend moves p toward target by step (0–1) and clamps each parameter to
// within maxDrift of base.
func Blend(p, target, base Params, step, maxDrift float64) Params {
	mix := func(cur, tgt, b float64) float64 {
		v := cur + (tgt-cur)*step
		if v > b+maxDrift {
			v = b + maxDrift
		}
		if v < b-maxDrift {
			v = b - maxDrift
		}
		return v
	}
	return Params{
		Threshold:        mix(p.Threshold, target.Threshold, base.Threshold),
		LearningRate:     mix(p.LearningRate, target.LearningRate, base.LearningRate),
		RiskTolerance:    mix(p.RiskTolerance, target.RiskTolerance, base.RiskTolerance),
		TradeProbability: mix(p.TradeProbability, target.TradeProbability, base.TradeProbability),
	}
}

// MoodScale returns the multiplier and additive bias a mood applies to the
// personality threshold.
func MoodScale(m Mood) (scale, bias float64) {
	switch m {
	case MoodGreedy:
		return 1.5, 0.25
	case MoodAnxious:
		return 0.5, -0.25
	case MoodHappy:
		return 1.0, -0.05
	default:
		return 1.0, 0
	}
}
