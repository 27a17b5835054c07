// Package config loads the simulation's tunable tables from YAML, checks
// them against an embedded JSON Schema, and converts them into the
// per-subsystem configuration structs.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/economy"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/world"
)

// ErrInvalidConfig wraps every configuration failure.
var ErrInvalidConfig = errors.New("invalid configuration")

//go:embed schema.json
var schemaJSON string

// Config is the full set of tunables.
type Config struct {
	Seed   int64 `yaml:"seed" json:"seed"`
	Agents int   `yaml:"agents" json:"agents"`

	World      WorldConfig              `yaml:"world" json:"world"`
	Schedule   ScheduleConfig           `yaml:"schedule" json:"schedule"`
	Candy      map[string]CandyConfig   `yaml:"candy" json:"candy"`
	Economy    EconomyConfig            `yaml:"economy" json:"economy"`
	Personas   map[string]agents.Params `yaml:"personalities" json:"personalities"`
	Trade      TradeConfig              `yaml:"trade" json:"trade"`
	Rumor      RumorConfig              `yaml:"rumor" json:"rumor"`
	Bloc       BlocConfig               `yaml:"bloc" json:"bloc"`
	Contagion  ContagionConfig          `yaml:"contagion" json:"contagion"`
	Combos     []combo.Definition       `yaml:"combos" json:"combos"`
	Possession PossessionConfig         `yaml:"possession" json:"possession"`
	Debt       DebtConfig               `yaml:"debt" json:"debt"`
	Behavior   BehaviorConfig           `yaml:"behavior" json:"behavior"`
	Capacity   CapacityConfig           `yaml:"capacity" json:"capacity"`
}

// WorldConfig shapes the neighbourhood.
type WorldConfig struct {
	Width   float64 `yaml:"width" json:"width"`
	Height  float64 `yaml:"height" json:"height"`
	LotSize float64 `yaml:"lot_size" json:"lot_size"`
	Houses  int     `yaml:"houses" json:"houses"`
	Density float64 `yaml:"density" json:"density"`
	// Routing grid cell size and the radius agents keep from houses they
	// pass. A zero cell size disables routing.
	NavCell     float64 `yaml:"nav_cell" json:"nav_cell"`
	HouseRadius float64 `yaml:"house_radius" json:"house_radius"`
}

// ScheduleConfig sets the tick cadences.
type ScheduleConfig struct {
	TickMs      int    `yaml:"tick_ms" json:"tick_ms"`           // Wall-clock ms per fast tick at speed 1
	MediumEvery uint64 `yaml:"medium_every" json:"medium_every"` // Fast ticks per AI tick
	SlowEvery   uint64 `yaml:"slow_every" json:"slow_every"`     // Fast ticks per market tick
}

// CandyConfig is one candy kind's economics.
type CandyConfig struct {
	RealValue float64 `yaml:"real_value" json:"real_value"`
	DecayRate float64 `yaml:"decay_rate" json:"decay_rate"`
}

// EconomyConfig holds market tunables.
type EconomyConfig struct {
	TrashValue    float64 `yaml:"trash_value" json:"trash_value"`
	Window        int     `yaml:"window" json:"window"`
	DiscoveryStep float64 `yaml:"discovery_step" json:"discovery_step"`
	ChangeEpsilon float64 `yaml:"change_epsilon" json:"change_epsilon"`
}

// TradeConfig holds partner search and evaluation tunables.
type TradeConfig struct {
	BlocDiscount float64 `yaml:"bloc_discount" json:"bloc_discount"`
	GoalDiscount float64 `yaml:"goal_discount" json:"goal_discount"`
	SearchRadius float64 `yaml:"search_radius" json:"search_radius"`
	HouseRadius  float64 `yaml:"house_radius" json:"house_radius"`
	OfferExpiry  uint64  `yaml:"offer_expiry" json:"offer_expiry"` // Ticks a held offer waits for a possessed agent
	GossipChance float64 `yaml:"gossip_chance" json:"gossip_chance"`
}

// RumorConfig holds rumor tunables; half-lives are keyed by rumor kind name.
type RumorConfig struct {
	SpreadChance   float64            `yaml:"spread_chance" json:"spread_chance"`
	OverhearChance float64            `yaml:"overhear_chance" json:"overhear_chance"`
	MaxDepth       int                `yaml:"max_depth" json:"max_depth"`
	MaxBranching   int                `yaml:"max_branching" json:"max_branching"`
	MutateAmount   float64            `yaml:"mutate_amount" json:"mutate_amount"`
	MaxMagnitude   float64            `yaml:"max_magnitude" json:"max_magnitude"`
	HalfLife       map[string]float64 `yaml:"half_life" json:"half_life"`
	Epsilon        float64            `yaml:"epsilon" json:"epsilon"`
	MaxAge         uint64             `yaml:"max_age" json:"max_age"`
	HearRadius     float64            `yaml:"hear_radius" json:"hear_radius"`
}

// BlocConfig holds bloc detection tunables.
type BlocConfig struct {
	Window        uint64  `yaml:"window" json:"window"`
	EdgeThreshold int     `yaml:"edge_threshold" json:"edge_threshold"`
	MinSize       int     `yaml:"min_size" json:"min_size"`
	StrengthGain  float64 `yaml:"strength_gain" json:"strength_gain"`
	StrengthDecay float64 `yaml:"strength_decay" json:"strength_decay"`
	FractureGrace int     `yaml:"fracture_grace" json:"fracture_grace"`
	// Share of outside trades that splits a bloc once MinTrades are counted.
	ExternalFracture float64 `yaml:"external_fracture" json:"external_fracture"`
	MinTrades        float64 `yaml:"min_trades" json:"min_trades"`
}

// ContagionConfig holds imitation tunables.
type ContagionConfig struct {
	Radius     float64 `yaml:"radius" json:"radius"`
	Window     uint64  `yaml:"window" json:"window"`
	Count      int     `yaml:"count" json:"count"`
	Step       float64 `yaml:"step" json:"step"`
	MaxDrift   float64 `yaml:"max_drift" json:"max_drift"`
	Timeout    uint64  `yaml:"timeout" json:"timeout"`
	RevertStep float64 `yaml:"revert_step" json:"revert_step"`
}

// PossessionConfig holds chaos-energy tunables.
type PossessionConfig struct {
	MaxEnergy     float64 `yaml:"max_energy" json:"max_energy"`
	Regen         float64 `yaml:"regen" json:"regen"`
	Drain         float64 `yaml:"drain" json:"drain"`
	MinEnergy     float64 `yaml:"min_energy" json:"min_energy"`
	CooldownTicks uint64  `yaml:"cooldown_ticks" json:"cooldown_ticks"`
	CurseCost     float64 `yaml:"curse_cost" json:"curse_cost"`
	BlessCost     float64 `yaml:"bless_cost" json:"bless_cost"`
	RumorCost     float64 `yaml:"rumor_cost" json:"rumor_cost"`
}

// DebtConfig holds lending tunables.
type DebtConfig struct {
	TermTicks       uint64  `yaml:"term_ticks" json:"term_ticks"`
	MinTrust        float64 `yaml:"min_trust" json:"min_trust"`
	MaxCascadeDepth int     `yaml:"max_cascade_depth" json:"max_cascade_depth"`
	WarningTicks    uint64  `yaml:"warning_ticks" json:"warning_ticks"`
	DefaultTrustHit float64 `yaml:"default_trust_hit" json:"default_trust_hit"`
	BorrowChance    float64 `yaml:"borrow_chance" json:"borrow_chance"`
}

// BehaviorConfig holds agent state-machine timers.
type BehaviorConfig struct {
	FleeTicks       uint64  `yaml:"flee_ticks" json:"flee_ticks"`
	MoodRelaxTicks  uint64  `yaml:"mood_relax_ticks" json:"mood_relax_ticks"`
	GoalUrgentAfter uint64  `yaml:"goal_urgent_after" json:"goal_urgent_after"`
	ForageChance    float64 `yaml:"forage_chance" json:"forage_chance"`
}

// CapacityConfig bounds the in-memory logs.
type CapacityConfig struct {
	ActionLog    int `yaml:"action_log" json:"action_log"`
	RecentEvents int `yaml:"recent_events" json:"recent_events"`
}

// Load reads a YAML file over the defaults, validates it, and returns the
// merged configuration.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse validates raw YAML against the schema and decodes it over the defaults.
func Parse(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("%w: yaml: %v", ErrInvalidConfig, err)
	}
	if doc != nil {
		if err := validateSchema(doc); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validateSchema checks a decoded YAML document against the embedded
// schema. The document is round-tripped through JSON so the validator sees
// JSON types.
func validateSchema(doc any) error {
	schema, err := jsonschema.CompileString("config.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("%w: schema: %v", ErrInvalidConfig, err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate runs the semantic checks the schema cannot express.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.Agents < 2 {
		return bad("agents must be at least 2, got %d", c.Agents)
	}
	if c.Schedule.MediumEvery == 0 || c.Schedule.SlowEvery == 0 {
		return bad("schedule cadences must be positive")
	}
	for name := range c.Candy {
		if _, err := candy.ParseKind(name); err != nil {
			return bad("candy table: %v", err)
		}
	}
	for _, k := range candy.AllKinds() {
		cc, ok := c.Candy[k.String()]
		if !ok {
			return bad("candy table missing %s", k)
		}
		if cc.RealValue <= 0 {
			return bad("candy %s real value must be positive", k)
		}
	}
	for name := range c.Personas {
		if _, err := agents.ParsePersonality(name); err != nil {
			return bad("personality table: %v", err)
		}
	}
	for k := agents.PersonalityKind(0); k < agents.NumPersonalities; k++ {
		if _, ok := c.Personas[k.String()]; !ok {
			return bad("personality table missing %s", k)
		}
	}
	for name := range c.Rumor.HalfLife {
		if _, err := rumor.ParseKind(name); err != nil {
			return bad("rumor half-life: %v", err)
		}
	}
	probs := map[string]float64{
		"rumor.spread_chance":   c.Rumor.SpreadChance,
		"rumor.overhear_chance": c.Rumor.OverhearChance,
		"trade.gossip_chance":   c.Trade.GossipChance,
		"debt.borrow_chance":    c.Debt.BorrowChance,
		"debt.min_trust":        c.Debt.MinTrust,
	}
	for name, p := range probs {
		if p < 0 || p > 1 {
			return bad("%s must be within [0,1], got %v", name, p)
		}
	}
	if c.Bloc.MinSize < 3 {
		return bad("bloc.min_size must be at least 3, got %d", c.Bloc.MinSize)
	}
	for _, d := range c.Combos {
		if err := d.Validate(); err != nil {
			return bad("%v", err)
		}
	}
	return nil
}

// PersonalityTable converts the personality map.
func (c Config) PersonalityTable() agents.Table {
	var t agents.Table
	for name, p := range c.Personas {
		if k, err := agents.ParsePersonality(name); err == nil {
			t[k] = p
		}
	}
	return t
}

// EconomyConfig converts the candy and market tables.
func (c Config) EconomyConfig() economy.Config {
	out := economy.Config{
		TrashValue:    c.Economy.TrashValue,
		Window:        c.Economy.Window,
		DiscoveryStep: c.Economy.DiscoveryStep,
		ChangeEpsilon: c.Economy.ChangeEpsilon,
	}
	for name, cc := range c.Candy {
		if k, err := candy.ParseKind(name); err == nil {
			out.Real[k] = cc.RealValue
			out.DecayRate[k] = cc.DecayRate
		}
	}
	return out
}

// RumorConfig converts the rumor table.
func (c Config) RumorConfig() rumor.Config {
	r := c.Rumor
	out := rumor.Config{
		SpreadChance:   r.SpreadChance,
		OverhearChance: r.OverhearChance,
		MaxDepth:       r.MaxDepth,
		MaxBranching:   r.MaxBranching,
		MutateAmount:   r.MutateAmount,
		MaxMagnitude:   r.MaxMagnitude,
		Epsilon:        r.Epsilon,
		MaxAge:         r.MaxAge,
		HearRadius:     r.HearRadius,
	}
	for name, h := range r.HalfLife {
		if k, err := rumor.ParseKind(name); err == nil {
			out.HalfLife[k] = h
		}
	}
	return out
}

// DetectorConfig converts the bloc table.
func (c Config) DetectorConfig() social.DetectorConfig {
	return social.DetectorConfig(c.Bloc)
}

// TrackerConfig converts the contagion table.
func (c Config) TrackerConfig() social.ContagionConfig {
	return social.ContagionConfig(c.Contagion)
}

// GenConfig converts the world table.
func (c Config) GenConfig() world.GenConfig {
	return world.GenConfig{
		Width:   c.World.Width,
		Height:  c.World.Height,
		LotSize: c.World.LotSize,
		Houses:  c.World.Houses,
		Seed:    c.Seed,
		Density: c.World.Density,
	}
}
