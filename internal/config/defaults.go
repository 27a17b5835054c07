package config

import (
	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/combo"
)

// Default returns the complete built-in configuration.
func Default() Config {
	personas := make(map[string]agents.Params, agents.NumPersonalities)
	tbl := agents.DefaultTable()
	for k := agents.PersonalityKind(0); k < agents.NumPersonalities; k++ {
		personas[k.String()] = tbl[k]
	}
	return Config{
		Seed:   42,
		Agents: 40,
		World: WorldConfig{
			Width:   2000,
			Height:  2000,
			LotSize: 160,
			Houses:  24,
			Density: 0.35,

			NavCell:     20,
			HouseRadius: 30,
		},
		Schedule: ScheduleConfig{
			TickMs:      50,
			MediumEvery: 10,
			SlowEvery:   60,
		},
		Candy: map[string]CandyConfig{
			"chocolate": {RealValue: 8, DecayRate: 0.0002},
			"fruity":    {RealValue: 5, DecayRate: 0.0003},
			"sour":      {RealValue: 6, DecayRate: 0.0002},
			"novelty":   {RealValue: 4, DecayRate: 0.0001},
			"health":    {RealValue: 2, DecayRate: 0.0005},
			"trash":     {RealValue: 1, DecayRate: 0},
		},
		Economy: EconomyConfig{
			TrashValue:    1,
			Window:        120,
			DiscoveryStep: 0.0005,
			ChangeEpsilon: 0.01,
		},
		Personas: personas,
		Trade: TradeConfig{
			BlocDiscount: 0.5,
			GoalDiscount: 0.4,
			SearchRadius: 250,
			HouseRadius:  600,
			OfferExpiry:  200,
			GossipChance: 0.1,
		},
		Rumor: RumorConfig{
			SpreadChance:   0.6,
			OverhearChance: 0.2,
			MaxDepth:       3,
			MaxBranching:   4,
			MutateAmount:   0.1,
			MaxMagnitude:   2,
			HalfLife: map[string]float64{
				"price":   300,
				"quality": 450,
				"person":  600,
				"supply":  240,
			},
			Epsilon:    0.01,
			MaxAge:     3000,
			HearRadius: 80,
		},
		Bloc: BlocConfig{
			Window:        1200,
			EdgeThreshold: 3,
			MinSize:       3,
			StrengthGain:  1,
			StrengthDecay: 0.02,
			FractureGrace: 2,

			ExternalFracture: 0.7,
			MinTrades:        10,
		},
		Contagion: ContagionConfig{
			Radius:     200,
			Window:     600,
			Count:      3,
			Step:       0.3,
			MaxDrift:   0.2,
			Timeout:    900,
			RevertStep: 0.1,
		},
		Combos: combo.DefaultDefinitions(),
		Possession: PossessionConfig{
			MaxEnergy:     100,
			Regen:         0.05,
			Drain:         0.1,
			MinEnergy:     10,
			CooldownTicks: 100,
			CurseCost:     20,
			BlessCost:     15,
			RumorCost:     10,
		},
		Debt: DebtConfig{
			TermTicks:       600,
			MinTrust:        0.3,
			MaxCascadeDepth: 4,
			WarningTicks:    60,
			DefaultTrustHit: 0.4,
			BorrowChance:    0.05,
		},
		Behavior: BehaviorConfig{
			FleeTicks:       40,
			MoodRelaxTicks:  300,
			GoalUrgentAfter: 1200,
			ForageChance:    0.3,
		},
		Capacity: CapacityConfig{
			ActionLog:    512,
			RecentEvents: 200,
		},
	}
}
