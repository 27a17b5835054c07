package economy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/world"
)

func testConfig() Config {
	return Config{
		Real:          [candy.NumKinds]float64{8, 5, 6, 4, 2, 1},
		DecayRate:     [candy.NumKinds]float64{0.001, 0.002, 0.001, 0.001, 0.003, 0},
		TrashValue:    1,
		Window:        10,
		DiscoveryStep: 0.01,
	}
}

func TestMarketPriceHoldsWithoutTrades(t *testing.T) {
	e := New(testConfig())
	if changes := e.UpdateMarketPrices(); len(changes) != 0 {
		t.Fatalf("unexpected changes %v", changes)
	}
	if e.Prices[candy.Chocolate] != 8 {
		t.Fatalf("price = %v, want 8", e.Prices[candy.Chocolate])
	}
}

func TestMarketPriceWeightsRecentTrades(t *testing.T) {
	e := New(testConfig())
	e.RecordTrade(PricePoint{Kind: candy.Sour, Price: 2, Tick: 1})
	e.RecordTrade(PricePoint{Kind: candy.Sour, Price: 8, Tick: 2})
	changes := e.UpdateMarketPrices()

	// Weights 1 and 2: (2 + 16) / 3.
	if got := e.Prices[candy.Sour]; math.Abs(got-6) > 1e-9 {
		t.Fatalf("price = %v, want 6", got)
	}
	if len(changes) != 0 {
		t.Fatalf("6 -> 6 should not be a change: %v", changes)
	}

	e.RecordTrade(PricePoint{Kind: candy.Sour, Price: 20, Tick: 3})
	changes = e.UpdateMarketPrices()
	if len(changes) != 1 || changes[0].Kind != candy.Sour || changes[0].Pct() <= 0 {
		t.Fatalf("changes = %v", changes)
	}
}

func TestRecordTradeEvictsOldest(t *testing.T) {
	e := New(testConfig())
	for i := 0; i < 15; i++ {
		e.RecordTrade(PricePoint{Kind: candy.Fruity, Price: float64(i), Tick: uint64(i)})
	}
	if len(e.History) != 10 || e.History[0].Tick != 5 {
		t.Fatalf("history len=%d first=%d", len(e.History), e.History[0].Tick)
	}
}

func TestTradePricesAtEqualBeliefs(t *testing.T) {
	var beliefs [candy.NumKinds]float64
	for k := range beliefs {
		beliefs[k] = 5
	}
	gave := candy.Of(map[candy.Kind]int{candy.Chocolate: 1})
	got := candy.Of(map[candy.Kind]int{candy.Fruity: 1})
	pts := TradePrices(gave, got, beliefs, beliefs, 3)
	if len(pts) != 2 {
		t.Fatalf("points = %v", pts)
	}
	for _, p := range pts {
		if p.Price != 5 {
			t.Fatalf("price = %v, want 5", p.Price)
		}
	}
}

func TestBeliefUpdateStopsForcingAfterDiscovery(t *testing.T) {
	e := New(testConfig())
	a := agents.New(1, "a", world.Vec2{}, agents.DefaultTable().Of(agents.ValueInvestor))
	a.Beliefs[candy.Chocolate] = 2
	got := candy.Of(map[candy.Kind]int{candy.Chocolate: 1})

	e.UpdateBeliefsFromTrade(a, candy.Inventory{}, got)
	if a.Beliefs[candy.Chocolate] <= 2 {
		t.Fatalf("belief did not move toward real: %v", a.Beliefs[candy.Chocolate])
	}

	for i := 0; i < 200; i++ {
		e.AdvanceDiscovery()
	}
	if e.DiscoveryActive() || e.Phase() != PhaseStable {
		t.Fatalf("discovery = %v", e.Discovery)
	}
	e.Prices[candy.Chocolate] = 2
	before := a.Beliefs[candy.Chocolate]
	e.UpdateBeliefsFromTrade(a, candy.Inventory{}, got)
	if a.Beliefs[candy.Chocolate] >= before {
		t.Fatalf("belief should drift toward market price 2, got %v", a.Beliefs[candy.Chocolate])
	}
}

func TestBeliefsStayClamped(t *testing.T) {
	cfg := testConfig()
	cfg.Real[candy.Chocolate] = 50
	e := New(cfg)
	a := agents.New(1, "a", world.Vec2{}, agents.DefaultTable().Of(agents.MomentumTrader))
	a.Personality.LearningRate = 1
	got := candy.Of(map[candy.Kind]int{candy.Chocolate: 1})
	e.UpdateBeliefsFromTrade(a, candy.Inventory{}, got)
	if a.Beliefs[candy.Chocolate] != agents.MaxBelief {
		t.Fatalf("belief = %v", a.Beliefs[candy.Chocolate])
	}
}

func TestMeanAbsBeliefErrorShrinks(t *testing.T) {
	e := New(testConfig())
	rng := rand.New(rand.NewSource(1))
	pop := make([]*agents.Agent, 10)
	for i := range pop {
		pop[i] = agents.New(agents.AgentID(i+1), "a", world.Vec2{}, agents.DefaultTable().Of(agents.ValueInvestor))
		for k := range pop[i].Beliefs {
			pop[i].SetBelief(candy.Kind(k), 0.5+rng.Float64()*9)
		}
	}
	start := e.MeanAbsBeliefError(pop)
	all := candy.Of(map[candy.Kind]int{candy.Chocolate: 1, candy.Fruity: 1, candy.Sour: 1, candy.Novelty: 1, candy.Health: 1})
	for _, a := range pop {
		e.UpdateBeliefsFromTrade(a, candy.Inventory{}, all)
	}
	if end := e.MeanAbsBeliefError(pop); end >= start {
		t.Fatalf("error %v -> %v", start, end)
	}
}

func TestApplyDecay(t *testing.T) {
	e := New(testConfig())
	a := agents.New(1, "a", world.Vec2{}, agents.DefaultTable().Of(agents.ValueInvestor))
	a.Inventory[candy.Health] = 2
	a.Freshness[candy.Health] = 0.004
	if n := e.ApplyDecay([]*agents.Agent{a}, 2); n != 2 {
		t.Fatalf("spoiled = %d", n)
	}
	if v := e.ItemValue(candy.Chocolate, 0.01); v != 1 {
		t.Fatalf("trash floor value = %v", v)
	}
}

func TestTrendAndVolatility(t *testing.T) {
	e := New(testConfig())
	for i := 1; i <= 6; i++ {
		e.RecordTrade(PricePoint{Kind: candy.Sour, Price: float64(i), Tick: uint64(i)})
	}
	if tr := e.PriceTrend(candy.Sour); tr <= 0 || tr > 1 {
		t.Fatalf("trend = %v", tr)
	}
	if s := e.TrendStrength(); s != 1 {
		t.Fatalf("strength = %v", s)
	}
	if v := e.Volatility(); v <= 0 {
		t.Fatalf("volatility = %v", v)
	}
}
