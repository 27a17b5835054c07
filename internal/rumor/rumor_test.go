package rumor

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/world"
)

type testPop map[agents.AgentID]*agents.Agent

func (p testPop) Agent(id agents.AgentID) *agents.Agent { return p[id] }

func (p testPop) Nearby(id agents.AgentID, radius float64) []agents.AgentID {
	var out []agents.AgentID
	self := p[id]
	for _, oid := range agents.SortIDs(p) {
		if oid != id && world.Distance(self.Position, p[oid].Position) <= radius {
			out = append(out, oid)
		}
	}
	return out
}

func (p testPop) Affinity(from, to agents.AgentID) float64 { return 1 }

// closePop boosts acceptance for a chosen set of receivers.
type closePop struct {
	testPop
	close map[agents.AgentID]bool
	boost float64
}

func (p closePop) Affinity(from, to agents.AgentID) float64 {
	if p.close[to] {
		return p.boost
	}
	return 1
}

func population(n int, full bool) testPop {
	pop := make(testPop, n)
	for i := 1; i <= n; i++ {
		a := agents.New(agents.AgentID(i), "kid", world.Vec2{X: float64(i) * 1000}, agents.DefaultTable().Of(agents.SocialTrader))
		for k := range a.Beliefs {
			a.Beliefs[k] = 4
		}
		pop[a.ID] = a
	}
	if full {
		for i := 1; i <= n; i++ {
			for j := i + 1; j <= n; j++ {
				agents.AddSocial(pop[agents.AgentID(i)], pop[agents.AgentID(j)])
			}
		}
	}
	return pop
}

func baseConfig() Config {
	return Config{
		SpreadChance: 1.0,
		MaxDepth:     2,
		MaxBranching: 8,
		MutateAmount: 0.05,
		MaxMagnitude: 1,
		HalfLife:     [NumKinds]float64{40, 60, 80, 50},
		Epsilon:      0.01,
	}
}

func TestSpreadReachesFullyConnectedGroup(t *testing.T) {
	pop := population(5, true)
	e := NewEngine(baseConfig())
	r, err := e.Create(KindPrice, Payload{Candy: candy.Sour, Magnitude: 0.5}, 3, 0.9, 0)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(42))
	for tick := 0; tick < 2 && e.Get(r.ID) != nil && r.State != StateDecayed; tick++ {
		if _, err := e.Spread(r.ID, pop, rng); err != nil {
			t.Fatal(err)
		}
	}
	if r.Reached() != 5 {
		t.Fatalf("reached %d agents, want 5", r.Reached())
	}
	for id, a := range pop {
		if !a.HasHeard(r.ID) {
			t.Errorf("agent %d did not hear the rumor", id)
		}
		if id != 3 && a.Beliefs[candy.Sour] <= 4 {
			t.Errorf("agent %d belief not raised: %v", id, a.Beliefs[candy.Sour])
		}
	}
}

func TestSpreadRespectsDepthAndBranching(t *testing.T) {
	// A line 1-2-3-4-5 never gets past depth 2.
	pop := population(5, false)
	for i := 1; i < 5; i++ {
		agents.AddSocial(pop[agents.AgentID(i)], pop[agents.AgentID(i+1)])
	}
	e := NewEngine(baseConfig())
	r, _ := e.Create(KindSupply, Payload{Candy: candy.Chocolate, Magnitude: -0.5}, 1, 1, 0)
	got, err := e.Spread(r.ID, pop, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range got {
		if rec.Depth > 2 {
			t.Fatalf("hop depth %d exceeds limit", rec.Depth)
		}
	}
	if r.Reached() != 3 {
		t.Fatalf("reached %d, want 3", r.Reached())
	}

	cfg := baseConfig()
	cfg.MaxBranching = 1
	cfg.MaxDepth = 1
	star := population(6, true)
	e = NewEngine(cfg)
	r, _ = e.Create(KindPrice, Payload{Candy: candy.Fruity, Magnitude: 0.2}, 1, 1, 0)
	got, _ = e.Spread(r.ID, star, rand.New(rand.NewSource(1)))
	if len(got) != 1 {
		t.Fatalf("fan-out %d, want 1", len(got))
	}
}

func TestBelievabilityNeverIncreases(t *testing.T) {
	pop := population(6, true)
	cfg := baseConfig()
	cfg.SpreadChance = 0.3
	e := NewEngine(cfg)
	rng := rand.New(rand.NewSource(9))
	r, _ := e.Create(KindQuality, Payload{Candy: candy.Novelty, Magnitude: 0.3}, 1, 0.8, 0)
	prev := r.Believability
	for tick := 0; tick < 1000 && e.Get(r.ID) != nil; tick++ {
		if tick%10 == 0 {
			_, _ = e.Spread(r.ID, pop, rng)
		}
		e.Decay(1)
		if r.Believability > prev {
			t.Fatalf("tick %d: believability rose %v -> %v", tick, prev, r.Believability)
		}
		prev = r.Believability
	}
	if e.Get(r.ID) != nil {
		t.Fatal("rumor never decayed")
	}
}

func TestDecayRemovesAtZero(t *testing.T) {
	e := NewEngine(baseConfig())
	r, _ := e.Create(KindPerson, Payload{Agent: 2, Magnitude: -0.5}, 1, 0.5, 0)
	var gone []*Rumor
	for i := 0; i < 1000 && len(gone) == 0; i++ {
		gone = e.Decay(1)
	}
	if len(gone) != 1 || gone[0].ID != r.ID || gone[0].Believability != 0 || gone[0].State != StateDecayed {
		t.Fatalf("gone = %+v", gone)
	}
	if e.Count() != 0 {
		t.Fatal("decayed rumor still active")
	}
}

func TestUnknownCandyRejected(t *testing.T) {
	e := NewEngine(baseConfig())
	if _, err := e.Create(KindPrice, Payload{Candy: candy.Kind(42)}, 1, 1, 0); !errors.Is(err, ErrUnknownCandy) {
		t.Fatalf("err = %v", err)
	}

	// A restored rumor with a bad payload is dropped when spread.
	e.Restore([]*Rumor{{ID: 7, Kind: KindSupply, Payload: Payload{Candy: candy.Kind(99)}, Believability: 1, Origin: 1}})
	if _, err := e.Spread(7, population(2, true), rand.New(rand.NewSource(1))); !errors.Is(err, ErrUnknownCandy) {
		t.Fatalf("err = %v", err)
	}
	if e.Get(7) != nil {
		t.Fatal("malformed rumor kept")
	}
}

func TestPersonRumorLowersTrust(t *testing.T) {
	pop := population(3, true)
	e := NewEngine(baseConfig())
	r, _ := e.Create(KindPerson, Payload{Agent: 3, Magnitude: -0.4}, 1, 1, 0)
	if _, err := e.Spread(r.ID, pop, rand.New(rand.NewSource(3))); err != nil {
		t.Fatal(err)
	}
	if tr := pop[2].TrustOf(3); tr >= 0.5 {
		t.Fatalf("trust = %v", tr)
	}
	if tr := pop[3].TrustOf(3); tr != 0.5 {
		t.Fatalf("target should not distrust itself: %v", tr)
	}
}

func TestOverhearing(t *testing.T) {
	pop := population(3, false)
	pop[2].Position = pop[1].Position
	cfg := baseConfig()
	cfg.OverhearChance = 1
	cfg.HearRadius = 50
	e := NewEngine(cfg)
	r, _ := e.Create(KindPrice, Payload{Candy: candy.Health, Magnitude: 0.2}, 1, 1, 0)
	got, _ := e.Spread(r.ID, pop, rand.New(rand.NewSource(5)))
	if len(got) != 1 || got[0].Agent != 2 || !got[0].Overheard {
		t.Fatalf("receptions = %+v", got)
	}
}

func TestAffinityRaisesAcceptance(t *testing.T) {
	base := population(9, false)
	for i := 2; i <= 9; i++ {
		agents.AddSocial(base[1], base[agents.AgentID(i)])
	}
	pop := closePop{testPop: base, close: map[agents.AgentID]bool{2: true, 3: true, 4: true}, boost: 4}
	cfg := baseConfig()
	cfg.SpreadChance = 0.25
	cfg.MaxDepth = 1
	cfg.MutateAmount = 0
	e := NewEngine(cfg)
	r, _ := e.Create(KindPrice, Payload{Candy: candy.Sour, Magnitude: 0.3}, 1, 1, 0)
	got, err := e.Spread(r.ID, pop, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatal(err)
	}
	heard := make(map[agents.AgentID]bool)
	for _, rc := range got {
		heard[rc.Agent] = true
	}
	for id := range pop.close {
		if !heard[id] {
			t.Errorf("close contact %d missed the rumor", id)
		}
	}
}
