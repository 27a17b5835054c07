package social

import (
	"testing"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/world"
)

func lookupOf(pop map[agents.AgentID]*agents.Agent) func(agents.AgentID) *agents.Agent {
	return func(id agents.AgentID) *agents.Agent {
		if a, ok := pop[id]; ok {
			return a
		}
		a := agents.New(id, "kid", world.Vec2{}, agents.DefaultTable().Of(agents.ValueInvestor))
		pop[id] = a
		return a
	}
}

func detectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:        100,
		EdgeThreshold: 2,
		MinSize:       3,
		StrengthGain:  1,
		StrengthDecay: 0.1,
	}
}

func trade(d *Detector, a, b agents.AgentID, tick uint64, times int) {
	for i := 0; i < times; i++ {
		d.RecordTrade(a, b, tick)
	}
}

func TestBlocFormsFromTriangle(t *testing.T) {
	pop := map[agents.AgentID]*agents.Agent{}
	d := NewDetector(detectorConfig())
	trade(d, 1, 2, 1, 2)
	trade(d, 2, 3, 1, 2)
	trade(d, 7, 8, 1, 5) // Pair only, too small

	events := d.Detect(10, lookupOf(pop))
	if len(events) != 1 || events[0].Kind != BlocFormed {
		t.Fatalf("events = %+v", events)
	}
	b := d.Blocs()[0]
	if len(b.Members) != 3 || !b.Has(1) || !b.Has(3) {
		t.Fatalf("members = %v", b.Members)
	}
	if pop[2].BlocID == nil || *pop[2].BlocID != b.ID {
		t.Fatal("agent bloc id not set")
	}
	if _, ok := d.BlocOf(7); ok {
		t.Fatal("pair member assigned to a bloc")
	}
	if a, ok := pop[7]; ok && a.BlocID != nil {
		t.Fatal("pair member carries a bloc id")
	}
}

func TestBlocIDStableAcrossPasses(t *testing.T) {
	pop := map[agents.AgentID]*agents.Agent{}
	d := NewDetector(detectorConfig())
	trade(d, 1, 2, 1, 2)
	trade(d, 2, 3, 1, 2)
	d.Detect(10, lookupOf(pop))
	id := d.Blocs()[0].ID

	trade(d, 3, 4, 11, 2)
	events := d.Detect(20, lookupOf(pop))
	if len(events) != 1 || events[0].Kind != BlocMembershipChanged || events[0].Bloc != id {
		t.Fatalf("events = %+v", events)
	}
	if len(events[0].Joined) != 1 || events[0].Joined[0] != 4 {
		t.Fatalf("joined = %v", events[0].Joined)
	}

	// No change, no events.
	if events := d.Detect(21, lookupOf(pop)); len(events) != 0 {
		t.Fatalf("spurious events %+v", events)
	}
}

func TestBlocFracturesWhenTradesAgeOut(t *testing.T) {
	pop := map[agents.AgentID]*agents.Agent{}
	d := NewDetector(detectorConfig())
	trade(d, 1, 2, 1, 2)
	trade(d, 2, 3, 1, 2)
	d.Detect(10, lookupOf(pop))

	events := d.Detect(500, lookupOf(pop))
	if len(events) != 1 || events[0].Kind != BlocFractured {
		t.Fatalf("events = %+v", events)
	}
	for _, id := range []agents.AgentID{1, 2, 3} {
		if pop[id].BlocID != nil {
			t.Fatalf("agent %d still in bloc", id)
		}
	}
}

func TestBlocExclusivity(t *testing.T) {
	pop := map[agents.AgentID]*agents.Agent{}
	cfg := detectorConfig()
	cfg.FractureGrace = 3
	d := NewDetector(cfg)
	for tick := uint64(0); tick < 300; tick += 10 {
		// Two groups that drift: members migrate between them over time.
		base := agents.AgentID(tick / 50)
		trade(d, base+1, base+2, tick, 2)
		trade(d, base+2, base+3, tick, 2)
		trade(d, base+10, base+11, tick, 2)
		trade(d, base+11, base+3, tick, 2)
		d.Detect(tick, lookupOf(pop))

		seen := map[agents.AgentID]BlocID{}
		for _, b := range d.Blocs() {
			if len(b.Members) < 3 {
				t.Fatalf("tick %d: bloc %d has %d members", tick, b.ID, len(b.Members))
			}
			for _, m := range b.Members {
				if other, dup := seen[m]; dup {
					t.Fatalf("tick %d: agent %d in blocs %d and %d", tick, m, other, b.ID)
				}
				seen[m] = b.ID
			}
		}
	}
}

func TestInternalTradeStrengthens(t *testing.T) {
	pop := map[agents.AgentID]*agents.Agent{}
	d := NewDetector(detectorConfig())
	trade(d, 1, 2, 1, 2)
	trade(d, 2, 3, 1, 2)
	d.Detect(10, lookupOf(pop))
	b := d.Blocs()[0]
	before := b.Strength
	d.RecordTrade(1, 3, 11)
	if b.Strength != before+1 {
		t.Fatalf("strength %v -> %v", before, b.Strength)
	}
	d.Detect(12, lookupOf(pop))
	if b.Strength >= before+1 {
		t.Fatalf("strength did not decay: %v", b.Strength)
	}
}

func TestOutsideTradingSplitsBloc(t *testing.T) {
	pop := map[agents.AgentID]*agents.Agent{}
	cfg := detectorConfig()
	cfg.ExternalFracture = 0.7
	cfg.MinTrades = 5
	d := NewDetector(cfg)
	trade(d, 1, 2, 1, 2)
	trade(d, 2, 3, 1, 2)
	d.Detect(10, lookupOf(pop))
	id := d.Blocs()[0].ID

	// One-off trades with strangers leave no pair edges behind.
	for i := agents.AgentID(0); i < 9; i++ {
		d.RecordTrade(1+i%3, 20+i, 11)
	}
	d.RecordTrade(1, 2, 11)
	if share := d.Get(id).ExternalShare(); share <= 0.7 {
		t.Fatalf("external share = %v", share)
	}
	events := d.Detect(12, lookupOf(pop))
	if len(events) != 1 || events[0].Kind != BlocFractured || events[0].Bloc != id {
		t.Fatalf("events = %+v", events)
	}
	if _, ok := d.BlocOf(1); ok || pop[1].BlocID != nil {
		t.Fatal("member still assigned after split")
	}
	if events := d.Detect(13, lookupOf(pop)); len(events) != 0 {
		t.Fatalf("split bloc re-formed: %+v", events)
	}
}

func TestLoyalBlocSurvivesOutsideTrades(t *testing.T) {
	pop := map[agents.AgentID]*agents.Agent{}
	cfg := detectorConfig()
	cfg.ExternalFracture = 0.7
	cfg.MinTrades = 5
	d := NewDetector(cfg)
	trade(d, 1, 2, 1, 2)
	trade(d, 2, 3, 1, 2)
	d.Detect(10, lookupOf(pop))
	trade(d, 1, 3, 11, 6)
	d.RecordTrade(2, 40, 11)
	d.RecordTrade(3, 41, 11)
	for _, e := range d.Detect(12, lookupOf(pop)) {
		if e.Kind == BlocFractured {
			t.Fatalf("loyal bloc fractured: %+v", e)
		}
	}
	if len(d.Blocs()) != 1 {
		t.Fatalf("blocs = %d", len(d.Blocs()))
	}
}

func TestBlocLevelScalesBonuses(t *testing.T) {
	small := &Bloc{Members: []agents.AgentID{1, 2, 3}}
	if got := small.Level(); got < 0.3-1e-9 || got > 0.3+1e-9 {
		t.Fatalf("level = %v, want 0.3", got)
	}
	strong := &Bloc{Members: []agents.AgentID{1, 2, 3}, Strength: 9}
	if strong.Level() <= small.Level() {
		t.Fatal("internal trade weight did not raise level")
	}
	if strong.TradeBonus() <= small.TradeBonus() || strong.InfoAdvantage() <= small.InfoAdvantage() {
		t.Fatal("bonuses do not follow level")
	}
	big := &Bloc{Members: make([]agents.AgentID, 20), Strength: 100}
	if big.Level() != 1 || big.TradeBonus() != 1.5 || big.InfoAdvantage() != 2 {
		t.Fatalf("saturated bloc: level %v bonus %v info %v", big.Level(), big.TradeBonus(), big.InfoAdvantage())
	}
}

func TestContagionBlendsAndReverts(t *testing.T) {
	tbl := agents.DefaultTable()
	tr := NewTracker(ContagionConfig{
		Window: 50, Count: 3, Step: 0.5, MaxDrift: 0.15, Timeout: 20, RevertStep: 0.5,
	}, tbl)
	observer := agents.New(1, "obs", world.Vec2{}, tbl.Of(agents.Hoarder))
	performer := agents.New(2, "perf", world.Vec2{}, tbl.Of(agents.PanicSeller))

	for i := 0; i < 2; i++ {
		if got := tr.Observe(uint64(i), performer, 1, []*agents.Agent{observer}); len(got) != 0 {
			t.Fatalf("adopted too early: %+v", got)
		}
	}
	if got := tr.Observe(2, performer, -1, []*agents.Agent{observer}); len(got) != 0 {
		t.Fatal("losing trade counted")
	}
	got := tr.Observe(3, performer, 1, []*agents.Agent{observer})
	if len(got) != 1 || got[0].Strategy != agents.PanicSeller {
		t.Fatalf("adoptions = %+v", got)
	}
	drift := observer.Base.Threshold - observer.Personality.Threshold
	if drift <= 0 || drift > 0.15+1e-9 {
		t.Fatalf("threshold drift = %v", drift)
	}
	if tr.Tally(1, agents.PanicSeller, 3) != 0 {
		t.Fatal("tally not reset after adoption")
	}

	// Not yet timed out.
	if r := tr.Relax(10, []*agents.Agent{observer}); len(r) != 0 {
		t.Fatal("reverted before timeout")
	}
	var reverted []agents.AgentID
	for tick := uint64(23); tick < 60 && len(reverted) == 0; tick++ {
		reverted = tr.Relax(tick, []*agents.Agent{observer})
	}
	if len(reverted) != 1 || observer.Personality.Params != observer.Base.Params {
		t.Fatalf("did not revert: %+v", observer.Personality.Params)
	}
}

func TestSightingsAgeOut(t *testing.T) {
	tbl := agents.DefaultTable()
	tr := NewTracker(ContagionConfig{Window: 5, Count: 2, Step: 0.5, MaxDrift: 0.2}, tbl)
	observer := agents.New(1, "obs", world.Vec2{}, tbl.Of(agents.Hoarder))
	performer := agents.New(2, "perf", world.Vec2{}, tbl.Of(agents.MomentumTrader))
	tr.Observe(0, performer, 1, []*agents.Agent{observer})
	if got := tr.Observe(20, performer, 1, []*agents.Agent{observer}); len(got) != 0 {
		t.Fatal("stale sighting counted")
	}
}
