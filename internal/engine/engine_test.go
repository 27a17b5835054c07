package engine

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/combo"
	"github.com/talgya/candy-cartel/internal/config"
	"github.com/talgya/candy-cartel/internal/social"
	"github.com/talgya/candy-cartel/internal/trade"
	"github.com/talgya/candy-cartel/internal/world"
)

// quietConfig turns off foraging and borrowing so scenarios only see what
// the test sets up.
func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Behavior.ForageChance = 0
	cfg.Debt.BorrowChance = 0
	return cfg
}

// handWorld builds a world from hand-made agents on a single-house map.
func handWorld(t *testing.T, cfg config.Config, pop ...*agents.Agent) *World {
	t.Helper()
	m := world.NewMap(1000, 1000)
	m.Set(&world.House{ID: 1, Pos: world.Vec2{X: 900, Y: 900}, Kinds: []candy.Kind{candy.Chocolate}, Quality: 1, Multiplier: 1})
	return New(cfg, Options{Map: m, Agents: pop})
}

func valueInvestor(id agents.AgentID, x float64) *agents.Agent {
	a := agents.New(id, "kid", world.Vec2{X: x, Y: 100}, agents.DefaultTable().Of(agents.ValueInvestor))
	for k := range a.Beliefs {
		a.Beliefs[k] = 5
	}
	return a
}

func collect(w *World) *[]Event {
	var events []Event
	w.Subscribe(func(e Event) { events = append(events, e) })
	return &events
}

func ofKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func stepN(w *World, n int) {
	for i := 0; i < n; i++ {
		w.Step()
	}
}

func TestDebtCascade(t *testing.T) {
	a, b, c := valueInvestor(1, 100), valueInvestor(2, 120), valueInvestor(3, 140)
	a.Debts[b.ID] = &agents.Debt{Items: candy.Of(map[candy.Kind]int{candy.Chocolate: 2}), DueTick: 10}
	b.Debts[c.ID] = &agents.Debt{Items: candy.Of(map[candy.Kind]int{candy.Sour: 1}), DueTick: 5}

	w := handWorld(t, quietConfig(), a, b, c)
	events := collect(w)
	stepN(w, 10)

	defaults := ofKind(*events, EventDebtDefaulted)
	if len(defaults) != 2 {
		t.Fatalf("got %d defaults, want 2", len(defaults))
	}
	if d := defaults[0]; d.Meta["debtor"] != a.ID || d.Meta["depth"] != 1 {
		t.Errorf("first default = %v, want A at depth 1", d.Meta)
	}
	if d := defaults[1]; d.Meta["debtor"] != b.ID || d.Meta["depth"] != 2 {
		t.Errorf("second default = %v, want B at depth 2", d.Meta)
	}

	gotB, _ := w.Agent(b.ID)
	if !gotB.DebtAtRisk {
		t.Error("creditor B should be flagged at risk")
	}
	gotA, _ := w.Agent(a.ID)
	if gotA.Mood != agents.MoodPanic || gotA.State != agents.StateFleeing {
		t.Errorf("debtor A mood=%s state=%s, want PANIC/FLEEING", gotA.Mood, gotA.State)
	}
	if len(gotA.Debts) != 0 || len(gotB.Debts) != 0 {
		t.Error("defaulted debts should be cleared")
	}
	if gotB.TrustOf(a.ID) >= 0.5 {
		t.Errorf("B's trust in A = %v, want below the default 0.5", gotB.TrustOf(a.ID))
	}
}

func TestDebtRepaid(t *testing.T) {
	a, b := valueInvestor(1, 100), valueInvestor(2, 120)
	a.Inventory[candy.Chocolate] = 3
	a.Debts[b.ID] = &agents.Debt{Items: candy.Of(map[candy.Kind]int{candy.Chocolate: 2}), DueTick: 10}
	a.Personality.TradeProbability = 0
	b.Personality.TradeProbability = 0

	w := handWorld(t, quietConfig(), a, b)
	events := collect(w)
	stepN(w, 10)

	if n := len(ofKind(*events, EventDebtRepaid)); n != 1 {
		t.Fatalf("got %d repayments, want 1", n)
	}
	gotA, _ := w.Agent(a.ID)
	gotB, _ := w.Agent(b.ID)
	if gotA.Inventory[candy.Chocolate] != 1 || gotB.Inventory[candy.Chocolate] != 2 {
		t.Errorf("after repay A=%d B=%d chocolate, want 1 and 2", gotA.Inventory[candy.Chocolate], gotB.Inventory[candy.Chocolate])
	}
}

func TestRunInvariants(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = 24
	w := New(cfg, Options{})

	prevTotal := 0
	for _, a := range w.Agents() {
		prevTotal += a.Inventory.Total()
	}
	for i := 0; i < 900; i++ {
		w.Step()
		total := 0
		for _, a := range w.Agents() {
			if a.Inventory.HasNegative() {
				t.Fatalf("tick %d: agent %d has negative inventory %v", w.Tick(), a.ID, a.Inventory)
			}
			for k, v := range a.Beliefs {
				if v < agents.MinBelief || v > agents.MaxBelief {
					t.Fatalf("tick %d: agent %d belief %d = %v out of range", w.Tick(), a.ID, k, v)
				}
			}
			total += a.Inventory.Total()
		}
		// Houses only add candy and trades, loans and spoilage move it.
		if total < prevTotal {
			t.Fatalf("tick %d: candy count fell from %d to %d", w.Tick(), prevTotal, total)
		}
		prevTotal = total

		seen := make(map[agents.AgentID]uint64)
		for _, b := range w.Blocs() {
			for _, m := range b.Members {
				if other, dup := seen[m]; dup {
					t.Fatalf("tick %d: agent %d in blocs %d and %d", w.Tick(), m, other, b.ID)
				}
				seen[m] = b.ID
			}
		}
	}
	if w.Stats().Trades == 0 {
		t.Error("expected some trades in 900 ticks")
	}
}

func TestBeliefsConverge(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = 20
	w := New(cfg, Options{})
	prev := w.Economy().BeliefError
	for checkpoint := 50; checkpoint <= 200; checkpoint += 50 {
		stepN(w, 50)
		cur := w.Economy().BeliefError
		if cur >= prev {
			t.Fatalf("belief error did not fall by tick %d: %.4f -> %.4f", checkpoint, prev, cur)
		}
		prev = cur
	}
}

func TestBlocStrengthFavoursMembers(t *testing.T) {
	a, b, c := valueInvestor(1, 100), valueInvestor(2, 110), valueInvestor(3, 120)
	w := handWorld(t, quietConfig(), a, b, c)
	bloc := &social.Bloc{ID: 4, Members: []agents.AgentID{1, 2, 5}, Strength: 6}
	w.blocs.Restore([]*social.Bloc{bloc})
	id := bloc.ID
	a.BlocID, b.BlocID = &id, &id

	base := w.cfg.Trade.BlocDiscount
	inside := w.tradeOptions(a, b)
	if !inside.SameBloc || inside.BlocDiscount <= base {
		t.Fatalf("member discount = %+v, base %v", inside, base)
	}
	bloc.Strength = 0
	if weaker := w.tradeOptions(a, b); weaker.BlocDiscount >= inside.BlocDiscount {
		t.Fatalf("discount did not follow strength: %v >= %v", weaker.BlocDiscount, inside.BlocDiscount)
	}
	if outside := w.tradeOptions(a, c); outside.SameBloc {
		t.Fatal("outsider treated as bloc partner")
	}

	pop := population{w}
	if got := pop.Affinity(1, 2); got != bloc.InfoAdvantage() || got <= 1 {
		t.Fatalf("member affinity = %v", got)
	}
	if got := pop.Affinity(1, 3); got != 1 {
		t.Fatalf("outsider affinity = %v", got)
	}
}

func TestWalkRoutesAroundHouse(t *testing.T) {
	a, b := valueInvestor(1, 100), valueInvestor(2, 110)
	a.Position = world.Vec2{X: 900, Y: 780}
	w := handWorld(t, quietConfig(), a, b)
	house := w.Map.Get(1).Pos
	target := world.Vec2{X: 900, Y: 990}

	w.mu.Lock()
	w.walk(a, target, nil)
	w.mu.Unlock()
	if len(a.Route) == 0 {
		t.Fatal("no route around the house")
	}
	for i := 0; i < 400 && a.Target != nil; i++ {
		w.Step()
		if d := world.Distance(a.Position, house); d < 12 {
			t.Fatalf("tick %d: walked through the house (%.1f away)", w.Tick(), d)
		}
	}
	if a.Position != target {
		t.Fatalf("stopped at %+v, want %+v", a.Position, target)
	}
}

func TestDeterministicReplay(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = 16
	w1 := New(cfg, Options{})
	w2 := New(cfg, Options{})
	stepN(w1, 300)
	stepN(w2, 300)

	j1, err := json.Marshal(w1.Agents())
	if err != nil {
		t.Fatal(err)
	}
	j2, _ := json.Marshal(w2.Agents())
	if string(j1) != string(j2) {
		t.Fatal("same seed produced different agent state")
	}
	if w1.Economy().Prices != w2.Economy().Prices {
		t.Error("same seed produced different prices")
	}
}

func TestSameTargetLowerIDWins(t *testing.T) {
	a, b, c := valueInvestor(1, 100), valueInvestor(2, 110), valueInvestor(3, 120)
	a.Inventory[candy.Chocolate] = 1
	b.Inventory[candy.Chocolate] = 1
	c.Inventory[candy.Sour] = 1
	w := handWorld(t, quietConfig(), a, b, c)

	prop := func(from agents.AgentID) pending {
		return pending{kind: pendingTrade, agent: from, proposal: trade.Proposal{
			Proposer: from,
			Target:   c.ID,
			Offer:    candy.Of(map[candy.Kind]int{candy.Chocolate: 1}),
			Request:  candy.Of(map[candy.Kind]int{candy.Sour: 1}),
		}}
	}
	w.mu.Lock()
	w.applyPending([]pending{prop(a.ID), prop(b.ID)})
	w.mu.Unlock()

	if got := w.Stats(); got.Trades != 1 || got.DroppedTrades != 1 {
		t.Fatalf("trades=%d dropped=%d, want 1 and 1", got.Trades, got.DroppedTrades)
	}
	gotA, _ := w.Agent(a.ID)
	gotB, _ := w.Agent(b.ID)
	if gotA.Inventory[candy.Sour] != 1 {
		t.Error("lower id proposer should get the sour")
	}
	if gotB.Inventory[candy.Chocolate] != 1 {
		t.Error("dropped proposer must keep its inventory")
	}
}

func TestCommandResults(t *testing.T) {
	cfg := quietConfig()
	cfg.Possession.MaxEnergy = 15
	a, b := valueInvestor(1, 100), valueInvestor(2, 110)
	w := handWorld(t, cfg, a, b)

	unknown := w.Enqueue(Command{Kind: CmdPossess, Agent: 99})
	notHeld := w.Enqueue(Command{Kind: CmdIssue, Agent: a.ID, Action: ActHoard, Candy: "sour"})
	possess := w.Enqueue(Command{Kind: CmdPossess, Agent: a.ID})
	curse := w.Enqueue(Command{Kind: CmdSupplyPower, House: 1, Power: PowerCurse, Duration: 100})
	badRumor := w.Enqueue(Command{Kind: CmdIssue, Agent: a.ID, Action: ActSpreadRumor, Candy: "licorice", Magnitude: 0.5})

	if r, _ := w.Result(possess); r.Status != StatusPending {
		t.Fatalf("before the tick status = %s, want pending", r.Status)
	}
	w.Step()

	tests := []struct {
		name string
		id   uint64
		want Status
		kind ErrorKind
	}{
		{"unknown agent", unknown, StatusRejected, ErrValidation},
		{"issue without possession", notHeld, StatusRejected, ErrConsistency},
		{"possess", possess, StatusApplied, ""},
		{"curse without energy", curse, StatusRejected, ErrCapacity},
		{"rumor about unknown candy", badRumor, StatusRejected, ErrConfiguration},
	}
	for _, tt := range tests {
		r, ok := w.Result(tt.id)
		if !ok {
			t.Errorf("%s: no result", tt.name)
			continue
		}
		if r.Status != tt.want || r.Kind != tt.kind {
			t.Errorf("%s: got %s/%s (%s), want %s/%s", tt.name, r.Status, r.Kind, r.Reason, tt.want, tt.kind)
		}
	}
}

func TestReleaseAppliesFirst(t *testing.T) {
	a, b := valueInvestor(1, 100), valueInvestor(2, 110)
	w := handWorld(t, quietConfig(), a, b)
	w.Enqueue(Command{Kind: CmdPossess, Agent: a.ID})
	w.Step()

	move := w.Enqueue(Command{Kind: CmdIssue, Agent: a.ID, Action: ActMoveTo, Pos: &world.Vec2{X: 500, Y: 500}})
	release := w.Enqueue(Command{Kind: CmdRelease})
	w.Step()

	if r, _ := w.Result(release); r.Status != StatusApplied {
		t.Fatalf("release: %+v", r)
	}
	if r, _ := w.Result(move); r.Status != StatusRejected || r.Kind != ErrConsistency {
		t.Errorf("move after release: %+v, want consistency rejection", r)
	}
	if p := w.Possession(); p.Agent != nil || p.Cooldown == 0 {
		t.Errorf("possession after release = %+v", p)
	}
}

func TestPossessThenReleaseSameTick(t *testing.T) {
	a, b := valueInvestor(1, 100), valueInvestor(2, 110)
	w := handWorld(t, quietConfig(), a, b)

	possess := w.Enqueue(Command{Kind: CmdPossess, Agent: a.ID})
	move := w.Enqueue(Command{Kind: CmdIssue, Agent: a.ID, Action: ActMoveTo, Pos: &world.Vec2{X: 500, Y: 500}})
	release := w.Enqueue(Command{Kind: CmdRelease})
	w.Step()

	for name, id := range map[string]uint64{"possess": possess, "move": move, "release": release} {
		if r, _ := w.Result(id); r.Status != StatusApplied {
			t.Errorf("%s: %+v, want applied", name, r)
		}
	}
	if p := w.Possession(); p.Agent != nil {
		t.Errorf("agent %d still possessed after possess+release", *p.Agent)
	}
	if got, _ := w.Agent(a.ID); got.Possessed {
		t.Error("agent still marked possessed")
	}
}

func TestPossessionAutoRelease(t *testing.T) {
	cfg := quietConfig()
	cfg.Possession.MaxEnergy = 15
	cfg.Possession.Drain = 10
	a, b := valueInvestor(1, 100), valueInvestor(2, 110)
	w := handWorld(t, cfg, a, b)
	events := collect(w)

	w.Enqueue(Command{Kind: CmdPossess, Agent: a.ID})
	stepN(w, 2)

	if len(ofKind(*events, EventAgentReleased)) != 1 {
		t.Fatal("expected an automatic release when energy ran out")
	}
	got, _ := w.Agent(a.ID)
	if got.Possessed {
		t.Error("agent still marked possessed")
	}
}

func TestHeldOfferAccepted(t *testing.T) {
	a, b := valueInvestor(1, 100), valueInvestor(2, 110)
	a.Inventory[candy.Chocolate] = 1
	b.Inventory[candy.Sour] = 1
	w := handWorld(t, quietConfig(), a, b)
	w.Enqueue(Command{Kind: CmdPossess, Agent: b.ID})
	w.Step()

	w.mu.Lock()
	w.applyPending([]pending{{kind: pendingTrade, agent: a.ID, proposal: trade.Proposal{
		Proposer: a.ID,
		Target:   b.ID,
		Offer:    candy.Of(map[candy.Kind]int{candy.Chocolate: 1}),
		Request:  candy.Of(map[candy.Kind]int{candy.Sour: 1}),
	}}})
	w.mu.Unlock()

	p := w.Possession()
	if len(p.Incoming) != 1 {
		t.Fatalf("held offers = %d, want 1", len(p.Incoming))
	}
	accept := w.Enqueue(Command{Kind: CmdIssue, Agent: b.ID, Action: ActAcceptIncoming, Incoming: p.Incoming[0].ID})
	w.Step()

	if r, _ := w.Result(accept); r.Status != StatusApplied {
		t.Fatalf("accept: %+v", r)
	}
	gotB, _ := w.Agent(b.ID)
	if gotB.Inventory[candy.Chocolate] != 1 || gotB.Inventory[candy.Sour] != 0 {
		t.Errorf("possessed agent inventory = %v", gotB.Inventory)
	}
}

func TestSupplyShockCombo(t *testing.T) {
	seller, buyer := valueInvestor(1, 100), valueInvestor(2, 110)
	seller.Inventory[candy.Chocolate] = 2
	buyer.Inventory[candy.Sour] = 2
	buyer.Beliefs[candy.Chocolate] = 9
	buyer.Beliefs[candy.Sour] = 1
	w := handWorld(t, quietConfig(), seller, buyer)
	events := collect(w)

	w.Enqueue(Command{Kind: CmdPossess, Agent: seller.ID})
	w.Enqueue(Command{Kind: CmdSupplyPower, House: 1, Power: PowerCurse, Duration: 200})
	w.Enqueue(Command{Kind: CmdIssue, Agent: seller.ID, Action: ActHoard, Candy: "chocolate"})
	w.Step()

	// The market doubling is injected directly; a real run gets it from
	// the slow tick.
	w.mu.Lock()
	p := combo.CandyOf(candy.Chocolate)
	p.From, p.To = 4, 9
	w.logAction(combo.Entry{Kind: combo.ActionPriceChange, Payload: p})
	w.mu.Unlock()
	before := w.Possession().Energy

	sell := w.Enqueue(Command{
		Kind:    CmdIssue,
		Agent:   seller.ID,
		Action:  ActProposeTrade,
		Target:  buyer.ID,
		Offer:   candy.Of(map[candy.Kind]int{candy.Chocolate: 1}),
		Request: candy.Of(map[candy.Kind]int{candy.Sour: 1}),
	})
	w.Step()

	if r, _ := w.Result(sell); r.Status != StatusApplied {
		t.Fatalf("sell: %+v", r)
	}
	combos := ofKind(*events, EventComboTriggered)
	if len(combos) != 1 || combos[0].Meta["name"] != "Supply Shock" {
		t.Fatalf("combo events = %+v", combos)
	}
	if after := w.Possession().Energy; after <= before {
		t.Errorf("energy %.1f -> %.1f, want a bonus", before, after)
	}
}

func TestSpreadRumorCommand(t *testing.T) {
	a, b, c := valueInvestor(1, 100), valueInvestor(2, 110), valueInvestor(3, 120)
	agents.AddSocial(a, b)
	agents.AddSocial(b, c)
	cfg := quietConfig()
	cfg.Rumor.SpreadChance = 1
	w := handWorld(t, cfg, a, b, c)
	events := collect(w)

	w.Enqueue(Command{Kind: CmdPossess, Agent: a.ID})
	id := w.Enqueue(Command{Kind: CmdIssue, Agent: a.ID, Action: ActSpreadRumor, RumorKind: 0, Candy: "fruity", Magnitude: 0.5})
	w.Step()

	if r, _ := w.Result(id); r.Status != StatusApplied {
		t.Fatalf("spread: %+v", r)
	}
	if len(ofKind(*events, EventRumorSpread)) == 0 {
		t.Fatal("no rumor_spread event")
	}
	gotC, _ := w.Agent(c.ID)
	if gotC.Beliefs[candy.Fruity] <= 5 {
		t.Errorf("two hops away belief = %v, want raised above 5", gotC.Beliefs[candy.Fruity])
	}
}

func TestConfiscate(t *testing.T) {
	a, b := valueInvestor(1, 100), valueInvestor(2, 110)
	a.Inventory[candy.Novelty] = 3
	w := handWorld(t, quietConfig(), a, b)

	n, err := w.Confiscate(a.ID, candy.Novelty, 5)
	if err != nil || n != 3 {
		t.Fatalf("Confiscate = %d, %v; want 3, nil", n, err)
	}
	if _, err := w.Confiscate(99, candy.Novelty, 1); err == nil {
		t.Error("expected an error for a missing agent")
	}
	if got, ok := w.Agent(a.ID); !ok || got.Inventory[candy.Novelty] != 0 {
		t.Error("agent must survive confiscation with the kind emptied")
	}
}

func TestSnapshotRestore(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = 12
	w := New(cfg, Options{})
	stepN(w, 120)

	snap, err := w.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	fresh := New(config.Default(), Options{})
	if err := fresh.Restore(decoded); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if fresh.Tick() != w.Tick() {
		t.Errorf("tick %d, want %d", fresh.Tick(), w.Tick())
	}
	j1, _ := json.Marshal(w.Agents())
	j2, _ := json.Marshal(fresh.Agents())
	if string(j1) != string(j2) {
		t.Error("restored agents differ")
	}
	if w.Economy().Prices != fresh.Economy().Prices {
		t.Error("restored prices differ")
	}
	fresh.Step()
	if fresh.Tick() != w.Tick()+1 {
		t.Errorf("restored world stepped to %d", fresh.Tick())
	}
}

func TestRestoreRejectsBadSnapshot(t *testing.T) {
	w := New(config.Default(), Options{})
	snap, err := w.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	snap.Agents[0].Debts[agents.AgentID(math.MaxUint32)] = &agents.Debt{DueTick: 1}
	if err := w.Restore(snap); err == nil {
		t.Fatal("expected a dangling debt to be rejected")
	}
}
