package engine

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/trade"
	"github.com/talgya/candy-cartel/internal/world"
)

type pendingKind uint8

const (
	pendingNone pendingKind = iota
	pendingTrade
	pendingBorrow
	pendingForage
)

// pending is one agent's decision, computed against the frozen view and
// applied later in ascending agent id.
type pending struct {
	kind     pendingKind
	agent    agents.AgentID
	proposal trade.Proposal

	lender agents.AgentID
	candy  candy.Kind
	count  int

	house world.HouseID
	pos   world.Vec2
}

// view is the read-only copy of agents that decisions run against.
type view struct {
	w      *World
	agents map[agents.AgentID]*agents.Agent
}

// decide computes every free agent's next move in parallel. Nothing in the
// world is written until applyPending runs.
func (w *World) decide() []pending {
	v := view{w: w, agents: make(map[agents.AgentID]*agents.Agent, len(w.agents))}
	for _, a := range w.agents {
		v.agents[a.ID] = a.Clone()
	}

	out := make([]pending, len(w.agents))
	var wg sync.WaitGroup
	for i, a := range w.agents {
		if a.Possessed || a.State == agents.StateFleeing || a.State == agents.StateTrading {
			continue
		}
		wg.Add(1)
		go func(i int, self *agents.Agent) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(decisionSeed(w.seed, w.tick, self.ID)))
			out[i] = v.decideOne(self, rng)
		}(i, v.agents[a.ID])
	}
	wg.Wait()
	return out
}

// decisionSeed mixes the world seed, tick and agent id so every agent's
// roll is independent of goroutine scheduling.
func decisionSeed(seed int64, tick uint64, id agents.AgentID) int64 {
	x := uint64(seed) ^ tick*0x9E3779B97F4A7C15 ^ uint64(id)*0xBF58476D1CE4E5B9
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return int64(x)
}

func (v view) decideOne(a *agents.Agent, rng *rand.Rand) pending {
	cfg := v.w.cfg
	none := pending{agent: a.ID}

	if a.State == agents.StateResolvingDebt {
		if p, ok := v.settleTrade(a, rng); ok {
			return p
		}
		return none
	}

	chance := a.Personality.TradeProbability
	switch a.Mood {
	case agents.MoodGreedy, agents.MoodPanic:
		chance = math.Min(1, chance*1.5)
	case agents.MoodAnxious:
		chance *= 0.5
	}
	if !a.Inventory.IsEmpty() && rng.Float64() < chance {
		if p, ok := v.proposeTrade(a, nil, rng); ok {
			return p
		}
	}

	if cfg.Debt.BorrowChance > 0 && rng.Float64() < cfg.Debt.BorrowChance {
		if p, ok := v.pickLoan(a); ok {
			return p
		}
	}

	if a.State == agents.StateIdle && rng.Float64() < cfg.Behavior.ForageChance {
		if h := v.bestHouse(a); h != nil {
			return pending{kind: pendingForage, agent: a.ID, house: h.ID, pos: h.Pos}
		}
	}
	return none
}

// partners lists trade candidates: social contacts first for social
// traders, otherwise nearest first.
func (v view) partners(a *agents.Agent) []*agents.Agent {
	seen := make(map[agents.AgentID]bool)
	var out []*agents.Agent
	add := func(id agents.AgentID) {
		if id == a.ID || seen[id] {
			return
		}
		seen[id] = true
		b := v.agents[id]
		if b == nil || b.State == agents.StateFleeing || b.State == agents.StateTrading || b.Inventory.IsEmpty() {
			return
		}
		out = append(out, b)
	}
	for _, id := range v.w.grid.Nearby(a.Position, v.w.cfg.Trade.SearchRadius) {
		add(agents.AgentID(id))
	}
	for _, id := range a.SocialIDs() {
		add(id)
	}

	score := func(b *agents.Agent) float64 {
		d := world.Distance(a.Position, b.Position)
		if a.Personality.Kind == agents.SocialTrader {
			d -= 400 * a.TrustOf(b.ID)
			if agents.InBloc(a, b) {
				d -= 200
			}
		}
		return d
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > 4 {
		out = out[:4]
	}
	return out
}

// proposeTrade looks for a swap a likes that a partner would take. When
// want is set the request is restricted to that kind.
func (v view) proposeTrade(a *agents.Agent, want *candy.Kind, rng *rand.Rand) (pending, bool) {
	for _, b := range v.partners(a) {
		offer, request, ok := v.buildOffer(a, b, want, rng)
		if !ok {
			continue
		}
		if !trade.Accepts(a, offer, request, v.w.tradeOptions(a, b)) {
			continue
		}
		if !b.Possessed && !trade.Accepts(b, request, offer, v.w.tradeOptions(b, a)) {
			continue
		}
		return pending{
			kind:  pendingTrade,
			agent: a.ID,
			proposal: trade.Proposal{
				Proposer: a.ID,
				Target:   b.ID,
				Offer:    offer,
				Request:  request,
				Tick:     v.w.tick,
			},
		}, true
	}
	return pending{}, false
}

// buildOffer picks one kind a wants from b and a bundle of one kind a is
// willing to part with, sized by the current market exchange rate.
func (v view) buildOffer(a, b *agents.Agent, want *candy.Kind, rng *rand.Rand) (offer, request candy.Inventory, ok bool) {
	get, found := v.pickWanted(a, b, want)
	if !found {
		return offer, request, false
	}
	give, found := v.pickGiven(a, get, rng)
	if !found {
		return offer, request, false
	}

	prices := v.w.eco.Prices
	n := int(math.Ceil(prices[get] / math.Max(prices[give], agents.MinBelief)))
	if n < 1 {
		n = 1
	}
	if n > a.Inventory[give] {
		n = a.Inventory[give]
	}
	request[get] = 1
	offer[give] = n
	return offer, request, true
}

// desire is how much a wants one more piece of k.
func (v view) desire(a *agents.Agent, k candy.Kind) float64 {
	d := a.Beliefs[k] * (0.5 + a.Preferences[k])
	if a.Goal.Wants(k) {
		d *= 1.5
	}
	// Expected scarcity makes candy more desirable.
	d *= 1.5 - 0.5*a.Supply[k]
	switch a.Personality.Kind {
	case agents.MomentumTrader:
		d *= 1 + v.w.eco.PriceTrend(k)
	case agents.ValueInvestor:
		if p := v.w.eco.Prices[k]; p > 0 {
			d *= a.Beliefs[k] / p
		}
	}
	return d
}

func (v view) pickWanted(a, b *agents.Agent, want *candy.Kind) (candy.Kind, bool) {
	best, bestScore := candy.Kind(0), -1.0
	for _, k := range b.Inventory.Kinds() {
		if k == candy.Trash || (want != nil && k != *want) {
			continue
		}
		if b.HoardKind != nil && *b.HoardKind == k {
			continue
		}
		if s := v.desire(a, k); s > bestScore {
			best, bestScore = k, s
		}
	}
	return best, bestScore >= 0
}

func (v view) pickGiven(a *agents.Agent, get candy.Kind, rng *rand.Rand) (candy.Kind, bool) {
	var cands []candy.Kind
	for _, k := range a.Inventory.Kinds() {
		if k == get || (a.HoardKind != nil && *a.HoardKind == k) {
			continue
		}
		if a.Personality.Kind == agents.Hoarder && a.Goal.Wants(k) {
			continue
		}
		cands = append(cands, k)
	}
	if len(cands) == 0 {
		return 0, false
	}
	key := func(k candy.Kind) float64 {
		switch {
		case a.Personality.Kind == agents.PanicSeller || a.Mood == agents.MoodPanic:
			return a.Freshness[k] // Dump whatever is going off first
		default:
			return v.desire(a, k)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return key(cands[i]) < key(cands[j]) })
	// Momentum traders occasionally try their second choice.
	if a.Personality.Kind == agents.MomentumTrader && len(cands) > 1 && rng.Float64() < a.Personality.RiskTolerance*0.5 {
		return cands[1], true
	}
	return cands[0], true
}

// settleTrade tries to trade for a kind the agent is short on for its
// nearest-due debt.
func (v view) settleTrade(a *agents.Agent, rng *rand.Rand) (pending, bool) {
	var (
		due   uint64 = math.MaxUint64
		short *candy.Kind
	)
	for _, cid := range agents.SortIDs(a.Debts) {
		d := a.Debts[cid]
		if d.DueTick >= due {
			continue
		}
		for _, k := range d.Items.Kinds() {
			if a.Inventory[k] < d.Items[k] {
				k := k
				short, due = &k, d.DueTick
				break
			}
		}
	}
	if short == nil {
		return pending{}, false
	}
	return v.proposeTrade(a, short, rng)
}

// pickLoan asks a trusting contact for a kind the agent's goal needs.
func (v view) pickLoan(a *agents.Agent) (pending, bool) {
	if len(a.Debts) > 0 || a.Goal.Completed {
		return pending{}, false
	}
	for _, k := range a.Goal.Kinds {
		if k == candy.Trash {
			continue
		}
		for _, id := range a.SocialIDs() {
			b := v.agents[id]
			if b == nil || b.Possessed || b.Inventory[k] < 2 {
				continue
			}
			if b.TrustOf(a.ID) < v.w.cfg.Debt.MinTrust {
				continue
			}
			return pending{kind: pendingBorrow, agent: a.ID, lender: b.ID, candy: k, count: 1}, true
		}
	}
	return pending{}, false
}

// bestHouse is the most attractive available house within reach,
// weighted by how much the agent likes what it hands out.
func (v view) bestHouse(a *agents.Agent) *world.House {
	var (
		best      *world.House
		bestScore float64
	)
	for _, h := range v.w.Map.SortedHouses() {
		if !h.Available() {
			continue
		}
		s := h.Attraction(a.Position, v.w.cfg.Trade.HouseRadius)
		if s <= 0 {
			continue
		}
		taste := 0.0
		for _, k := range h.Kinds {
			taste += a.Preferences[k] * a.Supply[k]
		}
		if len(h.Kinds) > 0 {
			s *= 0.5 + taste/float64(len(h.Kinds))
		}
		if s > bestScore {
			best, bestScore = h, s
		}
	}
	return best
}

// applyPending commits decisions in ascending agent id. Inventory is
// re-checked for every trade; a proposal that no longer fits is dropped.
func (w *World) applyPending(changes []pending) {
	for _, p := range changes {
		a := w.agent(p.agent)
		if a == nil || p.kind == pendingNone {
			continue
		}
		switch p.kind {
		case pendingTrade:
			w.applyProposal(a, p.proposal)
		case pendingBorrow:
			if err := w.borrow(a, p.lender, p.candy, p.count); err != nil {
				slog.Debug("loan refused", "debtor", a.ID, "lender", p.lender, "error", err)
			}
		case pendingForage:
			if a.State == agents.StateIdle && !a.Possessed {
				h := p.house
				w.walk(a, p.pos, &h)
			}
		}
	}
}

func (w *World) applyProposal(a *agents.Agent, prop trade.Proposal) {
	b := w.agent(prop.Target)
	if b == nil || a.Busy() {
		return
	}
	if b.Possessed {
		if !a.CanCover(prop.Offer) {
			return
		}
		id := w.poss.hold(prop, w.tick+w.cfg.Trade.OfferExpiry)
		slog.Debug("offer held for possessed agent", "offer", id, "from", a.ID, "to", b.ID)
		return
	}
	if b.State == agents.StateFleeing {
		return
	}
	res, err := w.execTrade(a, b, prop)
	if err != nil {
		if errors.Is(err, agents.ErrInsufficientInventory) {
			w.stats.DroppedTrades++
			slog.Debug("trade dropped", "proposer", a.ID, "target", b.ID, "error", err)
			return
		}
		slog.Debug("trade failed", "proposer", a.ID, "target", b.ID, "error", err)
		return
	}
	w.streakMood(a, res.ProposerProfit)
	w.streakMood(b, res.TargetProfit)
}

// streakMood turns a run of wins into greed and a run of losses into worry.
func (w *World) streakMood(a *agents.Agent, profit float64) {
	if a.Mood == agents.MoodPanic {
		return
	}
	if profit < 0 && agents.LossStreak(a) >= 3 {
		w.setMood(a, agents.MoodAnxious, "losing streak")
		return
	}
	recent := agents.RecentTrades(a, 3)
	if len(recent) < 3 {
		return
	}
	for _, o := range recent {
		if o.Profit <= 0 {
			return
		}
	}
	w.setMood(a, agents.MoodGreedy, "winning streak")
}
