// Package social detects trading blocs from who-trades-with-whom and
// spreads successful strategies between neighbouring agents.
package social

import (
	"math"
	"sort"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
)

// BlocID is a stable identifier for a trading bloc.
type BlocID = uint64

// Bloc is an emergent cluster of agents who trade preferentially with each other.
type Bloc struct {
	ID            BlocID                  `json:"id"`
	Members       []agents.AgentID        `json:"members"` // Ascending
	SharedBeliefs [candy.NumKinds]float64 `json:"shared_beliefs"`
	Strength      float64                 `json:"strength"`
	Internal      float64                 `json:"internal_trades"` // Decayed member-to-member trade count
	External      float64                 `json:"external_trades"` // Decayed member-to-outsider trade count
	FormedTick    uint64                  `json:"formed_tick"`
	Missed        int                     `json:"missed,omitempty"` // Consecutive passes without a matching component
}

// Level folds size and internal trade weight into [0, 1]. Ten members
// alone saturate it.
func (b *Bloc) Level() float64 {
	l := float64(len(b.Members)) / 10
	if b.Strength > 0 {
		l += 0.3 * b.Strength / (b.Strength + 1)
	}
	return math.Min(l, 1)
}

// TradeBonus multiplies the partner discount between members.
func (b *Bloc) TradeBonus() float64 { return 1 + 0.5*b.Level() }

// InfoAdvantage multiplies rumor acceptance between members.
func (b *Bloc) InfoAdvantage() float64 { return 1 + b.Level() }

// ExternalShare is the fraction of recent member trades made with outsiders.
func (b *Bloc) ExternalShare() float64 {
	total := b.Internal + b.External
	if total == 0 {
		return 0
	}
	return b.External / total
}

// Has reports whether id is a member.
func (b *Bloc) Has(id agents.AgentID) bool {
	i := sort.Search(len(b.Members), func(i int) bool { return b.Members[i] >= id })
	return i < len(b.Members) && b.Members[i] == id
}

// BlocEventKind classifies a detector event.
type BlocEventKind uint8

const (
	BlocFormed BlocEventKind = iota
	BlocFractured
	BlocMembershipChanged
)

// BlocEvent reports a change in bloc structure.
type BlocEvent struct {
	Kind    BlocEventKind
	Bloc    BlocID
	Members []agents.AgentID
	Joined  []agents.AgentID
	Left    []agents.AgentID
}

// DetectorConfig holds bloc detection tunables.
type DetectorConfig struct {
	Window        uint64  // Ticks a trade stays in the pair counter
	EdgeThreshold int     // Trades within Window needed for a pair edge
	MinSize       int     // Smallest component that forms a bloc
	StrengthGain  float64 // Added per member-to-member trade
	StrengthDecay float64 // Fraction lost per detection pass
	FractureGrace int     // Passes an unmatched bloc survives before fracturing
	// ExternalFracture splits a bloc whose ExternalShare exceeds it once at
	// least MinTrades have been counted. Zero disables the check.
	ExternalFracture float64
	MinTrades        float64
}

type pairKey struct{ lo, hi agents.AgentID }

func newPair(a, b agents.AgentID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

type pairTrade struct {
	tick uint64
	pair pairKey
}

// Detector clusters agents into blocs from a sliding-window trade graph.
type Detector struct {
	cfg      DetectorConfig
	trades   []pairTrade
	counts   map[pairKey]int
	blocs    map[BlocID]*Bloc
	memberOf map[agents.AgentID]BlocID
	nextID   BlocID
}

// NewDetector creates an empty bloc detector.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.MinSize < 3 {
		cfg.MinSize = 3
	}
	return &Detector{
		cfg:      cfg,
		counts:   make(map[pairKey]int),
		blocs:    make(map[BlocID]*Bloc),
		memberOf: make(map[agents.AgentID]BlocID),
		nextID:   1,
	}
}

// RecordTrade counts a completed trade between a and b. A trade between two
// members of the same bloc strengthens it; any other trade by a member
// counts against that member's bloc.
func (d *Detector) RecordTrade(a, b agents.AgentID, tick uint64) {
	if a == b {
		return
	}
	k := newPair(a, b)
	d.trades = append(d.trades, pairTrade{tick: tick, pair: k})
	d.counts[k]++
	ba, aIn := d.memberOf[a]
	bb, bIn := d.memberOf[b]
	if aIn && bIn && ba == bb {
		bl := d.blocs[ba]
		bl.Strength += d.cfg.StrengthGain
		bl.Internal++
		return
	}
	if aIn {
		d.blocs[ba].External++
	}
	if bIn {
		d.blocs[bb].External++
	}
}

// Blocs returns current blocs ordered by id.
func (d *Detector) Blocs() []*Bloc {
	out := make([]*Bloc, 0, len(d.blocs))
	for _, b := range d.blocs {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a bloc or nil.
func (d *Detector) Get(id BlocID) *Bloc { return d.blocs[id] }

// BlocOf returns the bloc id of an agent.
func (d *Detector) BlocOf(id agents.AgentID) (BlocID, bool) {
	b, ok := d.memberOf[id]
	return b, ok
}

func (d *Detector) evict(tick uint64) {
	if tick < d.cfg.Window {
		return
	}
	cutoff := tick - d.cfg.Window
	i := 0
	for ; i < len(d.trades) && d.trades[i].tick < cutoff; i++ {
		k := d.trades[i].pair
		if d.counts[k]--; d.counts[k] <= 0 {
			delete(d.counts, k)
		}
	}
	d.trades = append(d.trades[:0], d.trades[i:]...)
}

// components runs union-find over the thresholded pair graph and returns
// components of at least MinSize members, each sorted ascending.
func (d *Detector) components() [][]agents.AgentID {
	uf := newUnionFind()
	keys := make([]pairKey, 0, len(d.counts))
	for k, n := range d.counts {
		if n >= d.cfg.EdgeThreshold {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].lo != keys[j].lo {
			return keys[i].lo < keys[j].lo
		}
		return keys[i].hi < keys[j].hi
	})
	for _, k := range keys {
		uf.union(k.lo, k.hi)
	}
	groups := make(map[agents.AgentID][]agents.AgentID)
	for _, id := range agents.SortIDs(uf.parent) {
		r := uf.find(id)
		groups[r] = append(groups[r], id)
	}
	var out [][]agents.AgentID
	for _, g := range groups {
		if len(g) >= d.cfg.MinSize {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Detect runs one clustering pass. Candidate components are matched to the
// previous pass's blocs by largest member overlap so ids stay stable; the
// agent lookup is used to maintain BlocID fields and shared beliefs.
func (d *Detector) Detect(tick uint64, lookup func(agents.AgentID) *agents.Agent) []BlocEvent {
	d.evict(tick)
	comps := d.components()
	prev := d.Blocs()

	type match struct {
		comp    int
		bloc    BlocID
		overlap int
	}
	var cands []match
	for ci, c := range comps {
		for _, b := range prev {
			n := 0
			for _, id := range c {
				if b.Has(id) {
					n++
				}
			}
			if n > 0 {
				cands = append(cands, match{ci, b.ID, n})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].overlap != cands[j].overlap {
			return cands[i].overlap > cands[j].overlap
		}
		if cands[i].bloc != cands[j].bloc {
			return cands[i].bloc < cands[j].bloc
		}
		return cands[i].comp < cands[j].comp
	})
	compTo := make(map[int]BlocID)
	blocTaken := make(map[BlocID]bool)
	for _, m := range cands {
		if _, done := compTo[m.comp]; done || blocTaken[m.bloc] {
			continue
		}
		compTo[m.comp] = m.bloc
		blocTaken[m.bloc] = true
	}

	var events []BlocEvent
	next := make(map[agents.AgentID]BlocID)

	for ci, c := range comps {
		id, ok := compTo[ci]
		if ok && d.pulledApart(d.blocs[id]) {
			b := d.blocs[id]
			delete(d.blocs, id)
			d.forget(c)
			events = append(events, BlocEvent{Kind: BlocFractured, Bloc: id, Members: b.Members, Left: b.Members})
			continue
		}
		if !ok {
			b := &Bloc{ID: d.nextID, Members: c, FormedTick: tick}
			d.nextID++
			b.SharedBeliefs = meanBeliefs(c, lookup)
			d.blocs[b.ID] = b
			events = append(events, BlocEvent{Kind: BlocFormed, Bloc: b.ID, Members: c, Joined: c})
			for _, m := range c {
				next[m] = b.ID
			}
			continue
		}
		b := d.blocs[id]
		joined, left := diff(b.Members, c)
		b.Members = c
		b.Missed = 0
		mean := meanBeliefs(c, lookup)
		for k := range b.SharedBeliefs {
			b.SharedBeliefs[k] = 0.7*b.SharedBeliefs[k] + 0.3*mean[k]
		}
		if len(joined) > 0 || len(left) > 0 {
			events = append(events, BlocEvent{Kind: BlocMembershipChanged, Bloc: id, Members: c, Joined: joined, Left: left})
		}
		for _, m := range c {
			next[m] = id
		}
	}

	// Unmatched blocs survive a few passes, minus anyone claimed elsewhere.
	for _, b := range prev {
		if blocTaken[b.ID] {
			continue
		}
		b.Missed++
		var keep []agents.AgentID
		for _, m := range b.Members {
			if _, claimed := next[m]; !claimed {
				keep = append(keep, m)
			}
		}
		if b.Missed > d.cfg.FractureGrace || len(keep) < d.cfg.MinSize {
			delete(d.blocs, b.ID)
			events = append(events, BlocEvent{Kind: BlocFractured, Bloc: b.ID, Members: b.Members, Left: b.Members})
			continue
		}
		if len(keep) != len(b.Members) {
			_, left := diff(b.Members, keep)
			b.Members = keep
			events = append(events, BlocEvent{Kind: BlocMembershipChanged, Bloc: b.ID, Members: keep, Left: left})
		}
		for _, m := range keep {
			next[m] = b.ID
		}
	}

	for _, b := range d.blocs {
		keep := 1 - d.cfg.StrengthDecay
		b.Strength *= keep
		b.Internal *= keep
		b.External *= keep
	}
	d.assign(next, lookup)
	return events
}

// pulledApart reports whether outside trading has overtaken a bloc.
func (d *Detector) pulledApart(b *Bloc) bool {
	if d.cfg.ExternalFracture <= 0 {
		return false
	}
	if b.Internal+b.External < math.Max(d.cfg.MinTrades, 1) {
		return false
	}
	return b.ExternalShare() > d.cfg.ExternalFracture
}

// forget drops windowed trades among ids so a split bloc does not re-form
// from the same edges on the next pass.
func (d *Detector) forget(ids []agents.AgentID) {
	in := make(map[agents.AgentID]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	kept := d.trades[:0]
	for _, t := range d.trades {
		if in[t.pair.lo] && in[t.pair.hi] {
			if d.counts[t.pair]--; d.counts[t.pair] <= 0 {
				delete(d.counts, t.pair)
			}
			continue
		}
		kept = append(kept, t)
	}
	d.trades = kept
}

// assign rewrites membership and each agent's BlocID.
func (d *Detector) assign(next map[agents.AgentID]BlocID, lookup func(agents.AgentID) *agents.Agent) {
	if lookup != nil {
		for id := range d.memberOf {
			if _, still := next[id]; !still {
				if a := lookup(id); a != nil {
					a.BlocID = nil
				}
			}
		}
		for id, b := range next {
			if a := lookup(id); a != nil {
				bid := b
				a.BlocID = &bid
			}
		}
	}
	d.memberOf = next
}

// Restore replaces bloc state from a snapshot. Pair counters start empty.
func (d *Detector) Restore(blocs []*Bloc) {
	d.blocs = make(map[BlocID]*Bloc, len(blocs))
	d.memberOf = make(map[agents.AgentID]BlocID)
	d.trades = nil
	d.counts = make(map[pairKey]int)
	d.nextID = 1
	for _, b := range blocs {
		d.blocs[b.ID] = b
		for _, m := range b.Members {
			d.memberOf[m] = b.ID
		}
		if b.ID >= d.nextID {
			d.nextID = b.ID + 1
		}
	}
}

func meanBeliefs(ids []agents.AgentID, lookup func(agents.AgentID) *agents.Agent) [candy.NumKinds]float64 {
	var sum [candy.NumKinds]float64
	n := 0
	if lookup == nil {
		return sum
	}
	for _, id := range ids {
		a := lookup(id)
		if a == nil {
			continue
		}
		for k := range sum {
			sum[k] += a.Beliefs[k]
		}
		n++
	}
	if n > 0 {
		for k := range sum {
			sum[k] /= float64(n)
		}
	}
	return sum
}

// diff returns ids in next but not prev, and in prev but not next. Both
// inputs must be sorted.
func diff(prev, next []agents.AgentID) (joined, left []agents.AgentID) {
	i, j := 0, 0
	for i < len(prev) || j < len(next) {
		switch {
		case j >= len(next) || (i < len(prev) && prev[i] < next[j]):
			left = append(left, prev[i])
			i++
		case i >= len(prev) || next[j] < prev[i]:
			joined = append(joined, next[j])
			j++
		default:
			i++
			j++
		}
	}
	return joined, left
}

type unionFind struct {
	parent map[agents.AgentID]agents.AgentID
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[agents.AgentID]agents.AgentID)}
}

func (u *unionFind) find(x agents.AgentID) agents.AgentID {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	r := u.find(p)
	u.parent[x] = r
	return r
}

// union joins two sets, keeping the smaller id as root.
func (u *unionFind) union(a, b agents.AgentID) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
