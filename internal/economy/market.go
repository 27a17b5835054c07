// Package economy provides real candy values, market price aggregation,
// spoilage, and price-discovery convergence tracking.
package economy

import (
	"math"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
)

// PricePoint is one observed trade price for a kind.
type PricePoint struct {
	Kind  candy.Kind `json:"kind"`
	Price float64    `json:"price"`
	Tick  uint64     `json:"tick"`
}

// PriceChange describes a market price move between two slow ticks.
type PriceChange struct {
	Kind candy.Kind `json:"kind"`
	From float64    `json:"from"`
	To   float64    `json:"to"`
}

// Pct returns the relative change, e.g. 1.0 for a doubling.
func (c PriceChange) Pct() float64 {
	if c.From == 0 {
		return 0
	}
	return (c.To - c.From) / c.From
}

// Phase names the three emergent stages of price discovery.
type Phase uint8

const (
	PhaseChaotic Phase = iota
	PhaseConvergent
	PhaseStable
)

func (p Phase) String() string {
	switch p {
	case PhaseChaotic:
		return "chaotic"
	case PhaseConvergent:
		return "convergent"
	default:
		return "stable"
	}
}

// Config holds the economy tunables.
type Config struct {
	Real          [candy.NumKinds]float64
	DecayRate     [candy.NumKinds]float64 // Freshness lost per fast tick
	TrashValue    float64
	Window        int     // Trade-history window size
	DiscoveryStep float64 // Discovery progress added per fast tick
	ChangeEpsilon float64 // Minimum relative move reported as a price change
}

// Economy is the market state owned by the coordinator.
type Economy struct {
	cfg Config

	History   []PricePoint            `json:"history"`
	Prices    [candy.NumKinds]float64 `json:"prices"`
	Discovery float64                 `json:"discovery"` // 0–1; forced convergence ends at 1
}

// New creates an economy whose market prices start at real values.
func New(cfg Config) *Economy {
	if cfg.Window <= 0 {
		cfg.Window = 100
	}
	if cfg.ChangeEpsilon <= 0 {
		cfg.ChangeEpsilon = 0.01
	}
	e := &Economy{cfg: cfg}
	e.Prices = cfg.Real
	return e
}

// Config returns the tunables the economy was built with.
func (e *Economy) Config() Config { return e.cfg }

// Real returns the ground-truth value of a kind.
func (e *Economy) Real(k candy.Kind) float64 { return e.cfg.Real[k] }

// RealValues returns the full real-value table.
func (e *Economy) RealValues() [candy.NumKinds]float64 { return e.cfg.Real }

// DiscoveryActive reports whether beliefs are still being pulled toward real values.
func (e *Economy) DiscoveryActive() bool { return e.Discovery < 1.0 }

// Phase classifies the current discovery stage.
func (e *Economy) Phase() Phase {
	switch {
	case e.Discovery >= 1.0:
		return PhaseStable
	case e.Discovery >= 0.33:
		return PhaseConvergent
	default:
		return PhaseChaotic
	}
}

// AdvanceDiscovery adds one tick's worth of discovery progress.
func (e *Economy) AdvanceDiscovery() {
	e.Discovery = math.Min(1.0, e.Discovery+e.cfg.DiscoveryStep)
}

// ItemValue is what one piece of kind is worth at the given freshness.
func (e *Economy) ItemValue(k candy.Kind, freshness float64) float64 {
	return math.Max(e.cfg.TrashValue, e.cfg.Real[k]*freshness)
}

// ApplyDecay spoils every agent's inventory by dt ticks and returns the
// number of pieces that turned to trash.
func (e *Economy) ApplyDecay(pop []*agents.Agent, dt float64) int {
	var rates [candy.NumKinds]float64
	for k := range rates {
		rates[k] = e.cfg.DecayRate[k] * dt
	}
	spoiled := 0
	for _, a := range pop {
		spoiled += a.Spoil(rates)
	}
	return spoiled
}

// RecordTrade appends price observations for a completed trade, evicting
// the oldest once the window is full.
func (e *Economy) RecordTrade(points ...PricePoint) {
	e.History = append(e.History, points...)
	if over := len(e.History) - e.cfg.Window; over > 0 {
		e.History = append(e.History[:0], e.History[over:]...)
	}
}

// TradePrices derives one price observation per kind involved in a swap.
// Each kind's price is its mean believed value scaled by the exchange ratio
// the two parties agreed on.
func TradePrices(gave, got candy.Inventory, a, b [candy.NumKinds]float64, tick uint64) []PricePoint {
	var mean [candy.NumKinds]float64
	for k := range mean {
		mean[k] = (a[k] + b[k]) / 2
	}
	vGave, vGot := gave.Value(mean), got.Value(mean)
	if vGave <= 0 || vGot <= 0 {
		return nil
	}
	var out []PricePoint
	for _, k := range gave.Kinds() {
		out = append(out, PricePoint{Kind: k, Price: mean[k] * vGot / vGave, Tick: tick})
	}
	for _, k := range got.Kinds() {
		out = append(out, PricePoint{Kind: k, Price: mean[k] * vGave / vGot, Tick: tick})
	}
	return out
}

// UpdateMarketPrices recomputes every kind's price as a recency-weighted
// average over the window. Kinds with no trades in the window hold their
// previous price. Moves of at least ChangeEpsilon are returned.
func (e *Economy) UpdateMarketPrices() []PriceChange {
	var sum, weight [candy.NumKinds]float64
	for i, p := range e.History {
		w := float64(i + 1)
		sum[p.Kind] += p.Price * w
		weight[p.Kind] += w
	}
	var changes []PriceChange
	for k := range e.Prices {
		if weight[k] == 0 {
			continue
		}
		prev := e.Prices[k]
		e.Prices[k] = sum[k] / weight[k]
		if prev > 0 && math.Abs(e.Prices[k]-prev)/prev >= e.cfg.ChangeEpsilon {
			changes = append(changes, PriceChange{Kind: candy.Kind(k), From: prev, To: e.Prices[k]})
		}
	}
	return changes
}

// UpdateBeliefsFromTrade moves the agent's beliefs for every kind it gave or
// got. While discovery is active beliefs are pulled toward real values;
// afterwards they only drift toward the market price.
func (e *Economy) UpdateBeliefsFromTrade(a *agents.Agent, gave, got candy.Inventory) {
	rate := a.Personality.LearningRate
	for k := candy.Kind(0); k < candy.NumKinds; k++ {
		if gave[k] == 0 && got[k] == 0 {
			continue
		}
		cur := a.Beliefs[k]
		if e.DiscoveryActive() {
			a.SetBelief(k, cur+(e.cfg.Real[k]-cur)*rate)
		} else {
			a.SetBelief(k, cur+(e.Prices[k]-cur)*rate*0.25)
		}
	}
}

// PriceTrend returns the direction of the last five trades of a kind,
// normalised to [-1,1].
func (e *Economy) PriceTrend(k candy.Kind) float64 {
	recent := e.recent(k, 5)
	if len(recent) < 2 {
		return 0
	}
	first, last := recent[0], recent[len(recent)-1]
	if first == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, (last-first)/first))
}

// Volatility is the coefficient of variation of the last ten trade prices,
// each taken relative to its kind's real value.
func (e *Economy) Volatility() float64 {
	rel := e.relativeTail(10)
	if len(rel) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range rel {
		mean += r
	}
	mean /= float64(len(rel))
	v := 0.0
	for _, r := range rel {
		v += (r - mean) * (r - mean)
	}
	if mean == 0 {
		return 0
	}
	return math.Sqrt(v/float64(len(rel))) / mean
}

// TrendStrength is how consistently the last ten relative prices moved in
// one direction, 0–1.
func (e *Economy) TrendStrength() float64 {
	rel := e.relativeTail(10)
	if len(rel) < 2 {
		return 0
	}
	up, down := 0, 0
	for i := 1; i < len(rel); i++ {
		switch {
		case rel[i] > rel[i-1]:
			up++
		case rel[i] < rel[i-1]:
			down++
		}
	}
	return math.Abs(float64(up-down)) / float64(len(rel)-1)
}

// MeanAbsBeliefError is the mean |belief − real| over all agents and
// non-trash kinds.
func (e *Economy) MeanAbsBeliefError(pop []*agents.Agent) float64 {
	if len(pop) == 0 {
		return 0
	}
	sum, n := 0.0, 0
	for _, a := range pop {
		for k := candy.Kind(0); k < candy.Trash; k++ {
			sum += math.Abs(a.Beliefs[k] - e.cfg.Real[k])
			n++
		}
	}
	return sum / float64(n)
}

// Restore replaces market state from a snapshot.
func (e *Economy) Restore(history []PricePoint, prices [candy.NumKinds]float64, discovery float64) {
	e.History = append([]PricePoint(nil), history...)
	e.Prices = prices
	e.Discovery = discovery
}

func (e *Economy) recent(k candy.Kind, n int) []float64 {
	var out []float64
	for i := len(e.History) - 1; i >= 0 && len(out) < n; i-- {
		if e.History[i].Kind == k {
			out = append(out, e.History[i].Price)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (e *Economy) relativeTail(n int) []float64 {
	start := len(e.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, n)
	for _, p := range e.History[start:] {
		if r := e.cfg.Real[p.Kind]; r > 0 {
			out = append(out, p.Price/r)
		}
	}
	return out
}
