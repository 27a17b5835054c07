package rumor

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/talgya/candy-cartel/internal/agents"
)

// Config holds rumor tunables. All durations are in ticks.
type Config struct {
	SpreadChance   float64           // Acceptance chance along a social edge
	OverhearChance float64           // Acceptance chance for a nearby stranger
	MaxDepth       int               // Hop limit from the origin
	MaxBranching   int               // Receivers accepted per node per pass
	MutateAmount   float64           // Max absolute magnitude drift per hop
	MaxMagnitude   float64           // Magnitude clamp after mutation
	HalfLife       [NumKinds]float64 // Believability half-life per kind
	Epsilon        float64           // Believability below this counts as zero
	MaxAge         uint64            // Rumors older than this decay regardless
	HearRadius     float64           // Radius for overhearing
}

// Population gives the engine read/write access to agents and proximity.
// Affinity scales the acceptance chance along a social edge; 1 is neutral.
type Population interface {
	Agent(id agents.AgentID) *agents.Agent
	Nearby(id agents.AgentID, radius float64) []agents.AgentID
	Affinity(from, to agents.AgentID) float64
}

// Reception records one agent hearing a rumor.
type Reception struct {
	Agent     agents.AgentID `json:"agent"`
	From      agents.AgentID `json:"from"`
	Depth     int            `json:"depth"`
	Magnitude float64        `json:"magnitude"` // After mutation
	Overheard bool           `json:"overheard"`
}

// Engine owns the active rumor set.
type Engine struct {
	cfg    Config
	active map[uint64]*Rumor
	nextID uint64
}

// NewEngine creates an empty rumor engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.01
	}
	if cfg.MaxBranching <= 0 {
		cfg.MaxBranching = 4
	}
	return &Engine{cfg: cfg, active: make(map[uint64]*Rumor), nextID: 1}
}

// Create registers a new rumor at origin. Malformed payloads are rejected.
func (e *Engine) Create(kind Kind, p Payload, origin agents.AgentID, believability float64, tick uint64) (*Rumor, error) {
	r := &Rumor{
		ID:            e.nextID,
		Kind:          kind,
		Payload:       p,
		Believability: clamp(believability, 0, 1),
		Origin:        origin,
		MaxDepth:      e.cfg.MaxDepth,
		Visited:       make(map[agents.AgentID]int),
		State:         StateCreated,
		CreatedTick:   tick,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	e.nextID++
	e.active[r.ID] = r
	return r, nil
}

// Get returns an active rumor or nil.
func (e *Engine) Get(id uint64) *Rumor { return e.active[id] }

// Active returns active rumors ordered by id.
func (e *Engine) Active() []*Rumor {
	out := make([]*Rumor, 0, len(e.active))
	for _, r := range e.active {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of active rumors.
func (e *Engine) Count() int { return len(e.active) }

// Remove drops a rumor from the active set.
func (e *Engine) Remove(id uint64) { delete(e.active, id) }

// Restore replaces the active set from a snapshot.
func (e *Engine) Restore(rs []*Rumor) {
	e.active = make(map[uint64]*Rumor, len(rs))
	e.nextID = 1
	for _, r := range rs {
		if r.Visited == nil {
			r.Visited = make(map[agents.AgentID]int)
		}
		e.active[r.ID] = r
		if r.ID >= e.nextID {
			e.nextID = r.ID + 1
		}
	}
}

type hop struct {
	id        agents.AgentID
	depth     int
	magnitude float64
}

// Spread runs one breadth-first pass of rumor id starting at the origin.
// Agents already in the rumor's visited set are never revisited. Each node
// accepts at most MaxBranching new receivers and no hop goes past
// MaxDepth, which bounds the fan-out of a pass. A rumor that can reach nobody new is marked
// DECAYED. A rumor with an unknown candy kind is logged and dropped.
func (e *Engine) Spread(id uint64, pop Population, rng *rand.Rand) ([]Reception, error) {
	r := e.active[id]
	if r == nil {
		return nil, fmt.Errorf("rumor %d not active", id)
	}
	if err := r.Validate(); err != nil {
		slog.Warn("dropping malformed rumor", "rumor", r.ID, "error", err)
		e.Remove(r.ID)
		return nil, err
	}
	if r.State == StateDecayed {
		return nil, nil
	}
	origin := pop.Agent(r.Origin)
	if origin == nil {
		e.Remove(r.ID)
		return nil, fmt.Errorf("rumor %d: origin %d missing", r.ID, r.Origin)
	}
	if _, ok := r.Visited[r.Origin]; !ok {
		r.Visited[r.Origin] = 0
		origin.Hear(r.ID)
	}
	r.State = StatePropagating

	// Every visited agent below the depth limit is a starting point, so a
	// later pass continues where earlier unlucky rolls stopped.
	var queue []hop
	for _, aid := range agents.SortIDs(r.Visited) {
		if d := r.Visited[aid]; d < r.MaxDepth {
			queue = append(queue, hop{id: aid, depth: d, magnitude: r.Payload.Magnitude})
		}
	}

	var got []Reception
	open := false
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= r.MaxDepth {
			continue
		}
		sender := pop.Agent(cur.id)
		if sender == nil {
			continue
		}
		accepted := 0
		for _, n := range e.neighbours(sender, pop) {
			if _, seen := r.Visited[n.id]; seen {
				continue
			}
			if accepted >= e.cfg.MaxBranching {
				open = true
				break
			}
			chance := e.cfg.SpreadChance * pop.Affinity(cur.id, n.id)
			if n.overheard {
				chance = e.cfg.OverhearChance
			}
			if rng.Float64() >= chance {
				open = true
				continue
			}
			recv := pop.Agent(n.id)
			if recv == nil {
				continue
			}
			mag := e.mutate(cur.magnitude, rng)
			p := r.Payload
			p.Magnitude = mag
			Apply(recv, r.Kind, p, r.Believability)
			recv.Hear(r.ID)

			r.Visited[n.id] = cur.depth + 1
			accepted++
			got = append(got, Reception{Agent: n.id, From: cur.id, Depth: cur.depth + 1, Magnitude: mag, Overheard: n.overheard})
			queue = append(queue, hop{id: n.id, depth: cur.depth + 1, magnitude: mag})
		}
	}
	if !open {
		r.State = StateDecayed
	}
	return got, nil
}

type neighbour struct {
	id        agents.AgentID
	overheard bool
}

// neighbours lists social contacts first, then nearby strangers, each in
// ascending id order.
func (e *Engine) neighbours(a *agents.Agent, pop Population) []neighbour {
	out := make([]neighbour, 0, len(a.Social))
	seen := make(map[agents.AgentID]struct{}, len(a.Social))
	for _, id := range a.SocialIDs() {
		out = append(out, neighbour{id: id})
		seen[id] = struct{}{}
	}
	if e.cfg.HearRadius > 0 && e.cfg.OverhearChance > 0 {
		for _, id := range pop.Nearby(a.ID, e.cfg.HearRadius) {
			if _, ok := seen[id]; ok || id == a.ID {
				continue
			}
			out = append(out, neighbour{id: id, overheard: true})
		}
	}
	return out
}

// mutate nudges magnitude by a bounded random amount.
func (e *Engine) mutate(m float64, rng *rand.Rand) float64 {
	if e.cfg.MutateAmount <= 0 {
		return m
	}
	m += (rng.Float64()*2 - 1) * e.cfg.MutateAmount
	if e.cfg.MaxMagnitude > 0 {
		m = clamp(m, -e.cfg.MaxMagnitude, e.cfg.MaxMagnitude)
	}
	return m
}

// Decay ages every active rumor by dt ticks and lowers believability on its
// kind's half-life. Rumors that reach zero believability, exceed MaxAge, or
// were exhausted by spreading are removed and returned.
func (e *Engine) Decay(dt uint64) []*Rumor {
	var gone []*Rumor
	for _, r := range e.Active() {
		r.Age += dt
		r.Believability *= decayFactor(float64(dt), e.cfg.HalfLife[r.Kind])
		if r.Believability < e.cfg.Epsilon {
			r.Believability = 0
		}
		if r.Believability == 0 || (e.cfg.MaxAge > 0 && r.Age >= e.cfg.MaxAge) {
			r.State = StateDecayed
		}
		if r.State == StateDecayed {
			e.Remove(r.ID)
			gone = append(gone, r)
		}
	}
	return gone
}
