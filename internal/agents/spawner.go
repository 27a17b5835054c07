// Agent spawning: creates the initial population with randomized
// personality, beliefs, preferences, stock, and goal.
package agents

import (
	"fmt"
	"math/rand"

	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/world"
)

// Spawner creates agents for the simulation.
type Spawner struct {
	rng    *rand.Rand
	table  Table
	nextID AgentID
}

// NewSpawner creates an agent spawner with the given seed and personality table.
func NewSpawner(seed int64, table Table) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		table:  table,
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring a snapshot).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnPopulation creates count agents placed on m and wires 2–4 social
// edges per agent.
func (s *Spawner) SpawnPopulation(count int, m *world.Map) []*Agent {
	out := make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		pos := world.SpawnPoint(m, s.rng, 40, 30)
		out = append(out, s.spawnOne(pos))
	}
	s.wireSocial(out)
	return out
}

func (s *Spawner) spawnOne(pos world.Vec2) *Agent {
	id := s.nextID
	s.nextID++

	kind := PersonalityKind(s.rng.Intn(int(NumPersonalities)))
	a := New(id, s.generateName(), pos, s.table.Of(kind))
	a.Speed = DefaultSpeed * (0.8 + s.rng.Float64()*0.4)

	// Chaotic phase: beliefs start anywhere in the middle of the range.
	for k := candy.Kind(0); k < candy.NumKinds; k++ {
		a.Beliefs[k] = ClampBelief(0.5 + s.rng.Float64()*9.0)
		a.Preferences[k] = s.rng.Float64()
	}
	a.Beliefs[candy.Trash] = ClampBelief(0.5 + s.rng.Float64()*1.5)
	a.Preferences[candy.Trash] = 0

	// Starting stock: 2–6 pieces, weighted by preference.
	pieces := 2 + s.rng.Intn(5)
	for i := 0; i < pieces; i++ {
		a.Inventory[s.pickPreferred(a)]++
	}

	a.Goal = s.randomGoal()
	return a
}

func (s *Spawner) pickPreferred(a *Agent) candy.Kind {
	total := 0.0
	for k := candy.Kind(0); k < candy.Trash; k++ {
		total += a.Preferences[k] + 0.05
	}
	r := s.rng.Float64() * total
	for k := candy.Kind(0); k < candy.Trash; k++ {
		r -= a.Preferences[k] + 0.05
		if r <= 0 {
			return k
		}
	}
	return candy.Chocolate
}

func (s *Spawner) randomGoal() Goal {
	switch s.rng.Intn(3) {
	case 0:
		k := candy.Kind(s.rng.Intn(int(candy.Trash)))
		return Goal{Kind: GoalCollectKind, Kinds: []candy.Kind{k}, Target: float64(4 + s.rng.Intn(5))}
	case 1:
		return Goal{Kind: GoalTradeCount, Target: float64(3 + s.rng.Intn(6))}
	default:
		return Goal{Kind: GoalAmassValue, Target: float64(40 + s.rng.Intn(41))}
	}
}

// wireSocial links each agent to 2–4 random others.
func (s *Spawner) wireSocial(pop []*Agent) {
	if len(pop) < 2 {
		return
	}
	for _, a := range pop {
		want := 2 + s.rng.Intn(3)
		for tries := 0; len(a.Social) < want && tries < want*4; tries++ {
			b := pop[s.rng.Intn(len(pop))]
			AddSocial(a, b)
		}
	}
}

var firstNames = []string{
	"Ada", "Benny", "Cleo", "Dex", "Edie", "Finn", "Gus", "Hattie", "Iggy", "Juno",
	"Kit", "Lulu", "Milo", "Nell", "Ozzie", "Pip", "Quinn", "Rosie", "Sid", "Tilly",
	"Ulla", "Vic", "Wren", "Xavi", "Yara", "Zeke",
}

var costumes = []string{
	"the Ghost", "the Witch", "the Pirate", "the Robot", "the Vampire", "the Mummy",
	"the Dino", "the Wizard", "the Ninja", "the Pumpkin", "the Skeleton", "the Bat",
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	return fmt.Sprintf("%s %s", first, costumes[s.rng.Intn(len(costumes))])
}
