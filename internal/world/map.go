package world

import (
	"fmt"
	"sort"

	"github.com/talgya/candy-cartel/internal/candy"
)

// HouseID is a unique identifier for a house.
type HouseID uint64

// House dispenses candy to visiting agents. Curse and bless powers
// temporarily change how much it gives out.
type House struct {
	ID      HouseID      `json:"id"`
	Pos     Vec2         `json:"pos"`
	Kinds   []candy.Kind `json:"kinds"`
	Quality float64      `json:"quality"` // 0.5–1.5 base multiplier from layout noise
	Mansion bool         `json:"mansion,omitempty"`

	CurseTicks uint64  `json:"curse_ticks,omitempty"`
	BlessTicks uint64  `json:"bless_ticks,omitempty"`
	Multiplier float64 `json:"multiplier"` // Power multiplier, 1.0 when unaffected
	Cooldown   uint64  `json:"cooldown,omitempty"`
}

// Power multipliers applied by the supply powers.
const (
	CurseMultiplier = 0.3
	BlessMultiplier = 2.5
)

// DispenseCooldown is how many fast ticks a house rests between visitors.
const DispenseCooldown = 30

// Curse lowers the house's output for duration ticks. A curse replaces a bless.
func (h *House) Curse(duration uint64) {
	h.BlessTicks = 0
	h.CurseTicks = duration
	h.Multiplier = CurseMultiplier
}

// Bless raises the house's output for duration ticks. A bless replaces a curse.
func (h *House) Bless(duration uint64) {
	h.CurseTicks = 0
	h.BlessTicks = duration
	h.Multiplier = BlessMultiplier
}

// Cursed reports whether a curse is active.
func (h *House) Cursed() bool { return h.CurseTicks > 0 }

// Blessed reports whether a bless is active.
func (h *House) Blessed() bool { return h.BlessTicks > 0 }

// Tick advances power and cooldown timers by one fast tick.
// Returns true when a power expired this tick.
func (h *House) Tick() bool {
	if h.Cooldown > 0 {
		h.Cooldown--
	}
	expired := false
	if h.CurseTicks > 0 {
		h.CurseTicks--
		expired = h.CurseTicks == 0
	}
	if h.BlessTicks > 0 {
		h.BlessTicks--
		expired = expired || h.BlessTicks == 0
	}
	if h.CurseTicks == 0 && h.BlessTicks == 0 {
		h.Multiplier = 1.0
	}
	return expired
}

// Available reports whether the house can serve a visitor now.
func (h *House) Available() bool {
	return h.Cooldown == 0
}

// Dispense hands out 1–3 pieces per kind scaled by quality and power,
// never less than one piece per kind. Returns an empty inventory while
// the house is cooling down.
func (h *House) Dispense(roll func(n int) int) candy.Inventory {
	var out candy.Inventory
	if !h.Available() {
		return out
	}
	h.Cooldown = DispenseCooldown
	for _, k := range h.Kinds {
		base := 1 + roll(3)
		qty := int(float64(base) * h.Quality * h.Multiplier)
		if qty < 1 {
			qty = 1
		}
		out[k] += qty
	}
	return out
}

// Attraction scores how appealing the house is from pos, 0.0–1.0.
// Cursed houses are avoided, blessed houses draw crowds.
func (h *House) Attraction(pos Vec2, radius float64) float64 {
	d := Distance(h.Pos, pos)
	if d > radius {
		return 0
	}
	a := (1.0 - d/radius) * h.Quality
	if h.Blessed() {
		a *= 1.5
	}
	if h.Cursed() {
		a *= 0.3
	}
	if a > 1 {
		a = 1
	}
	return a
}

// Map holds the neighbourhood: its bounds and houses.
type Map struct {
	Width  float64            `json:"width"`
	Height float64            `json:"height"`
	Houses map[HouseID]*House `json:"-"`
}

// NewMap creates an empty map with the given bounds.
func NewMap(width, height float64) *Map {
	return &Map{
		Width:  width,
		Height: height,
		Houses: make(map[HouseID]*House),
	}
}

// Get returns the house with the given ID, or nil.
func (m *Map) Get(id HouseID) *House {
	return m.Houses[id]
}

// Set places a house on the map.
func (m *Map) Set(h *House) {
	m.Houses[h.ID] = h
}

// SortedHouses returns houses in ascending ID order.
func (m *Map) SortedHouses() []*House {
	out := make([]*House, 0, len(m.Houses))
	for _, h := range m.Houses {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HouseCount returns the number of houses.
func (m *Map) HouseCount() int {
	return len(m.Houses)
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(%.0fx%.0f, houses=%d)", m.Width, m.Height, m.HouseCount())
}
