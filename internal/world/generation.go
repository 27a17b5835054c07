// Neighbourhood generation using layered simplex noise.
// A density field decides which lots get a house; a second field sets
// each house's candy quality.
package world

import (
	"math"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/candy-cartel/internal/candy"
)

// GenConfig holds layout generation parameters.
type GenConfig struct {
	Width    float64 // Map width in world units
	Height   float64 // Map height in world units
	LotSize  float64 // Spacing between candidate house lots
	Houses   int     // Target number of houses
	Seed     int64   // Random seed (0 = random)
	Density  float64 // Noise threshold a lot must exceed to be built (0.0–1.0)
}

// DefaultGenConfig returns a reasonable neighbourhood.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:   2000,
		Height:  2000,
		LotSize: 160,
		Houses:  24,
		Seed:    0,
		Density: 0.35,
	}
}

// Generate lays out houses on a jittered lot grid, keeping the lots with the
// highest density noise until the target count is reached.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed + 200))

	densityNoise := opensimplex.NewNormalized(seed)
	qualityNoise := opensimplex.NewNormalized(seed + 1)

	m := NewMap(cfg.Width, cfg.Height)

	type lot struct {
		pos     Vec2
		density float64
	}
	var lots []lot
	margin := cfg.LotSize / 2
	for y := margin; y < cfg.Height-margin; y += cfg.LotSize {
		for x := margin; x < cfg.Width-margin; x += cfg.LotSize {
			d := octaveNoise(densityNoise, x, y, 3, 0.002, 0.5)
			if d < cfg.Density {
				continue
			}
			jitter := cfg.LotSize * 0.25
			p := Vec2{
				X: x + (rng.Float64()*2-1)*jitter,
				Y: y + (rng.Float64()*2-1)*jitter,
			}
			lots = append(lots, lot{pos: p.Clamp(cfg.Width, cfg.Height), density: d})
		}
	}

	// Densest lots first; ties keep grid order so layout is stable per seed.
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].density > lots[j].density })
	if len(lots) > cfg.Houses {
		lots = lots[:cfg.Houses]
	}

	var id HouseID
	for _, l := range lots {
		id++
		q := octaveNoise(qualityNoise, l.pos.X, l.pos.Y, 2, 0.004, 0.5)
		h := &House{
			ID:         id,
			Pos:        l.pos,
			Quality:    0.5 + q,
			Multiplier: 1.0,
			Kinds:      houseKinds(rng),
		}
		if h.Quality > 1.3 {
			h.Mansion = true
		}
		m.Set(h)
	}
	return m
}

// houseKinds picks 1–2 distinct dispensable kinds. Houses never hand out trash.
func houseKinds(rng *rand.Rand) []candy.Kind {
	n := 1 + rng.Intn(2)
	perm := rng.Perm(candy.NumKinds - 1)
	kinds := make([]candy.Kind, 0, n)
	for _, p := range perm[:n] {
		kinds = append(kinds, candy.Kind(p))
	}
	return kinds
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// SpawnPoint finds a position at least minDist away from every house.
// Falls back to the map centre after maxAttempts.
func SpawnPoint(m *Map, rng *rand.Rand, minDist float64, maxAttempts int) Vec2 {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		p := Vec2{
			X: 50 + rng.Float64()*math.Max(1, m.Width-100),
			Y: 50 + rng.Float64()*math.Max(1, m.Height-100),
		}
		ok := true
		for _, h := range m.Houses {
			if Distance(p, h.Pos) < minDist {
				ok = false
				break
			}
		}
		if ok {
			return p
		}
	}
	return Vec2{X: m.Width / 2, Y: m.Height / 2}
}
