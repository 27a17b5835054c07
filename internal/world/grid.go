package world

import "sort"

// SpatialGrid buckets integer-keyed points into square cells for
// radius queries. Rebuilt from scratch every fast tick.
type SpatialGrid struct {
	cellSize float64
	cells    map[[2]int][]gridEntry
}

type gridEntry struct {
	id  uint64
	pos Vec2
}

// NewSpatialGrid creates an empty grid.
func NewSpatialGrid(cellSize float64) *SpatialGrid {
	if cellSize <= 0 {
		cellSize = 100
	}
	return &SpatialGrid{
		cellSize: cellSize,
		cells:    make(map[[2]int][]gridEntry),
	}
}

func (g *SpatialGrid) key(p Vec2) [2]int {
	return [2]int{int(p.X / g.cellSize), int(p.Y / g.cellSize)}
}

// Clear removes all entries.
func (g *SpatialGrid) Clear() {
	for k := range g.cells {
		delete(g.cells, k)
	}
}

// Insert adds a point.
func (g *SpatialGrid) Insert(id uint64, p Vec2) {
	k := g.key(p)
	g.cells[k] = append(g.cells[k], gridEntry{id: id, pos: p})
}

// Nearby returns the IDs within radius of p in ascending order.
func (g *SpatialGrid) Nearby(p Vec2, radius float64) []uint64 {
	span := int(radius/g.cellSize) + 1
	c := g.key(p)
	var out []uint64
	for dx := -span; dx <= span; dx++ {
		for dy := -span; dy <= span; dy++ {
			for _, e := range g.cells[[2]int{c[0] + dx, c[1] + dy}] {
				if Distance(e.pos, p) <= radius {
					out = append(out, e.id)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
