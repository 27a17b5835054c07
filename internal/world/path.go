package world

import (
	"container/heap"
	"math"
)

// NavGrid is a coarse walkability grid used to route agents around houses.
// A nil *NavGrid routes nothing and agents walk in straight lines.
type NavGrid struct {
	cell    float64
	radius  float64
	cols    int
	rows    int
	blocked []bool
}

// NewNavGrid marks every cell whose centre lies within radius of a house.
// It returns nil when cell is not positive.
func NewNavGrid(m *Map, cell, radius float64) *NavGrid {
	if m == nil || cell <= 0 || m.Width <= 0 || m.Height <= 0 {
		return nil
	}
	g := &NavGrid{
		cell:   cell,
		radius: radius,
		cols:   int(math.Ceil(m.Width / cell)),
		rows:   int(math.Ceil(m.Height / cell)),
	}
	g.blocked = make([]bool, g.cols*g.rows)
	if radius <= 0 {
		return g
	}
	for _, h := range m.SortedHouses() {
		c0, r0 := g.cellOf(Vec2{X: h.Pos.X - radius, Y: h.Pos.Y - radius})
		c1, r1 := g.cellOf(Vec2{X: h.Pos.X + radius, Y: h.Pos.Y + radius})
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				if Distance(g.center(c, r), h.Pos) <= radius {
					g.blocked[r*g.cols+c] = true
				}
			}
		}
	}
	return g
}

// Blocked reports whether p falls inside a house footprint.
func (g *NavGrid) Blocked(p Vec2) bool {
	if g == nil {
		return false
	}
	c, r := g.cellOf(p)
	return g.blocked[r*g.cols+c]
}

func (g *NavGrid) cellOf(p Vec2) (int, int) {
	c := int(math.Floor(p.X / g.cell))
	r := int(math.Floor(p.Y / g.cell))
	return min(max(c, 0), g.cols-1), min(max(r, 0), g.rows-1)
}

func (g *NavGrid) center(c, r int) Vec2 {
	return Vec2{X: (float64(c) + 0.5) * g.cell, Y: (float64(r) + 0.5) * g.cell}
}

// endpoints lets a walk leave the footprint it starts in and enter the one
// it ends in. Agents stand on a house after visiting it.
type endpoints struct {
	pts   []Vec2
	reach float64
}

func (g *NavGrid) passable(idx int, ep endpoints) bool {
	if !g.blocked[idx] {
		return true
	}
	ctr := g.center(idx%g.cols, idx/g.cols)
	for _, p := range ep.pts {
		if Distance(ctr, p) <= ep.reach {
			return true
		}
	}
	return false
}

// clear samples the segment a-b at half-cell steps.
func (g *NavGrid) clear(a, b Vec2, ep endpoints) bool {
	steps := int(math.Ceil(Distance(a, b)/(g.cell/2))) + 1
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		c, r := g.cellOf(Vec2{X: a.X + (b.X-a.X)*f, Y: a.Y + (b.Y-a.Y)*f})
		if !g.passable(r*g.cols+c, ep) {
			return false
		}
	}
	return true
}

// Route returns waypoints from from to to that avoid house footprints. The
// last waypoint is to itself. It returns nil when the straight line is
// already clear or when no route exists; either way the caller walks
// straight.
func (g *NavGrid) Route(from, to Vec2) []Vec2 {
	if g == nil {
		return nil
	}
	ep := endpoints{reach: g.radius + g.cell}
	if g.Blocked(from) {
		ep.pts = append(ep.pts, from)
	}
	if g.Blocked(to) {
		ep.pts = append(ep.pts, to)
	}
	if g.clear(from, to, ep) {
		return nil
	}
	cells := g.search(from, to, ep)
	if len(cells) == 0 {
		return nil
	}
	pts := make([]Vec2, 0, len(cells))
	for _, idx := range cells[1:] {
		pts = append(pts, g.center(idx%g.cols, idx/g.cols))
	}
	if len(pts) == 0 {
		return nil
	}
	pts[len(pts)-1] = to
	return g.smooth(from, pts, ep)
}

// smooth keeps only the waypoints needed to stay in line of sight.
func (g *NavGrid) smooth(from Vec2, pts []Vec2, ep endpoints) []Vec2 {
	var out []Vec2
	anchor := from
	for i := 0; i < len(pts); {
		j := len(pts) - 1
		for j > i && !g.clear(anchor, pts[j], ep) {
			j--
		}
		out = append(out, pts[j])
		anchor = pts[j]
		i = j + 1
	}
	return out
}

var steps8 = [8][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}

// search runs A* over cell indices with octile costs. Diagonal moves may
// not cut a blocked corner. It returns the cell path including both ends.
func (g *NavGrid) search(from, to Vec2, ep endpoints) []int {
	sc, sr := g.cellOf(from)
	tc, tr := g.cellOf(to)
	start, goal := sr*g.cols+sc, tr*g.cols+tc

	n := g.cols * g.rows
	cost := make([]float64, n)
	prev := make([]int, n)
	done := make([]bool, n)
	for i := range cost {
		cost[i] = math.Inf(1)
		prev[i] = -1
	}
	octile := func(c, r int) float64 {
		dx, dy := math.Abs(float64(c-tc)), math.Abs(float64(r-tr))
		return dx + dy + (math.Sqrt2-2)*math.Min(dx, dy)
	}

	cost[start] = 0
	open := &openSet{{idx: start, f: octile(sc, sr)}}
	for open.Len() > 0 {
		cur := heap.Pop(open).(openNode)
		if done[cur.idx] {
			continue
		}
		if cur.idx == goal {
			var path []int
			for i := goal; i != -1; i = prev[i] {
				path = append(path, i)
			}
			for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
				path[l], path[r] = path[r], path[l]
			}
			return path
		}
		done[cur.idx] = true
		c, r := cur.idx%g.cols, cur.idx/g.cols
		for _, s := range steps8 {
			nc, nr := c+s[0], r+s[1]
			if nc < 0 || nr < 0 || nc >= g.cols || nr >= g.rows {
				continue
			}
			ni := nr*g.cols + nc
			if done[ni] || !g.passable(ni, ep) {
				continue
			}
			step := 1.0
			if s[0] != 0 && s[1] != 0 {
				if !g.passable(r*g.cols+nc, ep) || !g.passable(nr*g.cols+c, ep) {
					continue
				}
				step = math.Sqrt2
			}
			if alt := cost[cur.idx] + step; alt < cost[ni] {
				cost[ni] = alt
				prev[ni] = cur.idx
				heap.Push(open, openNode{idx: ni, f: alt + octile(nc, nr)})
			}
		}
	}
	return nil
}

type openNode struct {
	idx int
	f   float64
}

// openSet is a min-heap on f, ties broken by cell index.
type openSet []openNode

func (s openSet) Len() int { return len(s) }
func (s openSet) Less(i, j int) bool {
	if s[i].f != s[j].f {
		return s[i].f < s[j].f
	}
	return s[i].idx < s[j].idx
}
func (s openSet) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s *openSet) Push(x any) { *s = append(*s, x.(openNode)) }
func (s *openSet) Pop() any {
	old := *s
	n := len(old)
	x := old[n-1]
	*s = old[:n-1]
	return x
}
