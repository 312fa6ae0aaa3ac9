// Package curves turns connected components of critical point elements
// into ordered trajectories.
package curves

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/mesh"
)

// Neighbors returns the elements adjacent to id. Only neighbors inside
// the component being linearized are used.
type Neighbors func(id mesh.ElementID) []mesh.ElementID

// MeshNeighbors is the two-hop mesh adjacency: the other sides of every
// coface of id. Malformed IDs have no neighbors.
func MeshNeighbors(id mesh.ElementID) []mesh.ElementID {
	s, err := mesh.ParseID(id)
	if err != nil {
		return nil
	}
	var out []mesh.ElementID
	seen := map[mesh.ElementID]bool{id: true}
	for _, coface := range s.SideOf() {
		for _, side := range coface.Sides() {
			sid := side.ID()
			if !seen[sid] {
				seen[sid] = true
				out = append(out, sid)
			}
		}
	}
	return out
}

// Linearizer decomposes components into maximal simple paths
type Linearizer struct {
	Neighbors Neighbors
	// Curves whose maximum value does not exceed Threshold are dropped
	Threshold float64
}

// New returns a linearizer using the mesh adjacency
func New(threshold float64) *Linearizer {
	return &Linearizer{Neighbors: MeshNeighbors, Threshold: threshold}
}

// Linearize returns the curves of every component, in component order
func (l *Linearizer) Linearize(comps []feature.Component) []feature.Trajectory {
	var out []feature.Trajectory
	for _, c := range comps {
		out = append(out, l.Component(c.Members)...)
	}
	return out
}

// Component decomposes the neighbor graph induced on members into
// paths. Vertices of degree other than two end paths, what is left are
// pure cycles, emitted as closed curves. Isolated members become single
// point curves.
func (l *Linearizer) Component(members []feature.Intersection) []feature.Trajectory {
	sorted := append([]feature.Intersection(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	index := make(map[mesh.ElementID]int64, len(sorted))
	for i, in := range sorted {
		index[in.ID] = int64(i)
	}

	g := simple.NewUndirectedGraph()
	for i := range sorted {
		g.AddNode(simple.Node(i))
	}
	for i, in := range sorted {
		for _, nid := range l.Neighbors(in.ID) {
			j, ok := index[nid]
			if !ok || j == int64(i) || g.HasEdgeBetween(int64(i), j) {
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
		}
	}

	w := walker{g: g, visited: make(map[[2]int64]bool)}
	var paths [][]int64
	var closed []bool
	for u := int64(0); u < int64(len(sorted)); u++ {
		nbrs := w.neighbors(u)
		switch {
		case len(nbrs) == 0:
			paths, closed = append(paths, []int64{u}), append(closed, false)
		case len(nbrs) != 2:
			for _, v := range nbrs {
				if !w.visited[key(u, v)] {
					paths, closed = append(paths, w.walk(u, v)), append(closed, false)
				}
			}
		}
	}
	for u := int64(0); u < int64(len(sorted)); u++ {
		for _, v := range w.neighbors(u) {
			if !w.visited[key(u, v)] {
				paths, closed = append(paths, w.walk(u, v)), append(closed, true)
			}
		}
	}

	var out []feature.Trajectory
	for i, p := range paths {
		ins := make([]feature.Intersection, 0, len(p))
		last := len(p)
		if closed[i] {
			// the walk ends where it started, NewTrajectory closes the curve
			last--
		}
		for _, n := range p[:last] {
			ins = append(ins, sorted[n])
		}
		tr := feature.NewTrajectory(ins, closed[i])
		if tr.MaxValue() > l.Threshold {
			out = append(out, tr)
		}
	}
	return out
}

type walker struct {
	g       *simple.UndirectedGraph
	visited map[[2]int64]bool
}

func key(u, v int64) [2]int64 {
	if v < u {
		u, v = v, u
	}
	return [2]int64{u, v}
}

// neighbors returns the sorted neighbors of u
func (w *walker) neighbors(u int64) []int64 {
	nodes := graph.NodesOf(w.g.From(u))
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// walk follows unvisited edges from u through v and on through degree
// two vertices until it reaches any other vertex or runs out of edges
func (w *walker) walk(u, v int64) []int64 {
	path := []int64{u}
	w.visited[key(u, v)] = true
	for {
		path = append(path, v)
		nbrs := w.neighbors(v)
		if len(nbrs) != 2 {
			return path
		}
		next := int64(-1)
		for _, n := range nbrs {
			if !w.visited[key(v, n)] {
				next = n
				break
			}
		}
		if next < 0 {
			return path
		}
		w.visited[key(v, next)] = true
		v = next
	}
}
