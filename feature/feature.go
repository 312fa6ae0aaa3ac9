package feature

import (
	"sort"
	"sync"

	"github.com/notargets/CPTrack/mesh"
)

// Intersection is a critical point found inside a 2-simplex
type Intersection struct {
	ID  mesh.ElementID `json:"eid"`
	X   [3]float64     `json:"x"` // x, y, t
	Val float64        `json:"val"`
}

// Store is the intersection map shared by scanner threads. Insertion is
// guarded by a single mutex.
type Store struct {
	mu    sync.RWMutex
	items map[mesh.ElementID]Intersection
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{items: make(map[mesh.ElementID]Intersection)}
}

// Insert records an intersection, keeping the first record for an ID
func (s *Store) Insert(in Intersection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[in.ID]; ok {
		return false
	}
	s.items[in.ID] = in
	return true
}

// Get returns the intersection for id
func (s *Store) Get(id mesh.ElementID) (Intersection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.items[id]
	return in, ok
}

// Has reports whether id carries an intersection
func (s *Store) Has(id mesh.ElementID) bool {
	_, ok := s.Get(id)
	return ok
}

// Len returns the number of intersections
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Sorted returns all intersections ordered by ID
func (s *Store) Sorted() []Intersection {
	s.mu.RLock()
	out := make([]Intersection, 0, len(s.items))
	for _, in := range s.items {
		out = append(out, in)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Component is a connected set of intersections, keyed by its root
type Component struct {
	Root    mesh.ElementID `json:"root"`
	Members []Intersection `json:"members"`
}

// IDs returns the sorted member IDs
func (c Component) IDs() []mesh.ElementID {
	ids := make([]mesh.ElementID, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Point is one trajectory sample
type Point struct {
	X, Y, T, Val float64
}

// Trajectory is an ordered curve of critical points. A closed curve
// repeats its first point at the end.
type Trajectory struct {
	Points []Point
	Closed bool
}

// NewTrajectory builds a curve from ordered intersections
func NewTrajectory(ins []Intersection, closed bool) Trajectory {
	tr := Trajectory{Points: make([]Point, 0, len(ins)+1), Closed: closed}
	for _, in := range ins {
		tr.Points = append(tr.Points, Point{X: in.X[0], Y: in.X[1], T: in.X[2], Val: in.Val})
	}
	if closed && len(ins) > 0 {
		tr.Points = append(tr.Points, tr.Points[0])
	}
	return tr
}

// MaxValue returns the largest scalar value along the curve
func (tr Trajectory) MaxValue() float64 {
	if len(tr.Points) == 0 {
		return 0
	}
	m := tr.Points[0].Val
	for _, p := range tr.Points[1:] {
		m = max(m, p.Val)
	}
	return m
}

// Flatten returns x, y, t, value for every point
func (tr Trajectory) Flatten() []float32 {
	out := make([]float32, 0, 4*len(tr.Points))
	for _, p := range tr.Points {
		out = append(out, float32(p.X), float32(p.Y), float32(p.T), float32(p.Val))
	}
	return out
}

// Unflatten is the inverse of Flatten
func Unflatten(coords []float32) Trajectory {
	tr := Trajectory{Points: make([]Point, 0, len(coords)/4)}
	for i := 0; i+3 < len(coords); i += 4 {
		tr.Points = append(tr.Points, Point{
			X: float64(coords[i]), Y: float64(coords[i+1]),
			T: float64(coords[i+2]), Val: float64(coords[i+3]),
		})
	}
	if n := len(tr.Points); n > 1 && tr.Points[0] == tr.Points[n-1] {
		tr.Closed = true
	}
	return tr
}
