package mesh

import (
	"sync"
)

// Mesh is the Freudenthal simplex mesh over a lattice. It is a read-only
// spatial index: elements are computed from IDs on demand.
type Mesh struct {
	Lattice Lattice
}

// New returns the mesh covering lattice l
func New(l Lattice) *Mesh {
	return &Mesh{Lattice: l}
}

// Valid reports whether every vertex of s lies in the mesh lattice
func (m *Mesh) Valid(s Simplex) bool {
	for _, v := range s.Vertices() {
		if !m.Lattice.Contains(v) {
			return false
		}
	}
	return true
}

// ElementFor calls fn for every valid dim-simplex anchored in the lattice
func (m *Mesh) ElementFor(dim int, fn func(Simplex)) {
	m.elementForRange(dim, m.Lattice.Lower(2), m.Lattice.Upper(2), Types(dim), fn)
}

// ElementForParallel distributes the enumeration across nthreads
// goroutines by time slab. fn must be safe for concurrent use.
func (m *Mesh) ElementForParallel(dim, nthreads int, fn func(Simplex)) {
	if nthreads <= 1 || m.Lattice.Size[2] <= 1 {
		m.ElementFor(dim, fn)
		return
	}
	types := Types(dim)
	slabs := make(chan int, m.Lattice.Size[2])
	for k := m.Lattice.Lower(2); k <= m.Lattice.Upper(2); k++ {
		slabs <- k
	}
	close(slabs)

	var wg sync.WaitGroup
	for w := 0; w < nthreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range slabs {
				m.elementForRange(dim, k, k, types, fn)
			}
		}()
	}
	wg.Wait()
}

func (m *Mesh) elementForRange(dim, kLo, kHi int, types [][NDims]uint8, fn func(Simplex)) {
	if m.Lattice.Empty() {
		return
	}
	l := m.Lattice
	for k := kLo; k <= kHi; k++ {
		for j := l.Lower(1); j <= l.Upper(1); j++ {
			for i := l.Lower(0); i <= l.Upper(0); i++ {
				for _, chain := range types {
					s := Simplex{Dim: dim, Corner: [NDims]int{i, j, k}, Masks: chain}
					if m.Valid(s) {
						fn(s)
					}
				}
			}
		}
	}
}
