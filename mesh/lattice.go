package mesh

import (
	"fmt"
)

// NDims is the dimensionality of the space-time lattice (x, y, t)
const NDims = 3

// Lattice is an axis aligned box of integer lattice points.
// Points p with Start[i] <= p[i] <= Start[i]+Size[i]-1 belong to the lattice.
type Lattice struct {
	Start [NDims]int
	Size  [NDims]int
}

// NewLattice builds a lattice from inclusive lower and upper bounds
func NewLattice(lower, upper [NDims]int) Lattice {
	var l Lattice
	for i := 0; i < NDims; i++ {
		l.Start[i] = lower[i]
		l.Size[i] = upper[i] - lower[i] + 1
		if l.Size[i] < 0 {
			l.Size[i] = 0
		}
	}
	return l
}

// Lower returns the first lattice coordinate along axis i
func (l Lattice) Lower(i int) int { return l.Start[i] }

// Upper returns the last (inclusive) lattice coordinate along axis i
func (l Lattice) Upper(i int) int { return l.Start[i] + l.Size[i] - 1 }

// Empty reports whether the lattice holds no points
func (l Lattice) Empty() bool {
	for i := 0; i < NDims; i++ {
		if l.Size[i] <= 0 {
			return true
		}
	}
	return false
}

// NumPoints returns the number of lattice points
func (l Lattice) NumPoints() int {
	if l.Empty() {
		return 0
	}
	n := 1
	for i := 0; i < NDims; i++ {
		n *= l.Size[i]
	}
	return n
}

// Contains reports whether point p lies inside the lattice
func (l Lattice) Contains(p [NDims]int) bool {
	for i := 0; i < NDims; i++ {
		if p[i] < l.Lower(i) || p[i] > l.Upper(i) {
			return false
		}
	}
	return true
}

// Expand grows the lattice by w[i] points on both sides of axis i
func (l Lattice) Expand(w [NDims]int) Lattice {
	out := l
	for i := 0; i < NDims; i++ {
		out.Start[i] -= w[i]
		out.Size[i] += 2 * w[i]
	}
	return out
}

// Intersect clips the lattice to o
func (l Lattice) Intersect(o Lattice) Lattice {
	var lower, upper [NDims]int
	for i := 0; i < NDims; i++ {
		lower[i] = max(l.Lower(i), o.Lower(i))
		upper[i] = min(l.Upper(i), o.Upper(i))
	}
	return NewLattice(lower, upper)
}

func (l Lattice) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d, %d:%d]",
		l.Lower(0), l.Upper(0), l.Lower(1), l.Upper(1), l.Lower(2), l.Upper(2))
}
