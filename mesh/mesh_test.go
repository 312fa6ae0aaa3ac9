package mesh

import (
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesCounts(t *testing.T) {
	assert.Len(t, Types(0), 1)
	assert.Len(t, Types(1), 7)
	assert.Len(t, Types(2), 12)
	assert.Len(t, Types(3), 6)
}

func TestIDRoundTrip(t *testing.T) {
	for dim := 0; dim <= NDims; dim++ {
		for _, chain := range Types(dim) {
			s := Simplex{Dim: dim, Corner: [NDims]int{4, -1, 12}, Masks: chain}
			got, err := ParseID(s.ID())
			require.NoError(t, err)
			assert.Equal(t, s, got)
		}
	}
}

func TestParseIDErrors(t *testing.T) {
	bad := []ElementID{"", "2:1,2:1,2", "2:1,2,3:1", "2:1,2,3:3,3", "x:1,2,3:1,2", "0:1,2,3:1"}
	for _, id := range bad {
		_, err := ParseID(id)
		assert.ErrorIs(t, err, ErrMalformedID, "id %q", id)
	}
}

func TestSidesAndSideOfAreDual(t *testing.T) {
	// Every coface of a triangle must list the triangle among its sides
	for _, chain := range Types(2) {
		tri := Simplex{Dim: 2, Corner: [NDims]int{5, 5, 5}, Masks: chain}
		cofaces := tri.SideOf()
		// interior triangles of a 3D triangulation have exactly two cofaces
		assert.Len(t, cofaces, 2, "triangle %s", tri)
		for _, tet := range cofaces {
			found := false
			for _, side := range tet.Sides() {
				if side == tri {
					found = true
				}
			}
			assert.True(t, found, "tet %s does not contain %s", tet, tri)
		}
	}
}

func TestSidesVertices(t *testing.T) {
	tet, err := NewSimplex([NDims]int{0, 0, 0}, 1, 2, 4)
	require.NoError(t, err)
	verts := tet.Vertices()
	require.Len(t, verts, 4)
	assert.Equal(t, [NDims]int{1, 1, 1}, verts[3])

	sides := tet.Sides()
	require.Len(t, sides, 4)
	for i, side := range sides {
		sv := side.Vertices()
		// side i is the tet without vertex i
		var want [][NDims]int
		for j, v := range verts {
			if j != i {
				want = append(want, v)
			}
		}
		assert.Equal(t, want, sv, "side %d", i)
	}
}

func TestNewSimplexRejectsOverlap(t *testing.T) {
	_, err := NewSimplex([NDims]int{}, 3, 1)
	assert.Error(t, err)
	_, err = NewSimplex([NDims]int{}, 0)
	assert.Error(t, err)
}

func TestElementForCounts(t *testing.T) {
	m := New(NewLattice([NDims]int{0, 0, 0}, [NDims]int{2, 2, 2}))

	var tets, tris int
	m.ElementFor(3, func(Simplex) { tets++ })
	m.ElementFor(2, func(Simplex) { tris++ })
	// 2x2x2 cubes with 6 tets each
	assert.Equal(t, 48, tets)

	// each tet has 4 faces; interior faces are shared by two tets
	var boundary int
	m.ElementFor(2, func(s Simplex) {
		n := 0
		for _, c := range s.SideOf() {
			if m.Valid(c) {
				n++
			}
		}
		if n == 1 {
			boundary++
		}
	})
	assert.Equal(t, 4*tets, 2*tris-boundary)
}

func TestElementForParallelMatchesSerial(t *testing.T) {
	m := New(NewLattice([NDims]int{1, 2, 0}, [NDims]int{6, 5, 4}))
	var serial []string
	m.ElementFor(2, func(s Simplex) { serial = append(serial, string(s.ID())) })

	var count atomic.Int64
	seen := make(chan string, len(serial))
	m.ElementForParallel(2, 4, func(s Simplex) {
		count.Add(1)
		seen <- string(s.ID())
	})
	close(seen)
	var parallel []string
	for id := range seen {
		parallel = append(parallel, id)
	}
	sort.Strings(serial)
	sort.Strings(parallel)
	assert.Equal(t, int64(len(serial)), count.Load())
	assert.Equal(t, serial, parallel)
}

func TestLatticeOps(t *testing.T) {
	l := NewLattice([NDims]int{2, 2, 0}, [NDims]int{10, 5, 3})
	assert.Equal(t, 9*4*4, l.NumPoints())
	assert.True(t, l.Contains([NDims]int{10, 5, 3}))
	assert.False(t, l.Contains([NDims]int{11, 5, 3}))

	g := l.Expand([NDims]int{1, 1, 1})
	assert.Equal(t, 1, g.Lower(0))
	assert.Equal(t, 11, g.Upper(0))

	c := g.Intersect(NewLattice([NDims]int{0, 0, 0}, [NDims]int{10, 10, 3}))
	assert.Equal(t, NewLattice([NDims]int{1, 1, 0}, [NDims]int{10, 6, 3}), c)

	empty := l.Intersect(NewLattice([NDims]int{20, 20, 20}, [NDims]int{21, 21, 21}))
	assert.True(t, empty.Empty())
	assert.Equal(t, 0, empty.NumPoints())
}
