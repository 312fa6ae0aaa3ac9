package curves

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/mesh"
)

// adjacency builds a symmetric neighbor function from an edge list
func adjacency(edges ...[2]mesh.ElementID) Neighbors {
	nb := make(map[mesh.ElementID][]mesh.ElementID)
	for _, e := range edges {
		nb[e[0]] = append(nb[e[0]], e[1])
		nb[e[1]] = append(nb[e[1]], e[0])
	}
	return func(id mesh.ElementID) []mesh.ElementID { return nb[id] }
}

func members(vals map[mesh.ElementID]float64) []feature.Intersection {
	var out []feature.Intersection
	i := 0.0
	for id, v := range vals {
		out = append(out, feature.Intersection{ID: id, X: [3]float64{i, 0, 0}, Val: v})
		i++
	}
	return out
}

// order returns the values along a curve, used to identify the members
func order(tr feature.Trajectory) []float64 {
	out := make([]float64, len(tr.Points))
	for i, p := range tr.Points {
		out[i] = p.Val
	}
	return out
}

func TestSimplePath(t *testing.T) {
	l := &Linearizer{Neighbors: adjacency([2]mesh.ElementID{"a", "b"}, [2]mesh.ElementID{"b", "c"}, [2]mesh.ElementID{"c", "d"})}
	curves := l.Component(members(map[mesh.ElementID]float64{"c": 3, "a": 1, "d": 4, "b": 2}))
	require.Len(t, curves, 1)
	assert.False(t, curves[0].Closed)
	got := order(curves[0])
	if got[0] != 1 {
		// either direction is a valid ordering
		for i, j := 0, len(got)-1; i < j; i, j = i+1, j-1 {
			got[i], got[j] = got[j], got[i]
		}
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, got)
}

func TestDisjointPaths(t *testing.T) {
	l := &Linearizer{Neighbors: adjacency([2]mesh.ElementID{"a", "b"}, [2]mesh.ElementID{"c", "d"}, [2]mesh.ElementID{"d", "e"})}
	curves := l.Component(members(map[mesh.ElementID]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}))
	require.Len(t, curves, 2)
	assert.Len(t, curves[0].Points, 2)
	assert.Len(t, curves[1].Points, 3)
}

func TestCycle(t *testing.T) {
	l := &Linearizer{Neighbors: adjacency(
		[2]mesh.ElementID{"a", "b"}, [2]mesh.ElementID{"b", "c"},
		[2]mesh.ElementID{"c", "d"}, [2]mesh.ElementID{"d", "a"})}
	curves := l.Component(members(map[mesh.ElementID]float64{"a": 1, "b": 2, "c": 3, "d": 4}))
	require.Len(t, curves, 1)
	tr := curves[0]
	assert.True(t, tr.Closed)
	assert.Equal(t, []float64{1, 2, 3, 4, 1}, order(tr))
}

func TestBranches(t *testing.T) {
	// a star: the center ends every path
	l := &Linearizer{Neighbors: adjacency(
		[2]mesh.ElementID{"a", "x"}, [2]mesh.ElementID{"a", "y"}, [2]mesh.ElementID{"a", "z"},
		[2]mesh.ElementID{"z", "w"})}
	curves := l.Component(members(map[mesh.ElementID]float64{"a": 1, "x": 2, "y": 3, "z": 4, "w": 5}))
	require.Len(t, curves, 3)
	assert.Equal(t, []float64{1, 2}, order(curves[0]))
	assert.Equal(t, []float64{1, 3}, order(curves[1]))
	assert.Equal(t, []float64{1, 4, 5}, order(curves[2]))
}

func TestSingleton(t *testing.T) {
	l := &Linearizer{Neighbors: adjacency()}
	curves := l.Component(members(map[mesh.ElementID]float64{"a": 0.5}))
	require.Len(t, curves, 1)
	assert.Len(t, curves[0].Points, 1)

	assert.Empty(t, l.Component(nil))
}

func TestThreshold(t *testing.T) {
	comp := members(map[mesh.ElementID]float64{"a": 0.1, "b": 0.3, "c": 0.2})
	nb := adjacency([2]mesh.ElementID{"a", "b"}, [2]mesh.ElementID{"b", "c"})

	testCases := []struct {
		name      string
		threshold float64
		want      int
	}{
		{"above max", 0.5, 0},
		{"below max", 0.2, 1},
		{"default", 0, 1},
		{"equal to max", 0.3, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := &Linearizer{Neighbors: nb, Threshold: tc.threshold}
			assert.Len(t, l.Component(comp), tc.want)
		})
	}
}

func TestMeshNeighbors(t *testing.T) {
	tri, err := mesh.NewSimplex([mesh.NDims]int{5, 5, 5}, 1, 2)
	require.NoError(t, err)
	nbrs := MeshNeighbors(tri.ID())
	// two cofaces with three other sides each
	require.Len(t, nbrs, 6)
	for _, n := range nbrs {
		assert.NotEqual(t, tri.ID(), n)
		assert.Contains(t, MeshNeighbors(n), tri.ID(), "adjacency is symmetric")
	}
	assert.Empty(t, MeshNeighbors("junk"))
}

func TestLinearizeMeshChain(t *testing.T) {
	a, err := mesh.NewSimplex([mesh.NDims]int{5, 5, 0}, 1, 2)
	require.NoError(t, err)
	b := MeshNeighbors(a.ID())[0]
	var c mesh.ElementID
	for _, n := range MeshNeighbors(b) {
		if n != a.ID() && !contains(MeshNeighbors(a.ID()), n) {
			c = n
			break
		}
	}
	require.NotEmpty(t, c)

	comp := []feature.Intersection{
		{ID: c, Val: 3},
		{ID: a.ID(), Val: 1},
		{ID: b, Val: 2},
	}
	l := New(0)
	got := l.Linearize([]feature.Component{{Root: a.ID(), Members: comp}})
	require.Len(t, got, 1)
	vals := order(got[0])
	require.Len(t, vals, 3)
	assert.Equal(t, 2.0, vals[1], "the shared neighbor is in the middle")

	// xy triangles in consecutive time slices share no tetrahedron
	up, err := mesh.NewSimplex([mesh.NDims]int{5, 5, 1}, 1, 2)
	require.NoError(t, err)
	got = l.Component([]feature.Intersection{{ID: a.ID(), Val: 1}, {ID: up.ID(), Val: 1}})
	assert.Len(t, got, 2)
}

func contains(ids []mesh.ElementID, id mesh.ElementID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
