package scanner

import (
	"testing"

	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/field"
	"github.com/notargets/CPTrack/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paraboloid returns a field with a single maximum at grid position
// (cx, cy) in every time slice
func paraboloid(W, H, T int, cx, cy float64) (*field.Array, *field.Gradient, *field.Hessian) {
	s := field.NewArray(W, H, T)
	ax, ay := cx/float64(W-1), cy/float64(H-1)
	for k := 0; k < T; k++ {
		for j := 0; j < H; j++ {
			for i := 0; i < W; i++ {
				x, y := float64(i)/float64(W-1), float64(j)/float64(H-1)
				s.Set(i, j, k, float32(1-(x-ax)*(x-ax)-(y-ay)*(y-ay)))
			}
		}
	}
	full := mesh.NewLattice([mesh.NDims]int{0, 0, 0}, [mesh.NDims]int{W - 1, H - 1, T - 1})
	g := field.DeriveGradients(s, full)
	return s, g, field.DeriveHessians(g, full)
}

func TestScanFindsMaximum(t *testing.T) {
	W, H, T := 11, 11, 3
	s, g, h := paraboloid(W, H, T, 5.3, 4.6)
	m := mesh.New(mesh.NewLattice([mesh.NDims]int{2, 2, 0}, [mesh.NDims]int{W - 3, H - 3, T - 1}))

	store := feature.NewStore()
	sc := New(m, s, g, h, store, nil)
	st := sc.Scan()

	assert.Positive(t, st.Accepted)
	assert.Equal(t, st.Accepted, int64(store.Len()))
	assert.Equal(t, st.Simplices, st.Accepted+st.Rejected+st.NoRoot)
	for _, in := range store.Sorted() {
		assert.InDelta(t, 5.3, in.X[0], 1.e-3, "element %s", in.ID)
		assert.InDelta(t, 4.6, in.X[1], 1.e-3, "element %s", in.ID)
		assert.InDelta(t, 1.0, in.Val, 1.e-2)
	}

	// the planar triangle holding the zero is found in every time slice
	for k := 0; k < T; k++ {
		tri, err := mesh.NewSimplex([mesh.NDims]int{5, 4, k}, 2, 1)
		require.NoError(t, err)
		assert.True(t, store.Has(tri.ID()), "slice %d", k)
	}
}

func TestScanPolicy(t *testing.T) {
	W, H, T := 11, 11, 2
	s, g, h := paraboloid(W, H, T, 5.3, 4.6)
	m := mesh.New(mesh.NewLattice([mesh.NDims]int{2, 2, 0}, [mesh.NDims]int{W - 3, H - 3, T - 1}))

	testCases := []struct {
		policy Policy
		found  bool
	}{
		{Maxima, true},
		{Minima, false},
		{Saddles, false},
		{Extrema, true},
		{All, true},
	}
	for _, tc := range testCases {
		t.Run(tc.policy.String(), func(t *testing.T) {
			store := feature.NewStore()
			sc := New(m, s, g, h, store, nil)
			sc.Policy = tc.policy
			st := sc.Scan()
			if tc.found {
				assert.Positive(t, st.Accepted)
				assert.Zero(t, st.Rejected)
			} else {
				assert.Zero(t, st.Accepted)
				assert.Positive(t, st.Rejected)
				assert.Zero(t, store.Len())
			}
		})
	}
}

func TestScanParallelMatchesSerial(t *testing.T) {
	W, H, T := 32, 32, 4
	full := mesh.NewLattice([mesh.NDims]int{0, 0, 0}, [mesh.NDims]int{W - 1, H - 1, T - 1})
	s, err := field.GenerateSynthetic(W, H, T, 15, full)
	require.NoError(t, err)
	g := field.DeriveGradients(s, full)
	h := field.DeriveHessians(g, full)
	m := mesh.New(mesh.NewLattice([mesh.NDims]int{2, 2, 0}, [mesh.NDims]int{W - 3, H - 3, T - 1}))

	serial := feature.NewStore()
	New(m, s, g, h, serial, nil).Scan()

	parallel := feature.NewStore()
	sc := New(m, s, g, h, parallel, nil)
	sc.Threads = 4
	sc.Scan()

	require.Positive(t, serial.Len())
	assert.Equal(t, serial.Sorted(), parallel.Sorted())
}

func TestCheckSimplexRejectsInvalid(t *testing.T) {
	W, H, T := 11, 11, 2
	s, g, h := paraboloid(W, H, T, 5.3, 4.6)
	m := mesh.New(mesh.NewLattice([mesh.NDims]int{2, 2, 0}, [mesh.NDims]int{W - 3, H - 3, T - 1}))
	sc := New(m, s, g, h, feature.NewStore(), nil)

	edge, err := mesh.NewSimplex([mesh.NDims]int{5, 4, 0}, 1)
	require.NoError(t, err)
	_, ok := sc.CheckSimplex(edge)
	assert.False(t, ok)

	outside, err := mesh.NewSimplex([mesh.NDims]int{W - 3, 4, 0}, 1, 2)
	require.NoError(t, err)
	_, ok = sc.CheckSimplex(outside)
	assert.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Saddles")
	require.NoError(t, err)
	assert.Equal(t, Saddles, p)
	_, err = ParsePolicy("ridges")
	assert.Error(t, err)
}
