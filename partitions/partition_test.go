package partitions

import (
	"testing"

	"github.com/notargets/CPTrack/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackerDomain(W, H, T int) mesh.Lattice {
	return mesh.NewLattice([mesh.NDims]int{2, 2, 0}, [mesh.NDims]int{W - 3, H - 3, T - 1})
}

// TestBuildPartitionsTiling checks that cores tile the domain for several block counts
func TestBuildPartitionsTiling(t *testing.T) {
	domain := trackerDomain(128, 128, 10)
	for _, n := range []int{1, 2, 3, 4, 6, 8, 12} {
		pb := NewPartitionBuilder(domain, n)
		layout, err := pb.BuildPartitions()
		require.NoError(t, err, "n=%d", n)
		require.Len(t, layout.Partitions, n)

		// Every domain point is owned by exactly one core
		counts := make([]int, n)
		for k := domain.Lower(2); k <= domain.Upper(2); k++ {
			for j := domain.Lower(1); j <= domain.Upper(1); j++ {
				for i := domain.Lower(0); i <= domain.Upper(0); i++ {
					p := [mesh.NDims]int{i, j, k}
					gid, ok := layout.Locate(p)
					require.True(t, ok)
					require.True(t, layout.Partitions[gid].Core.Contains(p),
						"n=%d point %v located in %d", n, p, gid)
					counts[gid]++
				}
			}
		}
		for gid, c := range counts {
			assert.Equal(t, layout.Partitions[gid].Core.NumPoints(), c)
		}

		stats := layout.PartitionStatistics()
		assert.Equal(t, n, stats.NumPartitions)
		assert.LessOrEqual(t, stats.Imbalance, 1.5, "n=%d", n)
	}
}

func TestBuildPartitionsDeterministic(t *testing.T) {
	domain := trackerDomain(64, 48, 7)
	a, err := NewPartitionBuilder(domain, 6).BuildPartitions()
	require.NoError(t, err)
	b, err := NewPartitionBuilder(domain, 6).BuildPartitions()
	require.NoError(t, err)
	assert.Equal(t, a.Partitions, b.Partitions)
	assert.Equal(t, a.Blocks, b.Blocks)
}

func TestGhostLattices(t *testing.T) {
	domain := trackerDomain(32, 32, 8)
	pb := NewPartitionBuilder(domain, 4)
	pb.Ghost = [mesh.NDims]int{2, 1, 1}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)

	for _, p := range layout.Partitions {
		for a := 0; a < mesh.NDims; a++ {
			// ghost is the core grown by the ghost width, clipped to the domain
			assert.Equal(t, max(p.Core.Lower(a)-pb.Ghost[a], domain.Lower(a)), p.Ghost.Lower(a))
			assert.Equal(t, min(p.Core.Upper(a)+pb.Ghost[a], domain.Upper(a)), p.Ghost.Upper(a))
		}
	}
}

func TestSplitPolicy(t *testing.T) {
	domain := trackerDomain(64, 64, 10)

	t.Run("SpatialOnly", func(t *testing.T) {
		pb := NewPartitionBuilder(domain, 4)
		pb.Split = [mesh.NDims]bool{true, true, false}
		layout, err := pb.BuildPartitions()
		require.NoError(t, err)
		assert.Equal(t, [mesh.NDims]int{2, 2, 1}, layout.Blocks)
	})

	t.Run("TemporalOnly", func(t *testing.T) {
		pb := NewPartitionBuilder(domain, 2)
		pb.Split = [mesh.NDims]bool{false, false, true}
		layout, err := pb.BuildPartitions()
		require.NoError(t, err)
		assert.Equal(t, [mesh.NDims]int{1, 1, 2}, layout.Blocks)
		assert.Equal(t, 0, layout.Partitions[0].Core.Lower(2))
		assert.Equal(t, 5, layout.Partitions[1].Core.Lower(2))
	})

	t.Run("NoAxis", func(t *testing.T) {
		pb := NewPartitionBuilder(domain, 2)
		pb.Split = [mesh.NDims]bool{}
		_, err := pb.BuildPartitions()
		assert.ErrorIs(t, err, ErrNoSplittableAxis)
	})

	t.Run("TooManyBlocks", func(t *testing.T) {
		pb := NewPartitionBuilder(domain, 11)
		pb.Split = [mesh.NDims]bool{false, false, true}
		_, err := pb.BuildPartitions()
		assert.ErrorIs(t, err, ErrTooManyBlocks)
	})
}

func TestBuildPartitionsInvalidInput(t *testing.T) {
	domain := trackerDomain(16, 16, 4)
	_, err := NewPartitionBuilder(domain, 0).BuildPartitions()
	assert.Error(t, err)

	pb := NewPartitionBuilder(domain, 2)
	pb.Ghost = [mesh.NDims]int{0, 1, 1}
	_, err = pb.BuildPartitions()
	assert.Error(t, err)
}

func TestLocateElement(t *testing.T) {
	domain := trackerDomain(32, 32, 4)
	layout, err := NewPartitionBuilder(domain, 2).BuildPartitions()
	require.NoError(t, err)

	for _, p := range layout.Partitions {
		s, err := mesh.NewSimplex(p.Core.Start, 1, 2)
		require.NoError(t, err)
		gid, err := layout.LocateElement(s.ID())
		require.NoError(t, err)
		assert.Equal(t, p.ID, gid)
	}

	_, err = layout.LocateElement("2:0,0,0:1,2")
	assert.Error(t, err)
	_, err = layout.LocateElement("garbage")
	assert.ErrorIs(t, err, mesh.ErrMalformedID)
}

func TestCutAxis(t *testing.T) {
	assert.Equal(t, []int{2, 6, 10, 13}, cutAxis(2, 11, 3))
	assert.Equal(t, []int{0, 10}, cutAxis(0, 10, 1))
	assert.Equal(t, []int{2, 2, 3, 5}, primeFactors(60))
}
