package partitions

import (
	"errors"
	"fmt"

	"github.com/notargets/CPTrack/mesh"
)

var (
	// ErrNoSplittableAxis is returned when more than one block is requested
	// but every axis is excluded from decomposition
	ErrNoSplittableAxis = errors.New("no splittable axis")

	// ErrTooManyBlocks is returned when an axis would get more segments
	// than lattice points
	ErrTooManyBlocks = errors.New("more blocks than lattice points along an axis")
)

// PartitionBuilder decomposes a domain lattice into per-block lattices
type PartitionBuilder struct {
	Domain    mesh.Lattice
	NumBlocks int

	// Split[i] allows decomposition along axis i (x, y, t)
	Split [mesh.NDims]bool

	// Ghost width per axis, at least 1
	Ghost [mesh.NDims]int
}

// NewPartitionBuilder returns a builder splitting all axes with a ghost
// width of one
func NewPartitionBuilder(domain mesh.Lattice, numBlocks int) *PartitionBuilder {
	return &PartitionBuilder{
		Domain:    domain,
		NumBlocks: numBlocks,
		Split:     [mesh.NDims]bool{true, true, true},
		Ghost:     [mesh.NDims]int{1, 1, 1},
	}
}

// BuildPartitions creates the partition layout. The result only depends
// on the builder fields.
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumBlocks < 1 {
		return nil, fmt.Errorf("invalid block count %d", pb.NumBlocks)
	}
	if pb.Domain.Empty() {
		return nil, fmt.Errorf("empty domain %s", pb.Domain)
	}
	for a := 0; a < mesh.NDims; a++ {
		if pb.Ghost[a] < 1 {
			return nil, fmt.Errorf("ghost width %d on axis %d, must be at least 1", pb.Ghost[a], a)
		}
	}

	// Determine segments per axis
	blocks, err := pb.calculateBlocks()
	if err != nil {
		return nil, err
	}

	layout := &PartitionLayout{
		Domain:        pb.Domain,
		Blocks:        blocks,
		GhostWidth:    pb.Ghost,
		NumPartitions: pb.NumBlocks,
	}
	for a := 0; a < mesh.NDims; a++ {
		layout.cuts[a] = cutAxis(pb.Domain.Lower(a), pb.Domain.Size[a], blocks[a])
	}

	// Create partition structures, x fastest
	layout.Partitions = make([]Partition, 0, pb.NumBlocks)
	for k := 0; k < blocks[2]; k++ {
		for j := 0; j < blocks[1]; j++ {
			for i := 0; i < blocks[0]; i++ {
				idx := [mesh.NDims]int{i, j, k}
				var lower, upper [mesh.NDims]int
				for a := 0; a < mesh.NDims; a++ {
					lower[a] = layout.cuts[a][idx[a]]
					upper[a] = layout.cuts[a][idx[a]+1] - 1
				}
				core := mesh.NewLattice(lower, upper)
				layout.Partitions = append(layout.Partitions, Partition{
					ID:    len(layout.Partitions),
					Core:  core,
					Ghost: core.Expand(pb.Ghost).Intersect(pb.Domain),
				})
			}
		}
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// calculateBlocks assigns the prime factors of NumBlocks, largest first,
// to the splittable axis with the largest per-block extent
func (pb *PartitionBuilder) calculateBlocks() ([mesh.NDims]int, error) {
	blocks := [mesh.NDims]int{1, 1, 1}
	factors := primeFactors(pb.NumBlocks)
	for f := len(factors) - 1; f >= 0; f-- {
		best := -1
		bestExtent := 0.0
		for a := 0; a < mesh.NDims; a++ {
			if !pb.Split[a] {
				continue
			}
			extent := float64(pb.Domain.Size[a]) / float64(blocks[a])
			if best < 0 || extent > bestExtent {
				best, bestExtent = a, extent
			}
		}
		if best < 0 {
			return blocks, fmt.Errorf("%w for %d blocks", ErrNoSplittableAxis, pb.NumBlocks)
		}
		blocks[best] *= factors[f]
	}
	for a := 0; a < mesh.NDims; a++ {
		if blocks[a] > pb.Domain.Size[a] {
			return blocks, fmt.Errorf("%w: axis %d has %d points for %d segments",
				ErrTooManyBlocks, a, pb.Domain.Size[a], blocks[a])
		}
	}
	return blocks, nil
}

// cutAxis splits size points starting at start into n near-equal segments
// and returns the n+1 segment boundaries. The first size%n segments get
// one extra point.
func cutAxis(start, size, n int) []int {
	cuts := make([]int, n+1)
	base, extra := size/n, size%n
	cuts[0] = start
	for i := 0; i < n; i++ {
		w := base
		if i < extra {
			w++
		}
		cuts[i+1] = cuts[i] + w
	}
	return cuts
}

// primeFactors returns the prime factors of n in ascending order
func primeFactors(n int) []int {
	var factors []int
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			factors = append(factors, p)
			n /= p
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	return factors
}
