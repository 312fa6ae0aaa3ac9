package partitions

import (
	"fmt"
	"math"

	"github.com/notargets/CPTrack/mesh"
)

// Partition is the part of the space-time domain owned by one block.
// Elements whose corner lies in Core belong to the block; Ghost is Core
// grown by the ghost width and clipped to the domain, and is what the
// block scans so that features crossing the core boundary are seen.
type Partition struct {
	// Block global id, equal to the rank of the owning process
	ID int

	Core  mesh.Lattice
	Ghost mesh.Lattice
}

// PartitionLayout is the full partition table. Every process computes
// the same layout so that any element can be routed to its owner
// without a lookup round trip.
type PartitionLayout struct {
	Domain     mesh.Lattice
	Partitions []Partition

	// Segments per axis, block ids are assigned with x fastest
	Blocks     [mesh.NDims]int
	GhostWidth [mesh.NDims]int

	// Segment start coordinates per axis, length Blocks[i]+1
	cuts [mesh.NDims][]int

	NumPartitions int
}

// Locate returns the id of the partition whose core contains point p
func (pl *PartitionLayout) Locate(p [mesh.NDims]int) (int, bool) {
	if !pl.Domain.Contains(p) {
		return -1, false
	}
	var idx [mesh.NDims]int
	for a := 0; a < mesh.NDims; a++ {
		c := pl.cuts[a]
		// segments are near-equal, so a short scan from the estimate is enough
		n := pl.Blocks[a]
		guess := (p[a] - c[0]) * n / (c[n] - c[0])
		guess = min(max(guess, 0), n-1)
		for guess > 0 && p[a] < c[guess] {
			guess--
		}
		for guess < n-1 && p[a] >= c[guess+1] {
			guess++
		}
		idx[a] = guess
	}
	return idx[0] + pl.Blocks[0]*(idx[1]+pl.Blocks[1]*idx[2]), true
}

// LocateElement returns the owning partition of an element: the one
// whose core contains the element corner
func (pl *PartitionLayout) LocateElement(id mesh.ElementID) (int, error) {
	s, err := mesh.ParseID(id)
	if err != nil {
		return -1, err
	}
	gid, ok := pl.Locate(s.Corner)
	if !ok {
		return -1, fmt.Errorf("element %s: corner %v outside domain %s", id, s.Corner, pl.Domain)
	}
	return gid, nil
}

// Get returns partition gid
func (pl *PartitionLayout) Get(gid int) (Partition, error) {
	if gid < 0 || gid >= len(pl.Partitions) {
		return Partition{}, fmt.Errorf("partition %d out of range [0, %d)", gid, len(pl.Partitions))
	}
	return pl.Partitions[gid], nil
}

// ValidateLayout checks that the cores tile the domain without overlap
// and that every ghost contains its core
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("layout has %d partitions, expected %d", len(pl.Partitions), pl.NumPartitions)
	}
	total := 0
	for i, p := range pl.Partitions {
		if p.ID != i {
			return fmt.Errorf("partition at index %d has id %d", i, p.ID)
		}
		if p.Core.Empty() {
			return fmt.Errorf("partition %d: empty core", p.ID)
		}
		if p.Ghost.Intersect(p.Core) != p.Core {
			return fmt.Errorf("partition %d: ghost %s does not contain core %s", p.ID, p.Ghost, p.Core)
		}
		if p.Ghost.Intersect(pl.Domain) != p.Ghost {
			return fmt.Errorf("partition %d: ghost %s leaves the domain %s", p.ID, p.Ghost, pl.Domain)
		}
		for _, q := range pl.Partitions[i+1:] {
			if !p.Core.Intersect(q.Core).Empty() {
				return fmt.Errorf("partitions %d and %d overlap", p.ID, q.ID)
			}
		}
		total += p.Core.NumPoints()
	}
	if total != pl.Domain.NumPoints() {
		return fmt.Errorf("cores cover %d points, domain has %d", total, pl.Domain.NumPoints())
	}
	return nil
}

// PartitionStats reports load balance over the core lattices
type PartitionStats struct {
	NumPartitions int
	MinPoints     int
	MaxPoints     int
	AvgPoints     float64
	Imbalance     float64 // MaxPoints / AvgPoints
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinPoints:     math.MaxInt32,
		AvgPoints:     float64(pl.Domain.NumPoints()) / float64(pl.NumPartitions),
	}
	for _, p := range pl.Partitions {
		n := p.Core.NumPoints()
		stats.MinPoints = min(stats.MinPoints, n)
		stats.MaxPoints = max(stats.MaxPoints, n)
	}
	if stats.AvgPoints > 0 {
		stats.Imbalance = float64(stats.MaxPoints) / stats.AvgPoints
	}
	return stats
}
