// Package pipeline wires the components of a run together: partitioning,
// field loading, scanning, union-find, linearization and output.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/notargets/CPTrack/config"
	"github.com/notargets/CPTrack/curves"
	"github.com/notargets/CPTrack/engine"
	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/field"
	"github.com/notargets/CPTrack/fileio"
	"github.com/notargets/CPTrack/mesh"
	"github.com/notargets/CPTrack/partitions"
	"github.com/notargets/CPTrack/scanner"
	"github.com/notargets/CPTrack/transport"
	"github.com/notargets/CPTrack/unionfind"
)

// Run is the state shared by every block of one run. It is read-only
// once created.
type Run struct {
	Config   config.Config
	Layout   *partitions.PartitionLayout
	Policy   scanner.Policy
	Strategy engine.Strategy

	logger *slog.Logger
}

// Domain returns the lattice of a W x H x T field on which Hessians are
// defined
func Domain(W, H, T int) mesh.Lattice {
	return mesh.NewLattice([mesh.NDims]int{2, 2, 0}, [mesh.NDims]int{W - 3, H - 3, T - 1})
}

// NewRun validates cfg and computes the partition table
func NewRun(cfg config.Config, logger *slog.Logger) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	policy, _ := scanner.ParsePolicy(cfg.Policy)
	strategy, _ := engine.ParseStrategy(cfg.Exchange)
	split, _ := cfg.SplitAxes()

	pb := partitions.NewPartitionBuilder(Domain(cfg.Width, cfg.Height, cfg.Timesteps), cfg.NumBlocks())
	pb.Split = split
	pb.Ghost = [mesh.NDims]int{cfg.Ghost, cfg.Ghost, cfg.Ghost}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, fmt.Errorf("partitioning: %w", err)
	}
	stats := layout.PartitionStatistics()
	logger.Debug("domain partitioned",
		slog.String("component", "pipeline"),
		slog.Any("blocks", layout.Blocks),
		slog.Int("min_points", stats.MinPoints),
		slog.Int("max_points", stats.MaxPoints),
		slog.Float64("imbalance", stats.Imbalance))
	return &Run{Config: cfg, Layout: layout, Policy: policy, Strategy: strategy, logger: logger}, nil
}

// Result is the outcome of one block. On block 0 Components and
// Trajectories hold the whole run, on the other blocks only what is
// rooted locally.
type Result struct {
	Rank int
	Scan scanner.Stats
	// Intersections is the number of intersections owned by all blocks
	Intersections int64
	Components    []feature.Component
	Trajectories  []feature.Trajectory
}

// Block is the context of one block during a run
type Block struct {
	run       *Run
	partition partitions.Partition
	ghost     *mesh.Mesh

	intersections *feature.Store
	store         *unionfind.Store
	engine        *engine.Engine

	logger *slog.Logger
}

// NewBlock prepares the block served by tr
func (r *Run) NewBlock(tr transport.Transport) (*Block, error) {
	if tr.Size() != r.Layout.NumPartitions {
		return nil, fmt.Errorf("transport has %d ranks, layout %d partitions", tr.Size(), r.Layout.NumPartitions)
	}
	part, err := r.Layout.Get(tr.Rank())
	if err != nil {
		return nil, err
	}
	store := unionfind.New(part.ID, r.Layout, r.logger)
	eng, err := engine.New(tr, store, engine.Options{Strategy: r.Strategy, Logger: r.logger})
	if err != nil {
		return nil, err
	}
	return &Block{
		run:           r,
		partition:     part,
		ghost:         mesh.New(part.Ghost),
		intersections: feature.NewStore(),
		store:         store,
		engine:        eng,
		logger:        r.logger.With(slog.String("component", "pipeline"), slog.Int("block", part.ID)),
	}, nil
}

// Owns reports whether the block owns element id
func (b *Block) Owns(id mesh.ElementID) bool {
	s, err := mesh.ParseID(id)
	return err == nil && b.partition.Core.Contains(s.Corner)
}

// Run executes every phase for the block
func (b *Block) Run(ctx context.Context) (*Result, error) {
	res := &Result{Rank: b.partition.ID}
	cfg := b.run.Config

	start := time.Now()
	if cfg.ReadDump != "" {
		if err := b.loadDump(cfg.ReadDump); err != nil {
			return nil, err
		}
	} else {
		stats, err := b.scan()
		if err != nil {
			return nil, err
		}
		res.Scan = stats
	}
	owned := b.ownedIntersections()
	n, err := b.engine.AllSum(ctx, int64(len(owned)))
	if err != nil {
		return nil, err
	}
	res.Intersections = n
	b.logStep("scan for critical points", start, slog.Int64("intersections", n))

	if cfg.WriteDump != "" {
		if err := b.writeDump(ctx, owned, cfg.WriteDump); err != nil {
			return nil, err
		}
	}

	start = time.Now()
	for _, in := range owned {
		b.store.Add(in.ID)
	}
	if err := b.addUnions(); err != nil {
		return nil, err
	}
	comps, err := b.engine.Components(ctx, b.intersections.Get)
	if err != nil {
		return nil, err
	}
	b.logStep("extract connected components", start, slog.Int("local_components", len(comps)))

	start = time.Now()
	lin := curves.New(cfg.Threshold)
	perComp := make([][]feature.Trajectory, len(comps))
	for i, c := range comps {
		perComp[i] = lin.Component(c.Members)
	}
	comps, perComp, err = b.collect(ctx, comps, perComp)
	if err != nil {
		return nil, err
	}
	res.Components = comps
	for _, trs := range perComp {
		res.Trajectories = append(res.Trajectories, trs...)
	}
	b.logStep("generate trajectories", start, slog.Int("trajectories", len(res.Trajectories)))

	if b.partition.ID == 0 {
		if err := b.writeOutputs(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (b *Block) logStep(step string, start time.Time, attrs ...any) {
	if b.partition.ID != 0 {
		return
	}
	args := append([]any{slog.String("step", step), slog.Duration("elapsed", time.Since(start))}, attrs...)
	b.logger.Info("step complete", args...)
}

// loadField returns the scalar field over the ghost region padded for
// the second derivatives
func (b *Block) loadField() (*field.Array, error) {
	cfg := b.run.Config
	if cfg.Input == "" {
		return field.GenerateSynthetic(cfg.Width, cfg.Height, cfg.Timesteps, cfg.Scaling, b.partition.Ghost)
	}
	lower, upper := field.Region(cfg.Width, cfg.Height, cfg.Timesteps, b.partition.Ghost, 2)
	return fileio.ReadRawFieldRegion(cfg.Input, cfg.Width, cfg.Height, cfg.Timesteps, lower, upper)
}

func (b *Block) scan() (scanner.Stats, error) {
	scalar, err := b.loadField()
	if err != nil {
		return scanner.Stats{}, fmt.Errorf("block %d loading field: %w", b.partition.ID, err)
	}
	grad := field.DeriveGradients(scalar, b.partition.Ghost)
	hess := field.DeriveHessians(grad, b.partition.Ghost)

	sc := scanner.New(b.ghost, scalar, grad, hess, b.intersections, b.run.logger.With(slog.Int("block", b.partition.ID)))
	sc.Policy = b.run.Policy
	sc.Threads = b.run.Config.Threads
	return sc.Scan(), nil
}

// loadDump keeps the dumped intersections whose simplex lies in the
// ghost lattice
func (b *Block) loadDump(path string) error {
	all, err := fileio.ReadDumpFile(path)
	if err != nil {
		return err
	}
	for _, in := range all.Sorted() {
		s, err := mesh.ParseID(in.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if b.ghost.Valid(s) {
			b.intersections.Insert(in)
		}
	}
	b.logger.Debug("dump loaded", slog.Int("kept", b.intersections.Len()), slog.Int("total", all.Len()))
	return nil
}

func (b *Block) ownedIntersections() []feature.Intersection {
	var owned []feature.Intersection
	for _, in := range b.intersections.Sorted() {
		if b.Owns(in.ID) {
			owned = append(owned, in)
		}
	}
	return owned
}

// addUnions relates the intersections that are sides of a common
// tetrahedron. Owned features are chained to the smallest owned one, an
// edge to a remote feature is recorded when the remote ID is smaller, so
// every edge crossing a block boundary is recorded by exactly one block.
func (b *Block) addUnions() error {
	seen := make(map[mesh.ElementID]bool)
	for _, in := range b.intersections.Sorted() {
		if !b.Owns(in.ID) {
			continue
		}
		s, err := mesh.ParseID(in.ID)
		if err != nil {
			return err
		}
		for _, tet := range s.SideOf() {
			tid := tet.ID()
			if seen[tid] || !b.ghost.Valid(tet) {
				continue
			}
			seen[tid] = true
			if err := b.relate(tet); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Block) relate(tet mesh.Simplex) error {
	var local, remote []mesh.ElementID
	for _, side := range tet.Sides() {
		id := side.ID()
		if !b.intersections.Has(id) {
			continue
		}
		if b.Owns(id) {
			local = append(local, id)
		} else {
			remote = append(remote, id)
		}
	}
	if len(local) == 0 || len(local)+len(remote) < 2 {
		return nil
	}
	sort.Slice(local, func(i, j int) bool { return local[i] < local[j] })
	for _, id := range local[1:] {
		if err := b.store.Union(id, local[0]); err != nil {
			return err
		}
	}
	for _, f := range remote {
		if !b.store.HasOwner(f) {
			gid, err := b.run.Layout.LocateElement(f)
			if err != nil {
				return &unionfind.RoutingError{ID: f, Block: b.partition.ID, Known: b.run.Layout.Partitions, Err: err}
			}
			b.store.SetOwner(f, gid)
		}
		for _, l := range local {
			if f < l {
				if err := b.store.Union(l, f); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// blockOutput is what every block sends to block 0
type blockOutput struct {
	Components []feature.Component `json:"components"`
	Curves     [][][]float32       `json:"curves"`
}

// collect gathers components and their curves on block 0, ordered by root
func (b *Block) collect(ctx context.Context, comps []feature.Component, perComp [][]feature.Trajectory) ([]feature.Component, [][]feature.Trajectory, error) {
	out := blockOutput{Components: comps, Curves: make([][][]float32, len(comps))}
	for i, trs := range perComp {
		for _, tr := range trs {
			out.Curves[i] = append(out.Curves[i], tr.Flatten())
		}
	}
	blob, err := json.Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	blobs, err := b.engine.GatherBlobs(ctx, blob)
	if err != nil {
		return nil, nil, err
	}
	if b.partition.ID != 0 {
		return comps, perComp, nil
	}

	type entry struct {
		comp feature.Component
		trs  []feature.Trajectory
	}
	var all []entry
	for rank, data := range blobs {
		var bo blockOutput
		if err := json.Unmarshal(data, &bo); err != nil {
			return nil, nil, fmt.Errorf("output of block %d: %w", rank, err)
		}
		for i, c := range bo.Components {
			e := entry{comp: c}
			if i < len(bo.Curves) {
				for _, coords := range bo.Curves[i] {
					e.trs = append(e.trs, feature.Unflatten(coords))
				}
			}
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].comp.Root < all[j].comp.Root })
	comps = make([]feature.Component, len(all))
	perComp = make([][]feature.Trajectory, len(all))
	for i, e := range all {
		comps[i], perComp[i] = e.comp, e.trs
	}
	return comps, perComp, nil
}

func (b *Block) writeDump(ctx context.Context, owned []feature.Intersection, path string) error {
	blob, err := json.Marshal(owned)
	if err != nil {
		return err
	}
	blobs, err := b.engine.GatherBlobs(ctx, blob)
	if err != nil {
		return err
	}
	if b.partition.ID != 0 {
		return nil
	}
	var all []feature.Intersection
	for rank, data := range blobs {
		var ins []feature.Intersection
		if err := json.Unmarshal(data, &ins); err != nil {
			return fmt.Errorf("dump of block %d: %w", rank, err)
		}
		all = append(all, ins...)
	}
	return fileio.WriteDumpFile(path, all)
}

func (b *Block) writeOutputs(res *Result) error {
	cfg := b.run.Config
	if cfg.WriteTraj != "" {
		if err := fileio.WriteTrajectoryFile(cfg.WriteTraj, res.Trajectories); err != nil {
			return err
		}
	}
	if cfg.WriteSets != "" {
		if err := fileio.WriteSetsFile(cfg.WriteSets, res.Components); err != nil {
			return err
		}
	}
	return nil
}

// Simulate runs every block of cfg as a goroutine connected by an
// in-process network and returns the results by rank
func Simulate(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]*Result, error) {
	run, err := NewRun(cfg, logger)
	if err != nil {
		return nil, err
	}
	size := run.Layout.NumPartitions
	net := transport.NewNetwork(size)
	defer net.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Result, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			b, err := run.NewBlock(net.Endpoint(rank))
			if err == nil {
				results[rank], err = b.Run(ctx)
			}
			if err != nil {
				errs[rank] = err
				cancel()
			}
		}(rank)
	}
	wg.Wait()
	// report the failure, not the cancellations it caused in other blocks
	var first error
	for _, err := range errs {
		switch {
		case err == nil:
		case !errors.Is(err, context.Canceled):
			return nil, err
		case first == nil:
			first = err
		}
	}
	if first != nil {
		return nil, first
	}
	return results, nil
}

// PrintTrajectories writes a readable listing of trajectories
func PrintTrajectories(w io.Writer, trs []feature.Trajectory) error {
	if _, err := fmt.Fprintf(w, "found %d trajectories:\n", len(trs)); err != nil {
		return err
	}
	for i, tr := range trs {
		fmt.Fprintf(w, "--curve %d:\n", i)
		for _, p := range tr.Points {
			if _, err := fmt.Fprintf(w, "---x=(%f, %f), t=%f, val=%f\n", p.X, p.Y, p.T, p.Val); err != nil {
				return err
			}
		}
	}
	return nil
}
