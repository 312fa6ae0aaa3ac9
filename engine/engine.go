// Package engine merges the union-find forests of all blocks into global
// connected components. Each phase exchanges messages between blocks
// until no block has work left and no message is in flight.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/mesh"
	"github.com/notargets/CPTrack/protocol"
	"github.com/notargets/CPTrack/transport"
	"github.com/notargets/CPTrack/unionfind"
)

// Options configures an Engine
type Options struct {
	Strategy Strategy
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Engine runs the distributed phases of one block. Every block of the run
// must call the same phase methods in the same order.
type Engine struct {
	tr       transport.Transport
	store    *unionfind.Store
	strategy Strategy

	// phase numbers collective operations identically on every block
	phase int
	early []protocol.Packet

	label  string
	logger *slog.Logger
}

// New returns the engine of the block owning store
func New(tr transport.Transport, store *unionfind.Store, opts Options) (*Engine, error) {
	if store.GID() != tr.Rank() {
		return nil, fmt.Errorf("store of block %d on transport rank %d", store.GID(), tr.Rank())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tr:       tr,
		store:    store,
		strategy: opts.Strategy,
		label:    strconv.Itoa(tr.Rank()),
		logger:   logger.With(slog.String("component", "engine"), slog.Int("block", tr.Rank())),
	}, nil
}

// Rank returns the block id
func (e *Engine) Rank() int { return e.tr.Rank() }

// Size returns the number of blocks
func (e *Engine) Size() int { return e.tr.Size() }

// timed runs fn as the next phase, recording its duration
func (e *Engine) timed(name string, fn func() error) error {
	e.phase++
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	phaseDuration.WithLabelValues(e.label, name).Observe(elapsed.Seconds())
	if err != nil {
		return fmt.Errorf("%s phase: %w", name, err)
	}
	if e.tr.Rank() == 0 {
		e.logger.Info("phase complete", slog.String("phase", name), slog.Duration("elapsed", elapsed),
			slog.String("strategy", e.strategy.String()))
	}
	return nil
}

// Unite delivers the unions queued in the store, and every union they
// trigger, until the forests of all blocks are stable
func (e *Engine) Unite(ctx context.Context) error {
	return e.timed("union", func() error {
		return e.run(ctx, "union", e.store)
	})
}

// Resolve runs the find phase: afterwards every local element knows the
// root of its component
func (e *Engine) Resolve(ctx context.Context) error {
	return e.timed("find", func() error {
		if err := e.store.StartFind(); err != nil {
			return err
		}
		if err := e.run(ctx, "find", e.store); err != nil {
			return err
		}
		if !e.store.Resolved() {
			return fmt.Errorf("block %d: elements left without a root", e.tr.Rank())
		}
		return nil
	})
}

// gatherer collects component members sent to the block owning the root
type gatherer struct {
	members map[mesh.ElementID][]feature.Intersection
	outbox  []protocol.Message
}

func (g *gatherer) Handle(m protocol.Message) error {
	if m.Kind != protocol.Member || m.Intersection == nil {
		return fmt.Errorf("unexpected message %s while gathering components", m)
	}
	g.members[m.Target] = append(g.members[m.Target], *m.Intersection)
	return nil
}

func (g *gatherer) Drain() []protocol.Message {
	out := g.outbox
	g.outbox = nil
	return out
}

// GetSets sends the intersection of every local element to the owner of
// its root and returns the components rooted on this block, ordered by
// root. Members are ordered by ID. lookup returns the intersection of a
// local element.
func (e *Engine) GetSets(ctx context.Context, lookup func(mesh.ElementID) (feature.Intersection, bool)) ([]feature.Component, error) {
	g := &gatherer{members: make(map[mesh.ElementID][]feature.Intersection)}
	err := e.timed("gather", func() error {
		for _, id := range e.store.Elements() {
			root, ok := e.store.Root(id)
			if !ok {
				return fmt.Errorf("block %d: element %s has no root", e.tr.Rank(), id)
			}
			in, ok := lookup(id)
			if !ok {
				e.logger.Warn("element without intersection", slog.String("id", string(id)))
				continue
			}
			owner, err := e.store.Owner(root)
			if err != nil {
				return err
			}
			if owner == e.tr.Rank() {
				g.members[root] = append(g.members[root], in)
				continue
			}
			g.outbox = append(g.outbox, protocol.Message{Kind: protocol.Member, Target: root, Intersection: &in, To: owner})
		}
		return e.run(ctx, "gather", g)
	})
	if err != nil {
		return nil, err
	}

	comps := make([]feature.Component, 0, len(g.members))
	for root, members := range g.members {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		comps = append(comps, feature.Component{Root: root, Members: members})
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].Root < comps[j].Root })
	e.logger.Debug("components gathered", slog.Int("components", len(comps)))
	return comps, nil
}

// Components runs the union, find and gather phases
func (e *Engine) Components(ctx context.Context, lookup func(mesh.ElementID) (feature.Intersection, bool)) ([]feature.Component, error) {
	if err := e.Unite(ctx); err != nil {
		return nil, err
	}
	if err := e.Resolve(ctx); err != nil {
		return nil, err
	}
	return e.GetSets(ctx, lookup)
}

// AllSum returns the sum of v over all blocks
func (e *Engine) AllSum(ctx context.Context, v int64) (int64, error) {
	e.phase++
	pkts, err := e.allGather(ctx, protocol.Packet{Kind: protocol.Control, Sent: v})
	if err != nil {
		return 0, fmt.Errorf("all-sum: %w", err)
	}
	var sum int64
	for _, p := range pkts {
		sum += p.Sent
	}
	return sum, nil
}

// Barrier returns once every block has reached it
func (e *Engine) Barrier(ctx context.Context) error {
	_, err := e.AllSum(ctx, 0)
	return err
}

// GatherBlobs collects one payload per block on block 0. Block 0 gets
// the payloads indexed by rank, the other blocks get nil.
func (e *Engine) GatherBlobs(ctx context.Context, blob []byte) ([][]byte, error) {
	e.phase++
	rank, size := e.tr.Rank(), e.tr.Size()
	if rank != 0 {
		if err := e.tr.Send(ctx, 0, protocol.Packet{Kind: protocol.Blob, Phase: e.phase, Blob: blob}); err != nil {
			return nil, fmt.Errorf("gather blobs: %w", err)
		}
		return nil, nil
	}
	out := make([][]byte, size)
	out[0] = blob
	phase := e.phase
	for i := 0; i < size-1; i++ {
		p, err := e.next(ctx, func(p protocol.Packet) bool { return p.Kind == protocol.Blob && p.Phase == phase })
		if err != nil {
			return nil, fmt.Errorf("gather blobs: %w", err)
		}
		out[p.From] = p.Blob
	}
	return out, nil
}
