package unionfind

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/notargets/CPTrack/mesh"
	"github.com/notargets/CPTrack/partitions"
	"github.com/notargets/CPTrack/protocol"
)

// Router resolves the block owning an element from the static partition
// table. *partitions.PartitionLayout satisfies it.
type Router interface {
	LocateElement(id mesh.ElementID) (int, error)
}

// RoutingError reports an element whose owner cannot be determined. It
// means the partition table and the scanned elements disagree and is
// fatal for the run.
type RoutingError struct {
	ID    mesh.ElementID
	Block int
	Known []partitions.Partition
	Err   error
}

func (e *RoutingError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block %d: cannot route element %s", e.Block, e.ID)
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if len(e.Known) > 0 {
		sb.WriteString("; known partitions:")
		for _, p := range e.Known {
			fmt.Fprintf(&sb, " %d=%s", p.ID, p.Core)
		}
	}
	return sb.String()
}

func (e *RoutingError) Unwrap() error { return e.Err }

// Store is one block's part of the distributed union-find forest.
// Parent pointers always go from a greater ID to a lesser or equal one,
// so the root of every set is its minimum element. A parent may be owned
// by another block, operations reaching such an element queue a message
// for its owner instead of following it.
type Store struct {
	mu sync.Mutex

	gid    int
	parent map[mesh.ElementID]mesh.ElementID // local elements only
	owner  map[mesh.ElementID]int
	root   map[mesh.ElementID]mesh.ElementID // filled by the find phase

	outbox []protocol.Message
	router Router

	logger *slog.Logger
}

// New returns an empty store for block gid
func New(gid int, router Router, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		gid:    gid,
		parent: make(map[mesh.ElementID]mesh.ElementID),
		owner:  make(map[mesh.ElementID]int),
		root:   make(map[mesh.ElementID]mesh.ElementID),
		router: router,
		logger: logger.With(slog.String("component", "unionfind"), slog.Int("block", gid)),
	}
}

// GID returns the block id of the store
func (s *Store) GID() int { return s.gid }

// Add registers a local element as a singleton set. Adding an existing
// element is a no-op.
func (s *Store) Add(id mesh.ElementID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(id)
}

func (s *Store) addLocked(id mesh.ElementID) {
	if _, ok := s.parent[id]; !ok {
		s.parent[id] = id
	}
	s.owner[id] = s.gid
}

// SetOwner records the block owning a remote element. It is ignored for
// local elements.
func (s *Store) SetOwner(id mesh.ElementID, gid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parent[id]; ok {
		return
	}
	s.owner[id] = gid
}

// Has reports whether id is a local element
func (s *Store) Has(id mesh.ElementID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.parent[id]
	return ok
}

// HasOwner reports whether the owner of id is known without a table lookup
func (s *Store) HasOwner(id mesh.ElementID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owner[id]
	return ok
}

// Owner returns the block owning id, consulting the router for elements
// not seen before
func (s *Store) Owner(id mesh.ElementID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerLocked(id)
}

func (s *Store) ownerLocked(id mesh.ElementID) (int, error) {
	if gid, ok := s.owner[id]; ok {
		return gid, nil
	}
	if s.router == nil {
		return -1, s.routingError(id, nil)
	}
	gid, err := s.router.LocateElement(id)
	if err != nil {
		return -1, s.routingError(id, err)
	}
	s.owner[id] = gid
	return gid, nil
}

func (s *Store) routingError(id mesh.ElementID, err error) *RoutingError {
	re := &RoutingError{ID: id, Block: s.gid, Err: err}
	if pl, ok := s.router.(*partitions.PartitionLayout); ok {
		re.Known = pl.Partitions
	}
	return re
}

// isLocal reports whether x belongs to this block. Elements routed here
// that were never added are registered on first use.
func (s *Store) isLocal(x mesh.ElementID) (bool, error) {
	if _, ok := s.parent[x]; ok {
		return true, nil
	}
	gid, err := s.ownerLocked(x)
	if err != nil {
		return false, err
	}
	if gid != s.gid {
		return false, nil
	}
	s.logger.Debug("registering element on first use", slog.String("id", string(x)))
	s.addLocked(x)
	return true, nil
}

// Parent returns the parent of a local element
func (s *Store) Parent(id mesh.ElementID) (mesh.ElementID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parent[id]
	return p, ok
}

// Elements returns the sorted local elements
func (s *Store) Elements() []mesh.ElementID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]mesh.ElementID, 0, len(s.parent))
	for id := range s.parent {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of local elements
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parent)
}

// Union merges the sets of a and b. Work that reaches elements owned by
// other blocks is queued in the outbox. Uniting elements already in the
// same set is a no-op.
func (s *Store) Union(a, b mesh.ElementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == b {
		return nil
	}
	la, err := s.isLocal(a)
	if err != nil {
		return err
	}
	if !la {
		lb, err := s.isLocal(b)
		if err != nil {
			return err
		}
		if !lb {
			return s.send(protocol.Message{Kind: protocol.Union, Target: a, Ref: b})
		}
		a, b = b, a
	}
	return s.splice(a, b)
}

// splice makes the set of the local element x include z, following
// Rem's algorithm. When the walk reaches a remote element the remaining
// work is forwarded to its owner.
func (s *Store) splice(x, z mesh.ElementID) error {
	for {
		if x == z {
			return nil
		}
		px := s.parent[x]
		if px == z {
			return nil
		}
		if z < px {
			s.parent[x] = z
			if px == x {
				return nil
			}
			x = px
		} else {
			x, z = z, px
		}
		local, err := s.isLocal(x)
		if err != nil {
			return err
		}
		if !local {
			return s.send(protocol.Message{Kind: protocol.Union, Target: x, Ref: z})
		}
	}
}

func (s *Store) send(m protocol.Message) error {
	to, err := s.ownerLocked(m.Target)
	if err != nil {
		return err
	}
	if to == s.gid {
		return fmt.Errorf("block %d: message %s routed to itself", s.gid, m)
	}
	m.To = to
	s.outbox = append(s.outbox, m)
	return nil
}

// Drain returns and clears the queued outgoing messages
func (s *Store) Drain() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outbox
	s.outbox = nil
	return out
}

// Pending returns the number of queued outgoing messages
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// Find follows local parent pointers from id with path halving. It
// returns the root and true once the root is known, otherwise the first
// remote element reached and false.
func (s *Store) Find(id mesh.ElementID) (mesh.ElementID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.root[id]; ok {
		return r, true
	}
	return s.findLocked(id)
}

func (s *Store) findLocked(x mesh.ElementID) (mesh.ElementID, bool) {
	for {
		if r, ok := s.root[x]; ok {
			return r, true
		}
		px, ok := s.parent[x]
		if !ok {
			return x, false
		}
		if px == x {
			return x, true
		}
		if ppx, ok := s.parent[px]; ok {
			s.parent[x] = ppx
		}
		x = px
	}
}

// Handle applies a Union, Query or Reply message received from another
// block
func (s *Store) Handle(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m.Kind {
	case protocol.Union:
		if err := s.requireLocal(m); err != nil {
			return err
		}
		return s.splice(m.Target, m.Ref)
	case protocol.Query:
		if err := s.requireLocal(m); err != nil {
			return err
		}
		r, isRoot := s.findLocked(m.Target)
		return s.send(protocol.Message{Kind: protocol.Reply, Target: m.Origin, Ref: r, Root: isRoot})
	case protocol.Reply:
		if err := s.requireLocal(m); err != nil {
			return err
		}
		if m.Root {
			s.root[m.Ref] = m.Ref
		}
		s.parent[m.Target] = m.Ref
		return s.resolve(m.Target)
	}
	return fmt.Errorf("block %d: unexpected message kind %s", s.gid, m.Kind)
}

func (s *Store) requireLocal(m protocol.Message) error {
	local, err := s.isLocal(m.Target)
	if err != nil {
		return err
	}
	if !local {
		return fmt.Errorf("block %d: received %s for an element it does not own", s.gid, m)
	}
	return nil
}

// StartFind begins the find phase: every local element whose root is
// reachable through local pointers is resolved, the others query the
// owner of the first remote element on their path. The forest must not
// change once the find phase has started.
func (s *Store) StartFind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]mesh.ElementID, 0, len(s.parent))
	for id := range s.parent {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := s.resolve(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) resolve(x mesh.ElementID) error {
	if _, ok := s.root[x]; ok {
		return nil
	}
	r, ok := s.findLocked(x)
	if ok {
		s.root[x] = r
		return nil
	}
	// r is remote: jump straight to it and ask its owner
	s.parent[x] = r
	return s.send(protocol.Message{Kind: protocol.Query, Target: r, Origin: x})
}

// Resolved reports whether every local element knows its root
func (s *Store) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.parent {
		if _, ok := s.root[id]; !ok {
			return false
		}
	}
	return true
}

// Root returns the root of a local element found by the find phase
func (s *Store) Root(id mesh.ElementID) (mesh.ElementID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, local := s.parent[id]; !local {
		return "", false
	}
	r, ok := s.root[id]
	return r, ok
}
