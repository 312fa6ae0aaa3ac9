// Package transport moves packets between the blocks of a run. Network
// connects blocks running as goroutines of one process, Websocket
// connects one block per process.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/notargets/CPTrack/protocol"
)

// ErrClosed is returned by operations on a closed transport
var ErrClosed = errors.New("transport closed")

// Transport is a reliable, per-sender FIFO packet channel between the
// blocks of a run
type Transport interface {
	// Rank is the block id of this endpoint
	Rank() int
	// Size is the number of blocks
	Size() int
	// Send delivers p to block to. Sending to Rank() is allowed.
	Send(ctx context.Context, to int, p protocol.Packet) error
	// Recv blocks until a packet arrives
	Recv(ctx context.Context) (protocol.Packet, error)
	// TryRecv returns a packet if one is waiting
	TryRecv() (protocol.Packet, bool)
	Close() error
}

// mailbox is an unbounded packet queue. Senders never block, so blocks
// sending to each other at the same time cannot deadlock.
type mailbox struct {
	mu     sync.Mutex
	queue  []protocol.Packet
	notify chan struct{}
	err    error
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (mb *mailbox) put(p protocol.Packet) error {
	mb.mu.Lock()
	if mb.err != nil {
		mb.mu.Unlock()
		return mb.err
	}
	mb.queue = append(mb.queue, p)
	mb.mu.Unlock()
	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return nil
}

// fail stops the mailbox. Queued packets can still be received.
func (mb *mailbox) fail(err error) {
	mb.mu.Lock()
	if mb.err == nil {
		mb.err = err
	}
	mb.mu.Unlock()
	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

func (mb *mailbox) tryGet() (protocol.Packet, bool, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.queue) > 0 {
		p := mb.queue[0]
		mb.queue[0] = protocol.Packet{}
		mb.queue = mb.queue[1:]
		return p, true, nil
	}
	return protocol.Packet{}, false, mb.err
}

func (mb *mailbox) get(ctx context.Context) (protocol.Packet, error) {
	for {
		p, ok, err := mb.tryGet()
		if ok {
			return p, nil
		}
		if err != nil {
			return p, err
		}
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-mb.notify:
		}
	}
}

// Network is an in-process set of connected endpoints
type Network struct {
	boxes []*mailbox
}

// NewNetwork connects size endpoints
func NewNetwork(size int) *Network {
	n := &Network{boxes: make([]*mailbox, size)}
	for i := range n.boxes {
		n.boxes[i] = newMailbox()
	}
	return n
}

// Endpoint returns the transport of block rank
func (n *Network) Endpoint(rank int) Transport {
	return &endpoint{net: n, rank: rank}
}

// Close closes every endpoint
func (n *Network) Close() {
	for _, mb := range n.boxes {
		mb.fail(ErrClosed)
	}
}

type endpoint struct {
	net  *Network
	rank int
}

func (e *endpoint) Rank() int { return e.rank }

func (e *endpoint) Size() int { return len(e.net.boxes) }

func (e *endpoint) Send(ctx context.Context, to int, p protocol.Packet) error {
	if to < 0 || to >= len(e.net.boxes) {
		return fmt.Errorf("send from %d: no block %d", e.rank, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.From = e.rank
	return e.net.boxes[to].put(p)
}

func (e *endpoint) Recv(ctx context.Context) (protocol.Packet, error) {
	return e.net.boxes[e.rank].get(ctx)
}

func (e *endpoint) TryRecv() (protocol.Packet, bool) {
	p, ok, _ := e.net.boxes[e.rank].tryGet()
	return p, ok
}

func (e *endpoint) Close() error {
	e.net.boxes[e.rank].fail(ErrClosed)
	return nil
}
