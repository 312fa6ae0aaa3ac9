package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/notargets/CPTrack/protocol"
)

// Strategy selects how messages are exchanged until global quiescence
type Strategy uint8

const (
	// Sync exchanges in rounds: every block sends one packet to every
	// peer per round and the phase ends after a round in which no block
	// had anything to send
	Sync Strategy = iota
	// Async sends messages as they are produced and detects termination
	// with control waves counting sent and received messages
	Async
)

// ParseStrategy maps "sync" or "async" to a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "sync", "":
		return Sync, nil
	case "async", "iexchange":
		return Async, nil
	}
	return Sync, fmt.Errorf("unknown exchange strategy %q", s)
}

func (s Strategy) String() string {
	if s == Async {
		return "async"
	}
	return "sync"
}

// queue is the message source and sink of one phase
type queue interface {
	Handle(m protocol.Message) error
	Drain() []protocol.Message
}

// next returns the first packet, stashed or received, accepted by match.
// Packets of later phases are stashed.
func (e *Engine) next(ctx context.Context, match func(p protocol.Packet) bool) (protocol.Packet, error) {
	if p, ok := e.fromStash(match); ok {
		return p, nil
	}
	for {
		p, err := e.tr.Recv(ctx)
		if err != nil {
			return p, err
		}
		if match(p) {
			return p, nil
		}
		e.stash(p)
	}
}

// poll is the non-blocking form of next
func (e *Engine) poll(match func(p protocol.Packet) bool) (protocol.Packet, bool) {
	if p, ok := e.fromStash(match); ok {
		return p, true
	}
	for {
		p, ok := e.tr.TryRecv()
		if !ok {
			return p, false
		}
		if match(p) {
			return p, true
		}
		e.stash(p)
	}
}

func (e *Engine) fromStash(match func(p protocol.Packet) bool) (protocol.Packet, bool) {
	for i, p := range e.early {
		if match(p) {
			e.early = append(e.early[:i], e.early[i+1:]...)
			return p, true
		}
	}
	return protocol.Packet{}, false
}

func (e *Engine) stash(p protocol.Packet) {
	if p.Phase < e.phase {
		e.logger.Warn("dropping packet of a finished phase",
			slog.Int("from", p.From), slog.Int("phase", p.Phase), slog.Int("current", e.phase))
		return
	}
	e.early = append(e.early, p)
}

// split groups messages by destination block
func (e *Engine) split(out []protocol.Message) ([][]protocol.Message, error) {
	byPeer := make([][]protocol.Message, e.tr.Size())
	for _, m := range out {
		if m.To < 0 || m.To >= len(byPeer) || m.To == e.tr.Rank() {
			return nil, fmt.Errorf("block %d: message %s has invalid destination", e.tr.Rank(), m)
		}
		byPeer[m.To] = append(byPeer[m.To], m)
		messagesSent.WithLabelValues(e.label, m.Kind.String()).Inc()
	}
	return byPeer, nil
}

func (e *Engine) handleAll(q queue, msgs []protocol.Message) error {
	for _, m := range msgs {
		messagesReceived.WithLabelValues(e.label, m.Kind.String()).Inc()
		if err := q.Handle(m); err != nil {
			return err
		}
	}
	return nil
}

// exchange runs synchronous rounds until a round moves no message. The
// round total is the sum of the counts every block reports, so all
// blocks stop after the same round.
func (e *Engine) exchange(ctx context.Context, name string, q queue) error {
	rank, size := e.tr.Rank(), e.tr.Size()
	phase := e.phase
	for round := 0; ; round++ {
		out := q.Drain()
		byPeer, err := e.split(out)
		if err != nil {
			return err
		}
		for to := 0; to < size; to++ {
			if to == rank {
				continue
			}
			p := protocol.Packet{Kind: protocol.Data, Phase: phase, Round: round, Count: len(out), Messages: byPeer[to]}
			if err := e.tr.Send(ctx, to, p); err != nil {
				return fmt.Errorf("%s round %d: %w", name, round, err)
			}
		}

		total := len(out)
		for i := 0; i < size-1; i++ {
			p, err := e.next(ctx, func(p protocol.Packet) bool {
				return p.Kind == protocol.Data && p.Phase == phase && p.Round == round
			})
			if err != nil {
				return fmt.Errorf("%s round %d: %w", name, round, err)
			}
			total += p.Count
			if err := e.handleAll(q, p.Messages); err != nil {
				return err
			}
		}
		exchangeRounds.WithLabelValues(e.label, name).Inc()
		e.logger.Debug("exchange round", slog.String("phase", name), slog.Int("round", round), slog.Int("total", total))
		if total == 0 {
			return nil
		}
	}
}

// iexchange sends and handles messages as they come and stops after two
// consecutive control waves report the same balanced totals of sent and
// received messages. A block joins a wave only when it has no local work.
func (e *Engine) iexchange(ctx context.Context, name string, q queue) error {
	rank, size := e.tr.Rank(), e.tr.Size()
	phase := e.phase
	isData := func(p protocol.Packet) bool { return p.Kind == protocol.Data && p.Phase == phase }

	var sent, received int64
	prevSent, prevReceived := int64(-1), int64(-1)
	for wave := 0; ; wave++ {
		for {
			out := q.Drain()
			byPeer, err := e.split(out)
			if err != nil {
				return err
			}
			for to, msgs := range byPeer {
				if len(msgs) == 0 {
					continue
				}
				if err := e.tr.Send(ctx, to, protocol.Packet{Kind: protocol.Data, Phase: phase, Count: len(msgs), Messages: msgs}); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
			sent += int64(len(out))

			handled := false
			for {
				p, ok := e.poll(isData)
				if !ok {
					break
				}
				received += int64(len(p.Messages))
				if err := e.handleAll(q, p.Messages); err != nil {
					return err
				}
				handled = true
			}
			if len(out) == 0 && !handled {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		ctrl := protocol.Packet{Kind: protocol.Control, Phase: phase, Round: wave, Sent: sent, Received: received}
		for to := 0; to < size; to++ {
			if to == rank {
				continue
			}
			if err := e.tr.Send(ctx, to, ctrl); err != nil {
				return fmt.Errorf("%s wave %d: %w", name, wave, err)
			}
		}
		totalSent, totalReceived := sent, received
		for i := 0; i < size-1; {
			p, err := e.next(ctx, func(p protocol.Packet) bool {
				return isData(p) || (p.Kind == protocol.Control && p.Phase == phase && p.Round == wave)
			})
			if err != nil {
				return fmt.Errorf("%s wave %d: %w", name, wave, err)
			}
			if p.Kind == protocol.Data {
				received += int64(len(p.Messages))
				if err := e.handleAll(q, p.Messages); err != nil {
					return err
				}
				continue
			}
			totalSent += p.Sent
			totalReceived += p.Received
			i++
		}
		controlWaves.WithLabelValues(e.label, name).Inc()
		e.logger.Debug("control wave", slog.String("phase", name), slog.Int("wave", wave),
			slog.Int64("sent", totalSent), slog.Int64("received", totalReceived))

		if totalSent == totalReceived && totalSent == prevSent && totalReceived == prevReceived {
			return nil
		}
		prevSent, prevReceived = totalSent, totalReceived
	}
}

// run drives q to global quiescence with the configured strategy
func (e *Engine) run(ctx context.Context, name string, q queue) error {
	if e.strategy == Async {
		return e.iexchange(ctx, name, q)
	}
	return e.exchange(ctx, name, q)
}

// allGather sends p to every peer and returns the packets of all blocks
// of the current phase indexed by rank
func (e *Engine) allGather(ctx context.Context, p protocol.Packet) ([]protocol.Packet, error) {
	rank, size := e.tr.Rank(), e.tr.Size()
	p.Phase, p.From = e.phase, rank
	out := make([]protocol.Packet, size)
	out[rank] = p
	for to := 0; to < size; to++ {
		if to == rank {
			continue
		}
		if err := e.tr.Send(ctx, to, p); err != nil {
			return nil, err
		}
	}
	phase, kind := e.phase, p.Kind
	for i := 0; i < size-1; i++ {
		q, err := e.next(ctx, func(q protocol.Packet) bool { return q.Kind == kind && q.Phase == phase })
		if err != nil {
			return nil, err
		}
		out[q.From] = q
	}
	return out, nil
}
