// Package protocol defines the messages exchanged between blocks during
// the distributed union-find phases.
package protocol

import (
	"fmt"

	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/mesh"
)

// MessageKind selects how a Message is handled by its receiver
type MessageKind uint8

const (
	// Union asks the owner of Target to merge it with Ref
	Union MessageKind = iota
	// Query asks the owner of Target for its parent on behalf of Origin
	Query
	// Reply answers a Query: Ref is the parent of the queried element,
	// Root reports whether Ref is a root
	Reply
	// Member delivers the Intersection of a component member to the
	// owner of the component root Target
	Member
)

func (k MessageKind) String() string {
	switch k {
	case Union:
		return "union"
	case Query:
		return "query"
	case Reply:
		return "reply"
	case Member:
		return "member"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is one block-to-block request. To is the destination block and
// is not transmitted.
type Message struct {
	Kind   MessageKind    `json:"k"`
	Target mesh.ElementID `json:"t"`
	Ref    mesh.ElementID `json:"r,omitempty"`
	Origin mesh.ElementID `json:"o,omitempty"`
	Root   bool           `json:"root,omitempty"`

	Intersection *feature.Intersection `json:"in,omitempty"`

	To int `json:"-"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s{%s %s %s -> %d}", m.Kind, m.Target, m.Ref, m.Origin, m.To)
}

// PacketKind distinguishes payload traffic from termination detection
type PacketKind uint8

const (
	// Data carries messages
	Data PacketKind = iota
	// Control carries the counters of a termination wave
	Control
	// Blob carries an opaque payload for collective gathers
	Blob
)

// Packet is the unit handed to a transport
type Packet struct {
	From int        `json:"from"`
	Kind PacketKind `json:"kind"`

	// Phase numbers the collective operation the packet belongs to, Round
	// the synchronous round or control wave inside it
	Phase int `json:"phase"`
	Round int `json:"round"`

	// Count is the number of messages the sender queued this round
	Count int `json:"count,omitempty"`

	// Sent and Received are the sender's message counters in a control wave
	Sent     int64 `json:"sent,omitempty"`
	Received int64 `json:"received,omitempty"`

	Messages []Message `json:"messages,omitempty"`
	Blob     []byte    `json:"blob,omitempty"`
}
