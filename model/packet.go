package model

import (
	"fmt"
	"time"
)

// PacketID identifies a packet, formatted "pkt-N".
type PacketID string

// NewPacketID formats the n-th packet identifier.
func NewPacketID(n int) PacketID { return PacketID(fmt.Sprintf("pkt-%d", n)) }

// Seq extracts N from "pkt-N"; malformed IDs sort last.
func (id PacketID) Seq() int {
	var n int
	if _, err := fmt.Sscanf(string(id), "pkt-%d", &n); err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// PacketStatus is the delivery state of a packet.
type PacketStatus int

const (
	PacketInFlight PacketStatus = iota
	PacketDelivered
	PacketDropped
)

func (s PacketStatus) String() string {
	switch s {
	case PacketInFlight:
		return "in_flight"
	case PacketDelivered:
		return "delivered"
	case PacketDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s PacketStatus) Terminal() bool { return s == PacketDelivered || s == PacketDropped }

// EventKind tags a packet event log entry.
type EventKind string

const (
	EventCreated             EventKind = "created"
	EventHopSuccess          EventKind = "success"
	EventDelivered           EventKind = "delivered"
	EventWaiting             EventKind = "waiting"
	EventCollision           EventKind = "collision"
	EventRangeFailure        EventKind = "range_failure"
	EventReceptionFailure    EventKind = "reception_failure"
	EventInterferenceFailure EventKind = "interference_failure"
	EventDropped             EventKind = "dropped"
)

// Failure reports whether the event counts as a failed transmission attempt.
func (k EventKind) Failure() bool {
	switch k {
	case EventCollision, EventRangeFailure, EventReceptionFailure, EventInterferenceFailure:
		return true
	}
	return false
}

// Event is one append-only entry in a packet's log.
type Event struct {
	Round  int
	Time   time.Duration
	Kind   EventKind
	Holder NodeID
	// Peer is the intended receiver for transmission events.
	Peer NodeID
	Info string
}

// Packet is a single message travelling along an owned, precomputed route.
type Packet struct {
	ID          PacketID
	Source      NodeID
	Destination NodeID
	Route       *Route

	// HopIndex is the position of Holder within Route.Hops.
	HopIndex int
	Holder   NodeID
	Status   PacketStatus

	// Retransmissions counts failed attempts (collisions and physical
	// failures) over the packet's lifetime.
	Retransmissions int
	// Energy is the accumulated radio energy spent on this packet.
	Energy float64

	CreatedAt   time.Duration
	CompletedAt time.Duration
	Events      []Event
}

// NewPacket creates an in-flight packet held by the route's source.
func NewPacket(id PacketID, route *Route, now time.Duration) (*Packet, error) {
	if err := route.Validate(); err != nil {
		return nil, err
	}
	p := &Packet{
		ID:          id,
		Source:      route.Source,
		Destination: route.Destination,
		Route:       route.Clone(),
		Holder:      route.Source,
		Status:      PacketInFlight,
		CreatedAt:   now,
	}
	return p, nil
}

// NextHop returns the intended receiver for the packet's current holder.
func (p *Packet) NextHop() (NodeID, bool) {
	if p == nil || p.Status != PacketInFlight {
		return 0, false
	}
	return p.Route.Next(p.HopIndex)
}

// Record appends an event to the packet log.
func (p *Packet) Record(ev Event) {
	p.Events = append(p.Events, ev)
}

// Clone returns a deep copy suitable for read-only snapshots.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	out := *p
	out.Route = p.Route.Clone()
	out.Events = append([]Event(nil), p.Events...)
	return &out
}

// Outcome is the terminal summary of one packet.
type Outcome struct {
	PacketID        PacketID
	Source          NodeID
	Destination     NodeID
	Status          PacketStatus
	Hops            int
	Retransmissions int
	Energy          float64
	Latency         time.Duration
}

// Outcome summarises the packet. Latency is zero until the packet is terminal.
func (p *Packet) Outcome() Outcome {
	o := Outcome{
		PacketID:        p.ID,
		Source:          p.Source,
		Destination:     p.Destination,
		Status:          p.Status,
		Hops:            p.HopIndex,
		Retransmissions: p.Retransmissions,
		Energy:          p.Energy,
	}
	if p.Status.Terminal() {
		o.Latency = p.CompletedAt - p.CreatedAt
	}
	return o
}
