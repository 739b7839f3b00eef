package mac

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

var (
	// ErrPacketExists is returned when enqueuing a duplicate packet ID.
	ErrPacketExists = errors.New("packet already exists")
	// ErrInvalidPacket is returned for packets that cannot be scheduled.
	ErrInvalidPacket = errors.New("invalid packet")
)

// PhysicalLayer resolves one transmission attempt.
type PhysicalLayer interface {
	Attempt(sender, receiver core.Endpoint, concurrent []core.Endpoint, rng core.Sampler) core.Outcome
}

// PositionSource supplies current node positions.
type PositionSource interface {
	Position(id model.NodeID) (core.Vec3, bool)
}

// MetricsRecorder receives one report per round.
type MetricsRecorder interface {
	RecordRound(r RoundReport)
}

// EnergyModel prices radio activity. A retransmission costs Send times
// RetransmissionPenalty.
type EnergyModel struct {
	Send                  float64 `yaml:"send" json:"send"`
	Receive               float64 `yaml:"receive" json:"receive"`
	RetransmissionPenalty float64 `yaml:"retransmission_penalty" json:"retransmission_penalty"`
}

// DefaultEnergyModel returns the stock energy costs.
func DefaultEnergyModel() EnergyModel {
	return EnergyModel{Send: 0.5, Receive: 0.1, RetransmissionPenalty: 1.5}
}

// RoundReport summarises one arbitration round.
type RoundReport struct {
	Round      int
	Time       time.Duration
	Attempts   int
	Successes  int
	Collisions int
	Waiting    int
	// Failures counts physical failures by outcome kind.
	Failures   map[core.OutcomeKind]int
	Delivered  []model.PacketID
	Dropped    []model.PacketID
	QueueDepth int
	InFlight   int
}

// Option customises Engine construction.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder attaches a per-round recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEnergyModel overrides the energy costs.
func WithEnergyModel(m EnergyModel) Option {
	return func(e *Engine) { e.energy = m }
}

// Engine arbitrates access to the shared medium one round at a time. It is
// single-writer: callers serialise Enqueue, Step and Reset.
type Engine struct {
	phys      PhysicalLayer
	positions PositionSource
	rng       core.Sampler
	maxRetx   int
	energy    EnergyModel

	log     logging.Logger
	metrics MetricsRecorder

	round   int
	packets map[model.PacketID]*model.Packet
	// holders is the per-node FIFO of in-flight packets; only the head is
	// offered to the medium.
	holders map[model.NodeID][]model.PacketID
	queues  queueSet
	// hopFailures counts failed attempts on the packet's current hop.
	hopFailures map[model.PacketID]int
}

// NewEngine builds an arbiter. Packets whose retransmission count exceeds
// maxRetransmissions are dropped at the start of the following round.
func NewEngine(phys PhysicalLayer, positions PositionSource, rng core.Sampler, maxRetransmissions int, opts ...Option) *Engine {
	e := &Engine{
		phys:      phys,
		positions: positions,
		rng:       rng,
		maxRetx:   maxRetransmissions,
		energy:    DefaultEnergyModel(),
		log:       logging.Noop(),
	}
	e.Reset()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reset discards every packet and queue.
func (e *Engine) Reset() {
	e.round = 0
	e.packets = make(map[model.PacketID]*model.Packet)
	e.holders = make(map[model.NodeID][]model.PacketID)
	e.queues = make(queueSet)
	e.hopFailures = make(map[model.PacketID]int)
}

// Round returns the number of completed rounds.
func (e *Engine) Round() int { return e.round }

// Enqueue hands a freshly created packet to the arbiter.
func (e *Engine) Enqueue(p *model.Packet) error {
	if p == nil || p.Route == nil {
		return fmt.Errorf("%w: missing route", ErrInvalidPacket)
	}
	if _, ok := e.packets[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrPacketExists, p.ID)
	}
	if err := p.Route.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPacket, p.ID, err)
	}
	if p.Status != model.PacketInFlight {
		return fmt.Errorf("%w: %s is %s", ErrInvalidPacket, p.ID, p.Status)
	}
	if p.HopIndex < 0 || p.HopIndex >= len(p.Route.Hops)-1 || p.Route.Hops[p.HopIndex] != p.Holder {
		return fmt.Errorf("%w: %s holder %v does not match hop %d", ErrInvalidPacket, p.ID, p.Holder, p.HopIndex)
	}
	p.Record(model.Event{Round: e.round, Time: p.CreatedAt, Kind: model.EventCreated, Holder: p.Holder, Info: p.Route.String()})
	e.packets[p.ID] = p
	e.holders[p.Holder] = append(e.holders[p.Holder], p.ID)
	return nil
}

// Packet returns a snapshot of one packet.
func (e *Engine) Packet(id model.PacketID) (*model.Packet, bool) {
	p, ok := e.packets[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Packets returns snapshots of every packet ordered by ID sequence.
func (e *Engine) Packets() []*model.Packet {
	out := make([]*model.Packet, 0, len(e.packets))
	for _, id := range e.sortedIDs() {
		out = append(out, e.packets[id].Clone())
	}
	return out
}

// Queues returns copies of the live collision queues ordered by receiver.
func (e *Engine) Queues() []CollisionQueue {
	out := make([]CollisionQueue, 0, len(e.queues))
	for _, r := range e.queues.receivers() {
		out = append(out, e.queues[r].clone())
	}
	return out
}

// InFlight counts packets not yet terminal.
func (e *Engine) InFlight() int {
	n := 0
	for _, p := range e.packets {
		if p.Status == model.PacketInFlight {
			n++
		}
	}
	return n
}

// Done reports whether every packet is terminal.
func (e *Engine) Done() bool { return e.InFlight() == 0 }

func (e *Engine) sortedIDs() []model.PacketID {
	ids := make([]model.PacketID, 0, len(e.packets))
	for id := range e.packets {
		ids = append(ids, id)
	}
	sortPacketIDs(ids)
	return ids
}

func sortPacketIDs(ids []model.PacketID) {
	sort.Slice(ids, func(i, j int) bool { return packetLess(ids[i], ids[j]) })
}

// head returns the packet a node currently offers to the medium.
func (e *Engine) head(node model.NodeID) (*model.Packet, bool) {
	ids := e.holders[node]
	if len(ids) == 0 {
		return nil, false
	}
	return e.packets[ids[0]], true
}

func (e *Engine) release(node model.NodeID, id model.PacketID) {
	ids := e.holders[node]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(e.holders, node)
		return
	}
	e.holders[node] = ids
}
