// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/kb"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// Re-export node sentinel errors so callers can depend on state.*
// instead of kb.* directly if they want to.
var (
	// ErrNodeExists indicates a node already exists.
	ErrNodeExists = kb.ErrNodeExists
	// ErrNodeNotFound indicates a requested node was not found.
	ErrNodeNotFound = kb.ErrNodeNotFound
	// ErrRequestInvalid indicates a scheduling request failed validation.
	ErrRequestInvalid = errors.New("invalid request")
)

// Request is one scheduled source with its destinations and the packets
// created for it.
type Request struct {
	Source       model.NodeID
	Destinations []model.NodeID
	Packets      []model.PacketID
}

// ScenarioState is the explicit simulation state: the node table, the
// scheduled requests and the packet ID sequence. Reset hooks let the
// engines that cache derived state start over together with it.
type ScenarioState struct {
	// mu is the coarse scenario-level lock. Take this before touching the
	// KB to keep the lock order ScenarioState -> KB.
	mu sync.RWMutex

	nodes    *kb.KnowledgeBase
	requests []*Request
	pairs    map[model.Pair]struct{}
	nextID   int

	// motion is an optional motion model reset alongside scenario clears.
	motion motionResetter
	// resetters are engines whose state is derived from the scenario.
	resetters []resetter

	log     logging.Logger
	metrics ScenarioMetricsRecorder
}

// ScenarioSnapshot captures a consistent view of the scenario.
type ScenarioSnapshot struct {
	Nodes    []NodeSnapshot
	Pairs    []model.Pair
	Requests []Request
	Packets  int
}

// NodeSnapshot is a node's identity and position at snapshot time.
type NodeSnapshot struct {
	ID       model.NodeID
	Position core.Vec3
}

// ScenarioMetricsRecorder receives count updates for core scenario entities.
type ScenarioMetricsRecorder interface {
	SetScenarioCounts(nodes, pairs, packets int)
}

type motionResetter interface {
	Reset()
}

type resetter interface {
	Reset()
}

// ScenarioStateOption customises ScenarioState construction.
type ScenarioStateOption func(*ScenarioState)

// WithMotionModel attaches a motion model whose internal state should be
// rewound when ClearScenario is invoked.
func WithMotionModel(m motionResetter) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.motion = m
	}
}

// WithResetter attaches an engine whose derived state is discarded
// alongside scenario data.
func WithResetter(r resetter) ScenarioStateOption {
	return func(s *ScenarioState) {
		if r != nil {
			s.resetters = append(s.resetters, r)
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder for entity counts.
func WithMetricsRecorder(m ScenarioMetricsRecorder) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.metrics = m
	}
}

// NewScenarioState wraps a node table and prepares empty request storage.
func NewScenarioState(nodes *kb.KnowledgeBase, log logging.Logger, opts ...ScenarioStateOption) *ScenarioState {
	if log == nil {
		log = logging.Noop()
	}
	if nodes == nil {
		nodes = kb.NewKnowledgeBase()
	}
	state := &ScenarioState{
		nodes: nodes,
		pairs: make(map[model.Pair]struct{}),
		log:   log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(state)
		}
	}
	state.updateMetricsLocked()
	return state
}

// AddResetter registers an engine after construction.
func (s *ScenarioState) AddResetter(r resetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r != nil {
		s.resetters = append(s.resetters, r)
	}
}

// Nodes exposes the node table.
func (s *ScenarioState) Nodes() *kb.KnowledgeBase {
	return s.nodes
}

// WithReadLock executes fn while holding the ScenarioState read lock.
// Callers must not invoke other ScenarioState methods that also take the
// lock from inside fn to avoid self-deadlock.
func (s *ScenarioState) WithReadLock(fn func() error) error {
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// WithWriteLock executes fn while holding the ScenarioState write lock.
func (s *ScenarioState) WithWriteLock(fn func() error) error {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// AddNode inserts a node at pos.
func (s *ScenarioState) AddNode(id model.NodeID, pos core.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.nodes.AddNode(core.NewNode(id, pos)); err != nil {
		return err
	}
	s.updateMetricsLocked()
	return nil
}

// MoveNode updates a node's position.
func (s *ScenarioState) MoveNode(id model.NodeID, pos core.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.UpdateNodePosition(id, pos)
}

// AddRequest validates and records a scheduling request. Destinations are
// deduplicated; every (source, destination) pair becomes active.
func (s *ScenarioState) AddRequest(source model.NodeID, destinations []model.NodeID) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodes.GetNode(source) == nil {
		return nil, fmt.Errorf("%w: source %v: %w", ErrRequestInvalid, source, ErrNodeNotFound)
	}
	if len(destinations) == 0 {
		return nil, fmt.Errorf("%w: no destinations", ErrRequestInvalid)
	}
	seen := make(map[model.NodeID]bool, len(destinations))
	req := &Request{Source: source}
	for _, d := range destinations {
		if d == source {
			return nil, fmt.Errorf("%w: destination %v equals source", ErrRequestInvalid, d)
		}
		if s.nodes.GetNode(d) == nil {
			return nil, fmt.Errorf("%w: destination %v: %w", ErrRequestInvalid, d, ErrNodeNotFound)
		}
		if !seen[d] {
			seen[d] = true
			req.Destinations = append(req.Destinations, d)
		}
	}
	sort.Slice(req.Destinations, func(i, j int) bool { return req.Destinations[i] < req.Destinations[j] })

	for _, d := range req.Destinations {
		s.pairs[model.Pair{Source: source, Destination: d}] = struct{}{}
	}
	s.requests = append(s.requests, req)
	s.updateMetricsLocked()
	s.log.Debug(context.Background(), "request recorded",
		logging.Int("source", int(source)),
		logging.Int("destinations", len(req.Destinations)),
	)
	return req, nil
}

// NextPacketID allocates a packet identifier and attaches it to req.
func (s *ScenarioState) NextPacketID(req *Request) model.PacketID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := model.NewPacketID(s.nextID)
	if req != nil {
		req.Packets = append(req.Packets, id)
	}
	s.updateMetricsLocked()
	return id
}

// Pairs returns every active pair in order.
func (s *ScenarioState) Pairs() []model.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairsLocked()
}

func (s *ScenarioState) pairsLocked() []model.Pair {
	out := make([]model.Pair, 0, len(s.pairs))
	for p := range s.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}

// Snapshot returns a coherent view of the current scenario state.
func (s *ScenarioState) Snapshot() *ScenarioSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &ScenarioSnapshot{
		Pairs:   s.pairsLocked(),
		Packets: s.nextID,
	}
	for _, n := range s.nodes.ListNodes() {
		snap.Nodes = append(snap.Nodes, NodeSnapshot{ID: n.ID, Position: n.Position})
	}
	for _, r := range s.requests {
		snap.Requests = append(snap.Requests, Request{
			Source:       r.Source,
			Destinations: append([]model.NodeID(nil), r.Destinations...),
			Packets:      append([]model.PacketID(nil), r.Packets...),
		})
	}
	return snap
}

// ClearScenario discards nodes, requests and packet numbering, and resets
// the attached motion model and engines.
func (s *ScenarioState) ClearScenario() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes.Clear()
	s.requests = nil
	s.pairs = make(map[model.Pair]struct{})
	s.nextID = 0
	if s.motion != nil {
		s.motion.Reset()
	}
	for _, r := range s.resetters {
		r.Reset()
	}
	s.updateMetricsLocked()
}

// updateMetricsLocked pushes current counts. Caller must hold s.mu.
func (s *ScenarioState) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetScenarioCounts(s.nodes.Len(), len(s.pairs), s.nextID)
}
