package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

var (
	// ErrNodeExists is returned when adding a node whose ID is taken.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound is returned for unknown node IDs.
	ErrNodeNotFound = errors.New("node not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeMoved
	EventNodeRemoved
	EventCleared
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type     EventType
	NodeID   model.NodeID
	Position core.Vec3
}

// KnowledgeBase is an in-memory, thread-safe table of UAV nodes.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes map[model.NodeID]*core.Node

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes: make(map[model.NodeID]*core.Node),
		subs:  make(map[int]func(Event)),
	}
}

// AddNode adds a new node. The KB keeps the pointer so the routing engine
// can maintain metric tables in place.
func (kb *KnowledgeBase) AddNode(n *core.Node) error {
	if n == nil {
		return fmt.Errorf("add node: nil node")
	}
	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNodeExists, n.ID)
	}
	kb.nodes[n.ID] = n
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventNodeAdded, NodeID: n.ID, Position: n.Position})
	return nil
}

// GetNode returns the node with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetNode(id model.NodeID) *core.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// Position returns the node's current position.
func (kb *KnowledgeBase) Position(id model.NodeID) (core.Vec3, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n, ok := kb.nodes[id]
	if !ok {
		return core.Vec3{}, false
	}
	return n.Position, true
}

// ListNodes returns all nodes ordered by ID.
func (kb *KnowledgeBase) ListNodes() []*core.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*core.Node, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Positions returns a copy of every node position keyed by ID.
func (kb *KnowledgeBase) Positions() map[model.NodeID]core.Vec3 {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make(map[model.NodeID]core.Vec3, len(kb.nodes))
	for id, n := range kb.nodes {
		out[id] = n.Position
	}
	return out
}

// Len returns the number of nodes.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// UpdateNodePosition moves a node and notifies subscribers.
func (kb *KnowledgeBase) UpdateNodePosition(id model.NodeID, pos core.Vec3) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNodeNotFound, id)
	}
	n.Position = pos
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, Event{Type: EventNodeMoved, NodeID: id, Position: pos})
	return nil
}

// RemoveNode deletes a node.
func (kb *KnowledgeBase) RemoveNode(id model.NodeID) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNodeNotFound, id)
	}
	delete(kb.nodes, id)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventNodeRemoved, NodeID: id, Position: n.Position})
	return nil
}

// Clear removes every node. Subscriptions survive.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	kb.nodes = make(map[model.NodeID]*core.Node)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventCleared})
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// subscribersLocked snapshots callbacks in registration order.
func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
