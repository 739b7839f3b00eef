package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// MetricTable holds a node's link metrics toward in-region neighbours for
// one destination, as of the last refresh.
type MetricTable struct {
	Links     map[model.NodeID]float64
	UpdatedAt time.Duration
	Refreshes int
}

// Node is one UAV: a position plus the per-destination link-metric tables
// maintained by the routing engine.
type Node struct {
	ID       model.NodeID
	Position Vec3

	metrics map[model.NodeID]*MetricTable
}

// NewNode creates a node with no metric state.
func NewNode(id model.NodeID, pos Vec3) *Node {
	return &Node{ID: id, Position: pos, metrics: make(map[model.NodeID]*MetricTable)}
}

// Endpoint returns the node as a radio endpoint at its current position.
func (n *Node) Endpoint() Endpoint {
	return Endpoint{ID: n.ID, Position: n.Position}
}

// LinkMetric returns the stored metric toward neighbour for destination.
func (n *Node) LinkMetric(destination, neighbour model.NodeID) (float64, bool) {
	t, ok := n.metrics[destination]
	if !ok {
		return 0, false
	}
	v, ok := t.Links[neighbour]
	return v, ok
}

// Neighbours lists neighbours with a stored metric for destination, in ID order.
func (n *Node) Neighbours(destination model.NodeID) []model.NodeID {
	t, ok := n.metrics[destination]
	if !ok {
		return nil
	}
	out := make([]model.NodeID, 0, len(t.Links))
	for id := range t.Links {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MetricTable returns a copy of the table for destination.
func (n *Node) MetricTable(destination model.NodeID) (MetricTable, bool) {
	t, ok := n.metrics[destination]
	if !ok {
		return MetricTable{}, false
	}
	out := *t
	out.Links = make(map[model.NodeID]float64, len(t.Links))
	for k, v := range t.Links {
		out.Links[k] = v
	}
	return out, true
}

// StoreMetrics replaces the table for destination.
func (n *Node) StoreMetrics(destination model.NodeID, links map[model.NodeID]float64, now time.Duration) {
	if n.metrics == nil {
		n.metrics = make(map[model.NodeID]*MetricTable)
	}
	t, ok := n.metrics[destination]
	if !ok {
		t = &MetricTable{}
		n.metrics[destination] = t
	}
	t.Links = links
	t.UpdatedAt = now
	t.Refreshes++
}

// ClearMetrics drops every metric table.
func (n *Node) ClearMetrics() {
	n.metrics = make(map[model.NodeID]*MetricTable)
}
