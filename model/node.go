package model

import "fmt"

// NodeID identifies a UAV in the swarm. IDs are assigned by the scenario and
// are stable for the lifetime of a run.
type NodeID int

func (id NodeID) String() string { return fmt.Sprintf("uav-%d", int(id)) }

// Pair is an ordered source/destination request. Each registered pair owns
// one pruning ellipse.
type Pair struct {
	Source      NodeID
	Destination NodeID
}

func (p Pair) String() string {
	return fmt.Sprintf("%d->%d", int(p.Source), int(p.Destination))
}

// VirtualRootGroup is a cluster of nearby destinations served through a
// shared trunk that ends at Root.
type VirtualRootGroup struct {
	Source  NodeID
	Root    NodeID
	Members []NodeID
}

// Contains reports whether id is one of the group's member destinations.
func (g VirtualRootGroup) Contains(id NodeID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}
