package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRoute is returned when a route is not a simple source-to-destination path.
var ErrInvalidRoute = errors.New("invalid route")

// Route is an ordered hop list starting at Source and ending at Destination.
// A route with a single hop is never produced; Source and Destination are
// always distinct.
type Route struct {
	Source      NodeID
	Destination NodeID
	Hops        []NodeID

	// Cost is the summed link metric along Hops at build time.
	Cost float64
	// VirtualRoot is set when the route was built through a merged
	// destination group.
	VirtualRoot *NodeID
}

// NewRoute builds a validated route from an ordered hop list.
func NewRoute(hops []NodeID, cost float64) (*Route, error) {
	r := &Route{Hops: append([]NodeID(nil), hops...), Cost: cost}
	if len(hops) > 0 {
		r.Source = hops[0]
		r.Destination = hops[len(hops)-1]
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that the route is a simple path between its endpoints.
func (r *Route) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil route", ErrInvalidRoute)
	}
	if len(r.Hops) < 2 {
		return fmt.Errorf("%w: need at least two hops, got %d", ErrInvalidRoute, len(r.Hops))
	}
	if r.Hops[0] != r.Source || r.Hops[len(r.Hops)-1] != r.Destination {
		return fmt.Errorf("%w: endpoints %v/%v do not match hops", ErrInvalidRoute, r.Source, r.Destination)
	}
	seen := make(map[NodeID]struct{}, len(r.Hops))
	for _, h := range r.Hops {
		if _, dup := seen[h]; dup {
			return fmt.Errorf("%w: node %v repeated", ErrInvalidRoute, h)
		}
		seen[h] = struct{}{}
	}
	return nil
}

// Len returns the number of hops (links) on the route.
func (r *Route) Len() int {
	if r == nil || len(r.Hops) == 0 {
		return 0
	}
	return len(r.Hops) - 1
}

// Next returns the node after index i, or false at the end of the route.
func (r *Route) Next(i int) (NodeID, bool) {
	if r == nil || i < 0 || i+1 >= len(r.Hops) {
		return 0, false
	}
	return r.Hops[i+1], true
}

// Contains reports whether id appears anywhere on the route.
func (r *Route) Contains(id NodeID) bool {
	if r == nil {
		return false
	}
	for _, h := range r.Hops {
		if h == id {
			return true
		}
	}
	return false
}

// String renders the hops as "1->2->3".
func (r *Route) String() string {
	if r == nil {
		return "<nil>"
	}
	parts := make([]string, len(r.Hops))
	for i, h := range r.Hops {
		parts[i] = fmt.Sprint(int(h))
	}
	return strings.Join(parts, "->")
}

// Clone returns a deep copy.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	out := *r
	out.Hops = append([]NodeID(nil), r.Hops...)
	if r.VirtualRoot != nil {
		root := *r.VirtualRoot
		out.VirtualRoot = &root
	}
	return &out
}
