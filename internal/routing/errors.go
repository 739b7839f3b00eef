package routing

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

var (
	// ErrNoRoute is matched by every NoRouteError.
	ErrNoRoute = errors.New("no route")
	// ErrUnknownNode is returned when a request names a node that does not exist.
	ErrUnknownNode = errors.New("unknown node")
	// ErrInvalidRequest is returned for malformed route requests.
	ErrInvalidRequest = errors.New("invalid route request")
)

// NoRouteError reports that source and destination are not connected inside
// the pruned region. It is a topology fact and is never retried.
type NoRouteError struct {
	Source      model.NodeID
	Destination model.NodeID
	// InRegion is the number of nodes the search was allowed to use.
	InRegion int
	// Cause is set when the route failed because a prerequisite route did.
	Cause error
}

func (e *NoRouteError) Error() string {
	msg := fmt.Sprintf("no route from %v to %v within pruned region (%d nodes)", e.Source, e.Destination, e.InRegion)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap lets errors.Is match ErrNoRoute.
func (e *NoRouteError) Unwrap() error { return ErrNoRoute }
