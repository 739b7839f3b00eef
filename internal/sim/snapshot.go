package sim

import (
	"sort"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/internal/mac"
	"github.com/signalsfoundry/uav-delivery-sim/internal/routing"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim/state"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// Snapshot is a consistent read projection of the whole simulation.
type Snapshot struct {
	Round    int
	Time     time.Duration
	Protocol string
	Nodes    []state.NodeSnapshot
	Requests []state.Request
	Packets  []*model.Packet
	Queues   []mac.CollisionQueue
	Ellipses []routing.EllipseInfo
	Groups   []model.VirtualRootGroup
	Routes   []*model.Route
}

// Snapshot captures every diagnostic projection at the current round.
func (s *Simulator) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.state.Snapshot()
	snap := &Snapshot{
		Round:    s.clock.Round(),
		Time:     s.clock.Now(),
		Protocol: s.routing.Protocol().Name,
		Nodes:    sc.Nodes,
		Requests: sc.Requests,
		Packets:  s.mac.Packets(),
		Queues:   s.mac.Queues(),
		Ellipses: s.routing.Ellipses(),
		Groups:   s.routing.Groups(),
	}
	routes := s.routing.Routes()
	pairs := make([]model.Pair, 0, len(routes))
	for p := range routes {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Source != pairs[j].Source {
			return pairs[i].Source < pairs[j].Source
		}
		return pairs[i].Destination < pairs[j].Destination
	})
	for _, p := range pairs {
		snap.Routes = append(snap.Routes, routes[p])
	}
	return snap
}
