package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// MulticastPlan is the set of routes serving one source and a batch of
// destinations. Destinations that could not be routed are listed in
// Failures with their NoRouteError.
type MulticastPlan struct {
	Source   model.NodeID
	Groups   []model.VirtualRootGroup
	Routes   map[model.NodeID]*model.Route
	Failures map[model.NodeID]error

	// uses holds every pair a route of this plan was searched over,
	// successful or not.
	uses map[model.Pair]bool
}

// Destinations lists routed destinations in order.
func (p *MulticastPlan) Destinations() []model.NodeID {
	out := make([]model.NodeID, 0, len(p.Routes))
	for d := range p.Routes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BuildMulticast plans routes from source to every destination. Destinations
// closer than the merge threshold are clustered; each cluster of two or more
// is served by a trunk to its virtual root and branches from there, so every
// member route shares the trunk as a prefix. The request is remembered and
// re-planned after each refresh cycle.
func (e *Engine) BuildMulticast(ctx context.Context, source model.NodeID, destinations []model.NodeID) (*MulticastPlan, error) {
	r, err := e.normaliseRequest(source, destinations)
	if err != nil {
		return nil, err
	}
	plan, err := e.plan(ctx, r)
	if err != nil {
		return nil, err
	}
	e.remember(r)
	e.plans[r.key()] = plan
	return plan, nil
}

func (e *Engine) normaliseRequest(source model.NodeID, destinations []model.NodeID) (request, error) {
	if len(destinations) == 0 {
		return request{}, fmt.Errorf("%w: no destinations", ErrInvalidRequest)
	}
	if e.nodes.GetNode(source) == nil {
		return request{}, fmt.Errorf("%w: %v", ErrUnknownNode, source)
	}
	seen := make(map[model.NodeID]bool, len(destinations))
	out := make([]model.NodeID, 0, len(destinations))
	for _, d := range destinations {
		if d == source {
			return request{}, fmt.Errorf("%w: destination %v is the source: %w", ErrInvalidRequest, d, core.ErrDegeneratePair)
		}
		if e.nodes.GetNode(d) == nil {
			return request{}, fmt.Errorf("%w: %v", ErrUnknownNode, d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return request{source: source, destinations: out}, nil
}

func (e *Engine) plan(ctx context.Context, r request) (*MulticastPlan, error) {
	plan := &MulticastPlan{
		Source:   r.source,
		Routes:   make(map[model.NodeID]*model.Route),
		Failures: make(map[model.NodeID]error),
		uses:     make(map[model.Pair]bool),
	}

	positions := make(map[model.NodeID]core.Vec3, len(r.destinations))
	for _, d := range r.destinations {
		n := e.nodes.GetNode(d)
		if n == nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownNode, d)
		}
		positions[d] = n.Position
	}

	for _, cluster := range ClusterDestinations(r.destinations, positions, e.mergeThreshold) {
		if len(cluster) == 1 {
			d := cluster[0]
			route, err := e.routeFor(ctx, plan, r.source, d, nil)
			if err != nil {
				if !errors.Is(err, ErrNoRoute) {
					return nil, err
				}
				plan.Failures[d] = err
				continue
			}
			plan.Routes[d] = route
			continue
		}

		root := SelectVirtualRoot(cluster, positions)
		group, err := e.planGroup(ctx, plan, model.VirtualRootGroup{Source: r.source, Root: root, Members: cluster})
		if err != nil {
			return nil, err
		}
		if len(group.Members) >= 2 {
			plan.Groups = append(plan.Groups, group)
		}
	}
	return plan, nil
}

// planGroup builds the trunk to the virtual root and a branch to every other
// member. Branches avoid trunk nodes so each merged route stays simple.
// Members that cannot hang off the root fall back to their own route and
// leave the group; the returned group lists only members served through
// the root.
func (e *Engine) planGroup(ctx context.Context, plan *MulticastPlan, g model.VirtualRootGroup) (model.VirtualRootGroup, error) {
	served := model.VirtualRootGroup{Source: g.Source, Root: g.Root}
	var detached []model.NodeID

	trunk, err := e.routeFor(ctx, plan, g.Source, g.Root, nil)
	if err != nil {
		if !errors.Is(err, ErrNoRoute) {
			return served, err
		}
		plan.Failures[g.Root] = err
		for _, m := range g.Members {
			if m != g.Root {
				detached = append(detached, m)
			}
		}
		return served, e.planDetached(ctx, plan, g.Source, detached, err)
	}

	root := g.Root
	avoid := make(map[model.NodeID]bool, len(trunk.Hops))
	for _, h := range trunk.Hops[:len(trunk.Hops)-1] {
		avoid[h] = true
	}

	branches := make(map[model.NodeID]*model.Route)
	for _, m := range g.Members {
		if m == root {
			continue
		}
		if avoid[m] {
			// Already upstream of the root on the trunk.
			detached = append(detached, m)
			continue
		}
		branch, err := e.routeFor(ctx, plan, root, m, avoid)
		if err != nil {
			if !errors.Is(err, ErrNoRoute) {
				return served, err
			}
			detached = append(detached, m)
			continue
		}
		hops := append(append([]model.NodeID(nil), trunk.Hops...), branch.Hops[1:]...)
		merged, err := model.NewRoute(hops, trunk.Cost+branch.Cost)
		if err != nil {
			return served, fmt.Errorf("merge route to %v: %w", m, err)
		}
		branches[m] = merged
	}

	if len(branches) > 0 {
		trunk.VirtualRoot = &root
		for _, r := range branches {
			r.VirtualRoot = &root
		}
	}
	plan.Routes[root] = trunk
	for _, m := range g.Members {
		if m == root {
			served.Members = append(served.Members, m)
		} else if r, ok := branches[m]; ok {
			plan.Routes[m] = r
			served.Members = append(served.Members, m)
		}
	}

	e.log.Debug(ctx, "virtual root group planned",
		logging.Int("source", int(g.Source)),
		logging.Int("root", int(root)),
		logging.Int("members", len(g.Members)),
		logging.Int("branches", len(branches)),
	)
	return served, e.planDetached(ctx, plan, g.Source, detached, nil)
}

// planDetached routes cluster members that could not join the shared tree.
// When cause is the trunk failure that detached them, it is attached to
// each member's own NoRouteError.
func (e *Engine) planDetached(ctx context.Context, plan *MulticastPlan, source model.NodeID, members []model.NodeID, cause error) error {
	for _, m := range members {
		route, err := e.routeFor(ctx, plan, source, m, nil)
		if err != nil {
			if !errors.Is(err, ErrNoRoute) {
				return err
			}
			var nre *NoRouteError
			if cause != nil && errors.As(err, &nre) {
				nre.Cause = cause
			}
			plan.Failures[m] = err
			continue
		}
		plan.Routes[m] = route
	}
	return nil
}

// routeFor builds a route on behalf of plan and records the pair it used.
func (e *Engine) routeFor(ctx context.Context, plan *MulticastPlan, source, destination model.NodeID, avoid map[model.NodeID]bool) (*model.Route, error) {
	plan.uses[model.Pair{Source: source, Destination: destination}] = true
	return e.buildRoute(ctx, source, destination, avoid)
}

// ClusterDestinations groups destinations into connected components of the
// graph joining any two closer than threshold. Clusters and their members
// are sorted by node ID.
func ClusterDestinations(destinations []model.NodeID, positions map[model.NodeID]core.Vec3, threshold float64) [][]model.NodeID {
	ids := append([]model.NodeID(nil), destinations...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parent := make(map[model.NodeID]model.NodeID, len(ids))
	for _, id := range ids {
		parent[id] = id
	}
	var find func(model.NodeID) model.NodeID
	find = func(x model.NodeID) model.NodeID {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if positions[ids[i]].DistanceTo(positions[ids[j]]) < threshold {
				a, b := find(ids[i]), find(ids[j])
				if a == b {
					continue
				}
				if a < b {
					parent[b] = a
				} else {
					parent[a] = b
				}
			}
		}
	}

	byRoot := make(map[model.NodeID][]model.NodeID)
	var roots []model.NodeID
	for _, id := range ids {
		r := find(id)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], id)
	}
	out := make([][]model.NodeID, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	return out
}

// SelectVirtualRoot picks the member with the smallest summed distance to
// the others, lowest ID on ties.
func SelectVirtualRoot(members []model.NodeID, positions map[model.NodeID]core.Vec3) model.NodeID {
	best := members[0]
	bestSum := -1.0
	for _, m := range members {
		sum := 0.0
		for _, o := range members {
			sum += positions[m].DistanceTo(positions[o])
		}
		if bestSum < 0 || sum < bestSum-costEpsilon || (sum <= bestSum+costEpsilon && m < best) {
			best, bestSum = m, sum
		}
	}
	return best
}
