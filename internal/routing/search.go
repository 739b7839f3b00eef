package routing

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const costEpsilon = 1e-9

// BuildRoute returns the minimum-cost route from source to destination over
// the nodes inside the pair's region. The pair is registered and refreshed
// on first use. Failing to connect inside the region returns a NoRouteError;
// the search never widens beyond the region.
func (e *Engine) BuildRoute(ctx context.Context, source, destination model.NodeID) (*model.Route, error) {
	return e.buildRoute(ctx, source, destination, nil)
}

func (e *Engine) buildRoute(ctx context.Context, source, destination model.NodeID, avoid map[model.NodeID]bool) (*model.Route, error) {
	ctx, span := e.tracer.Start(ctx, "routing.BuildRoute", trace.WithAttributes(
		attribute.Int("source", int(source)),
		attribute.Int("destination", int(destination)),
	))
	defer span.End()
	start := time.Now()

	route, err := e.buildRouteLocked(ctx, model.Pair{Source: source, Destination: destination}, avoid)
	if e.metrics != nil {
		e.metrics.ObserveRouteBuild(time.Since(start), err == nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("hops", route.Len()), attribute.Float64("cost", route.Cost))
	return route, nil
}

func (e *Engine) buildRouteLocked(ctx context.Context, pair model.Pair, avoid map[model.NodeID]bool) (*model.Route, error) {
	st, err := e.ensurePair(ctx, pair)
	if err != nil {
		return nil, err
	}
	if !st.timing.Updated {
		e.refreshDestination(pair.Destination, []*pairState{st}, e.nodes.ListNodes(), e.now)
	}
	route, err := e.search(st, avoid)
	if err != nil {
		st.lastErr = err
		e.log.Warn(ctx, "route search failed",
			logging.String("pair", pair.String()),
			logging.String("error", err.Error()),
		)
		return nil, err
	}
	st.lastErr = nil
	return route, nil
}

// search runs Dijkstra over the pair's region using the stored link metrics
// toward the destination. An edge u->v exists only when v is in u's table
// and the two are within range now. Equal-cost candidates prefer the
// predecessor with the higher focal utility.
func (e *Engine) search(st *pairState, avoid map[model.NodeID]bool) (*model.Route, error) {
	src := e.nodes.GetNode(st.pair.Source)
	dst := e.nodes.GetNode(st.pair.Destination)
	if src == nil || dst == nil {
		return nil, &NoRouteError{Source: st.pair.Source, Destination: st.pair.Destination}
	}

	members := map[model.NodeID]*core.Node{src.ID: src, dst.ID: dst}
	for _, n := range e.nodes.ListNodes() {
		if avoid[n.ID] && n.ID != src.ID && n.ID != dst.ID {
			continue
		}
		if st.region.Contains(n.Position) {
			members[n.ID] = n
		}
	}
	utility := func(n *core.Node) float64 { return st.region.Utility(n.Position) }

	dist := map[model.NodeID]float64{src.ID: 0}
	prev := make(map[model.NodeID]model.NodeID)
	done := make(map[model.NodeID]bool)

	pq := &searchQueue{}
	heap.Push(pq, &searchItem{id: src.ID, cost: 0, utility: utility(src)})
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*searchItem)
		if done[item.id] {
			continue
		}
		done[item.id] = true
		if item.id == dst.ID {
			break
		}
		u := members[item.id]
		for _, vid := range u.Neighbours(dst.ID) {
			v, ok := members[vid]
			if !ok || done[vid] {
				continue
			}
			if !e.radio.InRange(u.Position, v.Position) {
				continue
			}
			w, _ := u.LinkMetric(dst.ID, vid)
			if !(w > 0) || math.IsInf(w, 1) {
				continue
			}
			nd := dist[u.ID] + w
			cur, seen := dist[vid]
			switch {
			case !seen || nd < cur-costEpsilon:
				dist[vid] = nd
				prev[vid] = u.ID
				heap.Push(pq, &searchItem{id: vid, cost: nd, utility: utility(v)})
			case math.Abs(nd-cur) <= costEpsilon && utility(u) > utility(members[prev[vid]]):
				prev[vid] = u.ID
			}
		}
	}

	if !done[dst.ID] {
		return nil, &NoRouteError{Source: src.ID, Destination: dst.ID, InRegion: len(members)}
	}

	hops := []model.NodeID{dst.ID}
	for id := dst.ID; id != src.ID; {
		id = prev[id]
		hops = append(hops, id)
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return model.NewRoute(hops, dist[dst.ID])
}

type searchItem struct {
	id      model.NodeID
	cost    float64
	utility float64
}

// searchQueue orders by cost, then higher utility, then lower ID.
type searchQueue []*searchItem

func (q searchQueue) Len() int { return len(q) }

func (q searchQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if math.Abs(a.cost-b.cost) > costEpsilon {
		return a.cost < b.cost
	}
	if a.utility != b.utility {
		return a.utility > b.utility
	}
	return a.id < b.id
}

func (q searchQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *searchQueue) Push(x any) { *q = append(*q, x.(*searchItem)) }

func (q *searchQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
