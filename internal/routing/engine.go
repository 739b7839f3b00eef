package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/kb"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/uav-delivery-sim/internal/routing"

// NodeSource is the node table the engine reads positions from and whose
// metric tables it maintains.
type NodeSource interface {
	ListNodes() []*core.Node
	GetNode(id model.NodeID) *core.Node
}

// RangeChecker decides radio adjacency.
type RangeChecker interface {
	InRange(a, b core.Vec3) bool
}

// LinkMetric prices a link by its length.
type LinkMetric interface {
	ETX(distance float64) float64
}

// MetricsRecorder receives routing measurements.
type MetricsRecorder interface {
	ObserveRouteBuild(d time.Duration, ok bool)
	AddMetricRefresh(inRegion, pruned int)
	SetActivePairs(n int)
}

// PruningStats summarises the last refresh of one pair.
type PruningStats struct {
	Refreshes  int
	InRegion   int
	Pruned     int
	LastUpdate time.Duration
}

type pairState struct {
	pair    model.Pair
	region  *core.EllipseRegion
	timing  PairTiming
	stats   PruningStats
	lastErr error
	// moved is set when a focus drifted past the boundary tolerance since
	// the region was built; the pair is refreshed on the next update.
	moved bool
}

// request is a remembered scheduling request, re-planned after every
// refresh cycle.
type request struct {
	source       model.NodeID
	destinations []model.NodeID
}

func (r request) key() string { return fmt.Sprintf("%v:%v", r.source, r.destinations) }

// Engine maintains pruned link metrics and builds routes over them.
type Engine struct {
	nodes          NodeSource
	radio          RangeChecker
	links          LinkMetric
	protocol       Protocol
	mergeThreshold float64

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	now      time.Duration
	pairs    map[model.Pair]*pairState
	requests map[string]request
	plans    map[string]*MulticastPlan
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

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMergeThreshold sets the distance under which destinations share a tree.
func WithMergeThreshold(d float64) Option {
	return func(e *Engine) { e.mergeThreshold = d }
}

// WithLinkMetric overrides the link pricing model.
func WithLinkMetric(m LinkMetric) Option {
	return func(e *Engine) {
		if m != nil {
			e.links = m
		}
	}
}

// NewEngine wires an engine over a node table and a radio model.
func NewEngine(nodes NodeSource, radio RangeChecker, protocol Protocol, opts ...Option) *Engine {
	e := &Engine{
		nodes:          nodes,
		radio:          radio,
		links:          core.DefaultLinkQualityModel(),
		protocol:       protocol,
		mergeThreshold: 30,
		log:            logging.Noop(),
		tracer:         otel.Tracer(tracerName),
		pairs:          make(map[model.Pair]*pairState),
		requests:       make(map[string]request),
		plans:          make(map[string]*MulticastPlan),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Protocol returns the active routing variant.
func (e *Engine) Protocol() Protocol { return e.protocol }

// Now returns the simulated time of the last metric update.
func (e *Engine) Now() time.Duration { return e.now }

// Reset forgets every pair, plan and stored metric.
func (e *Engine) Reset() {
	e.now = 0
	e.pairs = make(map[model.Pair]*pairState)
	e.requests = make(map[string]request)
	e.plans = make(map[string]*MulticastPlan)
	for _, n := range e.nodes.ListNodes() {
		n.ClearMetrics()
	}
	e.recordActivePairs()
}

// RegisterPair activates a pair for metric maintenance and remembers it as
// a unicast request. The region is built immediately so degenerate pairs
// are rejected here.
func (e *Engine) RegisterPair(ctx context.Context, pair model.Pair) (*core.EllipseRegion, error) {
	st, err := e.ensurePair(ctx, pair)
	if err != nil {
		return nil, err
	}
	e.remember(request{source: pair.Source, destinations: []model.NodeID{pair.Destination}})
	return st.region, nil
}

// UnregisterPair stops maintaining a pair and forgets the unicast request
// for it, if any. Stored metrics are left as they are. Pairs that only the
// forgotten request's plan used are retired after the next refresh cycle.
func (e *Engine) UnregisterPair(pair model.Pair) {
	delete(e.pairs, pair)
	for k, r := range e.requests {
		if r.source == pair.Source && len(r.destinations) == 1 && r.destinations[0] == pair.Destination {
			delete(e.requests, k)
			delete(e.plans, k)
		}
	}
	e.recordActivePairs()
}

// HandleNodeEvent reacts to node table changes. A pair whose focus moved
// farther than the boundary tolerance from where its region was anchored,
// or whose focus left the table, is refreshed on the next update even if
// the metric policy would not yet call it due.
func (e *Engine) HandleNodeEvent(ev kb.Event) {
	switch ev.Type {
	case kb.EventNodeMoved, kb.EventNodeRemoved:
	default:
		return
	}
	for pair, st := range e.pairs {
		var anchor core.Vec3
		switch ev.NodeID {
		case pair.Source:
			anchor = st.region.Source
		case pair.Destination:
			anchor = st.region.Destination
		default:
			continue
		}
		if ev.Type == kb.EventNodeRemoved || ev.Position.DistanceTo(anchor) > st.region.Params.BoundaryTolerance {
			st.moved = true
		}
	}
}

// ActivePairs lists registered pairs in order.
func (e *Engine) ActivePairs() []model.Pair {
	out := make([]model.Pair, 0, len(e.pairs))
	for p := range e.pairs {
		out = append(out, p)
	}
	sortPairs(out)
	return out
}

func (e *Engine) ensurePair(ctx context.Context, pair model.Pair) (*pairState, error) {
	if st, ok := e.pairs[pair]; ok {
		return st, nil
	}
	if pair.Source == pair.Destination {
		return nil, fmt.Errorf("%w: source and destination are both %v: %w", ErrInvalidRequest, pair.Source, core.ErrDegeneratePair)
	}
	src := e.nodes.GetNode(pair.Source)
	if src == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNode, pair.Source)
	}
	dst := e.nodes.GetNode(pair.Destination)
	if dst == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNode, pair.Destination)
	}
	region, err := e.protocol.Geometry.Region(src.Position, dst.Position)
	if err != nil {
		return nil, fmt.Errorf("pair %v: %w", pair, err)
	}
	st := &pairState{
		pair:   pair,
		region: region,
		timing: PairTiming{RegisteredAt: e.now},
	}
	e.pairs[pair] = st
	e.recordActivePairs()
	e.log.Debug(ctx, "pair registered",
		logging.String("pair", pair.String()),
		logging.Any("semi_major", region.SemiMajor()),
	)
	return st, nil
}

func (e *Engine) remember(r request) {
	e.requests[r.key()] = r
}

// UpdateReport summarises one UpdateMetrics call.
type UpdateReport struct {
	Refreshed []model.Pair
	InRegion  int
	Pruned    int
	Replanned int
	// Retired lists pairs dropped because no remembered request uses them
	// any more.
	Retired []model.Pair
}

// UpdateMetrics refreshes the link metrics of every due pair. Due pairs get
// a new region from current positions; only nodes inside it have their
// tables touched. Remembered requests are re-planned when anything changed,
// after which pairs none of the new plans use are retired.
func (e *Engine) UpdateMetrics(ctx context.Context, now time.Duration) UpdateReport {
	ctx, span := e.tracer.Start(ctx, "routing.UpdateMetrics",
		trace.WithAttributes(attribute.Int64("sim_time_ms", now.Milliseconds())))
	defer span.End()

	if now > e.now {
		e.now = now
	}
	var report UpdateReport

	byDest := make(map[model.NodeID][]*pairState)
	for _, pair := range e.ActivePairs() {
		st := e.pairs[pair]
		if !st.moved && !e.protocol.Metrics.Due(st.timing, now) {
			continue
		}
		if err := e.rebuildRegion(st); err != nil {
			st.lastErr = err
			e.log.Warn(ctx, "pair region rebuild failed",
				logging.String("pair", pair.String()),
				logging.String("error", err.Error()),
			)
			continue
		}
		byDest[pair.Destination] = append(byDest[pair.Destination], st)
	}
	if len(byDest) == 0 {
		return report
	}

	nodes := e.nodes.ListNodes()
	dests := make([]model.NodeID, 0, len(byDest))
	for d := range byDest {
		dests = append(dests, d)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	for _, d := range dests {
		states := byDest[d]
		members := e.refreshDestination(d, states, nodes, now)
		report.InRegion += len(members)
		report.Pruned += len(nodes) - len(members)
		for _, st := range states {
			report.Refreshed = append(report.Refreshed, st.pair)
		}
	}
	if e.metrics != nil {
		e.metrics.AddMetricRefresh(report.InRegion, report.Pruned)
	}

	report.Replanned = e.replan(ctx)
	report.Retired = e.retireStalePairs(ctx)
	span.SetAttributes(
		attribute.Int("pairs_refreshed", len(report.Refreshed)),
		attribute.Int("pairs_retired", len(report.Retired)),
		attribute.Int("nodes_in_region", report.InRegion),
		attribute.Int("nodes_pruned", report.Pruned),
	)
	e.log.Debug(ctx, "metrics refreshed",
		logging.Int("pairs", len(report.Refreshed)),
		logging.Int("in_region", report.InRegion),
		logging.Int("pruned", report.Pruned),
	)
	return report
}

func (e *Engine) rebuildRegion(st *pairState) error {
	src := e.nodes.GetNode(st.pair.Source)
	dst := e.nodes.GetNode(st.pair.Destination)
	if src == nil || dst == nil {
		return fmt.Errorf("%w: pair %v", ErrUnknownNode, st.pair)
	}
	region, err := e.protocol.Geometry.Region(src.Position, dst.Position)
	if err != nil {
		return err
	}
	st.region = region
	st.lastErr = nil
	return nil
}

// refreshDestination rewrites, for every node inside any of the given
// regions, the stored metric toward each other in-region node within range.
// Entries for neighbours outside this cycle's regions are left untouched.
func (e *Engine) refreshDestination(dest model.NodeID, states []*pairState, nodes []*core.Node, now time.Duration) []*core.Node {
	members := make([]*core.Node, 0, len(nodes))
	perPair := make([]int, len(states))
	for _, n := range nodes {
		in := false
		for i, st := range states {
			if st.region.Contains(n.Position) {
				perPair[i]++
				in = true
			}
		}
		if in {
			members = append(members, n)
		}
	}

	for _, n := range members {
		links := make(map[model.NodeID]float64)
		if table, ok := n.MetricTable(dest); ok {
			links = table.Links
		}
		for _, m := range members {
			if m.ID == n.ID {
				continue
			}
			if !e.radio.InRange(n.Position, m.Position) {
				delete(links, m.ID)
				continue
			}
			fresh := e.links.ETX(n.Position.DistanceTo(m.Position))
			if old, had := links[m.ID]; had && !e.protocol.Metrics.Accept(old, fresh) {
				continue
			}
			links[m.ID] = fresh
		}
		n.StoreMetrics(dest, links, now)
	}

	for i, st := range states {
		st.moved = false
		st.timing.Updated = true
		st.timing.LastUpdate = now
		st.stats.Refreshes++
		st.stats.InRegion = perPair[i]
		st.stats.Pruned = len(nodes) - perPair[i]
		st.stats.LastUpdate = now
	}
	return members
}

// replan rebuilds every remembered request against the refreshed metrics.
func (e *Engine) replan(ctx context.Context) int {
	keys := make([]string, 0, len(e.requests))
	for k := range e.requests {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := e.requests[k]
		plan, err := e.plan(ctx, r)
		if err != nil {
			e.log.Warn(ctx, "replan failed",
				logging.String("request", k),
				logging.String("error", err.Error()),
			)
			delete(e.plans, k)
			continue
		}
		e.plans[k] = plan
	}
	return len(keys)
}

// referencedPairs collects every pair a current plan routes over. A
// remembered request without a plan keeps its direct pairs.
func (e *Engine) referencedPairs() map[model.Pair]bool {
	used := make(map[model.Pair]bool, len(e.pairs))
	for k, r := range e.requests {
		if plan, ok := e.plans[k]; ok {
			for p := range plan.uses {
				used[p] = true
			}
			continue
		}
		for _, d := range r.destinations {
			used[model.Pair{Source: r.source, Destination: d}] = true
		}
	}
	return used
}

// retireStalePairs unregisters pairs that no remembered request references,
// such as trunks and branches of a virtual root that has since moved.
func (e *Engine) retireStalePairs(ctx context.Context) []model.Pair {
	used := e.referencedPairs()
	var retired []model.Pair
	for _, pair := range e.ActivePairs() {
		if used[pair] {
			continue
		}
		e.UnregisterPair(pair)
		retired = append(retired, pair)
	}
	if len(retired) > 0 {
		e.log.Debug(ctx, "stale pairs retired", logging.Int("pairs", len(retired)))
	}
	return retired
}

func (e *Engine) recordActivePairs() {
	if e.metrics != nil {
		e.metrics.SetActivePairs(len(e.pairs))
	}
}

func sortPairs(pairs []model.Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Source != pairs[j].Source {
			return pairs[i].Source < pairs[j].Source
		}
		return pairs[i].Destination < pairs[j].Destination
	})
}
