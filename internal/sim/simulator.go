// Package sim wires the routing engine, the MAC arbiter, mobility and the
// round clock into one single-writer simulator.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/config"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/mac"
	"github.com/signalsfoundry/uav-delivery-sim/internal/routing"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim/state"
	"github.com/signalsfoundry/uav-delivery-sim/kb"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	"github.com/signalsfoundry/uav-delivery-sim/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/uav-delivery-sim/internal/sim"

// ErrNoRoutableDestination is returned by Schedule when not a single
// destination of the request could be routed.
var ErrNoRoutableDestination = errors.New("no destination routable")

// Simulator owns the scenario and drives rounds. Every exported method is
// safe for concurrent use; mutation is serialised so a round is atomic.
type Simulator struct {
	mu sync.Mutex

	cfg     *config.Config
	state   *state.ScenarioState
	nodes   *kb.KnowledgeBase
	phys    *core.PhysicalModel
	routing *routing.Engine
	mac     *mac.Engine
	motion  core.MotionModel
	clock   *timectrl.RoundClock
	rng     *rand.Rand

	log    logging.Logger
	tracer trace.Tracer

	routingMetrics  routing.MetricsRecorder
	macMetrics      mac.MetricsRecorder
	scenarioMetrics state.ScenarioMetricsRecorder
	phyOverride     mac.PhysicalLayer
	sampler         core.Sampler
	listeners       []func(StepReport)
}

// StepReport summarises one simulated round.
type StepReport struct {
	Round   int
	Time    time.Duration
	Moved   int
	Routing routing.UpdateReport
	MAC     mac.RoundReport
}

// RunResult is the outcome of Run.
type RunResult struct {
	Rounds    int
	Completed bool
	Delivered int
	Dropped   int
	InFlight  int
}

// ScheduleResult lists the packets created for one request and the
// destinations that could not be routed.
type ScheduleResult struct {
	Source      model.NodeID
	Packets     []model.PacketID
	Groups      []model.VirtualRootGroup
	Unreachable map[model.NodeID]error
}

// Option customises Simulator construction.
type Option func(*Simulator)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRoutingMetrics records route builds and metric refreshes.
func WithRoutingMetrics(m routing.MetricsRecorder) Option {
	return func(s *Simulator) { s.routingMetrics = m }
}

// WithMACMetrics records per-round arbitration counters.
func WithMACMetrics(m mac.MetricsRecorder) Option {
	return func(s *Simulator) { s.macMetrics = m }
}

// WithScenarioMetrics records scenario entity counts.
func WithScenarioMetrics(m state.ScenarioMetricsRecorder) Option {
	return func(s *Simulator) { s.scenarioMetrics = m }
}

// WithPhysicalLayer replaces the physical model used by the arbiter. Routing
// adjacency still follows the configured radio range.
func WithPhysicalLayer(p mac.PhysicalLayer) Option {
	return func(s *Simulator) { s.phyOverride = p }
}

// WithSampler replaces the seeded random source used for reception draws.
func WithSampler(r core.Sampler) Option {
	return func(s *Simulator) { s.sampler = r }
}

// WithStepListener is called after every round, under the simulator lock.
func WithStepListener(fn func(StepReport)) Option {
	return func(s *Simulator) {
		if fn != nil {
			s.listeners = append(s.listeners, fn)
		}
	}
}

// New validates cfg and builds an empty simulator.
func New(cfg *config.Config, opts ...Option) (*Simulator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	phys, err := cfg.PhysicalModel()
	if err != nil {
		return nil, err
	}
	protocol, err := cfg.Protocol()
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:    cfg,
		nodes:  kb.NewKnowledgeBase(),
		phys:   phys,
		motion: cfg.MotionModel(),
		clock:  timectrl.NewRoundClock(cfg.MAC.RoundStep),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routing = routing.NewEngine(s.nodes, phys, protocol,
		routing.WithLogger(s.log),
		routing.WithMetricsRecorder(s.routingMetrics),
		routing.WithMergeThreshold(cfg.Routing.MergeThresholdM),
		routing.WithLinkMetric(cfg.LinkQualityModel()),
	)
	// Node table mutations all happen under s.mu, as do engine calls.
	s.nodes.Subscribe(s.routing.HandleNodeEvent)

	var layer mac.PhysicalLayer = phys
	if s.phyOverride != nil {
		layer = s.phyOverride
	}
	var sampler core.Sampler = s.rng
	if s.sampler != nil {
		sampler = s.sampler
	}
	s.mac = mac.NewEngine(layer, s.nodes, sampler, cfg.MAC.MaxRetransmissions,
		mac.WithLogger(s.log),
		mac.WithMetricsRecorder(s.macMetrics),
		mac.WithEnergyModel(cfg.Energy),
	)

	stateOpts := []state.ScenarioStateOption{
		state.WithResetter(s.routing),
		state.WithResetter(s.mac),
		state.WithResetter(s.clock),
		state.WithMetricsRecorder(s.scenarioMetrics),
	}
	if r, ok := s.motion.(interface{ Reset() }); ok {
		stateOpts = append(stateOpts, state.WithMotionModel(r))
	}
	s.state = state.NewScenarioState(s.nodes, s.log, stateOpts...)
	return s, nil
}

// Config returns the configuration the simulator was built with.
func (s *Simulator) Config() *config.Config { return s.cfg }

// Clock exposes simulated time read-only.
func (s *Simulator) Clock() timectrl.SimClock { return s.clock }

// AddNodes inserts nodes at their current positions.
func (s *Simulator) AddNodes(nodes []*core.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if err := s.state.AddNode(n.ID, n.Position); err != nil {
			return err
		}
	}
	return nil
}

// ScatterNodes places count nodes uniformly over the reception area using
// the configured seed.
func (s *Simulator) ScatterNodes(count int) error {
	b := core.Bounds{MaxX: s.cfg.Reception.WidthM, MaxY: s.cfg.Reception.HeightM, MinZ: 20, MaxZ: 80}
	return s.AddNodes(core.ScatterNodes(count, b, rand.New(rand.NewSource(s.cfg.Seed))))
}

// LoadScenario reads a JSON scenario, adds its nodes and schedules its
// requests in file order.
func (s *Simulator) LoadScenario(ctx context.Context, r io.Reader) ([]*ScheduleResult, error) {
	var sc *kb.Scenario
	s.mu.Lock()
	err := s.state.WithWriteLock(func() error {
		var err error
		sc, err = kb.LoadScenario(s.nodes, r)
		return err
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "scenario loaded",
		logging.Int("nodes", len(sc.NodeIDs)),
		logging.Int("requests", len(sc.Requests)),
	)

	results := make([]*ScheduleResult, 0, len(sc.Requests))
	for _, req := range sc.Requests {
		res, err := s.Schedule(ctx, req.Source, req.Destinations)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RegisterPair activates a pair for metric maintenance without creating
// packets.
func (s *Simulator) RegisterPair(ctx context.Context, source, destination model.NodeID) (*core.EllipseRegion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routing.RegisterPair(ctx, model.Pair{Source: source, Destination: destination})
}

// Schedule records a request, plans its multicast routes and creates one
// packet per routable destination. Unroutable destinations are reported in
// the result; the call fails only when none could be routed.
func (s *Simulator) Schedule(ctx context.Context, source model.NodeID, destinations []model.NodeID) (*ScheduleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.state.AddRequest(source, destinations)
	if err != nil {
		return nil, err
	}
	plan, err := s.routing.BuildMulticast(ctx, req.Source, req.Destinations)
	if err != nil {
		return nil, err
	}

	res := &ScheduleResult{Source: source, Groups: plan.Groups, Unreachable: plan.Failures}
	now := s.clock.Now()
	for _, d := range plan.Destinations() {
		p, err := model.NewPacket(s.state.NextPacketID(req), plan.Routes[d], now)
		if err != nil {
			return res, fmt.Errorf("packet to %v: %w", d, err)
		}
		if err := s.mac.Enqueue(p); err != nil {
			return res, err
		}
		res.Packets = append(res.Packets, p.ID)
	}
	for d, ferr := range plan.Failures {
		s.log.Warn(ctx, "destination unreachable",
			logging.Int("source", int(source)),
			logging.Int("destination", int(d)),
			logging.String("error", ferr.Error()),
		)
	}
	s.log.Info(ctx, "request scheduled",
		logging.Int("source", int(source)),
		logging.Int("packets", len(res.Packets)),
		logging.Int("groups", len(plan.Groups)),
		logging.Int("unreachable", len(plan.Failures)),
	)

	if len(res.Packets) == 0 {
		errs := make([]error, 0, len(plan.Failures))
		for _, d := range req.Destinations {
			if ferr, ok := plan.Failures[d]; ok {
				errs = append(errs, ferr)
			}
		}
		return res, fmt.Errorf("%w: %w", ErrNoRoutableDestination, errors.Join(errs...))
	}
	return res, nil
}

// Step runs one round: node positions move, due link metrics are refreshed,
// and the arbiter resolves one round of transmissions at the new time.
func (s *Simulator) Step(ctx context.Context) StepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked(ctx)
}

func (s *Simulator) stepLocked(ctx context.Context) StepReport {
	round, now := s.clock.Advance()
	ctx, span := s.tracer.Start(ctx, "sim.Step", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int64("sim_time_ms", now.Milliseconds()),
	))
	defer span.End()

	report := StepReport{Round: round, Time: now}
	report.Moved = s.moveNodes(ctx)
	report.Routing = s.routing.UpdateMetrics(ctx, now)
	report.MAC = s.mac.Step(ctx, now)

	span.SetAttributes(
		attribute.Int("attempts", report.MAC.Attempts),
		attribute.Int("collisions", report.MAC.Collisions),
		attribute.Int("delivered", len(report.MAC.Delivered)),
		attribute.Int("in_flight", report.MAC.InFlight),
	)
	for _, fn := range s.listeners {
		fn(report)
	}
	return report
}

// moveNodes advances every node by one round step.
func (s *Simulator) moveNodes(ctx context.Context) int {
	if _, static := s.motion.(*core.StaticMotionModel); static {
		return 0
	}
	moved := 0
	for _, n := range s.nodes.ListNodes() {
		next := core.Node{ID: n.ID, Position: n.Position}
		s.motion.UpdatePosition(s.clock.Step(), &next)
		if next.Position == n.Position {
			continue
		}
		if err := s.state.MoveNode(n.ID, next.Position); err != nil {
			s.log.Warn(ctx, "move node failed",
				logging.Int("node", int(n.ID)),
				logging.String("error", err.Error()),
			)
			continue
		}
		moved++
	}
	return moved
}

// Run steps until every packet is terminal, the round bound is reached or
// ctx is cancelled. Reaching the bound is not an error.
func (s *Simulator) Run(ctx context.Context) (RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock.Round()
	for !s.mac.Done() && s.clock.Round()-start < s.cfg.MAC.MaxRounds {
		if err := ctx.Err(); err != nil {
			return s.resultLocked(start), err
		}
		s.stepLocked(ctx)
	}
	res := s.resultLocked(start)
	s.log.Info(ctx, "run finished",
		logging.Int("rounds", res.Rounds),
		logging.Any("completed", res.Completed),
		logging.Int("delivered", res.Delivered),
		logging.Int("dropped", res.Dropped),
		logging.Int("in_flight", res.InFlight),
	)
	return res, nil
}

func (s *Simulator) resultLocked(start int) RunResult {
	res := RunResult{Rounds: s.clock.Round() - start, Completed: s.mac.Done()}
	for _, p := range s.mac.Packets() {
		switch p.Status {
		case model.PacketDelivered:
			res.Delivered++
		case model.PacketDropped:
			res.Dropped++
		default:
			res.InFlight++
		}
	}
	return res
}

// Reset discards nodes, requests, packets, queues and routes, and rewinds
// the clock and every random stream.
func (s *Simulator) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ClearScenario()
	s.rng.Seed(s.cfg.Seed)
	if r, ok := s.sampler.(interface{ Seed(int64) }); ok {
		r.Seed(s.cfg.Seed)
	}
	s.log.Info(ctx, "simulation reset")
}

// Outcomes returns the summary of every packet in ID order.
func (s *Simulator) Outcomes() []model.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	packets := s.mac.Packets()
	out := make([]model.Outcome, 0, len(packets))
	for _, p := range packets {
		out = append(out, p.Outcome())
	}
	return out
}

// Packet returns a snapshot of one packet.
func (s *Simulator) Packet(id model.PacketID) (*model.Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mac.Packet(id)
}
