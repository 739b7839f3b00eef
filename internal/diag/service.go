package diag

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim"
	"github.com/signalsfoundry/uav-delivery-sim/internal/store"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxAdvanceRounds bounds a single Advance call.
const maxAdvanceRounds = 100000

// Service exposes simulator snapshots and the schedule/advance triggers.
//
// Semantics:
//   - Get* methods are read projections of the current round.
//   - GetOutcomes reads a stored run when "run_id" is given and a store is
//     attached, otherwise the live simulator.
//   - Schedule creates packets for one source and its destinations; a request
//     with no routable destination fails with FailedPrecondition.
//   - Advance steps "rounds" rounds (default 1), or runs until every packet is
//     terminal when "until_done" is true.
type Service struct {
	sim   *sim.Simulator
	store *store.OutcomeStore
	log   logging.Logger
}

// ServiceOption customises Service construction.
type ServiceOption func(*Service)

// WithStore lets GetOutcomes answer for persisted runs.
func WithStore(s *store.OutcomeStore) ServiceOption {
	return func(svc *Service) { svc.store = s }
}

// NewService binds a Service to a simulator.
func NewService(s *sim.Simulator, log logging.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = logging.Noop()
	}
	svc := &Service{sim: s, log: log}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

var _ DiagnosticsServer = (*Service)(nil)

func (s *Service) ensureReady() error {
	if s == nil || s.sim == nil {
		return ToStatusError(errors.New("diagnostics service not initialised"))
	}
	return nil
}

// GetPackets returns packet snapshots, optionally filtered by "ids" and
// "status" string lists.
func (s *Service) GetPackets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	snap := s.sim.Snapshot()
	ids := stringSet(req, "ids")
	statuses := stringSet(req, "status")

	found := make(map[string]bool, len(ids))
	var docs []map[string]any
	for _, p := range snap.Packets {
		if ids != nil && !ids[string(p.ID)] {
			continue
		}
		found[string(p.ID)] = true
		if statuses != nil && !statuses[p.Status.String()] {
			continue
		}
		docs = append(docs, packetDoc(p))
	}
	for id := range ids {
		if !found[id] {
			return nil, ToStatusError(fmt.Errorf("%w: packet %s", ErrNotFound, id))
		}
	}

	queues := make([]any, 0, len(snap.Queues))
	for _, q := range snap.Queues {
		queues = append(queues, queueDoc(q))
	}
	packets := make([]any, 0, len(docs))
	for _, d := range docs {
		packets = append(packets, d)
	}
	return newStruct(map[string]any{
		"round":   snap.Round,
		"time_ms": snap.Time.Milliseconds(),
		"packets": packets,
		"queues":  queues,
	})
}

// GetEllipses returns the pruning region of every registered pair.
func (s *Service) GetEllipses(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	snap := s.sim.Snapshot()
	docs := make([]map[string]any, 0, len(snap.Ellipses))
	for _, e := range snap.Ellipses {
		docs = append(docs, ellipseDoc(e))
	}
	return wrap(listDoc("ellipses", docs))
}

// GetGroups returns the virtual-root groups of the current plans.
func (s *Service) GetGroups(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	snap := s.sim.Snapshot()
	docs := make([]map[string]any, 0, len(snap.Groups))
	for _, g := range snap.Groups {
		docs = append(docs, groupDoc(g))
	}
	return wrap(listDoc("groups", docs))
}

// GetRoutes returns the latest planned route per pair.
func (s *Service) GetRoutes(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	snap := s.sim.Snapshot()
	docs := make([]map[string]any, 0, len(snap.Routes))
	for _, r := range snap.Routes {
		docs = append(docs, routeDoc(r))
	}
	return wrap(listDoc("routes", docs))
}

// GetOutcomes returns per-packet outcomes and their aggregate.
func (s *Service) GetOutcomes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	var (
		outcomes []model.Outcome
		err      error
	)
	runID := req.GetFields()["run_id"].GetStringValue()
	switch {
	case runID != "" && s.store == nil:
		return nil, ToStatusError(fmt.Errorf("%w: no outcome store attached", ErrNotFound))
	case runID != "":
		if _, err = s.store.GetRun(ctx, runID); err == nil {
			outcomes, err = s.store.Outcomes(ctx, runID)
		}
		if err != nil {
			return nil, ToStatusError(err)
		}
	default:
		outcomes = s.sim.Outcomes()
	}

	list := make([]any, 0, len(outcomes))
	for _, o := range outcomes {
		list = append(list, outcomeDoc(o))
	}
	return newStruct(map[string]any{
		"outcomes": list,
		"summary":  summaryDoc(summarize(outcomes)),
	})
}

// Schedule creates packets from "source" to each of "destinations".
func (s *Service) Schedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	source, err := nodeIDField(req, "source")
	if err != nil {
		return nil, ToStatusError(err)
	}
	dsts, err := nodeIDList(req, "destinations")
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "diag.Schedule")
	defer span.End()
	span.SetAttributes(attribute.Int("source", int(source)), attribute.Int("destinations", len(dsts)))

	res, err := s.sim.Schedule(ctx, source, dsts)
	if err != nil {
		logging.LoggerFromContext(ctx).Warn(ctx, "schedule failed", logging.String("error", err.Error()))
		return nil, ToStatusError(err)
	}

	packets := make([]any, len(res.Packets))
	for i, id := range res.Packets {
		packets[i] = string(id)
	}
	groups := make([]any, 0, len(res.Groups))
	for _, g := range res.Groups {
		groups = append(groups, groupDoc(g))
	}
	unreachable := make([]any, 0, len(res.Unreachable))
	for _, u := range sortedUnreachable(res.Unreachable) {
		unreachable = append(unreachable, u)
	}
	return newStruct(map[string]any{
		"packets":     packets,
		"groups":      groups,
		"unreachable": unreachable,
	})
}

// Advance steps the simulation.
func (s *Service) Advance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	if req.GetFields()["until_done"].GetBoolValue() {
		res, err := s.sim.Run(ctx)
		if err != nil {
			return nil, ToStatusError(err)
		}
		return s.advanceDoc(res.Rounds, res.Completed)
	}

	rounds, err := intField(req, "rounds", 1)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if rounds < 1 || rounds > maxAdvanceRounds {
		return nil, ToStatusError(fmt.Errorf("%w: rounds must be in [1, %d], got %d", ErrInvalidArgument, maxAdvanceRounds, rounds))
	}
	for i := 0; i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return nil, ToStatusError(err)
		}
		s.sim.Step(ctx)
	}
	return s.advanceDoc(rounds, false)
}

func (s *Service) advanceDoc(stepped int, completed bool) (*structpb.Struct, error) {
	snap := s.sim.Snapshot()
	sum := summarize(s.sim.Outcomes())
	return newStruct(map[string]any{
		"stepped":   stepped,
		"round":     snap.Round,
		"time_ms":   snap.Time.Milliseconds(),
		"completed": completed || (sum.Packets > 0 && sum.InFlight == 0),
		"summary":   summaryDoc(sum),
	})
}

func newStruct(doc map[string]any) (*structpb.Struct, error) {
	return wrap(structpb.NewStruct(doc))
}

func wrap(st *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("encode response: %w", err))
	}
	return st, nil
}
