package diag

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/config"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/observability"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim"
	"github.com/signalsfoundry/uav-delivery-sim/internal/store"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type harness struct {
	sim       *sim.Simulator
	client    *Client
	collector *observability.DiagCollector
}

// newHarness serves the diagnostics service over an in-memory listener.
// Nodes 1-4 sit on a line 40m apart with node 5 five metres past node 4,
// and node 9 far out of range.
func newHarness(t *testing.T, opts ...ServiceOption) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Reception.Cells = [][]float64{{1}}
	s, err := sim.New(cfg)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	nodes := []*core.Node{
		core.NewNode(1, core.Vec3{X: 100, Y: 100, Z: 50}),
		core.NewNode(2, core.Vec3{X: 140, Y: 100, Z: 50}),
		core.NewNode(3, core.Vec3{X: 180, Y: 100, Z: 50}),
		core.NewNode(4, core.Vec3{X: 220, Y: 100, Z: 50}),
		core.NewNode(5, core.Vec3{X: 225, Y: 100, Z: 50}),
		core.NewNode(9, core.Vec3{X: 550, Y: 550, Z: 50}),
	}
	if err := s.AddNodes(nodes); err != nil {
		t.Fatalf("AddNodes: %v", err)
	}

	collector, err := observability.NewDiagCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDiagCollector: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	server := NewGRPCServer(NewService(s, logging.Noop(), opts...), s.Clock(), logging.Noop(), collector)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &harness{sim: s, client: NewClient(conn), collector: collector}
}

func listField(t *testing.T, st *structpb.Struct, key string) []*structpb.Value {
	t.Helper()
	v, ok := st.GetFields()[key]
	if !ok || v.GetListValue() == nil {
		t.Fatalf("response has no list %q: %v", key, st)
	}
	return v.GetListValue().GetValues()
}

func numberField(t *testing.T, st *structpb.Struct, key string) float64 {
	t.Helper()
	v, ok := st.GetFields()[key]
	if !ok {
		t.Fatalf("response has no field %q: %v", key, st)
	}
	return v.GetNumberValue()
}

func TestScheduleAdvanceAndOutcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.client.Schedule(ctx, 1, []int64{4, 5, 9})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := len(listField(t, resp, "packets")); got != 2 {
		t.Fatalf("expected 2 packets, got %d", got)
	}
	unreachable := listField(t, resp, "unreachable")
	if len(unreachable) != 1 || numberField(t, unreachable[0].GetStructValue(), "destination") != 9 {
		t.Fatalf("expected node 9 unreachable, got %v", unreachable)
	}
	if got := len(listField(t, resp, "groups")); got != 1 {
		t.Fatalf("expected one merged group, got %d", got)
	}

	adv, err := h.client.Advance(ctx, 1)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if numberField(t, adv, "round") != 1 || numberField(t, adv, "time_ms") != 100 {
		t.Fatalf("unexpected advance response: %v", adv)
	}

	adv, err = h.client.Advance(ctx, 0)
	if err != nil {
		t.Fatalf("Advance until done: %v", err)
	}
	if !adv.GetFields()["completed"].GetBoolValue() {
		t.Fatalf("expected run to complete: %v", adv)
	}

	out, err := h.client.GetOutcomes(ctx, "")
	if err != nil {
		t.Fatalf("GetOutcomes: %v", err)
	}
	if got := len(listField(t, out, "outcomes")); got != 2 {
		t.Fatalf("expected 2 outcomes, got %d", got)
	}
	summary := out.GetFields()["summary"].GetStructValue()
	if numberField(t, summary, "packets") != 2 || numberField(t, summary, "in_flight") != 0 {
		t.Fatalf("unexpected summary: %v", summary)
	}
}

func TestGetPacketsProjection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.client.Schedule(ctx, 1, []int64{3}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	resp, err := h.client.GetPackets(ctx, nil)
	if err != nil {
		t.Fatalf("GetPackets: %v", err)
	}
	packets := listField(t, resp, "packets")
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}
	p := packets[0].GetStructValue()
	if p.GetFields()["id"].GetStringValue() != "pkt-1" || p.GetFields()["status"].GetStringValue() != "in_flight" {
		t.Fatalf("unexpected packet: %v", p)
	}
	route := p.GetFields()["route"].GetStructValue()
	hops := listField(t, route, "hops")
	if hops[0].GetNumberValue() != 1 || hops[len(hops)-1].GetNumberValue() != 3 {
		t.Fatalf("unexpected route: %v", route)
	}
	events := listField(t, p, "events")
	if len(events) != 1 || events[0].GetStructValue().GetFields()["kind"].GetStringValue() != string(model.EventCreated) {
		t.Fatalf("unexpected events: %v", events)
	}

	filter, _ := structpb.NewStruct(map[string]any{"status": []any{"delivered"}})
	resp, err = h.client.GetPackets(ctx, filter)
	if err != nil {
		t.Fatalf("GetPackets filtered: %v", err)
	}
	if got := len(listField(t, resp, "packets")); got != 0 {
		t.Fatalf("expected no delivered packets, got %d", got)
	}

	missing, _ := structpb.NewStruct(map[string]any{"ids": []any{"pkt-99"}})
	if _, err := h.client.GetPackets(ctx, missing); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for unknown packet, got %v", err)
	}
}

func TestDiagnosticProjections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.client.Schedule(ctx, 1, []int64{4, 5}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	ellipses, err := h.client.GetEllipses(ctx)
	if err != nil {
		t.Fatalf("GetEllipses: %v", err)
	}
	if got := len(listField(t, ellipses, "ellipses")); got < 2 {
		t.Fatalf("expected an ellipse per routed pair, got %d", got)
	}
	first := listField(t, ellipses, "ellipses")[0].GetStructValue()
	if numberField(t, first, "semi_major") <= numberField(t, first, "semi_minor") {
		t.Fatalf("semi-major must exceed semi-minor: %v", first)
	}

	groups, err := h.client.GetGroups(ctx)
	if err != nil {
		t.Fatalf("GetGroups: %v", err)
	}
	gs := listField(t, groups, "groups")
	if len(gs) != 1 {
		t.Fatalf("expected one group, got %d", len(gs))
	}
	root := numberField(t, gs[0].GetStructValue(), "virtual_root")

	routes, err := h.client.GetRoutes(ctx)
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	for _, r := range listField(t, routes, "routes") {
		rs := r.GetStructValue()
		if vr, ok := rs.GetFields()["virtual_root"]; ok && vr.GetNumberValue() != root {
			t.Fatalf("route %v names virtual root %v, want %v", rs, vr.GetNumberValue(), root)
		}
	}
}

func TestScheduleErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		src  int64
		dsts []int64
		code codes.Code
	}{
		{"destination equals source", 1, []int64{1}, codes.InvalidArgument},
		{"unknown destination", 1, []int64{42}, codes.NotFound},
		{"nothing routable", 1, []int64{9}, codes.FailedPrecondition},
		{"no destinations", 1, nil, codes.InvalidArgument},
	}
	for _, tc := range cases {
		if _, err := h.client.Schedule(ctx, tc.src, tc.dsts); status.Code(err) != tc.code {
			t.Errorf("%s: code = %v, want %v (%v)", tc.name, status.Code(err), tc.code, err)
		}
	}

	bad, _ := structpb.NewStruct(map[string]any{"source": "one", "destinations": []any{2}})
	if _, err := h.client.invoke(ctx, MethodSchedule, bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for non-numeric source, got %v", err)
	}
	if _, err := h.client.invoke(ctx, MethodAdvance, mustStruct(t, map[string]any{"rounds": -3})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for negative rounds, got %v", err)
	}
}

func TestGetOutcomesFromStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "diag.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runID, err := st.BeginRun(ctx, "mtp", 1, 3)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	stored := []model.Outcome{{PacketID: "pkt-1", Source: 1, Destination: 3, Status: model.PacketDelivered, Hops: 2}}
	if err := st.FinishRun(ctx, runID, 3, true, stored); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	h := newHarness(t, WithStore(st))
	out, err := h.client.GetOutcomes(ctx, runID)
	if err != nil {
		t.Fatalf("GetOutcomes: %v", err)
	}
	if got := len(listField(t, out, "outcomes")); got != 1 {
		t.Fatalf("expected 1 stored outcome, got %d", got)
	}
	if _, err := h.client.GetOutcomes(ctx, "no-such-run"); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for unknown run, got %v", err)
	}
}

func TestInterceptorsRecordRequests(t *testing.T) {
	h := newHarness(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), requestIDMetadataKey, "req-123")

	var header metadata.MD
	if _, err := h.client.GetRoutes(ctx, grpc.Header(&header)); err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	if ids := header.Get(requestIDMetadataKey); len(ids) != 1 || ids[0] != "req-123" {
		t.Fatalf("echoed request id = %v", ids)
	}
	header = nil
	if _, err := h.client.GetGroups(context.Background(), grpc.Header(&header)); err != nil {
		t.Fatalf("GetGroups: %v", err)
	}
	if ids := header.Get(requestIDMetadataKey); len(ids) != 1 || ids[0] == "" {
		t.Fatalf("generated request id not echoed: %v", ids)
	}
	if _, err := h.client.Schedule(ctx, 1, []int64{1}); err == nil {
		t.Fatalf("expected Schedule error")
	}

	if got := testutil.ToFloat64(h.collector.RPCRequests.WithLabelValues("Diagnostics", "GetRoutes", "OK")); got != 1 {
		t.Fatalf("GetRoutes OK count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.collector.RPCRequests.WithLabelValues("Diagnostics", "Schedule", "InvalidArgument")); got != 1 {
		t.Fatalf("Schedule InvalidArgument count = %v, want 1", got)
	}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return st
}
