package diag

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/mac"
	"github.com/signalsfoundry/uav-delivery-sim/internal/routing"
	"github.com/signalsfoundry/uav-delivery-sim/internal/store"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// Documents are built as plain maps and converted once with structpb, which
// accepts only []any and map[string]any containers.

func vecDoc(v core.Vec3) map[string]any {
	return map[string]any{"x": v.X, "y": v.Y, "z": v.Z}
}

func idList(ids []model.NodeID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func routeDoc(r *model.Route) map[string]any {
	doc := map[string]any{
		"source":      int64(r.Source),
		"destination": int64(r.Destination),
		"hops":        idList(r.Hops),
		"cost":        r.Cost,
	}
	if r.VirtualRoot != nil {
		doc["virtual_root"] = int64(*r.VirtualRoot)
	}
	return doc
}

func packetDoc(p *model.Packet) map[string]any {
	events := make([]any, 0, len(p.Events))
	for _, ev := range p.Events {
		e := map[string]any{
			"round":   ev.Round,
			"time_ms": ev.Time.Milliseconds(),
			"kind":    string(ev.Kind),
			"holder":  int64(ev.Holder),
		}
		if ev.Peer != 0 {
			e["peer"] = int64(ev.Peer)
		}
		if ev.Info != "" {
			e["info"] = ev.Info
		}
		events = append(events, e)
	}
	return map[string]any{
		"id":              string(p.ID),
		"source":          int64(p.Source),
		"destination":     int64(p.Destination),
		"status":          p.Status.String(),
		"holder":          int64(p.Holder),
		"hop_index":       p.HopIndex,
		"retransmissions": p.Retransmissions,
		"energy":          p.Energy,
		"route":           routeDoc(p.Route),
		"events":          events,
	}
}

func queueDoc(q mac.CollisionQueue) map[string]any {
	return map[string]any{
		"receiver": int64(q.Receiver),
		"senders":  idList(q.Senders),
	}
}

func ellipseDoc(e routing.EllipseInfo) map[string]any {
	doc := map[string]any{
		"source":       int64(e.Pair.Source),
		"destination":  int64(e.Pair.Destination),
		"center":       vecDoc(e.Center),
		"semi_major":   e.SemiMajor,
		"semi_minor":   e.SemiMinor,
		"yaw_rad":      e.Orientation.Yaw,
		"pitch_rad":    e.Orientation.Pitch,
		"eccentricity": e.Eccentricity,
		"threshold":    e.Threshold,
		"stats": map[string]any{
			"refreshes":      e.Stats.Refreshes,
			"in_region":      e.Stats.InRegion,
			"pruned":         e.Stats.Pruned,
			"last_update_ms": e.Stats.LastUpdate.Milliseconds(),
		},
	}
	if e.LastError != "" {
		doc["last_error"] = e.LastError
	}
	return doc
}

func groupDoc(g model.VirtualRootGroup) map[string]any {
	return map[string]any{
		"source":       int64(g.Source),
		"virtual_root": int64(g.Root),
		"members":      idList(g.Members),
	}
}

func outcomeDoc(o model.Outcome) map[string]any {
	return map[string]any{
		"packet_id":       string(o.PacketID),
		"source":          int64(o.Source),
		"destination":     int64(o.Destination),
		"status":          o.Status.String(),
		"hops":            o.Hops,
		"retransmissions": o.Retransmissions,
		"energy":          o.Energy,
		"latency_ms":      o.Latency.Milliseconds(),
	}
}

func summaryDoc(s store.Summary) map[string]any {
	return map[string]any{
		"packets":         s.Packets,
		"delivered":       s.Delivered,
		"dropped":         s.Dropped,
		"in_flight":       s.InFlight,
		"delivery_ratio":  s.DeliveryRatio(),
		"mean_latency_ms": s.MeanLatency.Milliseconds(),
		"mean_energy":     s.MeanEnergy,
		"retransmissions": s.Retransmissions,
	}
}

// summarize aggregates outcomes the same way the store does.
func summarize(outcomes []model.Outcome) store.Summary {
	var (
		s          store.Summary
		latencySum float64
		energySum  float64
	)
	for _, o := range outcomes {
		s.Packets++
		s.Retransmissions += o.Retransmissions
		energySum += o.Energy
		switch o.Status {
		case model.PacketDelivered:
			s.Delivered++
			latencySum += float64(o.Latency)
		case model.PacketDropped:
			s.Dropped++
		default:
			s.InFlight++
		}
	}
	if s.Delivered > 0 {
		s.MeanLatency = time.Duration(latencySum / float64(s.Delivered))
	}
	if s.Packets > 0 {
		s.MeanEnergy = energySum / float64(s.Packets)
	}
	return s
}

func listDoc(key string, items []map[string]any) (*structpb.Struct, error) {
	list := make([]any, len(items))
	for i, it := range items {
		list[i] = it
	}
	return structpb.NewStruct(map[string]any{key: list})
}

// nodeIDField reads a required integral node ID.
func nodeIDField(req *structpb.Struct, key string) (model.NodeID, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgument, key)
	}
	return toNodeID(key, v)
}

func nodeIDList(req *structpb.Struct, key string) ([]model.NodeID, error) {
	v, ok := req.GetFields()[key]
	if !ok || v.GetListValue() == nil {
		return nil, fmt.Errorf("%w: %s must be a list of node IDs", ErrInvalidArgument, key)
	}
	vals := v.GetListValue().GetValues()
	out := make([]model.NodeID, 0, len(vals))
	for _, item := range vals {
		id, err := toNodeID(key, item)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func toNodeID(key string, v *structpb.Value) (model.NodeID, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue < 0 {
		return 0, fmt.Errorf("%w: %s must hold non-negative integers", ErrInvalidArgument, key)
	}
	return model.NodeID(n.NumberValue), nil
}

func intField(req *structpb.Struct, key string, fallback int) (int, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return fallback, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, key)
	}
	return int(n.NumberValue), nil
}

func stringSet(req *structpb.Struct, key string) map[string]bool {
	v, ok := req.GetFields()[key]
	if !ok || v.GetListValue() == nil {
		return nil
	}
	out := make(map[string]bool)
	for _, item := range v.GetListValue().GetValues() {
		out[item.GetStringValue()] = true
	}
	return out
}

func sortedUnreachable(failures map[model.NodeID]error) []map[string]any {
	ids := make([]model.NodeID, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]any{"destination": int64(id), "error": failures[id].Error()})
	}
	return out
}
