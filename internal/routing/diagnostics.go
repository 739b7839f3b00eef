package routing

import (
	"sort"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// EllipseInfo is a read-only projection of one pair's pruning region.
type EllipseInfo struct {
	Pair         model.Pair
	Center       core.Vec3
	SemiMajor    float64
	SemiMinor    float64
	Orientation  core.Orientation
	Eccentricity float64
	Threshold    float64
	Stats        PruningStats
	LastError    string
}

// Ellipses returns the current region of every registered pair, in pair order.
func (e *Engine) Ellipses() []EllipseInfo {
	out := make([]EllipseInfo, 0, len(e.pairs))
	for _, pair := range e.ActivePairs() {
		st := e.pairs[pair]
		info := EllipseInfo{
			Pair:         pair,
			Center:       st.region.Center(),
			SemiMajor:    st.region.SemiMajor(),
			SemiMinor:    st.region.SemiMinor(),
			Orientation:  st.region.Orientation(),
			Eccentricity: st.region.Params.Eccentricity,
			Threshold:    st.region.Threshold(),
			Stats:        st.stats,
		}
		if st.lastErr != nil {
			info.LastError = st.lastErr.Error()
		}
		out = append(out, info)
	}
	return out
}

// Groups returns the virtual-root groups of the latest plans, ordered by
// source then root.
func (e *Engine) Groups() []model.VirtualRootGroup {
	var out []model.VirtualRootGroup
	for _, k := range e.planKeys() {
		for _, g := range e.plans[k].Groups {
			g.Members = append([]model.NodeID(nil), g.Members...)
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Root < out[j].Root
	})
	return out
}

// Routes returns the latest planned route per pair. When several plans
// cover the same pair, the plan with the greater request key wins.
func (e *Engine) Routes() map[model.Pair]*model.Route {
	out := make(map[model.Pair]*model.Route)
	for _, k := range e.planKeys() {
		p := e.plans[k]
		for d, r := range p.Routes {
			out[model.Pair{Source: p.Source, Destination: d}] = r.Clone()
		}
	}
	return out
}

func (e *Engine) planKeys() []string {
	keys := make([]string, 0, len(e.plans))
	for k := range e.plans {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
