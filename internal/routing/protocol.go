package routing

import (
	"math"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
)

// EllipseGeometry builds the pruning region for a pair.
type EllipseGeometry interface {
	Region(source, destination core.Vec3) (*core.EllipseRegion, error)
}

// FocalEllipse uses the same shape parameters for every pair.
type FocalEllipse struct {
	Params core.EllipseParams
}

// Region implements EllipseGeometry.
func (f FocalEllipse) Region(source, destination core.Vec3) (*core.EllipseRegion, error) {
	return core.NewEllipseRegion(source, destination, f.Params)
}

// PairTiming is what an update policy needs to know about a pair.
type PairTiming struct {
	RegisteredAt time.Duration
	LastUpdate   time.Duration
	Updated      bool
}

// MetricUpdatePolicy decides when a pair's region is refreshed and whether
// a freshly measured link metric replaces the stored one.
type MetricUpdatePolicy interface {
	Due(p PairTiming, now time.Duration) bool
	Accept(old, fresh float64) bool
}

// IntervalPolicy refreshes on a fixed period and always takes fresh values.
type IntervalPolicy struct {
	Interval time.Duration
}

// Due implements MetricUpdatePolicy.
func (p IntervalPolicy) Due(t PairTiming, now time.Duration) bool {
	return !t.Updated || now-t.LastUpdate >= p.Interval
}

// Accept implements MetricUpdatePolicy.
func (p IntervalPolicy) Accept(old, fresh float64) bool { return true }

// HybridPolicy refreshes every round while a pair is young, then falls back
// to the periodic interval. Stored metrics only move when the change exceeds
// Hysteresis.
type HybridPolicy struct {
	Interval   time.Duration
	Warmup     time.Duration
	Hysteresis float64
}

// Due implements MetricUpdatePolicy.
func (p HybridPolicy) Due(t PairTiming, now time.Duration) bool {
	if !t.Updated || now-t.RegisteredAt < p.Warmup {
		return true
	}
	return now-t.LastUpdate >= p.Interval
}

// Accept implements MetricUpdatePolicy.
func (p HybridPolicy) Accept(old, fresh float64) bool {
	return math.Abs(fresh-old) > p.Hysteresis
}

// Protocol is a routing variant: a region shape plus a maintenance policy.
// Both variants share the MAC and physical layers unchanged.
type Protocol struct {
	Name     string
	Geometry EllipseGeometry
	Metrics  MetricUpdatePolicy
}

// MTP is the multicast tree protocol: periodic refresh of every in-region node.
func MTP(params core.EllipseParams, interval time.Duration) Protocol {
	return Protocol{
		Name:     "mtp",
		Geometry: FocalEllipse{Params: params},
		Metrics:  IntervalPolicy{Interval: interval},
	}
}

// DHyTP is the dynamic hybrid protocol: per-round refresh during warm-up,
// then periodic refresh with hysteresis on stored metrics.
func DHyTP(params core.EllipseParams, interval, warmup time.Duration, hysteresis float64) Protocol {
	return Protocol{
		Name:     "dhytp",
		Geometry: FocalEllipse{Params: params},
		Metrics:  HybridPolicy{Interval: interval, Warmup: warmup, Hysteresis: hysteresis},
	}
}
