package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoutingCollector exposes routing engine metrics.
type RoutingCollector struct {
	gatherer prometheus.Gatherer

	RouteBuildDuration prometheus.Histogram
	RouteBuildFailures prometheus.Counter
	MetricRefreshes    prometheus.Counter
	NodesInRegion      prometheus.Counter
	NodesPruned        prometheus.Counter
	ActivePairs        prometheus.Gauge
}

// NewRoutingCollector registers routing metrics against the provided registerer.
func NewRoutingCollector(reg prometheus.Registerer) (*RoutingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buildHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "routing_route_build_duration_seconds",
		Help:    "Duration of pruned route searches.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "routing_route_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routing_route_build_failures_total",
		Help: "Route searches that found no path inside the pruned region.",
	}), "routing_route_build_failures_total")
	if err != nil {
		return nil, err
	}

	refreshes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routing_metric_refreshes_total",
		Help: "Link metric refresh cycles that updated at least one pair.",
	}), "routing_metric_refreshes_total")
	if err != nil {
		return nil, err
	}

	inRegion, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routing_nodes_in_region_total",
		Help: "Cumulative node visits inside a refreshed ellipse.",
	}), "routing_nodes_in_region_total")
	if err != nil {
		return nil, err
	}

	pruned, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routing_nodes_pruned_total",
		Help: "Cumulative node visits skipped because they fell outside the ellipse.",
	}), "routing_nodes_pruned_total")
	if err != nil {
		return nil, err
	}

	pairs, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routing_active_pairs",
		Help: "Source-destination pairs under metric maintenance.",
	}), "routing_active_pairs")
	if err != nil {
		return nil, err
	}

	return &RoutingCollector{
		gatherer:           gathererFor(reg),
		RouteBuildDuration: buildHistogram,
		RouteBuildFailures: failures,
		MetricRefreshes:    refreshes,
		NodesInRegion:      inRegion,
		NodesPruned:        pruned,
		ActivePairs:        pairs,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RoutingCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveRouteBuild records one route search.
func (c *RoutingCollector) ObserveRouteBuild(d time.Duration, ok bool) {
	if c == nil {
		return
	}
	if c.RouteBuildDuration != nil {
		c.RouteBuildDuration.Observe(d.Seconds())
	}
	if !ok && c.RouteBuildFailures != nil {
		c.RouteBuildFailures.Inc()
	}
}

// AddMetricRefresh records one refresh cycle.
func (c *RoutingCollector) AddMetricRefresh(inRegion, pruned int) {
	if c == nil || c.MetricRefreshes == nil {
		return
	}
	c.MetricRefreshes.Inc()
	c.NodesInRegion.Add(float64(inRegion))
	c.NodesPruned.Add(float64(pruned))
}

// SetActivePairs updates the active pair gauge.
func (c *RoutingCollector) SetActivePairs(n int) {
	if c == nil || c.ActivePairs == nil {
		return
	}
	c.ActivePairs.Set(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
