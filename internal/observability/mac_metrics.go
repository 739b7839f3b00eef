package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/uav-delivery-sim/internal/mac"
)

// MACCollector exposes per-round medium access metrics.
type MACCollector struct {
	gatherer prometheus.Gatherer

	Rounds     prometheus.Counter
	Attempts   *prometheus.CounterVec
	Collisions prometheus.Counter
	Waiting    prometheus.Counter
	Delivered  prometheus.Counter
	Dropped    prometheus.Counter
	QueueDepth prometheus.Gauge
	InFlight   prometheus.Gauge
}

// NewMACCollector registers MAC metrics against the provided registerer.
func NewMACCollector(reg prometheus.Registerer) (*MACCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) (prometheus.Counter, error) {
		return registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}), name)
	}

	rounds, err := counter("mac_rounds_total", "Arbitration rounds executed.")
	if err != nil {
		return nil, err
	}
	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_attempts_total",
		Help: "Physical transmission attempts, labeled by outcome.",
	}, []string{"outcome"}), "mac_attempts_total")
	if err != nil {
		return nil, err
	}
	collisions, err := counter("mac_collisions_total", "Senders marked as colliding.")
	if err != nil {
		return nil, err
	}
	waiting, err := counter("mac_waiting_total", "Queued senders that waited behind a queue head.")
	if err != nil {
		return nil, err
	}
	delivered, err := counter("mac_packets_delivered_total", "Packets delivered to their destination.")
	if err != nil {
		return nil, err
	}
	dropped, err := counter("mac_packets_dropped_total", "Packets dropped after exceeding the retransmission limit.")
	if err != nil {
		return nil, err
	}
	depth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mac_queue_depth",
		Help: "Senders waiting in collision queues after the last round.",
	}), "mac_queue_depth")
	if err != nil {
		return nil, err
	}
	inFlight, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mac_packets_in_flight",
		Help: "Packets not yet delivered or dropped.",
	}), "mac_packets_in_flight")
	if err != nil {
		return nil, err
	}

	return &MACCollector{
		gatherer:   gathererFor(reg),
		Rounds:     rounds,
		Attempts:   attempts,
		Collisions: collisions,
		Waiting:    waiting,
		Delivered:  delivered,
		Dropped:    dropped,
		QueueDepth: depth,
		InFlight:   inFlight,
	}, nil
}

// RecordRound folds one round report into the metrics.
func (c *MACCollector) RecordRound(r mac.RoundReport) {
	if c == nil || c.Rounds == nil {
		return
	}
	c.Rounds.Inc()
	failed := 0
	for kind, n := range r.Failures {
		c.Attempts.WithLabelValues(kind.String()).Add(float64(n))
		failed += n
	}
	if ok := r.Attempts - failed; ok > 0 {
		c.Attempts.WithLabelValues("success").Add(float64(ok))
	}
	c.Collisions.Add(float64(r.Collisions))
	c.Waiting.Add(float64(r.Waiting))
	c.Delivered.Add(float64(len(r.Delivered)))
	c.Dropped.Add(float64(len(r.Dropped)))
	c.QueueDepth.Set(float64(r.QueueDepth))
	c.InFlight.Set(float64(r.InFlight))
}

// Handler exposes every metric on the collector's registry.
func (c *MACCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}
