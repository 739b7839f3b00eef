package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// Sampler supplies uniform draws in [0,1). *math/rand.Rand satisfies it.
type Sampler interface {
	Float64() float64
}

// OutcomeKind classifies one transmission attempt.
type OutcomeKind int

const (
	AttemptSuccess OutcomeKind = iota
	AttemptRangeFailure
	AttemptReceptionFailure
	AttemptInterferenceFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case AttemptSuccess:
		return "success"
	case AttemptRangeFailure:
		return "range_failure"
	case AttemptReceptionFailure:
		return "reception_failure"
	case AttemptInterferenceFailure:
		return "interference_failure"
	default:
		return "unknown"
	}
}

// EventKind maps the outcome onto the packet event vocabulary.
func (k OutcomeKind) EventKind() model.EventKind {
	switch k {
	case AttemptRangeFailure:
		return model.EventRangeFailure
	case AttemptReceptionFailure:
		return model.EventReceptionFailure
	case AttemptInterferenceFailure:
		return model.EventInterferenceFailure
	default:
		return model.EventHopSuccess
	}
}

// Endpoint is a radio at a position for the duration of one round.
type Endpoint struct {
	ID       model.NodeID
	Position Vec3
}

// Outcome reports the result of an attempt along with the values that
// decided it. Fields past the deciding stage are left zero.
type Outcome struct {
	Kind        OutcomeKind
	Distance    float64
	Probability float64
	Sample      float64
	SINR        float64
}

// Success reports whether the attempt delivered the packet over the hop.
func (o Outcome) Success() bool { return o.Kind == AttemptSuccess }

func (o Outcome) String() string {
	switch o.Kind {
	case AttemptRangeFailure:
		return fmt.Sprintf("distance %.1fm out of range", o.Distance)
	case AttemptReceptionFailure:
		return fmt.Sprintf("sample %.3f > prr %.3f", o.Sample, o.Probability)
	case AttemptInterferenceFailure:
		return fmt.Sprintf("sinr %.3f below threshold", o.SINR)
	default:
		return fmt.Sprintf("sinr %.3f", o.SINR)
	}
}

// PhysicalModel decides transmission attempts from positions alone: a hard
// range cutoff, then a per-cell reception draw, then an SINR check against
// every other radio transmitting in the same round.
type PhysicalModel struct {
	Radio RadioProfile
	Grid  *ReceptionGrid
}

// NewPhysicalModel validates the radio profile. A nil grid means every cell
// receives with probability 1.
func NewPhysicalModel(radio RadioProfile, grid *ReceptionGrid) (*PhysicalModel, error) {
	if err := radio.Validate(); err != nil {
		return nil, err
	}
	return &PhysicalModel{Radio: radio, Grid: grid}, nil
}

// InRange reports whether two positions are within communication range.
func (m *PhysicalModel) InRange(a, b Vec3) bool {
	return a.DistanceTo(b) <= m.Radio.RangeM
}

// ReceptionProbability returns the grid PRR at the receiver position.
func (m *PhysicalModel) ReceptionProbability(receiver Vec3) float64 {
	if m.Grid == nil {
		return 1
	}
	return m.Grid.Probability(receiver)
}

// SINR computes the linear signal to interference-plus-noise ratio at the
// receiver. Every concurrent radio except the sender interferes.
func (m *PhysicalModel) SINR(sender, receiver Endpoint, concurrent []Endpoint) float64 {
	signal := m.Radio.ReceivedPower(sender.Position.DistanceTo(receiver.Position))
	interference := 0.0
	for _, other := range concurrent {
		if other.ID == sender.ID {
			continue
		}
		interference += m.Radio.ReceivedPower(other.Position.DistanceTo(receiver.Position))
	}
	denom := m.Radio.NoisePowerW + interference
	if denom <= 0 {
		return math.Inf(1)
	}
	return signal / denom
}

// Attempt runs the range, reception and interference checks in order and
// reports the first failure. The sampler is drawn from exactly once when
// the range check passes.
func (m *PhysicalModel) Attempt(sender, receiver Endpoint, concurrent []Endpoint, rng Sampler) Outcome {
	out := Outcome{Distance: sender.Position.DistanceTo(receiver.Position)}
	if out.Distance > m.Radio.RangeM {
		out.Kind = AttemptRangeFailure
		return out
	}

	out.Probability = m.ReceptionProbability(receiver.Position)
	out.Sample = rng.Float64()
	if out.Sample > out.Probability {
		out.Kind = AttemptReceptionFailure
		return out
	}

	out.SINR = m.SINR(sender, receiver, concurrent)
	if out.SINR < m.Radio.SINRThreshold {
		out.Kind = AttemptInterferenceFailure
		return out
	}
	out.Kind = AttemptSuccess
	return out
}
