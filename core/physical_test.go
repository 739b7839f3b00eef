package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// scriptedSampler replays fixed draws and repeats the last one.
type scriptedSampler struct {
	draws []float64
	calls int
}

func (s *scriptedSampler) Float64() float64 {
	i := s.calls
	s.calls++
	if i >= len(s.draws) {
		return s.draws[len(s.draws)-1]
	}
	return s.draws[i]
}

func newTestPhysical(t *testing.T, prr float64) *PhysicalModel {
	t.Helper()
	grid, err := NewReceptionGrid(600, 600, [][]float64{{prr}})
	if err != nil {
		t.Fatalf("NewReceptionGrid: %v", err)
	}
	m, err := NewPhysicalModel(DefaultRadioProfile(), grid)
	if err != nil {
		t.Fatalf("NewPhysicalModel: %v", err)
	}
	return m
}

func ep(id int, x, y float64) Endpoint {
	return Endpoint{ID: model.NodeID(id), Position: Vec3{X: x, Y: y, Z: 50}}
}

func TestAttemptRangeFailureSkipsDraw(t *testing.T) {
	m := newTestPhysical(t, 1)
	rng := &scriptedSampler{draws: []float64{0}}

	out := m.Attempt(ep(1, 10, 10), ep(2, 10, 111), nil, rng)
	if out.Kind != AttemptRangeFailure {
		t.Fatalf("kind = %v, want range failure", out.Kind)
	}
	if rng.calls != 0 {
		t.Fatalf("range failure drew %d samples, want 0", rng.calls)
	}
}

func TestAttemptRangeUses3DDistance(t *testing.T) {
	m := newTestPhysical(t, 1)
	a := Endpoint{ID: 1, Position: Vec3{X: 100, Y: 100, Z: 20}}
	b := Endpoint{ID: 2, Position: Vec3{X: 180, Y: 100, Z: 80}}
	// planar 80m, vertical 60m, slant 100m: exactly at range.
	if out := m.Attempt(a, b, nil, &scriptedSampler{draws: []float64{0}}); out.Kind != AttemptSuccess {
		t.Fatalf("kind = %v at exactly range, want success", out.Kind)
	}
	b.Position.Z = 81
	if out := m.Attempt(a, b, nil, &scriptedSampler{draws: []float64{0}}); out.Kind != AttemptRangeFailure {
		t.Fatalf("kind = %v past range, want range failure", out.Kind)
	}
}

func TestAttemptReceptionFailure(t *testing.T) {
	m := newTestPhysical(t, 0.8)
	out := m.Attempt(ep(1, 100, 100), ep(2, 150, 100), nil, &scriptedSampler{draws: []float64{0.81}})
	if out.Kind != AttemptReceptionFailure {
		t.Fatalf("kind = %v, want reception failure", out.Kind)
	}
	out = m.Attempt(ep(1, 100, 100), ep(2, 150, 100), nil, &scriptedSampler{draws: []float64{0.8}})
	if out.Kind != AttemptSuccess {
		t.Fatalf("sample equal to prr: kind = %v, want success", out.Kind)
	}
}

func TestAttemptInterferenceFailure(t *testing.T) {
	m := newTestPhysical(t, 1)
	sender := ep(1, 100, 100)
	receiver := ep(2, 180, 100)
	// Interferer 10m from the receiver swamps an 80m link.
	jammer := ep(3, 190, 100)

	out := m.Attempt(sender, receiver, []Endpoint{sender, jammer}, &scriptedSampler{draws: []float64{0}})
	if out.Kind != AttemptInterferenceFailure {
		t.Fatalf("kind = %v, want interference failure (sinr %v)", out.Kind, out.SINR)
	}
}

func TestSINRExcludesSender(t *testing.T) {
	m := newTestPhysical(t, 1)
	sender := ep(1, 100, 100)
	receiver := ep(2, 150, 100)

	alone := m.SINR(sender, receiver, nil)
	withSelf := m.SINR(sender, receiver, []Endpoint{sender})
	if alone != withSelf {
		t.Fatalf("sender counted as its own interferer: %v vs %v", alone, withSelf)
	}

	r := m.Radio
	want := r.ReceivedPower(50) / r.NoisePowerW
	if !approxEqual(alone, want, want*1e-12) {
		t.Fatalf("sinr = %v, want %v", alone, want)
	}

	other := ep(3, 150, 130)
	got := m.SINR(sender, receiver, []Endpoint{sender, other})
	want = r.ReceivedPower(50) / (r.NoisePowerW + r.ReceivedPower(30))
	if !approxEqual(got, want, want*1e-12) {
		t.Fatalf("sinr with interferer = %v, want %v", got, want)
	}
}

func TestRadioGainFloorsDistance(t *testing.T) {
	r := DefaultRadioProfile()
	if g := r.Gain(0); g != 1 {
		t.Fatalf("gain at 0m = %v, want 1 (floored)", g)
	}
	if g := r.Gain(10); !approxEqual(g, 0.01, 1e-15) {
		t.Fatalf("gain at 10m = %v, want 0.01", g)
	}
}

func TestRadioProfileValidate(t *testing.T) {
	r := DefaultRadioProfile()
	r.RangeM = 0
	if err := r.Validate(); !errors.Is(err, ErrInvalidRadio) {
		t.Fatalf("Validate = %v, want ErrInvalidRadio", err)
	}
	if _, err := NewPhysicalModel(r, nil); err == nil {
		t.Fatalf("NewPhysicalModel accepted invalid radio")
	}
}

func TestNilGridAlwaysReceives(t *testing.T) {
	m, err := NewPhysicalModel(DefaultRadioProfile(), nil)
	if err != nil {
		t.Fatalf("NewPhysicalModel: %v", err)
	}
	out := m.Attempt(ep(1, -500, 0), ep(2, -450, 0), nil, &scriptedSampler{draws: []float64{0.999}})
	if out.Kind != AttemptSuccess {
		t.Fatalf("kind = %v, want success", out.Kind)
	}
}

func TestOutcomeEventKinds(t *testing.T) {
	cases := map[OutcomeKind]model.EventKind{
		AttemptSuccess:             model.EventHopSuccess,
		AttemptRangeFailure:        model.EventRangeFailure,
		AttemptReceptionFailure:    model.EventReceptionFailure,
		AttemptInterferenceFailure: model.EventInterferenceFailure,
	}
	for k, want := range cases {
		if got := k.EventKind(); got != want {
			t.Fatalf("%v.EventKind() = %v, want %v", k, got, want)
		}
	}
}

func TestSINRNoNoiseNoInterference(t *testing.T) {
	r := DefaultRadioProfile()
	r.NoisePowerW = 0
	m, err := NewPhysicalModel(r, nil)
	if err != nil {
		t.Fatalf("NewPhysicalModel: %v", err)
	}
	if s := m.SINR(ep(1, 0, 0), ep(2, 10, 0), nil); !math.IsInf(s, 1) {
		t.Fatalf("sinr = %v, want +Inf", s)
	}
}
