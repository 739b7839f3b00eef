package core

import (
	"math"
	"testing"
)

func TestLinkQualityBands(t *testing.T) {
	m := DefaultLinkQualityModel()
	cases := []struct {
		d    float64
		want float64
	}{
		{0, 0.85},
		{10, 0.85},
		{25, 0.75},
		{60, 0.65},
		{99, 0.55},
		{100, 0.55},
		{100.5, 0},
	}
	for _, tc := range cases {
		if got := m.PRR(tc.d); !approxEqual(got, tc.want, 1e-12) {
			t.Fatalf("PRR(%v) = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestETXMonotoneInDistance(t *testing.T) {
	m := DefaultLinkQualityModel()
	prev := 0.0
	for d := 0.0; d <= 100; d += 5 {
		etx := m.ETX(d)
		if etx < prev {
			t.Fatalf("ETX(%v) = %v decreased from %v", d, etx, prev)
		}
		prev = etx
	}
	if !math.IsInf(m.ETX(150), 1) {
		t.Fatalf("ETX beyond range should be +Inf")
	}
	if got := m.ETX(5); !approxEqual(got, 1/0.85, 1e-12) {
		t.Fatalf("ETX(5) = %v, want %v", got, 1/0.85)
	}
}
