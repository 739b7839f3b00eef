package core

import "math"

// LinkQualityModel estimates the planning-time reception ratio of a link
// from its length. The range is split into four bands (10%, 30%, 60%, 100%)
// and each band maps to the midpoint of its quarter of [PRRMin, PRRMax],
// shorter links getting the upper quarters.
type LinkQualityModel struct {
	RangeM float64
	PRRMin float64
	PRRMax float64
}

// DefaultLinkQualityModel matches the default radio range.
func DefaultLinkQualityModel() LinkQualityModel {
	return LinkQualityModel{RangeM: 100, PRRMin: 0.5, PRRMax: 0.9}
}

var prrBands = []struct {
	upTo     float64 // fraction of range
	quartile float64 // midpoint of the quarter, as a fraction of the span
}{
	{0.1, 0.875},
	{0.3, 0.625},
	{0.6, 0.375},
	{1.0, 0.125},
}

// PRR returns the estimated reception ratio for a link of the given length;
// 0 beyond range.
func (m LinkQualityModel) PRR(distance float64) float64 {
	if m.RangeM <= 0 || distance > m.RangeM {
		return 0
	}
	frac := distance / m.RangeM
	span := m.PRRMax - m.PRRMin
	for _, b := range prrBands {
		if frac <= b.upTo {
			return m.PRRMin + b.quartile*span
		}
	}
	return 0
}

// ETX is 1/PRR, or +Inf for links that cannot carry traffic.
func (m LinkQualityModel) ETX(distance float64) float64 {
	prr := m.PRR(distance)
	if prr <= 0 {
		return math.Inf(1)
	}
	return 1 / prr
}
