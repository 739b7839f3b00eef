package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRadio is returned when a radio profile has out-of-range values.
var ErrInvalidRadio = errors.New("invalid radio profile")

// RadioProfile describes the single radio shared by every UAV. Powers are
// linear watts and the SINR threshold is a linear ratio.
type RadioProfile struct {
	// RangeM is the hard communication range in metres.
	RangeM float64 `json:"range_m" yaml:"range_m"`

	PathLossExponent float64 `json:"path_loss_exponent" yaml:"path_loss_exponent"`
	TxPowerW         float64 `json:"tx_power_w" yaml:"tx_power_w"`
	NoisePowerW      float64 `json:"noise_power_w" yaml:"noise_power_w"`
	SINRThreshold    float64 `json:"sinr_threshold" yaml:"sinr_threshold"`

	// MinDistanceM floors distances in the path-loss law so co-located
	// radios do not produce infinite gain.
	MinDistanceM float64 `json:"min_distance_m" yaml:"min_distance_m"`
}

// DefaultRadioProfile returns the profile used when nothing is configured.
func DefaultRadioProfile() RadioProfile {
	return RadioProfile{
		RangeM:           100,
		PathLossExponent: 2.0,
		TxPowerW:         0.1,
		NoisePowerW:      1e-9,
		SINRThreshold:    2.0,
		MinDistanceM:     1.0,
	}
}

// Validate checks the profile.
func (r RadioProfile) Validate() error {
	switch {
	case !(r.RangeM > 0):
		return fmt.Errorf("%w: range_m must be positive, got %v", ErrInvalidRadio, r.RangeM)
	case !(r.PathLossExponent > 0):
		return fmt.Errorf("%w: path_loss_exponent must be positive, got %v", ErrInvalidRadio, r.PathLossExponent)
	case !(r.TxPowerW > 0):
		return fmt.Errorf("%w: tx_power_w must be positive, got %v", ErrInvalidRadio, r.TxPowerW)
	case r.NoisePowerW < 0:
		return fmt.Errorf("%w: noise_power_w must be non-negative, got %v", ErrInvalidRadio, r.NoisePowerW)
	case r.SINRThreshold < 0:
		return fmt.Errorf("%w: sinr_threshold must be non-negative, got %v", ErrInvalidRadio, r.SINRThreshold)
	case !(r.MinDistanceM > 0):
		return fmt.Errorf("%w: min_distance_m must be positive, got %v", ErrInvalidRadio, r.MinDistanceM)
	}
	return nil
}

// Gain is the path-loss gain d^-eta with d floored at MinDistanceM.
func (r RadioProfile) Gain(distance float64) float64 {
	if distance < r.MinDistanceM {
		distance = r.MinDistanceM
	}
	return math.Pow(distance, -r.PathLossExponent)
}

// ReceivedPower returns the power in watts received at the given distance.
func (r RadioProfile) ReceivedPower(distance float64) float64 {
	return r.TxPowerW * r.Gain(distance)
}
