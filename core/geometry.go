package core

import (
	"errors"
	"fmt"
	"math"
)

// Vec3 is a position in the simulation area, in metres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Midpoint returns the point halfway between v and other.
func (v Vec3) Midpoint(other Vec3) Vec3 {
	return v.Add(other).Scale(0.5)
}

var (
	// ErrDegeneratePair is returned when both foci coincide.
	ErrDegeneratePair = errors.New("degenerate pair: source and destination coincide")
	// ErrInvalidEccentricity is returned for eccentricity outside (0,1).
	ErrInvalidEccentricity = errors.New("eccentricity must be in (0,1)")
	// ErrInvalidExpansion is returned for a non-positive expansion factor.
	ErrInvalidExpansion = errors.New("expansion factor must be positive")
	// ErrInvalidTolerance is returned for a negative boundary tolerance.
	ErrInvalidTolerance = errors.New("boundary tolerance must be non-negative")
)

// boundaryEpsilon absorbs floating-point noise so points exactly on the
// boundary stay inside.
const boundaryEpsilon = 1e-9

// EllipseParams are the shape parameters shared by every pruning ellipse.
type EllipseParams struct {
	Eccentricity      float64
	ExpansionFactor   float64
	BoundaryTolerance float64
}

// Validate checks the parameter ranges.
func (p EllipseParams) Validate() error {
	if !(p.Eccentricity > 0 && p.Eccentricity < 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidEccentricity, p.Eccentricity)
	}
	if !(p.ExpansionFactor > 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidExpansion, p.ExpansionFactor)
	}
	if p.BoundaryTolerance < 0 || math.IsNaN(p.BoundaryTolerance) {
		return fmt.Errorf("%w: got %v", ErrInvalidTolerance, p.BoundaryTolerance)
	}
	return nil
}

// EllipseRegion is the focal ellipse (ellipsoid of revolution in 3D) with
// the source and destination as foci. It is immutable once built.
type EllipseRegion struct {
	Source      Vec3
	Destination Vec3
	Params      EllipseParams

	focalDistance float64
	semiMajor     float64
	semiMinor     float64
	threshold     float64
}

// Orientation is the direction of the major axis: yaw in the XY plane
// measured from +X, pitch above the XY plane, both in radians.
type Orientation struct {
	Yaw   float64
	Pitch float64
}

// NewEllipseRegion derives an ellipse from its foci.
func NewEllipseRegion(source, destination Vec3, params EllipseParams) (*EllipseRegion, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	focal := source.DistanceTo(destination)
	if !(focal > 0) {
		return nil, ErrDegeneratePair
	}
	a := focal / (2 * params.Eccentricity)
	b := a * math.Sqrt(1-params.Eccentricity*params.Eccentricity)
	return &EllipseRegion{
		Source:        source,
		Destination:   destination,
		Params:        params,
		focalDistance: focal,
		semiMajor:     a,
		semiMinor:     b,
		threshold:     2*a*params.ExpansionFactor + params.BoundaryTolerance,
	}, nil
}

// FocalDistance returns |source - destination|.
func (e *EllipseRegion) FocalDistance() float64 { return e.focalDistance }

// SemiMajor returns a = focalDistance / (2e).
func (e *EllipseRegion) SemiMajor() float64 { return e.semiMajor }

// SemiMinor returns b = a * sqrt(1 - e^2).
func (e *EllipseRegion) SemiMinor() float64 { return e.semiMinor }

// Threshold is the focal-sum bound 2a*expansion + tolerance.
func (e *EllipseRegion) Threshold() float64 { return e.threshold }

// Center is the midpoint of the foci.
func (e *EllipseRegion) Center() Vec3 { return e.Source.Midpoint(e.Destination) }

// Orientation returns the major-axis direction from source to destination.
func (e *EllipseRegion) Orientation() Orientation {
	d := e.Destination.Sub(e.Source)
	return Orientation{
		Yaw:   math.Atan2(d.Y, d.X),
		Pitch: math.Atan2(d.Z, math.Hypot(d.X, d.Y)),
	}
}

// FocalSum returns dist(p, source) + dist(p, destination).
func (e *EllipseRegion) FocalSum(p Vec3) float64 {
	return p.DistanceTo(e.Source) + p.DistanceTo(e.Destination)
}

// Contains reports whether p lies inside the expanded region. The boundary
// is inclusive.
func (e *EllipseRegion) Contains(p Vec3) bool {
	return e.FocalSum(p) <= e.threshold+boundaryEpsilon
}

// Utility scores p by its focal sum; higher means more central.
func (e *EllipseRegion) Utility(p Vec3) float64 {
	return FocalUtility(p, e.Source, e.Destination)
}

// FocalUtility is 2 / (dist(p,s) + dist(p,d)). A point coinciding with both
// foci scores 1.
func FocalUtility(p, source, destination Vec3) float64 {
	sum := p.DistanceTo(source) + p.DistanceTo(destination)
	if sum < 1e-9 {
		return 1.0
	}
	return 2.0 / sum
}
