package core

import (
	"math"
	"math/rand"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// MotionModel moves a node forward by dt of simulated time.
type MotionModel interface {
	UpdatePosition(dt time.Duration, n *Node)
}

// StaticMotionModel leaves the node's position unchanged.
type StaticMotionModel struct{}

// UpdatePosition for static motion does nothing.
func (m *StaticMotionModel) UpdatePosition(dt time.Duration, n *Node) {
	// no-op
}

// Reset is a no-op.
func (m *StaticMotionModel) Reset() {}

// Bounds is the flight volume.
type Bounds struct {
	MaxX, MaxY float64
	MinZ, MaxZ float64
}

// DefaultBounds is a 600m square at 20-80m altitude.
func DefaultBounds() Bounds {
	return Bounds{MaxX: 600, MaxY: 600, MinZ: 20, MaxZ: 80}
}

// RandomWaypointConfig parameterises RandomWaypointModel.
type RandomWaypointConfig struct {
	Bounds         Bounds
	MinSpeed       float64
	MaxSpeed       float64
	MinHeadingTime time.Duration
	MaxHeadingTime time.Duration
}

type heading struct {
	angle     float64
	remaining time.Duration
}

// RandomWaypointModel flies each node on a planar heading held for a random
// duration, drawing a fresh speed every step and reflecting off the area
// edges. Altitude is constant.
type RandomWaypointModel struct {
	cfg      RandomWaypointConfig
	seed     int64
	rng      *rand.Rand
	headings map[model.NodeID]*heading
}

// NewRandomWaypointModel builds a seeded model.
func NewRandomWaypointModel(cfg RandomWaypointConfig, seed int64) *RandomWaypointModel {
	return &RandomWaypointModel{
		cfg:      cfg,
		seed:     seed,
		rng:      rand.New(rand.NewSource(seed)),
		headings: make(map[model.NodeID]*heading),
	}
}

// Reset forgets all headings and rewinds the random stream.
func (m *RandomWaypointModel) Reset() {
	m.rng = rand.New(rand.NewSource(m.seed))
	m.headings = make(map[model.NodeID]*heading)
}

func (m *RandomWaypointModel) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}

func (m *RandomWaypointModel) newHeading() *heading {
	lo, hi := m.cfg.MinHeadingTime, m.cfg.MaxHeadingTime
	span := time.Duration(0)
	if hi > lo {
		span = time.Duration(m.rng.Int63n(int64(hi - lo)))
	}
	return &heading{angle: m.uniform(0, 2*math.Pi), remaining: lo + span}
}

// UpdatePosition advances n along its heading.
func (m *RandomWaypointModel) UpdatePosition(dt time.Duration, n *Node) {
	h, ok := m.headings[n.ID]
	if !ok {
		h = m.newHeading()
		m.headings[n.ID] = h
	}
	h.remaining -= dt
	if h.remaining <= 0 {
		h = m.newHeading()
		m.headings[n.ID] = h
	}

	step := m.uniform(m.cfg.MinSpeed, m.cfg.MaxSpeed) * dt.Seconds()
	n.Position.X += step * math.Cos(h.angle)
	n.Position.Y += step * math.Sin(h.angle)

	b := m.cfg.Bounds
	if n.Position.X <= 0 || n.Position.X >= b.MaxX {
		n.Position.X = math.Max(0, math.Min(n.Position.X, b.MaxX))
		h.angle = math.Pi - h.angle
	}
	if n.Position.Y <= 0 || n.Position.Y >= b.MaxY {
		n.Position.Y = math.Max(0, math.Min(n.Position.Y, b.MaxY))
		h.angle = -h.angle
	}
	h.angle = math.Mod(h.angle+2*math.Pi, 2*math.Pi)
}

// ScatterNodes places count nodes uniformly inside bounds, with IDs 1..count.
func ScatterNodes(count int, b Bounds, rng *rand.Rand) []*Node {
	nodes := make([]*Node, 0, count)
	for i := 1; i <= count; i++ {
		pos := Vec3{
			X: rng.Float64() * b.MaxX,
			Y: rng.Float64() * b.MaxY,
			Z: b.MinZ + rng.Float64()*(b.MaxZ-b.MinZ),
		}
		nodes = append(nodes, NewNode(model.NodeID(i), pos))
	}
	return nodes
}
