package core

import (
	"math/rand"
	"testing"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

func TestStaticMotionModel_NoChange(t *testing.T) {
	m := &StaticMotionModel{}
	n := NewNode(1, Vec3{X: 1, Y: 2, Z: 3})
	m.UpdatePosition(time.Second, n)
	if n.Position != (Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion should not change position, got %#v", n.Position)
	}
}

func testWaypointConfig() RandomWaypointConfig {
	return RandomWaypointConfig{
		Bounds:         DefaultBounds(),
		MinSpeed:       3,
		MaxSpeed:       5,
		MinHeadingTime: time.Second,
		MaxHeadingTime: 5 * time.Second,
	}
}

func TestRandomWaypointStaysInBounds(t *testing.T) {
	m := NewRandomWaypointModel(testWaypointConfig(), 7)
	n := NewNode(1, Vec3{X: 1, Y: 599, Z: 40})

	for i := 0; i < 5000; i++ {
		before := n.Position
		m.UpdatePosition(100*time.Millisecond, n)
		p := n.Position
		if p.X < 0 || p.X > 600 || p.Y < 0 || p.Y > 600 {
			t.Fatalf("step %d left bounds: %+v", i, p)
		}
		if p.Z != 40 {
			t.Fatalf("altitude changed to %v", p.Z)
		}
		if d := before.DistanceTo(p); d > 0.5+1e-9 {
			t.Fatalf("step %d moved %vm, max is 0.5m", i, d)
		}
	}
}

func TestRandomWaypointDeterministic(t *testing.T) {
	run := func() Vec3 {
		m := NewRandomWaypointModel(testWaypointConfig(), 42)
		n := NewNode(3, Vec3{X: 300, Y: 300, Z: 50})
		for i := 0; i < 200; i++ {
			m.UpdatePosition(100*time.Millisecond, n)
		}
		return n.Position
	}
	if a, b := run(), run(); a != b {
		t.Fatalf("same seed diverged: %+v vs %+v", a, b)
	}

	m := NewRandomWaypointModel(testWaypointConfig(), 42)
	n := NewNode(3, Vec3{X: 300, Y: 300, Z: 50})
	for i := 0; i < 200; i++ {
		m.UpdatePosition(100*time.Millisecond, n)
	}
	m.Reset()
	n2 := NewNode(3, Vec3{X: 300, Y: 300, Z: 50})
	for i := 0; i < 200; i++ {
		m.UpdatePosition(100*time.Millisecond, n2)
	}
	if n.Position != n2.Position {
		t.Fatalf("Reset did not rewind: %+v vs %+v", n.Position, n2.Position)
	}
}

func TestScatterNodes(t *testing.T) {
	b := DefaultBounds()
	nodes := ScatterNodes(50, b, rand.New(rand.NewSource(1)))
	if len(nodes) != 50 {
		t.Fatalf("got %d nodes, want 50", len(nodes))
	}
	for i, n := range nodes {
		if int(n.ID) != i+1 {
			t.Fatalf("node %d has ID %v", i, n.ID)
		}
		p := n.Position
		if p.X < 0 || p.X > b.MaxX || p.Y < 0 || p.Y > b.MaxY || p.Z < b.MinZ || p.Z > b.MaxZ {
			t.Fatalf("node %v outside bounds: %+v", n.ID, p)
		}
	}
}

func TestNodeMetricTables(t *testing.T) {
	n := NewNode(1, Vec3{})
	if _, ok := n.LinkMetric(9, 2); ok {
		t.Fatalf("empty node reported a metric")
	}

	n.StoreMetrics(9, map[model.NodeID]float64{4: 1.5, 2: 1.2}, time.Second)
	if v, ok := n.LinkMetric(9, 2); !ok || v != 1.2 {
		t.Fatalf("LinkMetric(9,2) = %v,%v want 1.2,true", v, ok)
	}
	if got := n.Neighbours(9); len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("Neighbours = %v, want [2 4]", got)
	}

	table, ok := n.MetricTable(9)
	if !ok || table.UpdatedAt != time.Second || table.Refreshes != 1 {
		t.Fatalf("MetricTable = %+v,%v", table, ok)
	}
	table.Links[2] = 99
	if v, _ := n.LinkMetric(9, 2); v != 1.2 {
		t.Fatalf("MetricTable copy aliased node state")
	}

	n.ClearMetrics()
	if _, ok := n.MetricTable(9); ok {
		t.Fatalf("ClearMetrics left a table behind")
	}
}
