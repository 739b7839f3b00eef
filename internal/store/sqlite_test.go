package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

func newTestStore(t *testing.T) *OutcomeStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "outcomes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOutcomes() []model.Outcome {
	return []model.Outcome{
		{PacketID: model.NewPacketID(10), Source: 1, Destination: 4, Status: model.PacketDelivered, Hops: 3, Retransmissions: 1, Energy: 2.0, Latency: 400 * time.Millisecond},
		{PacketID: model.NewPacketID(2), Source: 1, Destination: 5, Status: model.PacketDelivered, Hops: 2, Energy: 1.2, Latency: 200 * time.Millisecond},
		{PacketID: model.NewPacketID(3), Source: 1, Destination: 6, Status: model.PacketDropped, Hops: 1, Retransmissions: 11, Energy: 7.0},
	}
}

func TestRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.BeginRun(ctx, "mtp", 7, 20)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.FinishRun(ctx, id, 42, true, sampleOutcomes()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Protocol != "mtp" || run.Seed != 7 || run.Nodes != 20 || run.Rounds != 42 || !run.Completed {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.FinishedAt.IsZero() || run.FinishedAt.Before(run.StartedAt) {
		t.Fatalf("bad timestamps: started %v finished %v", run.StartedAt, run.FinishedAt)
	}

	got, err := s.Outcomes(ctx, id)
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(got))
	}
	// Ordered by packet sequence, not lexically.
	if got[0].PacketID != "pkt-2" || got[2].PacketID != "pkt-10" {
		t.Fatalf("unexpected order: %v %v %v", got[0].PacketID, got[1].PacketID, got[2].PacketID)
	}
	if got[2].Status != model.PacketDelivered || got[2].Latency != 400*time.Millisecond || got[2].Destination != 4 {
		t.Fatalf("outcome not preserved: %+v", got[2])
	}
	if got[1].Status != model.PacketDropped || got[1].Retransmissions != 11 {
		t.Fatalf("dropped outcome not preserved: %+v", got[1])
	}
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.BeginRun(ctx, "dhytp", 1, 10)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.FinishRun(ctx, id, 10, false, sampleOutcomes()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	sum, err := s.Summarize(ctx, id)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Packets != 3 || sum.Delivered != 2 || sum.Dropped != 1 || sum.InFlight != 0 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if sum.MeanLatency != 300*time.Millisecond {
		t.Fatalf("mean latency = %v, want 300ms", sum.MeanLatency)
	}
	if sum.Retransmissions != 12 {
		t.Fatalf("retransmissions = %d, want 12", sum.Retransmissions)
	}
	if r := sum.DeliveryRatio(); r < 0.66 || r > 0.67 {
		t.Fatalf("delivery ratio = %v", r)
	}
}

func TestSummarizeEmptyRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.BeginRun(ctx, "mtp", 1, 0)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	sum, err := s.Summarize(ctx, id)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Packets != 0 || sum.DeliveryRatio() != 0 {
		t.Fatalf("expected empty summary, got %+v", sum)
	}
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun: expected ErrRunNotFound, got %v", err)
	}
	if err := s.FinishRun(ctx, "missing", 1, true, nil); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("FinishRun: expected ErrRunNotFound, got %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outcomes.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s.BeginRun(ctx, "mtp", 3, 5)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.FinishRun(ctx, id, 5, true, sampleOutcomes()[:1]); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Outcomes(ctx, id)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 outcome after reopen, got %d (%v)", len(got), err)
	}
}

func TestInitSchemaRejectsNewerVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, 'now')`, SchemaVersion+1); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	if err := InitSchema(ctx, s.db); err == nil {
		t.Fatalf("expected error for newer schema version")
	}
}
