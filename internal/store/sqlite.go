package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Run summarises one simulation run.
type Run struct {
	ID         string
	Protocol   string
	Seed       int64
	Nodes      int
	StartedAt  time.Time
	FinishedAt time.Time
	Rounds     int
	Completed  bool
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Packets         int
	Delivered       int
	Dropped         int
	InFlight        int
	MeanLatency     time.Duration
	MeanEnergy      float64
	Retransmissions int
}

// DeliveryRatio is delivered packets over all packets.
func (s Summary) DeliveryRatio() float64 {
	if s.Packets == 0 {
		return 0
	}
	return float64(s.Delivered) / float64(s.Packets)
}

// OutcomeStore keeps run records and packet outcomes in a SQLite database.
type OutcomeStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*OutcomeStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &OutcomeStore{db: db}, nil
}

// Close closes the database.
func (s *OutcomeStore) Close() error {
	return s.db.Close()
}

// BeginRun records a new run and returns its ID.
func (s *OutcomeStore) BeginRun(ctx context.Context, protocol string, seed int64, nodes int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, protocol, seed, nodes, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, protocol, seed, nodes, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcomes of a run and marks it finished, in one
// transaction. Saving outcomes twice for the same packet replaces them.
func (s *OutcomeStore) FinishRun(ctx context.Context, runID string, rounds int, completed bool, outcomes []model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, rounds = ?, completed = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), rounds, boolToInt(completed), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO outcomes
		    (run_id, packet_id, source, destination, status, hops, retransmissions, energy, latency_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, runID, string(o.PacketID), int64(o.Source), int64(o.Destination),
			o.Status.String(), o.Hops, o.Retransmissions, o.Energy, int64(o.Latency)); err != nil {
			return fmt.Errorf("failed to insert outcome %s: %w", o.PacketID, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a run record.
func (s *OutcomeStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		r         Run
		started   string
		finished  sql.NullString
		completed int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, protocol, seed, nodes, started_at, finished_at, rounds, completed FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.Protocol, &r.Seed, &r.Nodes, &started, &finished, &r.Rounds, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	r.Completed = completed != 0
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	return &r, nil
}

// Outcomes returns the stored outcomes of a run ordered by packet sequence.
func (s *OutcomeStore) Outcomes(ctx context.Context, runID string) ([]model.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT packet_id, source, destination, status, hops, retransmissions, energy, latency_ns
		FROM outcomes WHERE run_id = ?
		ORDER BY CAST(SUBSTR(packet_id, 5) AS INTEGER), packet_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var (
			o        model.Outcome
			id       string
			src, dst int64
			status   string
			latency  int64
		)
		if err := rows.Scan(&id, &src, &dst, &status, &o.Hops, &o.Retransmissions, &o.Energy, &latency); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.PacketID = model.PacketID(id)
		o.Source = model.NodeID(src)
		o.Destination = model.NodeID(dst)
		o.Status = parseStatus(status)
		o.Latency = time.Duration(latency)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Summarize aggregates the outcomes of a run.
func (s *OutcomeStore) Summarize(ctx context.Context, runID string) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sum     Summary
		latency sql.NullFloat64
		energy  sql.NullFloat64
		retx    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'delivered'), 0),
		       COALESCE(SUM(status = 'dropped'), 0),
		       COALESCE(SUM(status = 'in_flight'), 0),
		       AVG(CASE WHEN status = 'delivered' THEN latency_ns END),
		       AVG(energy),
		       SUM(retransmissions)
		FROM outcomes WHERE run_id = ?`, runID,
	).Scan(&sum.Packets, &sum.Delivered, &sum.Dropped, &sum.InFlight, &latency, &energy, &retx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize run: %w", err)
	}
	sum.MeanLatency = time.Duration(latency.Float64)
	sum.MeanEnergy = energy.Float64
	sum.Retransmissions = int(retx.Int64)
	return sum, nil
}

func parseStatus(s string) model.PacketStatus {
	switch s {
	case "delivered":
		return model.PacketDelivered
	case "dropped":
		return model.PacketDropped
	default:
		return model.PacketInFlight
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
