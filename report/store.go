package report

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ystepanoff/polypoint/ranging"
)

// schema.sql creates the run, round and per-subsequence sample tables.
//
//go:embed schema.sql
var schemaSQL string

// Store is an SQLite log of completed rounds. Each Open starts a new run.
type Store struct {
	*sql.DB
	runID string
	log   *slog.Logger
}

// Open opens or creates the database at path and registers a run for anchorID.
func Open(path string, anchorID uint8, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create round log schema: %w", err)
	}

	s := &Store{DB: db, runID: uuid.NewString(), log: log.With("component", "report")}
	_, err = db.Exec(`INSERT INTO runs (id, anchor_id, started_at) VALUES (?, ?, ?)`,
		s.runID, anchorID, time.Now().UnixNano())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	s.log.Info("opened round log", "path", path, "run", s.runID)
	return s, nil
}

// RunID identifies the rounds recorded through this Store.
func (s *Store) RunID() string { return s.runID }

// Record appends a completed round and its samples.
func (s *Store) Record(ctx context.Context, r ranging.RoundReport) error {
	sum := Summarize(r)
	stats := [3]sql.NullFloat64{}
	if sum.Valid > 0 {
		stats = [3]sql.NullFloat64{
			{Float64: sum.Mean, Valid: true},
			{Float64: sum.Median, Valid: true},
			{Float64: sum.StdDev, Valid: true},
		}
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (run_id, round_num, seq_count, completed_at, valid, mean, median, std_dev)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.runID, r.Round, r.SeqCount, r.CompletedAt.UnixNano(), sum.Valid, stats[0], stats[1], stats[2])
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	roundID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get round ID: %w", err)
	}

	for i, d := range r.Distances {
		if _, err := tx.ExecContext(ctx, `INSERT INTO samples (round_id, subseq, distance) VALUES (?, ?, ?)`,
			roundID, i, float64(d)); err != nil {
			return fmt.Errorf("failed to insert sample %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Round is a logged round.
type Round struct {
	ID          int64
	RoundNum    uint8
	SeqCount    uint32
	CompletedAt time.Time
	Valid       int
	Mean        sql.NullFloat64
	Distances   []float32
}

// Rounds returns the rounds of a run in the order they completed.
func (s *Store) Rounds(ctx context.Context, runID string) ([]Round, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, round_num, seq_count, completed_at, valid, mean
		FROM rounds WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		var completed int64
		if err := rows.Scan(&r.ID, &r.RoundNum, &r.SeqCount, &completed, &r.Valid, &r.Mean); err != nil {
			return nil, err
		}
		r.CompletedAt = time.Unix(0, completed).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Distances, err = s.samples(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) samples(ctx context.Context, roundID int64) ([]float32, error) {
	rows, err := s.QueryContext(ctx, `SELECT distance FROM samples WHERE round_id = ? ORDER BY subseq`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float32
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, float32(d))
	}
	return out, rows.Err()
}
