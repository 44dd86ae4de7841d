// Package resultsdb indexes simulation runs and their per-round statistics in
// a SQLite database.
package resultsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/swarm-simulator/internal/stats"
)

var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string
	Scenario   string
	Solution   string
	Seed       uint64
	MaxRound   int
	Status     string
	Rounds     int
	Error      string
	Summary    json.RawMessage
	StartedAt  time.Time
	FinishedAt time.Time
}

type DB struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			solution TEXT NOT NULL,
			seed INTEGER NOT NULL,
			max_round INTEGER NOT NULL,
			status TEXT NOT NULL,
			rounds INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			summary_json TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS round_stats (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			round INTEGER NOT NULL,
			actual INTEGER NOT NULL,
			mean REAL NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			std_dev REAL NOT NULL,
			std_dev_percent REAL NOT NULL,
			mean_average REAL NOT NULL,
			mean_broadcast REAL NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Close() error { return d.db.Close() }

// BeginRun inserts r with status running.
func (d *DB) BeginRun(ctx context.Context, r RunRecord) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, solution, seed, max_round, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Scenario, r.Solution, int64(r.Seed), r.MaxRound, StatusRunning,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", r.ID, err)
	}
	return nil
}

// RecordRound stores one round summary of run runID.
func (d *DB) RecordRound(ctx context.Context, runID string, s stats.RoundSummary) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO round_stats
		 (run_id, round, actual, mean, min, max, std_dev, std_dev_percent, mean_average, mean_broadcast)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Round, s.Actual, s.Mean, s.Min, s.Max, s.StdDev, s.StdDevPercent, s.MeanAverage, s.MeanBroadcast,
	)
	if err != nil {
		return fmt.Errorf("record round %d of run %s: %w", s.Round, runID, err)
	}
	return nil
}

// FinishRun closes run runID. A non-nil cause marks the run failed. summary,
// when non-nil, is stored as JSON.
func (d *DB) FinishRun(ctx context.Context, runID string, rounds int, cause error, summary any) error {
	status, errText := StatusCompleted, sql.NullString{}
	if cause != nil {
		status = StatusFailed
		errText = sql.NullString{String: cause.Error(), Valid: true}
	}
	var summaryJSON sql.NullString
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode summary of run %s: %w", runID, err)
		}
		summaryJSON = sql.NullString{String: string(b), Valid: true}
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, rounds = ?, error = ?, summary_json = ?, finished_at = ? WHERE id = ?`,
		status, rounds, errText, summaryJSON, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `id, scenario, solution, seed, max_round, status, rounds, error, summary_json, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		r                 RunRecord
		seed              int64
		errText, summary  sql.NullString
		started, finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Scenario, &r.Solution, &seed, &r.MaxRound, &r.Status, &r.Rounds,
		&errText, &summary, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	r.Seed = uint64(seed)
	r.Error = errText.String
	if summary.Valid {
		r.Summary = json.RawMessage(summary.String)
	}
	if started.Valid {
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started.String)
	}
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	return r, nil
}

// GetRun returns the run with id.
func (d *DB) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns up to limit runs, most recent first. limit <= 0 returns
// all of them.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRounds returns the round summaries of runID in round order.
func (d *DB) ListRounds(ctx context.Context, runID string) ([]stats.RoundSummary, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT round, actual, mean, min, max, std_dev, std_dev_percent, mean_average, mean_broadcast
		 FROM round_stats WHERE run_id = ? ORDER BY round`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stats.RoundSummary
	for rows.Next() {
		var s stats.RoundSummary
		if err := rows.Scan(&s.Round, &s.Actual, &s.Mean, &s.Min, &s.Max, &s.StdDev,
			&s.StdDevPercent, &s.MeanAverage, &s.MeanBroadcast); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
