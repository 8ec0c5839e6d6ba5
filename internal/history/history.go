// Package history keeps a SQLite log of every file resolved by a sync.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/mirrorbox/internal/db"
	"github.com/openmined/mirrorbox/internal/mirror"
)

// fixed width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS transfer_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    path TEXT NOT NULL,
    processed_files INTEGER NOT NULL,
    total_files INTEGER NOT NULL,
    processed_bytes INTEGER NOT NULL,
    total_bytes INTEGER NOT NULL,
    recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_run ON transfer_history(run_id);
CREATE INDEX IF NOT EXISTS idx_history_recorded_at ON transfer_history(recorded_at);
`

var (
	ErrNotOpen     = errors.New("history store not open")
	ErrAlreadyOpen = errors.New("history store already open")
)

// Row is one resolved file.
type Row struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	Path           string    `json:"path"`
	ProcessedFiles int       `json:"processed_files"`
	TotalFiles     int       `json:"total_files"`
	ProcessedBytes int64     `json:"processed_bytes"`
	TotalBytes     int64     `json:"total_bytes"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// RunSummary aggregates the rows of one engine run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Files      int       `json:"files"`
	Bytes      int64     `json:"bytes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type dbRow struct {
	ID             int64  `db:"id"`
	RunID          string `db:"run_id"`
	Path           string `db:"path"`
	ProcessedFiles int    `db:"processed_files"`
	TotalFiles     int    `db:"total_files"`
	ProcessedBytes int64  `db:"processed_bytes"`
	TotalBytes     int64  `db:"total_bytes"`
	RecordedAt     string `db:"recorded_at"`
}

type dbRunSummary struct {
	RunID      string `db:"run_id"`
	Files      int    `db:"files"`
	Bytes      int64  `db:"bytes"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
}

type Store struct {
	db     *sqlx.DB
	dbPath string
	logger *slog.Logger
}

// NewStore returns a store for the database at dbPath. Call Open before use.
func NewStore(dbPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{dbPath: dbPath, logger: logger}
}

func (s *Store) Open() error {
	if s.db != nil {
		return ErrAlreadyOpen
	}

	conn, err := db.NewSqliteDB(db.WithPath(s.dbPath), db.WithMaxOpenConns(1), db.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize history schema: %w", err)
	}

	s.db = conn
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrNotOpen
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record appends the snapshot emitted for one resolved file.
func (s *Store) Record(runID string, snap mirror.Snapshot, at time.Time) error {
	if s.db == nil {
		return ErrNotOpen
	}

	var path string
	if snap.CurrentFile != nil {
		path = snap.CurrentFile.FullName()
	}
	row := dbRow{
		RunID:          runID,
		Path:           path,
		ProcessedFiles: snap.ProcessedFiles,
		TotalFiles:     snap.TotalFiles,
		ProcessedBytes: snap.ProcessedBytes,
		TotalBytes:     snap.TotalBytes,
		RecordedAt:     at.UTC().Format(timeLayout),
	}

	_, err := s.db.NamedExec(`
		INSERT INTO transfer_history
			(run_id, path, processed_files, total_files, processed_bytes, total_bytes, recorded_at)
		VALUES
			(:run_id, :path, :processed_files, :total_files, :processed_bytes, :total_bytes, :recorded_at)
	`, row)
	if err != nil {
		return fmt.Errorf("record %s: %w", path, err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(limit int) ([]Row, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []dbRow
	if err := s.db.Select(&rows, `SELECT * FROM transfer_history ORDER BY id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		at, err := time.Parse(timeLayout, r.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at of row %d: %w", r.ID, err)
		}
		out = append(out, Row{
			ID:             r.ID,
			RunID:          r.RunID,
			Path:           r.Path,
			ProcessedFiles: r.ProcessedFiles,
			TotalFiles:     r.TotalFiles,
			ProcessedBytes: r.ProcessedBytes,
			TotalBytes:     r.TotalBytes,
			RecordedAt:     at,
		})
	}
	return out, nil
}

// Runs summarizes every recorded run, most recently finished first.
func (s *Store) Runs() ([]RunSummary, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	var rows []dbRunSummary
	err := s.db.Select(&rows, `
		SELECT run_id,
			COUNT(*) AS files,
			MAX(processed_bytes) AS bytes,
			MIN(recorded_at) AS started_at,
			MAX(recorded_at) AS finished_at
		FROM transfer_history
		GROUP BY run_id
		ORDER BY finished_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	out := make([]RunSummary, 0, len(rows))
	for _, r := range rows {
		started, err := time.Parse(timeLayout, r.StartedAt)
		if err != nil {
			return nil, err
		}
		finished, err := time.Parse(timeLayout, r.FinishedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, RunSummary{
			RunID:      r.RunID,
			Files:      r.Files,
			Bytes:      r.Bytes,
			StartedAt:  started,
			FinishedAt: finished,
		})
	}
	return out, nil
}

// Recorder returns an engine subscriber that stores every snapshot under
// runID. Failures are logged; they never reach the engine.
func Recorder(store *Store, runID string, logger *slog.Logger) func(mirror.Snapshot) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(snap mirror.Snapshot) {
		if err := store.Record(runID, snap, time.Now()); err != nil {
			logger.Warn("history record failed", "run", runID, "error", err)
		}
	}
}
