package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shashin/internal/models"
)

// SQLiteStorage implements CatalogStore and ReportStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS paths (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		fingerprint INTEGER NOT NULL DEFAULT 0,
		scanned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS reconcile_runs (
		run_id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		report TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON reconcile_runs(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Replace deletes every catalog row and inserts records in one transaction.
// Readers never observe a partially written catalog.
func (s *SQLiteStorage) Replace(ctx context.Context, records []models.FileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM paths`); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO paths (id, fingerprint, scanned_at) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare catalog insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Fingerprint, now); err != nil {
			return fmt.Errorf("failed to insert %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// List returns all catalog records ordered by insertion.
func (s *SQLiteStorage) List(ctx context.Context) ([]models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, fingerprint FROM paths ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	defer rows.Close()

	var records []models.FileRecord
	for rows.Next() {
		var rec models.FileRecord
		if err := rows.Scan(&rec.ID, &rec.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one catalog record, or ErrNotFound.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	var rec models.FileRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint FROM paths WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("path %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Count returns the number of catalog records.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paths`).Scan(&count)
	return count, err
}

// Clear removes every catalog record and the run history.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM paths`); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reconcile_runs`); err != nil {
		return fmt.Errorf("failed to clear run history: %w", err)
	}
	return nil
}

// SaveReport stores a reconcile report keyed by its run ID.
func (s *SQLiteStorage) SaveReport(ctx context.Context, report *models.ReconcileReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO reconcile_runs (run_id, started_at, report) VALUES (?, ?, ?)`,
		report.RunID, report.StartedAt, string(data),
	)
	return err
}

// LastReport returns the most recent reconcile report, or ErrNotFound.
func (s *SQLiteStorage) LastReport(ctx context.Context) (*models.ReconcileReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM reconcile_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reconcile report: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var report models.ReconcileReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
