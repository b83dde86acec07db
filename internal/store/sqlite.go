// Package store keeps a history of detection jobs in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/pkg/types"
)

// ErrNotFound is returned by Get for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// DB wraps the SQLite connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New opens (creating if needed) the job database at dbPath.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS job_images (
		job_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0,
		PRIMARY KEY (job_id, position),
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Insert records a job entering the running state.
func (db *DB) Insert(rec types.JobRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO jobs (id, filename, status, error, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Filename, string(rec.Status), rec.Error, rec.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Finish stores the terminal state of a job together with its images.
func (db *DB) Finish(rec types.JobRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var finished any
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UnixMilli()
	}

	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, string(rec.Status), rec.Error, finished, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update job %s: %w", rec.ID, ErrNotFound)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO job_images (job_id, position, name, url, width, height)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, img := range rec.Images {
		if _, err := stmt.Exec(rec.ID, i, img.Name, img.URL, img.Width, img.Height); err != nil {
			return fmt.Errorf("failed to insert job image: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns one job by ID.
func (db *DB) Get(id string) (types.JobRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, filename, status, error, started_at, finished_at
		FROM jobs WHERE id = ?
	`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.JobRecord{}, ErrNotFound
	}
	if err != nil {
		return types.JobRecord{}, fmt.Errorf("failed to query job: %w", err)
	}

	if err := db.loadImages(&rec); err != nil {
		return types.JobRecord{}, err
	}
	return rec, nil
}

// List returns up to limit jobs, most recently started first.
func (db *DB) List(limit int) ([]types.JobRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, filename, status, error, started_at, finished_at
		FROM jobs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	jobs := []types.JobRecord{}
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, rec)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	for i := range jobs {
		if err := db.loadImages(&jobs[i]); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// loadImages fills rec.Images. Callers hold the read lock.
func (db *DB) loadImages(rec *types.JobRecord) error {
	rows, err := db.conn.Query(`
		SELECT name, url, width, height FROM job_images
		WHERE job_id = ? ORDER BY position
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query job images: %w", err)
	}
	defer rows.Close()

	rec.Images = []types.ResultImage{}
	for rows.Next() {
		var img types.ResultImage
		if err := rows.Scan(&img.Name, &img.URL, &img.Width, &img.Height); err != nil {
			return fmt.Errorf("failed to scan job image: %w", err)
		}
		rec.Images = append(rec.Images, img)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (types.JobRecord, error) {
	var (
		rec      types.JobRecord
		status   string
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &rec.Filename, &status, &rec.Error, &started, &finished); err != nil {
		return rec, err
	}
	rec.Status = types.JobStatus(status)
	rec.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		rec.FinishedAt = &t
	}
	return rec, nil
}

// JobStarted implements detector.JobHook. History is best effort: failures
// are logged and never reach the client.
func (db *DB) JobStarted(rec types.JobRecord) {
	if err := db.Insert(rec); err != nil {
		logger.Warn("Store", "[%s] %v", rec.ID, err)
	}
}

// JobFinished implements detector.JobHook.
func (db *DB) JobFinished(rec types.JobRecord) {
	if err := db.Finish(rec); err != nil {
		logger.Warn("Store", "[%s] %v", rec.ID, err)
	}
}
