// Package storage keeps a sqlite history of grab runs and their downloads.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	sql *sql.DB

	// Downloads are recorded from several workers at once.
	writeMu sync.Mutex
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  started_at  TEXT NOT NULL,
  finished_at TEXT,
  root        TEXT NOT NULL,
  queued      INTEGER NOT NULL DEFAULT 0,
  downloaded  INTEGER NOT NULL DEFAULT 0,
  skipped     INTEGER NOT NULL DEFAULT 0,
  failed      INTEGER NOT NULL DEFAULT 0,
  requests    INTEGER NOT NULL DEFAULT 0,
  bytes       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE TABLE IF NOT EXISTS downloads (
  id          INTEGER PRIMARY KEY,
  run_id      TEXT NOT NULL REFERENCES runs(id),
  item_id     INTEGER NOT NULL,
  path        TEXT NOT NULL,
  status      TEXT NOT NULL CHECK (status IN ('downloaded','skipped','failed')),
  bytes       INTEGER NOT NULL DEFAULT 0,
  error       TEXT,
  occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_run ON downloads(run_id);
CREATE INDEX IF NOT EXISTS idx_downloads_item ON downloads(item_id);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// StartRun inserts a new run rooted at root and returns it.
func (d *DB) StartRun(ctx context.Context, root string) (Run, error) {
	run := Run{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Root: root}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.sql.ExecContext(ctx, `INSERT INTO runs(id, started_at, root) VALUES(?,?,?)`,
		run.ID, run.StartedAt.Format(timeLayout), run.Root)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// RecordDownload stores the outcome of one entry. It is safe for concurrent use.
func (d *DB) RecordDownload(ctx context.Context, dl Download) error {
	if dl.RunID == "" {
		return errors.New("download without run id")
	}
	if dl.OccurredAt.IsZero() {
		dl.OccurredAt = time.Now().UTC()
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.sql.ExecContext(ctx, `INSERT INTO downloads(run_id, item_id, path, status, bytes, error, occurred_at) VALUES(?,?,?,?,?,?,?)`,
		dl.RunID, dl.ItemID, dl.Path, dl.Status, dl.Bytes, nullIfEmpty(dl.Error), dl.OccurredAt.UTC().Format(timeLayout))
	return err
}

// FinishRun stores the final counters of run and stamps its end time.
func (d *DB) FinishRun(ctx context.Context, run Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	res, err := d.sql.ExecContext(ctx, `UPDATE runs SET finished_at = ?, queued = ?, downloaded = ?, skipped = ?, failed = ?, requests = ?, bytes = ? WHERE id = ?`,
		run.FinishedAt.UTC().Format(timeLayout), run.Queued, run.Downloaded, run.Skipped, run.Failed, run.Requests, run.Bytes, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT id, started_at, finished_at, root, queued, downloaded, skipped, failed, requests, bytes FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &r.Root, &r.Queued, &r.Downloaded, &r.Skipped, &r.Failed, &r.Requests, &r.Bytes); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			r.FinishedAt = parseTime(finished.String)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDownloads returns the downloads of a run in the order they finished.
// An empty status selects every outcome.
func (d *DB) ListDownloads(ctx context.Context, runID, status string) ([]Download, error) {
	q := `SELECT run_id, item_id, path, status, bytes, error, occurred_at FROM downloads WHERE run_id = ?`
	args := []interface{}{runID}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status)
	}
	q += " ORDER BY id"

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var dl Download
		var errNS sql.NullString
		var at string
		if err := rows.Scan(&dl.RunID, &dl.ItemID, &dl.Path, &dl.Status, &dl.Bytes, &errNS, &at); err != nil {
			return nil, err
		}
		dl.Error = errNS.String
		dl.OccurredAt = parseTime(at)
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := d.sql.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(downloaded), 0),
			COALESCE(SUM(failed), 0),
			COALESCE(SUM(bytes), 0)
		FROM
			runs;
	`).Scan(&s.Runs, &s.Downloaded, &s.Failed, &s.Bytes)
	return s, err
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
