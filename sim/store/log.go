package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Action is one applied "advance simulation" step.
type Action struct {
	Seq       int64
	ElapsedMs int64
}

// SnapshotRecord indexes a snapshot written after action Seq was applied.
// Seq 0 is the initial snapshot, before any action.
type SnapshotRecord struct {
	Seq         int64
	CurrentTime int64
	Digest      string
	Path        string
}

// Log is the ordered action log of one exercise run, plus an index of the
// snapshots written along the way. Replaying the actions from the initial
// snapshot must reproduce every indexed digest.
type Log struct {
	db   *sql.DB
	once sync.Once
}

// OpenLog opens or creates the SQLite log at path.
func OpenLog(path string) (*Log, error) {
	if path == "" {
		return nil, errors.New("log path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring log %s: %w", path, err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating log schema: %w", err)
	}
	return &Log{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			seq INTEGER PRIMARY KEY,
			elapsed_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			current_time_ms INTEGER NOT NULL,
			digest TEXT NOT NULL,
			path TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// AppendAction records the next action and returns its sequence number,
// starting at 1.
func (l *Log) AppendAction(ctx context.Context, elapsedMs int64) (int64, error) {
	if elapsedMs < 0 {
		return 0, fmt.Errorf("elapsed duration must be >= 0, got %d", elapsedMs)
	}
	res, err := l.db.ExecContext(ctx, `INSERT INTO actions(elapsed_ms) VALUES (?)`, elapsedMs)
	if err != nil {
		return 0, fmt.Errorf("appending action: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("appending action: %w", err)
	}
	return seq, nil
}

// Actions returns every logged action in sequence order.
func (l *Log) Actions(ctx context.Context) ([]Action, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT seq, elapsed_ms FROM actions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("selecting actions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.Seq, &a.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordSnapshot indexes a snapshot, replacing any earlier record for the
// same sequence number.
func (l *Log) RecordSnapshot(ctx context.Context, rec SnapshotRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots(seq, current_time_ms, digest, path) VALUES (?, ?, ?, ?)`,
		rec.Seq, rec.CurrentTime, rec.Digest, rec.Path)
	if err != nil {
		return fmt.Errorf("recording snapshot %d: %w", rec.Seq, err)
	}
	return nil
}

// Snapshots returns the indexed snapshots in sequence order.
func (l *Log) Snapshots(ctx context.Context) ([]SnapshotRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT seq, current_time_ms, digest, path FROM snapshots ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("selecting snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []SnapshotRecord
	for rows.Next() {
		var r SnapshotRecord
		if err := rows.Scan(&r.Seq, &r.CurrentTime, &r.Digest, &r.Path); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database. It is safe to call more than once.
func (l *Log) Close() error {
	var err error
	l.once.Do(func() {
		err = l.db.Close()
	})
	return err
}
