package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "scibot/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

//go:embed sqlite_schema.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, &Error{Op: "open", Driver: sqliteDriver, Err: errors.New("sqlite path is required")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap(sqliteDriver, "open", "", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap(sqliteDriver, "open", "", err)
	}
	// SQLite prefers a single writer; one connection also gives the ledger its single-writer rule.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	// FULL keeps a recorded key across power loss, not just process crashes.
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = FULL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, wrap(sqliteDriver, "open", "", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Contains(ctx context.Context, key string) (bool, error) {
	key = normalizeKey(key)
	if key == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM ledger WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap(sqliteDriver, "contains", key, err)
	}
	return true, nil
}

func (s *sqliteStore) Record(ctx context.Context, key string) error {
	key = normalizeKey(key)
	if key == "" {
		return wrap(sqliteDriver, "record", key, errors.New("empty key"))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger(key, recorded_at) VALUES(?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return wrap(sqliteDriver, "record", key, err)
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger`).Scan(&n); err != nil {
		return 0, wrap(sqliteDriver, "count", "", err)
	}
	return n, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, run_id, job, key, publish_id, ok, err)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), nullStr(e.RunID), e.Job, e.Key, nullStr(e.PublishID), e.OK, nullStr(e.Error),
	)
	return wrap(sqliteDriver, "audit", e.Key, err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
