package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed  = errors.New("ledger closed")
	ErrCorrupt = errors.New("ledger corrupt")
	ErrLocked  = errors.New("ledger locked by another process")
)

// Config configures the dedup ledger.
//
// Driver values:
//   - "file": JSONL journal + atomic-rename snapshot (default)
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via DSN
//   - "memory": process-local, lost on exit
type Config struct {
	Driver       string
	Path         string
	DSN          string        // postgres only
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal writes between snapshots (0 = default)
}

// Ledger is the persistent set of already-published content keys.
//
// Contains returns false (and no error) when the store does not exist yet.
// Record is durable when it returns nil; recording a known key is a no-op.
type Ledger interface {
	Contains(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
}

// Store is the ledger plus the publication audit trail.
type Store interface {
	Ledger
	AppendAudit(ctx context.Context, e AuditEntry) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// AuditEntry records one publication attempt.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	RunID     string    `json:"run_id,omitempty"`
	Job       string    `json:"job"`
	Key       string    `json:"key"`
	PublishID string    `json:"publish_id,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

// Error is a ledger read/write failure.
type Error struct {
	Op     string // "open", "contains", "record", "audit", "compact"
	Driver string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s (%s): %v", e.Driver, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Driver, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for scheduler logs.
func (e *Error) ErrorKind() string { return "storage" }

// IsStorageError reports whether err carries a ledger failure.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func wrap(driver, op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Driver: driver, Key: key, Err: err}
}
