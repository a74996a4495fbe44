package storage

import (
	"context"
	"errors"
	"strings"

	logx "scibot/pkg/logx"
)

// Open initializes the configured ledger store.
// An empty driver selects the file driver.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, &Error{Op: "open", Driver: driver, Err: errors.New("unknown storage driver")}
	}
}

// KnownDriver reports whether Open accepts the driver name.
func KnownDriver(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "file", "sqlite", "sqlite3", "postgres", "postgresql", "pg", "memory", "mem":
		return true
	}
	return false
}

func normalizeKey(key string) string { return strings.TrimSpace(key) }
