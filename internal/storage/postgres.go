package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	logx "scibot/pkg/logx"
)

const postgresDriver = "postgres"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS scibot_ledger (
	key         TEXT PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS scibot_audit (
	id         BIGSERIAL PRIMARY KEY,
	at         TIMESTAMPTZ NOT NULL,
	run_id     TEXT,
	job        TEXT NOT NULL,
	key        TEXT NOT NULL,
	publish_id TEXT,
	ok         BOOLEAN NOT NULL,
	err        TEXT
);`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = os.Getenv("SCIBOT_DB_URL")
	}
	if dsn == "" {
		return nil, &Error{Op: "open", Driver: postgresDriver, Err: errors.New("storage.dsn is required for postgres driver")}
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrap(postgresDriver, "open", "", err)
	}
	pcfg.MaxConns = 4
	pcfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, wrap(postgresDriver, "open", "", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, wrap(postgresDriver, "open", "", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, wrap(postgresDriver, "open", "", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) Contains(ctx context.Context, key string) (bool, error) {
	key = normalizeKey(key)
	if key == "" {
		return false, nil
	}
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM scibot_ledger WHERE key = $1)`, key).Scan(&ok)
	if err != nil {
		return false, wrap(postgresDriver, "contains", key, err)
	}
	return ok, nil
}

// Record relies on the primary key for the single-writer rule: concurrent inserts of one key
// collapse into a single row.
func (s *postgresStore) Record(ctx context.Context, key string) error {
	key = normalizeKey(key)
	if key == "" {
		return wrap(postgresDriver, "record", key, errors.New("empty key"))
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scibot_ledger (key, recorded_at) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, time.Now().UTC(),
	)
	return wrap(postgresDriver, "record", key, err)
}

func (s *postgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scibot_ledger`).Scan(&n); err != nil {
		return 0, wrap(postgresDriver, "count", "", err)
	}
	return n, nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scibot_audit (at, run_id, job, key, publish_id, ok, err)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.At.UTC(), nullStr(e.RunID), e.Job, e.Key, nullStr(e.PublishID), e.OK, nullStr(e.Error),
	)
	return wrap(postgresDriver, "audit", e.Key, err)
}
