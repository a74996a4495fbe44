package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"scibot/internal/publish"
	"scibot/internal/storage"
	"scibot/internal/task/scheduler"
	logx "scibot/pkg/logx"
)

// Outcome of one PublishOnce call.
type Outcome string

const (
	Published Outcome = "published"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

var ErrEmptyKey = errors.New("empty content key")

// Observer counts publication outcomes per job.
type Observer interface {
	ObservePublish(job string, outcome Outcome)
}

// Auditor receives one entry per publication attempt.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type DeduperOption func(*Deduper)

func WithAuditor(a Auditor) DeduperOption { return func(d *Deduper) { d.audit = a } }

func WithPublishObserver(o Observer) DeduperOption { return func(d *Deduper) { d.observer = o } }

// Deduper guards publication with the ledger: a key is published at most once
// as long as the ledger write after a successful publish succeeds.
//
// Calls are serialised so the contains/publish/record sequence of one key
// never interleaves with another.
type Deduper struct {
	mu       sync.Mutex
	ledger   storage.Ledger
	audit    Auditor
	observer Observer
	log      logx.Logger
	now      func() time.Time
}

func NewDeduper(ledger storage.Ledger, log logx.Logger, opts ...DeduperOption) *Deduper {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Deduper{ledger: ledger, log: log, now: time.Now}
	if a, ok := ledger.(Auditor); ok {
		d.audit = a
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// PublishFunc performs the external publication.
type PublishFunc func(ctx context.Context) (publish.ID, error)

// PublishOnce publishes the content identified by key unless the ledger already has it.
//
// A failed publish leaves the ledger untouched so a later run retries. A
// ledger failure after a successful publish is returned; the content may be
// published again on the next run.
func (d *Deduper) PublishOnce(ctx context.Context, key string, fn PublishFunc) (Outcome, publish.ID, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Failed, "", ErrEmptyKey
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	run, _ := scheduler.RunFromContext(ctx)
	log := d.log.With(logx.String("job", run.Job), logx.String("key", key))

	seen, err := d.ledger.Contains(ctx, key)
	if err != nil {
		d.observe(run.Job, Failed)
		return Failed, "", err
	}
	if seen {
		log.Debug("already published; skipping")
		d.observe(run.Job, Skipped)
		return Skipped, "", nil
	}

	id, err := fn(ctx)
	if err != nil {
		log.Warn("publish failed", logx.Err(err))
		d.appendAudit(ctx, storage.AuditEntry{RunID: run.ID, Job: run.Job, Key: key, Error: err.Error()})
		d.observe(run.Job, Failed)
		return Failed, "", err
	}

	if err := d.ledger.Record(ctx, key); err != nil {
		log.Error("published but not recorded", logx.String("publish_id", string(id)), logx.Err(err))
		d.appendAudit(ctx, storage.AuditEntry{RunID: run.ID, Job: run.Job, Key: key, PublishID: string(id), OK: true, Error: err.Error()})
		d.observe(run.Job, Failed)
		return Failed, id, err
	}
	log.Info("published", logx.String("publish_id", string(id)))
	d.appendAudit(ctx, storage.AuditEntry{RunID: run.ID, Job: run.Job, Key: key, PublishID: string(id), OK: true})
	d.observe(run.Job, Published)
	return Published, id, nil
}

func (d *Deduper) appendAudit(ctx context.Context, e storage.AuditEntry) {
	if d.audit == nil {
		return
	}
	e.At = d.now().UTC()
	if err := d.audit.AppendAudit(ctx, e); err != nil {
		d.log.Warn("audit append failed", logx.String("key", e.Key), logx.Err(err))
	}
}

func (d *Deduper) observe(job string, o Outcome) {
	if d.observer != nil {
		d.observer.ObservePublish(job, o)
	}
}
