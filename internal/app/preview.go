package app

import (
	"context"
	"strings"
	"time"

	"scibot/internal/config"
	"scibot/internal/storage"
	"scibot/internal/task/scheduler"
	logx "scibot/pkg/logx"
)

// JobPreview lists the next run times of one configured job.
type JobPreview struct {
	Name       string
	Action     string
	Recurrence string
	Args       []string
	Next       []time.Time
}

// Preview resolves the configured jobs (or the built-in table) without
// building any component.
func Preview(cfg *config.Config, from time.Time, n int) ([]JobPreview, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, &scheduler.ConfigError{Field: "timezone", Value: tz, Err: err}
		}
		loc = l
	}
	defs := jobDefs(cfg.Jobs, cfg.Social.ListURI)
	out := make([]JobPreview, 0, len(defs))
	for _, d := range defs {
		rec, err := scheduler.ParseRecurrences(d.Schedule, loc)
		if err != nil {
			return nil, err
		}
		p := JobPreview{Name: d.Name, Action: d.Action, Recurrence: rec.String(), Args: d.Args}
		t := from
		for i := 0; i < n; i++ {
			t = rec.Next(t)
			if t.IsZero() {
				break
			}
			p.Next = append(p.Next, t.In(loc))
		}
		out = append(out, p)
	}
	return out, nil
}

// OpenStore opens the configured ledger for maintenance commands.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, error) {
	return storage.Open(ctx, storageConfig(cfg.Storage), log)
}
