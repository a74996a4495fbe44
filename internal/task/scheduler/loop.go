package scheduler

import (
	"context"
	"time"

	logx "scibot/pkg/logx"
)

const DefaultPollInterval = time.Second

// Runner is the part of Service the loop drives.
type Runner interface {
	RunDue(ctx context.Context, now time.Time) Report
}

// Loop polls a Runner until its context is cancelled.
type Loop struct {
	Runner   Runner
	Interval time.Duration
	Log      logx.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// OnPass is called after each pass, e.g. to ping the systemd watchdog.
	OnPass func(Report)
}

// Run calls RunDue, then sleeps Interval, until ctx is done. It returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}
	log := l.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	log.Info("run loop started", logx.Duration("interval", interval))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("run loop stopped", logx.Err(ctx.Err()))
			return ctx.Err()
		case <-timer.C:
		}

		rep := l.Runner.RunDue(ctx, now())
		if n := rep.Failed(); n > 0 {
			log.Debug("pass finished with failures", logx.Int("ran", rep.Ran()), logx.Int("failed", n))
		}
		if l.OnPass != nil {
			l.OnPass(rep)
		}
		timer.Reset(interval)
	}
}
