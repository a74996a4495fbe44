package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scibot/internal/task/scheduler"
	"scibot/internal/transport/telegram/router"
)

// ownerCommands exposes scheduler state and manual runs to bot owners.
func (a *App) ownerCommands() []router.Command {
	return []router.Command{
		{
			Name:        "status",
			Description: "scheduler and ledger status",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				n, err := a.store.Count(ctx)
				if err != nil {
					return err
				}
				return req.Reply(ctx, statusText(a.sched.Snapshot(), n, a.started, time.Now()))
			},
		},
		{
			Name:        "jobs",
			Description: "list jobs with next and last run",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, jobsText(a.sched.Snapshot()))
			},
		},
		{
			Name:        "run",
			Usage:       "/run <job>",
			Description: "run a job now",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Minute,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) != 1 {
					return req.Reply(ctx, "usage: /run <job>")
				}
				res, err := a.sched.RunNow(ctx, req.Args[0])
				return req.Reply(ctx, runText(req.Args[0], res, err))
			},
		},
		{
			Name:        "history",
			Usage:       "/history [n]",
			Description: "recent runs",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				n := 10
				if len(req.Args) > 0 {
					if _, err := fmt.Sscanf(req.Args[0], "%d", &n); err != nil || n <= 0 {
						return req.Reply(ctx, "usage: /history [n]")
					}
				}
				return req.Reply(ctx, historyText(a.sched.History(n)))
			},
		},
	}
}

func statusText(s scheduler.Snapshot, ledgerKeys int, started, now time.Time) string {
	var running, failed int
	for _, j := range s.Jobs {
		if j.Running {
			running++
		}
		if j.LastError != "" {
			failed++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s\n", now.Sub(started).Truncate(time.Second))
	fmt.Fprintf(&b, "timezone: %s\n", s.Timezone)
	fmt.Fprintf(&b, "jobs: %d (running %d, last run failed %d)\n", len(s.Jobs), running, failed)
	fmt.Fprintf(&b, "ledger keys: %d", ledgerKeys)
	return b.String()
}

func jobsText(s scheduler.Snapshot) string {
	if len(s.Jobs) == 0 {
		return "no jobs"
	}
	var b strings.Builder
	for i, j := range s.Jobs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s (%s)\n", j.Name, j.Recurrence)
		fmt.Fprintf(&b, "next: %s\n", fmtTime(j.NextRun, s.Timezone))
		fmt.Fprintf(&b, "last: %s, runs %d, failures %d", fmtTime(j.LastRun, s.Timezone), j.Runs, j.Failures)
		if j.Running {
			b.WriteString(", running")
		}
		if j.LastError != "" {
			fmt.Fprintf(&b, "\nerror: %s", j.LastError)
		}
	}
	return b.String()
}

func runText(name string, res scheduler.RunResult, err error) string {
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		return fmt.Sprintf("unknown job %q", name)
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return fmt.Sprintf("%s is already running", name)
	case res.Err != nil:
		return fmt.Sprintf("%s failed after %s: %v", name, res.Duration.Truncate(time.Millisecond), res.Err)
	case err != nil:
		return fmt.Sprintf("%s: %v", name, err)
	default:
		return fmt.Sprintf("%s ok in %s", name, res.Duration.Truncate(time.Millisecond))
	}
}

func historyText(items []scheduler.HistoryItem) string {
	if len(items) == 0 {
		return "no runs yet"
	}
	var b strings.Builder
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		status := "ok"
		if it.Error != "" {
			status = it.Kind + ": " + it.Error
		}
		manual := ""
		if it.Manual {
			manual = " (manual)"
		}
		fmt.Fprintf(&b, "%s %s%s %s %s\n", it.Started.Format("01-02 15:04:05"), it.Name, manual,
			it.Duration.Truncate(time.Millisecond), status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func fmtTime(t time.Time, tz string) string {
	if t.IsZero() {
		return "never"
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02 15:04")
}
