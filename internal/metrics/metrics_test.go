package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scibot/internal/bot"
	"scibot/internal/notifier"
	"scibot/internal/storage"
	"scibot/internal/task/scheduler"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetricsExport(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveRun("rss", 2*time.Second, nil)
	m.ObserveRun("rss", time.Second, &scheduler.CallbackError{Job: "rss", Err: &storage.Error{Op: "record", Driver: "file", Err: errors.New("disk")}})
	m.ObserveSkip("like")
	m.ObservePublish("rss", bot.Published)
	m.ObservePublish("rss", bot.Skipped)
	m.ObserveNotify(notifier.Event{Type: notifier.EventSent})
	m.ObservePass(scheduler.Report{})
	m.RegisterLedgerSize(func() float64 { return 42 })

	body := scrape(t, m)
	for _, want := range []string{
		`scibot_job_runs_total{job="rss",kind="",result="ok"} 1`,
		`scibot_job_runs_total{job="rss",kind="storage",result="error"} 1`,
		`scibot_job_skips_total{job="like"} 1`,
		`scibot_publish_total{job="rss",outcome="published"} 1`,
		`scibot_publish_total{job="rss",outcome="skipped"} 1`,
		`scibot_notify_events_total{event="sent"} 1`,
		`scibot_scheduler_passes_total 1`,
		`scibot_ledger_keys 42`,
		`scibot_job_duration_seconds_count{job="rss"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
