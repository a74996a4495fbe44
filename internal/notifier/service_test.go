package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "scibot/internal/transport"
	logx "scibot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int // fail this many sends before succeeding
	sent  []string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("telegram: bad gateway")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	n := New(testConfig(), s, logx.Nop())
	n.Start(context.Background())
	defer n.Stop(context.Background())

	if err := n.Notify(context.Background(), Notification{Priority: PriorityAlert, Target: kit.ChatTarget{ChatID: 1}, Text: "[Job Error] rss: boom"}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	waitFor(t, func() bool { return len(s.texts()) == 1 })
	if got := s.texts()[0]; !strings.HasSuffix(got, "[Job Error] rss: boom") || !strings.HasPrefix(got, "🚨") {
		t.Fatalf("sent %q", got)
	}
	if len(n.History()) != 1 {
		t.Fatalf("history = %d, want 1", len(n.History()))
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	s := &fakeSender{fails: 2}
	var mu sync.Mutex
	var events []EventType
	n := New(testConfig(), s, logx.Nop(), WithEventHook(func(ev Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	}))
	n.Start(context.Background())
	defer n.Stop(context.Background())

	_ = n.Notify(context.Background(), Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
	waitFor(t, func() bool { return len(s.texts()) == 1 })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	seen := map[EventType]bool{}
	for _, ev := range events {
		seen[ev] = true
	}
	if !seen[EventQueued] || !seen[EventSent] {
		t.Fatalf("events = %v", events)
	}
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	s := &fakeSender{fails: 10}
	failed := make(chan Event, 1)
	n := New(testConfig(), s, logx.Nop(), WithEventHook(func(ev Event) {
		if ev.Type == EventFailed {
			failed <- ev
		}
	}))
	n.Start(context.Background())
	defer n.Stop(context.Background())

	_ = n.Notify(context.Background(), Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
	select {
	case ev := <-failed:
		if ev.Err == nil {
			t.Fatal("failed event without error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failed event")
	}
	s.mu.Lock()
	left := s.fails
	s.mu.Unlock()
	if left != 7 {
		t.Fatalf("attempts = %d, want 3", 10-left)
	}
}

func TestNotifySuppressesDuplicates(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	n := New(testConfig(), s, logx.Nop())
	n.Start(context.Background())
	defer n.Stop(context.Background())

	msg := Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "same"}
	for i := 0; i < 3; i++ {
		if err := n.Notify(context.Background(), msg); err != nil {
			t.Fatalf("Notify error: %v", err)
		}
	}
	_ = n.Notify(context.Background(), Notification{Target: kit.ChatTarget{ChatID: 2}, Text: "same"})
	waitFor(t, func() bool { return len(s.texts()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := len(s.texts()); got != 2 {
		t.Fatalf("sent = %d, want 2", got)
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	n := New(cfg, &fakeSender{}, logx.Nop())
	n.Start(context.Background())
	if err := n.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify = %v", err)
	}

	n2 := New(testConfig(), &fakeSender{}, logx.Nop())
	if err := n2.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started Notify = %v", err)
	}
	n2.Start(context.Background())
	n2.Stop(context.Background())
	if err := n2.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped Notify = %v", err)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	n := New(cfg, &fakeSender{}, logx.Nop())
	// Not started workers: build the queue by hand so nothing drains it.
	n.queue = make(chan job, 1)
	n.accepting = true

	if err := n.Notify(context.Background(), Notification{Text: "a"}); err != nil {
		t.Fatalf("first Notify error: %v", err)
	}
	if err := n.Notify(context.Background(), Notification{Text: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Notify = %v, want ErrQueueFull", err)
	}
}

func TestDedupAllowCapsEntries(t *testing.T) {
	t.Parallel()
	n := New(testConfig(), &fakeSender{}, logx.Nop())
	now := time.Now()
	for i := 0; i < 10; i++ {
		n.dedupAllow(string(rune('a'+i)), time.Duration(i+1)*time.Minute, 3, now)
	}
	if len(n.dedup) != 3 {
		t.Fatalf("entries = %d, want 3", len(n.dedup))
	}
	if _, ok := n.dedup["j"]; !ok {
		t.Fatal("latest-expiring entry evicted")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
