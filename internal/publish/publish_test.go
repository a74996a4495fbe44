package publish

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scibot/internal/transport"
	logx "scibot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func TestChannelPublish(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	ch := NewChannel(s, transport.ChatTarget{ChatID: -100}, true)
	id, err := ch.Publish(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if id != "tg:-100:1" {
		t.Fatalf("id = %s", id)
	}
	if _, err := ch.Publish(context.Background(), "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty message error = %v", err)
	}
}

func TestChannelPublishErrorIsPublishError(t *testing.T) {
	t.Parallel()
	ch := NewChannel(&fakeSender{err: errors.New("429 too many requests")}, transport.ChatTarget{ChatID: 1}, false)
	_, err := ch.Publish(context.Background(), "x")
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("error %T is not a publish error", err)
	}
	if pe.ErrorKind() != "publish" || pe.Publisher != "telegram" {
		t.Fatalf("unexpected error: %+v", pe)
	}
}

func TestLimitedWaitsForToken(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(time.Hour, 1)
	p := NewLimited(NewDryRun(logx.Nop()), lim)

	if _, err := p.Publish(context.Background(), "first"); err != nil {
		t.Fatalf("first Publish error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Publish(ctx, "second")
	if err == nil {
		t.Fatal("expected limiter error")
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Publisher != "limiter" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewLimiterUnlimited(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !lim.Allow() {
			t.Fatalf("unlimited limiter denied call %d", i)
		}
	}
}

func TestDryRunIDsAreUnique(t *testing.T) {
	t.Parallel()
	d := NewDryRun(logx.Nop())
	a, _ := d.Publish(context.Background(), "a")
	b, _ := d.Publish(context.Background(), "b")
	if a == b || !strings.HasPrefix(string(a), "dryrun:") {
		t.Fatalf("ids = %s, %s", a, b)
	}
}
