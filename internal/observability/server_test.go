package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "scibot/pkg/logx"
)

var okMetrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("scibot_up 1\n"))
})

func get(t *testing.T, h http.Handler, target, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	s := New(Config{Pprof: true}, okMetrics, func(context.Context) (map[string]any, error) {
		return map[string]any{"jobs": 4}, nil
	}, logx.Nop())
	h := s.Handler()

	if code, body := get(t, h, "/healthz", ""); code != http.StatusOK || !strings.Contains(body, `"jobs":4`) {
		t.Fatalf("healthz = %d %s", code, body)
	}
	if code, body := get(t, h, "/metrics", ""); code != http.StatusOK || !strings.Contains(body, "scibot_up 1") {
		t.Fatalf("metrics = %d %s", code, body)
	}
	if code, _ := get(t, h, "/debug/pprof/", ""); code != http.StatusOK {
		t.Fatalf("pprof index = %d", code)
	}
}

func TestHandlerWithoutPprof(t *testing.T) {
	t.Parallel()
	h := New(Config{}, okMetrics, nil, logx.Nop()).Handler()
	if code, _ := get(t, h, "/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof index = %d, want 404", code)
	}
}

func TestHealthFailure(t *testing.T) {
	t.Parallel()
	h := New(Config{}, nil, func(context.Context) (map[string]any, error) {
		return nil, errors.New("ledger closed")
	}, logx.Nop()).Handler()
	code, body := get(t, h, "/healthz", "")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "ledger closed") {
		t.Fatalf("healthz = %d %s", code, body)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, okMetrics, nil, logx.Nop()).Handler()

	cases := []struct {
		name   string
		target string
		auth   string
		want   int
	}{
		{"missing", "/metrics", "", http.StatusUnauthorized},
		{"wrong bearer", "/metrics", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "/metrics", "Bearer s3cret", http.StatusOK},
		{"query", "/metrics?token=s3cret", "", http.StatusOK},
		{"wrong query", "/metrics?token=x", "Bearer s3cret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if code, _ := get(t, h, tc.target, tc.auth); code != tc.want {
			t.Errorf("%s: code = %d, want %d", tc.name, code, tc.want)
		}
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, okMetrics, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	url := "http://" + s.Addr() + "/healthz"

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("address kept after Stop")
	}
}

func TestStartReturnsPromptly(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}, okMetrics, nil, logx.Nop())
	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}
	if s.Addr() == "" {
		t.Fatal("no bound address after Start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestStartRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected refusal for public bind without token")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:80":     false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
