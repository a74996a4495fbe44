package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDailyWriterRollsOverByDay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	cfg := FileConfig{Enabled: true, Dir: dir, Name: "scibot"}

	w, err := newDailyWriter(cfg, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newDailyWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	day1, err := os.ReadFile(filepath.Join(dir, "2024-03-01_scibot.log"))
	if err != nil {
		t.Fatalf("read day1: %v", err)
	}
	day2, err := os.ReadFile(filepath.Join(dir, "2024-03-02_scibot.log"))
	if err != nil {
		t.Fatalf("read day2: %v", err)
	}
	if string(day1) != "first\n" || string(day2) != "second\n" {
		t.Fatalf("unexpected contents: %q / %q", day1, day2)
	}
}

func TestDailyPathDefaults(t *testing.T) {
	t.Parallel()
	got := DailyPath(FileConfig{}, time.Date(2021, 4, 20, 0, 0, 0, 0, time.UTC))
	if got != filepath.Join(".", "2021-04-20_scibot.log") {
		t.Fatalf("DailyPath = %q", got)
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	log.Error("job failed", String("job", "rss@22:20"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["job"] != "rss@22:20" || m["comp"] != "scheduler" || m["level"] != "error" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("missing error text: %s", buf.String())
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored")
}
