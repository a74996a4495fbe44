package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "scibot/pkg/logx"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
  poll_interval: 1s
storage:
  driver: sqlite
  path: ledger.db
publisher:
  driver: dryrun
feeds:
  urls:
    - https://example.org/rss
compose:
  hashtags: [science, "open access"]
jobs:
  - name: rss
    action: post_feed
    at: ["06:20", "14:20"]
  - name: like
    action: like
    every: 30m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestManagerLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "scibot.yaml", sampleYAML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}
	if cfg.Storage.Driver != "sqlite" || len(cfg.Jobs) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if got := cfg.Jobs[0].Schedule(); strings.Join(got, ",") != "at:06:20,at:14:20" {
		t.Fatalf("schedule = %v", got)
	}
	if len(cfg.Telegram.AlertChatIDs) != 1 || cfg.Telegram.AlertChatIDs[0] != 42 {
		t.Fatalf("alert chats default = %v", cfg.Telegram.AlertChatIDs)
	}
	if cfg.Notifier.Enabled == nil || !*cfg.Notifier.Enabled {
		t.Fatal("notifier should default to enabled with a token")
	}
	if cfg.Scheduler.RescheduleOnFailure == nil || !*cfg.Scheduler.RescheduleOnFailure {
		t.Fatal("reschedule_on_failure should default to true")
	}
}

func TestDecodeJSONStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"storage":{"driver":"memory"}}`, true},
		{"unknown field", `{"storage":{"driver":"memory","colour":"red"}}`, false},
		{"trailing data", `{"storage":{"driver":"memory"}}{}`, false},
		{"syntax", `{"storage":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("scibot.json", []byte(tt.body))
			if (err == nil) != tt.ok {
				t.Fatalf("Decode error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestDecodeRejectsUnknownExtension(t *testing.T) {
	t.Parallel()
	if _, err := Decode("scibot.toml", []byte("a = 1")); err == nil {
		t.Fatal("expected error for .toml")
	}
}

func TestDecodeYAMLSingleDocument(t *testing.T) {
	t.Parallel()
	if _, err := Decode("scibot.yaml", []byte("storage:\n  driver: memory\n---\nstorage:\n  driver: file\n")); err == nil {
		t.Fatal("expected error for a second YAML document")
	}
	cfg, err := Decode("scibot.yml", []byte("storage:\n  driver: memory\n"))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if _, err := Decode("scibot.yaml", nil); err != nil {
		t.Fatalf("empty YAML error: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus", PollInterval: "soon"},
		Storage:   StorageConfig{Driver: "mongo"},
		Publisher: PublisherConfig{Driver: "bluesky"},
		Feeds:     FeedsConfig{URLs: []string{"ftp://x"}},
		Social:    SocialConfig{ListURI: "https://bsky.app/profile/x/lists/1"},
		Notifier:  NotifierConfig{DedupWindow: "-2d"},
		Jobs: []JobConfig{
			{Name: "a", Action: "like"},
			{Name: "a", Action: "like", Every: "10s"},
			{Name: "b", Action: "like", At: []string{"25:00"}},
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, path := range []string{
		"scheduler.timezone", "scheduler.poll_interval", "storage.driver", "publisher.bluesky",
		"feeds.urls[0]", "social.list_uri", "notifier.dedup_window", "jobs[0]", "jobs[1].name", "jobs[2]",
	} {
		if !strings.Contains(err.Error(), path+":") {
			t.Errorf("missing error for %s in:\n%v", path, err)
		}
	}
	var fe *FieldError
	if !errors.As(err, &fe) || fe.ErrorKind() != "config" {
		t.Fatalf("errors are not FieldErrors: %v", err)
	}
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{Storage: StorageConfig{Path: "ledger.txt"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Publisher.Driver != "dryrun" || cfg.Logging.Level != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if *cfg.Notifier.Enabled {
		t.Fatal("notifier must default to disabled without a telegram token")
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"SCIBOT_TELEGRAM_TOKEN":       " env-token ",
		"SCIBOT_BLUESKY_APP_PASSWORD": "env-pass",
		"SCIBOT_DB_URL":               "",
	}
	cfg := &Config{Storage: StorageConfig{DSN: "postgres://file"}}
	ApplyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.Telegram.Token != "env-token" || cfg.Publisher.Bluesky.AppPassword != "env-pass" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Storage.DSN != "postgres://file" {
		t.Fatal("empty env value must not override the file")
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}, Feeds: FeedsConfig{URLs: []string{"https://a"}}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Feeds: FeedsConfig{URLs: []string{"https://b"}}}
	changes := Diff(a, b)
	if len(changes) != 2 || changes[0].Section != "logging" || !changes[0].Live || changes[1].Section != "feeds" {
		t.Fatalf("changes = %+v", changes)
	}
	if got := RestartRequired(changes); len(got) != 1 || got[0] != "feeds" {
		t.Fatalf("restart required = %v", got)
	}
	if Diff(a, a) != nil {
		t.Fatal("identical configs should not differ")
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Second},
		{"0s", time.Second},
		{"bogus", time.Second},
		{"250ms", 250 * time.Millisecond},
		{"2d", 48 * time.Hour},
		{"-1d", time.Second},
		{"xd", time.Second},
	}
	for _, tt := range tests {
		if got := DurationOr(tt.raw, time.Second); got != tt.want {
			t.Errorf("DurationOr(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "scibot.json", `{"storage":{"driver":"memory"},"logging":{"level":"info"}}`)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	// An invalid file is rejected and the committed config is kept.
	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"mongo"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-updates:
		t.Fatalf("invalid config published: %+v", cfg)
	default:
	}

	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"memory"},"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-updates:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload not committed")
	}

	cancel()
	<-done
	m.Unsubscribe(updates)
}
