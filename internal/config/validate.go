package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"scibot/internal/task/scheduler"
	logx "scibot/pkg/logx"
)

var (
	storageDrivers   = []string{"file", "sqlite", "postgres", "memory"}
	publisherDrivers = []string{"bluesky", "telegram", "dryrun"}
)

// FieldError is one invalid config value.
type FieldError struct {
	Path string
	Msg  string
}

func (e *FieldError) Error() string { return e.Path + ": " + e.Msg }

// ErrorKind lets the scheduler and CLI classify config failures.
func (e *FieldError) ErrorKind() string { return "config" }

// Normalize fills defaults that depend on other fields.
func Normalize(cfg *Config) {
	if len(cfg.Telegram.AlertChatIDs) == 0 {
		cfg.Telegram.AlertChatIDs = append([]int64(nil), cfg.Telegram.OwnerUserIDs...)
	}
	if cfg.Notifier.Enabled == nil {
		on := strings.TrimSpace(cfg.Telegram.Token) != ""
		cfg.Notifier.Enabled = &on
	}
	if cfg.Scheduler.RescheduleOnFailure == nil {
		on := true
		cfg.Scheduler.RescheduleOnFailure = &on
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "file"
	}
	if strings.TrimSpace(cfg.Publisher.Driver) == "" {
		cfg.Publisher.Driver = "dryrun"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	for i := range cfg.Jobs {
		cfg.Jobs[i].Name = strings.TrimSpace(cfg.Jobs[i].Name)
		cfg.Jobs[i].Action = strings.ToLower(strings.TrimSpace(cfg.Jobs[i].Action))
	}
}

// Validate normalizes cfg and reports every invalid field at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	Normalize(cfg)

	var errs []error
	bad := func(path, format string, args ...any) {
		errs = append(errs, &FieldError{Path: path, Msg: fmt.Sprintf(format, args...)})
	}
	dur := func(path, raw string) {
		if _, err := parseDuration(raw); err != nil {
			bad(path, "%v", err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		bad("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Dir) == "" {
		bad("logging.file.dir", "required when file logging is enabled")
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			bad("scheduler.timezone", "unknown timezone %q", tz)
		} else {
			loc = l
		}
	}
	dur("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	dur("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	if cfg.Scheduler.HistorySize < 0 {
		bad("scheduler.history_size", "must be >= 0")
	}

	dur("notifier.retry_base", cfg.Notifier.RetryBase)
	dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	dur("notifier.dedup_window", cfg.Notifier.DedupWindow)
	if *cfg.Notifier.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		bad("notifier.enabled", "requires telegram.token")
	}

	if !oneOf(cfg.Storage.Driver, storageDrivers) {
		bad("storage.driver", "must be one of %s", strings.Join(storageDrivers, ", "))
	}
	switch cfg.Storage.Driver {
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			bad("storage.path", "required for driver %s", cfg.Storage.Driver)
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			bad("storage.dsn", "required for driver postgres")
		}
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if !oneOf(cfg.Publisher.Driver, publisherDrivers) {
		bad("publisher.driver", "must be one of %s", strings.Join(publisherDrivers, ", "))
	}
	dur("publisher.min_interval", cfg.Publisher.MinInterval)
	dur("publisher.bluesky.timeout", cfg.Publisher.Bluesky.Timeout)
	switch cfg.Publisher.Driver {
	case "bluesky":
		if cfg.Publisher.Bluesky.Identifier == "" || cfg.Publisher.Bluesky.AppPassword == "" {
			bad("publisher.bluesky", "identifier and app_password are required")
		}
	case "telegram":
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			bad("publisher.driver", "telegram publisher requires telegram.token")
		}
		if cfg.Publisher.Telegram.ChatID == 0 {
			bad("publisher.telegram.chat_id", "required")
		}
	}

	for i, u := range cfg.Feeds.URLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			bad(fmt.Sprintf("feeds.urls[%d]", i), "must be an http(s) URL")
		}
	}
	dur("feeds.timeout", cfg.Feeds.Timeout)
	if u := strings.TrimSpace(cfg.Social.ListURI); u != "" && !strings.HasPrefix(u, "at://") {
		bad("social.list_uri", "must be an at:// URI")
	}
	if cfg.Compose.MaxLength < 0 {
		bad("compose.max_length", "must be >= 0")
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		if j.Name == "" {
			bad(path+".name", "required")
		} else if seen[j.Name] {
			bad(path+".name", "duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if j.Action == "" {
			bad(path+".action", "required")
		}
		sched := j.Schedule()
		if len(sched) == 0 {
			bad(path, "one of at, every or cron is required")
		} else if _, err := scheduler.ParseRecurrences(sched, loc); err != nil {
			bad(path, "%v", err)
		}
		dur(path+".timeout", j.Timeout)
	}

	if cfg.Debug.Enabled {
		if addr := strings.TrimSpace(cfg.Debug.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				bad("debug.addr", "%v", err)
			}
		}
	}

	return errors.Join(errs...)
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
