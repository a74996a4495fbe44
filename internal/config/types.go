package config

// Config is the whole scibot configuration. It is read once at startup and
// passed by value; only the logging section is applied on reload.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "3h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	Publisher PublisherConfig `json:"publisher"`
	Feeds     FeedsConfig     `json:"feeds"`
	Compose   ComposeConfig   `json:"compose"`
	Social    SocialConfig    `json:"social"`
	Debug     DebugConfig     `json:"debug"`
	Systemd   SystemdConfig   `json:"systemd"`

	// Jobs replaces the built-in job table when non-empty.
	Jobs []JobConfig `json:"jobs,omitempty"`
}

// TelegramConfig configures the bot used for alerts, owner commands and the
// telegram publisher. An empty token disables Telegram entirely.
type TelegramConfig struct {
	Token        string  `json:"token"` // SCIBOT_TELEGRAM_TOKEN overrides
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AlertChatIDs receive job failure alerts. Defaults to the owners' private chats.
	AlertChatIDs []int64 `json:"alert_chat_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile writes one JSON log per day: <dir>/<YYYY-MM-DD>_<name>.log.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Dir        string `json:"dir"`
	Name       string `json:"name,omitempty"` // default "scibot"
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// SchedulerConfig controls the run loop.
//
// Defaults:
//   - timezone: local
//   - poll_interval: "1s"
//   - reschedule_on_failure: true
//   - job_timeout: "0s" (disabled)
//   - history_size: 200
type SchedulerConfig struct {
	Timezone            string `json:"timezone,omitempty"`
	PollInterval        string `json:"poll_interval,omitempty"`
	RescheduleOnFailure *bool  `json:"reschedule_on_failure,omitempty"`
	JobTimeout          string `json:"job_timeout,omitempty"`
	HistorySize         int    `json:"history_size,omitempty"`
}

// NotifierConfig controls the alert pipeline. Enabled defaults to true when
// a telegram token is set.
type NotifierConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// StorageConfig selects the dedup ledger.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "~/scibot/ledger.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // postgres; SCIBOT_DB_URL overrides
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	CompactEvery int    `json:"compact_every,omitempty"`
}

// PublisherConfig selects where composed messages go: "bluesky", "telegram" or "dryrun".
type PublisherConfig struct {
	Driver string `json:"driver"`
	// MinInterval spaces publications; Burst allows short runs. "0s" disables limiting.
	MinInterval string            `json:"min_interval,omitempty"`
	Burst       int               `json:"burst,omitempty"`
	Bluesky     BlueskyConfig     `json:"bluesky"`
	Telegram    TelegramPublisher `json:"telegram"`
}

type BlueskyConfig struct {
	Host        string   `json:"host,omitempty"`
	Identifier  string   `json:"identifier"`
	AppPassword string   `json:"app_password"` // SCIBOT_BLUESKY_APP_PASSWORD overrides
	Langs       []string `json:"langs,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
}

type TelegramPublisher struct {
	ChatID         int64 `json:"chat_id"`
	ThreadID       int   `json:"thread_id,omitempty"`
	DisablePreview bool  `json:"disable_preview,omitempty"`
}

type FeedsConfig struct {
	URLs        []string `json:"urls"`
	Timeout     string   `json:"timeout,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	UserAgent   string   `json:"user_agent,omitempty"`
}

type ComposeConfig struct {
	Hashtags  []string `json:"hashtags,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Separator string   `json:"separator,omitempty"`
}

// SocialConfig filters repost and like candidates and caps each run.
type SocialConfig struct {
	Include    []string `json:"include_words,omitempty"`
	Exclude    []string `json:"exclude_words,omitempty"`
	MaxPosts   int      `json:"max_posts_per_run,omitempty"`
	MaxReposts int      `json:"max_reposts_per_run,omitempty"`
	MaxLikes   int      `json:"max_likes_per_run,omitempty"`
	FetchLimit int      `json:"fetch_limit,omitempty"`
	// ListURI is the at:// URI of a curated list for the "list" source.
	ListURI string `json:"list_uri,omitempty"`
}

// JobConfig is one scheduled job. At, Every and Cron may be combined; the
// job runs at the earliest of them.
type JobConfig struct {
	Name    string   `json:"name"`
	Action  string   `json:"action"`
	At      []string `json:"at,omitempty"`
	Every   string   `json:"every,omitempty"`
	Cron    string   `json:"cron,omitempty"`
	Args    []string `json:"args,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

// Schedule returns the recurrence entries in ParseRecurrence syntax.
func (j JobConfig) Schedule() []string {
	out := make([]string, 0, len(j.At)+2)
	for _, at := range j.At {
		out = append(out, "at:"+at)
	}
	if j.Every != "" {
		out = append(out, "every:"+j.Every)
	}
	if j.Cron != "" {
		out = append(out, "cron:"+j.Cron)
	}
	return out
}

// DebugConfig controls the metrics/health/pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:9464").
//   - A non-loopback address needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// SystemdConfig controls sd_notify readiness and watchdog pings. Both are
// no-ops when the process is not started by systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}
