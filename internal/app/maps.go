package app

import (
	"strings"
	"time"

	"scibot/internal/bot"
	"scibot/internal/compose"
	"scibot/internal/config"
	"scibot/internal/feed"
	"scibot/internal/notifier"
	"scibot/internal/observability"
	"scibot/internal/storage"
	"scibot/internal/task/scheduler"
	logx "scibot/pkg/logx"
)

// The map functions turn a validated config into component configs.
// Duration defaults live here so components keep their own zero-value rules.

func logConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled:    c.File.Enabled,
			Dir:        c.File.Dir,
			Name:       c.File.Name,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
		},
	}
}

func storageConfig(c config.StorageConfig) storage.Config {
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:         expandHome(c.Path),
		DSN:          c.DSN,
		BusyTimeout:  config.DurationOr(c.BusyTimeout, time.Second),
		CompactEvery: c.CompactEvery,
	}
}

func schedulerConfig(c config.SchedulerConfig) (scheduler.Config, time.Duration) {
	sc := scheduler.DefaultConfig()
	sc.Timezone = c.Timezone
	if c.RescheduleOnFailure != nil {
		sc.RescheduleOnFailure = *c.RescheduleOnFailure
	}
	sc.JobTimeout = config.DurationOr(c.JobTimeout, 0)
	if c.HistorySize > 0 {
		sc.HistorySize = c.HistorySize
	}
	return sc, config.DurationOr(c.PollInterval, scheduler.DefaultPollInterval)
}

func notifierConfig(c config.NotifierConfig) notifier.Config {
	return notifier.Config{
		Enabled:         c.Enabled != nil && *c.Enabled,
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		RatePerSec:      c.RatePerSec,
		RetryMax:        c.RetryMax,
		RetryBase:       config.DurationOr(c.RetryBase, 0),
		RetryMaxDelay:   config.DurationOr(c.RetryMaxDelay, 0),
		DedupWindow:     config.DurationOr(c.DedupWindow, 0),
		DedupMaxEntries: c.DedupMaxEntries,
	}
}

func feedConfig(c config.FeedsConfig) feed.Config {
	return feed.Config{
		URLs:        c.URLs,
		Timeout:     config.DurationOr(c.Timeout, 0),
		Concurrency: c.Concurrency,
		UserAgent:   c.UserAgent,
	}
}

func composeConfig(c config.ComposeConfig) compose.Config {
	return compose.Config{Hashtags: c.Hashtags, MaxLength: c.MaxLength, Separator: c.Separator}
}

func debugConfig(c config.DebugConfig) observability.Config {
	return observability.Config{
		Enabled:       c.Enabled,
		Addr:          c.Addr,
		Token:         c.Token,
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
	}
}

// jobDefs returns the configured jobs, or the built-in table when none are configured.
func jobDefs(jobs []config.JobConfig, listURI string) []bot.JobDef {
	if len(jobs) == 0 {
		return bot.DefaultJobs(listURI)
	}
	out := make([]bot.JobDef, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, bot.JobDef{
			Name:     j.Name,
			Action:   j.Action,
			Schedule: j.Schedule(),
			Args:     j.Args,
			Timeout:  config.DurationOr(j.Timeout, 0),
		})
	}
	return out
}
