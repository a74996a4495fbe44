package config

import "reflect"

// Change reports one top-level section that differs between two configs.
type Change struct {
	Section string
	// Live is true when the running process applies the change without a restart.
	Live bool
}

// Diff compares sections in a fixed order. Only logging is applied live;
// every other section takes effect on the next start.
func Diff(old, cur *Config) []Change {
	if old == nil || cur == nil {
		return nil
	}
	sections := []struct {
		name string
		a, b any
	}{
		{"telegram", old.Telegram, cur.Telegram},
		{"logging", old.Logging, cur.Logging},
		{"scheduler", old.Scheduler, cur.Scheduler},
		{"notifier", old.Notifier, cur.Notifier},
		{"storage", old.Storage, cur.Storage},
		{"publisher", old.Publisher, cur.Publisher},
		{"feeds", old.Feeds, cur.Feeds},
		{"compose", old.Compose, cur.Compose},
		{"social", old.Social, cur.Social},
		{"jobs", old.Jobs, cur.Jobs},
		{"debug", old.Debug, cur.Debug},
		{"systemd", old.Systemd, cur.Systemd},
	}
	var out []Change
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			out = append(out, Change{Section: s.name, Live: s.name == "logging"})
		}
	}
	return out
}

// RestartRequired lists the changed sections that a reload cannot apply.
func RestartRequired(changes []Change) []string {
	var out []string
	for _, c := range changes {
		if !c.Live {
			out = append(out, c.Section)
		}
	}
	return out
}
