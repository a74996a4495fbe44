package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// parseDuration reads duration fields such as scheduler.poll_interval or
// notifier.dedup_window. It takes Go syntax plus a whole-day form ("7d").
// Empty means 0; negative values are rejected.
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		if int64(n) > math.MaxInt64/int64(24*time.Hour) {
			return 0, fmt.Errorf("duration %q too large", raw)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
	}
	if d < 0 {
		return 0, errors.New("duration must be >= 0")
	}
	return d, nil
}

// DurationOr returns def for empty, zero or invalid input. Callers pass
// fields of a validated config, where the invalid case cannot occur.
func DurationOr(raw string, def time.Duration) time.Duration {
	d, err := parseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
