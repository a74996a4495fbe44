package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestParseRecurrenceVariants(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	from := time.Date(2024, 3, 10, 8, 0, 0, 0, loc)
	tests := []struct {
		name string
		raw  string
		next time.Time
	}{
		{name: "hhmm daily", raw: "09:30", next: time.Date(2024, 3, 10, 9, 30, 0, 0, loc)},
		{name: "prefixed daily", raw: "at:07:15", next: time.Date(2024, 3, 11, 7, 15, 0, 0, loc)},
		{name: "duration", raw: "30m", next: from.Add(30 * time.Minute)},
		{name: "every minutes", raw: "every:30", next: from.Add(30 * time.Minute)},
		{name: "bare minutes", raw: "45", next: from.Add(45 * time.Minute)},
		{name: "prefixed interval", raw: "interval:45s", next: from.Add(45 * time.Second)},
		{name: "every hhmm", raw: "every:01:30", next: from.Add(90 * time.Minute)},
		{name: "cron", raw: "*/5 * * * *", next: from.Add(5 * time.Minute)},
		{name: "prefixed cron", raw: "cron:0 0 * * *", next: time.Date(2024, 3, 11, 0, 0, 0, 0, loc)},
		{name: "descriptor", raw: "@hourly", next: from.Add(time.Hour)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecurrence(tt.raw, loc)
			if err != nil {
				t.Fatalf("ParseRecurrence(%q) error: %v", tt.raw, err)
			}
			if next := got.Next(from); !next.Equal(tt.next) {
				t.Fatalf("Next = %s, want %s", next, tt.next)
			}
		})
	}
}

func TestParseRecurrenceInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "24:00", "at:9", "every:0", "every:-5m", "every:9999999999", "cron:", "cron:99 * * * *"} {
		_, err := ParseRecurrence(raw, time.UTC)
		if err == nil {
			t.Fatalf("ParseRecurrence(%q): expected error", raw)
		}
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("ParseRecurrence(%q): error %T is not a ConfigError", raw, err)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}

func TestDailyRollsOverToTomorrow(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	d, err := NewDaily(9, 0, loc)
	if err != nil {
		t.Fatalf("NewDaily error: %v", err)
	}
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, loc)
	next := d.Next(at)
	want := time.Date(2024, 5, 2, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("Next(%s) = %s, want %s", at, next, want)
	}
	if gap := next.Sub(at); gap > 24*time.Hour+time.Minute {
		t.Fatalf("gap %s exceeds a day", gap)
	}
	// Slightly past the slot still rolls over.
	if next := d.Next(at.Add(time.Second)); !next.Equal(want) {
		t.Fatalf("Next after slot = %s, want %s", next, want)
	}
	// Before the slot stays today.
	if next := d.Next(at.Add(-time.Minute)); !next.Equal(at) {
		t.Fatalf("Next before slot = %s, want %s", next, at)
	}
}

func TestDailyUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*60*60)
	d, err := NewDaily(10, 0, loc)
	if err != nil {
		t.Fatalf("NewDaily error: %v", err)
	}
	from := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC) // 09:00 local
	want := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) // 10:00 local
	if next := d.Next(from); !next.Equal(want) {
		t.Fatalf("Next = %s, want %s", next, want)
	}
}

func TestParseRecurrencesPicksEarliest(t *testing.T) {
	t.Parallel()
	r, err := ParseRecurrences([]string{"22:20", "06:20", "14:20"}, time.UTC)
	if err != nil {
		t.Fatalf("ParseRecurrences error: %v", err)
	}
	if _, ok := r.(*Multi); !ok {
		t.Fatalf("got %T, want *Multi", r)
	}
	cases := []struct {
		from, want time.Time
	}{
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 6, 20, 0, 0, time.UTC)},
		{time.Date(2024, 1, 1, 6, 20, 0, 0, time.UTC), time.Date(2024, 1, 1, 14, 20, 0, 0, time.UTC)},
		{time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 6, 20, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := r.Next(tc.from); !got.Equal(tc.want) {
			t.Errorf("Next(%s) = %s, want %s", tc.from, got, tc.want)
		}
	}

	single, err := ParseRecurrences([]string{"30m"}, time.UTC)
	if err != nil {
		t.Fatalf("single error: %v", err)
	}
	if _, ok := single.(*Interval); !ok {
		t.Fatalf("single = %T, want *Interval", single)
	}
	if _, err := ParseRecurrences(nil, time.UTC); err == nil {
		t.Fatal("expected error for no recurrences")
	}
	if _, err := ParseRecurrences([]string{"06:20", "25:00"}, time.UTC); err == nil {
		t.Fatal("expected error for a bad member")
	}
}
