package scheduler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Recurrence computes the next run of a job.
// Next must return a time strictly after t.
type Recurrence interface {
	Next(t time.Time) time.Time
	String() string
}

// cronParser accepts both 5-field and 6-field (with seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Daily fires once a day at Hour:Minute in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location

	sched cron.Schedule
}

// NewDaily validates hour and minute and builds the daily schedule.
func NewDaily(hour, minute int, loc *time.Location) (*Daily, error) {
	if hour < 0 || hour > 23 {
		return nil, &ConfigError{Field: "at", Value: fmt.Sprintf("%02d:%02d", hour, minute), Err: fmt.Errorf("invalid hour %d", hour)}
	}
	if minute < 0 || minute > 59 {
		return nil, &ConfigError{Field: "at", Value: fmt.Sprintf("%02d:%02d", hour, minute), Err: fmt.Errorf("invalid minute %d", minute)}
	}
	if loc == nil {
		loc = time.Local
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, &ConfigError{Field: "at", Value: fmt.Sprintf("%02d:%02d", hour, minute), Err: err}
	}
	return &Daily{Hour: hour, Minute: minute, Location: loc, sched: sched}, nil
}

// Next returns the first Hour:Minute slot after t. If t is at or past today's
// slot the result is tomorrow's slot.
func (d *Daily) Next(t time.Time) time.Time {
	return d.sched.Next(t.In(d.Location))
}

func (d *Daily) String() string { return fmt.Sprintf("daily %02d:%02d %s", d.Hour, d.Minute, d.Location) }

// Interval fires every Every, counted from the previous run.
type Interval struct {
	Every time.Duration
}

func NewInterval(every time.Duration) (*Interval, error) {
	if every <= 0 {
		return nil, &ConfigError{Field: "every", Value: every.String(), Err: fmt.Errorf("interval must be > 0")}
	}
	return &Interval{Every: every}, nil
}

func (i *Interval) Next(t time.Time) time.Time { return t.Add(i.Every) }

func (i *Interval) String() string { return "every " + i.Every.String() }

// Cron fires on a robfig/cron expression evaluated in Location.
type Cron struct {
	Expr     string
	Location *time.Location

	sched cron.Schedule
}

func NewCron(expr string, loc *time.Location) (*Cron, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, &ConfigError{Field: "cron", Err: fmt.Errorf("cron expression required")}
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &ConfigError{Field: "cron", Value: expr, Err: err}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Cron{Expr: expr, Location: loc, sched: sched}, nil
}

func (c *Cron) Next(t time.Time) time.Time { return c.sched.Next(t.In(c.Location)) }

func (c *Cron) String() string { return "cron " + c.Expr }

// Multi fires at the earliest next time of any member, e.g. a job posting at 06:20 and 14:20.
type Multi struct {
	Members []Recurrence
}

func NewMulti(members ...Recurrence) (*Multi, error) {
	out := make([]Recurrence, 0, len(members))
	for _, m := range members {
		if m != nil {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, &ConfigError{Field: "recurrence", Err: fmt.Errorf("at least one recurrence required")}
	}
	return &Multi{Members: out}, nil
}

func (m *Multi) Next(t time.Time) time.Time {
	var next time.Time
	for _, r := range m.Members {
		if n := r.Next(t); next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

func (m *Multi) String() string {
	parts := make([]string, 0, len(m.Members))
	for _, r := range m.Members {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}

// ParseRecurrences parses each entry with ParseRecurrence and combines them.
// A single entry is returned as is.
func ParseRecurrences(raws []string, loc *time.Location) (Recurrence, error) {
	recs := make([]Recurrence, 0, len(raws))
	for _, raw := range raws {
		r, err := ParseRecurrence(raw, loc)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if len(recs) == 1 {
		return recs[0], nil
	}
	return NewMulti(recs...)
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseRecurrence parses a recurrence string.
//
// Supported forms:
//   - Daily time of day: "09:30", "at:09:30"
//   - Interval: "30m", "2h30m", "every:30m", "interval:45s"
//   - Interval in minutes: "every:30", "30"
//   - Interval HH:MM after a prefix: "every:01:30" (1h30m)
//   - Cron: "cron:0 */3 * * *", "*/5 * * * *", "@hourly"
func ParseRecurrence(raw string, loc *time.Location) (Recurrence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, &ConfigError{Field: "recurrence", Err: fmt.Errorf("recurrence required")}
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return NewCron(s[len("cron:"):], loc)
	case strings.HasPrefix(low, "at:"):
		return parseDaily(strings.TrimSpace(s[len("at:"):]), loc)
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return NewCron(s, loc)
	}
	if reHHMM.MatchString(s) {
		return parseDaily(s, loc)
	}
	if r, err := parseInterval(s); err == nil {
		return r, nil
	}
	return nil, &ConfigError{
		Field: "recurrence",
		Value: raw,
		Err:   fmt.Errorf("use HH:MM like '09:30', duration like '30m', or cron like 'cron:*/5 * * * *'"),
	}
}

func parseDaily(v string, loc *time.Location) (Recurrence, error) {
	h, m, err := parseHHMM(v)
	if err != nil {
		return nil, &ConfigError{Field: "at", Value: v, Err: err}
	}
	return NewDaily(h, m, loc)
}

func parseInterval(v string) (Recurrence, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, &ConfigError{Field: "every", Err: fmt.Errorf("interval required")}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n > math.MaxInt64/int64(time.Minute) {
			return nil, &ConfigError{Field: "every", Value: v, Err: fmt.Errorf("interval too large")}
		}
		return NewInterval(time.Duration(n) * time.Minute)
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return nil, &ConfigError{Field: "every", Value: v, Err: err}
		}
		return NewInterval(d)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, &ConfigError{Field: "every", Value: v, Err: fmt.Errorf("use minutes, HH:MM or Go duration like '55m'")}
	}
	return NewInterval(d)
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
