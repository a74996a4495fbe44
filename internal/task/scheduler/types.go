package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Madrid"; empty means Local

	// RescheduleOnFailure advances next_run after a failed run exactly like a
	// successful run would. When false the job stays due and runs again on the
	// next poll.
	RescheduleOnFailure bool

	// JobTimeout bounds each callback. 0 disables the timeout.
	JobTimeout time.Duration

	HistorySize int
}

func DefaultConfig() Config {
	return Config{RescheduleOnFailure: true, HistorySize: 200}
}

// Func is the unit of work bound to a job. args are the arguments captured at registration.
type Func func(ctx context.Context, args ...string) error

// JobSpec describes a job to register.
type JobSpec struct {
	Name       string
	Recurrence Recurrence
	Func       Func
	Args       []string

	// Timeout overrides Config.JobTimeout when > 0.
	Timeout time.Duration
}

// FailurePolicy computes next_run after a failed attempt at now.
// prev is the next_run that made the job due.
type FailurePolicy func(rec Recurrence, prev, now time.Time) time.Time

// AdvanceOnFailure gives a failed run the same next_run a successful run would get.
func AdvanceOnFailure(rec Recurrence, _, now time.Time) time.Time { return rec.Next(now) }

// RetryNextPoll leaves next_run unchanged so the job is due again on the next poll.
func RetryNextPoll(_ Recurrence, prev, _ time.Time) time.Time { return prev }

// FailureReporter forwards a job failure to operators. Errors and panics it
// raises are logged and never affect the scheduler.
type FailureReporter func(ctx context.Context, job string, err error) error

// Observer receives execution events. Implementations must be fast and non-blocking.
type Observer interface {
	ObserveRun(job string, took time.Duration, err error)
	ObserveSkip(job string)
}

// Job is a registered recurring unit of work.
// Only the scheduler mutates next_run and last_run.
type Job struct {
	name    string
	rec     Recurrence
	fn      Func
	args    []string
	timeout time.Duration

	// running guards against executing the same job twice concurrently.
	running atomic.Bool

	mu       sync.Mutex
	nextRun  time.Time
	lastRun  time.Time
	runs     uint64
	failures uint64
	lastErr  string
}

func (j *Job) Name() string { return j.name }

func (j *Job) Recurrence() Recurrence { return j.rec }

// Args returns a copy of the bound arguments.
func (j *Job) Args() []string { return append([]string(nil), j.args...) }

func (j *Job) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextRun
}

// LastRun returns the time of the most recent attempt, zero before the first run.
func (j *Job) LastRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

func (j *Job) Running() bool { return j.running.Load() }

func (j *Job) dueAt(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.nextRun.After(now)
}

func (j *Job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{
		Name:       j.name,
		Recurrence: j.rec.String(),
		Args:       append([]string(nil), j.args...),
		NextRun:    j.nextRun,
		LastRun:    j.lastRun,
		Running:    j.running.Load(),
		Runs:       j.runs,
		Failures:   j.failures,
		LastError:  j.lastErr,
	}
}

// RunResult is the outcome of one job execution attempt.
type RunResult struct {
	RunID    string
	Job      string
	Started  time.Time
	Duration time.Duration
	Err      error
	Skipped  bool // job was already executing
	Manual   bool
}

// Report summarizes one RunDue pass.
type Report struct {
	At      time.Time
	Results []RunResult
}

func (r Report) Ran() int {
	n := 0
	for _, res := range r.Results {
		if !res.Skipped {
			n++
		}
	}
	return n
}

func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Kind     string
	Error    string
	Manual   bool
}

type JobInfo struct {
	Name       string
	Recurrence string
	Args       []string
	NextRun    time.Time
	LastRun    time.Time
	Running    bool
	Runs       uint64
	Failures   uint64
	LastError  string
}

type Snapshot struct {
	Timezone            string
	RescheduleOnFailure bool
	JobTimeout          time.Duration
	Jobs                []JobInfo
	History             []HistoryItem
}
