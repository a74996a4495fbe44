package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "scibot/pkg/logx"
)

type Option func(*Service)

// WithClock replaces time.Now for registration and manual runs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFailurePolicy overrides the policy selected by Config.RescheduleOnFailure.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithFailureReporter(r FailureReporter) Option {
	return func(s *Service) { s.reporter = r }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

type Service struct {
	log logx.Logger
	cfg Config
	loc *time.Location
	now func() time.Time

	policy   FailurePolicy
	reporter FailureReporter
	observer Observer

	mu     sync.RWMutex
	jobs   []*Job
	byName map[string]*Job

	// runMu serializes RunDue passes; jobs within a pass run sequentially.
	runMu sync.Mutex

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a scheduler. An unknown timezone is a ConfigError.
func New(cfg Config, log logx.Logger, opts ...Option) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, &ConfigError{Field: "timezone", Value: tz, Err: err}
		}
		loc = l
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s := &Service{
		log:    log,
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,
		byName: map[string]*Job{},
	}
	if cfg.RescheduleOnFailure {
		s.policy = AdvanceOnFailure
	} else {
		s.policy = RetryNextPoll
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Location is the scheduler timezone used for daily recurrences.
func (s *Service) Location() *time.Location { return s.loc }

// Register adds a job with next_run anchored to the current time.
func (s *Service) Register(spec JobSpec) (*Job, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, &ConfigError{Field: "name", Err: fmt.Errorf("job name required")}
	}
	if spec.Recurrence == nil {
		return nil, &ConfigError{Job: name, Field: "recurrence", Err: fmt.Errorf("recurrence required")}
	}
	if spec.Func == nil {
		return nil, &ConfigError{Job: name, Field: "func", Err: fmt.Errorf("callback required")}
	}

	now := s.now()
	next := spec.Recurrence.Next(now)
	if !next.After(now) {
		return nil, &ConfigError{Job: name, Field: "recurrence", Value: spec.Recurrence.String(), Err: fmt.Errorf("next run is not in the future")}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = s.cfg.JobTimeout
	}
	j := &Job{
		name:    name,
		rec:     spec.Recurrence,
		fn:      spec.Func,
		args:    append([]string(nil), spec.Args...),
		timeout: timeout,
		nextRun: next,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return nil, &ConfigError{Job: name, Field: "name", Err: fmt.Errorf("duplicate job name")}
	}
	s.jobs = append(s.jobs, j)
	s.byName[name] = j

	s.log.Debug("job registered", logx.String("job", name), logx.String("recurrence", j.rec.String()), logx.Time("next", next))
	return j, nil
}

// Jobs returns the registered jobs in registration order.
func (s *Service) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Job(nil), s.jobs...)
}

func (s *Service) Job(name string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.byName[strings.TrimSpace(name)]
	return j, ok
}

// DueJobs returns jobs with next_run <= now in registration order. It does not mutate state.
func (s *Service) DueJobs(now time.Time) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.dueAt(now) {
			due = append(due, j)
		}
	}
	return due
}

// RunDue executes every due job in registration order. Job failures never
// propagate out of RunDue and never abort the remaining jobs.
func (s *Service) RunDue(ctx context.Context, now time.Time) Report {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	rep := Report{At: now}
	for _, j := range s.DueJobs(now) {
		if ctx.Err() != nil {
			break
		}
		rep.Results = append(rep.Results, s.execute(ctx, j, now, false))
	}
	return rep
}

// RunNow runs the named job immediately. It records last_run but keeps the
// scheduled next_run.
func (s *Service) RunNow(ctx context.Context, name string) (RunResult, error) {
	j, ok := s.Job(name)
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	res := s.execute(ctx, j, s.now(), true)
	if res.Skipped {
		return res, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	return res, res.Err
}

func (s *Service) execute(ctx context.Context, j *Job, now time.Time, manual bool) RunResult {
	res := RunResult{RunID: uuid.NewString(), Job: j.name, Started: now, Manual: manual}
	if !j.running.CompareAndSwap(false, true) {
		res.Skipped = true
		s.log.Debug("job skipped; already running", logx.String("job", j.name))
		if s.observer != nil {
			s.observer.ObserveSkip(j.name)
		}
		return res
	}
	defer j.running.Store(false)

	log := s.log.With(logx.String("job", j.name), logx.String("run_id", res.RunID))
	log.Debug("job started", logx.Bool("manual", manual))

	start := time.Now()
	err := s.invoke(withRun(ctx, RunInfo{ID: res.RunID, Job: j.name, Manual: manual}), j)
	res.Duration = time.Since(start)
	res.Err = err

	j.mu.Lock()
	prev := j.nextRun
	j.lastRun = now
	j.runs++
	switch {
	case manual:
	case err == nil:
		j.nextRun = j.rec.Next(now)
	default:
		j.nextRun = s.policy(j.rec, prev, now)
	}
	if err != nil {
		j.failures++
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	next := j.nextRun
	j.mu.Unlock()

	kind := Kind(err)
	if err != nil {
		fields := []logx.Field{logx.String("kind", kind), logx.Err(err), logx.Duration("took", res.Duration), logx.Time("next", next)}
		var ce *CallbackError
		if errors.As(err, &ce) && ce.Stack != "" {
			fields = append(fields, logx.Stack(ce.Stack))
		}
		log.Error("job failed", fields...)
		s.report(ctx, log, j.name, err)
	} else {
		log.Info("job finished", logx.Duration("took", res.Duration), logx.Time("next", next))
	}

	if s.observer != nil {
		s.observer.ObserveRun(j.name, res.Duration, err)
	}
	s.appendHistory(HistoryItem{
		ID:       res.RunID,
		Name:     j.name,
		Started:  now,
		Duration: res.Duration,
		Kind:     kind,
		Error:    errString(err),
		Manual:   manual,
	})
	return res
}

// invoke calls the job callback and converts returned errors and panics into *CallbackError.
func (s *Service) invoke(ctx context.Context, j *Job) (err error) {
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Job: j.name, Err: fmt.Errorf("panic: %v", r), Panic: r, Stack: string(debug.Stack())}
		}
	}()
	if cbErr := j.fn(runCtx, j.Args()...); cbErr != nil {
		return &CallbackError{Job: j.name, Err: cbErr}
	}
	return nil
}

// report forwards the failure to the reporter. A failing reporter is only logged.
func (s *Service) report(ctx context.Context, log logx.Logger, job string, err error) {
	if s.reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("failure reporter panicked", logx.Any("panic", r))
		}
	}()
	if rerr := s.reporter(ctx, job, err); rerr != nil {
		log.Warn("failure report not delivered", logx.Err(rerr))
	}
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
