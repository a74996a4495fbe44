// Package app wires configuration, storage, publishers, the scheduler and
// the operator surfaces into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scibot/internal/bot"
	"scibot/internal/compose"
	"scibot/internal/config"
	"scibot/internal/feed"
	"scibot/internal/metrics"
	"scibot/internal/notifier"
	"scibot/internal/observability"
	rtsup "scibot/internal/runtime/supervisor"
	"scibot/internal/storage"
	"scibot/internal/task/scheduler"
	kit "scibot/internal/transport"
	telegram "scibot/internal/transport/telegram/adapter"
	"scibot/internal/transport/telegram/router"
	logx "scibot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	store   storage.Store
	metrics *metrics.Metrics
	sched   *scheduler.Service
	poll    time.Duration
	notif   *notifier.Service
	adapter *telegram.Adapter
	router  *router.Manager
	debug   *observability.Server
	sd      *sdNotifier

	started time.Time
	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return Build(ctx, cfgm, cfg)
}

// Build wires cfg. cfgm may be nil, which disables config watching.
func Build(ctx context.Context, cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logs, log := logx.New(logConfig(cfg.Logging))
	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		metrics: metrics.New(),
		updates: make(chan kit.Update, 64),
	}
	if cfgm != nil {
		cfgm.SetLogger(log.With(logx.String("comp", "config")))
	}
	ok := false
	defer func() {
		if !ok {
			a.closeEarly()
		}
	}()

	store, err := storage.Open(ctx, storageConfig(cfg.Storage), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = store
	a.metrics.RegisterLedgerSize(a.ledgerSize)

	var sender kit.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		a.adapter = ad
		sender = ad
		a.router = router.New(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs, router.Options{})
	}
	a.notif = notifier.New(notifierConfig(cfg.Notifier), sender, log.With(logx.String("comp", "notifier")),
		notifier.WithEventHook(a.metrics.ObserveNotify))

	pub, social, self, err := buildPublisher(cfg.Publisher, sender, log.With(logx.String("comp", "publish")))
	if err != nil {
		return nil, err
	}

	schedCfg, poll := schedulerConfig(cfg.Scheduler)
	a.poll = poll
	a.sched, err = scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")),
		scheduler.WithObserver(a.metrics),
		scheduler.WithFailureReporter(failureReporter(a.notif, cfg.Telegram.AlertChatIDs)),
	)
	if err != nil {
		return nil, err
	}

	actions := bot.StandardActions(bot.Deps{
		Feed:       feed.NewFetcher(feedConfig(cfg.Feeds), log.With(logx.String("comp", "feed"))),
		Composer:   compose.New(composeConfig(cfg.Compose)),
		Publisher:  pub,
		Social:     social,
		Dedup:      bot.NewDeduper(store, log.With(logx.String("comp", "dedup")), bot.WithPublishObserver(a.metrics)),
		Self:       self,
		ListURI:    strings.TrimSpace(cfg.Social.ListURI),
		Include:    cfg.Social.Include,
		Exclude:    cfg.Social.Exclude,
		MaxPosts:   cfg.Social.MaxPosts,
		MaxReposts: cfg.Social.MaxReposts,
		MaxLikes:   cfg.Social.MaxLikes,
		FetchLimit: int64(cfg.Social.FetchLimit),
		Log:        log.With(logx.String("comp", "bot")),
	})
	specs, err := bot.BuildJobs(jobDefs(cfg.Jobs, cfg.Social.ListURI), actions, a.sched.Location())
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if _, err := a.sched.Register(spec); err != nil {
			return nil, err
		}
	}

	if a.router != nil {
		a.router.Register(a.ownerCommands()...)
	}
	a.debug = observability.New(debugConfig(cfg.Debug), a.metrics.Handler(), a.health, log.With(logx.String("comp", "debug")))
	a.sd = newSDNotifier(cfg.Systemd.Notify, cfg.Systemd.Watchdog, log.With(logx.String("comp", "systemd")))

	ok = true
	return a, nil
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor stops, on a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) ledgerSize() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := a.store.Count(ctx)
	if err != nil {
		return -1
	}
	return float64(n)
}

func (a *App) health(ctx context.Context) (map[string]any, error) {
	snap := a.sched.Snapshot()
	n, err := a.store.Count(ctx)
	out := map[string]any{
		"jobs":       len(snap.Jobs),
		"uptime_sec": int64(time.Since(a.started).Seconds()),
		"notifier":   a.notif.Enabled(),
	}
	if a.sup != nil {
		out["tasks_active"] = a.sup.Active()
	}
	if err != nil {
		return out, fmt.Errorf("ledger: %w", err)
	}
	out["ledger_keys"] = n
	return out, nil
}

func (a *App) onPass(rep scheduler.Report) {
	a.metrics.ObservePass(rep)
	a.sd.Pass(rep.At)
}

// Start launches background work under one supervisor. Alert delivery and
// the telegram transport run on a context detached from ctx so Stop can
// drain pending alerts after the scheduler has stopped.
func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	detached := context.WithoutCancel(ctx)

	if a.adapter != nil {
		if err := a.adapter.Start(detached, a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
	}
	a.notif.Start(detached)

	if err := a.debug.Start(a.sup.Context()); err != nil {
		return err
	}

	loop := &scheduler.Loop{
		Runner:   a.sched,
		Interval: a.poll,
		Log:      a.log.With(logx.String("comp", "loop")),
		OnPass:   a.onPass,
	}
	a.sup.GoRestart("scheduler.loop", loop.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	if a.cfgm != nil {
		updates := a.cfgm.Subscribe(1)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(updates)
			a.reloadLoop(c, updates)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.sd.Pass(time.Now())
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)
	a.sd.Ready()

	names := make([]string, 0, len(a.sched.Jobs()))
	for _, j := range a.sched.Jobs() {
		names = append(names, j.Name())
	}
	a.log.Info("scibot started",
		logx.Strings("jobs", names),
		logx.String("publisher", a.cfg.Publisher.Driver),
		logx.String("storage", a.cfg.Storage.Driver),
		logx.Bool("telegram", a.adapter != nil),
	)
	return nil
}

// reloadLoop applies logging changes live and warns about the rest.
func (a *App) reloadLoop(ctx context.Context, updates <-chan *config.Config) {
	applied := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			changes := config.Diff(applied, cfg)
			for _, c := range changes {
				if c.Live && c.Section == "logging" {
					a.logs.Apply(logConfig(cfg.Logging))
				}
			}
			if rest := config.RestartRequired(changes); len(rest) > 0 {
				a.log.Warn("config changed; restart required to apply", logx.Strings("sections", rest))
			}
			if a.router != nil {
				a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
			}
			applied = cfg
		}
	}
}

// Stop shuts components down in dependency order. Each step is bounded so
// one slow component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeEarly()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The loop exits once the running job honours cancellation.
	step("supervisor", 10*time.Second, a.sup.Wait)
	step("debug", time.Second, a.debug.Stop)
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.adapter != nil {
		step("telegram", 3*time.Second, a.adapter.Stop)
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
