package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotwatch/internal/config"
	"slotwatch/internal/eventbus"
	"slotwatch/internal/notifier"
	"slotwatch/internal/poll"
	"slotwatch/internal/runtime/supervisor"
	"slotwatch/internal/source/cowin"
	"slotwatch/internal/storage"
	kit "slotwatch/internal/transport"
	telegram "slotwatch/internal/transport/telegram/adapter"
	"slotwatch/internal/transport/telegram/router"
	logx "slotwatch/pkg/logx"
	"slotwatch/pkg/systemd"
)

// Options come from the command line.
type Options struct {
	ConfigPath string
	// Interval overrides poll.interval when set.
	Interval string
}

type App struct {
	opts Options

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	source  *cowin.Client
	notif   *notifier.Service
	sched   *poll.Scheduler
	router  *router.Router

	updates chan kit.Update
}

// New loads the config and builds every component. Any error is a startup
// failure; nothing is running yet.
func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	if opts.Interval != "" {
		// The flag wins over the file, so a bad file interval alone must not fail.
		cfgm.SetValidator(overrideInterval(opts.Interval))
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return build(opts, cfgm, cfg, ad)
}

func overrideInterval(interval string) func(context.Context, *config.Config) error {
	return func(_ context.Context, cfg *config.Config) error {
		cp := *cfg
		cp.Poll.Interval = config.Interval(interval)
		return config.Validate(&cp)
	}
}

func build(opts Options, cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	pollCfg, err := mapPollConfig(cfg, opts.Interval)
	if err != nil {
		return nil, err
	}
	watches, err := mapWatches(cfg)
	if err != nil {
		return nil, err
	}
	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}

	// The Telegram sink needs its target before it is enabled, or Apply warns.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	src, err := cowin.New(srcCfg, log.With(logx.String("comp", "cowin")))
	if err != nil {
		return nil, err
	}
	notif := notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")), bus)
	sched := poll.NewScheduler(pollCfg, watches, poll.Deps{
		Source:     src,
		Dispatcher: notif,
		Alerter:    notif,
		Bus:        bus,
	}, log)

	var rt *router.Router
	if cfg.Telegram.Commands {
		rt = router.New(log, ad, cfg.Telegram.OwnerUserIDs)
		rt.Register(router.Builtins(sched, notif, pollCfg.Location)...)
	}

	return &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		source:  src,
		notif:   notif,
		sched:   sched,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.router != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		// A crashing dispatch loop is restarted a few times before it takes the app down.
		a.sup.GoRestart("commands.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		}, supervisor.WithMaxRestarts(5))
		a.sup.Go0("commands.menu", func(c context.Context) {
			if err := a.router.SyncMenu(c); err != nil {
				a.log.Debug("command menu sync failed", logx.Err(err))
			}
		})
	}

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go0("audit.recorder", func(c context.Context) {
			defer unsub()
			recordAudit(c, events, a.bus.Dropped, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.sup.Go("poll.scheduler", a.sched.Run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.RunWatchdog(c, a.log.With(logx.String("comp", "systemd")))
	})
	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	snap := a.sched.Snapshot()
	if len(snap.Keys) == 0 {
		a.log.Warn("no watch entries configured; passes will be empty")
	}
	a.log.Info("app started",
		logx.Int("keys", len(snap.Keys)),
		logx.String("schedule", snap.Schedule),
		logx.Bool("commands", a.router != nil),
	)
	return nil
}

// applyConfig hot-applies a validated config. Token, commands, source and
// storage changes need a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	ch := config.SummarizeChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.SetTelegramTarget(logTarget(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	a.notif.Apply(mapNotifierConfig(next))

	if ch.Has("poll") {
		if pc, err := mapPollConfig(next, a.opts.Interval); err != nil {
			a.log.Warn("invalid poll config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(pc)
		}
	}
	if ch.Has("watch") {
		if ws, err := mapWatches(next); err != nil {
			a.log.Warn("invalid watch list; keeping previous", logx.Err(err))
		} else {
			a.sched.SetWatches(ws)
			a.log.Info("watch list updated",
				logx.Int("keys", len(ws)),
				logx.Any("added", ch.Added),
				logx.Any("removed", ch.Removed),
			)
		}
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("settings", strings.Join(ch.RestartRequired, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel first so every loop starts unwinding; an in-flight fetch still
	// completes on its own.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.router != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	// Scheduler, dispatcher, reload and audit loops.
	step("supervisor", 5*time.Second, a.sup.Wait)
	if c := a.sup.Counters(); c.Active > 0 {
		a.log.Warn("goroutines still running after stop", logx.Int64("active", c.Active), logx.Any("started", c.Started))
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
