// Package app wires the watcher together: configuration, logging,
// storage, the chat transport and the long-running loops.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subwatch/internal/commands"
	"subwatch/internal/config"
	"subwatch/internal/fetcher"
	"subwatch/internal/notifier"
	"subwatch/internal/observability/metrics"
	rtsup "subwatch/internal/runtime/supervisor"
	"subwatch/internal/storage"
	kit "subwatch/internal/transport"
	telegram "subwatch/internal/transport/telegram/adapter"
	"subwatch/internal/updates"
	"subwatch/internal/yearend"
	logx "subwatch/pkg/logx"
	"subwatch/pkg/systemd"
)

var loopRestart = rtsup.RestartPolicy{MinBackoff: time.Second, MaxBackoff: time.Minute}

type App struct {
	cfgm *config.Store
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter
	metrics *metrics.Metrics
	msrv    *metrics.Server
	notif   *notifier.Service

	orch     *updates.Orchestrator
	reporter *yearend.Reporter
	router   *commands.Router

	// loops runs the polling and year-end loops. It is replaced when the
	// schedule section changes.
	loopsMu sync.Mutex
	loops   *rtsup.Supervisor

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")

	cfgm := config.NewStore(cfgPath)
	cfgm.SetLogger(bootLog.With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ad, err := telegram.New(mapTelegramConfig(cfg), log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	sc := mapStorageConfig(cfg)
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New()
	notif := notifier.New(ncfg, ad, m, log)
	fetch := fetcher.New(mapFetchOptions(cfg), log.With(logx.String("comp", "fetcher")))

	started := time.Now()
	router := commands.NewRouter(log, 30*time.Second)
	router.Register(commands.NewHandlers(cfgm, st, notif, started).Commands()...)

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		store:    st,
		adapter:  ad,
		metrics:  m,
		notif:    notif,
		orch:     updates.New(cfgm, fetch, st, notif, m, log),
		reporter: yearend.New(cfgm, st, notif, m, log),
		router:   router,
		updates:  make(chan kit.Update, 256),
	}
	a.msrv = metrics.NewServer(mapMetricsConfig(cfg), m, a, log)
	return a, nil
}

// Err returns the first task error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Healthy reports whether every supervised task is running.
func (a *App) Healthy() bool {
	if a.sup == nil || !a.sup.Healthy() {
		return false
	}
	if l := a.currentLoops(); l != nil && !l.Healthy() {
		return false
	}
	return true
}

// Snapshot merges the task stats of the app and the loops.
func (a *App) Snapshot() []rtsup.TaskStats {
	var out []rtsup.TaskStats
	if a.sup != nil {
		out = append(out, a.sup.Snapshot()...)
	}
	if l := a.currentLoops(); l != nil {
		out = append(out, l.Snapshot()...)
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go("commands.menu", func(c context.Context) error {
			if err := mu.UpdateMenuCommands(c, a.router.Menu()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
			return nil
		})
	}
	a.sup.GoRestart("commands.dispatch", loopRestart, func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	a.startLoops(a.sup.Context())
	a.msrv.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", loopRestart, a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.Healthy)
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	cfg := a.cfgm.Snapshot()
	a.log.Info("app started",
		logx.Int("schools", len(cfg.Schools)),
		logx.Int("servers", len(cfg.Servers)),
		logx.String("storage", cfg.Storage.Driver))
	return nil
}

func (a *App) currentLoops() *rtsup.Supervisor {
	a.loopsMu.Lock()
	defer a.loopsMu.Unlock()
	return a.loops
}

func (a *App) startLoops(ctx context.Context) {
	l := rtsup.New(ctx, a.log.With(logx.String("group", "loops")))
	l.GoRestart("updates", loopRestart, a.orch.Run)
	l.GoRestart("yearend", loopRestart, a.reporter.Run)
	a.loopsMu.Lock()
	a.loops = l
	a.loopsMu.Unlock()
}

// stopLoops cancels the loops and waits for them until ctx is done.
func (a *App) stopLoops(ctx context.Context) error {
	a.loopsMu.Lock()
	l := a.loops
	a.loops = nil
	a.loopsMu.Unlock()
	if l == nil {
		return nil
	}
	return l.Stop(ctx)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	grace := a.cfgm.Snapshot().Schedule.ShutdownGraceOrDefault()

	// Loops first: sends in flight fail fast and the step waits up to
	// schedule.shutdown_grace for the cycle to unwind.
	a.step(ctx, "loops", grace, a.stopLoops)
	a.sup.Cancel()
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			if err != nil {
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
