// Package app wires the chore tracker together: config, logging, storage,
// the scheduler, notification delivery, the hub connection, the optional
// Telegram chat and the HTTP API, all running under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"famcomp/internal/api"
	"famcomp/internal/config"
	"famcomp/internal/eventbus"
	"famcomp/internal/homeassistant"
	"famcomp/internal/notifier"
	"famcomp/internal/notify"
	rtsup "famcomp/internal/runtime/supervisor"
	"famcomp/internal/state"
	"famcomp/internal/storage"
	"famcomp/internal/task/scheduler"
	"famcomp/internal/transport/telegram"
	"famcomp/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	st        *state.Store
	persister *state.Persister

	sched *scheduler.Service
	notif *notifier.Service
	mgr   *notify.Manager
	hub   *homeassistant.Client // nil when disabled
	tg    *telegram.Adapter     // nil when disabled
	api   *api.Server

	http         httpSettings
	reconnectMax time.Duration
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(ctx, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return build(ctx, cfgm, cfg)
}

func build(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, flushDelay, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	saved, err := store.LoadState(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	log.Info("state loaded", logx.Int("tasks", len(saved.Tasks)), logx.Int("persons", len(saved.Persons)))

	st := state.New(saved)
	persister := state.NewPersister(st, store, flushDelay, root.With(logx.String("comp", "persist")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, scheduler.Deps{
		Store: st,
		Clock: scheduler.SystemClock(),
		IDs:   uuid.NewString,
		Log:   root.With(logx.String("comp", "scheduler")),
		Bus:   bus,
	})

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, root.With(logx.String("comp", "notifier")), bus)

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		st:        st,
		persister: persister,
		sched:     sched,
		notif:     notif,
	}

	mdeps := notify.Deps{
		State:     st,
		Scheduler: sched,
		Notifier:  notif,
		Audit:     store,
		Log:       root.With(logx.String("comp", "notify")),
		Bus:       bus,
	}

	if cfg.HomeAssistant.IsEnabled() {
		hcfg, reconnectMax, err := mapHomeAssistantConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.hub = homeassistant.New(hcfg, root.With(logx.String("comp", "homeassistant")))
		a.reconnectMax = reconnectMax
		notif.AddSender(homeassistant.NewSender(a.hub))
		mdeps.Hub = a.hub
	}

	if telegramEnabled(cfg) {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		tg, err := telegram.New(tcfg, root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.tg = tg
		notif.AddSender(tg)
		logSvc.SetChatSink(tg)
	}

	a.mgr = notify.New(mapManagerConfig(cfg), mdeps)
	sched.Subscribe(a.mgr)
	if a.tg != nil {
		a.tg.OnAction(func(ctx context.Context, action, from string) (string, error) {
			return a.mgr.HandleAction(ctx, action, eventbus.SourceTelegram, from)
		})
	}

	a.http, err = mapHTTPConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.api = api.New(api.Config{Pprof: a.http.Pprof}, api.Deps{
		State:     st,
		Scheduler: sched,
		Manager:   a.mgr,
		Audit:     store,
		Log:       root.With(logx.String("comp", "api")),
	})
	return a, nil
}

// Handler exposes the API router (tests, embedding).
func (a *App) Handler() *api.Server { return a.api }

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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	a.sup.Go("state.persist", a.persister.Run)

	if a.notif.Enabled() {
		a.notif.Start(run)
	}

	if a.hub != nil {
		wireHub(run, a.hub, a.mgr, a.log.With(logx.String("comp", "hub")))
		a.sup.GoRestart("homeassistant", a.hub.Run,
			rtsup.WithRestartBackoff(time.Second, a.reconnectMax),
			rtsup.WithStopOnCleanExit(false),
		)
	} else {
		// no hub to hand us persons; show what we know right away
		a.mgr.SyncAll(run)
	}

	if a.tg != nil {
		a.tg.Start(run)
	}

	a.sched.Start()

	a.sup.Go("http", func(c context.Context) error {
		return api.Listen(c, a.http.Addr, a.api, a.http.ReadTimeout, a.http.WriteTimeout, a.log.With(logx.String("comp", "http")))
	})

	events, unsub := a.bus.Subscribe(128)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startReload()
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })

	sdNotify(a.log, "READY=1")
	a.log.Info("app started", logx.String("http", a.http.Addr), logx.Bool("hub", a.hub != nil), logx.Bool("telegram", a.tg != nil))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1")

	a.sup.Cancel()

	// step runs fn with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("hub.events", 2*time.Second, func(context.Context) error { a.mgr.Wait(); return nil })
	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.tg != nil {
			a.tg.Stop(c)
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	// catches changes made while the loops were winding down
	step("state.flush", 5*time.Second, a.persister.Flush)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
