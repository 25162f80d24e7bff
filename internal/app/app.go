// Package app wires the daemon together: config, logging, storage,
// focus, scheduler and the maintenance janitor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"alertd/internal/alert"
	"alertd/internal/config"
	"alertd/internal/eventbus"
	"alertd/internal/focus"
	"alertd/internal/maintenance"
	"alertd/internal/renderer"
	"alertd/internal/scheduler"
	"alertd/internal/storage"
	logx "alertd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	focus   *focus.Manager
	bus     eventbus.Bus
	sched   *scheduler.Scheduler
	janitor *maintenance.Janitor

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store := storage.NewSQLite(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))

	schedCfg, err := schedulerConfig(cfg.Scheduler)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	fm := focus.NewManager()
	sched, err := scheduler.New(schedCfg, scheduler.Deps{
		Store:    store,
		Renderer: renderer.NewSim(log.With(logx.String("comp", "renderer"))),
		Tones:    renderer.DefaultTones(),
		Focus:    fm,
		Observer: bus.(alert.Observer),
		Log:      log.With(logx.String("comp", "scheduler")),
	})
	if err != nil {
		return nil, err
	}

	pruneAge, err := config.ParseDurationOrDefault("maintenance.prune_age",
		cfg.Maintenance.PruneAge, 72*time.Hour)
	if err != nil {
		return nil, err
	}
	janitor := maintenance.NewJanitor(maintenance.Config{
		PruneSchedule: cfg.Maintenance.PruneSchedule,
		PruneAge:      pruneAge,
	}, store, log.With(logx.String("comp", "janitor")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log.With(logx.String("comp", "app")),
		store:   store,
		focus:   fm,
		bus:     bus,
		sched:   sched,
		janitor: janitor,
	}, nil
}

func schedulerConfig(sc config.SchedulerConfig) (scheduler.Config, error) {
	pastDue, err := config.ParseDurationField("scheduler.past_due_limit", sc.PastDueLimit)
	if err != nil {
		return scheduler.Config{}, err
	}
	maxRender, err := config.ParseDurationField("scheduler.max_render_duration", sc.MaxRenderDuration)
	if err != nil {
		return scheduler.Config{}, err
	}
	bgPause, err := config.ParseDurationField("scheduler.background_pause", sc.BackgroundPause)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		PastDueLimit:      pastDue,
		MaxRenderDuration: maxRender,
		BackgroundPause:   bgPause,
		VolumeRamp:        sc.VolumeRamp,
	}, nil
}

// Scheduler exposes the alert arena to the caller (directive handling,
// demo seeding).
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Bus exposes lifecycle events for delivery upstream.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Focus exposes the channel arbiter so other activities can preempt.
func (a *App) Focus() *focus.Manager { return a.focus }

func (a *App) Start(ctx context.Context) error {
	if err := a.store.Open(); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if err := a.sched.Initialize(); err != nil {
		return fmt.Errorf("initialize scheduler: %w", err)
	}
	cfg := a.cfgm.Get()
	if cfg != nil && cfg.Maintenance.Enabled {
		if err := a.janitor.Start(); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	go func() { _ = a.cfgm.Watch(wctx) }()
	go a.applyConfigUpdates(wctx)

	a.notifySystemd(wctx)
	a.log.Info("alertd started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfigUpdates reacts to config file edits. Only the logging block
// is hot-reloadable; everything else takes effect on restart.
func (a *App) applyConfigUpdates(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}

// notifySystemd reports readiness and, when the unit has WatchdogSec set,
// keeps the watchdog fed. A no-op outside systemd.
func (a *App) notifySystemd(ctx context.Context) {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	a.janitor.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.sched.Shutdown()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("scheduler shutdown timed out")
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("alertd stopped")
	return a.logs.Close()
}
