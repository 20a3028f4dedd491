package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"dayloop/internal/action"
	"dayloop/internal/clock"
	"dayloop/internal/config"
	"dayloop/internal/dispatch"
	"dayloop/internal/eventbus"
	"dayloop/internal/observability/diag"
	"dayloop/internal/observability/metrics"
	rtsup "dayloop/internal/runtime/supervisor"
	"dayloop/internal/schedule"
	"dayloop/internal/storage"
	"dayloop/internal/task/engine"
	"dayloop/internal/task/scheduler"
	logx "dayloop/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/afero"
)

// Options configure New. Zero values select the OS filesystem and the
// system clock.
type Options struct {
	ConfigPath string

	// SchedulePath overrides scheduler.schedule_file when set.
	SchedulePath string
	Fs           afero.Fs
	Clock        clock.Clock
}

type App struct {
	cfgPath     string
	schedPinned bool

	cfgm *config.ConfigManager
	src  *config.ScheduleSource
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	launcher *action.Launcher
	engine   *engine.Service
	disp     *dispatch.Dispatcher
	sched    *scheduler.Service
	metrics  *metrics.Collector
	diag     *diag.Service
	ret      *retention

	active        atomic.Pointer[schedule.Schedule]
	notifySystemd bool
	pollInterval  atomic.Int64
}

func New(opts Options) (*App, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfgm.SetFs(fs)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	src := config.NewScheduleSource(
		SchedulePath(opts.ConfigPath, opts.SchedulePath, cfg),
		fs, log.With(logx.String("comp", "schedule")),
	)
	src.SetWriteBack(cfg.Scheduler.WriteBackSorted)
	base, err := src.Load()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	active := expand(base, log)

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	d, _ := cfg.Durations()

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	launcher := action.NewLauncher(log.With(logx.String("comp", "launcher")))
	launcher.OnExit = func(x action.ExitInfo) {
		ev := eventbus.CommandEvent{Program: x.Program, PID: x.PID, Code: x.Code}
		if x.Err != nil {
			ev.Error = x.Err.Error()
		}
		eventbus.Publish(bus, eventbus.TypeProcessExited, ev)
	}

	notifier, err := action.NewDesktopNotifier(cfg.Actions.NotifyBackend, cfg.Actions.AppName, log.With(logx.String("comp", "notify")))
	if err != nil {
		return fail(err)
	}

	disp := dispatch.New(mapDispatchConfig(cfg), dispatch.Deps{
		Launcher: launcher,
		Player:   action.NewAudioPlayer(cfg.Actions.AudioPlayer, launcher),
		Notifier: action.NewRateLimitedNotifier(notifier, cfg.Actions.NotifyRatePerSec),
		Engine:   engineSvc,
		Store:    store,
		Bus:      bus,
	}, log.With(logx.String("comp", "dispatch")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	schedSvc := scheduler.New(schedCfg, active, disp, opts.Clock, log.With(logx.String("comp", "scheduler")), bus)

	mc := metrics.NewCollector()
	mc.SetSchedule(active.Len(), active.Commands())

	a := &App{
		cfgPath:       opts.ConfigPath,
		schedPinned:   opts.SchedulePath != "",
		cfgm:          cfgm,
		src:           src,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		launcher:      launcher,
		engine:        engineSvc,
		disp:          disp,
		sched:         schedSvc,
		metrics:       mc,
		ret:           newRetention(store, d.Retention, log.With(logx.String("comp", "retention"))),
		notifySystemd: cfg.Systemd.Notify,
	}
	a.pollInterval.Store(int64(schedCfg.PollInterval))
	a.active.Store(active)
	a.diag = diag.New(mapDiagConfig(cfg), diag.Handlers{
		Metrics:  mc.Handler(),
		Health:   a.health,
		Status:   func() any { return a.Status() },
		Schedule: func(w io.Writer) error { return schedule.Describe(w, a.active.Load()) },
		Runs:     a.recentRuns,
	}, log.With(logx.String("comp", "diag")))
	return a, nil
}

// expand adds the reminder commands and logs what it did.
func expand(s *schedule.Schedule, log logx.Logger) *schedule.Schedule {
	out, rep := schedule.Expand(s)
	log.Info("schedule expanded",
		logx.Int("slots", out.Len()),
		logx.Int("commands", out.Commands()),
		logx.Int("reminders", rep.Reminders),
		logx.Int("new_slots", rep.NewSlots),
		logx.Int("merged", rep.Merged),
	)
	return out
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

// Status is the runtime view served on /status.
type Status struct {
	Scheduler   scheduler.Snapshot        `json:"scheduler"`
	Engine      engine.Snapshot           `json:"engine"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:   a.sched.Snapshot(),
		Engine:      a.engine.Snapshot(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	add := func(name string, sup *rtsup.Supervisor) {
		if sup != nil {
			st.Supervisors[name] = sup.Snapshot()
		}
	}
	add("app", a.sup)
	add("scheduler", a.sched.Supervisor())
	add("task.engine", a.engine.Supervisor())
	add("diag", a.diag.Supervisor())
	return st
}

// health fails when the poll loop has not ticked for several intervals.
func (a *App) health() error {
	last := a.sched.LastTick()
	if last.IsZero() {
		return errors.New("poll loop has not ticked yet")
	}
	limit := 3 * time.Duration(a.pollInterval.Load())
	if limit < 5*time.Second {
		limit = 5 * time.Second
	}
	if age := time.Since(last); age > limit {
		return fmt.Errorf("poll loop stalled: last tick %s ago", age.Round(time.Second))
	}
	return nil
}

func (a *App) recentRuns(ctx context.Context, limit int) (any, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, limit)
}

// swapSchedule expands a reloaded schedule and hands it to the poll loop.
func (a *App) swapSchedule(next *schedule.Schedule) {
	active := expand(next, a.log)
	a.active.Store(active)
	a.sched.Replace(active)
}

// validateReload rejects settings that would only fail later at fire time.
func validateReload(_ context.Context, cfg *config.Config) error {
	if len(cfg.Actions.AudioPlayer) > 0 {
		if _, err := exec.LookPath(cfg.Actions.AudioPlayer[0]); err != nil {
			return fmt.Errorf("actions.audio_player: %w", err)
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateReload)

	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	if err := a.diag.Start(a.sup.Context()); err != nil {
		a.log.Warn("diag disabled", logx.Err(err))
	}

	cfg := a.cfgm.Get()
	sc, _ := mapSchedulerConfig(cfg)
	loc := time.Local
	if sc.Timezone != "" {
		if l, err := time.LoadLocation(sc.Timezone); err == nil {
			loc = l
		}
	}
	if err := a.ret.start(a.sup.Context(), strings.TrimSpace(cfg.Storage.PruneSchedule), loc); err != nil {
		return err
	}

	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	// Debug-level event log; components also log their own outcomes.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("schedule.watch", func(c context.Context) error {
		return a.src.Watch(c, a.swapSchedule)
	})
	a.sup.Go0("systemd.watchdog", a.watchdog)

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("schedule", a.src.Path()),
		logx.Bool("diag", a.diag.Enabled()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// applyConfig applies a reloaded settings file to the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if changed("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed("executor") {
		if ec, err := mapEngineConfig(newCfg); err != nil {
			a.log.Warn("invalid executor config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ec)
		}
	}

	if changed("scheduler") {
		if !a.schedPinned && SchedulePath(a.cfgPath, "", newCfg) != a.src.Path() {
			a.log.Warn("scheduler.schedule_file changed; restart required for it to take effect")
		}
		a.src.SetWriteBack(newCfg.Scheduler.WriteBackSorted)
		if sc, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
			if prev := time.Duration(a.pollInterval.Swap(int64(sc.PollInterval))); prev != sc.PollInterval {
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.sched.Stop(stopCtx)
				cancel()
				a.sched.Start(ctx)
			}
		}
	}

	if changed("diag") {
		if err := a.diag.Reconfigure(ctx, mapDiagConfig(newCfg)); err != nil {
			a.log.Warn("diag reconfigure failed", logx.Err(err))
		}
	}

	for _, s := range []string{"actions", "storage", "systemd"} {
		if changed(s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component
	// cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("retention", 2*time.Second, func(c context.Context) error { a.ret.stop(c); return nil })
	step("diag", 1*time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
