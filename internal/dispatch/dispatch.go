package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"dayloop/internal/action"
	"dayloop/internal/eventbus"
	"dayloop/internal/schedule"
	"dayloop/internal/storage"
	"dayloop/internal/task/engine"
	logx "dayloop/pkg/logx"

	"github.com/google/uuid"
)

// Kind is the action a command resolves to.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindAudio    Kind = "audio"
	KindProgram  Kind = "program"
)

// KindOf applies the precedence reminder, then audio, then program.
func KindOf(c schedule.Command) Kind {
	switch {
	case c.Lead.IsReminder():
		return KindReminder
	case c.Audio:
		return KindAudio
	default:
		return KindProgram
	}
}

// Launcher starts a program with a raw parameter string.
type Launcher interface {
	LaunchLine(program, params string) (pid int, err error)
}

// Player starts playback of an audio file.
type Player interface {
	Play(path string) error
}

// Enqueuer accepts side tasks without blocking.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Deps are the action sink and plumbing a Dispatcher routes to. Store and
// Bus are optional.
type Deps struct {
	Launcher Launcher
	Player   Player
	Notifier action.Notifier
	Engine   Enqueuer
	Store    storage.Store
	Bus      eventbus.Bus
}

type Config struct {
	AppName string
}

type Dispatcher struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "dayloop"
	}
	return &Dispatcher{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// Fire hands slot to the engine and returns immediately. Without an engine
// the slot runs on a fresh goroutine.
func (d *Dispatcher) Fire(ctx context.Context, slot schedule.Slot) error {
	if d.deps.Engine == nil {
		go func() { _ = d.Run(context.WithoutCancel(ctx), slot) }()
		return nil
	}
	err := d.deps.Engine.Enqueue(engine.Task{
		Name: "slot " + slot.At.String(),
		Run:  func(ctx context.Context) error { return d.Run(ctx, slot) },
	})
	if err != nil {
		return fmt.Errorf("enqueue slot %s: %w", slot.At, err)
	}
	return nil
}

// Run executes every command of slot in order. Each failure is logged and
// recorded; the joined failures are returned after all commands ran.
func (d *Dispatcher) Run(ctx context.Context, slot schedule.Slot) error {
	var errs []error
	for i, c := range slot.Commands {
		if err := d.runOne(ctx, slot.At.String(), c); err != nil {
			errs = append(errs, fmt.Errorf("command %d (%s): %w", i, c.Program, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) runOne(ctx context.Context, at string, c schedule.Command) error {
	kind := KindOf(c)
	run := storage.Run{
		ID:      uuid.NewString(),
		At:      d.now(),
		Slot:    at,
		Kind:    string(kind),
		Program: c.Program,
		Params:  c.Params,
	}
	start := time.Now()
	pid, err := d.exec(ctx, kind, c)
	run.PID = pid
	run.TookMS = time.Since(start).Milliseconds()

	log := d.log.With(logx.String("run_id", run.ID), logx.String("slot", at), logx.String("kind", string(kind)), logx.String("program", c.Program))
	if err != nil {
		run.Error = err.Error()
		log.Warn("command failed", logx.Err(err))
	} else if pid > 0 {
		log.Info("command launched", logx.Int("pid", pid))
	} else {
		log.Info("command done")
	}

	eventbus.Publish(d.deps.Bus, eventbus.TypeCommandDone, eventbus.CommandEvent{
		RunID: run.ID, At: at, Kind: run.Kind, Program: c.Program, PID: pid, Error: run.Error,
	})
	if d.deps.Store != nil {
		if serr := d.deps.Store.AppendRun(ctx, run); serr != nil {
			log.Debug("run history write failed", logx.Err(serr))
		}
	}
	return err
}

// exec performs one action. A panic in an action is returned as an error so
// the rest of the slot still runs.
func (d *Dispatcher) exec(ctx context.Context, kind Kind, c schedule.Command) (pid int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.log.Error("action panicked", logx.String("program", c.Program), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	switch kind {
	case KindReminder:
		if d.deps.Notifier == nil {
			return 0, errors.New("no notifier configured")
		}
		return 0, d.deps.Notifier.Notify(ctx, Reminder(c, d.cfg.AppName))
	case KindAudio:
		if d.deps.Player == nil {
			return 0, errors.New("no audio player configured")
		}
		return 0, d.deps.Player.Play(c.Program)
	default:
		if d.deps.Launcher == nil {
			return 0, errors.New("no launcher configured")
		}
		return d.deps.Launcher.LaunchLine(c.Program, c.Params)
	}
}

// Reminder builds the notification for a synthesized reminder. It refers to
// the command it reminds of, not to the reminder itself.
func Reminder(c schedule.Command, appName string) action.Notification {
	body := "Reminder for " + c.Label()
	if c.Lead.Seconds > 0 {
		body += fmt.Sprintf(", starts in %ds", c.Lead.Seconds)
	} else {
		body += ", starts now"
	}
	return action.Notification{
		Title:  "Task reminder",
		Body:   body,
		Footer: "from " + appName,
	}
}
