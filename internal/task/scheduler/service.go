package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"dayloop/internal/clock"
	"dayloop/internal/eventbus"
	rtsup "dayloop/internal/runtime/supervisor"
	"dayloop/internal/schedule"
	logx "dayloop/pkg/logx"
)

func New(cfg Config, sched *schedule.Schedule, fire Firer, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	s := &Service{
		log:       log,
		bus:       bus,
		clock:     clk,
		fire:      fire,
		sched:     sched,
		replaceCh: make(chan *schedule.Schedule, 1),
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps poll settings. A new interval takes effect on the next loop
// restart; policy and timezone apply from the next tick.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.loc = time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		} else {
			s.loc = loc
		}
	}
}

func (s *Service) config() (Config, *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.loc
}

// Start runs the poll loop under a restarting supervisor. Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup := s.sup
	interval, policy := s.cfg.PollInterval, s.cfg.MissedTick
	s.mu.Unlock()

	sup.GoRestart("poll", func(c context.Context) error {
		s.run(c, interval)
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("poll loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))

	s.log.Info("service started", logx.Duration("interval", interval), logx.String("missed_tick", string(policy)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("poll loop stopped with error", logx.Err(err))
	}
	s.log.Info("service stopped")
}

// Supervisor returns the loop supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Replace hands a new schedule to the loop, which re-derives the cursor
// from the current time. Only the latest pending schedule is kept.
func (s *Service) Replace(next *schedule.Schedule) {
	if next == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.replaceCh:
	default:
	}
	s.replaceCh <- next
}

// LastTick returns the wall time of the last loop iteration (zero before
// the first tick). It tracks loop liveness, not the scheduling clock.
func (s *Service) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, loc, v, running := s.cfg, s.loc, s.view, s.sup != nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:      running,
		Timezone:     loc.String(),
		MissedTick:   cfg.MissedTick,
		PollInterval: cfg.PollInterval,
		Slots:        v.slots,
		Commands:     v.commands,
		NextIndex:    v.nextIndex,
		NextIn:       v.nextIn,
		LastTick:     s.LastTick(),
		Fired:        s.fired.Load(),
		Missed:       s.missed.Load(),
	}
	if v.valid {
		snap.NextAt = v.nextAt.String()
	}
	return snap
}

func (s *Service) run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-s.replaceCh:
			s.replace(next)
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) now() time.Time {
	_, loc := s.config()
	return s.clock.Now().In(loc)
}

func (s *Service) replace(next *schedule.Schedule) {
	now := s.now()
	s.sched = next
	if s.cursor == nil {
		s.cursor = schedule.NewCursor(next, clock.FromTime(now))
	} else {
		s.cursor.Reset(next, clock.FromTime(now))
	}
	s.prev = now
	s.log.Info("schedule replaced", logx.Int("slots", next.Len()), logx.Int("commands", next.Commands()))
	eventbus.Publish(s.bus, eventbus.TypeScheduleSwap, eventbus.ScheduleEvent{Slots: next.Len(), Commands: next.Commands()})
	s.announce(now)
}

// tick samples the clock once and fires every slot crossed since the
// previous sample, according to the missed-tick policy.
func (s *Service) tick(ctx context.Context) {
	now := s.now()
	s.lastTick.Store(time.Now().UnixNano())

	if s.sched == nil {
		return
	}
	if s.cursor == nil || s.prev.IsZero() {
		if s.cursor == nil {
			s.cursor = schedule.NewCursor(s.sched, clock.FromTime(now))
		}
		s.prev = now
		s.announce(now)
		return
	}

	prev := s.prev
	s.prev = now
	nowT, prevT := clock.FromTime(now), clock.FromTime(prev)
	window := clock.Between(prevT, nowT)
	if window == 0 {
		return
	}

	// Wall elapsed, monotonic reading stripped, so a suspend counts as time passing.
	elapsed := now.Round(0).Sub(prev.Round(0))
	if elapsed < 0 || elapsed >= 24*time.Hour || time.Duration(window)*time.Second > elapsed+2*time.Second {
		s.log.Warn("clock jump; re-deriving cursor",
			logx.Time("prev", prev), logx.Time("now", now), logx.Duration("elapsed", elapsed))
		s.cursor.Reset(s.sched, nowT)
		s.announce(now)
		return
	}

	cfg, _ := s.config()
	moved := false
	for i := 0; i < s.sched.Len(); i++ {
		at := s.cursor.CurrentAt()
		d := clock.Between(prevT, at)
		if d == 0 || d > window {
			break
		}
		late := time.Duration(clock.Between(at, nowT)) * time.Second
		slot := s.cursor.Current()
		ev := eventbus.SlotEvent{At: at.String(), Index: s.cursor.Index(), Commands: len(slot.Commands), Late: late}

		due := late == 0 || (cfg.MissedTick == MissedCatchUp && late <= cfg.CatchUpGrace)
		if due {
			s.fired.Add(1)
			if late > 0 {
				s.log.Info("slot fired late", logx.String("at", at.String()), logx.Duration("late", late))
			}
			eventbus.Publish(s.bus, eventbus.TypeSlotFired, ev)
			if err := s.fire.Fire(ctx, slot); err != nil {
				s.log.Warn("slot dispatch failed", logx.String("at", at.String()), logx.Err(err))
			}
		} else {
			s.missed.Add(1)
			s.log.Warn("slot missed", logx.String("at", at.String()), logx.Duration("late", late), logx.String("missed_tick", string(cfg.MissedTick)))
			eventbus.Publish(s.bus, eventbus.TypeSlotMissed, ev)
		}
		s.cursor.Advance()
		moved = true
	}
	if moved {
		s.announce(now)
	}
}

// announce logs and publishes where the cursor points now.
func (s *Service) announce(now time.Time) {
	at := s.cursor.CurrentAt()
	in := s.cursor.Until(now)
	s.mu.Lock()
	s.view = view{
		slots:     s.sched.Len(),
		commands:  s.sched.Commands(),
		nextIndex: s.cursor.Index(),
		nextAt:    at,
		nextIn:    in,
		valid:     true,
	}
	s.mu.Unlock()
	s.log.Info("next slot", logx.String("at", at.String()), logx.Duration("in", in), logx.Int("commands", len(s.cursor.Current().Commands)))
}
