package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dayloop/internal/clock"
	"dayloop/internal/eventbus"
	"dayloop/internal/schedule"
	logx "dayloop/pkg/logx"
)

type recordingFirer struct {
	mu    sync.Mutex
	fired []string
	fail  map[string]bool
	ch    chan string
}

func (r *recordingFirer) Fire(_ context.Context, slot schedule.Slot) error {
	at := slot.At.String()
	r.mu.Lock()
	r.fired = append(r.fired, at)
	fail := r.fail[at]
	r.mu.Unlock()
	if r.ch != nil {
		r.ch <- at
	}
	if fail {
		return errors.New("queue full")
	}
	return nil
}

func (r *recordingFirer) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func mustSchedule(t *testing.T, times ...string) *schedule.Schedule {
	t.Helper()
	var slots []schedule.Slot
	for _, ts := range times {
		at, err := clock.Parse(ts)
		if err != nil {
			t.Fatal(err)
		}
		slots = append(slots, schedule.Slot{At: at, Commands: []schedule.Command{{Program: "cmd-" + ts, Lead: schedule.NoLead()}}})
	}
	s, err := schedule.New(slots)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func day(h, m, s int) time.Time { return time.Date(2026, 3, 10, h, m, s, 0, time.UTC) }

func newTestService(t *testing.T, cfg Config, sched *schedule.Schedule, start time.Time) (*Service, *clock.Fixed, *recordingFirer) {
	t.Helper()
	clk := clock.NewFixed(start)
	f := &recordingFirer{fail: map[string]bool{}}
	cfg.Timezone = "UTC"
	return New(cfg, sched, f, clk, logx.Nop(), nil), clk, f
}

// ticks advances the fixed clock to each instant and samples once.
func ticks(s *Service, clk *clock.Fixed, at ...time.Time) {
	for _, t := range at {
		clk.Set(t)
		s.tick(context.Background())
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFirstTickSelectsNextSlot(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t, Config{}, mustSchedule(t, "10:00:00", "14:00:00"), day(15, 0, 0))
	ticks(s, clk, day(15, 0, 0))

	snap := s.Snapshot()
	if snap.NextIndex != 0 || snap.NextAt != "10:00:00" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.NextIn != 19*time.Hour {
		t.Fatalf("next in = %v", snap.NextIn)
	}
}

func TestExactSecondFiresOnce(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{MissedTick: MissedSkip}, mustSchedule(t, "09:00:00"), day(8, 59, 58))
	ticks(s, clk,
		day(8, 59, 58),
		day(8, 59, 59),
		day(9, 0, 0),
		day(9, 0, 0).Add(500*time.Millisecond),
		day(9, 0, 1),
		day(9, 0, 2),
	)
	if got := f.got(); !equal(got, []string{"09:00:00"}) {
		t.Fatalf("fired = %v", got)
	}
	if s.Snapshot().Fired != 1 {
		t.Fatalf("fired counter = %d", s.Snapshot().Fired)
	}
}

func TestCatchUpFiresCrossedSlot(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{}, mustSchedule(t, "09:00:00", "09:00:02", "12:00:00"), day(8, 59, 59))
	ticks(s, clk, day(8, 59, 59), day(9, 0, 3))
	if got := f.got(); !equal(got, []string{"09:00:00", "09:00:02"}) {
		t.Fatalf("fired = %v", got)
	}
	if snap := s.Snapshot(); snap.NextAt != "12:00:00" {
		t.Fatalf("next = %s", snap.NextAt)
	}
}

func TestSkipPolicyDropsCrossedSlot(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{MissedTick: MissedSkip}, mustSchedule(t, "09:00:00", "12:00:00"), day(8, 59, 59))
	ticks(s, clk, day(8, 59, 59), day(9, 0, 2))
	if got := f.got(); len(got) != 0 {
		t.Fatalf("fired = %v", got)
	}
	snap := s.Snapshot()
	if snap.Missed != 1 || snap.NextAt != "12:00:00" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCatchUpGraceExceeded(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{CatchUpGrace: time.Minute}, mustSchedule(t, "09:00:00", "09:04:30"), day(8, 59, 0))
	ticks(s, clk, day(8, 59, 0), day(9, 5, 0))
	if got := f.got(); !equal(got, []string{"09:04:30"}) {
		t.Fatalf("fired = %v", got)
	}
	if s.Snapshot().Missed != 1 {
		t.Fatalf("missed = %d", s.Snapshot().Missed)
	}
}

func TestMidnightWrap(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{}, mustSchedule(t, "00:00:00", "23:59:59"), day(23, 59, 58))
	next := day(23, 59, 59).Add(time.Second)
	ticks(s, clk, day(23, 59, 58), day(23, 59, 59), next, next.Add(time.Second))
	if got := f.got(); !equal(got, []string{"23:59:59", "00:00:00"}) {
		t.Fatalf("fired = %v", got)
	}
	if snap := s.Snapshot(); snap.NextAt != "23:59:59" {
		t.Fatalf("next = %s", snap.NextAt)
	}
}

func TestSingleSlotFiresOncePerDay(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{}, mustSchedule(t, "06:00:00"), day(5, 59, 59))
	ticks(s, clk, day(5, 59, 59), day(6, 0, 0), day(6, 0, 1), day(6, 0, 2))
	tomorrow := day(5, 59, 59).Add(24 * time.Hour)
	// Walk the clock through the rest of the day in 1h steps; nothing fires.
	for tm := day(7, 0, 0); tm.Before(tomorrow); tm = tm.Add(time.Hour) {
		ticks(s, clk, tm)
	}
	ticks(s, clk, tomorrow, tomorrow.Add(time.Second))
	if got := f.got(); !equal(got, []string{"06:00:00", "06:00:00"}) {
		t.Fatalf("fired = %v", got)
	}
}

func TestClockJumpResetsCursor(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{}, mustSchedule(t, "09:00:00", "18:00:00"), day(8, 0, 0))
	// Backwards jump.
	ticks(s, clk, day(8, 0, 0), day(7, 0, 0))
	// Forward jump larger than a day.
	ticks(s, clk, day(7, 0, 0).Add(30*time.Hour))
	if got := f.got(); len(got) != 0 {
		t.Fatalf("fired = %v", got)
	}
	if snap := s.Snapshot(); snap.NextAt != "18:00:00" {
		t.Fatalf("next = %s, want 18:00:00 after re-deriving at 13:00", snap.NextAt)
	}
}

func TestDispatchFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()
	s, clk, f := newTestService(t, Config{}, mustSchedule(t, "09:00:00", "09:00:01"), day(8, 59, 59))
	f.fail["09:00:00"] = true
	ticks(s, clk, day(8, 59, 59), day(9, 0, 0), day(9, 0, 1))
	if got := f.got(); !equal(got, []string{"09:00:00", "09:00:01"}) {
		t.Fatalf("fired = %v", got)
	}
}

func TestReplaceRederivesCursor(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	clk := clock.NewFixed(day(12, 0, 0))
	s := New(Config{Timezone: "UTC"}, mustSchedule(t, "10:00:00"), &recordingFirer{}, clk, logx.Nop(), bus)
	s.tick(context.Background())

	s.replace(mustSchedule(t, "11:00:00", "13:00:00", "20:00:00"))
	snap := s.Snapshot()
	if snap.Slots != 3 || snap.NextIndex != 1 || snap.NextAt != "13:00:00" {
		t.Fatalf("snapshot = %+v", snap)
	}
	found := false
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TypeScheduleSwap {
			found = true
		}
	}
	if !found {
		t.Fatal("schedule.swap not published")
	}
}

func TestStartFiresAndStops(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(day(9, 59, 59))
	f := &recordingFirer{fail: map[string]bool{}, ch: make(chan string, 4)}
	s := New(Config{PollInterval: 5 * time.Millisecond, Timezone: "UTC"}, mustSchedule(t, "10:00:00"), f, clk, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx) // idempotent

	deadline := time.After(2 * time.Second)
	for s.LastTick().IsZero() {
		select {
		case <-deadline:
			t.Fatal("loop never ticked")
		case <-time.After(time.Millisecond):
		}
	}
	clk.Set(day(10, 0, 0))
	select {
	case at := <-f.ch:
		if at != "10:00:00" {
			t.Fatalf("fired %s", at)
		}
	case <-deadline:
		t.Fatal("slot not fired")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Snapshot().Running {
		t.Fatal("still running after Stop")
	}
}

func TestParseMissedTick(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]MissedTick{"": MissedCatchUp, "CATCH_UP": MissedCatchUp, " skip ": MissedSkip} {
		got, err := ParseMissedTick(in)
		if err != nil || got != want {
			t.Fatalf("ParseMissedTick(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMissedTick("later"); err == nil {
		t.Fatal("expected error")
	}
}
