package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dayloop/internal/action"
	"dayloop/internal/clock"
	"dayloop/internal/eventbus"
	"dayloop/internal/schedule"
	"dayloop/internal/storage"
	"dayloop/internal/task/engine"
	logx "dayloop/pkg/logx"
)

// sink records every action call in order and fails the programs listed in fail.
type sink struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	panic map[string]bool
	notes []action.Notification
}

func newSink() *sink { return &sink{fail: map[string]bool{}, panic: map[string]bool{}} }

func (s *sink) record(call, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.panic[key] {
		panic("action blew up")
	}
	if s.fail[key] {
		return errors.New(key + " failed")
	}
	return nil
}

func (s *sink) LaunchLine(program, params string) (int, error) {
	if err := s.record("launch "+program+" "+params, program); err != nil {
		return 0, err
	}
	return 4242, nil
}

func (s *sink) Play(path string) error { return s.record("play "+path, path) }

func (s *sink) Notify(_ context.Context, n action.Notification) error {
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
	return s.record("notify "+n.Body, "notify")
}

func (s *sink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type memStore struct {
	mu   sync.Mutex
	runs []storage.Run
}

func (m *memStore) AppendRun(_ context.Context, r storage.Run) error {
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}
func (m *memStore) RecentRuns(context.Context, int) ([]storage.Run, error) { return nil, nil }
func (m *memStore) PruneBefore(context.Context, time.Time) (int, error)    { return 0, nil }
func (m *memStore) Close() error                                           { return nil }

func newDispatcher(s *sink, st storage.Store, bus eventbus.Bus, eng Enqueuer) *Dispatcher {
	return New(Config{AppName: "dayloop"}, Deps{
		Launcher: s,
		Player:   s,
		Notifier: s,
		Engine:   eng,
		Store:    st,
		Bus:      bus,
	}, logx.Nop())
}

func slotAt(h, m, sec int, cmds ...schedule.Command) schedule.Slot {
	return schedule.Slot{At: clock.MustNew(h, m, sec), Commands: cmds}
}

func TestKindPrecedence(t *testing.T) {
	t.Parallel()
	s, err := schedule.New([]schedule.Slot{slotAt(9, 0, 0,
		schedule.Command{Program: "chime.wav", Audio: true, Lead: schedule.Before(60)},
	)})
	if err != nil {
		t.Fatal(err)
	}
	exp, _ := schedule.Expand(s)
	reminder := exp.At(0).Commands[0]
	original := exp.At(1).Commands[0]

	if KindOf(reminder) != KindReminder {
		t.Fatalf("reminder of an audio command must notify, got %s", KindOf(reminder))
	}
	if KindOf(original) != KindAudio {
		t.Fatalf("audio command kind = %s", KindOf(original))
	}
	if KindOf(schedule.Command{Program: "/bin/true"}) != KindProgram {
		t.Fatal("plain command must launch")
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()
	sk := newSink()
	sk.fail["/bin/fails"] = true
	st := &memStore{}
	d := newDispatcher(sk, st, nil, nil)

	err := d.Run(context.Background(), slotAt(9, 0, 0,
		schedule.Command{Program: "/bin/fails", Params: "-x"},
		schedule.Command{Program: "/bin/succeeds"},
	))
	if err == nil || !strings.Contains(err.Error(), "/bin/fails") {
		t.Fatalf("Run err = %v", err)
	}
	want := []string{"launch /bin/fails -x", "launch /bin/succeeds "}
	got := sk.got()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("calls = %q, want %q", got, want)
	}

	if len(st.runs) != 2 {
		t.Fatalf("recorded %d runs", len(st.runs))
	}
	if st.runs[0].Error == "" || st.runs[1].Error != "" || st.runs[1].PID != 4242 {
		t.Fatalf("runs = %+v", st.runs)
	}
	if st.runs[0].ID == st.runs[1].ID || st.runs[0].Slot != "09:00:00" {
		t.Fatalf("run ids/slot = %+v", st.runs)
	}
}

func TestRunIsolatesPanics(t *testing.T) {
	t.Parallel()
	sk := newSink()
	sk.panic["boom.wav"] = true
	d := newDispatcher(sk, nil, nil, nil)

	err := d.Run(context.Background(), slotAt(7, 0, 0,
		schedule.Command{Program: "boom.wav", Audio: true},
		schedule.Command{Program: "ok.wav", Audio: true},
	))
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("Run err = %v", err)
	}
	if got := sk.got(); len(got) != 2 || got[1] != "play ok.wav" {
		t.Fatalf("calls = %q", got)
	}
}

func TestRunRoutesInOrder(t *testing.T) {
	t.Parallel()
	s, err := schedule.New([]schedule.Slot{slotAt(9, 0, 0,
		schedule.Command{Program: "backup.sh", Params: "--full", Lead: schedule.AtStart()},
		schedule.Command{Program: "done.wav", Audio: true},
	)})
	if err != nil {
		t.Fatal(err)
	}
	exp, _ := schedule.Expand(s)
	if exp.Len() != 1 {
		t.Fatalf("expanded len = %d", exp.Len())
	}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	sk := newSink()
	d := newDispatcher(sk, nil, bus, nil)
	if err := d.Run(context.Background(), exp.At(0)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{
		"launch backup.sh --full",
		"play done.wav",
		"notify Reminder for backup.sh --full, starts now",
	}
	got := sk.got()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %q\nwant    %q", got, want)
	}
	if n := len(events); n != 3 {
		t.Fatalf("published %d events, want 3", n)
	}
	e := <-events
	if ce, ok := e.Data.(eventbus.CommandEvent); !ok || ce.Kind != "program" || ce.PID != 4242 {
		t.Fatalf("first event = %+v", e)
	}
}

func TestReminderText(t *testing.T) {
	t.Parallel()
	s, _ := schedule.New([]schedule.Slot{slotAt(9, 0, 0,
		schedule.Command{Program: "backup.sh", Params: "  --full ", Lead: schedule.Before(30)},
		schedule.Command{Program: "report.sh", Lead: schedule.AtStart()},
	)})
	exp, _ := schedule.Expand(s)

	n := Reminder(exp.At(0).Commands[0], "dayloop")
	if n.Title != "Task reminder" || n.Body != "Reminder for backup.sh --full, starts in 30s" || n.Footer != "from dayloop" {
		t.Fatalf("notification = %+v", n)
	}
	var atStart schedule.Command
	for _, c := range exp.At(1).Commands {
		if c.Lead.IsReminder() {
			atStart = c
		}
	}
	if got := Reminder(atStart, "x").Body; got != "Reminder for report.sh, starts now" {
		t.Fatalf("body = %q", got)
	}
}

func TestFireEnqueuesOneTaskPerSlot(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Stop(ctx)
	}()

	sk := newSink()
	d := newDispatcher(sk, nil, nil, eng)
	if err := d.Fire(context.Background(), slotAt(8, 0, 0,
		schedule.Command{Program: "a"},
		schedule.Command{Program: "b"},
	)); err != nil {
		t.Fatalf("Fire: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sk.got()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %q", sk.got())
		}
		time.Sleep(5 * time.Millisecond)
	}
	h := eng.Snapshot().History
	for len(h) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		h = eng.Snapshot().History
	}
	if len(h) != 1 || h[0].Name != "slot 08:00:00" {
		t.Fatalf("engine history = %+v", h)
	}
}

func TestFireReportsEngineRejection(t *testing.T) {
	t.Parallel()
	stopped := engine.New(engine.Config{Enabled: true}, logx.Nop(), nil)
	d := newDispatcher(newSink(), nil, nil, stopped)
	err := d.Fire(context.Background(), slotAt(8, 0, 0, schedule.Command{Program: "a"}))
	if !errors.Is(err, engine.ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestMissingSinks(t *testing.T) {
	t.Parallel()
	d := New(Config{}, Deps{}, logx.Nop())
	err := d.Run(context.Background(), slotAt(1, 0, 0,
		schedule.Command{Program: "p"},
		schedule.Command{Program: "a.wav", Audio: true},
	))
	if err == nil || strings.Count(err.Error(), "configured") != 2 {
		t.Fatalf("err = %v", err)
	}
}
