package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dayloop/internal/eventbus"
	logx "dayloop/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitHistory(t *testing.T, s *Service, n int) []HistoryItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.Snapshot().History; len(h) >= n {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history did not reach %d items", n)
	return nil
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := startEngine(t, Config{Enabled: true, Workers: 1}, bus)
	ran := make(chan struct{})
	if err := s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { close(ran); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-ran
	h := waitHistory(t, s, 1)
	if h[0].Name != "ok" || h[0].Error != "" || h[0].ID == "" {
		t.Fatalf("history = %+v", h)
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[eventbus.TypeTaskFinished] {
		select {
		case e := <-events:
			seen[e.Type] = true
		case <-timeout:
			t.Fatalf("events seen: %v", seen)
		}
	}
	if !seen[eventbus.TypeTaskStarted] {
		t.Fatal("missing task.started")
	}
}

func TestTaskPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Enabled: true, Workers: 1}, nil)
	_ = s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { panic("kaboom") }})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }})

	h := waitHistory(t, s, 2)
	if !strings.Contains(h[0].Error, "kaboom") {
		t.Fatalf("first = %+v", h[0])
	}
	if h[1].Name != "after" || h[1].Error != "" {
		t.Fatalf("worker did not survive the panic: %+v", h[1])
	}
}

func TestTaskTimeout(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Enabled: true, Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	_ = s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h := waitHistory(t, s, 1)
	if !strings.Contains(h[0].Error, context.DeadlineExceeded.Error()) {
		t.Fatalf("error = %q", h[0].Error)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 1}, nil)

	release := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(release) }) })
	started := make(chan struct{}, 1)
	block := func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	if err := s.Enqueue(Task{Name: "a", Run: block}); err != nil {
		t.Fatal(err)
	}
	<-started // worker busy
	if err := s.Enqueue(Task{Name: "b", Run: block}); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(Task{Name: "c", Run: block}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped = %d", s.Snapshot().Dropped)
	}
	once.Do(func() { close(release) })
}

func TestEnqueueStates(t *testing.T) {
	t.Parallel()
	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}

	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}
	if err := stopped.Enqueue(Task{Name: " ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := stopped.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("expected error for nil Run")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 16, HistorySize: 3}, nil)
	for i := 0; i < 6; i++ {
		_ = s.Enqueue(Task{Name: "n", Run: func(context.Context) error { return nil }})
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().QueueLen > 0 || s.Snapshot().InFlight > 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue did not drain")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(s.Snapshot().History); n != 3 {
		t.Fatalf("history len = %d, want 3", n)
	}
}
