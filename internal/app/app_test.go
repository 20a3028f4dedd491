package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dayloop/internal/clock"
	"dayloop/internal/config"
	"dayloop/internal/storage"
	logx "dayloop/pkg/logx"
)

const testSchedule = `- time: {hour: 9, minute: 0, second: 0}
  commands:
    - command: /bin/true
      notify: 30
`

func writeFiles(t *testing.T, settings string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "schedule.yaml"), []byte(testSchedule), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

const testSettings = `logging:
  level: error
  console: false
scheduler:
  timezone: UTC
actions:
  notify_backend: log
systemd:
  notify: false
`

func TestAppStartStop(t *testing.T) {
	t.Parallel()

	cfgPath := writeFiles(t, testSettings)
	clk := clock.NewFixed(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	a, err := New(Options{ConfigPath: cfgPath, Clock: clk})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var st Status
	for {
		st = a.Status()
		if st.Scheduler.NextAt != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("poll loop never announced a slot")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// the reminder 30s before 09:00 is the next slot
	if st.Scheduler.Slots != 2 || st.Scheduler.NextAt != "08:59:30" {
		t.Fatalf("scheduler=%+v", st.Scheduler)
	}
	if err := a.health(); err != nil {
		t.Fatalf("health: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestAppDiagServesSchedule(t *testing.T) {
	t.Parallel()

	cfgPath := writeFiles(t, testSettings+"diag:\n  enabled: true\n  addr: 127.0.0.1:0\n")
	clk := clock.NewFixed(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	a, err := New(Options{ConfigPath: cfgPath, Clock: clk})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	addr := a.diag.Addr()
	if addr == "" {
		t.Fatalf("diag not listening")
	}
	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, body := get("/schedule"); code != http.StatusOK || !strings.Contains(body, "08:59:30") {
		t.Fatalf("/schedule: %d %q", code, body)
	}
	// storage is off by default
	if code, _ := get("/runs"); code != http.StatusServiceUnavailable {
		t.Fatalf("/runs: code=%d", code)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cfgPath := writeFiles(t, testSettings)
	bad := "- time: \"09:00:00\"\n  commands:\n    - command: x\n      notify: -9\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(cfgPath), "schedule.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{ConfigPath: cfgPath}); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestApplyConfigExecutor(t *testing.T) {
	t.Parallel()

	cfgPath := writeFiles(t, testSettings)
	a, err := New(Options{ConfigPath: cfgPath})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.logs.Close() }()

	old := a.cfgm.Get()
	next := *old
	next.Executor.Workers = 5
	a.applyConfig(context.Background(), old, &next)
	if got := a.engine.Snapshot().Workers; got != 5 {
		t.Fatalf("workers=%d", got)
	}
}

func TestMapConfigs(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	ec, err := mapEngineConfig(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !ec.Enabled || ec.Workers != 2 || ec.QueueSize != 64 || ec.DefaultTimeout != time.Minute {
		t.Fatalf("engine=%+v", ec)
	}

	sc, err := mapSchedulerConfig(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.PollInterval != time.Second || sc.CatchUpGrace != time.Minute || sc.MissedTick != "catch_up" {
		t.Fatalf("scheduler=%+v", sc)
	}

	if _, enabled, err := mapStorageConfig(&cfg); err != nil || enabled {
		t.Fatalf("storage should default to disabled: %v %v", enabled, err)
	}
	cfg.Storage.Driver = "SQLite"
	cfg.Storage.Path = "/tmp/x.db"
	stc, enabled, err := mapStorageConfig(&cfg)
	if err != nil || !enabled || stc.Driver != "sqlite" {
		t.Fatalf("storage=%+v enabled=%v err=%v", stc, enabled, err)
	}
}

type pruneStore struct {
	mu     sync.Mutex
	before time.Time
	calls  int
}

func (p *pruneStore) AppendRun(context.Context, storage.Run) error { return nil }
func (p *pruneStore) RecentRuns(context.Context, int) ([]storage.Run, error) {
	return nil, nil
}
func (p *pruneStore) Close() error { return nil }
func (p *pruneStore) PruneBefore(_ context.Context, t time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = t
	p.calls++
	return 1, nil
}

func TestRetention(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := &pruneStore{}
	r := newRetention(st, 24*time.Hour, logx.Nop())
	r.now = func() time.Time { return now }

	r.prune(context.Background())
	if st.calls != 1 || !st.before.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("calls=%d before=%v", st.calls, st.before)
	}

	if err := r.start(context.Background(), "not a cron", time.UTC); err == nil {
		t.Fatalf("expected cron parse error")
	}

	keepAll := newRetention(st, 0, logx.Nop())
	keepAll.prune(context.Background())
	if st.calls != 1 {
		t.Fatalf("retention 0 must keep everything")
	}

	ok := newRetention(st, time.Hour, logx.Nop())
	if err := ok.start(context.Background(), "@daily", time.UTC); err != nil {
		t.Fatal(err)
	}
	ok.stop(context.Background())
	if st.calls != 2 {
		t.Fatalf("start should prune once, calls=%d", st.calls)
	}
}
