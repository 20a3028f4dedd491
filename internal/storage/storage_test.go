package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "dayloop/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := Run{
			ID:      fmt.Sprintf("run-%d", i),
			At:      base.Add(time.Duration(i) * time.Hour),
			Slot:    "09:00:00",
			Kind:    "program",
			Program: "/bin/backup",
			PID:     100 + i,
		}
		if i == 2 {
			r.Error = "launch failed"
		}
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	recent, err := st.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(recent) != 3 || recent[0].ID != "run-4" || recent[2].ID != "run-2" {
		t.Fatalf("recent = %+v", recent)
	}
	if recent[2].OK() || recent[2].Error != "launch failed" || recent[0].PID != 104 {
		t.Fatalf("fields not round-tripped: %+v", recent)
	}

	n, err := st.PruneBefore(ctx, base.Add(2*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("PruneBefore = %d, %v", n, err)
	}
	all, err := st.RecentRuns(ctx, 100)
	if err != nil || len(all) != 3 {
		t.Fatalf("after prune: %d runs, %v", len(all), err)
	}

	// Appends keep working after a prune rewrote the file.
	if err := st.AppendRun(ctx, Run{ID: "run-5", At: base.Add(10 * time.Hour), Kind: "audio", Program: "a.wav"}); err != nil {
		t.Fatalf("AppendRun after prune: %v", err)
	}
	recent, _ = st.RecentRuns(ctx, 1)
	if len(recent) != 1 || recent[0].ID != "run-5" {
		t.Fatalf("recent after prune = %+v", recent)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "nested", "history.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)

	if _, err := os.Stat(filepath.Join(dir, "nested", "history.runs.jsonl")); err != nil {
		t.Fatalf("runs file: %v", err)
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "h.runs.jsonl")
	if err := os.WriteFile(path, []byte("{not json}\n{\"id\":\"ok\",\"kind\":\"program\"}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "h.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), 10)
	if err != nil || len(runs) != 1 || runs[0].ID != "ok" {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "history.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}
