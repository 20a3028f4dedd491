package config

import (
	"strings"
	"testing"

	"dayloop/internal/clock"
	"dayloop/internal/schedule"
	logx "dayloop/pkg/logx"

	"github.com/spf13/afero"
)

const unsortedYAML = `- time: {hour: 18, minute: 0, second: 0}
  commands:
    - command: /usr/bin/evening
- time: "09:00:00"
  commands:
    - command: /usr/bin/backup
      parameters: --quick
      notify: 30
    - command: /usr/share/sounds/bell.oga
      audio: true
`

func TestDecodeAndBuildSchedule(t *testing.T) {
	t.Parallel()

	items, err := DecodeSchedule("s.yaml", []byte(unsortedYAML))
	if err != nil {
		t.Fatal(err)
	}
	sched, err := BuildSchedule(items)
	if err != nil {
		t.Fatal(err)
	}
	if sched.Len() != 2 {
		t.Fatalf("len=%d", sched.Len())
	}
	first := sched.At(0)
	if first.At != clock.MustNew(9, 0, 0) || len(first.Commands) != 2 {
		t.Fatalf("first slot=%+v", first)
	}
	backup := first.Commands[0]
	if backup.Params != "--quick" || backup.Lead != schedule.Before(30) {
		t.Fatalf("backup=%+v", backup)
	}
	bell := first.Commands[1]
	if !bell.Audio || bell.Lead != schedule.NoLead() {
		t.Fatalf("absent notify must mean off: %+v", bell)
	}
}

func TestDecodeScheduleJSON(t *testing.T) {
	t.Parallel()

	body := `[{"time":"07:30","commands":[{"command":"/bin/true","notify":0}]}]`
	items, err := DecodeSchedule("s.json", []byte(body))
	if err != nil {
		t.Fatal(err)
	}
	sched, err := BuildSchedule(items)
	if err != nil {
		t.Fatal(err)
	}
	if got := sched.At(0); got.At != clock.MustNew(7, 30, 0) || got.Commands[0].Lead != schedule.AtStart() {
		t.Fatalf("slot=%+v", got)
	}
}

func TestBuildScheduleErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "bad notify",
			body: "- time: \"09:00:00\"\n  commands:\n    - command: a\n    - command: b\n      notify: -5\n",
			want: []string{"schedule[0].commands[1].notify"},
		},
		{
			name: "reserved marker",
			body: "- time: \"09:00:00\"\n  commands:\n    - command: a\n      notify: -2\n",
			want: []string{"schedule[0].commands[0].notify"},
		},
		{
			name: "missing time and command",
			body: "- commands:\n    - command: a\n- time: \"10:00:00\"\n  commands:\n    - parameters: x\n",
			want: []string{"schedule[0].time", "schedule[1].commands[0].command"},
		},
		{
			name: "empty",
			body: "[]\n",
			want: []string{schedule.ErrEmptySchedule.Error()},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			items, err := DecodeSchedule("s.yaml", []byte(tc.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			_, err = BuildSchedule(items)
			if err == nil {
				t.Fatalf("expected error")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Fatalf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestDecodeScheduleRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"s.yaml": "- time: \"25:00:00\"\n  commands: []\n",
		"t.yaml": "- time: \"09:00:00\"\n  commands:\n    - command: a\n      colour: red\n",
		"u.toml": "x = 1\n",
	}
	for path, body := range cases {
		if _, err := DecodeSchedule(path, []byte(body)); err == nil {
			t.Fatalf("%s: expected decode error", path)
		}
	}
}

func TestScheduleSourceWritesBackSorted(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/s.yaml", []byte(unsortedYAML), 0o644)

	src := NewScheduleSource("/s.yaml", fs, logx.Nop())
	src.SetWriteBack(true)
	if _, err := src.Load(); err != nil {
		t.Fatal(err)
	}

	b, err := afero.ReadFile(fs, "/s.yaml")
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Index(out, "09:00:00") > strings.Index(out, "18:00:00") {
		t.Fatalf("file not sorted:\n%s", out)
	}
	if !strings.Contains(out, "notify: 30") || strings.Contains(out, "notify: -1") {
		t.Fatalf("notify not preserved:\n%s", out)
	}
	if ok, _ := afero.Exists(fs, "/s.yaml.tmp"); ok {
		t.Fatalf("temp file left behind")
	}

	// the rewritten file must load to the same schedule and count as unchanged
	if sched := src.reload(); sched != nil {
		t.Fatalf("reload of own write-back should be a no-op")
	}
}

func TestScheduleSourceNoWriteBack(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/s.yaml", []byte(unsortedYAML), 0o644)

	src := NewScheduleSource("/s.yaml", fs, logx.Nop())
	if _, err := src.Load(); err != nil {
		t.Fatal(err)
	}
	b, _ := afero.ReadFile(fs, "/s.yaml")
	if string(b) != unsortedYAML {
		t.Fatalf("file rewritten with write-back off")
	}
}

func TestScheduleSourceReload(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/s.json", []byte(`[{"time":"09:00:00","commands":[{"command":"a"}]}]`), 0o644)
	src := NewScheduleSource("/s.json", fs, logx.Nop())
	if _, err := src.Load(); err != nil {
		t.Fatal(err)
	}

	// invalid edit keeps the current schedule
	_ = afero.WriteFile(fs, "/s.json", []byte(`[{"time":"09:00:00","commands":[{"command":"a","notify":-7}]}]`), 0o644)
	if src.reload() != nil {
		t.Fatalf("invalid file must not produce a schedule")
	}

	_ = afero.WriteFile(fs, "/s.json", []byte(`[{"time":"10:00:00","commands":[{"command":"a"}]}]`), 0o644)
	sched := src.reload()
	if sched == nil || sched.At(0).At != clock.MustNew(10, 0, 0) {
		t.Fatalf("changed file not picked up: %+v", sched)
	}
}

func TestEncodeScheduleJSON(t *testing.T) {
	t.Parallel()

	at := clock.MustNew(8, 5, 0)
	n := 0
	b, err := EncodeSchedule("s.json", []ScheduleItem{{Time: &at, Commands: []ScheduleCommand{{Command: "x", Notify: &n}}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"time": "08:05:00"`) || !strings.Contains(string(b), `"notify": 0`) {
		t.Fatalf("json=%s", b)
	}
}
