package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"dayloop/internal/clock"
	"dayloop/internal/schedule"
	logx "dayloop/pkg/logx"

	"github.com/spf13/afero"
	yaml "go.yaml.in/yaml/v3"
)

// ScheduleItem is one entry of the schedule file:
//
//	- time: {hour: 9, minute: 0, second: 0}   # or "09:00:00"
//	  commands:
//	    - command: /usr/bin/backup
//	      parameters: --quick
//	      notify: 30
type ScheduleItem struct {
	Time     *clock.TimeOfDay  `json:"time" yaml:"time"`
	Commands []ScheduleCommand `json:"commands" yaml:"commands"`
}

// ScheduleCommand is one command of an item. Notify is -1 (off) when absent,
// 0 for a reminder at start, n > 0 for a reminder n seconds before.
type ScheduleCommand struct {
	Command    string `json:"command" yaml:"command"`
	Parameters string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Audio      bool   `json:"audio,omitempty" yaml:"audio,omitempty"`
	Notify     *int   `json:"notify,omitempty" yaml:"notify,omitempty"`
}

// ResolveSchedulePath resolves a relative schedule file against the
// directory of the settings file.
func ResolveSchedulePath(settingsPath, scheduleFile string) string {
	scheduleFile = strings.TrimSpace(scheduleFile)
	if scheduleFile == "" || filepath.IsAbs(scheduleFile) || settingsPath == "" {
		return scheduleFile
	}
	return filepath.Join(filepath.Dir(settingsPath), scheduleFile)
}

// DecodeSchedule decodes a YAML or JSON schedule file (a top-level list of
// items) without validating it.
func DecodeSchedule(path string, b []byte) ([]ScheduleItem, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return nil, fmt.Errorf("schedule file %s: use YAML or JSON (TOML has no top-level list)", path)
	}
	var items []ScheduleItem
	if err := decodeInto(path, b, &items); err != nil {
		return nil, fmt.Errorf("schedule file %s: %w", path, err)
	}
	return items, nil
}

// BuildSchedule validates items and builds the (unexpanded) schedule.
// All problems are reported, each with its field path.
func BuildSchedule(items []ScheduleItem) (*schedule.Schedule, error) {
	var errs []error
	slots := make([]schedule.Slot, 0, len(items))
	for i, it := range items {
		if it.Time == nil {
			errs = append(errs, fmt.Errorf("schedule[%d].time: required", i))
			continue
		}
		slot := schedule.Slot{At: *it.Time, Commands: make([]schedule.Command, 0, len(it.Commands))}
		for j, c := range it.Commands {
			prog := strings.TrimSpace(c.Command)
			if prog == "" {
				errs = append(errs, fmt.Errorf("schedule[%d].commands[%d].command: required", i, j))
				continue
			}
			n := -1
			if c.Notify != nil {
				n = *c.Notify
			}
			lead, err := schedule.LeadFromNotify(n)
			if err != nil {
				errs = append(errs, fmt.Errorf("schedule[%d].commands[%d].notify: %w", i, j, err))
				continue
			}
			slot.Commands = append(slot.Commands, schedule.Command{
				Program: prog,
				Params:  c.Parameters,
				Audio:   c.Audio,
				Lead:    lead,
			})
		}
		slots = append(slots, slot)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return schedule.New(slots)
}

// SortItems returns items stably sorted by time and whether the order changed.
func SortItems(items []ScheduleItem) ([]ScheduleItem, bool) {
	out := append([]ScheduleItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time == nil || out[j].Time == nil {
			return false
		}
		return out[i].Time.Before(*out[j].Time)
	})
	for i := range out {
		if out[i].Time != items[i].Time {
			return out, true
		}
	}
	return out, false
}

// EncodeSchedule renders items in the format implied by path's extension.
func EncodeSchedule(path string, items []ScheduleItem) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(items)
	default:
		b, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}

// writeFileAtomic writes via a sibling temp file and rename.
func writeFileAtomic(fs afero.Fs, path string, b []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, b, 0o644); err != nil {
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// ScheduleSource loads the schedule file and reloads it on change.
type ScheduleSource struct {
	path      string
	fs        afero.Fs
	log       logx.Logger
	writeBack atomic.Bool

	mu       sync.Mutex
	lastHash uint64
}

func NewScheduleSource(path string, fs afero.Fs, log logx.Logger) *ScheduleSource {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ScheduleSource{path: path, fs: fs, log: log}
}

func (s *ScheduleSource) Path() string { return s.path }

// SetWriteBack controls whether an unsorted file is rewritten sorted on load.
func (s *ScheduleSource) SetWriteBack(on bool) { s.writeBack.Store(on) }

// Parse reads and validates the file without side effects.
func (s *ScheduleSource) Parse() (*schedule.Schedule, []ScheduleItem, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule file: %w", err)
	}
	items, err := DecodeSchedule(s.path, b)
	if err != nil {
		return nil, nil, err
	}
	sched, err := BuildSchedule(items)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule file %s: %w", s.path, err)
	}
	return sched, items, nil
}

// Load parses the file, rewrites it sorted when enabled and needed, and
// records its content hash for Watch.
func (s *ScheduleSource) Load() (*schedule.Schedule, error) {
	sched, items, err := s.Parse()
	if err != nil {
		return nil, err
	}
	s.commit(items)
	return sched, nil
}

func (s *ScheduleSource) commit(items []ScheduleItem) {
	sorted, moved := SortItems(items)
	s.mu.Lock()
	s.lastHash = hashJSON(sorted)
	s.mu.Unlock()

	if !moved || !s.writeBack.Load() {
		return
	}
	b, err := EncodeSchedule(s.path, sorted)
	if err == nil {
		err = writeFileAtomic(s.fs, s.path, b)
	}
	if err != nil {
		s.log.Warn("schedule write-back failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.log.Info("schedule file rewritten in time order", logx.String("path", s.path), logx.Int("items", len(sorted)))
}

// reload returns the new schedule, or nil when the file is invalid or its
// content (after sorting) is unchanged.
func (s *ScheduleSource) reload() *schedule.Schedule {
	sched, items, err := s.Parse()
	if err != nil {
		s.log.Warn("schedule reload failed; keeping current schedule", logx.String("path", s.path), logx.Err(err))
		return nil
	}
	sorted, _ := SortItems(items)
	h := hashJSON(sorted)
	s.mu.Lock()
	unchanged := h != 0 && h == s.lastHash
	s.mu.Unlock()
	if unchanged {
		s.log.Debug("schedule unchanged; skipping", logx.String("path", s.path))
		return nil
	}
	s.commit(items)
	return sched
}

// Watch calls onChange with every valid, changed schedule until ctx is done.
func (s *ScheduleSource) Watch(ctx context.Context, onChange func(*schedule.Schedule)) error {
	return WatchFile(ctx, s.path, s.log.With(logx.String("watch", "schedule")), func() {
		if sched := s.reload(); sched != nil {
			onChange(sched)
		}
	})
}
