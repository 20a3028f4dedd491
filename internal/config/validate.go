package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "dayloop/pkg/logx"

	"github.com/robfig/cron/v3"
)

// CronParser accepts 5- and 6-field specs and descriptors such as @daily.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Durations holds the parsed duration fields of a Config.
type Durations struct {
	PollInterval time.Duration
	CatchUpGrace time.Duration
	TaskTimeout  time.Duration
	BusyTimeout  time.Duration
	Retention    time.Duration
}

// Durations parses every duration field. Empty poll interval and grace fall
// back to 1s and 1m.
func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.PollInterval, err = ParseDurationOrDefault("scheduler.poll_interval", c.Scheduler.PollInterval, time.Second); err != nil {
		return d, err
	}
	if d.CatchUpGrace, err = ParseDurationOrDefault("scheduler.catch_up_grace", c.Scheduler.CatchUpGrace, time.Minute); err != nil {
		return d, err
	}
	if d.TaskTimeout, err = ParseDurationField("executor.task_timeout", c.Executor.TaskTimeout); err != nil {
		return d, err
	}
	if d.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return d, err
	}
	if d.Retention, err = ParseDurationField("storage.retention", c.Storage.Retention); err != nil {
		return d, err
	}
	return d, nil
}

// Validate checks every field and returns all problems joined, each
// prefixed with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := c.Durations(); err != nil {
		errs = append(errs, err)
	}
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add("logging.file.path: required when logging.file.enabled")
	}

	if strings.TrimSpace(c.Scheduler.ScheduleFile) == "" {
		add("scheduler.schedule_file: required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Scheduler.MissedTick)) {
	case "", "catch_up", "skip":
	default:
		add("scheduler.missed_tick: %q (use catch_up or skip)", c.Scheduler.MissedTick)
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %w", err)
		}
	}

	if c.Executor.Workers < 0 {
		add("executor.workers: must be >= 0")
	}
	if c.Executor.QueueSize < 0 {
		add("executor.queue_size: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Actions.NotifyBackend)) {
	case "", "auto", "dbus", "osascript", "log":
	default:
		add("actions.notify_backend: %q (use auto, dbus, osascript or log)", c.Actions.NotifyBackend)
	}
	if c.Actions.NotifyRatePerSec < 0 {
		add("actions.notify_rate_per_sec: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path: required for driver %q", c.Storage.Driver)
		}
		if spec := strings.TrimSpace(c.Storage.PruneSchedule); spec != "" {
			if _, err := CronParser.Parse(spec); err != nil {
				add("storage.prune_schedule: %w", err)
			}
		}
	default:
		add("storage.driver: %q (use none, file or sqlite)", c.Storage.Driver)
	}

	if c.Diag.Enabled {
		addr := strings.TrimSpace(c.Diag.Addr)
		if addr == "" {
			add("diag.addr: required when diag.enabled")
		} else if !IsLoopbackAddr(addr) && strings.TrimSpace(c.Diag.Token) == "" {
			add("diag.token: required when diag.addr %q is not loopback", addr)
		}
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a host:port listen address binds only to loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
