package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dayloop/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.journal", newCfg.Logging.Journal),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.schedule_file", newCfg.Scheduler.ScheduleFile),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.missed_tick", newCfg.Scheduler.MissedTick),
			logx.String("scheduler.catch_up_grace", strings.TrimSpace(newCfg.Scheduler.CatchUpGrace)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.Int("executor.workers", newCfg.Executor.Workers),
			logx.Int("executor.queue_size", newCfg.Executor.QueueSize),
			logx.String("executor.task_timeout", strings.TrimSpace(newCfg.Executor.TaskTimeout)),
			logx.Int("executor.history_size", newCfg.Executor.HistorySize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Actions, newCfg.Actions) {
		changed = append(changed, "actions")
		attrs = append(attrs,
			logx.String("actions.audio_player", strings.Join(newCfg.Actions.AudioPlayer, " ")),
			logx.String("actions.notify_backend", newCfg.Actions.NotifyBackend),
			logx.Int("actions.notify_rate_per_sec", newCfg.Actions.NotifyRatePerSec),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(newCfg.Storage.Retention)),
			logx.String("storage.prune_schedule", strings.TrimSpace(newCfg.Storage.PruneSchedule)),
		)
	}

	// never log the token itself
	if oldCfg.Diag.Enabled != newCfg.Diag.Enabled ||
		strings.TrimSpace(oldCfg.Diag.Addr) != strings.TrimSpace(newCfg.Diag.Addr) ||
		oldCfg.Diag.Token != newCfg.Diag.Token {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", newCfg.Diag.Enabled),
			logx.String("diag.addr", strings.TrimSpace(newCfg.Diag.Addr)),
			logx.Bool("diag.token_set", strings.TrimSpace(newCfg.Diag.Token) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}
