package app

import (
	"strings"

	"dayloop/internal/config"
	"dayloop/internal/dispatch"
	"dayloop/internal/observability/diag"
	"dayloop/internal/storage"
	"dayloop/internal/task/engine"
	"dayloop/internal/task/scheduler"
	logx "dayloop/pkg/logx"
)

// Config mapping from the settings file onto component configs. Settings
// are validated on load, so parse errors here only surface for configs
// built by hand.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Journal: cfg.Logging.Journal,
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        true,
		Workers:        cfg.Executor.Workers,
		QueueSize:      cfg.Executor.QueueSize,
		DefaultTimeout: d.TaskTimeout,
		HistorySize:    cfg.Executor.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return scheduler.Config{}, err
	}
	policy, err := scheduler.ParseMissedTick(cfg.Scheduler.MissedTick)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		PollInterval: d.PollInterval,
		MissedTick:   policy,
		CatchUpGrace: d.CatchUpGrace,
		Timezone:     strings.TrimSpace(cfg.Scheduler.Timezone),
	}, nil
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{AppName: strings.TrimSpace(cfg.Actions.AppName)}
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	return diag.Config{
		Enabled: cfg.Diag.Enabled,
		Addr:    strings.TrimSpace(cfg.Diag.Addr),
		Token:   strings.TrimSpace(cfg.Diag.Token),
	}
}

// mapStorageConfig returns the store config and whether storage is enabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	d, err := cfg.Durations()
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: d.BusyTimeout,
	}, true, nil
}
