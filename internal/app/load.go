package app

import (
	"dayloop/internal/config"
	"dayloop/internal/schedule"
	logx "dayloop/pkg/logx"

	"github.com/spf13/afero"
)

// SchedulePath picks the schedule file: an explicit override, else
// scheduler.schedule_file resolved against the settings file directory.
func SchedulePath(settingsPath, override string, cfg *config.Config) string {
	if override != "" {
		return override
	}
	return config.ResolveSchedulePath(settingsPath, cfg.Scheduler.ScheduleFile)
}

// Loaded is a parsed settings file with its (unexpanded) schedule.
type Loaded struct {
	Config       *config.Config
	SchedulePath string
	Schedule     *schedule.Schedule
}

// Load reads the settings and schedule files without starting anything
// and without rewriting the schedule file.
func Load(settingsPath, schedulePath string, fs afero.Fs) (Loaded, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cfgm := config.NewConfigManager(settingsPath)
	cfgm.SetFs(fs)
	cfg, err := cfgm.Parse()
	if err != nil {
		return Loaded{}, err
	}
	path := SchedulePath(settingsPath, schedulePath, cfg)
	sched, _, err := config.NewScheduleSource(path, fs, logx.Nop()).Parse()
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{Config: cfg, SchedulePath: path, Schedule: sched}, nil
}
