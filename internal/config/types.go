package config

// Config is the settings file. Every field is optional; Default fills the
// gaps. Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor"`
	Actions   ActionsConfig   `json:"actions"`
	Storage   StorageConfig   `json:"storage"`
	Diag      DiagConfig      `json:"diag"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Journal bool        `json:"journal"` // systemd journal sink
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the poll loop and the schedule file.
//
// A relative schedule_file is resolved against the settings file directory.
type SchedulerConfig struct {
	ScheduleFile    string `json:"schedule_file"`
	PollInterval    string `json:"poll_interval"`
	MissedTick      string `json:"missed_tick"` // catch_up | skip
	CatchUpGrace    string `json:"catch_up_grace"`
	WriteBackSorted bool   `json:"write_back_sorted"`
	Timezone        string `json:"timezone,omitempty"` // IANA TZ, empty means Local
}

// ExecutorConfig controls the worker pool that runs fired slots.
type ExecutorConfig struct {
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	TaskTimeout string `json:"task_timeout"` // "0s" disables the timeout
	HistorySize int    `json:"history_size"`
}

type ActionsConfig struct {
	// AudioPlayer is the player argv; the file path is appended. Empty
	// means detect (paplay, pw-play, ffplay, aplay, afplay).
	AudioPlayer      []string `json:"audio_player,omitempty"`
	NotifyBackend    string   `json:"notify_backend"` // auto | dbus | osascript | log
	NotifyRatePerSec int      `json:"notify_rate_per_sec"`
	AppName          string   `json:"app_name"`
}

// StorageConfig controls the run history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dayloop.sqlite", "retention": "720h" }
type StorageConfig struct {
	Driver        string `json:"driver"` // none | file | sqlite
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite only
	Retention     string `json:"retention"`              // "0s" keeps everything
	PruneSchedule string `json:"prune_schedule"`         // cron spec or descriptor
}

// DiagConfig controls the diagnostics HTTP server (/metrics, /healthz, pprof).
//
// Prefer a loopback address. A non-loopback address requires a token.
type DiagConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // bearer token, never logged
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// Default returns the settings used when no file is given and the base that
// a settings file is decoded onto.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			ScheduleFile:    "schedule.yaml",
			PollInterval:    "1s",
			MissedTick:      "catch_up",
			CatchUpGrace:    "1m",
			WriteBackSorted: true,
		},
		Executor: ExecutorConfig{
			Workers:     2,
			QueueSize:   64,
			TaskTimeout: "1m",
			HistorySize: 200,
		},
		Actions: ActionsConfig{
			NotifyBackend:    "auto",
			NotifyRatePerSec: 3,
			AppName:          "dayloop",
		},
		Storage: StorageConfig{
			Driver:        "none",
			Retention:     "720h",
			PruneSchedule: "@daily",
		},
		Diag:    DiagConfig{Addr: "127.0.0.1:6060"},
		Systemd: SystemdConfig{Notify: true},
	}
}
