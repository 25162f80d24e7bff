package config

// Config is the daemon's whole configuration. Unknown keys are rejected
// at decode time so typos surface on reload instead of silently falling
// back to defaults.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig locates the alert database.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "500ms", "2s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls scheduling policy.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - past_due_limit: "30m"
//   - max_render_duration: "1h"
//   - background_pause: "10s"
type SchedulerConfig struct {
	PastDueLimit      string `json:"past_due_limit,omitempty"`
	MaxRenderDuration string `json:"max_render_duration,omitempty"`
	BackgroundPause   string `json:"background_pause,omitempty"`
	VolumeRamp        bool   `json:"volume_ramp,omitempty"`
}

// MaintenanceConfig controls the background janitor.
//
// PruneSchedule is a cron expression; PruneAge is how old a parked
// offline stop event must be before the janitor drops it.
type MaintenanceConfig struct {
	Enabled       bool   `json:"enabled"`
	PruneSchedule string `json:"prune_schedule,omitempty"` // default: "@hourly"
	PruneAge      string `json:"prune_age,omitempty"`      // default: "72h"
}
