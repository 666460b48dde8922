package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage defaults to the file driver under ./famcomp_data when omitted.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Notifier defaults to enabled when the whole section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	HomeAssistant HomeAssistantConfig `json:"home_assistant"`
	Telegram      *TelegramConfig     `json:"telegram,omitempty"`
	HTTP          HTTPConfig          `json:"http"`

	// Locale selects notification wording ("en", "fr").
	Locale string `json:"locale,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards log lines at or above MinLevel to the Telegram chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the job scheduler.
//
// All durations are Go duration strings (e.g. "30m", "1h").
//
// Enabled is a pointer so we can distinguish "omitted" (enabled) from an
// explicit false.
//
// Defaults (when fields are omitted/zero):
//   - max_jobs: 100
//   - sweep_interval: "30m"
//   - lookahead: "1h"
//   - timezone: local
type SchedulerConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	MaxJobs       int    `json:"max_jobs,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
	Lookahead     string `json:"lookahead,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// StorageConfig controls state persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./famcomp_data/famcomp.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// FlushDelay coalesces bursts of state changes into one write.
	FlushDelay string `json:"flush_delay,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// DefaultNotifier mirrors the runtime defaults applied when the section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "5s",
		DedupMaxEntries: 2000,
	}
}

// HomeAssistantConfig points at the hub websocket API.
//
// Inside the add-on runtime URL and Token come from SUPERVISOR_URL and
// SUPERVISOR_TOKEN (see ApplyEnv).
type HomeAssistantConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	URL     string `json:"url,omitempty"`   // default: ws://supervisor/core/websocket
	Token   string `json:"token,omitempty"` // do not log

	// NotificationURL is opened when a mobile notification is tapped.
	NotificationURL string `json:"notification_url,omitempty"`

	RequestTimeout string `json:"request_timeout,omitempty"`
	ReconnectMax   string `json:"reconnect_max,omitempty"`
}

func (h HomeAssistantConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"` // default: ":8080"

	// Pprof mounts /debug/pprof on the API router.
	// Prefer binding Addr to localhost when enabling it.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}
