package config

// Config is the on-disk shape of marketwire's configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Live      LiveConfig      `json:"live"`
	API       APIConfig       `json:"api"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Dashboard DashboardConfig `json:"dashboard"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`

	// Notifier may be omitted; it then defaults to enabled with a console sink.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	// Storage may be omitted; preferences then live in memory only.
	Storage *StorageConfig `json:"storage,omitempty"`
}

// LiveConfig controls the websocket connection to the announcement server.
//
// Defaults (when fields are omitted/zero):
//   - reconnect_interval: "2s"
//   - dial_attempts: 3
//   - dial_backoff: "500ms"
//   - ping_interval: "25s"
//   - handshake_timeout: "10s"
type LiveConfig struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"` // bearer token (do not log)

	ReconnectInterval string `json:"reconnect_interval,omitempty"`
	DialAttempts      int    `json:"dial_attempts,omitempty"`
	DialBackoff       string `json:"dial_backoff,omitempty"`
	PingInterval      string `json:"ping_interval,omitempty"`
	HandshakeTimeout  string `json:"handshake_timeout,omitempty"`
}

// APIConfig points at the REST backend serving announcements, prices and companies.
type APIConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default "15s"
}

// PipelineConfig tunes the toast suppression cache.
type PipelineConfig struct {
	ToastWindow     string `json:"toast_window,omitempty"`      // default "30s"
	ToastStaleAfter string `json:"toast_stale_after,omitempty"` // default "1m"
	ToastMaxEntries int    `json:"toast_max_entries,omitempty"` // 0 = unbounded
}

// DashboardConfig controls the announcement list.
type DashboardConfig struct {
	PageSize int `json:"page_size,omitempty"` // default 15
	// MinLoading is the minimum time a load stays in the loading state.
	MinLoading string `json:"min_loading,omitempty"` // default "500ms"
	// RefreshSchedule is an optional cron spec (seconds optional), e.g. "0 */5 * * * *".
	RefreshSchedule string `json:"refresh_schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	// LookbackDays sets the default date range when none is chosen. 0 means no range.
	LookbackDays int `json:"lookback_days,omitempty"`
	Industry     string `json:"industry,omitempty"`
}

// NotifierConfig controls the async toast delivery queue.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"` // default true
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	HistorySize   int    `json:"history_size,omitempty"`
	Console       *bool  `json:"console,omitempty"` // default true
}

// IsEnabled reports whether toasts are on. Only an explicit false turns
// them off.
func (n *NotifierConfig) IsEnabled() bool {
	return n == nil || n.Enabled == nil || *n.Enabled
}

// StorageConfig controls the preferences/watchlist store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./marketwire.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TelegramConfig enables the optional Telegram sink for toasts and logs.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the local control API.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:8787"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof.
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	ShutdownWait string `json:"shutdown_wait,omitempty"`
}
