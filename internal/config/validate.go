package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks bounds and that every duration field parses. It does not
// apply defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if u := strings.TrimSpace(cfg.Live.URL); u != "" {
		if pu, err := url.Parse(u); err != nil || (pu.Scheme != "ws" && pu.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("live.url: must be a ws:// or wss:// URL, got %q", u))
		}
	}
	if cfg.Live.DialAttempts < 0 {
		errs = append(errs, errors.New("live.dial_attempts must be >= 0"))
	}
	check("live.reconnect_interval", cfg.Live.ReconnectInterval)
	check("live.dial_backoff", cfg.Live.DialBackoff)
	check("live.ping_interval", cfg.Live.PingInterval)
	check("live.handshake_timeout", cfg.Live.HandshakeTimeout)

	if u := strings.TrimSpace(cfg.API.BaseURL); u != "" {
		if pu, err := url.Parse(u); err != nil || pu.Host == "" {
			errs = append(errs, fmt.Errorf("api.base_url: invalid URL %q", u))
		}
	}
	check("api.timeout", cfg.API.Timeout)

	check("pipeline.toast_window", cfg.Pipeline.ToastWindow)
	check("pipeline.toast_stale_after", cfg.Pipeline.ToastStaleAfter)
	if cfg.Pipeline.ToastMaxEntries < 0 {
		errs = append(errs, errors.New("pipeline.toast_max_entries must be >= 0"))
	}

	if cfg.Dashboard.PageSize < 0 {
		errs = append(errs, errors.New("dashboard.page_size must be >= 0"))
	}
	if cfg.Dashboard.LookbackDays < 0 {
		errs = append(errs, errors.New("dashboard.lookback_days must be >= 0"))
	}
	check("dashboard.min_loading", cfg.Dashboard.MinLoading)
	if tz := strings.TrimSpace(cfg.Dashboard.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("dashboard.timezone: invalid %q: %w", tz, err))
		}
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required when telegram.enabled=true"))
		}
		if cfg.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("telegram.chat_id is required when telegram.enabled=true"))
		}
	}
	check("telegram.timeout", cfg.Telegram.Timeout)

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.HistorySize < 0 {
			errs = append(errs, errors.New("notifier: workers, queue_size, rate_per_sec, retry_max and history_size must be >= 0"))
		}
		check("notifier.retry_base", n.RetryBase)
		check("notifier.retry_max_delay", n.RetryMaxDelay)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		check("storage.busy_timeout", s.BusyTimeout)
	}

	check("http.read_timeout", cfg.HTTP.ReadTimeout)
	check("http.idle_timeout", cfg.HTTP.IdleTimeout)
	check("http.shutdown_wait", cfg.HTTP.ShutdownWait)

	return errors.Join(errs...)
}
