package app

import (
	"time"

	"marketwire/internal/config"
	"marketwire/internal/dashboard"
	"marketwire/internal/dedup"
	"marketwire/internal/feed"
	"marketwire/internal/httpapi"
	"marketwire/internal/live"
	"marketwire/internal/notifier"
	"marketwire/internal/transport"
	"marketwire/internal/transport/telegram"
	logx "marketwire/pkg/logx"
)

// Config sections mapped to component configs. Each mapper assumes the
// config already passed config.Validate and only applies defaults.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func telegramTarget(cfg *config.Config) transport.Target {
	if !cfg.Telegram.Enabled {
		return transport.Target{}
	}
	return transport.Target{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		Target:  telegramTarget(cfg),
		Timeout: timeout,
	}, nil
}

func mapLiveConfig(cfg *config.Config) (live.Config, error) {
	out := live.Config{
		URL:          cfg.Live.URL,
		Token:        cfg.Live.Token,
		DialAttempts: cfg.Live.DialAttempts,
	}
	var err error
	if out.ReconnectInterval, err = config.ParseDurationField("live.reconnect_interval", cfg.Live.ReconnectInterval); err != nil {
		return live.Config{}, err
	}
	if out.DialBackoff, err = config.ParseDurationField("live.dial_backoff", cfg.Live.DialBackoff); err != nil {
		return live.Config{}, err
	}
	if out.PingInterval, err = config.ParseDurationField("live.ping_interval", cfg.Live.PingInterval); err != nil {
		return live.Config{}, err
	}
	if out.HandshakeTimeout, err = config.ParseDurationField("live.handshake_timeout", cfg.Live.HandshakeTimeout); err != nil {
		return live.Config{}, err
	}
	return out, nil
}

func mapFeedConfig(cfg *config.Config) (feed.Config, error) {
	timeout, err := config.ParseDurationOrDefault("api.timeout", cfg.API.Timeout, 15*time.Second)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: timeout,
	}, nil
}

func mapDedupConfig(cfg *config.Config) (dedup.Config, error) {
	window, err := config.ParseDurationField("pipeline.toast_window", cfg.Pipeline.ToastWindow)
	if err != nil {
		return dedup.Config{}, err
	}
	stale, err := config.ParseDurationField("pipeline.toast_stale_after", cfg.Pipeline.ToastStaleAfter)
	if err != nil {
		return dedup.Config{}, err
	}
	return dedup.Config{Window: window, StaleAfter: stale, MaxEntries: cfg.Pipeline.ToastMaxEntries}, nil
}

func mapDashboardConfig(cfg *config.Config) (dashboard.Config, error) {
	minLoading, err := config.ParseDurationField("dashboard.min_loading", cfg.Dashboard.MinLoading)
	if err != nil {
		return dashboard.Config{}, err
	}
	return dashboard.Config{
		PageSize:        cfg.Dashboard.PageSize,
		MinLoading:      minLoading,
		RefreshSchedule: cfg.Dashboard.RefreshSchedule,
		Timezone:        cfg.Dashboard.Timezone,
		LookbackDays:    cfg.Dashboard.LookbackDays,
		Industry:        cfg.Dashboard.Industry,
	}, nil
}

// mapNotifierConfig also reports whether toasts go to the console.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, bool, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{Enabled: true}, true, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, false, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, false, err
	}
	console := nc.Console == nil || *nc.Console
	return notifier.Config{
		Enabled:       nc.IsEnabled(),
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		HistorySize:   nc.HistorySize,
	}, console, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.ServerConfig, error) {
	read, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	return httpapi.ServerConfig{
		Enabled:       cfg.HTTP.Enabled,
		Addr:          cfg.HTTP.Addr,
		Token:         cfg.HTTP.Token,
		AllowInsecure: cfg.HTTP.AllowInsecure,
		Pprof:         cfg.HTTP.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

func shutdownWait(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("http.shutdown_wait", cfg.HTTP.ShutdownWait, 2*time.Second)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
