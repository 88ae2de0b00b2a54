package config

import (
	"reflect"
	"sort"
	"strings"

	logx "marketwire/pkg/logx"
)

// RestartSections are sections whose changes only take effect after a restart.
var RestartSections = map[string]bool{
	"live":    true,
	"api":     true,
	"storage": true,
	"http":    true,
}

// SummarizeChange returns the sorted list of changed sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(redactLive(oldCfg.Live), redactLive(newCfg.Live)) {
		changed = append(changed, "live")
		attrs = append(attrs,
			logx.String("live.url", strings.TrimSpace(newCfg.Live.URL)),
			logx.Bool("live.token_set", strings.TrimSpace(newCfg.Live.Token) != ""),
		)
	}

	if strings.TrimSpace(oldCfg.API.BaseURL) != strings.TrimSpace(newCfg.API.BaseURL) ||
		strings.TrimSpace(oldCfg.API.Timeout) != strings.TrimSpace(newCfg.API.Timeout) ||
		(oldCfg.API.Token != "") != (newCfg.API.Token != "") {
		changed = append(changed, "api")
		attrs = append(attrs, logx.String("api.base_url", strings.TrimSpace(newCfg.API.BaseURL)))
	}

	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.String("pipeline.toast_window", newCfg.Pipeline.ToastWindow),
			logx.Int("pipeline.toast_max_entries", newCfg.Pipeline.ToastMaxEntries),
		)
	}

	if oldCfg.Dashboard != newCfg.Dashboard {
		changed = append(changed, "dashboard")
		attrs = append(attrs,
			logx.Int("dashboard.page_size", newCfg.Dashboard.PageSize),
			logx.String("dashboard.refresh_schedule", newCfg.Dashboard.RefreshSchedule),
		)
	}

	if oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled ||
		oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		strings.TrimSpace(oldCfg.Telegram.Timeout) != strings.TrimSpace(newCfg.Telegram.Timeout) ||
		(oldCfg.Telegram.Token != "") != (newCfg.Telegram.Token != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
		)
	}

	// A nil notifier section means runtime defaults.
	oldN, newN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.IsEnabled()),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func redactLive(l LiveConfig) LiveConfig {
	if l.Token != "" {
		l.Token = "set"
	}
	return l
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	var out NotifierConfig
	if n != nil {
		out = *n
	}
	on := n.IsEnabled()
	out.Enabled = &on
	return out
}
