package config

import (
	"reflect"
	"sort"
	"strings"

	"famcomp/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Tokens are never included, only whether
// they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.max_jobs", newCfg.Scheduler.MaxJobs),
			logx.String("scheduler.sweep_interval", strings.TrimSpace(newCfg.Scheduler.SweepInterval)),
			logx.String("scheduler.lookahead", strings.TrimSpace(newCfg.Scheduler.Lookahead)),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	// nil means runtime defaults.
	def := DefaultNotifier()
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = &def
	}
	if newN == nil {
		newN = &def
	}
	if *oldN != *newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
		)
	}

	oldH, newH := oldCfg.HomeAssistant, newCfg.HomeAssistant
	if oldH.IsEnabled() != newH.IsEnabled() ||
		strings.TrimSpace(oldH.URL) != strings.TrimSpace(newH.URL) ||
		oldH.Token != newH.Token ||
		oldH.NotificationURL != newH.NotificationURL ||
		oldH.RequestTimeout != newH.RequestTimeout ||
		oldH.ReconnectMax != newH.ReconnectMax {
		changed = append(changed, "home_assistant")
		attrs = append(attrs,
			logx.Bool("home_assistant.enabled", newH.IsEnabled()),
			logx.String("home_assistant.url", strings.TrimSpace(newH.URL)),
			logx.Bool("home_assistant.token_set", strings.TrimSpace(newH.Token) != ""),
			logx.Bool("home_assistant.notification_url_set", newH.NotificationURL != ""),
		)
	}

	oldT, newT := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if oldT != newT {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newT.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newT.Token) != ""),
			logx.Bool("telegram.chat_set", newT.ChatID != 0),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newT.PollTimeout)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Locale), strings.TrimSpace(newCfg.Locale)) {
		changed = append(changed, "locale")
		attrs = append(attrs, logx.String("locale", newCfg.Locale))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}
