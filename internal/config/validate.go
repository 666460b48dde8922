package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs the app cannot apply. ConfigManager.Watch uses it
// (through SetValidator) so a broken edit never replaces a working config.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.Scheduler.MaxJobs < 0 {
		errs = append(errs, errors.New("scheduler.max_jobs must be >= 0"))
	}
	errs = appendDurationErr(errs, "scheduler.sweep_interval", cfg.Scheduler.SweepInterval)
	errs = appendDurationErr(errs, "scheduler.lookahead", cfg.Scheduler.Lookahead)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		errs = appendDurationErr(errs, "storage.busy_timeout", s.BusyTimeout)
		errs = appendDurationErr(errs, "storage.flush_delay", s.FlushDelay)
	}

	if n := cfg.Notifier; n != nil {
		errs = appendDurationErr(errs, "notifier.retry_base", n.RetryBase)
		errs = appendDurationErr(errs, "notifier.retry_max_delay", n.RetryMaxDelay)
		errs = appendDurationErr(errs, "notifier.dedup_window", n.DedupWindow)
	}

	errs = appendDurationErr(errs, "home_assistant.request_timeout", cfg.HomeAssistant.RequestTimeout)
	errs = appendDurationErr(errs, "home_assistant.reconnect_max", cfg.HomeAssistant.ReconnectMax)

	if tg := cfg.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required when telegram is enabled"))
		}
		if tg.ChatID == 0 {
			errs = append(errs, errors.New("telegram.chat_id is required when telegram is enabled"))
		}
		errs = appendDurationErr(errs, "telegram.poll_timeout", tg.PollTimeout)
	}

	errs = appendDurationErr(errs, "http.read_timeout", cfg.HTTP.ReadTimeout)
	errs = appendDurationErr(errs, "http.write_timeout", cfg.HTTP.WriteTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Locale)) {
	case "", "en", "fr":
	default:
		errs = append(errs, fmt.Errorf("locale: unsupported %q", cfg.Locale))
	}

	return errors.Join(errs...)
}

func appendDurationErr(errs []error, path, raw string) []error {
	if _, err := ParseDurationField(path, raw); err != nil {
		return append(errs, err)
	}
	return errs
}
