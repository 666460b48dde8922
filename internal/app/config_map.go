package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"famcomp/internal/config"
	"famcomp/internal/homeassistant"
	"famcomp/internal/notifier"
	"famcomp/internal/notify"
	"famcomp/internal/storage"
	"famcomp/internal/task/scheduler"
	"famcomp/internal/transport/telegram"
	"famcomp/pkg/logx"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultReconnectMax = 30 * time.Second
	hubPingInterval     = 30 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && telegramEnabled(cfg),
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep_interval", sc.SweepInterval, scheduler.DefaultSweepInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	lookahead, err := config.ParseDurationOrDefault("scheduler.lookahead", sc.Lookahead, scheduler.DefaultLookahead)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:       sc.IsEnabled(),
		MaxJobs:       sc.MaxJobs,
		SweepInterval: sweep,
		Lookahead:     lookahead,
		Timezone:      strings.TrimSpace(sc.Timezone),
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, time.Duration, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "file"}, 0, nil
	}
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, 0, err
	}
	flush, err := config.ParseDurationField("storage.flush_delay", sc.FlushDelay)
	if err != nil {
		return storage.Config{}, 0, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, flush, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier()
	if cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: workers, queue_size and rate_per_sec must be >= 0")
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedup,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

func mapHomeAssistantConfig(cfg *config.Config) (homeassistant.Config, time.Duration, error) {
	hc := cfg.HomeAssistant
	timeout, err := config.ParseDurationOrDefault("home_assistant.request_timeout", hc.RequestTimeout, 10*time.Second)
	if err != nil {
		return homeassistant.Config{}, 0, err
	}
	reconnectMax, err := config.ParseDurationOrDefault("home_assistant.reconnect_max", hc.ReconnectMax, defaultReconnectMax)
	if err != nil {
		return homeassistant.Config{}, 0, err
	}
	url := strings.TrimSpace(hc.URL)
	if url == "" {
		url = "ws://supervisor/core/websocket"
	}
	return homeassistant.Config{
		URL:            url,
		Token:          strings.TrimSpace(hc.Token),
		RequestTimeout: timeout,
		PingInterval:   hubPingInterval,
	}, reconnectMax, nil
}

func telegramEnabled(cfg *config.Config) bool {
	return cfg.Telegram != nil && cfg.Telegram.Enabled
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(tc.Token),
		ChatID:      tc.ChatID,
		ThreadID:    tc.ThreadID,
		PollTimeout: poll,
	}, nil
}

func mapManagerConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Locale:          strings.TrimSpace(cfg.Locale),
		NotificationURL: strings.TrimSpace(cfg.HomeAssistant.NotificationURL),
	}
}

type httpSettings struct {
	Addr         string
	Pprof        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpSettings{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpSettings{}, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	return httpSettings{Addr: addr, Pprof: hc.Pprof, ReadTimeout: read, WriteTimeout: write}, nil
}

// validate runs the static checks plus everything the mappers reject, so a
// hot reload is refused before it is committed.
func validate(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(ctx, cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapHomeAssistantConfig(cfg); err != nil {
		return err
	}
	if telegramEnabled(cfg) {
		if _, err := mapTelegramConfig(cfg); err != nil {
			return err
		}
	}
	_, err := mapHTTPConfig(cfg)
	return err
}
