package config

import (
	"os"
	"strings"
)

// Environment variables set by the Home Assistant add-on runtime.
const (
	EnvSupervisorToken = "SUPERVISOR_TOKEN"
	EnvSupervisorURL   = "SUPERVISOR_URL"
	EnvStoragePath     = "STORAGE_PATH"
)

// ApplyEnv fills hub credentials and the storage path from the environment.
// Values already present in the file win, except STORAGE_PATH which the
// add-on runtime always owns.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvSupervisorToken)); v != "" && strings.TrimSpace(cfg.HomeAssistant.Token) == "" {
		cfg.HomeAssistant.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvSupervisorURL)); v != "" && strings.TrimSpace(cfg.HomeAssistant.URL) == "" {
		cfg.HomeAssistant.URL = supervisorWebsocketURL(v)
	}
	if v := strings.TrimSpace(getenv(EnvStoragePath)); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "file"}
		}
		cfg.Storage.Path = v
	}
}

// supervisorWebsocketURL accepts "host:port", "http://host/core" or a full ws URL.
func supervisorWebsocketURL(v string) string {
	switch {
	case strings.HasPrefix(v, "ws://"), strings.HasPrefix(v, "wss://"):
		return v
	case strings.HasPrefix(v, "http://"):
		v = "ws://" + strings.TrimPrefix(v, "http://")
	case strings.HasPrefix(v, "https://"):
		v = "wss://" + strings.TrimPrefix(v, "https://")
	default:
		v = "ws://" + v
	}
	return strings.TrimSuffix(v, "/") + "/websocket"
}
