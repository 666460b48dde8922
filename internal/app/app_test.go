package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcomp/internal/chore"
	"famcomp/internal/config"
	"famcomp/internal/storage"
	"famcomp/pkg/logx"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvSupervisorToken, config.EnvSupervisorURL, config.EnvStoragePath, "NOTIFY_SOCKET", "WATCHDOG_USEC"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir string, cfg map[string]any) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func baseConfig(dir string) map[string]any {
	return map[string]any{
		"logging":        map[string]any{"level": "ERROR"},
		"home_assistant": map[string]any{"enabled": false},
		"http":           map[string]any{"addr": "127.0.0.1:0"},
		"storage":        map[string]any{"driver": "file", "path": filepath.Join(dir, "state.json"), "flush_delay": "10ms"},
		"scheduler":      map[string]any{"timezone": "UTC"},
	}
}

func TestMapDefaults(t *testing.T) {
	cfg := &config.Config{}

	sc, err := mapSchedulerConfig(cfg)
	require.NoError(t, err)
	assert.True(t, sc.Enabled)
	assert.Equal(t, 30*time.Minute, sc.SweepInterval)
	assert.Equal(t, time.Hour, sc.Lookahead)

	st, flush, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "file", st.Driver)
	assert.Zero(t, flush)

	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, 5*time.Second, nc.DedupWindow)

	hc, reconnect, err := mapHomeAssistantConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws://supervisor/core/websocket", hc.URL)
	assert.Equal(t, defaultReconnectMax, reconnect)

	hs, err := mapHTTPConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddr, hs.Addr)

	assert.False(t, mapLogConfig(&config.Config{Logging: config.LoggingConfig{Chat: config.LoggingChat{Enabled: true}}}).Chat.Enabled,
		"chat logging needs telegram")
}

func TestValidateRejects(t *testing.T) {
	ctx := context.Background()
	for name, cfg := range map[string]*config.Config{
		"sweep":    {Scheduler: config.SchedulerConfig{SweepInterval: "soon"}},
		"timezone": {Scheduler: config.SchedulerConfig{Timezone: "Mars/Olympus"}},
		"notifier": {Notifier: &config.NotifierConfig{Enabled: true, Workers: -1}},
		"http":     {HTTP: config.HTTPConfig{ReadTimeout: "1 minute"}},
		"telegram": {Telegram: &config.TelegramConfig{Enabled: true}},
	} {
		assert.Error(t, validate(ctx, cfg), name)
	}
	assert.NoError(t, validate(ctx, &config.Config{}))
}

func TestAppLifecycle(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir))

	ctx := context.Background()
	a, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	a.st.Upsert(chore.Task{ID: "dishes", Label: "Dishes"})
	req := httptest.NewRequest(http.MethodPost, "/tasks/dishes/trigger", nil)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	require.NoError(t, err)
	defer store.Close()
	saved, err := store.LoadState(ctx)
	require.NoError(t, err)
	require.Len(t, saved.Tasks, 1)
	require.Len(t, saved.Tasks[0].Jobs, 1)
	assert.Nil(t, saved.Tasks[0].Jobs[0].CompletionDate)

	audit, err := store.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, "trigger", audit[0].Action)
}

func TestApplyConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir))

	ctx := context.Background()
	a, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopUnknown)
	}()

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Locale = "fr"
	newCfg.Scheduler.Timezone = "Europe/Paris"
	disabled := config.DefaultNotifier()
	disabled.Enabled = false
	newCfg.Notifier = &disabled

	sections := a.applyConfig(oldCfg, &newCfg)
	assert.Equal(t, []string{"locale", "notifier", "scheduler"}, sections)
	assert.False(t, a.notif.Enabled())
	assert.Equal(t, "Europe/Paris", a.sched.Snapshot().Timezone)

	assert.Empty(t, a.applyConfig(&newCfg, &newCfg))
}
