package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"famcomp/internal/config"
	"famcomp/pkg/logx"
)

// restartSections cannot be applied to running components.
var restartSections = []string{"home_assistant", "http", "storage", "telegram"}

// startReload fans config hot reloads out to the live components.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig pushes the live-reloadable sections of newCfg into the
// running components. It returns the changed sections.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) []string {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return nil
	}

	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if slices.Contains(sections, "scheduler") {
		sc, err := mapSchedulerConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
		}
	}

	if slices.Contains(sections, "notifier") {
		prev := a.notif.Enabled()
		nc, err := mapNotifierConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(nc)
			switch {
			case prev && !nc.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(a.sup.Context(), 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prev && nc.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(a.sup.Context())
			}
		}
	}

	// locale and the hub notification url both feed the manager
	if slices.Contains(sections, "locale") || slices.Contains(sections, "home_assistant") {
		a.mgr.Apply(mapManagerConfig(newCfg))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	return sections
}
