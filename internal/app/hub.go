package app

import (
	"context"
	"strings"

	"famcomp/internal/eventbus"
	"famcomp/internal/homeassistant"
	"famcomp/internal/notify"
	"famcomp/pkg/logx"
)

type triggerTaskData struct {
	ID string `json:"id"`
}

type notificationActionData struct {
	Action string `json:"action"`
}

// wireHub routes hub events into the manager and refreshes the person list
// on every (re)connection.
func wireHub(ctx context.Context, hub *homeassistant.Client, mgr *notify.Manager, log logx.Logger) {
	hub.OnConnect(func(ctx context.Context) {
		persons, err := hub.Persons(ctx)
		if err != nil {
			log.Warn("fetching persons failed", logx.Err(err))
			return
		}
		mgr.UpdatePersons(ctx, persons)
	})

	subscribe := func(eventType string, h homeassistant.EventHandler) {
		if err := hub.Subscribe(ctx, eventType, h); err != nil {
			log.Warn("subscribe failed", logx.String("event", eventType), logx.Err(err))
		}
	}

	subscribe(homeassistant.EventStateChanged, func(ctx context.Context, ev homeassistant.Event) {
		entityID, home, ok := homeassistant.ParseStateChange(ev)
		if !ok {
			return
		}
		mgr.SetPresence(ctx, entityID, home)
	})

	subscribe(homeassistant.EventNotificationAction, func(ctx context.Context, ev homeassistant.Event) {
		var data notificationActionData
		if err := ev.Decode(&data); err != nil {
			log.Warn("bad notification action event", logx.Err(err))
			return
		}
		action := strings.TrimSpace(data.Action)
		if action == "" {
			return
		}
		// actions of other integrations share this event
		if _, err := notify.ParseAction(action); err != nil {
			log.Trace("ignoring foreign notification action", logx.String("action", action))
			return
		}
		if _, err := mgr.HandleAction(ctx, action, eventbus.SourceHomeAssistant, ev.Context.UserID); err != nil {
			log.Debug("notification action failed", logx.String("action", action), logx.Err(err))
		}
	})

	subscribe(homeassistant.EventTriggerTask, func(ctx context.Context, ev homeassistant.Event) {
		var data triggerTaskData
		if err := ev.Decode(&data); err != nil || strings.TrimSpace(data.ID) == "" {
			log.Warn("bad trigger_task event", logx.Err(err))
			return
		}
		if _, _, err := mgr.Trigger(ctx, strings.TrimSpace(data.ID), eventbus.SourceHomeAssistant); err != nil {
			log.Info("trigger_task ignored", logx.String("task", data.ID), logx.Err(err))
		}
	})
}
