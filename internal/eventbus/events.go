package eventbus

import "famcomp/internal/chore"

const (
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobCanceled  = "job.canceled"

	NotificationQueued  = "notifier.queued"
	NotificationSent    = "notifier.sent"
	NotificationFailed  = "notifier.failed"
	NotificationDropped = "notifier.dropped"
)

// Sources of operator actions.
const (
	SourceScheduler     = "scheduler"
	SourceHTTP          = "http"
	SourceHomeAssistant = "homeassistant"
	SourceTelegram      = "telegram"
)

// JobEvent is the payload of the job.* events. Task and Job are copies.
type JobEvent struct {
	Task   chore.Task `json:"task"`
	Job    chore.Job  `json:"job"`
	Person string     `json:"person,omitempty"`
	Source string     `json:"source,omitempty"`
}
