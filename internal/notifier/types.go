package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Target addresses one household member. A zero Target is the shared
// household channel (the Telegram chat).
type Target struct {
	Person string
	Name   string
	// Device is the mobile_app notify suffix; empty means no push device.
	Device string
}

func (t Target) Household() bool { return t.Person == "" }

// Action is a button on a notification. ID is the raw action string sent
// back by the hub or the chat when pressed.
type Action struct {
	ID    string
	Title string
}

// Notification is a show-or-clear instruction for the notification
// identified by (Target, Tag). Clear removes it; everything else is ignored.
type Notification struct {
	Target  Target
	Tag     string
	Title   string
	Message string
	Actions []Action
	Clear   bool
	Sticky  bool
	// Channel is the Android notification channel.
	Channel string
	URL     string
}

// Sender delivers notifications to one medium. Senders skip targets they
// cannot reach by returning nil.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc struct {
	ID string
	Fn func(ctx context.Context, n Notification) error
}

func (f SenderFunc) Name() string { return f.ID }

func (f SenderFunc) Send(ctx context.Context, n Notification) error { return f.Fn(ctx, n) }

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Sender string    `json:"sender,omitempty"`
	Target string    `json:"target,omitempty"`
	Tag    string    `json:"tag"`
	Clear  bool      `json:"clear,omitempty"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
