package homeassistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected = errors.New("home assistant not connected")
	ErrAuthInvalid  = errors.New("home assistant rejected the access token")
)

// Event types the service listens to or fires.
const (
	EventStateChanged       = "state_changed"
	EventNotificationAction = "mobile_app_notification_action"
	EventTriggerTask        = "trigger_task"

	EventTaskTriggered = "task_triggered"
	EventTaskCompleted = "task_completed"
	EventTaskCanceled  = "task_canceled"
)

type Config struct {
	// URL is the websocket endpoint, e.g. ws://supervisor/core/websocket.
	URL            string
	Token          string
	RequestTimeout time.Duration
	// PingInterval <= 0 disables heartbeats.
	PingInterval time.Duration
}

// Event is a hub event delivered to subscribers.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
	Context   struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
	} `json:"context"`
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty event data", e.EventType)
	}
	return json.Unmarshal(e.Data, v)
}

// ResultError is a failed command result.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("home assistant: %s: %s", e.Code, e.Message)
}

// EntityState is one entry of get_states.
type EntityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (s EntityState) StringAttr(key string) string {
	v, _ := s.Attributes[key].(string)
	return v
}

// StateChange is the payload of state_changed.
type StateChange struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

// inbound is any message read from the socket.
type inbound struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *ResultError    `json:"error"`
	Event   *Event          `json:"event"`
	Message string          `json:"message"`
	Version string          `json:"ha_version"`
}

type reply struct {
	result json.RawMessage
	err    error
}
