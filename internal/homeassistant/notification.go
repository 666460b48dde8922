package homeassistant

import (
	"context"

	"famcomp/internal/notifier"
)

// Notification channels understood by the companion app.
const (
	ChannelDefault  = "default"
	ChannelCritical = "critical"
	ChannelAction   = "action"
)

// ClearMessage is the companion app's magic message removing the
// notification with the same tag.
const ClearMessage = "clear_notification"

type notificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// notificationData is the companion app "data" block. Android opens
// clickAction, iOS opens url.
type notificationData struct {
	Tag         string               `json:"tag,omitempty"`
	Persistent  bool                 `json:"persistent,omitempty"`
	Sticky      bool                 `json:"sticky,omitempty"`
	Channel     string               `json:"channel,omitempty"`
	Importance  string               `json:"importance,omitempty"`
	URL         string               `json:"url,omitempty"`
	ClickAction string               `json:"clickAction,omitempty"`
	Actions     []notificationAction `json:"actions,omitempty"`
}

// ServiceData is the notify.mobile_app_* call payload.
type ServiceData struct {
	Title   string           `json:"title,omitempty"`
	Message string           `json:"message"`
	Data    notificationData `json:"data"`
}

// MobileNotification builds the notify service name and payload for n.
func MobileNotification(n notifier.Notification) (service string, data ServiceData) {
	service = "mobile_app_" + n.Target.Device
	data.Data.Tag = n.Tag
	if n.Clear {
		data.Message = ClearMessage
		return service, data
	}

	data.Title = n.Title
	data.Message = n.Message
	data.Data.Persistent = n.Sticky
	data.Data.Sticky = n.Sticky
	data.Data.Channel, data.Data.Importance = channelMode(n.Channel)
	if n.URL != "" {
		data.Data.URL = n.URL
		data.Data.ClickAction = n.URL
	}
	for _, a := range n.Actions {
		data.Data.Actions = append(data.Data.Actions, notificationAction{Action: a.ID, Title: a.Title})
	}
	return service, data
}

func channelMode(ch string) (channel, importance string) {
	switch ch {
	case ChannelCritical:
		return "FC_Critical", "max"
	case ChannelAction:
		return "FC_Action", "min"
	default:
		return "General", "high"
	}
}

// Sender pushes notifications to person devices through mobile_app.
type Sender struct {
	client *Client
}

func NewSender(c *Client) *Sender { return &Sender{client: c} }

func (s *Sender) Name() string { return "homeassistant" }

func (s *Sender) Send(ctx context.Context, n notifier.Notification) error {
	if n.Target.Household() || n.Target.Device == "" {
		return nil
	}
	service, data := MobileNotification(n)
	return s.client.CallService(ctx, "notify", service, data)
}
