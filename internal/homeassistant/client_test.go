package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcomp/internal/notifier"
	"famcomp/pkg/logx"
)

// fakeHub speaks enough of the Home Assistant websocket protocol for tests.
type fakeHub struct {
	t      *testing.T
	token  string
	states []EntityState
	srv    *httptest.Server

	mu       sync.Mutex
	received []map[string]any
	conn     *websocket.Conn
	writeMu  sync.Mutex
	accepted chan struct{}
}

func newFakeHub(t *testing.T, token string) *fakeHub {
	h := &fakeHub{t: t, token: token, accepted: make(chan struct{}, 4)}
	up := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		h.serve(conn)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/websocket"
}

func (h *fakeHub) write(conn *websocket.Conn, v any) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = conn.WriteJSON(v)
}

func (h *fakeHub) serve(conn *websocket.Conn) {
	h.write(conn, map[string]any{"type": "auth_required"})
	var auth map[string]any
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["access_token"] != h.token {
		h.write(conn, map[string]any{"type": "auth_invalid", "message": "bad token"})
		return
	}
	h.write(conn, map[string]any{"type": "auth_ok", "ha_version": "2024.1.0"})

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.accepted <- struct{}{}

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.mu.Lock()
		h.received = append(h.received, msg)
		h.mu.Unlock()

		id := msg["id"]
		switch msg["type"] {
		case "ping":
			h.write(conn, map[string]any{"id": id, "type": "pong"})
		case "get_states":
			h.write(conn, map[string]any{"id": id, "type": "result", "success": true, "result": h.states})
		case "call_service":
			if msg["service"] == "broken" {
				h.write(conn, map[string]any{"id": id, "type": "result", "success": false,
					"error": map[string]any{"code": "not_found", "message": "Service not found."}})
				continue
			}
			h.write(conn, map[string]any{"id": id, "type": "result", "success": true, "result": nil})
		default:
			h.write(conn, map[string]any{"id": id, "type": "result", "success": true, "result": nil})
		}
	}
}

func (h *fakeHub) push(eventType string, data any) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	require.NotNil(h.t, conn)
	h.write(conn, map[string]any{
		"id":   1,
		"type": "event",
		"event": map[string]any{
			"event_type": eventType,
			"data":       data,
			"context":    map[string]any{"id": "ctx", "user_id": "u1"},
		},
	})
}

func (h *fakeHub) messages(typ string) []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]any
	for _, m := range h.received {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (h *fakeHub) dropConn() {
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestAuthInvalid(t *testing.T) {
	hub := newFakeHub(t, "good")
	c := New(Config{URL: hub.url(), Token: "bad", RequestTimeout: time.Second}, logx.Nop())
	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrAuthInvalid)
	assert.Contains(t, err.Error(), "bad token")
}

func TestCallNotConnected(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/api/websocket"}, logx.Nop())
	_, err := c.Call(context.Background(), map[string]any{"type": "ping"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPersonsFromStates(t *testing.T) {
	hub := newFakeHub(t, "good")
	hub.states = []EntityState{
		{EntityID: "person.alice", State: "Home", Attributes: map[string]any{"friendly_name": "Alice", "user_id": "AZ"}},
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "person.bob", State: "not_home", Attributes: map[string]any{"friendly_name": "Bob"}},
	}
	c := New(Config{URL: hub.url(), Token: "good", RequestTimeout: time.Second}, logx.Nop())
	runClient(t, c)
	waitConnected(t, c)

	persons, err := c.Persons(context.Background())
	require.NoError(t, err)
	require.Len(t, persons, 2)
	assert.Equal(t, "person.alice", persons[0].ID)
	assert.Equal(t, "Alice", persons[0].Name)
	assert.Equal(t, "AZ", persons[0].InternalID)
	assert.True(t, persons[0].IsHome)
	assert.False(t, persons[1].IsHome)
}

func TestServiceErrorIsReturned(t *testing.T) {
	hub := newFakeHub(t, "good")
	c := New(Config{URL: hub.url(), Token: "good", RequestTimeout: time.Second}, logx.Nop())
	runClient(t, c)
	waitConnected(t, c)

	err := c.CallService(context.Background(), "notify", "broken", nil)
	var re *ResultError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "not_found", re.Code)
}

func TestEventsReachSubscribers(t *testing.T) {
	hub := newFakeHub(t, "good")
	c := New(Config{URL: hub.url(), Token: "good", RequestTimeout: time.Second}, logx.Nop())

	got := make(chan string, 1)
	require.NoError(t, c.Subscribe(context.Background(), EventTriggerTask, func(_ context.Context, ev Event) {
		var data struct {
			ID string `json:"id"`
		}
		if err := ev.Decode(&data); err == nil {
			got <- data.ID
		}
	}))

	runClient(t, c)
	waitConnected(t, c)
	require.Eventually(t, func() bool { return len(hub.messages("subscribe_events")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, EventTriggerTask, hub.messages("subscribe_events")[0]["event_type"])

	hub.push(EventTriggerTask, map[string]any{"id": "dishes"})
	select {
	case id := <-got:
		assert.Equal(t, "dishes", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRunReturnsOnDisconnectAndResubscribes(t *testing.T) {
	hub := newFakeHub(t, "good")
	c := New(Config{URL: hub.url(), Token: "good", RequestTimeout: time.Second}, logx.Nop())
	require.NoError(t, c.Subscribe(context.Background(), EventStateChanged, func(context.Context, Event) {}))

	var connects int
	var mu sync.Mutex
	c.OnConnect(func(context.Context) {
		mu.Lock()
		connects++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	<-hub.accepted
	require.Eventually(t, func() bool { return len(hub.messages("subscribe_events")) == 1 }, time.Second, 5*time.Millisecond)

	hub.dropConn()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after disconnect")
	}
	assert.False(t, c.Connected())

	go func() { done <- c.Run(ctx) }()
	<-hub.accepted
	require.Eventually(t, func() bool { return len(hub.messages("subscribe_events")) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSenderCallsMobileApp(t *testing.T) {
	hub := newFakeHub(t, "good")
	c := New(Config{URL: hub.url(), Token: "good", RequestTimeout: time.Second}, logx.Nop())
	runClient(t, c)
	waitConnected(t, c)

	s := NewSender(c)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, notifier.Notification{Tag: "dishes", Title: "household only"}))
	require.NoError(t, s.Send(ctx, notifier.Notification{
		Target:  notifier.Target{Person: "person.alice", Device: "alice"},
		Tag:     "dishes",
		Title:   "Dishes",
		Sticky:  true,
		Actions: []notifier.Action{{ID: "complete.dishes.j1.alice", Title: "Done"}},
	}))

	calls := hub.messages("call_service")
	require.Len(t, calls, 1)
	assert.Equal(t, "notify", calls[0]["domain"])
	assert.Equal(t, "mobile_app_alice", calls[0]["service"])

	b, err := json.Marshal(calls[0]["service_data"])
	require.NoError(t, err)
	var data ServiceData
	require.NoError(t, json.Unmarshal(b, &data))
	assert.Equal(t, "Dishes", data.Title)
	assert.Equal(t, "dishes", data.Data.Tag)
	assert.True(t, data.Data.Sticky)
	require.Len(t, data.Data.Actions, 1)
	assert.Equal(t, "complete.dishes.j1.alice", data.Data.Actions[0].Action)
}

func TestHeartbeat(t *testing.T) {
	hub := newFakeHub(t, "good")
	c := New(Config{URL: hub.url(), Token: "good", RequestTimeout: time.Second, PingInterval: 10 * time.Millisecond}, logx.Nop())
	runClient(t, c)
	require.Eventually(t, func() bool { return len(hub.messages("ping")) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Connected())
}
