// Package homeassistant talks to a Home Assistant instance over its
// websocket API: authentication, id-correlated commands, event
// subscriptions, and mobile_app push notifications.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"famcomp/pkg/logx"
)

// EventHandler runs on the client's dispatch goroutine, never on the read
// loop, so it may issue commands.
type EventHandler func(ctx context.Context, ev Event)

// Client keeps one authenticated connection at a time. Run drives a single
// connection lifetime; callers restart it (supervisor.GoRestart) to
// reconnect. Subscriptions survive reconnects.
type Client struct {
	cfg    Config
	log    logx.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	nextID    int64
	pending   map[int64]chan reply
	handlers  map[string][]EventHandler
	onConnect []func(ctx context.Context)

	writeMu sync.Mutex
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		log:      log,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		pending:  map[int64]chan reply{},
		handlers: map[string][]EventHandler{},
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// OnConnect registers fn to run after every successful authentication,
// once subscriptions are restored.
func (c *Client) OnConnect(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

// Subscribe registers h for eventType. When connected, the subscription is
// sent right away; otherwise on the next connection.
func (c *Client) Subscribe(ctx context.Context, eventType string, h EventHandler) error {
	if h == nil {
		return nil
	}
	c.mu.Lock()
	first := len(c.handlers[eventType]) == 0
	c.handlers[eventType] = append(c.handlers[eventType], h)
	connected := c.conn != nil
	c.mu.Unlock()

	if !first || !connected {
		return nil
	}
	return c.subscribeEvents(ctx, eventType)
}

func (c *Client) subscribeEvents(ctx context.Context, eventType string) error {
	_, err := c.Call(ctx, map[string]any{"type": "subscribe_events", "event_type": eventType})
	return err
}

// Run dials, authenticates and reads until the connection drops or ctx is
// done. It returns ErrAuthInvalid for a rejected token.
func (c *Client) Run(ctx context.Context) error {
	url := strings.TrimSpace(c.cfg.URL)
	if url == "" {
		return errors.New("home assistant url is empty")
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	version, err := c.authenticate(conn)
	if err != nil {
		return err
	}
	c.log.Info("home assistant connected", logx.String("url", url), logx.String("version", version))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// unblock ReadJSON on shutdown
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	events := make(chan Event, 64)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		c.dispatch(connCtx, events)
	}()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.afterConnect(connCtx)
	if c.cfg.PingInterval > 0 {
		go c.heartbeat(connCtx, conn)
	}

	err = c.readLoop(connCtx, conn, events)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = map[int64]chan reply{}
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- reply{err: ErrNotConnected}
	}

	cancel()
	close(events)
	<-dispatchDone

	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.log.Warn("home assistant connection lost", logx.Err(err))
	return err
}

func (c *Client) authenticate(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return "", fmt.Errorf("auth: %w", err)
		}
		switch msg.Type {
		case "auth_required":
			c.log.Debug("sending home assistant auth")
			if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.cfg.Token}); err != nil {
				return "", fmt.Errorf("auth: %w", err)
			}
		case "auth_ok":
			return msg.Version, nil
		case "auth_invalid":
			if msg.Message != "" {
				return "", fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
			}
			return "", ErrAuthInvalid
		default:
			return "", fmt.Errorf("auth: unexpected message %q", msg.Type)
		}
	}
}

func (c *Client) afterConnect(ctx context.Context) {
	c.mu.Lock()
	types := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		types = append(types, t)
	}
	hooks := append([]func(context.Context){}, c.onConnect...)
	c.mu.Unlock()
	sort.Strings(types)

	for _, t := range types {
		if err := c.subscribeEvents(ctx, t); err != nil {
			c.log.Error("subscribe failed", logx.String("event", t), logx.Err(err))
		}
	}
	for _, fn := range hooks {
		c.safe(ctx, "on_connect", func(ctx context.Context) { fn(ctx) })
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.Call(ctx, map[string]any{"type": "ping"}); err != nil && ctx.Err() == nil {
				c.log.Warn("home assistant heartbeat failed", logx.Err(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- Event) error {
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case "result", "pong":
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if !ok {
				continue
			}
			r := reply{result: msg.Result}
			if msg.Type == "result" && !msg.Success {
				r.err = msg.Error
				if msg.Error == nil {
					r.err = &ResultError{Code: "unknown_error", Message: "command failed"}
				}
			}
			ch <- r
		case "event":
			if msg.Event == nil {
				continue
			}
			select {
			case events <- *msg.Event:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			c.log.Trace("ignored home assistant message", logx.String("type", msg.Type))
		}
	}
}

func (c *Client) dispatch(ctx context.Context, events <-chan Event) {
	for ev := range events {
		c.mu.Lock()
		hs := append([]EventHandler(nil), c.handlers[ev.EventType]...)
		c.mu.Unlock()
		for _, h := range hs {
			c.safe(ctx, ev.EventType, func(ctx context.Context) { h(ctx, ev) })
		}
	}
}

func (c *Client) safe(ctx context.Context, what string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("home assistant handler panic", logx.String("event", what), logx.Any("panic", r))
		}
	}()
	fn(ctx)
}

// Call sends msg with a fresh id and waits for its result.
func (c *Client) Call(ctx context.Context, msg map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	out := make(map[string]any, len(msg)+1)
	for k, v := range msg {
		out[k] = v
	}
	out["id"] = id

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	err := conn.WriteJSON(out)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(id)
		return nil, fmt.Errorf("send %v: %w", msg["type"], err)
	}

	t := time.NewTimer(c.cfg.RequestTimeout)
	defer t.Stop()
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	case <-t.C:
		c.drop(id)
		return nil, fmt.Errorf("%v: %w", msg["type"], context.DeadlineExceeded)
	}
}

func (c *Client) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) CallService(ctx context.Context, domain, service string, data any) error {
	msg := map[string]any{"type": "call_service", "domain": domain, "service": service}
	if data != nil {
		msg["service_data"] = data
	}
	_, err := c.Call(ctx, msg)
	return err
}

func (c *Client) FireEvent(ctx context.Context, eventType string, data any) error {
	msg := map[string]any{"type": "fire_event", "event_type": eventType}
	if data != nil {
		msg["event_data"] = data
	}
	_, err := c.Call(ctx, msg)
	return err
}

func (c *Client) States(ctx context.Context) ([]EntityState, error) {
	raw, err := c.Call(ctx, map[string]any{"type": "get_states"})
	if err != nil {
		return nil, err
	}
	var out []EntityState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	return out, nil
}
