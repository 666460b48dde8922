// Package telegram mirrors household chore notifications into one Telegram
// chat. Active tasks show up as a message with inline complete/cancel
// buttons; pressing a button feeds the same action string the hub would
// send back into the notification manager.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"famcomp/internal/notifier"
	rtsup "famcomp/internal/runtime/supervisor"
	"famcomp/pkg/logx"
	"famcomp/pkg/tgui"
)

const textLimit = 4000

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// ActionHandler receives a pressed button's action and the display name of
// the Telegram user who pressed it. The returned text is shown as the
// callback answer.
type ActionHandler func(ctx context.Context, action, from string) (string, error)

// bot is the part of *tele.Bot we use.
type bot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

type Adapter struct {
	cfg    Config
	log    logx.Logger
	tb     *tele.Bot
	api    bot
	tokens *tgui.TokenStore

	mu       sync.Mutex
	messages map[string]int // tag -> message id
	handler  ActionHandler

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := newAdapter(cfg, log, b)
	a.tb = b
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		from := ""
		if cb.Sender != nil {
			from = strings.TrimSpace(cb.Sender.FirstName + " " + cb.Sender.LastName)
			if from == "" {
				from = cb.Sender.Username
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.handleCallback(ctx, cb, from)
	})
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, api bot) *Adapter {
	return &Adapter{
		cfg:      cfg,
		log:      log,
		api:      api,
		tokens:   tgui.NewTokenStore(0, 0),
		messages: map[string]int{},
	}
}

// OnAction installs the button handler.
func (a *Adapter) OnAction(h ActionHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Start begins long polling for button presses.
func (a *Adapter) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil || a.tb == nil {
		return
	}
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
		rtsup.WithCancelOnError(false),
	)
	tb := a.tb
	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		tb.Stop()
	})
	// Start blocks until Stop; restart it if it returns early.
	a.sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		tb.Start()
		a.log.Info("polling stopped")
		return c.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
}

func (a *Adapter) Stop(ctx context.Context) {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.runMu.Unlock()
	if sup == nil {
		return
	}

	// keep shutdown snappy even if getUpdates is still long-polling
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) chat() *tele.Chat { return &tele.Chat{ID: a.cfg.ChatID} }

// Send mirrors household notifications. Person-targeted ones are skipped:
// the chat is shared.
func (a *Adapter) Send(ctx context.Context, n notifier.Notification) error {
	if !n.Target.Household() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	msgID, shown := a.messages[n.Tag]
	a.mu.Unlock()

	if n.Clear {
		if !shown {
			return nil
		}
		err := a.api.Delete(&tele.Message{ID: msgID, Chat: a.chat()})
		if err != nil && !errors.Is(err, tele.ErrNotFoundToDelete) {
			return err
		}
		a.forget(n.Tag, msgID)
		return nil
	}

	text := render(n)
	opts := &tele.SendOptions{
		ParseMode:   tele.ModeHTML,
		ThreadID:    a.cfg.ThreadID,
		ReplyMarkup: a.keyboard(n.Actions),
	}
	if shown {
		_, err := a.api.Edit(&tele.Message{ID: msgID, Chat: a.chat()}, text, opts)
		if err == nil || errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		a.log.Debug("edit failed, sending anew", logx.String("tag", n.Tag), logx.Err(err))
	}

	msg, err := a.api.Send(a.chat(), text, opts)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.messages[n.Tag] = msg.ID
	a.mu.Unlock()
	return nil
}

func (a *Adapter) forget(tag string, msgID int) {
	a.mu.Lock()
	if a.messages[tag] == msgID {
		delete(a.messages, tag)
	}
	a.mu.Unlock()
}

func render(n notifier.Notification) string {
	text := tgui.JoinH("\n", tgui.B(n.Title), tgui.Esc(n.Message)).String()
	if n.URL != "" {
		text += "\n" + tgui.I(n.URL).String()
	}
	return tgui.TruncRunes(text, textLimit)
}

func (a *Adapter) keyboard(actions []notifier.Action) *tele.ReplyMarkup {
	buttons := make([]tgui.Button, 0, len(actions))
	for _, act := range actions {
		data := act.ID
		if len(data) > tgui.MaxCallbackData || strings.HasPrefix(data, "~") {
			data = a.tokens.Put(act.ID)
		}
		buttons = append(buttons, tgui.Button{Text: act.Title, Data: data})
	}
	return tgui.Keyboard(2, buttons...)
}

func (a *Adapter) resolveAction(data string) (string, bool) {
	if strings.HasPrefix(data, "~") {
		return a.tokens.Get(data)
	}
	return data, data != ""
}

func (a *Adapter) handleCallback(ctx context.Context, cb *tele.Callback, from string) error {
	resp := &tele.CallbackResponse{}
	defer func() {
		if err := a.api.Respond(cb, resp); err != nil {
			a.log.Debug("callback answer failed", logx.Err(err))
		}
	}()

	action, ok := a.resolveAction(cb.Data)
	if !ok {
		resp.Text = "expired"
		return nil
	}

	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	if h == nil {
		return nil
	}

	text, err := h(ctx, action, from)
	if err != nil {
		a.log.Warn("telegram action failed", logx.String("action", action), logx.Err(err))
		resp.Text = err.Error()
		return nil
	}
	resp.Text = text
	return nil
}

// SendLog implements logx.ChatSink.
func (a *Adapter) SendLog(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.api.Send(a.chat(), tgui.TruncRunes(text, textLimit), &tele.SendOptions{
		ThreadID:              a.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	return err
}
