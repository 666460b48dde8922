package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcomp/internal/eventbus"
	"famcomp/pkg/logx"
)

type recordingSender struct {
	name string
	fail atomic.Int32 // fail this many sends first

	mu   sync.Mutex
	sent []Notification
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(_ context.Context, n Notification) error {
	if r.fail.Load() > 0 {
		r.fail.Add(-1)
		return errors.New("boom")
	}
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   16,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func startService(t *testing.T, cfg Config, senders ...Sender) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), nil, senders...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestDeliversToEverySender(t *testing.T) {
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b"}
	s := startService(t, testConfig(), a, b)

	require.NoError(t, s.Notify(context.Background(), Notification{Target: Target{Person: "person.alice"}, Tag: "dishes", Title: "Dishes"}))
	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRetriesFailedSend(t *testing.T) {
	a := &recordingSender{name: "a"}
	a.fail.Store(2)
	s := startService(t, testConfig(), a)

	require.NoError(t, s.Notify(context.Background(), Notification{Tag: "dishes"}))
	require.Eventually(t, func() bool { return a.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFailurePublishesEvent(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	a := &recordingSender{name: "a"}
	a.fail.Store(100)
	cfg := testConfig()
	cfg.RetryMax = 1
	s := New(cfg, logx.Nop(), bus, a)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Notify(context.Background(), Notification{Tag: "dishes"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.NotificationFailed {
				continue
			}
			data := ev.Data.(NotificationEvent)
			assert.Equal(t, "a", data.Sender)
			assert.Equal(t, "boom", data.Error)
			return
		case <-deadline:
			t.Fatal("no failure event")
		}
	}
}

func TestDedupSuppressesIdenticalRepeats(t *testing.T) {
	a := &recordingSender{name: "a"}
	s := startService(t, testConfig(), a)
	ctx := context.Background()

	show := Notification{Target: Target{Person: "person.alice"}, Tag: "dishes", Title: "Dishes"}
	require.NoError(t, s.Notify(ctx, show))
	require.NoError(t, s.Notify(ctx, show))
	// a clear then the same show again both differ from the previous payload
	require.NoError(t, s.Notify(ctx, Notification{Target: show.Target, Tag: "dishes", Clear: true}))
	require.NoError(t, s.Notify(ctx, show))
	// another person is a different slot
	require.NoError(t, s.Notify(ctx, Notification{Target: Target{Person: "person.bob"}, Tag: "dishes", Title: "Dishes"}))

	require.Eventually(t, func() bool { return a.count() == 4 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, a.count())
}

func TestNotifyStates(t *testing.T) {
	ctx := context.Background()

	disabled := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, disabled.Notify(ctx, Notification{}), ErrDisabled)

	idle := New(testConfig(), logx.Nop(), nil)
	assert.ErrorIs(t, idle.Notify(ctx, Notification{}), ErrStopped)

	idle.Start(ctx)
	idle.Stop(ctx)
	assert.ErrorIs(t, idle.Notify(ctx, Notification{}), ErrStopped)
}

func TestQueueFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SenderFunc{ID: "slow", Fn: func(ctx context.Context, _ Notification) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	s := startService(t, cfg, blocking)
	defer close(release)

	ctx := context.Background()
	var full bool
	for i := 0; i < 10 && !full; i++ {
		err := s.Notify(ctx, Notification{Tag: "t"})
		if errors.Is(err, ErrQueueFull) {
			full = true
		}
	}
	assert.True(t, full)
}

func TestPanickingSenderIsContained(t *testing.T) {
	bad := SenderFunc{ID: "bad", Fn: func(context.Context, Notification) error { panic("nope") }}
	good := &recordingSender{name: "good"}
	cfg := testConfig()
	cfg.RetryMax = 0
	s := startService(t, cfg, bad, good)

	require.NoError(t, s.Notify(context.Background(), Notification{Tag: "x"}))
	require.Eventually(t, func() bool { return good.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	d := retryDelay(cfg, 1)
	assert.GreaterOrEqual(t, d, 70*time.Millisecond)
	assert.LessOrEqual(t, d, 130*time.Millisecond)
}
