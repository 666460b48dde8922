package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"famcomp/internal/eventbus"
	rtsup "famcomp/internal/runtime/supervisor"
	"famcomp/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	n Notification
	// slot and sum are computed at enqueue time.
	slot string
	sum  uint64
}

type dedupEntry struct {
	sum   uint64
	until time.Time
}

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	bus     eventbus.Bus
	senders []Sender

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// slot (target|tag) -> last payload hash and suppress-until
	dmu   sync.Mutex
	dedup map[string]dedupEntry
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, senders ...Sender) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:   log,
		bus:   bus,
		dedup: map[string]dedupEntry{},
	}
	for _, sd := range senders {
		if sd != nil {
			s.senders = append(s.senders, sd)
		}
	}
	s.applyLocked(cfg)
	return s
}

// AddSender registers another delivery medium. Safe while running.
func (s *Service) AddSender(sd Sender) {
	if sd == nil {
		return
	}
	s.mu.Lock()
	s.senders = append(s.senders, sd)
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps limits. Queue size and worker count take effect on the next
// Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// burst = rate per sec, so a resync of the whole household does not stall
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("senders", len(s.sendersSnapshot())))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// in-flight enqueues first, then close so workers drain and exit
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify enqueues n. It returns nil for a deduplicated notification.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	j := job{n: n, slot: slotKey(n), sum: payloadHash(n)}
	if window > 0 && !s.dedupAllow(j.slot, j.sum, window, maxEntries) {
		s.log.Trace("notification deduplicated", logx.String("target", n.Target.Person), logx.String("tag", n.Tag))
		return nil
	}

	s.publish(eventbus.NotificationQueued, "", n, nil)

	select {
	case q <- j:
		return nil
	default:
		// let the next identical notification through
		s.forget(j.slot)
		s.publish(eventbus.NotificationDropped, "", n, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) publish(typ, sender string, n Notification, err error) {
	now := time.Now()
	ev := NotificationEvent{Sender: sender, Target: n.Target.Person, Tag: n.Tag, Clear: n.Clear, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) sendersSnapshot() []Sender {
	s.mu.Lock()
	out := append([]Sender(nil), s.senders...)
	s.mu.Unlock()
	return out
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			for _, sd := range s.sendersSnapshot() {
				s.sendWithRetry(ctx, sd, j)
			}
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, sd Sender, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		err := s.safeSend(callCtx, sd, j.n)
		cancel()
		if err == nil {
			s.publish(eventbus.NotificationSent, sd.Name(), j.n, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.String("sender", sd.Name()),
			logx.String("tag", j.n.Tag),
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
		)

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return
		}
	}

	// a later identical notification must not be swallowed by dedup
	s.forget(j.slot)
	s.log.Warn("notification failed", logx.String("sender", sd.Name()), logx.String("target", j.n.Target.Person), logx.String("tag", j.n.Tag), logx.Err(lastErr))
	s.publish(eventbus.NotificationFailed, sd.Name(), j.n, lastErr)
}

func (s *Service) safeSend(ctx context.Context, sd Sender, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender %s panic: %v", sd.Name(), r)
		}
	}()
	return sd.Send(ctx, n)
}

func slotKey(n Notification) string {
	return n.Target.Person + "|" + n.Tag
}

func payloadHash(n Notification) uint64 {
	h := fnv.New64a()
	write := func(v string) {
		_, _ = h.Write([]byte(v))
		_, _ = h.Write([]byte{0})
	}
	if n.Clear {
		write("clear")
		return h.Sum64()
	}
	write(n.Target.Device)
	write(n.Title)
	write(n.Message)
	write(n.URL)
	write(n.Channel)
	if n.Sticky {
		write("sticky")
	}
	for _, a := range n.Actions {
		write(a.ID)
		write(a.Title)
	}
	return h.Sum64()
}

// dedupAllow reports whether the notification differs from the last one
// sent to the same slot, or the window has passed.
func (s *Service) dedupAllow(slot string, sum uint64, window time.Duration, maxEntries int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()

	if e, ok := s.dedup[slot]; ok && e.sum == sum && now.Before(e.until) {
		return false
	}
	s.dedup[slot] = dedupEntry{sum: sum, until: now.Add(window)}

	for k, e := range s.dedup {
		if !now.Before(e.until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, e := range s.dedup {
			if minKey == "" || e.until.Before(minT) {
				minKey, minT = k, e.until
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

func (s *Service) forget(slot string) {
	s.dmu.Lock()
	delete(s.dedup, slot)
	s.dmu.Unlock()
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
