package state

import (
	"context"
	"time"

	"famcomp/internal/storage"
	"famcomp/pkg/logx"
)

const DefaultFlushDelay = 500 * time.Millisecond

// Persister writes store snapshots to a storage backend, coalescing bursts
// of changes into one write per FlushDelay.
type Persister struct {
	store   *Store
	backend storage.Store
	delay   time.Duration
	log     logx.Logger

	kick chan struct{}
}

func NewPersister(store *Store, backend storage.Store, delay time.Duration, log logx.Logger) *Persister {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	p := &Persister{
		store:   store,
		backend: backend,
		delay:   delay,
		log:     log,
		kick:    make(chan struct{}, 1),
	}
	store.OnChange(p.Notify)
	return p
}

// Notify schedules a flush. It never blocks.
func (p *Persister) Notify() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Flush writes the current snapshot now.
func (p *Persister) Flush(ctx context.Context) error {
	start := time.Now()
	snap := p.store.Snapshot()
	if err := p.backend.SaveState(ctx, snap); err != nil {
		return err
	}
	p.log.Debug("state flushed", logx.Int("tasks", len(snap.Tasks)), logx.Duration("took", time.Since(start)))
	return nil
}

// Run flushes after each burst of changes until ctx is done, then flushes
// once more if anything is pending.
func (p *Persister) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if pending {
				fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := p.Flush(fctx); err != nil {
					p.log.Error("final state flush failed", logx.Err(err))
				}
			}
			return nil
		case <-p.kick:
			if pending {
				continue
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(p.delay)
			} else {
				timer.Reset(p.delay)
			}
			timerC = timer.C
		case <-timerC:
			pending = false
			timerC = nil
			if err := p.Flush(ctx); err != nil {
				p.log.Error("state flush failed", logx.Err(err))
				// retry on the next change
			}
		}
	}
}
