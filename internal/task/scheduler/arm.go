package scheduler

import (
	"time"

	"famcomp/internal/chore"
	"famcomp/pkg/logx"
)

// Evaluation starts one second past now so an occurrence equal to the
// current minute that is already firing is not armed twice.
const armEpsilon = time.Second

// nextFireLocked returns the task's next occurrence inside
// (now+epsilon, now+lookahead+epsilon], seconds and sub-seconds zeroed.
// ok is false when nothing falls inside the window.
func (s *Service) nextFireLocked(expr string, now time.Time) (at time.Time, ok bool, err error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, false, err
	}
	from := now.In(s.loc).Add(armEpsilon)
	next := sched.Next(from)
	if next.IsZero() || next.After(from.Add(s.cfg.Lookahead)) {
		return time.Time{}, false, nil
	}
	return next.Truncate(time.Minute), true, nil
}

// armLocked arms a one-shot timer for t unless it has no cron, is already
// armed, or has no occurrence in the lookahead window. Call with s.mu held.
func (s *Service) armLocked(t *chore.Task) {
	if !t.HasSchedule() {
		return
	}
	if _, ok := s.armed[t.ID]; ok {
		return
	}

	now := s.clock.Now()
	at, ok, err := s.nextFireLocked(t.Cron, now)
	if err != nil {
		s.log.Debug("skipping task; invalid cron", logx.String("task", t.ID), logx.String("cron", t.Cron), logx.Err(err))
		return
	}
	if !ok {
		s.log.Debug("skipping task; no occurrence within lookahead", logx.String("task", t.ID))
		return
	}

	delay := max(at.Sub(now), 0)
	s.gen++
	gen := s.gen
	id := t.ID
	timer := s.clock.AfterFunc(delay, func() { s.fire(id, gen) })
	s.armed[id] = armedTimer{timer: timer, gen: gen, fireAt: at}

	s.log.Debug("task armed",
		logx.String("task", id),
		logx.Time("at", at),
		logx.Duration("delay", delay),
	)
}

// fire runs when an armed timer elapses. A stale generation means the timer
// was canceled or replaced after it was already scheduled to run.
func (s *Service) fire(id string, gen uint64) {
	s.mu.Lock()
	a, ok := s.armed[id]
	if !ok || a.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.armed, id)
	s.mu.Unlock()

	// Re-read from the store: the task may have been edited or deleted
	// since it was armed.
	if _, ok := s.store.Task(id); !ok {
		s.log.Debug("armed task no longer exists; dropping fire", logx.String("task", id))
		return
	}

	if _, created := s.TriggerTask(id); !created {
		return
	}

	task, ok := s.store.Task(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !ok {
		return
	}
	s.log.Debug("rescheduling task", logx.String("task", id))
	s.armLocked(&task)
}
