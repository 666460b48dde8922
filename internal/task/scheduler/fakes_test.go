package scheduler

import (
	"sort"
	"sync"
	"time"

	"famcomp/internal/chore"
)

// fakeClock fires timers only from Advance, on the caller's goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves time forward by d, firing due timers in order with the
// clock set to each timer's deadline.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// pending returns live timers sorted by deadline.
func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// memStore is a minimal Store.
type memStore struct {
	mu    sync.Mutex
	tasks []chore.Task
}

func newMemStore(tasks ...chore.Task) *memStore { return &memStore{tasks: tasks} }

func (m *memStore) Tasks() []chore.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chore.Task, len(m.tasks))
	for i := range m.tasks {
		out[i] = m.tasks[i].Clone()
	}
	return out
}

func (m *memStore) Task(id string) (chore.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			return m.tasks[i].Clone(), true
		}
	}
	return chore.Task{}, false
}

func (m *memStore) Mutate(id string, fn func(t *chore.Task)) (chore.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			fn(&m.tasks[i])
			return m.tasks[i].Clone(), true
		}
	}
	return chore.Task{}, false
}

func (m *memStore) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

func (m *memStore) set(t chore.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == t.ID {
			m.tasks[i] = t
			return
		}
	}
	m.tasks = append(m.tasks, t)
}

type recordedStart struct {
	task chore.Task
	job  chore.Job
}

type recorder struct {
	mu     sync.Mutex
	starts []recordedStart
}

func (r *recorder) OnJobStarted(task chore.Task, job chore.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, recordedStart{task: task, job: job})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}
