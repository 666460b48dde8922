package scheduler

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcomp/internal/chore"
	"famcomp/internal/eventbus"
	"famcomp/pkg/logx"
)

var fixedNow = time.Date(2023, 1, 1, 9, 12, 25, 456_000_000, time.UTC)

type harness struct {
	clock *fakeClock
	store *memStore
	rec   *recorder
	svc   *Service
}

func newHarness(t *testing.T, tasks ...chore.Task) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(fixedNow),
		store: newMemStore(tasks...),
		rec:   &recorder{},
	}
	seq := 0
	h.svc = New(Config{Enabled: true, Timezone: "UTC"}, Deps{
		Store: h.store,
		Clock: h.clock,
		IDs: func() string {
			seq++
			return "job-" + strconv.Itoa(seq)
		},
		Log: logx.Nop(),
	})
	h.svc.Subscribe(h.rec)
	t.Cleanup(h.svc.Stop)
	return h
}

// taskDelays returns the delays of pending task timers (the sweep excluded).
func (h *harness) taskDelays() []time.Duration {
	var out []time.Duration
	for _, t := range h.clock.pending() {
		if t.delay == DefaultSweepInterval {
			continue
		}
		out = append(out, t.delay)
	}
	return out
}

func cronTask(id, expr string) chore.Task {
	return chore.Task{ID: id, Label: id, Cron: expr}
}

func TestStartArmsOneTimerPerScheduledTask(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"), cronTask("t2", "0/10 * * * *"), chore.Task{ID: "manual"})
	h.svc.Start()

	want := 7*time.Minute + 34*time.Second + 544*time.Millisecond
	assert.Equal(t, []time.Duration{want, want}, h.taskDelays())

	snap := h.svc.Snapshot()
	require.Len(t, snap.Armed, 2)
	assert.Equal(t, "t1", snap.Armed[0].TaskID)
	assert.Equal(t, time.Date(2023, 1, 1, 9, 20, 0, 0, time.UTC), snap.Armed[0].FireAt)
	assert.True(t, snap.Running)
	assert.Equal(t, fixedNow.Add(DefaultSweepInterval), snap.NextSweep)
}

func TestTaskWithoutCronIsNeverArmed(t *testing.T) {
	h := newHarness(t, chore.Task{ID: "manual", Label: "Manual"})
	h.svc.Start()
	for i := 0; i < 5; i++ {
		h.svc.Sweep()
		h.clock.Advance(DefaultSweepInterval)
	}
	assert.Empty(t, h.svc.Snapshot().Armed)
	assert.Zero(t, h.rec.count())
	task, _ := h.store.Task("manual")
	assert.Empty(t, task.Jobs)
}

func TestSkipsOccurrenceBeyondLookahead(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, cronTask("t1", "0 10 10 * *"))
	h.svc.log = logx.NewJSON(&buf, "DEBUG")
	h.svc.Start()

	assert.Empty(t, h.taskDelays())
	assert.Empty(t, h.svc.Snapshot().Armed)
	assert.Contains(t, buf.String(), "no occurrence within lookahead")
	assert.Contains(t, buf.String(), `"task":"t1"`)
}

func TestInvalidCronStaysUnarmed(t *testing.T) {
	h := newHarness(t, cronTask("bad", "every tuesday"), cronTask("ok", "*/5 * * * *"))
	h.svc.Start()

	snap := h.svc.Snapshot()
	require.Len(t, snap.Armed, 1)
	assert.Equal(t, "ok", snap.Armed[0].TaskID)
}

func TestFireCreatesJobNotifiesAndRearms(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	h := newHarness(t, cronTask("t1", "0/10 * * * *"))
	h.svc.bus = bus
	h.svc.Start()

	h.clock.Advance(7*time.Minute + 34*time.Second + 544*time.Millisecond)

	task, ok := h.store.Task("t1")
	require.True(t, ok)
	require.Len(t, task.Jobs, 1)
	job := task.Jobs[0]
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, time.Date(2023, 1, 1, 9, 20, 0, 0, time.UTC), job.Date)
	assert.Empty(t, job.Participations)
	assert.Nil(t, job.CompletionDate)

	require.Equal(t, 1, h.rec.count())
	assert.Equal(t, "t1", h.rec.starts[0].task.ID)
	assert.Equal(t, job.ID, h.rec.starts[0].job.ID)
	require.Len(t, h.rec.starts[0].task.Jobs, 1, "observer sees the job already inserted")

	ev := <-events
	assert.Equal(t, eventbus.JobStarted, ev.Type)

	// re-armed for the following occurrence
	snap := h.svc.Snapshot()
	require.Len(t, snap.Armed, 1)
	assert.Equal(t, time.Date(2023, 1, 1, 9, 30, 0, 0, time.UTC), snap.Armed[0].FireAt)
	assert.Equal(t, []time.Duration{10 * time.Minute}, h.taskDelays())
}

func TestFireOnActiveTaskIsNoop(t *testing.T) {
	active := cronTask("t1", "0/10 * * * *")
	active.Jobs = []chore.Job{{ID: "open", Date: fixedNow.Add(-time.Hour)}}
	h := newHarness(t, active)
	h.svc.Start()

	h.clock.Advance(8 * time.Minute)

	task, _ := h.store.Task("t1")
	require.Len(t, task.Jobs, 1)
	assert.Equal(t, "open", task.Jobs[0].ID)
	assert.Zero(t, h.rec.count())
	assert.Empty(t, h.svc.Snapshot().Armed, "not re-armed until the next sweep")

	// resolved in the meantime: the sweep picks it up again
	_, _, _, err := h.svc.CancelJob("t1", "open")
	require.NoError(t, err)
	h.clock.Advance(DefaultSweepInterval)
	assert.Len(t, h.svc.Snapshot().Armed, 1)
}

func TestTriggerTwiceWithoutCompletion(t *testing.T) {
	h := newHarness(t, chore.Task{ID: "dishes", Label: "Dishes"})

	job, ok := h.svc.TriggerTask("dishes")
	require.True(t, ok)
	assert.Equal(t, "job-1", job.ID)

	_, ok = h.svc.TriggerTask("dishes")
	assert.False(t, ok)

	task, _ := h.store.Task("dishes")
	assert.Len(t, task.Jobs, 1)
	assert.Equal(t, 1, h.rec.count())
}

func TestTriggerDisabledTaskCreatesJob(t *testing.T) {
	off := false
	task := chore.Task{ID: "t", Active: &off, Jobs: []chore.Job{{ID: "stale"}}}
	h := newHarness(t, task)

	_, ok := h.svc.TriggerTask("t")
	require.True(t, ok)
	got, _ := h.store.Task("t")
	assert.Len(t, got.Jobs, 2)
}

func TestTriggerUnknownTask(t *testing.T) {
	h := newHarness(t)
	_, ok := h.svc.TriggerTask("ghost")
	assert.False(t, ok)
	assert.Zero(t, h.rec.count())
}

func TestTriggerCapsHistory(t *testing.T) {
	task := chore.Task{ID: "t"}
	at := fixedNow.Add(-time.Hour)
	for i := 0; i < 100; i++ {
		task.Jobs = append(task.Jobs, chore.Job{ID: "old" + strconv.Itoa(i), CompletionDate: &at})
	}
	h := newHarness(t, task)

	job, ok := h.svc.TriggerTask("t")
	require.True(t, ok)

	got, _ := h.store.Task("t")
	require.Len(t, got.Jobs, 100)
	assert.Equal(t, job.ID, got.Jobs[0].ID)
	assert.Equal(t, "old98", got.Jobs[99].ID)
	assert.Equal(t, 1, h.rec.count())
}

func TestStaleTaskFireIsDropped(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"))
	h.svc.Start()
	require.Len(t, h.svc.Snapshot().Armed, 1)

	// deleted behind the scheduler's back (no Update call)
	h.store.remove("t1")
	h.clock.Advance(10 * time.Minute)

	assert.Zero(t, h.rec.count())
	assert.Empty(t, h.svc.Snapshot().Armed)
}

func TestFireReresolvesTaskFromStore(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"))
	h.svc.Start()

	edited := cronTask("t1", "0/10 * * * *")
	edited.Label = "Renamed"
	h.store.set(edited)

	h.clock.Advance(10 * time.Minute)
	require.Equal(t, 1, h.rec.count())
	assert.Equal(t, "Renamed", h.rec.starts[0].task.Label)
}

func TestUpdateCancelsAndRearms(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"))
	h.svc.Start()

	h.store.set(cronTask("t1", "15 9 * * *"))
	h.svc.Update("t1")

	snap := h.svc.Snapshot()
	require.Len(t, snap.Armed, 1)
	assert.Equal(t, time.Date(2023, 1, 1, 9, 15, 0, 0, time.UTC), snap.Armed[0].FireAt)
	assert.Equal(t, []time.Duration{2*time.Minute + 34*time.Second + 544*time.Millisecond}, h.taskDelays())
}

func TestUpdateDeletedTaskLeavesNoTimer(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"))
	h.svc.Start()

	h.store.remove("t1")
	h.svc.Update("t1")
	h.svc.Sweep()

	assert.Empty(t, h.svc.Snapshot().Armed)
	assert.Empty(t, h.taskDelays())
	h.clock.Advance(time.Hour)
	assert.Zero(t, h.rec.count())
}

func TestCanceledTimerNeverFires(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"))
	h.svc.Start()

	pending := h.clock.pending()
	var cb func()
	for _, p := range pending {
		if p.delay != DefaultSweepInterval {
			cb = p.f
		}
	}
	require.NotNil(t, cb)

	// the callback was already handed to the runtime when Update ran
	h.svc.Update("t1")
	cb()

	assert.Zero(t, h.rec.count())
	task, _ := h.store.Task("t1")
	assert.Empty(t, task.Jobs)
}

func TestSweepArmsTasksEnteringTheWindow(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0 11 * * *"))
	h.svc.Start()
	assert.Empty(t, h.svc.Snapshot().Armed)

	// sweeps at 09:42 and 10:12; the second one sees 11:00 within an hour
	h.clock.Advance(time.Hour)

	snap := h.svc.Snapshot()
	require.Len(t, snap.Armed, 1)
	assert.Equal(t, time.Date(2023, 1, 1, 11, 0, 0, 0, time.UTC), snap.Armed[0].FireAt)
}

func TestStopDisarmsEverything(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"), cronTask("t2", "*/5 * * * *"))
	h.svc.Start()
	require.Len(t, h.svc.Snapshot().Armed, 2)

	h.svc.Stop()
	assert.Empty(t, h.clock.pending())
	assert.False(t, h.svc.Snapshot().Running)

	h.clock.Advance(2 * time.Hour)
	assert.Zero(t, h.rec.count())
}

func TestDisabledSchedulerDoesNotArm(t *testing.T) {
	h := newHarness(t, cronTask("t1", "0/10 * * * *"))
	h.svc.Apply(Config{Enabled: false, Timezone: "UTC"})
	h.svc.Start()

	assert.Empty(t, h.clock.pending())

	// manual triggers still work
	_, ok := h.svc.TriggerTask("t1")
	assert.True(t, ok)
}

func TestApplyTimezoneChangeRearms(t *testing.T) {
	h := newHarness(t, cronTask("t1", "30 10 * * *"))
	h.svc.Start()
	assert.Empty(t, h.svc.Snapshot().Armed, "10:30 UTC is beyond the lookahead")

	// 09:12 UTC is 10:12 in Paris; 10:30 Paris is 09:30 UTC
	h.svc.Apply(Config{Enabled: true, Timezone: "Europe/Paris"})
	snap := h.svc.Snapshot()
	require.Len(t, snap.Armed, 1)
	assert.True(t, snap.Armed[0].FireAt.Equal(time.Date(2023, 1, 1, 9, 30, 0, 0, time.UTC)))
}

func TestPanickingObserverIsIsolated(t *testing.T) {
	h := newHarness(t, chore.Task{ID: "t"})
	h.svc.Subscribe(ObserverFunc(func(chore.Task, chore.Job) { panic("boom") }))
	after := &recorder{}
	h.svc.Subscribe(after)

	_, ok := h.svc.TriggerTask("t")
	require.True(t, ok)
	assert.Equal(t, 1, h.rec.count())
	assert.Equal(t, 1, after.count())
}

func TestObserversGetCopies(t *testing.T) {
	h := newHarness(t, chore.Task{ID: "t"})
	h.svc.Subscribe(ObserverFunc(func(task chore.Task, job chore.Job) {
		task.Jobs[0].Participations = append(task.Jobs[0].Participations, chore.Participation{Person: "mallory"})
	}))
	_, ok := h.svc.TriggerTask("t")
	require.True(t, ok)

	got, _ := h.store.Task("t")
	assert.Empty(t, got.Jobs[0].Participations)
}

func TestCompleteCancelParticipate(t *testing.T) {
	h := newHarness(t, chore.Task{ID: "t"})
	job, ok := h.svc.TriggerTask("t")
	require.True(t, ok)

	_, got, err := h.svc.Participate("t", job.ID, "person.bob", "dried")
	require.NoError(t, err)
	assert.Nil(t, got.CompletionDate)

	first := h.clock.Now()
	_, got, resolved, err := h.svc.CompleteJob("t", job.ID, "person.alice")
	require.NoError(t, err)
	assert.True(t, resolved)
	require.NotNil(t, got.CompletionDate)
	assert.Equal(t, first, *got.CompletionDate)
	assert.Len(t, got.Participations, 2)

	h.clock.Advance(time.Minute)
	task, got, resolved, err := h.svc.CompleteJob("t", job.ID, "person.alice")
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, first, *got.CompletionDate)
	assert.Len(t, got.Participations, 2)
	assert.False(t, chore.IsTaskActive(&task))

	_, _, resolved, err = h.svc.CancelJob("t", job.ID)
	require.NoError(t, err)
	assert.False(t, resolved, "already completed")

	_, _, _, err = h.svc.CancelJob("t", "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, _, _, err = h.svc.CompleteJob("ghost", job.ID, "person.alice")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.False(t, errors.Is(err, ErrJobNotFound))
}
