package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcomp/internal/chore"
	"famcomp/internal/notifier"
	"famcomp/internal/state"
	"famcomp/internal/storage"
	"famcomp/internal/task/scheduler"
	"famcomp/pkg/logx"
)

type outbox struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (o *outbox) Notify(_ context.Context, n notifier.Notification) error {
	o.mu.Lock()
	o.sent = append(o.sent, n)
	o.mu.Unlock()
	return nil
}

func (o *outbox) take() []notifier.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.sent
	o.sent = nil
	return out
}

// find returns the last notification for (person, tag).
func find(ns []notifier.Notification, person, tag string) (notifier.Notification, bool) {
	for i := len(ns) - 1; i >= 0; i-- {
		if ns[i].Target.Person == person && ns[i].Tag == tag {
			return ns[i], true
		}
	}
	return notifier.Notification{}, false
}

type hubEvent struct {
	typ  string
	data map[string]any
}

type fakeHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *fakeHub) FireEvent(_ context.Context, typ string, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{typ: typ, data: data.(map[string]any)})
	return nil
}

func (h *fakeHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		out = append(out, e.typ)
	}
	return out
}

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

type fixture struct {
	st    *state.Store
	sched *scheduler.Service
	out   *outbox
	hub   *fakeHub
	audit *memAudit
	m     *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.New(storage.State{
		Tasks: []chore.Task{
			{ID: "dishes", Label: "Dishes", Description: "Kitchen sink", Jobs: []chore.Job{}},
			{ID: "trash", Label: "Trash", QuickAction: true, Jobs: []chore.Job{}},
		},
		Persons: []chore.Person{
			{ID: "person.alice", Name: "Alice", IsHome: true},
			{ID: "person.bob", Name: "Bob", IsHome: false, Device: "pixel_bob"},
		},
	})
	var seq int
	sched := scheduler.New(scheduler.Config{}, scheduler.Deps{
		Store: st,
		IDs: func() string {
			seq++
			return fmt.Sprintf("job%d", seq)
		},
		Log: logx.Nop(),
	})
	f := &fixture{st: st, sched: sched, out: &outbox{}, hub: &fakeHub{}, audit: &memAudit{}}
	f.m = New(Config{Locale: "en", NotificationURL: "/lovelace/chores"}, Deps{
		State:     st,
		Scheduler: sched,
		Notifier:  f.out,
		Hub:       f.hub,
		Audit:     f.audit,
		Log:       logx.Nop(),
	})
	sched.Subscribe(f.m)
	return f
}

func TestTriggerNotifiesPeopleAtHome(t *testing.T) {
	f := newFixture(t)
	job, created, err := f.m.Trigger(context.Background(), "dishes", "http")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "job1", job.ID)

	sent := f.out.take()

	alice, ok := find(sent, "person.alice", "dishes")
	require.True(t, ok)
	assert.False(t, alice.Clear)
	assert.Equal(t, "Dishes", alice.Title)
	assert.Equal(t, "Kitchen sink", alice.Message)
	assert.Equal(t, "alice", alice.Target.Device)
	assert.Equal(t, "/lovelace/chores", alice.URL)
	assert.True(t, alice.Sticky)
	require.Len(t, alice.Actions, 2)
	assert.Equal(t, notifier.Action{ID: "complete.dishes.job1.alice", Title: "Done"}, alice.Actions[0])
	assert.Equal(t, notifier.Action{ID: "cancel.dishes.job1.alice", Title: "Cancel"}, alice.Actions[1])

	bob, ok := find(sent, "person.bob", "dishes")
	require.True(t, ok)
	assert.True(t, bob.Clear, "away from home")
	assert.Equal(t, "pixel_bob", bob.Target.Device)

	house, ok := find(sent, "", "dishes")
	require.True(t, ok)
	assert.False(t, house.Clear)
	assert.Equal(t, "complete.dishes.job1.", house.Actions[0].ID)

	f.m.Wait()
	assert.Equal(t, []string{"task_triggered"}, f.hub.types())
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "trigger", f.audit.entries[0].Action)
}

func TestTriggerTwiceIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.m.Trigger(ctx, "dishes", "http")
	require.NoError(t, err)

	out, err := f.m.HandleAction(ctx, "trigger.dishes", "homeassistant", "")
	require.NoError(t, err)
	assert.Equal(t, "already active", out)

	task, _ := f.st.Task("dishes")
	assert.Len(t, task.Jobs, 1)
}

func TestCompleteFromNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.m.Trigger(ctx, "dishes", "http")
	require.NoError(t, err)
	f.out.take()

	out, err := f.m.HandleAction(ctx, "complete.dishes.job1.alice", "homeassistant", "")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	task, _ := f.st.Task("dishes")
	require.NotNil(t, task.Jobs[0].CompletionDate)
	assert.Equal(t, []chore.Participation{{Person: "person.alice"}}, task.Jobs[0].Participations)

	sent := f.out.take()
	for _, who := range []string{"person.alice", "person.bob", ""} {
		n, ok := find(sent, who, "dishes")
		require.True(t, ok, who)
		assert.True(t, n.Clear, who)
	}

	f.m.Wait()
	assert.Equal(t, []string{"task_triggered", "task_completed"}, f.hub.types())
}

func TestHouseholdButtonUsesActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.m.Trigger(ctx, "dishes", "http")
	require.NoError(t, err)

	_, err = f.m.HandleAction(ctx, "complete.dishes.job1.", "telegram", "bob")
	require.NoError(t, err)
	task, _ := f.st.Task("dishes")
	assert.Equal(t, "person.bob", task.Jobs[0].Participations[0].Person)
}

func TestCancelRecordsNoParticipation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.m.Trigger(ctx, "dishes", "http")
	require.NoError(t, err)

	_, err = f.m.HandleAction(ctx, "cancel.dishes.job1.alice", "homeassistant", "")
	require.NoError(t, err)
	task, _ := f.st.Task("dishes")
	assert.True(t, task.Jobs[0].Canceled())

	f.m.Wait()
	assert.Equal(t, []string{"task_triggered", "task_canceled"}, f.hub.types())
}

func TestRepeatedResolutionIsQuiet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.m.Trigger(ctx, "dishes", "http")
	require.NoError(t, err)

	_, err = f.m.HandleAction(ctx, "complete.dishes.job1.alice", "homeassistant", "")
	require.NoError(t, err)
	done, _ := f.st.Task("dishes")
	f.out.take()

	_, err = f.m.HandleAction(ctx, "complete.dishes.job1.alice", "telegram", "")
	require.NoError(t, err)
	_, err = f.m.Cancel(ctx, "dishes", "job1", "person.bob", "http")
	require.NoError(t, err)

	task, _ := f.st.Task("dishes")
	assert.Equal(t, done.Jobs[0].CompletionDate, task.Jobs[0].CompletionDate)
	assert.False(t, task.Jobs[0].Canceled())

	n, ok := find(f.out.take(), "person.alice", "dishes")
	require.True(t, ok, "notifications are refreshed")
	assert.True(t, n.Clear)

	f.m.Wait()
	assert.Equal(t, []string{"task_triggered", "task_completed"}, f.hub.types())
	var actions []string
	for _, e := range f.audit.entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"trigger", "complete"}, actions)
}

func TestUnknownTaskClearsNotification(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.HandleAction(context.Background(), "complete.gone.job1.alice", "homeassistant", "")
	require.ErrorIs(t, err, scheduler.ErrTaskNotFound)

	sent := f.out.take()
	n, ok := find(sent, "person.alice", "gone")
	require.True(t, ok)
	assert.True(t, n.Clear)

	require.Len(t, f.audit.entries, 1)
	assert.NotEmpty(t, f.audit.entries[0].Error)
}

func TestStaleJobResyncs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.m.Trigger(ctx, "dishes", "http")
	require.NoError(t, err)
	f.out.take()

	_, err = f.m.HandleAction(ctx, "cancel.dishes.old.alice", "homeassistant", "")
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)

	n, ok := find(f.out.take(), "person.alice", "dishes")
	require.True(t, ok)
	assert.False(t, n.Clear, "the active job is shown again")
}

func TestMalformedAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.HandleAction(context.Background(), "explode.dishes", "homeassistant", "")
	require.ErrorIs(t, err, ErrBadAction)
}

func TestPresenceResyncsPerson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.m.Trigger(ctx, "dishes", "http")
	require.NoError(t, err)
	f.out.take()

	f.m.SetPresence(ctx, "person.bob", true)
	sent := f.out.take()

	n, ok := find(sent, "person.bob", "dishes")
	require.True(t, ok)
	assert.False(t, n.Clear)
	assert.Equal(t, "complete.dishes.job1.bob", n.Actions[0].ID)

	quick, ok := find(sent, "person.bob", QuickTag)
	require.True(t, ok)
	assert.False(t, quick.Clear)
	assert.Equal(t, "Quick actions", quick.Title)
	assert.Equal(t, []notifier.Action{{ID: "trigger.trash", Title: "Trash"}}, quick.Actions)

	// no change, no traffic
	f.m.SetPresence(ctx, "person.bob", true)
	assert.Empty(t, f.out.take())
}

func TestQuickActionsClearedWhenAway(t *testing.T) {
	f := newFixture(t)
	f.m.SyncAll(context.Background())
	quick, ok := find(f.out.take(), "person.bob", QuickTag)
	require.True(t, ok)
	assert.True(t, quick.Clear)
}

func TestUpdatePersonsKeepsDevices(t *testing.T) {
	f := newFixture(t)
	f.m.UpdatePersons(context.Background(), []chore.Person{
		{ID: "person.bob", Name: "Bob", IsHome: true},
		{ID: "person.carol", Name: "Carol"},
	})
	persons := f.st.Persons()
	require.Len(t, persons, 2)
	assert.Equal(t, "pixel_bob", persons[0].Device)
	assert.True(t, persons[0].IsHome)
}

func TestLocaleSwitch(t *testing.T) {
	f := newFixture(t)
	f.m.Apply(Config{Locale: "fr-FR"})
	_, _, err := f.m.Trigger(context.Background(), "dishes", "http")
	require.NoError(t, err)
	n, ok := find(f.out.take(), "person.alice", "dishes")
	require.True(t, ok)
	assert.Equal(t, "Terminer", n.Actions[0].Title)
	assert.Empty(t, n.URL)
}
