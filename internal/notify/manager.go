// Package notify keeps everyone's notifications in line with the task state
// and turns notification button presses back into scheduler operations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"famcomp/internal/chore"
	"famcomp/internal/eventbus"
	"famcomp/internal/homeassistant"
	"famcomp/internal/notifier"
	"famcomp/internal/state"
	"famcomp/internal/storage"
	"famcomp/internal/task/scheduler"
	"famcomp/pkg/logx"
)

// QuickTag tags the per-person quick action notification.
const QuickTag = "quick"

// Scheduler is the part of scheduler.Service the manager drives.
type Scheduler interface {
	TriggerTask(id string) (chore.Job, bool)
	CompleteJob(taskID, jobID, person string) (chore.Task, chore.Job, bool, error)
	CancelJob(taskID, jobID string) (chore.Task, chore.Job, bool, error)
	Participate(taskID, jobID, person, description string) (chore.Task, chore.Job, error)
}

// Hub fires events on the home automation hub.
type Hub interface {
	FireEvent(ctx context.Context, eventType string, data any) error
}

type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	Locale string
	// NotificationURL is opened when a task notification is tapped.
	NotificationURL string
}

type Deps struct {
	State     *state.Store
	Scheduler Scheduler
	Notifier  Notifier
	Hub       Hub     // optional
	Audit     Auditor // optional
	Log       logx.Logger
	Bus       eventbus.Bus
}

type Manager struct {
	st    *state.Store
	sched Scheduler
	out   Notifier
	hub   Hub
	audit Auditor
	log   logx.Logger
	bus   eventbus.Bus

	mu  sync.RWMutex
	cfg Config
	tr  Translations

	// hub events fired off the caller's goroutine
	wg sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, d Deps) *Manager {
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	m := &Manager{
		st:    d.State,
		sched: d.Scheduler,
		out:   d.Notifier,
		hub:   d.Hub,
		audit: d.Audit,
		log:   d.Log,
		bus:   d.Bus,
		now:   time.Now,
	}
	m.Apply(cfg)
	return m
}

func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.tr = Translator(cfg.Locale)
	m.mu.Unlock()
}

func (m *Manager) settings() (Config, Translations) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, m.tr
}

// Wait blocks until hub events fired in the background are sent.
func (m *Manager) Wait() { m.wg.Wait() }

// OnJobStarted implements scheduler.JobStartedObserver.
func (m *Manager) OnJobStarted(task chore.Task, job chore.Job) {
	m.log.Info("job started", logx.String("task", task.ID), logx.String("job", job.ID))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.SyncTask(ctx, task)
	m.fire(homeassistant.EventTaskTriggered, map[string]any{"task": task, "job": job})
}

var _ scheduler.JobStartedObserver = (*Manager)(nil)

func (m *Manager) fire(eventType string, data map[string]any) {
	if m.hub == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.hub.FireEvent(ctx, eventType, data); err != nil {
			m.log.Warn("hub event failed", logx.String("event", eventType), logx.Err(err))
		}
	}()
}

func (m *Manager) send(ctx context.Context, n notifier.Notification) {
	err := m.out.Notify(ctx, n)
	switch {
	case err == nil:
	case errors.Is(err, notifier.ErrDisabled), errors.Is(err, notifier.ErrStopped):
		m.log.Trace("notification skipped", logx.String("tag", n.Tag), logx.Err(err))
	default:
		m.log.Warn("notification not queued", logx.String("tag", n.Tag), logx.String("target", n.Target.Person), logx.Err(err))
	}
}

// deviceOf is the mobile_app suffix of a person; the short id unless the
// person has an explicit device.
func deviceOf(p chore.Person) string {
	if p.Device != "" {
		return p.Device
	}
	return p.ShortID()
}

func targetOf(p chore.Person) notifier.Target {
	return notifier.Target{Person: p.ID, Name: p.Name, Device: deviceOf(p)}
}

// taskNotification shows the active job to target, or clears it. A zero
// personShort builds the household variant.
func (m *Manager) taskNotification(target notifier.Target, personShort string, show bool, task chore.Task) notifier.Notification {
	n := notifier.Notification{Target: target, Tag: task.ID, Clear: true}
	if !show {
		return n
	}
	cfg, tr := m.settings()
	head, _ := task.Head()
	n.Clear = false
	n.Title = task.Label
	n.Message = task.Description
	n.Sticky = true
	n.Channel = homeassistant.ChannelDefault
	n.URL = cfg.NotificationURL
	n.Actions = []notifier.Action{
		{ID: Action{Verb: VerbComplete, TaskID: task.ID, JobID: head.ID, Person: personShort}.String(), Title: tr.Complete},
		{ID: Action{Verb: VerbCancel, TaskID: task.ID, JobID: head.ID, Person: personShort}.String(), Title: tr.Cancel},
	}
	return n
}

func (m *Manager) quickNotification(target notifier.Target, show bool, tasks []chore.Task) notifier.Notification {
	n := notifier.Notification{Target: target, Tag: QuickTag, Clear: true}
	var actions []notifier.Action
	for _, t := range tasks {
		if t.QuickAction && t.Enabled() {
			actions = append(actions, notifier.Action{ID: Action{Verb: VerbTrigger, TaskID: t.ID}.String(), Title: t.Label})
		}
	}
	if !show || len(actions) == 0 {
		return n
	}
	_, tr := m.settings()
	n.Clear = false
	n.Title = tr.Quick
	n.Sticky = true
	n.Channel = homeassistant.ChannelAction
	n.Actions = actions
	return n
}

// SyncTask shows the task's active job to everyone at home and to the
// household chat, and clears it everywhere else.
func (m *Manager) SyncTask(ctx context.Context, task chore.Task) {
	active := chore.IsTaskActive(&task)
	m.log.Debug("syncing task", logx.String("task", task.ID), logx.Bool("active", active))
	for _, p := range m.st.Persons() {
		m.send(ctx, m.taskNotification(targetOf(p), p.ShortID(), active && p.IsHome, task))
	}
	m.send(ctx, m.taskNotification(notifier.Target{}, "", active, task))
}

// SyncPerson brings one person's notifications in line: every task plus
// the quick action list.
func (m *Manager) SyncPerson(ctx context.Context, p chore.Person) {
	m.log.Debug("syncing person", logx.String("person", p.ID), logx.Bool("home", p.IsHome))
	tasks := m.st.Tasks()
	target := targetOf(p)
	for _, t := range tasks {
		m.send(ctx, m.taskNotification(target, p.ShortID(), p.IsHome && chore.IsTaskActive(&t), t))
	}
	m.send(ctx, m.quickNotification(target, p.IsHome, tasks))
}

// SyncAll resyncs every person and the household chat.
func (m *Manager) SyncAll(ctx context.Context) {
	m.log.Debug("syncing all notifications")
	tasks := m.st.Tasks()
	for _, p := range m.st.Persons() {
		m.SyncPerson(ctx, p)
	}
	for _, t := range tasks {
		m.send(ctx, m.taskNotification(notifier.Target{}, "", chore.IsTaskActive(&t), t))
	}
	m.send(ctx, m.quickNotification(notifier.Target{}, true, tasks))
}

// ClearTask removes a (deleted) task's notifications everywhere.
func (m *Manager) ClearTask(ctx context.Context, taskID string) {
	for _, p := range m.st.Persons() {
		m.send(ctx, notifier.Notification{Target: targetOf(p), Tag: taskID, Clear: true})
	}
	m.send(ctx, notifier.Notification{Tag: taskID, Clear: true})
}

// SetPresence records a person's home state and resyncs them on change.
func (m *Manager) SetPresence(ctx context.Context, personID string, home bool) {
	p, changed := m.st.SetPersonHome(personID, home)
	if !changed {
		return
	}
	m.log.Info("presence changed", logx.String("person", personID), logx.Bool("home", home))
	m.SyncPerson(ctx, p)
}

// UpdatePersons replaces the person list with the hub's, keeping locally
// configured devices, then resyncs everyone.
func (m *Manager) UpdatePersons(ctx context.Context, persons []chore.Person) {
	known := map[string]chore.Person{}
	for _, p := range m.st.Persons() {
		known[p.ID] = p
	}
	merged := make([]chore.Person, 0, len(persons))
	for _, p := range persons {
		if old, ok := known[p.ID]; ok && p.Device == "" {
			p.Device = old.Device
		}
		merged = append(merged, p)
	}
	m.st.SetPersons(merged)
	m.log.Info("persons updated", logx.Int("count", len(merged)))
	m.SyncAll(ctx)
}

// resolvePerson maps a short id, a hub user id or a display name to a
// person id.
func (m *Manager) resolvePerson(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	for _, p := range m.st.Persons() {
		if p.ID == ref || p.ShortID() == ref || p.InternalID == ref || strings.EqualFold(p.Name, ref) {
			return p.ID
		}
	}
	return ref
}

// Trigger starts a job by hand. created is false when the task already had
// an active job; the task is resynced either way.
func (m *Manager) Trigger(ctx context.Context, taskID, source string) (chore.Job, bool, error) {
	task, ok := m.st.Task(taskID)
	if !ok {
		m.record(ctx, "trigger", source, taskID, "", "", scheduler.ErrTaskNotFound)
		return chore.Job{}, false, fmt.Errorf("task %q: %w", taskID, scheduler.ErrTaskNotFound)
	}
	job, created := m.sched.TriggerTask(taskID)
	if !created {
		m.log.Info("trigger ignored; task already active", logx.String("task", taskID), logx.String("source", source))
		m.SyncTask(ctx, task)
		return chore.Job{}, false, nil
	}
	m.log.Info("task triggered", logx.String("task", taskID), logx.String("source", source))
	m.record(ctx, "trigger", source, taskID, job.ID, "", nil)
	return job, true, nil
}

// Complete resolves a job on behalf of person (id, short id or name).
func (m *Manager) Complete(ctx context.Context, taskID, jobID, person, source string) (chore.Job, error) {
	person = m.resolvePerson(person)
	task, job, first, err := m.sched.CompleteJob(taskID, jobID, person)
	if err != nil {
		m.resolveFailed(ctx, "complete", source, taskID, jobID, person, err)
		return chore.Job{}, err
	}
	if !first {
		m.alreadyResolved(ctx, task, jobID, source)
		return job, nil
	}
	m.log.Info("job completed", logx.String("task", taskID), logx.String("job", jobID), logx.String("person", person), logx.String("source", source))
	m.resolved(ctx, eventbus.JobCompleted, homeassistant.EventTaskCompleted, task, job, person, source)
	m.record(ctx, "complete", source, taskID, jobID, person, nil)
	return job, nil
}

// Cancel resolves a job without participation. person is only reported.
func (m *Manager) Cancel(ctx context.Context, taskID, jobID, person, source string) (chore.Job, error) {
	person = m.resolvePerson(person)
	task, job, first, err := m.sched.CancelJob(taskID, jobID)
	if err != nil {
		m.resolveFailed(ctx, "cancel", source, taskID, jobID, person, err)
		return chore.Job{}, err
	}
	if !first {
		m.alreadyResolved(ctx, task, jobID, source)
		return job, nil
	}
	m.log.Info("job canceled", logx.String("task", taskID), logx.String("job", jobID), logx.String("person", person), logx.String("source", source))
	m.resolved(ctx, eventbus.JobCanceled, homeassistant.EventTaskCanceled, task, job, person, source)
	m.record(ctx, "cancel", source, taskID, jobID, person, nil)
	return job, nil
}

// Participate adds a participation to a job without resolving it.
func (m *Manager) Participate(ctx context.Context, taskID, jobID, person, description, source string) (chore.Job, error) {
	person = m.resolvePerson(person)
	_, job, err := m.sched.Participate(taskID, jobID, person, description)
	if err != nil {
		m.record(ctx, "participate", source, taskID, jobID, person, err)
		return chore.Job{}, err
	}
	m.log.Info("participation recorded", logx.String("task", taskID), logx.String("job", jobID), logx.String("person", person))
	m.record(ctx, "participate", source, taskID, jobID, person, nil)
	return job, nil
}

func (m *Manager) resolved(ctx context.Context, busType, hubEvent string, task chore.Task, job chore.Job, person, source string) {
	m.SyncTask(ctx, task)
	m.fire(hubEvent, map[string]any{"task": task, "job": job, "person": person})
	m.bus.Publish(eventbus.Event{Type: busType, Time: m.now(), Data: eventbus.JobEvent{
		Task: task, Job: job, Person: person, Source: source,
	}})
}

// alreadyResolved handles a repeated button press: the job keeps its first
// resolution, so only the notifications are refreshed.
func (m *Manager) alreadyResolved(ctx context.Context, task chore.Task, jobID, source string) {
	m.log.Debug("job already resolved", logx.String("task", task.ID), logx.String("job", jobID), logx.String("source", source))
	m.SyncTask(ctx, task)
}

// resolveFailed cleans up notifications that point at something gone: an
// unknown task is cleared, a stale job gets the current task state.
func (m *Manager) resolveFailed(ctx context.Context, verb, source, taskID, jobID, person string, err error) {
	m.log.Warn("job action failed", logx.String("action", verb), logx.String("task", taskID), logx.String("job", jobID), logx.Err(err))
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		m.log.Info("clearing notifications of unknown task", logx.String("task", taskID))
		m.ClearTask(ctx, taskID)
	case errors.Is(err, scheduler.ErrJobNotFound):
		if task, ok := m.st.Task(taskID); ok {
			m.SyncTask(ctx, task)
		}
	}
	m.record(ctx, verb, source, taskID, jobID, person, err)
}

// HandleAction runs a notification button press. actor names whoever
// pressed a household button.
func (m *Manager) HandleAction(ctx context.Context, raw, source, actor string) (string, error) {
	a, err := ParseAction(raw)
	if err != nil {
		m.log.Warn("ignoring action", logx.String("raw", raw), logx.Err(err))
		return "", err
	}
	person := a.Person
	if person == "" {
		person = actor
	}

	switch a.Verb {
	case VerbTrigger:
		_, created, err := m.Trigger(ctx, a.TaskID, source)
		if err != nil {
			return "", err
		}
		if !created {
			return "already active", nil
		}
		return "triggered", nil
	case VerbComplete:
		if _, err := m.Complete(ctx, a.TaskID, a.JobID, person, source); err != nil {
			return "", err
		}
		return "done", nil
	default:
		if _, err := m.Cancel(ctx, a.TaskID, a.JobID, person, source); err != nil {
			return "", err
		}
		return "canceled", nil
	}
}

func (m *Manager) record(ctx context.Context, action, source, taskID, jobID, person string, cause error) {
	if m.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:     m.now(),
		Action: action,
		Source: source,
		TaskID: taskID,
		JobID:  jobID,
		Person: person,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := m.audit.AppendAudit(ctx, e); err != nil {
		m.log.Warn("audit write failed", logx.String("action", action), logx.Err(err))
	}
}
