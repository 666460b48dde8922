package scheduler

import (
	"fmt"
	"runtime/debug"

	"famcomp/internal/chore"
	"famcomp/internal/eventbus"
	"famcomp/pkg/logx"
)

// TriggerTask creates a new job at the head of the task's history unless the
// task already has an active job. It reports whether a job was created.
// Used by armed timers and by manual triggers (API, quick actions, hub events).
func (s *Service) TriggerTask(id string) (chore.Job, bool) {
	maxJobs := s.maxJobs()
	now := s.now()

	var (
		job     chore.Job
		created bool
	)
	task, found := s.store.Mutate(id, func(t *chore.Task) {
		if chore.IsTaskActive(t) {
			return
		}
		job = chore.Job{
			ID:             s.ids(),
			Date:           now,
			Participations: []chore.Participation{},
		}
		t.PushJob(job, maxJobs)
		created = true
	})
	switch {
	case !found:
		s.log.Debug("trigger ignored; task not found", logx.String("task", id))
		return chore.Job{}, false
	case !created:
		s.log.Debug("trigger ignored; task already active", logx.String("task", id))
		return chore.Job{}, false
	}

	s.log.Debug("job started", logx.String("task", id), logx.String("job", job.ID))
	s.notifyStarted(task, job)
	s.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Time: now, Data: eventbus.JobEvent{
		Task:   task,
		Job:    job.Clone(),
		Source: eventbus.SourceScheduler,
	}})
	return job, true
}

// notifyStarted calls each observer with its own copies; a panicking
// observer is logged and does not affect the others.
func (s *Service) notifyStarted(task chore.Task, job chore.Job) {
	s.obsMu.RLock()
	obs := append([]JobStartedObserver(nil), s.observers...)
	s.obsMu.RUnlock()

	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("job observer panicked",
						logx.String("task", task.ID),
						logx.String("job", job.ID),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			o.OnJobStarted(task.Clone(), job.Clone())
		}()
	}
}

// mutateJob runs fn on a job of a task under the store lock.
func (s *Service) mutateJob(taskID, jobID string, fn func(t *chore.Task, j *chore.Job)) (chore.Task, chore.Job, error) {
	var (
		job      chore.Job
		jobFound bool
	)
	task, found := s.store.Mutate(taskID, func(t *chore.Task) {
		j, ok := t.FindJob(jobID)
		if !ok {
			return
		}
		jobFound = true
		fn(t, j)
		job = j.Clone()
	})
	if !found {
		return chore.Task{}, chore.Job{}, fmt.Errorf("task %q: %w", taskID, ErrTaskNotFound)
	}
	if !jobFound {
		return chore.Task{}, chore.Job{}, fmt.Errorf("job %q of task %q: %w", jobID, taskID, ErrJobNotFound)
	}
	return task, job, nil
}

// CompleteJob resolves the job on behalf of person. The first resolution
// timestamp is kept; person is recorded once. resolved reports whether this
// call resolved the job.
func (s *Service) CompleteJob(taskID, jobID, person string) (task chore.Task, job chore.Job, resolved bool, err error) {
	now := s.now()
	task, job, err = s.mutateJob(taskID, jobID, func(_ *chore.Task, j *chore.Job) {
		resolved = !j.Resolved()
		j.Complete(now, person)
	})
	if err != nil {
		return task, job, false, err
	}
	s.log.Debug("job completed", logx.String("task", taskID), logx.String("job", jobID), logx.String("person", person), logx.Bool("first", resolved))
	return task, job, resolved, nil
}

// CancelJob resolves the job without recording a participation. resolved is
// false when the job was already resolved.
func (s *Service) CancelJob(taskID, jobID string) (task chore.Task, job chore.Job, resolved bool, err error) {
	now := s.now()
	task, job, err = s.mutateJob(taskID, jobID, func(_ *chore.Task, j *chore.Job) {
		resolved = !j.Resolved()
		j.Cancel(now)
	})
	if err != nil {
		return task, job, false, err
	}
	s.log.Debug("job canceled", logx.String("task", taskID), logx.String("job", jobID), logx.Bool("first", resolved))
	return task, job, resolved, nil
}

// Participate records that person helped with the job without resolving it.
func (s *Service) Participate(taskID, jobID, person, description string) (chore.Task, chore.Job, error) {
	task, job, err := s.mutateJob(taskID, jobID, func(_ *chore.Task, j *chore.Job) {
		j.Participate(person, description)
	})
	if err != nil {
		return task, job, err
	}
	s.log.Debug("participation recorded", logx.String("task", taskID), logx.String("job", jobID), logx.String("person", person))
	return task, job, nil
}
