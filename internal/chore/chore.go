package chore

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidTaskID = errors.New("task id must be non-empty and contain no whitespace")

// Enabled reports the administrative flag (nil means enabled).
func (t *Task) Enabled() bool {
	return t.Active == nil || *t.Active
}

func (t *Task) HasSchedule() bool {
	return strings.TrimSpace(t.Cron) != ""
}

// Head returns the most recent job, if any.
func (t *Task) Head() (*Job, bool) {
	if t == nil || len(t.Jobs) == 0 {
		return nil, false
	}
	return &t.Jobs[0], true
}

// FindJob returns the job with the given id.
func (t *Task) FindJob(id string) (*Job, bool) {
	if t == nil {
		return nil, false
	}
	for i := range t.Jobs {
		if t.Jobs[i].ID == id {
			return &t.Jobs[i], true
		}
	}
	return nil, false
}

// PushJob inserts j at the head and drops the oldest jobs beyond max.
func (t *Task) PushJob(j Job, max int) {
	if max <= 0 {
		max = DefaultMaxJobs
	}
	t.Jobs = append(t.Jobs, Job{})
	copy(t.Jobs[1:], t.Jobs)
	t.Jobs[0] = j
	if len(t.Jobs) > max {
		for i := max; i < len(t.Jobs); i++ {
			t.Jobs[i] = Job{}
		}
		t.Jobs = t.Jobs[:max]
	}
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	out := t
	if t.StartDate != nil {
		v := *t.StartDate
		out.StartDate = &v
	}
	if t.EndDate != nil {
		v := *t.EndDate
		out.EndDate = &v
	}
	if t.Active != nil {
		v := *t.Active
		out.Active = &v
	}
	if t.Jobs != nil {
		out.Jobs = make([]Job, len(t.Jobs))
		for i := range t.Jobs {
			out.Jobs[i] = t.Jobs[i].Clone()
		}
	}
	return out
}

func (j Job) Clone() Job {
	out := j
	if j.CompletionDate != nil {
		v := *j.CompletionDate
		out.CompletionDate = &v
	}
	if j.Participations != nil {
		out.Participations = append([]Participation(nil), j.Participations...)
	}
	return out
}

func (j *Job) Resolved() bool { return j.CompletionDate != nil }

// Canceled reports a job resolved without anyone participating.
func (j *Job) Canceled() bool { return j.Resolved() && len(j.Participations) == 0 }

func (j *Job) HasParticipant(person string) bool {
	for _, p := range j.Participations {
		if p.Person == person {
			return true
		}
	}
	return false
}

// Participate records person once per job. It reports whether a
// participation was added.
func (j *Job) Participate(person, description string) bool {
	if person == "" || j.HasParticipant(person) {
		return false
	}
	j.Participations = append(j.Participations, Participation{Person: person, Description: description})
	return true
}

// Complete resolves the job on behalf of person. The first resolution
// timestamp wins; the participation is still added if missing.
func (j *Job) Complete(at time.Time, person string) {
	j.resolve(at)
	j.Participate(person, "")
}

// Cancel resolves the job without recording a participation.
func (j *Job) Cancel(at time.Time) {
	j.resolve(at)
}

func (j *Job) resolve(at time.Time) {
	if j.CompletionDate != nil {
		return
	}
	j.CompletionDate = &at
}

// IsTaskActive reports whether the task has an unresolved head job and is
// administratively enabled. Only the head job can ever be active.
func IsTaskActive(t *Task) bool {
	if t == nil || !t.Enabled() {
		return false
	}
	head, ok := t.Head()
	if !ok {
		return false
	}
	return !head.Resolved()
}

// IsJobActive reports whether job is the active head job of t.
func IsJobActive(t *Task, jobID string) bool {
	if !IsTaskActive(t) {
		return false
	}
	return t.Jobs[0].ID == jobID
}

// ValidateTaskID rejects ids that cannot be used as hub entity suffixes.
func ValidateTaskID(id string) error {
	if id == "" || strings.ContainsAny(id, " \t\r\n") {
		return ErrInvalidTaskID
	}
	return nil
}

// ComputeStats counts participations per person and task.
func ComputeStats(tasks []Task) Stats {
	out := Stats{}
	for _, t := range tasks {
		for _, j := range t.Jobs {
			for _, p := range j.Participations {
				m := out[p.Person]
				if m == nil {
					m = map[string]int{}
					out[p.Person] = m
				}
				m[t.ID]++
			}
		}
	}
	return out
}
