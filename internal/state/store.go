// Package state holds the live task and person collections shared by the
// scheduler, the notification manager and the API.
//
// All reads return deep copies. Writers go through Mutate/Upsert/Delete so
// every change fires the OnChange hooks (persistence, mostly).
package state

import (
	"sync"
	"time"

	"famcomp/internal/chore"
	"famcomp/internal/storage"
)

type Store struct {
	mu      sync.RWMutex
	tasks   []chore.Task
	persons []chore.Person

	hookMu sync.RWMutex
	hooks  []func()

	now func() time.Time
}

func New(st storage.State) *Store {
	s := &Store{now: time.Now}
	s.load(st)
	return s
}

func (s *Store) load(st storage.State) {
	s.tasks = make([]chore.Task, len(st.Tasks))
	for i := range st.Tasks {
		s.tasks[i] = st.Tasks[i].Clone()
	}
	s.persons = append([]chore.Person{}, st.Persons...)
}

// OnChange registers fn to run after every mutation, outside the lock.
func (s *Store) OnChange(fn func()) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *Store) changed() {
	s.hookMu.RLock()
	hooks := append([]func(){}, s.hooks...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *Store) Tasks() []chore.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chore.Task, len(s.tasks))
	for i := range s.tasks {
		out[i] = s.tasks[i].Clone()
	}
	return out
}

func (s *Store) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) Task(id string) (chore.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return chore.Task{}, false
	}
	return s.tasks[i].Clone(), true
}

// Mutate runs fn on the live task under the write lock and returns a copy
// of the result. It reports false when no task has that id.
func (s *Store) Mutate(id string, fn func(t *chore.Task)) (chore.Task, bool) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return chore.Task{}, false
	}
	fn(&s.tasks[i])
	out := s.tasks[i].Clone()
	s.mu.Unlock()

	s.changed()
	return out, true
}

// Upsert replaces the task definition with the same id or appends a new one.
// The job history of an existing task is kept; incoming jobs are ignored
// for existing tasks.
func (s *Store) Upsert(t chore.Task) (chore.Task, bool) {
	t = t.Clone()

	s.mu.Lock()
	i := s.indexLocked(t.ID)
	created := i < 0
	if created {
		if t.Jobs == nil {
			t.Jobs = []chore.Job{}
		}
		s.tasks = append(s.tasks, t)
		i = len(s.tasks) - 1
	} else {
		t.Jobs = s.tasks[i].Jobs
		s.tasks[i] = t
	}
	out := s.tasks[i].Clone()
	s.mu.Unlock()

	s.changed()
	return out, created
}

// Delete removes a task. An unresolved head job is resolved first (stamped,
// no participation) so the returned copy never carries a dangling job.
func (s *Store) Delete(id string) (chore.Task, bool) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return chore.Task{}, false
	}
	t := s.tasks[i]
	if head, ok := t.Head(); ok && !head.Resolved() {
		head.Cancel(s.now())
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	s.mu.Unlock()

	s.changed()
	return t.Clone(), true
}

// ReplaceTasks swaps the whole collection (bulk upload). It returns the ids
// of the previous and new tasks so callers can re-arm both sets.
func (s *Store) ReplaceTasks(tasks []chore.Task) []string {
	s.mu.Lock()
	seen := map[string]struct{}{}
	var ids []string
	for _, t := range s.tasks {
		seen[t.ID] = struct{}{}
		ids = append(ids, t.ID)
	}
	s.tasks = make([]chore.Task, len(tasks))
	for i := range tasks {
		s.tasks[i] = tasks[i].Clone()
		if s.tasks[i].Jobs == nil {
			s.tasks[i].Jobs = []chore.Job{}
		}
		if _, ok := seen[tasks[i].ID]; !ok {
			seen[tasks[i].ID] = struct{}{}
			ids = append(ids, tasks[i].ID)
		}
	}
	s.mu.Unlock()

	s.changed()
	return ids
}

func (s *Store) Persons() []chore.Person {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chore.Person{}, s.persons...)
}

func (s *Store) Person(id string) (chore.Person, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.persons {
		if p.ID == id {
			return p, true
		}
	}
	return chore.Person{}, false
}

func (s *Store) SetPersons(persons []chore.Person) {
	s.mu.Lock()
	s.persons = append([]chore.Person{}, persons...)
	s.mu.Unlock()
	s.changed()
}

// SetPersonHome updates presence. It reports whether the value changed.
func (s *Store) SetPersonHome(id string, home bool) (chore.Person, bool) {
	s.mu.Lock()
	for i := range s.persons {
		if s.persons[i].ID != id {
			continue
		}
		if s.persons[i].IsHome == home {
			p := s.persons[i]
			s.mu.Unlock()
			return p, false
		}
		s.persons[i].IsHome = home
		p := s.persons[i]
		s.mu.Unlock()
		s.changed()
		return p, true
	}
	s.mu.Unlock()
	return chore.Person{}, false
}

// Snapshot copies the whole state for persistence.
func (s *Store) Snapshot() storage.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := storage.State{
		Tasks:   make([]chore.Task, len(s.tasks)),
		Persons: append([]chore.Person{}, s.persons...),
	}
	for i := range s.tasks {
		st.Tasks[i] = s.tasks[i].Clone()
	}
	return st
}
