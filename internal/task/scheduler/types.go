package scheduler

import (
	"errors"
	"time"

	"famcomp/internal/chore"
	"famcomp/internal/eventbus"
	"famcomp/pkg/logx"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrJobNotFound  = errors.New("job not found")
)

const (
	DefaultSweepInterval = 30 * time.Minute
	DefaultLookahead     = time.Hour
)

// Config controls the job scheduler. Zero values mean defaults.
type Config struct {
	Enabled       bool
	MaxJobs       int
	SweepInterval time.Duration
	Lookahead     time.Duration
	Timezone      string // IANA TZ, e.g. "Europe/Paris"
}

func (c Config) withDefaults() Config {
	if c.MaxJobs <= 0 {
		c.MaxJobs = chore.DefaultMaxJobs
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	return c
}

// Store is the task collection the scheduler reads and mutates.
// Tasks and Task return copies; Mutate runs fn against the live task under
// the store's lock and reports whether the task exists.
type Store interface {
	Tasks() []chore.Task
	Task(id string) (chore.Task, bool)
	Mutate(id string, fn func(t *chore.Task)) (chore.Task, bool)
}

// Timer is a cancellable one-shot timer. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Clock is the scheduler's source of time and timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
func SystemClock() Clock { return realClock{} }

// JobStartedObserver is told about every job the scheduler creates, after
// the job is stored and before the task is re-armed. task and job are copies.
type JobStartedObserver interface {
	OnJobStarted(task chore.Task, job chore.Job)
}

// ObserverFunc adapts a function to JobStartedObserver.
type ObserverFunc func(task chore.Task, job chore.Job)

func (f ObserverFunc) OnJobStarted(task chore.Task, job chore.Job) { f(task, job) }

type Deps struct {
	Store Store
	Clock Clock
	IDs   func() string
	Log   logx.Logger
	Bus   eventbus.Bus
}

// ArmedTimer describes one pending fire.
type ArmedTimer struct {
	TaskID string    `json:"taskId"`
	FireAt time.Time `json:"fireAt"`
}

type Snapshot struct {
	Enabled       bool          `json:"enabled"`
	Running       bool          `json:"running"`
	Timezone      string        `json:"timezone"`
	MaxJobs       int           `json:"maxJobs"`
	SweepInterval time.Duration `json:"sweepInterval"`
	Lookahead     time.Duration `json:"lookahead"`
	NextSweep     time.Time     `json:"nextSweep,omitzero"`
	Armed         []ArmedTimer  `json:"armed"`
}

type armedTimer struct {
	timer  Timer
	gen    uint64
	fireAt time.Time
}
