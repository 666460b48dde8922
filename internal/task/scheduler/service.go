package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"famcomp/internal/eventbus"
	"famcomp/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	store Store
	clock Clock
	ids   func() string

	running bool
	armed   map[string]armedTimer
	gen     uint64

	sweep     Timer
	sweepGen  uint64
	nextSweep time.Time

	obsMu     sync.RWMutex
	observers []JobStartedObserver
}

func New(cfg Config, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewString
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	s := &Service{
		log:   deps.Log,
		cfg:   cfg.withDefaults(),
		bus:   deps.Bus,
		store: deps.Store,
		clock: deps.Clock,
		ids:   deps.IDs,
		armed: map[string]armedTimer{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Subscribe registers an observer for job-started notifications.
func (s *Service) Subscribe(o JobStartedObserver) {
	if o == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config at runtime. A running scheduler restarts when the
// timezone, lookahead or sweep interval changed so armed delays are recomputed.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.loc = s.loadLocationLocked()
	running := s.running
	s.mu.Unlock()

	switch {
	case !cfg.Enabled && running:
		s.Stop()
	case cfg.Enabled && !running:
		s.Start()
	case running && (strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) ||
		old.Lookahead != cfg.Lookahead || old.SweepInterval != cfg.SweepInterval):
		s.log.Info("scheduler config changed; rearming", logx.String("tz", s.loc.String()))
		s.Start()
	}
}

// Start clears all armed timers, arms the recurring sweep and runs one sweep
// immediately. It is a no-op when the scheduler is disabled.
func (s *Service) Start() {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Info("scheduler disabled; not starting")
		return
	}
	s.stopTimersLocked()
	s.running = true
	s.armSweepLocked()
	loc := s.loc
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", loc.String()))
	s.Sweep()
}

// Stop cancels every armed timer and the sweep.
func (s *Service) Stop() {
	s.mu.Lock()
	n := len(s.armed)
	s.stopTimersLocked()
	s.running = false
	s.mu.Unlock()

	s.log.Info("scheduler stopped", logx.Int("disarmed", n))
}

func (s *Service) stopTimersLocked() {
	for _, a := range s.armed {
		a.timer.Stop()
	}
	s.armed = map[string]armedTimer{}
	if s.sweep != nil {
		s.sweep.Stop()
		s.sweep = nil
	}
	s.sweepGen++
	s.nextSweep = time.Time{}
}

func (s *Service) armSweepLocked() {
	s.sweepGen++
	gen := s.sweepGen
	every := s.cfg.SweepInterval
	s.nextSweep = s.clock.Now().Add(every)
	s.sweep = s.clock.AfterFunc(every, func() { s.onSweep(gen) })
}

func (s *Service) onSweep(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.sweepGen {
		s.mu.Unlock()
		return
	}
	s.armSweepLocked()
	s.mu.Unlock()

	s.Sweep()
}

// Sweep arms every task that has no armed timer.
func (s *Service) Sweep() {
	tasks := s.store.Tasks()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	for i := range tasks {
		s.armLocked(&tasks[i])
	}
	s.log.Debug("sweep done", logx.Int("tasks", len(tasks)), logx.Int("armed", len(s.armed)))
}

// Update drops any armed timer for id and arms it again from the current
// store contents. Call it whenever a task's cron or existence changes.
func (s *Service) Update(id string) {
	task, found := s.store.Task(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.armed[id]; ok {
		a.timer.Stop()
		delete(s.armed, id)
		s.log.Debug("timer canceled", logx.String("task", id))
	}
	if !s.running || !found {
		return
	}
	s.armLocked(&task)
}

// Snapshot lists the armed timers sorted by fire time.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Enabled:       s.cfg.Enabled,
		Running:       s.running,
		Timezone:      s.loc.String(),
		MaxJobs:       s.cfg.MaxJobs,
		SweepInterval: s.cfg.SweepInterval,
		Lookahead:     s.cfg.Lookahead,
		NextSweep:     s.nextSweep,
		Armed:         make([]ArmedTimer, 0, len(s.armed)),
	}
	for id, a := range s.armed {
		snap.Armed = append(snap.Armed, ArmedTimer{TaskID: id, FireAt: a.fireAt})
	}
	sort.Slice(snap.Armed, func(i, j int) bool {
		if !snap.Armed[i].FireAt.Equal(snap.Armed[j].FireAt) {
			return snap.Armed[i].FireAt.Before(snap.Armed[j].FireAt)
		}
		return snap.Armed[i].TaskID < snap.Armed[j].TaskID
	})
	return snap
}

// Location is the zone cron expressions are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) maxJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxJobs
}

func (s *Service) now() time.Time { return s.clock.Now() }
