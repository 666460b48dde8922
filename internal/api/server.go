// Package api is the JSON HTTP surface over the task store, the scheduler
// and the notification manager.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"famcomp/internal/notify"
	"famcomp/internal/state"
	"famcomp/internal/storage"
	"famcomp/internal/task/scheduler"
	"famcomp/pkg/logx"
)

// AuditLog is the part of storage.Store the API reads and writes.
type AuditLog interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

type Config struct {
	// Pprof mounts /debug/pprof.
	Pprof bool
}

type Deps struct {
	State     *state.Store
	Scheduler *scheduler.Service
	Manager   *notify.Manager
	Audit     AuditLog // optional
	Log       logx.Logger
}

// Server is the famcomp REST API.
type Server struct {
	router  chi.Router
	log     logx.Logger
	st      *state.Store
	sched   *scheduler.Service
	mgr     *notify.Manager
	audit   AuditLog
	started time.Time
	now     func() time.Time
}

func New(cfg Config, d Deps) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     d.Log,
		st:      d.State,
		sched:   d.Scheduler,
		mgr:     d.Manager,
		audit:   d.Audit,
		started: time.Now(),
		now:     time.Now,
	}
	s.routes(cfg)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(cfg Config) {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.log))
	r.Use(loggingMiddleware(s.log))

	r.Get("/healthz", s.handleHealth)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleUpsertTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Delete("/", s.handleDeleteTask)
			r.Post("/trigger", s.handleTriggerTask)
			r.Route("/jobs/{jobID}", func(r chi.Router) {
				r.Post("/complete", s.handleCompleteJob)
				r.Post("/cancel", s.handleCancelJob)
				r.Post("/participate", s.handleParticipate)
			})
		})
	})
	r.Post("/upload", s.handleUpload)

	r.Get("/persons", s.handleListPersons)
	r.Get("/stats", s.handleStats)
	r.Get("/schedule", s.handleSchedule)
	r.Get("/scheduler", s.handleScheduler)
	r.Get("/audit", s.handleAudit)

	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
}

// Listen serves h on addr until ctx is canceled, then shuts down gracefully.
func Listen(ctx context.Context, addr string, h http.Handler, readTimeout, writeTimeout time.Duration, log logx.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", logx.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", logx.Err(err))
		}
		<-errCh
		return nil
	}
}
