package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"famcomp/internal/chore"
	"famcomp/internal/storage"
	"famcomp/internal/task/scheduler"
	"famcomp/pkg/logx"
)

const sourceHTTP = "http"

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, s.st.Tasks())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.st.Task(id)
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("task %q not found", id))
		return
	}
	respondOK(w, r, task)
}

func validateTask(t chore.Task) error {
	if err := chore.ValidateTaskID(t.ID); err != nil {
		return fmt.Errorf("id %q: %w", t.ID, err)
	}
	if strings.TrimSpace(t.Label) == "" {
		return fmt.Errorf("task %q: label is required", t.ID)
	}
	if t.Cron != "" {
		if _, err := scheduler.ParseCron(t.Cron); err != nil {
			return err
		}
	}
	if t.StartDate != nil && t.EndDate != nil && t.EndDate.Before(*t.StartDate) {
		return fmt.Errorf("task %q: endDate before startDate", t.ID)
	}
	return nil
}

func (s *Server) handleUpsertTask(w http.ResponseWriter, r *http.Request) {
	var in chore.Task
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateTask(in); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	task, created := s.st.Upsert(in)
	s.sched.Update(task.ID)
	s.mgr.SyncTask(r.Context(), task)
	s.record(r.Context(), "upsert", task.ID)

	if created {
		s.log.Info("task created", logx.String("task", task.ID))
		respondCreated(w, r, task)
		return
	}
	s.log.Info("task updated", logx.String("task", task.ID))
	respondOK(w, r, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.st.Delete(id)
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("task %q not found", id))
		return
	}
	s.sched.Update(id)
	s.mgr.ClearTask(r.Context(), id)
	s.record(r.Context(), "delete", id)
	s.log.Info("task deleted", logx.String("task", id))
	respondOK(w, r, task)
}

// handleUpload replaces every task definition at once.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var in []chore.Task
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}
	seen := map[string]bool{}
	for _, t := range in {
		if err := validateTask(t); err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		if seen[t.ID] {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("duplicate task id %q", t.ID))
			return
		}
		seen[t.ID] = true
	}

	ids := s.st.ReplaceTasks(in)
	for _, id := range ids {
		s.sched.Update(id)
		if !seen[id] {
			s.mgr.ClearTask(r.Context(), id)
		}
	}
	s.mgr.SyncAll(r.Context())
	s.record(r.Context(), "upload", "")
	s.log.Info("tasks uploaded", logx.Int("count", len(in)))
	respondOK(w, r, s.st.Tasks())
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, created, err := s.mgr.Trigger(r.Context(), id, sourceHTTP)
	if err != nil {
		s.respondJobError(w, r, err)
		return
	}
	data := map[string]any{"created": created}
	if created {
		data["job"] = job
	}
	respondOK(w, r, data)
}

type jobRequest struct {
	Person      string `json:"person"`
	Description string `json:"description"`
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	if err := decodeJSON(w, r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	var in jobRequest
	if err := decodeOptional(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}
	job, err := s.mgr.Complete(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "jobID"), in.Person, sourceHTTP)
	if err != nil {
		s.respondJobError(w, r, err)
		return
	}
	respondOK(w, r, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var in jobRequest
	if err := decodeOptional(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}
	job, err := s.mgr.Cancel(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "jobID"), in.Person, sourceHTTP)
	if err != nil {
		s.respondJobError(w, r, err)
		return
	}
	respondOK(w, r, job)
}

func (s *Server) handleParticipate(w http.ResponseWriter, r *http.Request) {
	var in jobRequest
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(in.Person) == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "person is required")
		return
	}
	job, err := s.mgr.Participate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "jobID"), in.Person, in.Description, sourceHTTP)
	if err != nil {
		s.respondJobError(w, r, err)
		return
	}
	respondOK(w, r, job)
}

func (s *Server) respondJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound), errors.Is(err, scheduler.ErrJobNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// record audits definition changes; job actions are audited by the manager.
func (s *Server) record(ctx context.Context, action, taskID string) {
	if s.audit == nil {
		return
	}
	e := storage.AuditEntry{At: s.now(), Action: action, Source: sourceHTTP, TaskID: taskID}
	if err := s.audit.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit write failed", logx.String("action", action), logx.Err(err))
	}
}
