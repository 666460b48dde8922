package api

import (
	"net/http"
	"strconv"
	"time"

	"famcomp/internal/chore"
	"famcomp/internal/task/scheduler"
)

const (
	defaultScheduleWindow = 7 * 24 * time.Hour
	defaultAuditLimit     = 50
	maxAuditLimit         = 500
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.sched.Snapshot()
	respondOK(w, r, map[string]any{
		"status":    "healthy",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"scheduler": snap.Running,
		"tasks":     len(s.st.Tasks()),
	})
}

func (s *Server) handleListPersons(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, s.st.Persons())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, chore.ComputeStats(s.st.Tasks()))
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, s.sched.Snapshot())
}

func parseTimeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// handleSchedule previews execution dates per task in [start, end].
// Both bounds are RFC 3339; the window defaults to the next seven days.
// Dates are computed in the scheduler's timezone.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	loc := s.sched.Location()
	start, err := parseTimeParam(r, "start", s.now())
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "start: "+err.Error())
		return
	}
	end, err := parseTimeParam(r, "end", start.Add(defaultScheduleWindow))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "end: "+err.Error())
		return
	}
	if !end.After(start) {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "end must be after start")
		return
	}
	start, end = start.In(loc), end.In(loc)

	out := map[string][]time.Time{}
	for _, t := range s.st.Tasks() {
		if !t.Enabled() {
			continue
		}
		out[t.ID] = scheduler.ExecutionDates(t, start, end)
	}
	respondOK(w, r, out)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondOK(w, r, []any{})
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}
	entries, err := s.audit.RecentAudit(r.Context(), limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	respondOK(w, r, entries)
}
