package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"taskboard/internal/core"
	"taskboard/internal/store"
	"taskboard/internal/watch"

	"github.com/go-chi/chi/v5"
)

type createWatchRequest struct {
	Name      *string `json:"name"`
	Cron      string  `json:"cron"`
	Scope     string  `json:"scope"`
	LeaderID  *string `json:"leader_id"`
	MemberID  *string `json:"member_id"`
	ProjectID *string `json:"project_id"`
	Notify    bool    `json:"notify"`
	Paused    bool    `json:"paused"`
}

type updateWatchRequest struct {
	Name      *string `json:"name"`
	Cron      *string `json:"cron"`
	Scope     *string `json:"scope"`
	LeaderID  *string `json:"leader_id"`
	MemberID  *string `json:"member_id"`
	ProjectID *string `json:"project_id"`
	Notify    *bool   `json:"notify"`
	Paused    *bool   `json:"paused"`
}

type watchResponse struct {
	ID        string  `json:"id"`
	Name      *string `json:"name,omitempty"`
	Cron      string  `json:"cron"`
	Scope     string  `json:"scope"`
	LeaderID  *string `json:"leader_id,omitempty"`
	MemberID  *string `json:"member_id,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`
	Notify    bool    `json:"notify"`
	Status    string  `json:"status"`
	LastRunAt *string `json:"last_run_at,omitempty"`
	NextRunAt *string `json:"next_run_at,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type passResponse struct {
	ID          string   `json:"id"`
	WatchID     string   `json:"watch_id"`
	Status      string   `json:"status"`
	ScheduledAt string   `json:"scheduled_at"`
	StartedAt   *string  `json:"started_at,omitempty"`
	EndedAt     *string  `json:"ended_at,omitempty"`
	TaskCount   int      `json:"task_count"`
	Velocity    float64  `json:"velocity"`
	Alarms      []string `json:"alarms"`
	Error       *string  `json:"error,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func (s *Server) handleCreateWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Cron = strings.TrimSpace(req.Cron)
	if req.Cron == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "cron expression is required")
		return
	}
	schedule, err := watch.ParseCron(req.Cron)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cron", err.Error())
		return
	}
	scope, ok := parseScope(req.Scope)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "scope must be month or all")
		return
	}

	status := core.WatchStatusActive
	if req.Paused {
		status = core.WatchStatusPaused
	}
	wt := &core.Watch{
		ID:        core.NewID(),
		Name:      trimmedPtr(req.Name),
		Cron:      req.Cron,
		Scope:     scope,
		LeaderID:  trimmedPtr(req.LeaderID),
		MemberID:  trimmedPtr(req.MemberID),
		ProjectID: trimmedPtr(req.ProjectID),
		Notify:    req.Notify,
		Status:    status,
	}
	if status == core.WatchStatusActive {
		next := watch.NextOccurrences(schedule, time.Now().In(s.location), 1)[0].UTC()
		wt.NextRunAt = &next
	}

	if err := s.store.InsertWatch(r.Context(), wt); err != nil {
		s.logger.Error("insert watch", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert watch")
		return
	}
	if wt.Status == core.WatchStatusActive {
		if err := s.scheduler.AddOrUpdateWatch(r.Context(), wt); err != nil {
			s.logger.Error("schedule watch", "watch_id", wt.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusCreated, watchToResponse(wt))
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.WatchStatus
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.WatchStatus(status)
		switch st {
		case core.WatchStatusActive, core.WatchStatusPaused:
			statusFilter = &st
		default:
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be active or paused")
			return
		}
	}
	watches, err := s.store.ListWatches(r.Context(), statusFilter)
	if err != nil {
		s.logger.Error("list watches", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list watches")
		return
	}
	res := make([]watchResponse, 0, len(watches))
	for _, wt := range watches {
		res = append(res, watchToResponse(wt))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetWatch(w http.ResponseWriter, r *http.Request) {
	wt, ok := s.loadWatch(w, r, chi.URLParam(r, "watchID"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, watchToResponse(wt))
}

func (s *Server) handleUpdateWatch(w http.ResponseWriter, r *http.Request) {
	watchID := chi.URLParam(r, "watchID")
	wt, ok := s.loadWatch(w, r, watchID)
	if !ok {
		return
	}

	var req updateWatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name != nil {
		wt.Name = trimmedPtr(req.Name)
	}
	cronChanged := false
	if req.Cron != nil {
		cronExpr := strings.TrimSpace(*req.Cron)
		if cronExpr == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "cron expression cannot be empty")
			return
		}
		if _, err := watch.ParseCron(cronExpr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cron", err.Error())
			return
		}
		wt.Cron = cronExpr
		cronChanged = true
	}
	if req.Scope != nil {
		scope, ok := parseScope(*req.Scope)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_input", "scope must be month or all")
			return
		}
		wt.Scope = scope
	}
	if req.LeaderID != nil {
		wt.LeaderID = trimmedPtr(req.LeaderID)
	}
	if req.MemberID != nil {
		wt.MemberID = trimmedPtr(req.MemberID)
	}
	if req.ProjectID != nil {
		wt.ProjectID = trimmedPtr(req.ProjectID)
	}
	if req.Notify != nil {
		wt.Notify = *req.Notify
	}
	statusChanged := false
	if req.Paused != nil {
		if *req.Paused && wt.Status != core.WatchStatusPaused {
			wt.Status = core.WatchStatusPaused
			statusChanged = true
		}
		if !*req.Paused && wt.Status != core.WatchStatusActive {
			wt.Status = core.WatchStatusActive
			statusChanged = true
		}
	}

	if wt.Status == core.WatchStatusActive && (cronChanged || statusChanged) {
		parsed, err := watch.ParseCron(wt.Cron)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cron", err.Error())
			return
		}
		next := watch.NextOccurrences(parsed, time.Now().In(s.location), 1)[0].UTC()
		wt.NextRunAt = &next
	}
	if wt.Status == core.WatchStatusPaused {
		wt.NextRunAt = nil
	}

	if err := s.store.UpdateWatch(r.Context(), wt); err != nil {
		if errors.Is(err, store.ErrWatchNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "watch not found")
			return
		}
		s.logger.Error("update watch", "watch_id", watchID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update watch")
		return
	}
	if err := s.scheduler.AddOrUpdateWatch(r.Context(), wt); err != nil {
		s.logger.Error("reschedule watch", "watch_id", wt.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, watchToResponse(wt))
}

func (s *Server) handleDeleteWatch(w http.ResponseWriter, r *http.Request) {
	watchID := chi.URLParam(r, "watchID")
	if err := s.store.DeleteWatch(r.Context(), watchID); err != nil {
		if errors.Is(err, store.ErrWatchNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "watch not found")
		} else {
			s.logger.Error("delete watch", "watch_id", watchID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete watch")
		}
		return
	}
	s.scheduler.RemoveWatch(watchID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunWatch(w http.ResponseWriter, r *http.Request) {
	watchID := chi.URLParam(r, "watchID")
	wt, ok := s.loadWatch(w, r, watchID)
	if !ok {
		return
	}
	pass, err := s.scheduler.RunWatchNow(r.Context(), wt)
	if err != nil {
		if errors.Is(err, watch.ErrPassRunning) {
			writeError(w, http.StatusConflict, "conflict", "watch is already running")
			return
		}
		s.logger.Error("run watch now", "watch_id", watchID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start pass")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"pass_id": pass.ID})
}

func (s *Server) handleListPasses(w http.ResponseWriter, r *http.Request) {
	watchID := chi.URLParam(r, "watchID")
	if _, ok := s.loadWatch(w, r, watchID); !ok {
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	passes, err := s.store.ListPasses(r.Context(), watchID, limit, offset)
	if err != nil {
		s.logger.Error("list passes", "watch_id", watchID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list passes")
		return
	}
	res := make([]passResponse, 0, len(passes))
	for _, p := range passes {
		res = append(res, passToResponse(p))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetPass(w http.ResponseWriter, r *http.Request) {
	passID := chi.URLParam(r, "passID")
	pass, err := s.store.GetPass(r.Context(), passID)
	if err != nil {
		if errors.Is(err, store.ErrPassNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "pass not found")
		} else {
			s.logger.Error("get pass", "pass_id", passID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load pass")
		}
		return
	}
	writeJSON(w, http.StatusOK, passToResponse(pass))
}

func (s *Server) loadWatch(w http.ResponseWriter, r *http.Request, watchID string) (*core.Watch, bool) {
	wt, err := s.store.GetWatch(r.Context(), watchID)
	if err != nil {
		if errors.Is(err, store.ErrWatchNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "watch not found")
		} else {
			s.logger.Error("get watch", "watch_id", watchID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load watch")
		}
		return nil, false
	}
	return wt, true
}

// parseScope defaults a blank scope to month.
func parseScope(raw string) (core.WatchScope, bool) {
	switch core.WatchScope(strings.TrimSpace(raw)) {
	case "", core.WatchScopeMonth:
		return core.WatchScopeMonth, true
	case core.WatchScopeAll:
		return core.WatchScopeAll, true
	}
	return "", false
}

func watchToResponse(wt *core.Watch) watchResponse {
	return watchResponse{
		ID:        wt.ID,
		Name:      wt.Name,
		Cron:      wt.Cron,
		Scope:     string(wt.Scope),
		LeaderID:  wt.LeaderID,
		MemberID:  wt.MemberID,
		ProjectID: wt.ProjectID,
		Notify:    wt.Notify,
		Status:    string(wt.Status),
		LastRunAt: formatTimePtr(wt.LastRunAt),
		NextRunAt: formatTimePtr(wt.NextRunAt),
		CreatedAt: formatTime(wt.CreatedAt),
		UpdatedAt: formatTime(wt.UpdatedAt),
	}
}

func passToResponse(p *core.Pass) passResponse {
	alarms := p.Alarms
	if alarms == nil {
		alarms = []string{}
	}
	return passResponse{
		ID:          p.ID,
		WatchID:     p.WatchID,
		Status:      string(p.Status),
		ScheduledAt: formatTime(p.ScheduledAt),
		StartedAt:   formatTimePtr(p.StartedAt),
		EndedAt:     formatTimePtr(p.EndedAt),
		TaskCount:   p.TaskCount,
		Velocity:    p.Velocity,
		Alarms:      alarms,
		Error:       p.Error,
		CreatedAt:   formatTime(p.CreatedAt),
	}
}
