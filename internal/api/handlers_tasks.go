package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskboard/internal/core"
	"taskboard/internal/store"

	"github.com/go-chi/chi/v5"
)

// systemActor is recorded on status changes made without a known user.
const systemActor = "system"

type alarmSettingsBody struct {
	OverdueAlertEnabled    *bool `json:"overdue_alert_enabled"`
	CriticalThresholdHours *int  `json:"critical_threshold_hours"`
}

type createTaskRequest struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Deadline     string             `json:"deadline"`
	Priority     string             `json:"priority"`
	ProjectID    string             `json:"project_id"`
	ProjectType  string             `json:"project_type"`
	Members      []string           `json:"members"`
	LeaderID     string             `json:"leader_id"`
	Partner      string             `json:"partner"`
	Status       *int               `json:"status"`
	CreatedBy    string             `json:"created_by"`
	Note         string             `json:"note"`
	Dependencies []string           `json:"dependencies"`
	Alarms       *alarmSettingsBody `json:"alarms"`
}

type updateTaskRequest struct {
	Title        *string            `json:"title"`
	Description  *string            `json:"description"`
	Deadline     *string            `json:"deadline"`
	Priority     *string            `json:"priority"`
	ProjectID    *string            `json:"project_id"`
	ProjectType  *string            `json:"project_type"`
	Members      *[]string          `json:"members"`
	LeaderID     *string            `json:"leader_id"`
	Partner      *string            `json:"partner"`
	Status       *int               `json:"status"`
	Note         *string            `json:"note"`
	Dependencies *[]string          `json:"dependencies"`
	Alarms       *alarmSettingsBody `json:"alarms"`
	// UserID names the actor of a status change when no user is signed in.
	UserID       string             `json:"user_id"`
}

type appendEventRequest struct {
	Action  string `json:"action"`
	Details string `json:"details"`
	UserID  string `json:"user_id"`
}

type taskEventResponse struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	UserID    string `json:"user_id"`
	Details   string `json:"details,omitempty"`
}

type alarmSettingsResponse struct {
	OverdueAlertEnabled    bool    `json:"overdue_alert_enabled"`
	CriticalThresholdHours int     `json:"critical_threshold_hours"`
	LastNotifiedAt         *string `json:"last_notified_at,omitempty"`
}

type taskResponse struct {
	ID           string                 `json:"id"`
	ProjectID    string                 `json:"project_id"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	Deadline     string                 `json:"deadline"`
	Priority     string                 `json:"priority"`
	ProjectType  string                 `json:"project_type"`
	Members      []string               `json:"members"`
	LeaderID     string                 `json:"leader_id"`
	Partner      string                 `json:"partner"`
	Status       int                    `json:"status"`
	StatusName   string                 `json:"status_name"`
	CreatedAt    string                 `json:"created_at"`
	CreatedBy    string                 `json:"created_by"`
	Timeline     []taskEventResponse    `json:"timeline"`
	Note         string                 `json:"note"`
	Dependencies []string               `json:"dependencies"`
	Alarms       *alarmSettingsResponse `json:"alarms,omitempty"`
	UpdatedAt    string                 `json:"updated_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "title is required")
		return
	}
	deadline, err := parseDeadline(req.Deadline, s.location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	priority := core.Priority(strings.ToLower(strings.TrimSpace(req.Priority)))
	if !priority.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_input", "priority must be low, mid or high")
		return
	}
	status := core.TaskStatusTodo
	if req.Status != nil {
		status = core.TaskStatus(*req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be one of 0, 30, 45, 50, 60")
			return
		}
	}

	createdBy := currentUID(r)
	if createdBy == "" {
		createdBy = strings.TrimSpace(req.CreatedBy)
	}

	task := &core.Task{
		ID:           core.NewID(),
		ProjectID:    strings.TrimSpace(req.ProjectID),
		Title:        req.Title,
		Description:  req.Description,
		Deadline:     deadline,
		Priority:     priority,
		ProjectType:  req.ProjectType,
		Members:      cleanIDs(req.Members),
		LeaderID:     strings.TrimSpace(req.LeaderID),
		Partner:      req.Partner,
		Status:       status,
		CreatedBy:    createdBy,
		Note:         req.Note,
		Dependencies: cleanIDs(req.Dependencies),
	}
	if req.Alarms != nil {
		task.Alarms = applyAlarmSettings(nil, req.Alarms)
	}

	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.taskFilterFromQuery(w, r, s.monitor.Now())
	if !ok {
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	if r.URL.Query().Get("shape") == "card" {
		cards := make([]core.Card, 0, len(tasks))
		for _, t := range tasks {
			cards = append(cards, core.ToCard(t))
		}
		writeJSON(w, http.StatusOK, cards)
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, ok := s.loadTask(w, r, taskID)
	if !ok {
		return
	}
	if r.URL.Query().Get("shape") == "card" {
		writeJSON(w, http.StatusOK, core.ToCard(task))
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req updateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		title    string
		deadline time.Time
		priority core.Priority
		status   core.TaskStatus
	)
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "title cannot be empty")
			return
		}
	}
	if req.Deadline != nil {
		var err error
		if deadline, err = parseDeadline(*req.Deadline, s.location); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
	}
	if req.Priority != nil {
		priority = core.Priority(strings.ToLower(strings.TrimSpace(*req.Priority)))
		if !priority.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "priority must be low, mid or high")
			return
		}
	}
	if req.Status != nil {
		status = core.TaskStatus(*req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be one of 0, 30, 45, 50, 60")
			return
		}
	}
	actor := currentUID(r)
	if actor == "" {
		actor = strings.TrimSpace(req.UserID)
	}
	if actor == "" {
		actor = systemActor
	}

	task, err := s.store.UpdateTask(r.Context(), taskID, func(task *core.Task) error {
		if req.Title != nil {
			task.Title = title
		}
		if req.Description != nil {
			task.Description = *req.Description
		}
		if req.Deadline != nil {
			task.Deadline = deadline
		}
		if req.Priority != nil {
			task.Priority = priority
		}
		if req.ProjectID != nil {
			task.ProjectID = strings.TrimSpace(*req.ProjectID)
		}
		if req.ProjectType != nil {
			task.ProjectType = *req.ProjectType
		}
		if req.Members != nil {
			task.Members = cleanIDs(*req.Members)
		}
		if req.LeaderID != nil {
			task.LeaderID = strings.TrimSpace(*req.LeaderID)
		}
		if req.Partner != nil {
			task.Partner = *req.Partner
		}
		if req.Note != nil {
			task.Note = *req.Note
		}
		if req.Dependencies != nil {
			task.Dependencies = cleanIDs(*req.Dependencies)
		}
		if req.Alarms != nil {
			task.Alarms = applyAlarmSettings(task.Alarms, req.Alarms)
		}
		// A column move counts as activity for stall detection.
		if req.Status != nil && status != task.Status {
			task.Timeline = append(task.Timeline, core.TaskEvent{
				Timestamp: time.Now().UTC(),
				Action:    "status_changed",
				UserID:    actor,
				Details:   fmt.Sprintf("%s -> %s", task.Status, status),
			})
			task.Status = status
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("update task", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("delete task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendTaskEvent(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req appendEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "action is required")
		return
	}
	userID := currentUID(r)
	if userID == "" {
		userID = strings.TrimSpace(req.UserID)
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "user_id is required without a signed-in user")
		return
	}

	task, err := s.store.AppendTaskEvent(r.Context(), taskID, core.TaskEvent{
		Timestamp: time.Now().UTC(),
		Action:    action,
		UserID:    userID,
		Details:   req.Details,
	})
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("append task event", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to append event")
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request, taskID string) (*core.Task, bool) {
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return nil, false
	}
	return task, true
}

// taskFilterFromQuery reads scope, leader_id, member_id and project_id.
func (s *Server) taskFilterFromQuery(w http.ResponseWriter, r *http.Request, now time.Time) (core.TaskFilter, bool) {
	q := r.URL.Query()
	scope := s.defaultScope
	if raw := strings.TrimSpace(q.Get("scope")); raw != "" {
		scope = core.WatchScope(raw)
	}
	if scope != core.WatchScopeMonth && scope != core.WatchScopeAll {
		writeError(w, http.StatusBadRequest, "invalid_input", "scope must be month or all")
		return core.TaskFilter{}, false
	}
	var filter core.TaskFilter
	if scope == core.WatchScopeMonth {
		filter = core.CurrentMonthFilter(now, s.location)
	}
	filter.LeaderID = strings.TrimSpace(q.Get("leader_id"))
	filter.MemberID = strings.TrimSpace(q.Get("member_id"))
	filter.ProjectID = strings.TrimSpace(q.Get("project_id"))
	return filter, true
}

// parseDeadline accepts RFC 3339 timestamps or plain dates. A plain date
// means the end of that day in loc.
func parseDeadline(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("deadline is required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return d.Add(24*time.Hour - time.Second).UTC(), nil
	}
	return time.Time{}, errors.New("deadline must be RFC 3339 or YYYY-MM-DD")
}

func applyAlarmSettings(current *core.AlarmSettings, body *alarmSettingsBody) *core.AlarmSettings {
	settings := core.AlarmSettings{OverdueAlertEnabled: true}
	if current != nil {
		settings = *current
	}
	if body.OverdueAlertEnabled != nil {
		settings.OverdueAlertEnabled = *body.OverdueAlertEnabled
	}
	if body.CriticalThresholdHours != nil && *body.CriticalThresholdHours >= 0 {
		settings.CriticalThresholdHours = *body.CriticalThresholdHours
	}
	return &settings
}

// cleanIDs trims, drops blanks and removes duplicates while keeping order.
func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func taskToResponse(task *core.Task) taskResponse {
	timeline := make([]taskEventResponse, 0, len(task.Timeline))
	for _, ev := range task.Timeline {
		timeline = append(timeline, taskEventResponse{
			Timestamp: formatTime(ev.Timestamp),
			Action:    ev.Action,
			UserID:    ev.UserID,
			Details:   ev.Details,
		})
	}
	var alarms *alarmSettingsResponse
	if task.Alarms != nil {
		alarms = &alarmSettingsResponse{
			OverdueAlertEnabled:    task.Alarms.OverdueAlertEnabled,
			CriticalThresholdHours: task.Alarms.CriticalThresholdHours,
			LastNotifiedAt:         formatTimePtr(task.Alarms.LastNotifiedAt),
		}
	}
	members := task.Members
	if members == nil {
		members = []string{}
	}
	deps := task.Dependencies
	if deps == nil {
		deps = []string{}
	}
	return taskResponse{
		ID:           task.ID,
		ProjectID:    task.ProjectID,
		Title:        task.Title,
		Description:  task.Description,
		Deadline:     formatTime(task.Deadline),
		Priority:     string(task.Priority),
		ProjectType:  task.ProjectType,
		Members:      members,
		LeaderID:     task.LeaderID,
		Partner:      task.Partner,
		Status:       int(task.Status),
		StatusName:   task.Status.String(),
		CreatedAt:    formatTime(task.CreatedAt),
		CreatedBy:    task.CreatedBy,
		Timeline:     timeline,
		Note:         task.Note,
		Dependencies: deps,
		Alarms:       alarms,
		UpdatedAt:    formatTime(task.UpdatedAt),
	}
}
