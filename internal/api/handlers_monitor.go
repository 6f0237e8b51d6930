package api

import (
	"net/http"

	"taskboard/internal/monitor"
)

type alarmResponse struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Hours   int    `json:"hours,omitempty"`
	Days    int    `json:"days,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type alarmsResponse struct {
	GeneratedAt string          `json:"generated_at"`
	Alarms      []alarmResponse `json:"alarms"`
	Feed        []string        `json:"feed"`
}

type velocityResponse struct {
	GeneratedAt string  `json:"generated_at"`
	TaskCount   int     `json:"task_count"`
	Velocity    float64 `json:"velocity"`
}

type workloadResponse struct {
	GeneratedAt string         `json:"generated_at"`
	Workload    map[string]int `json:"workload"`
}

type dashboardResponse struct {
	GeneratedAt string                  `json:"generated_at"`
	TaskCount   int                     `json:"task_count"`
	Velocity    float64                 `json:"velocity"`
	Workload    map[string]int          `json:"workload"`
	Breakdown   monitor.StatusBreakdown `json:"breakdown"`
	Alarms      []alarmResponse         `json:"alarms"`
	Feed        []string                `json:"feed"`
}

// scan loads the tasks selected by the query and evaluates them against a
// single sampled instant.
func (s *Server) scan(w http.ResponseWriter, r *http.Request) (monitor.Report, bool) {
	now := s.monitor.Now()
	filter, ok := s.taskFilterFromQuery(w, r, now)
	if !ok {
		return monitor.Report{}, false
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.logger.Error("list tasks for monitor", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return monitor.Report{}, false
	}
	return monitor.ScanAt(tasks, now), true
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request) {
	report, ok := s.scan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, alarmsResponse{
		GeneratedAt: formatTime(report.GeneratedAt),
		Alarms:      alarmsToResponse(report.Alarms),
		Feed:        report.Feed(),
	})
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	report, ok := s.scan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, velocityResponse{
		GeneratedAt: formatTime(report.GeneratedAt),
		TaskCount:   report.TaskCount,
		Velocity:    report.Velocity,
	})
}

func (s *Server) handleWorkload(w http.ResponseWriter, r *http.Request) {
	report, ok := s.scan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, workloadResponse{
		GeneratedAt: formatTime(report.GeneratedAt),
		Workload:    report.Workload,
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	report, ok := s.scan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		GeneratedAt: formatTime(report.GeneratedAt),
		TaskCount:   report.TaskCount,
		Velocity:    report.Velocity,
		Workload:    report.Workload,
		Breakdown:   report.Breakdown,
		Alarms:      alarmsToResponse(report.Alarms),
		Feed:        report.Feed(),
	})
}

func alarmsToResponse(alarms []monitor.Alarm) []alarmResponse {
	res := make([]alarmResponse, 0, len(alarms))
	for _, a := range alarms {
		res = append(res, alarmResponse{
			TaskID:  a.TaskID,
			Title:   a.Title,
			Kind:    string(a.Escalation.Kind),
			Hours:   a.Escalation.Hours,
			Days:    a.Escalation.Days,
			Reason:  a.Escalation.Reason(),
			Message: a.String(),
		})
	}
	return res
}

