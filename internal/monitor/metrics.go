package monitor

import "taskboard/internal/core"

// Velocity returns the percentage of tasks that are done. An empty
// collection has a velocity of 0.
func Velocity(tasks []*core.Task) float64 {
	total, done := 0, 0
	for _, t := range tasks {
		if t == nil {
			continue
		}
		total++
		if t.Status == core.TaskStatusDone {
			done++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// Workload counts open tasks per member. A task with N members adds one to
// each of them; done tasks add nothing, and members without open tasks are
// absent from the result.
func Workload(tasks []*core.Task) map[string]int {
	dist := make(map[string]int)
	for _, t := range tasks {
		if t == nil || t.Status == core.TaskStatusDone {
			continue
		}
		for _, member := range t.Members {
			dist[member]++
		}
	}
	return dist
}

// StatusBreakdown counts tasks per board column.
type StatusBreakdown struct {
	Total      int `json:"total"`
	Todo       int `json:"todo"`
	OnProgress int `json:"on_progress"`
	Stuck      int `json:"stuck"`
	Verifying  int `json:"verifying"`
	Done       int `json:"done"`
}

// Breakdown tallies tasks by status. Unknown statuses only count towards
// the total.
func Breakdown(tasks []*core.Task) StatusBreakdown {
	var b StatusBreakdown
	for _, t := range tasks {
		if t == nil {
			continue
		}
		b.Total++
		switch t.Status {
		case core.TaskStatusTodo:
			b.Todo++
		case core.TaskStatusOnProgress:
			b.OnProgress++
		case core.TaskStatusStuck:
			b.Stuck++
		case core.TaskStatusVerifying:
			b.Verifying++
		case core.TaskStatusDone:
			b.Done++
		}
	}
	return b
}
