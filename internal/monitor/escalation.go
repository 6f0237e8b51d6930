// Package monitor classifies board tasks that need attention and computes
// aggregate board metrics. Every function is pure: callers supply the task
// snapshot and the evaluation instant.
package monitor

import (
	"fmt"
	"math"
	"time"

	"taskboard/internal/core"
)

const (
	atRiskWindow   = 24 * time.Hour
	stallThreshold = 72 * time.Hour
)

// Kind identifies which rule produced an escalation.
type Kind string

const (
	KindOverdue Kind = "overdue"
	KindAtRisk  Kind = "at_risk"
	KindStalled Kind = "stalled"
)

// Escalation is the outcome of a matching rule.
type Escalation struct {
	Kind Kind
	// Hours overdue, rounded to the nearest hour. Set for KindOverdue.
	Hours int
	// Days without activity, rounded to the nearest day. Set for KindStalled.
	Days int
}

// Reason renders the escalation as the human readable alarm text.
func (e Escalation) Reason() string {
	switch e.Kind {
	case KindOverdue:
		return fmt.Sprintf("Task is OVERDUE by %d hours.", e.Hours)
	case KindAtRisk:
		return "High priority task is within 24 hours of deadline but hasn't started."
	case KindStalled:
		return fmt.Sprintf("Task has been stagnant for %d days.", e.Days)
	default:
		return ""
	}
}

func (e Escalation) String() string {
	return e.Reason()
}

// Evaluate applies the escalation rules to task at now. The first matching
// rule wins: done tasks never escalate, then overdue, then high priority
// tasks not started within 24 hours of the deadline, then in-progress tasks
// without activity for more than 72 hours.
//
// Zero timestamps are not rejected; they produce meaningless but well-formed
// escalations.
func Evaluate(task *core.Task, now time.Time) (Escalation, bool) {
	if task.Status == core.TaskStatusDone {
		return Escalation{}, false
	}

	remaining := task.Deadline.Sub(now)
	if remaining < 0 {
		return Escalation{Kind: KindOverdue, Hours: roundHours(-remaining)}, true
	}

	if task.Priority == core.PriorityHigh && remaining < atRiskWindow && task.Status == core.TaskStatusTodo {
		return Escalation{Kind: KindAtRisk}, true
	}

	idle := now.Sub(task.LastActivity())
	if task.Status == core.TaskStatusOnProgress && idle > stallThreshold {
		return Escalation{Kind: KindStalled, Days: int(math.Round(idle.Hours() / 24))}, true
	}

	return Escalation{}, false
}

func roundHours(d time.Duration) int {
	return int(math.Round(d.Hours()))
}
