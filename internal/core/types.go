package core

import (
	"time"
)

// TaskStatus is the board column of a task. Values are ordered by progress.
type TaskStatus int

const (
	TaskStatusTodo       TaskStatus = 0
	TaskStatusOnProgress TaskStatus = 30
	TaskStatusStuck      TaskStatus = 45
	TaskStatusVerifying  TaskStatus = 50
	TaskStatusDone       TaskStatus = 60
)

// Valid reports whether s is one of the known board columns.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusOnProgress, TaskStatusStuck, TaskStatusVerifying, TaskStatusDone:
		return true
	}
	return false
}

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusTodo:
		return "todo"
	case TaskStatusOnProgress:
		return "on_progress"
	case TaskStatusStuck:
		return "stuck"
	case TaskStatusVerifying:
		return "verifying"
	case TaskStatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// Priority of a task.
type Priority string

const (
	PriorityLow  Priority = "low"
	PriorityMid  Priority = "mid"
	PriorityHigh Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMid || p == PriorityHigh
}

// TaskEvent is one entry of a task's activity timeline.
type TaskEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	UserID    string    `json:"userId"`
	Details   string    `json:"details,omitempty"`
}

// AlarmSettings controls push notifications for a single task.
type AlarmSettings struct {
	OverdueAlertEnabled    bool       `json:"overdueAlertEnabled"`
	CriticalThresholdHours int        `json:"criticalThresholdHours"`
	LastNotifiedAt         *time.Time `json:"lastNotifiedAt,omitempty"`
}

// Task is the storage shape of a board item.
type Task struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	Deadline     time.Time
	Priority     Priority
	ProjectType  string
	Members      []string
	LeaderID     string
	Partner      string
	Status       TaskStatus
	CreatedAt    time.Time
	CreatedBy    string
	Timeline     []TaskEvent
	Note         string
	Dependencies []string
	Alarms       *AlarmSettings
	UpdatedAt    time.Time
}

// LastActivity returns the timestamp of the newest timeline entry, or the
// creation time when the timeline is empty.
func (t *Task) LastActivity() time.Time {
	if n := len(t.Timeline); n > 0 {
		return t.Timeline[n-1].Timestamp
	}
	return t.CreatedAt
}

// TaskFilter narrows a task listing. Zero values mean "no constraint".
type TaskFilter struct {
	CreatedFrom   *time.Time // inclusive
	CreatedBefore *time.Time // exclusive
	LeaderID      string
	MemberID      string
	ProjectID     string
}

// Employee is an internal staff record, optionally linked to a Firebase uid.
type Employee struct {
	ID             string
	UID            string
	Email          string
	Name           string
	Role           string
	ProfilePicture string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Linked reports whether the employee has been claimed by a Firebase account.
func (e *Employee) Linked() bool {
	return e.UID != ""
}

// Project groups tasks.
type Project struct {
	ID          string
	Name        string
	Description string
	Active      bool
}

// WatchStatus describes whether a watch is scheduled.
type WatchStatus string

const (
	WatchStatusActive WatchStatus = "active"
	WatchStatusPaused WatchStatus = "paused"
)

// WatchScope selects which tasks a watch evaluates.
type WatchScope string

const (
	WatchScopeMonth WatchScope = "month"
	WatchScopeAll   WatchScope = "all"
)

// PassStatus describes the state of an individual monitoring pass.
type PassStatus string

const (
	PassStatusQueued    PassStatus = "queued"
	PassStatusRunning   PassStatus = "running"
	PassStatusSucceeded PassStatus = "succeeded"
	PassStatusFailed    PassStatus = "failed"
	PassStatusSkipped   PassStatus = "skipped"
)

// Watch is a saved monitoring scope evaluated on a cron schedule.
type Watch struct {
	ID        string
	Name      *string
	Cron      string
	Scope     WatchScope
	LeaderID  *string
	MemberID  *string
	ProjectID *string
	Notify    bool
	Status    WatchStatus
	LastRunAt *time.Time
	NextRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pass captures a single monitoring pass of a watch.
type Pass struct {
	ID          string
	WatchID     string
	Status      PassStatus
	ScheduledAt time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	TaskCount   int
	Velocity    float64
	Alarms      []string
	Error       *string
	CreatedAt   time.Time
}
