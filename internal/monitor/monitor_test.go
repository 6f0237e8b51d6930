package monitor

import (
	"reflect"
	"testing"
	"time"

	"taskboard/internal/core"
)

func TestVelocity(t *testing.T) {
	done := &core.Task{Status: core.TaskStatusDone}
	todo := &core.Task{Status: core.TaskStatusTodo}

	if got := Velocity(nil); got != 0 {
		t.Fatalf("expected 0 for empty set, got %v", got)
	}
	if got := Velocity([]*core.Task{done}); got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
	if got := Velocity([]*core.Task{done, todo}); got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
}

func TestWorkloadCountsEachMember(t *testing.T) {
	tasks := []*core.Task{
		{Status: core.TaskStatusTodo, Members: []string{"A", "B"}},
		{Status: core.TaskStatusOnProgress, Members: []string{"B"}},
		{Status: core.TaskStatusDone, Members: []string{"A", "C"}},
	}
	got := Workload(tasks)
	want := map[string]int{"A": 1, "B": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected workload: %v", got)
	}
	if _, ok := got["C"]; ok {
		t.Fatalf("member with only done tasks must be absent")
	}
}

func TestWorkloadSingleTask(t *testing.T) {
	got := Workload([]*core.Task{{Status: core.TaskStatusTodo, Members: []string{"A", "B"}}})
	if !reflect.DeepEqual(got, map[string]int{"A": 1, "B": 1}) {
		t.Fatalf("unexpected workload: %v", got)
	}
}

func TestBreakdown(t *testing.T) {
	tasks := []*core.Task{
		{Status: core.TaskStatusTodo},
		{Status: core.TaskStatusOnProgress},
		{Status: core.TaskStatusStuck},
		{Status: core.TaskStatusStuck},
		{Status: core.TaskStatusVerifying},
		{Status: core.TaskStatusDone},
		nil,
	}
	want := StatusBreakdown{Total: 6, Todo: 1, OnProgress: 1, Stuck: 2, Verifying: 1, Done: 1}
	if got := Breakdown(tasks); got != want {
		t.Fatalf("unexpected breakdown: %+v", got)
	}
}

func TestFeedPreservesOrderAndFormat(t *testing.T) {
	tasks := []*core.Task{
		{ID: "a", Title: "Stalled work", Status: core.TaskStatusOnProgress, Priority: core.PriorityLow, Deadline: now.Add(500 * time.Hour), CreatedAt: now.Add(-100 * time.Hour)},
		{ID: "b", Title: "Fine", Status: core.TaskStatusTodo, Priority: core.PriorityLow, Deadline: now.Add(500 * time.Hour), CreatedAt: now},
		nil,
		{ID: "c", Title: "Late", Status: core.TaskStatusTodo, Priority: core.PriorityLow, Deadline: now.Add(-2 * time.Hour), CreatedAt: now.Add(-10 * time.Hour)},
		{ID: "d", Title: "Finished", Status: core.TaskStatusDone, Deadline: now.Add(-2 * time.Hour), CreatedAt: now.Add(-10 * time.Hour)},
	}
	got := Feed(tasks, now)
	want := []string{
		"Stalled work: Task has been stagnant for 4 days.",
		"Late: Task is OVERDUE by 2 hours.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected feed: %#v", got)
	}
}

func TestFeedEmpty(t *testing.T) {
	if got := Feed(nil, now); len(got) != 0 {
		t.Fatalf("expected empty feed, got %#v", got)
	}
}

func TestMonitorScanSamplesClockOnce(t *testing.T) {
	calls := 0
	clock := func() time.Time {
		calls++
		return now.Add(time.Duration(calls) * 1000 * time.Hour)
	}
	tasks := []*core.Task{
		{ID: "a", Title: "A", Status: core.TaskStatusTodo, Priority: core.PriorityLow, Deadline: now.Add(1500 * time.Hour), CreatedAt: now},
		{ID: "b", Title: "B", Status: core.TaskStatusTodo, Priority: core.PriorityLow, Deadline: now.Add(1500 * time.Hour), CreatedAt: now},
	}
	report := New(clock).Scan(tasks)
	if calls != 1 {
		t.Fatalf("expected clock to be sampled once, got %d", calls)
	}
	if !report.GeneratedAt.Equal(now.Add(1000 * time.Hour)) {
		t.Fatalf("unexpected generated at %v", report.GeneratedAt)
	}
	if len(report.Alarms) != 0 {
		t.Fatalf("expected no alarms at the sampled instant, got %v", report.Feed())
	}
	if report.TaskCount != 2 || report.Velocity != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestScanAtReport(t *testing.T) {
	tasks := []*core.Task{
		{ID: "a", Title: "Late", Status: core.TaskStatusTodo, Priority: core.PriorityLow, Deadline: now.Add(-3 * time.Hour), CreatedAt: now.Add(-72 * time.Hour), Members: []string{"u1"}},
		{ID: "b", Title: "Done", Status: core.TaskStatusDone, Priority: core.PriorityLow, Deadline: now.Add(-3 * time.Hour), CreatedAt: now.Add(-72 * time.Hour), Members: []string{"u1", "u2"}},
	}
	report := ScanAt(tasks, now)
	if len(report.Alarms) != 1 || report.Alarms[0].TaskID != "a" || report.Alarms[0].Escalation.Kind != KindOverdue {
		t.Fatalf("unexpected alarms: %+v", report.Alarms)
	}
	if report.Velocity != 50 {
		t.Fatalf("expected velocity 50, got %v", report.Velocity)
	}
	if !reflect.DeepEqual(report.Workload, map[string]int{"u1": 1}) {
		t.Fatalf("unexpected workload: %v", report.Workload)
	}
	if report.Breakdown.Done != 1 || report.Breakdown.Todo != 1 {
		t.Fatalf("unexpected breakdown: %+v", report.Breakdown)
	}
}
