package core

import (
	"testing"
	"time"
)

func TestMonthRange(t *testing.T) {
	now := time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)
	start, end := MonthRange(now, time.UTC)
	if !start.Equal(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	if !end.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", end)
	}
}

func TestFilterForWatch(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	member := "u1"
	f := FilterForWatch(&Watch{Scope: WatchScopeMonth, MemberID: &member}, now, time.UTC)
	if f.CreatedFrom == nil || f.CreatedBefore == nil || f.MemberID != "u1" || f.LeaderID != "" {
		t.Fatalf("unexpected month filter: %+v", f)
	}
	f = FilterForWatch(&Watch{Scope: WatchScopeAll}, now, time.UTC)
	if f.CreatedFrom != nil || f.CreatedBefore != nil {
		t.Fatalf("all scope must not bound creation time: %+v", f)
	}
}

func TestToCard(t *testing.T) {
	task := &Task{
		ID:           "t1",
		Title:        "Audit",
		ProjectType:  "Internal",
		Partner:      "Finance",
		Priority:     PriorityMid,
		Status:       TaskStatusStuck,
		CreatedAt:    time.Date(2025, 3, 1, 23, 0, 0, 0, time.FixedZone("X", -2*3600)),
		Deadline:     time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC),
		Note:         "https://proof",
		Dependencies: []string{"t0"},
	}
	card := ToCard(task)
	if card.Priority != "Medium" || card.Project != "Internal" || card.Goal != "Finance" || card.Proof != "https://proof" {
		t.Fatalf("unexpected card: %+v", card)
	}
	if card.StartDate != "2025-03-02" || card.DueDate != "2025-03-20" {
		t.Fatalf("unexpected dates: %s %s", card.StartDate, card.DueDate)
	}
	if !card.IsStuck || !card.HasDependency {
		t.Fatalf("unexpected flags: %+v", card)
	}
	if got := ToCard(&Task{Priority: "urgent"}).Priority; got != "Low" {
		t.Fatalf("unknown priority should map to Low, got %q", got)
	}
}

func TestLastActivity(t *testing.T) {
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	task := &Task{CreatedAt: created}
	if !task.LastActivity().Equal(created) {
		t.Fatalf("expected created at without timeline")
	}
	later := created.Add(48 * time.Hour)
	task.Timeline = []TaskEvent{{Timestamp: created.Add(time.Hour)}, {Timestamp: later}}
	if !task.LastActivity().Equal(later) {
		t.Fatalf("expected latest timeline entry")
	}
}
