package monitor

import (
	"time"

	"taskboard/internal/core"
)

// Alarm is an escalated task in a monitoring pass.
type Alarm struct {
	TaskID     string
	Title      string
	Escalation Escalation
}

// String renders the alarm as "<title>: <reason>".
func (a Alarm) String() string {
	return a.Title + ": " + a.Escalation.Reason()
}

// Alarms evaluates every task against the same instant and returns the
// escalated ones in input order. Nil entries are skipped.
func Alarms(tasks []*core.Task, now time.Time) []Alarm {
	var alarms []Alarm
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if esc, ok := Evaluate(t, now); ok {
			alarms = append(alarms, Alarm{TaskID: t.ID, Title: t.Title, Escalation: esc})
		}
	}
	return alarms
}

// Feed is Alarms rendered as strings.
func Feed(tasks []*core.Task, now time.Time) []string {
	return Report{Alarms: Alarms(tasks, now)}.Feed()
}

// Report is the full result of one monitoring pass.
type Report struct {
	GeneratedAt time.Time
	TaskCount   int
	Alarms      []Alarm
	Velocity    float64
	Workload    map[string]int
	Breakdown   StatusBreakdown
}

// Feed renders the report's alarms as strings.
func (r Report) Feed() []string {
	feed := make([]string, 0, len(r.Alarms))
	for _, a := range r.Alarms {
		feed = append(feed, a.String())
	}
	return feed
}

// Monitor runs monitoring passes with a fixed clock. It holds no other state
// and is safe for concurrent use.
type Monitor struct {
	now func() time.Time
}

// New returns a Monitor reading time from clock. A nil clock uses time.Now.
func New(clock func() time.Time) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{now: clock}
}

// Now samples the monitor's clock.
func (m *Monitor) Now() time.Time {
	return m.now()
}

// Scan samples the clock once and evaluates tasks against that instant.
func (m *Monitor) Scan(tasks []*core.Task) Report {
	return ScanAt(tasks, m.now())
}

// ScanAt builds a report for tasks evaluated at now.
func ScanAt(tasks []*core.Task, now time.Time) Report {
	count := 0
	for _, t := range tasks {
		if t != nil {
			count++
		}
	}
	return Report{
		GeneratedAt: now,
		TaskCount:   count,
		Alarms:      Alarms(tasks, now),
		Velocity:    Velocity(tasks),
		Workload:    Workload(tasks),
		Breakdown:   Breakdown(tasks),
	}
}
