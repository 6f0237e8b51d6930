package core

import "time"

// MonthRange returns the first instant of the month containing now and the
// first instant of the following month, both in loc.
func MonthRange(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// CurrentMonthFilter returns a filter limited to tasks created in the month
// containing now.
func CurrentMonthFilter(now time.Time, loc *time.Location) TaskFilter {
	start, end := MonthRange(now, loc)
	return TaskFilter{CreatedFrom: &start, CreatedBefore: &end}
}

// FilterForWatch builds the task filter a watch evaluates at now.
func FilterForWatch(w *Watch, now time.Time, loc *time.Location) TaskFilter {
	var filter TaskFilter
	if w.Scope != WatchScopeAll {
		filter = CurrentMonthFilter(now, loc)
	}
	if w.LeaderID != nil {
		filter.LeaderID = *w.LeaderID
	}
	if w.MemberID != nil {
		filter.MemberID = *w.MemberID
	}
	if w.ProjectID != nil {
		filter.ProjectID = *w.ProjectID
	}
	return filter
}
