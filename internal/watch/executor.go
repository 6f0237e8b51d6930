package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskboard/internal/core"
	"taskboard/internal/monitor"
	"taskboard/internal/notify"
)

// PassExecutor evaluates a watch's tasks with the monitoring engine, stores
// the resulting feed on the pass and optionally pushes the alarms.
type PassExecutor struct {
	store    Store
	monitor  *monitor.Monitor
	notifier notify.Notifier
	deduper  notify.Deduper
	logger   *slog.Logger
	location *time.Location
}

// NewPassExecutor creates a new executor. A nil notifier or deduper disables
// that stage.
func NewPassExecutor(store Store, mon *monitor.Monitor, notifier notify.Notifier, deduper notify.Deduper, logger *slog.Logger, location *time.Location) *PassExecutor {
	if mon == nil {
		mon = monitor.New(nil)
	}
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	if deduper == nil {
		deduper = notify.NoOpDeduper{}
	}
	if location == nil {
		location = time.Local
	}
	return &PassExecutor{
		store:    store,
		monitor:  mon,
		notifier: notifier,
		deduper:  deduper,
		logger:   logger,
		location: location,
	}
}

// Execute runs one monitoring pass and records its outcome.
func (e *PassExecutor) Execute(ctx context.Context, w *core.Watch, pass *core.Pass) error {
	startedAt := time.Now().UTC()
	if err := e.store.MarkPassStarted(ctx, pass.ID, startedAt); err != nil {
		return fmt.Errorf("mark pass started: %w", err)
	}
	if err := e.store.UpdateWatchScheduleInfo(ctx, w.ID, &startedAt, w.NextRunAt); err != nil {
		e.logger.Warn("update watch schedule info", "watch_id", w.ID, "err", err)
	}
	pass.StartedAt = &startedAt

	now := e.monitor.Now()
	tasks, err := e.store.ListTasks(ctx, core.FilterForWatch(w, now, e.location))
	if err != nil {
		e.complete(ctx, pass, core.PassStatusFailed, fmt.Sprintf("list tasks: %v", err))
		return fmt.Errorf("list tasks: %w", err)
	}

	report := monitor.ScanAt(tasks, now)
	pass.TaskCount = report.TaskCount
	pass.Velocity = report.Velocity
	pass.Alarms = report.Feed()

	var errMsg string
	if w.Notify && len(report.Alarms) > 0 {
		if err := e.notifyAlarms(ctx, tasks, report.Alarms, now); err != nil {
			e.logger.Warn("notify alarms", "watch_id", w.ID, "pass_id", pass.ID, "err", err)
			errMsg = err.Error()
		}
	}
	return e.complete(ctx, pass, core.PassStatusSucceeded, errMsg)
}

func (e *PassExecutor) complete(ctx context.Context, pass *core.Pass, status core.PassStatus, errMsg string) error {
	endedAt := time.Now().UTC()
	pass.Status = status
	pass.EndedAt = &endedAt
	pass.Error = nil
	if errMsg != "" {
		pass.Error = &errMsg
	}
	if err := e.store.MarkPassCompleted(ctx, pass); err != nil {
		return fmt.Errorf("mark pass completed: %w", err)
	}
	return nil
}

// notifyAlarms pushes each alarm whose task allows it. A task's alarm is sent
// at most once per dedupe window; failures are joined and never abort the pass.
func (e *PassExecutor) notifyAlarms(ctx context.Context, tasks []*core.Task, alarms []monitor.Alarm, now time.Time) error {
	byID := make(map[string]*core.Task, len(tasks))
	for _, t := range tasks {
		if t != nil {
			byID[t.ID] = t
		}
	}
	var errs []error
	for _, alarm := range alarms {
		task := byID[alarm.TaskID]
		if task == nil {
			continue
		}
		if task.Alarms != nil && !task.Alarms.OverdueAlertEnabled {
			continue
		}
		key := notify.AlarmKey(task.ID, string(alarm.Escalation.Kind))
		added, err := e.deduper.Add(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("dedupe %s: %w", task.ID, err))
			continue
		}
		if !added {
			continue
		}
		msg := notify.Message{
			Title:    alarm.Title,
			Body:     alarm.Escalation.Reason(),
			Critical: critical(task, alarm.Escalation),
		}
		if err := e.notifier.Send(ctx, msg); err != nil {
			if rmErr := e.deduper.Remove(ctx, key); rmErr != nil {
				e.logger.Warn("release dedupe key", "task_id", task.ID, "err", rmErr)
			}
			errs = append(errs, fmt.Errorf("send %s: %w", task.ID, err))
			continue
		}
		if err := e.store.MarkTaskNotified(ctx, task.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("mark notified %s: %w", task.ID, err))
		}
	}
	return errors.Join(errs...)
}

// critical reports whether an overdue alarm has crossed the task's threshold.
func critical(task *core.Task, esc monitor.Escalation) bool {
	if esc.Kind != monitor.KindOverdue || task.Alarms == nil || task.Alarms.CriticalThresholdHours <= 0 {
		return false
	}
	return esc.Hours >= task.Alarms.CriticalThresholdHours
}
