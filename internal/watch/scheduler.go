// Package watch runs saved monitoring scopes on cron schedules and records
// each evaluation as a pass.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskboard/internal/core"

	"github.com/robfig/cron/v3"
)

// ErrPassRunning is returned when a watch already has a pass in flight.
var ErrPassRunning = errors.New("watch pass is already running")

// Store abstracts the persistence layer used by the scheduler and executor.
type Store interface {
	// Watch operations
	GetWatch(ctx context.Context, id string) (*core.Watch, error)
	ListWatches(ctx context.Context, status *core.WatchStatus) ([]*core.Watch, error)
	UpdateWatchScheduleInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	UpdateWatchNextRun(ctx context.Context, id string, nextRunAt *time.Time) error

	// Pass operations
	InsertPass(ctx context.Context, pass *core.Pass) error
	MarkPassStarted(ctx context.Context, id string, startedAt time.Time) error
	MarkPassCompleted(ctx context.Context, pass *core.Pass) error
	PrunePasses(ctx context.Context, watchID string) error

	// Task operations
	ListTasks(ctx context.Context, filter core.TaskFilter) ([]*core.Task, error)
	MarkTaskNotified(ctx context.Context, id string, at time.Time) error
}

// Executor evaluates a watch for one pass.
type Executor interface {
	Execute(ctx context.Context, w *core.Watch, pass *core.Pass) error
}

// Scheduler manages cron-based scheduling and dispatching of watch passes.
type Scheduler struct {
	store    Store
	executor Executor
	logger   *slog.Logger
	location *time.Location

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[string]cron.EntryID

	running sync.Map // watchID -> struct{}{}
	wg      sync.WaitGroup

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, executor Executor, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(location),
	)
	return &Scheduler{
		store:    store,
		executor: executor,
		logger:   logger,
		location: location,
		cron:     c,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start begins the scheduling loop. ctx is used for background operations (DB updates, passes).
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops the cron loop and waits for in-flight passes to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Sync loads all watches from the store and ensures they are scheduled appropriately.
func (s *Scheduler) Sync(ctx context.Context) error {
	watches, err := s.store.ListWatches(ctx, nil)
	if err != nil {
		return fmt.Errorf("list watches: %w", err)
	}
	for _, w := range watches {
		if w.Status == core.WatchStatusActive {
			if err := s.scheduleWatch(ctx, w); err != nil {
				s.logger.Error("schedule watch", "watch_id", w.ID, "err", err)
			}
		} else {
			s.unscheduleWatch(w.ID)
		}
	}
	return nil
}

// AddOrUpdateWatch updates the scheduler entry for a watch that may have been created or modified.
func (s *Scheduler) AddOrUpdateWatch(ctx context.Context, w *core.Watch) error {
	s.unscheduleWatch(w.ID)
	if w.Status == core.WatchStatusActive {
		if err := s.scheduleWatch(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// RemoveWatch stops scheduling for the given watch ID.
func (s *Scheduler) RemoveWatch(watchID string) {
	s.unscheduleWatch(watchID)
}

// RunWatchNow enqueues an immediate pass for the watch if none is running.
func (s *Scheduler) RunWatchNow(ctx context.Context, w *core.Watch) (*core.Pass, error) {
	if !s.claimWatch(w.ID) {
		return nil, ErrPassRunning
	}
	pass := &core.Pass{
		ID:          core.NewID(),
		WatchID:     w.ID,
		Status:      core.PassStatusQueued,
		ScheduledAt: time.Now().UTC(),
	}
	if err := s.store.InsertPass(ctx, pass); err != nil {
		s.releaseWatch(w.ID)
		return nil, err
	}
	s.launchPass(w, pass)
	return pass, nil
}

// Scheduled reports whether the watch currently has a cron entry.
func (s *Scheduler) Scheduled(watchID string) bool {
	_, ok := s.getEntryID(watchID)
	return ok
}

func (s *Scheduler) scheduleWatch(ctx context.Context, w *core.Watch) error {
	schedule, err := ParseCron(w.Cron)
	if err != nil {
		return err
	}
	now := time.Now().In(s.location)
	nextTimes := NextOccurrences(schedule, now, 1)
	if len(nextTimes) == 1 {
		nextUTC := nextTimes[0].UTC()
		w.NextRunAt = &nextUTC
		if err := s.store.UpdateWatchNextRun(ctx, w.ID, &nextUTC); err != nil {
			s.logger.Warn("update next_run_at failed", "watch_id", w.ID, "err", err)
		}
	}
	watchID := w.ID
	job := func() {
		entryID, ok := s.getEntryID(watchID)
		if !ok {
			return
		}
		entry := s.cron.Entry(entryID)
		scheduledAt := entry.Prev
		if scheduledAt.IsZero() {
			scheduledAt = time.Now().In(s.location)
		}
		if next := entry.Next; !next.IsZero() {
			nextUTC := next.UTC()
			if err := s.store.UpdateWatchNextRun(s.ctxOrBackground(), watchID, &nextUTC); err != nil {
				s.logger.Error("update next_run_at", "watch_id", watchID, "err", err)
			}
		}
		s.handleScheduledTrigger(watchID, scheduledAt.In(time.UTC))
	}
	entryID := s.cron.Schedule(schedule, cron.FuncJob(job))
	s.setEntryID(w.ID, entryID)
	return nil
}

func (s *Scheduler) handleScheduledTrigger(watchID string, scheduledAt time.Time) {
	ctx := s.ctxOrBackground()
	w, err := s.store.GetWatch(ctx, watchID)
	if err != nil {
		s.logger.Error("fetch watch for scheduled pass", "watch_id", watchID, "err", err)
		return
	}
	if w.Status != core.WatchStatusActive {
		return
	}
	if !s.claimWatch(w.ID) {
		s.logger.Info("skipping pass because watch is already running", "watch_id", w.ID)
		pass := &core.Pass{
			ID:          core.NewID(),
			WatchID:     w.ID,
			Status:      core.PassStatusSkipped,
			ScheduledAt: scheduledAt,
		}
		if err := s.store.InsertPass(ctx, pass); err != nil {
			s.logger.Error("record skipped pass", "watch_id", w.ID, "err", err)
		}
		return
	}
	pass := &core.Pass{
		ID:          core.NewID(),
		WatchID:     w.ID,
		Status:      core.PassStatusQueued,
		ScheduledAt: scheduledAt,
	}
	if err := s.store.InsertPass(ctx, pass); err != nil {
		s.releaseWatch(w.ID)
		s.logger.Error("insert pass", "watch_id", w.ID, "err", err)
		return
	}
	s.launchPass(w, pass)
}

// launchPass runs pass in the background. The caller must hold the watch's
// running slot; it is released when the pass ends.
func (s *Scheduler) launchPass(w *core.Watch, pass *core.Pass) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseWatch(w.ID)
		ctx := s.ctxOrBackground()
		if err := s.executor.Execute(ctx, w, pass); err != nil {
			s.logger.Error("execute pass", "watch_id", w.ID, "pass_id", pass.ID, "err", err)
		}
		if err := s.store.PrunePasses(ctx, w.ID); err != nil {
			s.logger.Warn("prune passes", "watch_id", w.ID, "err", err)
		}
	}()
}

func (s *Scheduler) setEntryID(watchID string, entryID cron.EntryID) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	s.entries[watchID] = entryID
}

func (s *Scheduler) getEntryID(watchID string) (cron.EntryID, bool) {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	id, ok := s.entries[watchID]
	return id, ok
}

func (s *Scheduler) unscheduleWatch(watchID string) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if entryID, ok := s.entries[watchID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, watchID)
	}
}

// claimWatch takes the watch's running slot and reports false if another
// pass already holds it.
func (s *Scheduler) claimWatch(watchID string) bool {
	_, loaded := s.running.LoadOrStore(watchID, struct{}{})
	return !loaded
}

func (s *Scheduler) releaseWatch(watchID string) {
	s.running.Delete(watchID)
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
