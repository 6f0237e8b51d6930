package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"taskboard/internal/core"
	"taskboard/internal/monitor"
	"taskboard/internal/notify"
	"taskboard/internal/store"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 5)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func redisDeduper(t *testing.T) *notify.RedisDeduper {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	return notify.NewRedisDeduper(client, time.Hour)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingNotifier) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.sent...)
}

func seedBoard(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	tasks := []*core.Task{
		{ID: "late", Title: "Late", Priority: core.PriorityLow, Status: core.TaskStatusTodo, Deadline: now.Add(-5 * time.Hour),
			LeaderID: "lead-1", Members: []string{"u1"}, Alarms: &core.AlarmSettings{OverdueAlertEnabled: true, CriticalThresholdHours: 4}},
		{ID: "muted", Title: "Muted", Priority: core.PriorityLow, Status: core.TaskStatusStuck, Deadline: now.Add(-2 * time.Hour),
			LeaderID: "lead-1", Members: []string{"u2"}, Alarms: &core.AlarmSettings{OverdueAlertEnabled: false}},
		{ID: "fine", Title: "Fine", Priority: core.PriorityLow, Status: core.TaskStatusTodo, Deadline: now.Add(200 * time.Hour),
			LeaderID: "lead-1", Members: []string{"u1"}},
		{ID: "done", Title: "Done", Priority: core.PriorityHigh, Status: core.TaskStatusDone, Deadline: now.Add(-10 * time.Hour),
			LeaderID: "lead-1", Members: []string{"u1"}},
		{ID: "other", Title: "Other team", Priority: core.PriorityLow, Status: core.TaskStatusTodo, Deadline: now.Add(-1 * time.Hour),
			LeaderID: "lead-2"},
	}
	for _, task := range tasks {
		if err := st.InsertTask(ctx, task); err != nil {
			t.Fatalf("insert %s: %v", task.ID, err)
		}
	}
}

func newWatch(t *testing.T, st *store.Store, notifyOn bool) *core.Watch {
	t.Helper()
	leader := "lead-1"
	w := &core.Watch{
		ID:       core.NewID(),
		Cron:     "0 9 * * *",
		Scope:    core.WatchScopeMonth,
		LeaderID: &leader,
		Notify:   notifyOn,
		Status:   core.WatchStatusActive,
	}
	if err := st.InsertWatch(context.Background(), w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}
	return w
}

func queuePass(t *testing.T, st *store.Store, w *core.Watch) *core.Pass {
	t.Helper()
	pass := &core.Pass{ID: core.NewID(), WatchID: w.ID, Status: core.PassStatusQueued, ScheduledAt: time.Now().UTC()}
	if err := st.InsertPass(context.Background(), pass); err != nil {
		t.Fatalf("insert pass: %v", err)
	}
	return pass
}

func TestExecuteRecordsFeedAndNotifiesOnce(t *testing.T) {
	st := openStore(t)
	seedBoard(t, st)
	w := newWatch(t, st, true)
	notifier := &recordingNotifier{}
	exec := NewPassExecutor(st, monitor.New(nil), notifier, redisDeduper(t), testLogger(), time.UTC)
	ctx := context.Background()

	pass := queuePass(t, st, w)
	if err := exec.Execute(ctx, w, pass); err != nil {
		t.Fatalf("execute: %v", err)
	}
	stored, err := st.GetPass(ctx, pass.ID)
	if err != nil {
		t.Fatalf("get pass: %v", err)
	}
	if stored.Status != core.PassStatusSucceeded || stored.Error != nil {
		t.Fatalf("unexpected pass: %+v", stored)
	}
	if stored.TaskCount != 4 || stored.Velocity != 25 {
		t.Fatalf("unexpected metrics: count=%d velocity=%v", stored.TaskCount, stored.Velocity)
	}
	want := []string{"Late: Task is OVERDUE by 5 hours.", "Muted: Task is OVERDUE by 2 hours."}
	if len(stored.Alarms) != 2 || stored.Alarms[0] != want[0] || stored.Alarms[1] != want[1] {
		t.Fatalf("unexpected feed: %#v", stored.Alarms)
	}

	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one notification, got %+v", msgs)
	}
	if msgs[0].Title != "Late" || msgs[0].Body != "Task is OVERDUE by 5 hours." || !msgs[0].Critical {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
	late, err := st.GetTask(ctx, "late")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if late.Alarms.LastNotifiedAt == nil {
		t.Fatalf("expected last notified at to be recorded")
	}

	second := queuePass(t, st, w)
	if err := exec.Execute(ctx, w, second); err != nil {
		t.Fatalf("execute second: %v", err)
	}
	if got := len(notifier.messages()); got != 1 {
		t.Fatalf("expected dedupe to suppress repeat notification, got %d messages", got)
	}
	if stored, _ := st.GetPass(ctx, second.ID); len(stored.Alarms) != 2 {
		t.Fatalf("feed must still list alarms on repeat passes, got %#v", stored.Alarms)
	}
}

func TestExecuteWithoutNotify(t *testing.T) {
	st := openStore(t)
	seedBoard(t, st)
	w := newWatch(t, st, false)
	notifier := &recordingNotifier{}
	exec := NewPassExecutor(st, nil, notifier, nil, testLogger(), time.UTC)

	pass := queuePass(t, st, w)
	if err := exec.Execute(context.Background(), w, pass); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(notifier.messages()) != 0 {
		t.Fatalf("watch without notify must not push")
	}
	updated, err := st.GetWatch(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("get watch: %v", err)
	}
	if updated.LastRunAt == nil {
		t.Fatalf("expected last run at to be recorded")
	}
}

func TestExecuteNotificationFailureKeepsPass(t *testing.T) {
	st := openStore(t)
	seedBoard(t, st)
	w := newWatch(t, st, true)
	notifier := &recordingNotifier{err: errors.New("bark down")}
	deduper := redisDeduper(t)
	exec := NewPassExecutor(st, nil, notifier, deduper, testLogger(), time.UTC)
	ctx := context.Background()

	pass := queuePass(t, st, w)
	if err := exec.Execute(ctx, w, pass); err != nil {
		t.Fatalf("execute: %v", err)
	}
	stored, err := st.GetPass(ctx, pass.ID)
	if err != nil {
		t.Fatalf("get pass: %v", err)
	}
	if stored.Status != core.PassStatusSucceeded || stored.Error == nil {
		t.Fatalf("expected succeeded pass with error note, got %+v", stored)
	}
	if added, err := deduper.Add(ctx, notify.AlarmKey("late", string(monitor.KindOverdue))); err != nil || !added {
		t.Fatalf("failed delivery must release the dedupe key, got %v %v", added, err)
	}
}

type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, w *core.Watch, pass *core.Pass) error {
	b.started <- struct{}{}
	<-b.release
	return nil
}

func TestSchedulerRunNowAndSkip(t *testing.T) {
	st := openStore(t)
	w := newWatch(t, st, false)
	exec := &blockingExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
	sched := NewScheduler(st, exec, testLogger(), time.UTC)
	sched.Start(context.Background())
	ctx := context.Background()

	pass, err := sched.RunWatchNow(ctx, w)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	<-exec.started
	if _, err := sched.RunWatchNow(ctx, w); !errors.Is(err, ErrPassRunning) {
		t.Fatalf("expected ErrPassRunning, got %v", err)
	}

	sched.handleScheduledTrigger(w.ID, time.Now().UTC())
	close(exec.release)
	sched.Stop()

	passes, err := st.ListPasses(ctx, w.ID, 10, 0)
	if err != nil {
		t.Fatalf("list passes: %v", err)
	}
	var skipped, queued int
	for _, p := range passes {
		switch p.Status {
		case core.PassStatusSkipped:
			skipped++
		case core.PassStatusQueued:
			if p.ID == pass.ID {
				queued++
			}
		}
	}
	if len(passes) != 2 || skipped != 1 || queued != 1 {
		t.Fatalf("unexpected passes: %+v", passes)
	}
}

type countingExecutor struct {
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
}

func (c *countingExecutor) Execute(ctx context.Context, w *core.Watch, pass *core.Pass) error {
	c.mu.Lock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.mu.Unlock()
	<-c.release
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return nil
}

func TestSchedulerConcurrentRunNowClaimsOnce(t *testing.T) {
	st := openStore(t)
	w := newWatch(t, st, false)
	exec := &countingExecutor{release: make(chan struct{})}
	sched := NewScheduler(st, exec, testLogger(), time.UTC)
	sched.Start(context.Background())
	ctx := context.Background()

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := sched.RunWatchNow(ctx, w)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrPassRunning):
				rejected++
			default:
				t.Errorf("run now: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(exec.release)
	sched.Stop()

	if accepted != 1 || rejected != callers-1 {
		t.Fatalf("expected one accepted run, got accepted=%d rejected=%d", accepted, rejected)
	}
	if exec.peak != 1 {
		t.Fatalf("expected at most one pass at a time, got %d", exec.peak)
	}
	passes, err := st.ListPasses(ctx, w.ID, 20, 0)
	if err != nil {
		t.Fatalf("list passes: %v", err)
	}
	if len(passes) != 1 {
		t.Fatalf("expected one stored pass, got %d", len(passes))
	}

	// The slot is free again once the pass ends.
	exec.release = make(chan struct{})
	close(exec.release)
	if _, err := sched.RunWatchNow(ctx, w); err != nil {
		t.Fatalf("run after release: %v", err)
	}
	sched.Stop()
}

func TestSchedulerAddOrUpdateWatch(t *testing.T) {
	st := openStore(t)
	w := newWatch(t, st, false)
	sched := NewScheduler(st, &blockingExecutor{}, testLogger(), time.UTC)
	ctx := context.Background()

	if err := sched.AddOrUpdateWatch(ctx, w); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !sched.Scheduled(w.ID) || w.NextRunAt == nil {
		t.Fatalf("expected watch to be scheduled with next run")
	}
	stored, _ := st.GetWatch(ctx, w.ID)
	if stored.NextRunAt == nil || stored.NextRunAt.Hour() != 9 {
		t.Fatalf("unexpected stored next run: %v", stored.NextRunAt)
	}

	w.Status = core.WatchStatusPaused
	if err := sched.AddOrUpdateWatch(ctx, w); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if sched.Scheduled(w.ID) {
		t.Fatalf("paused watch must not be scheduled")
	}

	w.Cron = "bad cron"
	w.Status = core.WatchStatusActive
	if err := sched.AddOrUpdateWatch(ctx, w); err == nil {
		t.Fatalf("expected invalid cron to fail")
	}
}

func TestPreview(t *testing.T) {
	base := time.Date(2025, 3, 14, 8, 30, 0, 0, time.UTC)
	times, err := Preview("0 9 * * *", base, 0)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(times) != 5 || !times[0].Equal(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected preview: %v", times)
	}
	if _, err := Preview("@daily", base, 1); err == nil {
		t.Fatalf("descriptors must be rejected")
	}
}
