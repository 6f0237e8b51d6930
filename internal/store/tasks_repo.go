package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/internal/core"
)

var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `id, project_id, title, description, deadline, priority, project_type, members, leader_id,
	partner, status, created_at, created_by, timeline, note, dependencies, alarms, updated_at`

// InsertTask stores a new task. The creation time is assigned here and a
// missing timeline starts empty.
func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Timeline == nil {
		task.Timeline = []core.TaskEvent{}
	}
	cols, err := encodeTaskDocuments(task)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.ProjectID, task.Title, task.Description, formatTime(task.Deadline), string(task.Priority),
		task.ProjectType, cols.members, task.LeaderID, task.Partner, int(task.Status), formatTime(task.CreatedAt),
		task.CreatedBy, cols.timeline, task.Note, cols.dependencies, cols.alarms, formatTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask applies fn to the stored task and saves every mutable field.
// The read and the write share one transaction, so concurrent timeline
// appends and notification marks are never overwritten by a stale copy. An
// error from fn aborts the update and is returned unchanged.
func (s *Store) UpdateTask(ctx context.Context, id string, fn func(task *core.Task) error) (*core.Task, error) {
	return s.mutateTask(ctx, id, fn)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks matching filter, oldest first.
func (s *Store) ListTasks(ctx context.Context, filter core.TaskFilter) ([]*core.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.CreatedFrom != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.CreatedFrom))
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*filter.CreatedBefore))
	}
	if filter.LeaderID != "" {
		where = append(where, "leader_id = ?")
		args = append(args, filter.LeaderID)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.MemberID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(tasks.members) WHERE json_each.value = ?)")
		args = append(args, filter.MemberID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// AppendTaskEvent adds ev to the end of the task's timeline.
func (s *Store) AppendTaskEvent(ctx context.Context, id string, ev core.TaskEvent) (*core.Task, error) {
	return s.mutateTask(ctx, id, func(task *core.Task) error {
		task.Timeline = append(task.Timeline, ev)
		return nil
	})
}

// MarkTaskNotified records when a push notification was last sent for the task.
func (s *Store) MarkTaskNotified(ctx context.Context, id string, at time.Time) error {
	_, err := s.mutateTask(ctx, id, func(task *core.Task) error {
		if task.Alarms == nil {
			task.Alarms = &core.AlarmSettings{OverdueAlertEnabled: true}
		}
		notified := at.UTC()
		task.Alarms.LastNotifiedAt = &notified
		return nil
	})
	return err
}

// mutateTask loads, modifies and saves a task within one transaction.
func (s *Store) mutateTask(ctx context.Context, id string, fn func(task *core.Task) error) (*core.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	task.ID = id
	task.UpdatedAt = time.Now().UTC()
	cols, err := encodeTaskDocuments(task)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET project_id = ?, title = ?, description = ?, deadline = ?, priority = ?, project_type = ?, members = ?,
			leader_id = ?, partner = ?, status = ?, timeline = ?, note = ?, dependencies = ?, alarms = ?, updated_at = ?
		WHERE id = ?
	`, task.ProjectID, task.Title, task.Description, formatTime(task.Deadline), string(task.Priority), task.ProjectType,
		cols.members, task.LeaderID, task.Partner, int(task.Status), cols.timeline, task.Note, cols.dependencies,
		cols.alarms, formatTime(task.UpdatedAt), id); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit task: %w", err)
	}
	return task, nil
}

type taskDocuments struct {
	members      string
	timeline     string
	dependencies string
	alarms       any
}

func encodeTaskDocuments(task *core.Task) (taskDocuments, error) {
	var docs taskDocuments
	var err error
	if docs.members, err = encodeList(task.Members); err != nil {
		return docs, fmt.Errorf("encode members: %w", err)
	}
	timeline := task.Timeline
	if timeline == nil {
		timeline = []core.TaskEvent{}
	}
	data, err := json.Marshal(timeline)
	if err != nil {
		return docs, fmt.Errorf("encode timeline: %w", err)
	}
	docs.timeline = string(data)
	if docs.dependencies, err = encodeList(task.Dependencies); err != nil {
		return docs, fmt.Errorf("encode dependencies: %w", err)
	}
	if task.Alarms != nil {
		data, err := json.Marshal(task.Alarms)
		if err != nil {
			return docs, fmt.Errorf("encode alarms: %w", err)
		}
		docs.alarms = string(data)
	}
	return docs, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		task         core.Task
		deadline     string
		priority     string
		members      string
		status       int
		createdAt    string
		timeline     string
		dependencies string
		alarms       sql.NullString
		updatedAt    string
	)
	if err := scanner.Scan(&task.ID, &task.ProjectID, &task.Title, &task.Description, &deadline, &priority,
		&task.ProjectType, &members, &task.LeaderID, &task.Partner, &status, &createdAt, &task.CreatedBy,
		&timeline, &task.Note, &dependencies, &alarms, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Priority = core.Priority(priority)
	task.Status = core.TaskStatus(status)
	task.Deadline = mustParseTime(deadline)
	task.CreatedAt = mustParseTime(createdAt)
	task.UpdatedAt = mustParseTime(updatedAt)
	if err := json.Unmarshal([]byte(members), &task.Members); err != nil {
		return nil, fmt.Errorf("decode members of task %s: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(timeline), &task.Timeline); err != nil {
		return nil, fmt.Errorf("decode timeline of task %s: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(dependencies), &task.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies of task %s: %w", task.ID, err)
	}
	if alarms.Valid {
		var settings core.AlarmSettings
		if err := json.Unmarshal([]byte(alarms.String), &settings); err != nil {
			return nil, fmt.Errorf("decode alarms of task %s: %w", task.ID, err)
		}
		task.Alarms = &settings
	}
	return &task, nil
}
