package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskboard/internal/core"
)

var ErrPassNotFound = errors.New("pass not found")

const passColumns = `id, watch_id, status, scheduled_at, started_at, ended_at, task_count, velocity, alarms, error, created_at`

func (s *Store) InsertPass(ctx context.Context, pass *core.Pass) error {
	pass.CreatedAt = time.Now().UTC()
	alarms, err := encodeList(pass.Alarms)
	if err != nil {
		return fmt.Errorf("encode pass alarms: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO passes (`+passColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pass.ID, pass.WatchID, string(pass.Status), formatTime(pass.ScheduledAt), nullableTime(pass.StartedAt),
		nullableTime(pass.EndedAt), pass.TaskCount, pass.Velocity, alarms, nullableString(pass.Error),
		formatTime(pass.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}
	return nil
}

func (s *Store) MarkPassStarted(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE passes
		SET status = ?, started_at = ?
		WHERE id = ?
	`, string(core.PassStatusRunning), formatTime(startedAt), id)
	if err != nil {
		return fmt.Errorf("mark pass started: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPassNotFound
	}
	return nil
}

// MarkPassCompleted stores the outcome of a pass: its status, end time,
// metrics, alarm feed and error.
func (s *Store) MarkPassCompleted(ctx context.Context, pass *core.Pass) error {
	alarms, err := encodeList(pass.Alarms)
	if err != nil {
		return fmt.Errorf("encode pass alarms: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE passes
		SET status = ?, ended_at = ?, task_count = ?, velocity = ?, alarms = ?, error = ?
		WHERE id = ?
	`, string(pass.Status), nullableTime(pass.EndedAt), pass.TaskCount, pass.Velocity, alarms,
		nullableString(pass.Error), pass.ID)
	if err != nil {
		return fmt.Errorf("mark pass completed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPassNotFound
	}
	return nil
}

func (s *Store) GetPass(ctx context.Context, id string) (*core.Pass, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?`, id)
	pass, err := scanPass(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPassNotFound
		}
		return nil, err
	}
	return pass, nil
}

// ListPasses returns a watch's passes, newest first.
func (s *Store) ListPasses(ctx context.Context, watchID string, limit, offset int) ([]*core.Pass, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+passColumns+`
		FROM passes
		WHERE watch_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, watchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()
	var passes []*core.Pass
	for rows.Next() {
		pass, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		passes = append(passes, pass)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return passes, nil
}

// PrunePasses deletes a watch's passes beyond the retention limit.
func (s *Store) PrunePasses(ctx context.Context, watchID string) error {
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM passes
		WHERE watch_id = ? AND id IN (
			SELECT id FROM passes
			WHERE watch_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`, watchID, watchID, s.PassRetention)
	if err != nil {
		return fmt.Errorf("prune passes: %w", err)
	}
	return nil
}

func scanPass(scanner interface {
	Scan(dest ...any) error
}) (*core.Pass, error) {
	var (
		pass        core.Pass
		status      string
		scheduledAt string
		startedAt   sql.NullString
		endedAt     sql.NullString
		alarms      string
		errMsg      sql.NullString
		createdAt   string
	)
	if err := scanner.Scan(&pass.ID, &pass.WatchID, &status, &scheduledAt, &startedAt, &endedAt, &pass.TaskCount,
		&pass.Velocity, &alarms, &errMsg, &createdAt); err != nil {
		return nil, fmt.Errorf("scan pass: %w", err)
	}
	pass.Status = core.PassStatus(status)
	pass.ScheduledAt = mustParseTime(scheduledAt)
	pass.StartedAt = timePtr(startedAt)
	pass.EndedAt = timePtr(endedAt)
	pass.Error = stringPtr(errMsg)
	pass.CreatedAt = mustParseTime(createdAt)
	if err := json.Unmarshal([]byte(alarms), &pass.Alarms); err != nil {
		return nil, fmt.Errorf("decode alarms of pass %s: %w", pass.ID, err)
	}
	return &pass, nil
}
