package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskboard/internal/core"
)

var ErrWatchNotFound = errors.New("watch not found")

const watchColumns = `id, name, cron, scope, leader_id, member_id, project_id, notify, status,
	last_run_at, next_run_at, created_at, updated_at`

func (s *Store) InsertWatch(ctx context.Context, w *core.Watch) error {
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO watches (`+watchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, nullableString(w.Name), w.Cron, string(w.Scope), nullableString(w.LeaderID), nullableString(w.MemberID),
		nullableString(w.ProjectID), boolToInt(w.Notify), string(w.Status), nullableTime(w.LastRunAt),
		nullableTime(w.NextRunAt), formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert watch: %w", err)
	}
	return nil
}

func (s *Store) UpdateWatch(ctx context.Context, w *core.Watch) error {
	w.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE watches
		SET name = ?, cron = ?, scope = ?, leader_id = ?, member_id = ?, project_id = ?, notify = ?, status = ?,
			next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableString(w.Name), w.Cron, string(w.Scope), nullableString(w.LeaderID), nullableString(w.MemberID),
		nullableString(w.ProjectID), boolToInt(w.Notify), string(w.Status), nullableTime(w.NextRunAt),
		formatTime(w.UpdatedAt), w.ID)
	if err != nil {
		return fmt.Errorf("update watch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update watch rows: %w", err)
	}
	if rows == 0 {
		return ErrWatchNotFound
	}
	return nil
}

// DeleteWatch removes a watch; its passes go with it.
func (s *Store) DeleteWatch(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM watches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete watch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWatchNotFound
	}
	return nil
}

func (s *Store) GetWatch(ctx context.Context, id string) (*core.Watch, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+watchColumns+` FROM watches WHERE id = ?`, id)
	w, err := scanWatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWatchNotFound
		}
		return nil, err
	}
	return w, nil
}

// ListWatches returns watches, optionally restricted to one status.
func (s *Store) ListWatches(ctx context.Context, status *core.WatchStatus) ([]*core.Watch, error) {
	query := `SELECT ` + watchColumns + ` FROM watches`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watches: %w", err)
	}
	defer rows.Close()
	var watches []*core.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return watches, nil
}

func (s *Store) UpdateWatchScheduleInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE watches
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(lastRunAt), nullableTime(nextRunAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update watch schedule info: %w", err)
	}
	return nil
}

func (s *Store) UpdateWatchNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE watches
		SET next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(nextRunAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

func scanWatch(scanner interface {
	Scan(dest ...any) error
}) (*core.Watch, error) {
	var (
		w         core.Watch
		name      sql.NullString
		scope     string
		leaderID  sql.NullString
		memberID  sql.NullString
		projectID sql.NullString
		notify    int
		status    string
		lastRunAt sql.NullString
		nextRunAt sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&w.ID, &name, &w.Cron, &scope, &leaderID, &memberID, &projectID, &notify, &status,
		&lastRunAt, &nextRunAt, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan watch: %w", err)
	}
	w.Name = stringPtr(name)
	w.Scope = core.WatchScope(scope)
	w.LeaderID = stringPtr(leaderID)
	w.MemberID = stringPtr(memberID)
	w.ProjectID = stringPtr(projectID)
	w.Notify = notify != 0
	w.Status = core.WatchStatus(status)
	w.LastRunAt = timePtr(lastRunAt)
	w.NextRunAt = timePtr(nextRunAt)
	w.CreatedAt = mustParseTime(createdAt)
	w.UpdatedAt = mustParseTime(updatedAt)
	return &w, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t := mustParseTime(v.String)
	return &t
}
