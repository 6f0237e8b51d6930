package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskboard/internal/core"
)

var (
	ErrEmployeeNotFound = errors.New("employee not found")
	// ErrEmployeeLinked is returned when the employee or the uid is already claimed.
	ErrEmployeeLinked = errors.New("employee already linked")
)

const employeeColumns = `id, uid, email, name, role, profile_picture, created_at, updated_at`

func (s *Store) InsertEmployee(ctx context.Context, emp *core.Employee) error {
	now := time.Now().UTC()
	emp.CreatedAt = now
	emp.UpdatedAt = now
	var uid *string
	if emp.UID != "" {
		uid = &emp.UID
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, emp.ID, nullableString(uid), emp.Email, emp.Name, emp.Role, emp.ProfilePicture,
		formatTime(emp.CreatedAt), formatTime(emp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}

// GetEmployeeByUID returns the employee linked to a Firebase uid.
func (s *Store) GetEmployeeByUID(ctx context.Context, uid string) (*core.Employee, error) {
	if uid == "" {
		return nil, ErrEmployeeNotFound
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE uid = ?`, uid)
	emp, err := scanEmployee(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmployeeNotFound
		}
		return nil, err
	}
	return emp, nil
}

// ListEmployees returns every employee ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]*core.Employee, error) {
	return s.queryEmployees(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY name ASC, id ASC`)
}

// ListUnlinkedEmployees returns employees no account has claimed yet, by name.
func (s *Store) ListUnlinkedEmployees(ctx context.Context) ([]*core.Employee, error) {
	return s.queryEmployees(ctx, `
		SELECT `+employeeColumns+` FROM employees
		WHERE uid IS NULL OR uid = ''
		ORDER BY name ASC, id ASC
	`)
}

func (s *Store) queryEmployees(ctx context.Context, query string) ([]*core.Employee, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()
	var employees []*core.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return employees, nil
}

// LinkEmployee binds uid to the employee record. Both sides must be unclaimed,
// except that relinking the same pair is a no-op.
func (s *Store) LinkEmployee(ctx context.Context, employeeID, uid string) (*core.Employee, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	emp, err := scanEmployee(tx.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, employeeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmployeeNotFound
		}
		return nil, err
	}
	if emp.UID == uid {
		return emp, nil
	}
	if emp.Linked() {
		return nil, ErrEmployeeLinked
	}
	var claimed int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM employees WHERE uid = ?`, uid).Scan(&claimed); err != nil {
		return nil, fmt.Errorf("check uid: %w", err)
	}
	if claimed > 0 {
		return nil, ErrEmployeeLinked
	}
	emp.UID = uid
	emp.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE employees SET uid = ?, updated_at = ? WHERE id = ?`,
		uid, formatTime(emp.UpdatedAt), employeeID); err != nil {
		return nil, fmt.Errorf("link employee: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit link: %w", err)
	}
	return emp, nil
}

func scanEmployee(scanner interface {
	Scan(dest ...any) error
}) (*core.Employee, error) {
	var (
		emp       core.Employee
		uid       sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&emp.ID, &uid, &emp.Email, &emp.Name, &emp.Role, &emp.ProfilePicture, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan employee: %w", err)
	}
	emp.UID = uid.String
	emp.CreatedAt = mustParseTime(createdAt)
	emp.UpdatedAt = mustParseTime(updatedAt)
	return &emp, nil
}
