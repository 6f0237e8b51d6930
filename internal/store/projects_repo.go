package store

import (
	"context"
	"fmt"

	"taskboard/internal/core"
)

func (s *Store) InsertProject(ctx context.Context, p *core.Project) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO projects (id, name, description, active) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, boolToInt(p.Active))
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// ListActiveProjects returns active projects ordered by name.
func (s *Store) ListActiveProjects(ctx context.Context) ([]*core.Project, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, description, active FROM projects
		WHERE active = 1
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var projects []*core.Project
	for rows.Next() {
		var (
			p      core.Project
			active int
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &active); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Active = active != 0
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}
