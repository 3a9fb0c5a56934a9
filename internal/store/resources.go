package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Platform resources the built-in tools operate on. All deletes are hard
// deletes; the policy layer is what makes them safe to expose.

type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Prompt struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id,omitempty"`
	Name      string    `json:"name"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Workflow struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"project_id,omitempty"`
	Name       string    `json:"name"`
	Definition string    `json:"definition,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Dataset struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id,omitempty"`
	Name      string    `json:"name"`
	RowCount  int64     `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		name, description, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Project{ID: id, Name: name, Description: description, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProject(ctx context.Context, id int64, name, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		name, description, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	return requireRow(res, "project", id)
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return requireRow(res, "project", id)
}

func (s *Store) CreatePrompt(ctx context.Context, projectID int64, name, content string) (*Prompt, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (project_id, name, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		projectID, name, content, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating prompt: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Prompt{ID: id, ProjectID: projectID, Name: name, Content: content, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetPrompt(ctx context.Context, id int64) (*Prompt, error) {
	var p Prompt
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, content, created_at, updated_at FROM prompts WHERE id = ?`, id).
		Scan(&p.ID, &p.ProjectID, &p.Name, &p.Content, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("prompt %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying prompt: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPrompts(ctx context.Context, projectID int64) ([]Prompt, error) {
	query := `SELECT id, project_id, name, content, created_at, updated_at FROM prompts`
	args := []interface{}{}
	if projectID > 0 {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying prompts: %w", err)
	}
	defer rows.Close()
	var out []Prompt
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Content, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePrompt(ctx context.Context, id int64, name, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prompts SET name = ?, content = ?, updated_at = ? WHERE id = ?`,
		name, content, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating prompt: %w", err)
	}
	return requireRow(res, "prompt", id)
}

func (s *Store) DeletePrompt(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting prompt: %w", err)
	}
	return requireRow(res, "prompt", id)
}

func (s *Store) CreateWorkflow(ctx context.Context, projectID int64, name, definition string) (*Workflow, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (project_id, name, definition, status, created_at, updated_at) VALUES (?, ?, ?, 'idle', ?, ?)`,
		projectID, name, definition, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Workflow{ID: id, ProjectID: projectID, Name: name, Definition: definition, Status: "idle", CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	var w Workflow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, definition, status, created_at, updated_at FROM workflows WHERE id = ?`, id).
		Scan(&w.ID, &w.ProjectID, &w.Name, &w.Definition, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying workflow: %w", err)
	}
	return &w, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, definition, status, created_at, updated_at FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer rows.Close()
	var out []Workflow
	for rows.Next() {
		var w Workflow
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Definition, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetWorkflowStatus moves a workflow between idle/running/canceled.
func (s *Store) SetWorkflowStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating workflow status: %w", err)
	}
	return requireRow(res, "workflow", id)
}

func (s *Store) DeleteWorkflow(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	return requireRow(res, "workflow", id)
}

func (s *Store) CreateDataset(ctx context.Context, projectID int64, name string) (*Dataset, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (project_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		projectID, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating dataset: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Dataset{ID: id, ProjectID: projectID, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetDataset(ctx context.Context, id int64) (*Dataset, error) {
	var d Dataset
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, row_count, created_at, updated_at FROM datasets WHERE id = ?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Name, &d.RowCount, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dataset %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying dataset: %w", err)
	}
	return &d, nil
}

func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, row_count, created_at, updated_at FROM datasets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying datasets: %w", err)
	}
	defer rows.Close()
	var out []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.RowCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDataset(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET name = ?, updated_at = ? WHERE id = ?`, name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating dataset: %w", err)
	}
	return requireRow(res, "dataset", id)
}

func (s *Store) DeleteDataset(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting dataset: %w", err)
	}
	return requireRow(res, "dataset", id)
}

func (s *Store) CreateTag(ctx context.Context, name string) (*Tag, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (name, created_at) VALUES (?, ?)`, name, now)
	if err != nil {
		return nil, fmt.Errorf("creating tag: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Tag{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM tags ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()
	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tag: %w", err)
	}
	return requireRow(res, "tag", id)
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
