package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tms-tools/teamcal/internal/task"
)

// Querier is satisfied by both *sql.DB and *sql.Tx. Methods that take a
// Querier can run standalone or as part of a Transaction.
type Querier = querier

const taskColumns = `id, title, description, status, priority, progress, task_type,
	start_date, due_date, all_day, location, meeting_link, recurrence,
	google_event_id, parent_id, assignee_id, creator_id, assigned_by_id, team_id,
	created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*task.Task, error) {
	t := &task.Task{}
	var startDate, dueDate sql.NullTime
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Progress, &t.Type,
		&startDate, &dueDate, &t.AllDay, &t.Location, &t.MeetingLink, &t.Recurrence,
		&t.GoogleEventID, &t.ParentID, &t.AssigneeID, &t.CreatorID, &t.AssignedByID, &t.TeamID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startDate.Valid {
		t.StartDate = &startDate.Time
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	return t, nil
}

// GetTask loads a task with its team members and collaborators. Returns a
// task.NotFoundError when no row exists.
func (s *Store) GetTask(ctx context.Context, q Querier, id string) (*task.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &task.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if t.TeamMembers, err = s.taskPeople(ctx, q, "task_members", t.ID); err != nil {
		return nil, err
	}
	if t.Collaborators, err = s.taskPeople(ctx, q, "task_collaborators", t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) taskPeople(ctx context.Context, q Querier, joinTable, taskID string) ([]task.Person, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT u.id, u.first_name, u.last_name, u.name, u.email
		FROM `+joinTable+` j JOIN users u ON u.id = j.user_id
		WHERE j.task_id = $1 ORDER BY u.id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task users: %w", err)
	}
	defer rows.Close()

	var people []task.Person
	for rows.Next() {
		var p task.Person
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Name, &p.Email); err != nil {
			return nil, fmt.Errorf("failed to scan task user: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// TaskFilter narrows ListTasks. Zero-value fields are ignored.
type TaskFilter struct {
	AssigneeID string
	CreatorID  string
	TeamID     string
	ParentID   string
	Status     task.Status
	RootsOnly  bool // only tasks without a parent
}

// ListTasks returns tasks matching the filter, newest first. Membership
// lists are not loaded; use GetTask for the full record.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*task.Task, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if f.AssigneeID != "" {
		add("assignee_id = ", f.AssigneeID)
	}
	if f.CreatorID != "" {
		add("creator_id = ", f.CreatorID)
	}
	if f.TeamID != "" {
		add("team_id = ", f.TeamID)
	}
	if f.ParentID != "" {
		add("parent_id = ", f.ParentID)
	}
	if f.Status != "" {
		add("status = ", string(f.Status))
	}
	if f.RootsOnly {
		conds = append(conds, "parent_id = ''")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateTask inserts a task and its membership rows.
func (s *Store) CreateTask(ctx context.Context, q Querier, t *task.Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		t.ID, t.Title, t.Description, t.Status, t.Priority, t.Progress, t.Type,
		nullTime(t.StartDate), nullTime(t.DueDate), t.AllDay, t.Location, t.MeetingLink, t.Recurrence,
		t.GoogleEventID, t.ParentID, t.AssigneeID, t.CreatorID, t.AssignedByID, t.TeamID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return s.replaceMemberships(ctx, q, t)
}

// SaveTask writes the full task row and replaces its membership rows.
func (s *Store) SaveTask(ctx context.Context, q Querier, t *task.Task) error {
	res, err := q.ExecContext(ctx, `
		UPDATE tasks SET title = $1, description = $2, status = $3, priority = $4,
			progress = $5, task_type = $6, start_date = $7, due_date = $8, all_day = $9,
			location = $10, meeting_link = $11, recurrence = $12, google_event_id = $13,
			parent_id = $14, assignee_id = $15, assigned_by_id = $16, team_id = $17,
			updated_at = $18
		WHERE id = $19`,
		t.Title, t.Description, t.Status, t.Priority,
		t.Progress, t.Type, nullTime(t.StartDate), nullTime(t.DueDate), t.AllDay,
		t.Location, t.MeetingLink, t.Recurrence, t.GoogleEventID,
		t.ParentID, t.AssigneeID, t.AssignedByID, t.TeamID,
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &task.NotFoundError{Kind: "task", ID: t.ID}
	}
	return s.replaceMemberships(ctx, q, t)
}

func (s *Store) replaceMemberships(ctx context.Context, q Querier, t *task.Task) error {
	for _, stmt := range []string{
		`DELETE FROM task_members WHERE task_id = $1`,
		`DELETE FROM task_collaborators WHERE task_id = $1`,
	} {
		if _, err := q.ExecContext(ctx, stmt, t.ID); err != nil {
			return fmt.Errorf("failed to clear task memberships: %w", err)
		}
	}
	for _, m := range t.TeamMembers {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO task_members (task_id, user_id, role) VALUES ($1, $2, 'MEMBER')`,
			t.ID, m.ID); err != nil {
			return fmt.Errorf("failed to add team member: %w", err)
		}
	}
	for _, c := range t.Collaborators {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO task_collaborators (task_id, user_id) VALUES ($1, $2)`,
			t.ID, c.ID); err != nil {
			return fmt.Errorf("failed to add collaborator: %w", err)
		}
	}
	return nil
}

// SetTaskProgress updates only the status/progress pair. Used for both the
// reconciled child write and the derived parent aggregate inside one
// transaction.
func (s *Store) SetTaskProgress(ctx context.Context, q Querier, id string, status task.Status, progress int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE tasks SET status = $1, progress = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`,
		status, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &task.NotFoundError{Kind: "task", ID: id}
	}
	return nil
}

// SetGoogleEventID stores the external event id after a successful push.
func (s *Store) SetGoogleEventID(ctx context.Context, q Querier, taskID, eventID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE tasks SET google_event_id = $1 WHERE id = $2`, eventID, taskID)
	if err != nil {
		return fmt.Errorf("failed to store calendar event id: %w", err)
	}
	return nil
}

// SubtaskStatuses returns the statuses of a parent's direct children.
func (s *Store) SubtaskStatuses(ctx context.Context, q Querier, parentID string) ([]task.Status, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT status FROM tasks WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subtask statuses: %w", err)
	}
	defer rows.Close()

	var statuses []task.Status
	for rows.Next() {
		var s task.Status
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan subtask status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// HasSubtasks reports whether the task has direct children. Used to keep
// the subtask tree two levels deep.
func (s *Store) HasSubtasks(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tasks WHERE parent_id = $1`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count subtasks: %w", err)
	}
	return n > 0, nil
}

// DeleteTask removes a task, its subtasks and its membership rows.
func (s *Store) DeleteTask(ctx context.Context, q Querier, id string) error {
	for _, stmt := range []string{
		`DELETE FROM task_members WHERE task_id = $1 OR task_id IN (SELECT id FROM tasks WHERE parent_id = $1)`,
		`DELETE FROM task_collaborators WHERE task_id = $1 OR task_id IN (SELECT id FROM tasks WHERE parent_id = $1)`,
		`DELETE FROM tasks WHERE parent_id = $1`,
	} {
		if _, err := q.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete task rows: %w", err)
		}
	}
	res, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &task.NotFoundError{Kind: "task", ID: id}
	}
	return nil
}

// GetUser loads a user projection plus the organization role.
func (s *Store) GetUser(ctx context.Context, id string) (task.Person, string, error) {
	var p task.Person
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, name, email, role FROM users WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.Name, &p.Email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Person{}, "", &task.NotFoundError{Kind: "user", ID: id}
	}
	if err != nil {
		return task.Person{}, "", fmt.Errorf("failed to get user: %w", err)
	}
	return p, role, nil
}

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, p task.Person, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, first_name, last_name, name, email, role) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.FirstName, p.LastName, p.Name, p.Email, role)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
