package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Task statuses.
const (
	StatusOpen = "open"
	StatusDone = "done"
)

// ErrTaskExists is returned when a source message is already tracked.
var ErrTaskExists = errors.New("store: task already exists for source message")

// ErrTaskNotFound is returned when no task matches the lookup.
var ErrTaskNotFound = errors.New("store: task not found")

// Task is a promoted message.
type Task struct {
	ID          int64
	Content     string
	CreatorName string
	CreatorID   int64
	Status      string

	SourceChannel   string
	SourceTopic     string
	SourceMessageID int64

	CardChannel   string
	CardTopic     string
	CardMessageID int64 // 0 until the card is posted

	OwnTopic    bool
	CreatedAt   time.Time
	CompletedAt *time.Time
	CompletedBy string
}

// Assignee is a (task, user) pairing.
type Assignee struct {
	TaskID     int64
	UserName   string
	AssignedAt time.Time
}

// TaskWithAssignees pairs a task with its current assignee list.
type TaskWithAssignees struct {
	Task      Task
	Assignees []Assignee
}

const taskColumns = `id, content, creator_name, creator_id, status,
	source_channel, source_topic, source_message_id,
	card_channel, card_topic, COALESCE(card_message_id, 0),
	own_topic, created_at, completed_at, completed_by`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var (
		t           Task
		createdAt   string
		completedAt sql.NullString
		ownTopic    int
	)
	err := row.Scan(&t.ID, &t.Content, &t.CreatorName, &t.CreatorID, &t.Status,
		&t.SourceChannel, &t.SourceTopic, &t.SourceMessageID,
		&t.CardChannel, &t.CardTopic, &t.CardMessageID,
		&ownTopic, &createdAt, &completedAt, &t.CompletedBy)
	if err != nil {
		return Task{}, err
	}
	t.OwnTopic = ownTopic != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid && completedAt.String != "" {
		ts, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			t.CompletedAt = &ts
		}
	}
	return t, nil
}

// CreateTask inserts a new open task. Returns ErrTaskExists when the
// source message id is already tracked (the idempotent duplicate guard).
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	t.Status = StatusOpen
	t.CreatedAt = time.Now().UTC().Truncate(time.Second)

	ownTopic := 0
	if t.OwnTopic {
		ownTopic = 1
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (content, creator_name, creator_id, status,
			source_channel, source_topic, source_message_id,
			own_topic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Content, t.CreatorName, t.CreatorID, t.Status,
		t.SourceChannel, t.SourceTopic, t.SourceMessageID,
		ownTopic, t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTaskExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (Task, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return t, err
}

// TaskBySource fetches the task promoted from the given source message.
func (s *Store) TaskBySource(ctx context.Context, sourceMessageID int64) (Task, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE source_message_id = ?`, sourceMessageID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return t, err
}

// TaskByCard fetches the task whose rendered card is the given message.
func (s *Store) TaskByCard(ctx context.Context, cardMessageID int64) (Task, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE card_message_id = ?`, cardMessageID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return t, err
}

// SetTaskCard records the posted card location back onto the task row.
func (s *Store) SetTaskCard(ctx context.Context, taskID int64, channel, topic string, messageID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET card_channel = ?, card_topic = ?, card_message_id = ? WHERE id = ?`,
		channel, topic, messageID, taskID)
	if err != nil {
		return fmt.Errorf("set task card: %w", err)
	}
	return nil
}

// CompleteTask flips a task to done with completion metadata.
func (s *Store) CompleteTask(ctx context.Context, taskID int64, completedBy string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, completed_by = ? WHERE id = ?`,
		StatusDone, at.UTC().Format(time.RFC3339), completedBy, taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// ReopenTask flips a task back to open and clears completion metadata.
func (s *Store) ReopenTask(ctx context.Context, taskID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = NULL, completed_by = '' WHERE id = ?`,
		StatusOpen, taskID)
	if err != nil {
		return fmt.Errorf("reopen task: %w", err)
	}
	return nil
}

// AddAssignees attaches users to a task in one transaction. Users
// already assigned are skipped (the pairing is unique).
func (s *Store) AddAssignees(ctx context.Context, taskID int64, users []string) error {
	if len(users) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignees: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_assignees (task_id, user_name, assigned_at) VALUES (?, ?, ?)`,
			taskID, u, now); err != nil {
			return fmt.Errorf("insert assignee %q: %w", u, err)
		}
	}
	return tx.Commit()
}

// RemoveAssignee detaches a user from a task. Removing an absent
// assignment is a no-op.
func (s *Store) RemoveAssignee(ctx context.Context, taskID int64, user string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM task_assignees WHERE task_id = ? AND user_name = ?`, taskID, user)
	if err != nil {
		return fmt.Errorf("remove assignee: %w", err)
	}
	return nil
}

// Assignees returns the current assignee list of a task, oldest first.
func (s *Store) Assignees(ctx context.Context, taskID int64) ([]Assignee, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT task_id, user_name, assigned_at FROM task_assignees
		 WHERE task_id = ? ORDER BY assigned_at, user_name`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	var out []Assignee
	for rows.Next() {
		var (
			a  Assignee
			at string
		)
		if err := rows.Scan(&a.TaskID, &a.UserName, &at); err != nil {
			return nil, err
		}
		a.AssignedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// TasksFor returns tasks for a user in two ordered groups: assigned to
// the user, then created by the user and not already in the first group.
// Matching is case-insensitive.
func (s *Store) TasksFor(ctx context.Context, userName string) (assigned, created []TaskWithAssignees, err error) {
	assignedRows, err := s.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE id IN (SELECT task_id FROM task_assignees WHERE lower(user_name) = lower(?))
		 ORDER BY id`, userName)
	if err != nil {
		return nil, nil, fmt.Errorf("query assigned tasks: %w", err)
	}
	assigned, err = s.collectTasks(ctx, assignedRows)
	if err != nil {
		return nil, nil, err
	}

	createdRows, err := s.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE lower(creator_name) = lower(?)
		   AND id NOT IN (SELECT task_id FROM task_assignees WHERE lower(user_name) = lower(?))
		 ORDER BY id`, userName, userName)
	if err != nil {
		return nil, nil, fmt.Errorf("query created tasks: %w", err)
	}
	created, err = s.collectTasks(ctx, createdRows)
	if err != nil {
		return nil, nil, err
	}
	return assigned, created, nil
}

func (s *Store) collectTasks(ctx context.Context, rows *sql.Rows) ([]TaskWithAssignees, error) {
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TaskWithAssignees, 0, len(tasks))
	for _, t := range tasks {
		as, err := s.Assignees(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, TaskWithAssignees{Task: t, Assignees: as})
	}
	return out, nil
}
