package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rezkam/taskstream/internal/domain"
)

const taskColumns = `id, user_id, title, description, completed, priority, tags, due_at, recurrence_id, created_at, updated_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var priority string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed,
		&priority, &t.Tags, &t.DueAt, &t.RecurrenceID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = domain.Priority(priority)
	return &t, nil
}

// InsertTask persists a new task row.
func (s *Store) InsertTask(ctx context.Context, t *domain.Task) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO tasks (id, user_id, title, description, completed, priority, tags, due_at, recurrence_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, t.Title, t.Description, t.Completed, string(t.Priority),
		tags, t.DueAt, t.RecurrenceID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", mapError(err))
	}
	return nil
}

// GetTask loads a task scoped by user.
func (s *Store) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`,
		taskID, userID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", mapError(err))
	}
	return t, nil
}

// GetTaskForUpdate loads a task with a row lock. Only meaningful inside a
// transaction.
func (s *Store) GetTaskForUpdate(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		taskID, userID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task for update: %w", mapError(err))
	}
	return t, nil
}

// GetTaskByID loads a task by primary key without user scoping; used by
// internal workers acting on rows referenced by durable jobs.
func (s *Store) GetTaskByID(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", mapError(err))
	}
	return t, nil
}

// UpdateTask writes all mutable columns of the task row.
func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE tasks
		SET title = $3, description = $4, completed = $5, priority = $6,
		    tags = $7, due_at = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2`,
		t.ID, t.UserID, t.Title, t.Description, t.Completed, string(t.Priority),
		tags, t.DueAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", mapError(err))
	}
	return checkRowsAffected(tag.RowsAffected(), domain.ErrTaskNotFound, t.ID)
}

// DeleteTask removes the task row. Reminders cascade via FK; when the task
// is a recurrence template its rule cascades too, detaching descendants.
func (s *Store) DeleteTask(ctx context.Context, userID, taskID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", mapError(err))
	}
	return checkRowsAffected(tag.RowsAffected(), domain.ErrTaskNotFound, taskID)
}

// priorityRank is the sort rank of the priority column, lowest rank first.
const priorityRank = `CASE priority
	WHEN 'critical' THEN 0 WHEN 'high' THEN 1
	WHEN 'normal' THEN 2 ELSE 3 END`

func priorityRankOf(p domain.Priority) int {
	switch p {
	case domain.PriorityCritical:
		return 0
	case domain.PriorityHigh:
		return 1
	case domain.PriorityNormal:
		return 2
	default:
		return 3
	}
}

// ListTasks returns one filtered, ordered, keyset-paginated page.
func (s *Store) ListTasks(ctx context.Context, userID string, params domain.ListTasksParams) (*domain.TaskPage, error) {
	sortKey := params.SortBy
	if sortKey == "" {
		sortKey = "created_at"
	}
	cursor, err := decodeCursor(params.Cursor, sortKey)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1`)
	args := []any{userID}

	switch params.Status {
	case domain.StatusFilterPending:
		sb.WriteString(` AND completed = FALSE`)
	case domain.StatusFilterCompleted:
		sb.WriteString(` AND completed = TRUE`)
	}
	if params.Priority != nil {
		args = append(args, string(*params.Priority))
		fmt.Fprintf(&sb, ` AND priority = $%d`, len(args))
	}
	if params.Tag != nil {
		// Tags are normalised to lowercase at write time.
		args = append(args, strings.ToLower(strings.TrimSpace(*params.Tag)))
		fmt.Fprintf(&sb, ` AND $%d = ANY(tags)`, len(args))
	}
	if params.DueBefore != nil {
		args = append(args, *params.DueBefore)
		fmt.Fprintf(&sb, ` AND due_at < $%d`, len(args))
	}
	if params.DueAfter != nil {
		args = append(args, *params.DueAfter)
		fmt.Fprintf(&sb, ` AND due_at > $%d`, len(args))
	}

	// The continuation predicate resumes strictly after the cursor row under
	// the same total order the ORDER BY establishes.
	switch sortKey {
	case "due_at":
		if cursor != nil {
			if cursor.DueAt != nil {
				args = append(args, *cursor.DueAt, cursor.ID)
				fmt.Fprintf(&sb, ` AND (due_at IS NULL OR (due_at, id) > ($%d, $%d))`, len(args)-1, len(args))
			} else {
				// Already into the NULLS LAST tail; continue by id alone.
				args = append(args, cursor.ID)
				fmt.Fprintf(&sb, ` AND due_at IS NULL AND id > $%d`, len(args))
			}
		}
		sb.WriteString(` ORDER BY due_at ASC NULLS LAST, id ASC`)
	case "priority":
		if cursor != nil {
			args = append(args, *cursor.Rank, *cursor.Rank, cursor.CreatedAt, cursor.ID)
			fmt.Fprintf(&sb, ` AND (`+priorityRank+` > $%d OR (`+priorityRank+` = $%d AND (created_at, id) < ($%d, $%d)))`,
				len(args)-3, len(args)-2, len(args)-1, len(args))
		}
		sb.WriteString(` ORDER BY ` + priorityRank + ` ASC, created_at DESC, id DESC`)
	default:
		if cursor != nil {
			args = append(args, cursor.CreatedAt, cursor.ID)
			fmt.Fprintf(&sb, ` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
		}
		sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	}

	// One extra row decides whether a next page exists.
	args = append(args, params.Limit+1)
	fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", mapError(err))
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", mapError(err))
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task rows: %w", mapError(err))
	}

	page := &domain.TaskPage{Tasks: tasks}
	if len(tasks) > params.Limit {
		page.Tasks = tasks[:params.Limit]
		last := page.Tasks[len(page.Tasks)-1]
		next := pageCursor{SortBy: sortKey, CreatedAt: last.CreatedAt, ID: last.ID}
		switch sortKey {
		case "due_at":
			next.DueAt = last.DueAt
		case "priority":
			rank := priorityRankOf(last.Priority)
			next.Rank = &rank
		}
		page.NextCursor = encodeCursor(next)
	}
	return page, nil
}

// === Recurrence rules ===

// InsertRecurrenceRule persists a rule with its frozen metadata snapshot.
func (s *Store) InsertRecurrenceRule(ctx context.Context, r *domain.RecurrenceRule) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO recurrence_rules (id, task_id, user_id, pattern, interval, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.TaskID, r.UserID, string(r.Pattern), r.Interval, r.Metadata, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert recurrence rule: %w", mapError(err))
	}
	return nil
}

// GetRecurrenceRule loads a rule by ID.
func (s *Store) GetRecurrenceRule(ctx context.Context, ruleID string) (*domain.RecurrenceRule, error) {
	var r domain.RecurrenceRule
	var pattern string
	err := s.db.QueryRow(ctx, `
		SELECT id, task_id, user_id, pattern, interval, metadata, created_at
		FROM recurrence_rules WHERE id = $1`, ruleID).
		Scan(&r.ID, &r.TaskID, &r.UserID, &pattern, &r.Interval, &r.Metadata, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence rule: %w", mapError(err))
	}
	r.Pattern = domain.RecurrencePattern(pattern)
	return &r, nil
}

// PendingSiblingExists reports whether the chain has an uncompleted
// instance; the recurring generator's idempotency check.
func (s *Store) PendingSiblingExists(ctx context.Context, ruleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tasks WHERE recurrence_id = $1 AND completed = FALSE
		)`, ruleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending sibling: %w", mapError(err))
	}
	return exists, nil
}
