package mirror

import (
	"database/sql"
	"fmt"

	"github.com/florianbuchner/whodoes/internal/model"
)

const taskCols = `id, household_id, name, points, is_template, is_deleted, created_at, updated_at, synced`

func scanTask(scanner interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	err := scanner.Scan(
		&t.ID, &t.HouseholdID, &t.Name, &t.Points,
		&t.IsTemplate, &t.IsDeleted, &t.CreatedAt, &t.UpdatedAt, &t.Synced,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PutTask upserts a task row in place. Writing the same id twice overwrites.
func (s *Store) PutTask(t model.Task, synced bool) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (`+taskCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			household_id = excluded.household_id,
			name = excluded.name,
			points = excluded.points,
			is_template = excluded.is_template,
			is_deleted = excluded.is_deleted,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			synced = excluded.synced`,
		t.ID, t.HouseholdID, t.Name, t.Points, t.IsTemplate, t.IsDeleted,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(), synced,
	)
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

func (s *Store) MarkTaskSynced(id string) error {
	_, err := s.db.Exec(`UPDATE tasks SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark task synced: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UnsyncedTasks returns all queued task rows in creation order.
func (s *Store) UnsyncedTasks() ([]model.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskCols + ` FROM tasks WHERE synced = 0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unsynced tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t.Task)
	}
	return tasks, rows.Err()
}

// ActiveTasks lists the household's tasks that are neither soft-deleted nor
// templates, in name order.
func (s *Store) ActiveTasks(householdID string) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks
		 WHERE household_id = ? AND is_deleted = 0 AND is_template = 0
		 ORDER BY name ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t.Task)
	}
	return tasks, rows.Err()
}

// TasksByID returns every task row (including soft-deleted) keyed by id, for
// joining completions against historical tasks.
func (s *Store) TasksByID(householdID string) (map[string]model.Task, error) {
	rows, err := s.db.Query(`SELECT `+taskCols+` FROM tasks WHERE household_id = ?`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make(map[string]model.Task)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks[t.ID] = t.Task
	}
	return tasks, rows.Err()
}

// ReplaceTasks swaps the synced portion of the household's tasks for a fresher
// remote read. Unsynced rows are untouched: they are still queued for flush.
func (s *Store) ReplaceTasks(householdID string, tasks []model.Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM tasks WHERE household_id = ? AND synced = 1`, householdID,
	); err != nil {
		return fmt.Errorf("clear synced tasks: %w", err)
	}
	for _, t := range tasks {
		if _, err := tx.Exec(
			`INSERT INTO tasks (`+taskCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT(id) DO UPDATE SET
				household_id = excluded.household_id,
				name = excluded.name,
				points = excluded.points,
				is_template = excluded.is_template,
				is_deleted = excluded.is_deleted,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				synced = 1`,
			t.ID, t.HouseholdID, t.Name, t.Points, t.IsTemplate, t.IsDeleted,
			t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("replace task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}
