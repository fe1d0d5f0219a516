package mirror

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/florianbuchner/whodoes/internal/model"
)

const completionCols = `id, task_id, partner_id, points_earned, completed_at, created_at, synced`

func scanCompletion(scanner interface{ Scan(...any) error }) (*Completion, error) {
	var c Completion
	err := scanner.Scan(
		&c.ID, &c.TaskID, &c.PartnerID, &c.PointsEarned,
		&c.CompletedAt, &c.CreatedAt, &c.Synced,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PutCompletion(c model.TaskCompletion, synced bool) error {
	_, err := s.db.Exec(
		`INSERT INTO task_completions (`+completionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			partner_id = excluded.partner_id,
			points_earned = excluded.points_earned,
			completed_at = excluded.completed_at,
			created_at = excluded.created_at,
			synced = excluded.synced`,
		c.ID, c.TaskID, c.PartnerID, c.PointsEarned,
		c.CompletedAt.UTC(), c.CreatedAt.UTC(), synced,
	)
	if err != nil {
		return fmt.Errorf("put completion: %w", err)
	}
	return nil
}

func (s *Store) MarkCompletionSynced(id string) error {
	_, err := s.db.Exec(`UPDATE task_completions SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark completion synced: %w", err)
	}
	return nil
}

func (s *Store) GetCompletion(id string) (*Completion, error) {
	row := s.db.QueryRow(`SELECT `+completionCols+` FROM task_completions WHERE id = ?`, id)
	c, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return c, nil
}

// DeleteCompletion hard-deletes a completion row. Undo is a delete, not a flag.
func (s *Store) DeleteCompletion(id string) error {
	_, err := s.db.Exec(`DELETE FROM task_completions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	return nil
}

// UnsyncedCompletions returns queued completion rows in creation order.
func (s *Store) UnsyncedCompletions() ([]model.TaskCompletion, error) {
	rows, err := s.db.Query(
		`SELECT ` + completionCols + ` FROM task_completions WHERE synced = 0 ORDER BY rowid ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list unsynced completions: %w", err)
	}
	defer rows.Close()

	var completions []model.TaskCompletion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		completions = append(completions, c.TaskCompletion)
	}
	return completions, rows.Err()
}

// CompletionsInRange lists completions with completed_at in [start, end]
// inclusive, newest first.
func (s *Store) CompletionsInRange(start, end time.Time) ([]model.TaskCompletion, error) {
	rows, err := s.db.Query(
		`SELECT `+completionCols+` FROM task_completions
		 WHERE completed_at >= ? AND completed_at <= ?
		 ORDER BY completed_at DESC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list completions by range: %w", err)
	}
	defer rows.Close()

	var completions []model.TaskCompletion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		completions = append(completions, c.TaskCompletion)
	}
	return completions, rows.Err()
}

// ReplaceCompletions swaps the synced completions for a fresher remote read,
// leaving queued rows in place.
func (s *Store) ReplaceCompletions(completions []model.TaskCompletion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_completions WHERE synced = 1`); err != nil {
		return fmt.Errorf("clear synced completions: %w", err)
	}
	for _, c := range completions {
		if _, err := tx.Exec(
			`INSERT INTO task_completions (`+completionCols+`) VALUES (?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT(id) DO UPDATE SET
				task_id = excluded.task_id,
				partner_id = excluded.partner_id,
				points_earned = excluded.points_earned,
				completed_at = excluded.completed_at,
				created_at = excluded.created_at,
				synced = 1`,
			c.ID, c.TaskID, c.PartnerID, c.PointsEarned,
			c.CompletedAt.UTC(), c.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("replace completion %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}
