// Package mirror is the device-local copy of the remote tables. Every row
// carries a synced flag: false means the row has never been acknowledged by
// the remote store, true means it is believed durable remotely. Rows are keyed
// by id and writes are idempotent upserts.
package mirror

import (
	"database/sql"
	"fmt"

	"github.com/florianbuchner/whodoes/internal/model"
)

// Task, Completion, Partner and Favorite wrap the shared models with the
// local-only synced flag.
type Task struct {
	model.Task
	Synced bool
}

type Completion struct {
	model.TaskCompletion
	Synced bool
}

type Partner struct {
	model.Partner
	Synced bool
}

type Favorite struct {
	model.Favorite
	Synced bool
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UnsyncedCount reports how many rows across all mirrored tables are still
// waiting for a successful flush.
func (s *Store) UnsyncedCount() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM tasks WHERE synced = 0) +
			(SELECT COUNT(*) FROM task_completions WHERE synced = 0) +
			(SELECT COUNT(*) FROM partners WHERE synced = 0) +
			(SELECT COUNT(*) FROM favorites WHERE synced = 0)`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unsynced: %w", err)
	}
	return count, nil
}
