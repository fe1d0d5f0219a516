package model

import "time"

// Task is a chore worth a fixed number of points. Tasks are soft-deleted so
// historical completions keep a row to join against.
type Task struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	Name        string    `json:"name"`
	Points      int       `json:"points"`
	IsTemplate  bool      `json:"is_template"`
	IsDeleted   bool      `json:"is_deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskCompletion records one partner finishing one task. PointsEarned is a
// snapshot of the task's points at completion time and is never recomputed,
// even if the task's points change later. Undo is a hard delete of the row.
type TaskCompletion struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	PartnerID    string    `json:"partner_id"`
	PointsEarned int       `json:"points_earned"`
	CompletedAt  time.Time `json:"completed_at"`
	CreatedAt    time.Time `json:"created_at"`
}
