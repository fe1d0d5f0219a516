package model

import "time"

// Favorite pins a task to the top of one partner's list.
type Favorite struct {
	ID        string    `json:"id"`
	PartnerID string    `json:"partner_id"`
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
}
