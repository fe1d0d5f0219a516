package model

import "time"

type Partner struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}
