package model

import "time"

// Household is the shared scope both partners operate in. Code is a 6-character
// uppercase alphanumeric invite code shown to the second partner at join time.
type Household struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
