package domain

import "time"

// Avatar is the profile's current avatar: the URL of the last completed
// upload. Only terminal results are recorded.
type Avatar struct {
	UserID    string    `json:"user_id"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}
