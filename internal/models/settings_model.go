package models

import "time"

type Settings struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Timezone    string    `db:"timezone" json:"timezone"`
	WindowStart int       `db:"window_start" json:"window_start"`
	WindowEnd   int       `db:"window_end" json:"window_end"`
	PostsPerDay int       `db:"posts_per_day" json:"posts_per_day"`
	SlotPolicy  string    `db:"slot_policy" json:"slot_policy"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultSettings is used for users who never saved a posting window.
func DefaultSettings(userID int64) *Settings {
	return &Settings{
		UserID:      userID,
		Timezone:    "UTC",
		WindowStart: 8,
		WindowEnd:   22,
		PostsPerDay: 3,
		SlotPolicy:  "preset",
	}
}
