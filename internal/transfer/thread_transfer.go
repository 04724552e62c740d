package transfer

import (
	"time"

	"github.com/maheshrc27/threadflow/internal/models"
)

const (
	ModeDraft    = "draft"
	ModeSchedule = "schedule"
	ModeQueue    = "queue"
	ModeNow      = "now"
)

type PostInput struct {
	Content string             `json:"content"`
	Media   []models.MediaItem `json:"media"`
	DelayMs int64              `json:"delay_ms"`
}

type ThreadCreation struct {
	AccountID   int64       `json:"account_id"`
	Posts       []PostInput `json:"posts"`
	Mode        string      `json:"mode"`
	ScheduledAt string      `json:"scheduled_at"` // RFC3339, used with mode "schedule"
}

type BulkQueueRequest struct {
	ThreadIDs []string `json:"thread_ids"`
	Spacing   string   `json:"spacing"`
}

type ThreadView struct {
	ThreadID    string              `json:"thread_id"`
	AccountID   int64               `json:"account_id"`
	Status      models.ThreadStatus `json:"status"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	Posts       []*models.Post      `json:"posts"`
	// History lists every publish attempt, oldest first. Only set for a single thread.
	History []*models.PostingHistory `json:"history,omitempty"`
}

type QueuedThread struct {
	ThreadID    string    `json:"thread_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type SlotPreview struct {
	AccountID int64     `json:"account_id"`
	Next      time.Time `json:"next"`
}
