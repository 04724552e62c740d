package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type PostStatus string

const (
	PostStatusDraft      PostStatus = "draft"
	PostStatusScheduled  PostStatus = "scheduled" // manual time
	PostStatusQueued     PostStatus = "queued"    // slot picked by the allocator
	PostStatusPublishing PostStatus = "publishing"
	PostStatusPublished  PostStatus = "published"
	PostStatusFailed     PostStatus = "failed"
)

// Pending reports whether the post waits on a dispatched job.
func (s PostStatus) Pending() bool {
	return s == PostStatusScheduled || s == PostStatusQueued
}

const MaxContentLength = 280

const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeGIF   = "gif"
)

type MediaItem struct {
	ObjectKey       string `json:"object_key"`
	ExternalMediaID string `json:"external_media_id"`
	Type            string `json:"type"`
	URL             string `json:"url,omitempty"`
}

// MediaList is stored as a JSONB array on the posts row.
type MediaList []MediaItem

func (m MediaList) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *MediaList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("media: unsupported column type")
	}
	return json.Unmarshal(raw, m)
}

type Post struct {
	ID                int64       `db:"id" json:"id"`
	UserID            int64       `db:"user_id" json:"user_id"`
	AccountID         int64       `db:"account_id" json:"account_id"`
	ThreadID          string      `db:"thread_id" json:"thread_id"`
	Position          int         `db:"position" json:"position"`
	Content           string      `db:"content" json:"content"`
	Media             MediaList   `db:"media" json:"media"`
	DelayMs           int64       `db:"delay_ms" json:"delay_ms"`
	Status            PostStatus  `db:"status" json:"status"`
	ExternalPostID    string      `db:"external_post_id" json:"external_post_id,omitempty"`
	ReplyToExternalID string      `db:"reply_to_external_id" json:"reply_to_external_id,omitempty"`
	VideoStatus       VideoStatus `db:"video_status" json:"video_status,omitempty"`
	ErrorMessage      string      `db:"error_message" json:"error_message,omitempty"`
	ScheduledAt       int64       `db:"scheduled_at" json:"scheduled_at"` // unix ms, 0 when unscheduled
	JobID             string      `db:"job_id" json:"job_id,omitempty"`
	PublishedAt       *time.Time  `db:"published_at" json:"published_at,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

func (p *Post) IsThreadStart() bool {
	return p.Position == 0
}

type ThreadStatus string

const (
	ThreadStatusDraft              ThreadStatus = "draft"
	ThreadStatusScheduled          ThreadStatus = "scheduled"
	ThreadStatusQueued             ThreadStatus = "queued"
	ThreadStatusPublishing         ThreadStatus = "publishing"
	ThreadStatusPublished          ThreadStatus = "published"
	ThreadStatusPartiallyPublished ThreadStatus = "partially_published"
	ThreadStatusFailed             ThreadStatus = "failed"
)

// DeriveThreadStatus folds the member statuses of a thread into one value.
func DeriveThreadStatus(posts []*Post) ThreadStatus {
	if len(posts) == 0 {
		return ThreadStatusDraft
	}

	var published, publishing, failed, scheduled, queued int
	for _, p := range posts {
		switch p.Status {
		case PostStatusPublished:
			published++
		case PostStatusPublishing:
			publishing++
		case PostStatusFailed:
			failed++
		case PostStatusScheduled:
			scheduled++
		case PostStatusQueued:
			queued++
		}
	}

	switch {
	case publishing > 0:
		return ThreadStatusPublishing
	case published == len(posts):
		return ThreadStatusPublished
	case published > 0:
		return ThreadStatusPartiallyPublished
	case failed > 0:
		return ThreadStatusFailed
	case queued > 0:
		return ThreadStatusQueued
	case scheduled > 0:
		return ThreadStatusScheduled
	}
	return ThreadStatusDraft
}

// HasPublished reports whether any member already reached the network.
func HasPublished(posts []*Post) bool {
	for _, p := range posts {
		if p.Status == PostStatusPublished {
			return true
		}
	}
	return false
}
