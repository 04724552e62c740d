package models

import "time"

type VideoStatus string

const (
	VideoStatusNone        VideoStatus = ""
	VideoStatusDownloading VideoStatus = "downloading"
	VideoStatusTranscoding VideoStatus = "transcoding"
	VideoStatusUploading   VideoStatus = "uploading"
	VideoStatusComplete    VideoStatus = "complete"
	VideoStatusFailed      VideoStatus = "failed"
)

func (s VideoStatus) Terminal() bool {
	return s == VideoStatusComplete || s == VideoStatusFailed
}

type VideoJob struct {
	ID           string      `db:"id" json:"id"`
	UserID       int64       `db:"user_id" json:"user_id"`
	AccountID    int64       `db:"account_id" json:"account_id"`
	PostID       int64       `db:"post_id" json:"post_id"`
	SourceURL    string      `db:"source_url" json:"source_url"`
	Platform     string      `db:"platform" json:"platform"`
	Status       VideoStatus `db:"status" json:"status"`
	ErrorMessage string      `db:"error_message" json:"error_message,omitempty"`
	Media        *MediaItem  `db:"media" json:"media,omitempty"`
	AutoPost     bool        `db:"auto_post" json:"auto_post"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}
