package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/rs/zerolog/log"
)

type VideoJobRepository interface {
	Create(ctx context.Context, job *models.VideoJob) error
	GetByID(ctx context.Context, id string) (*models.VideoJob, error)
	UpdateStatus(ctx context.Context, id string, status models.VideoStatus, message string) error
	Complete(ctx context.Context, id string, media models.MediaItem) error
}

type videoJobRepository struct {
	db *sql.DB
}

func NewVideoJobRepository(db *sql.DB) VideoJobRepository {
	return &videoJobRepository{db: db}
}

func (r *videoJobRepository) Create(ctx context.Context, job *models.VideoJob) error {
	query := `
		INSERT INTO video_jobs (id, user_id, account_id, post_id, source_url, platform, status, auto_post)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, job.ID, job.UserID, job.AccountID, job.PostID,
		job.SourceURL, job.Platform, job.Status, job.AutoPost).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("create video job")
		return err
	}
	return nil
}

func (r *videoJobRepository) GetByID(ctx context.Context, id string) (*models.VideoJob, error) {
	query := `
		SELECT id, user_id, account_id, post_id, source_url, platform, status, error_message,
			media, auto_post, created_at, updated_at
		FROM video_jobs WHERE id = $1
	`
	var job models.VideoJob
	var media []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&job.ID, &job.UserID, &job.AccountID, &job.PostID,
		&job.SourceURL, &job.Platform, &job.Status, &job.ErrorMessage, &media, &job.AutoPost,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("job_id", id).Msg("get video job")
		return nil, err
	}

	if len(media) > 0 {
		var item models.MediaItem
		if err := json.Unmarshal(media, &item); err != nil {
			return nil, err
		}
		job.Media = &item
	}
	return &job, nil
}

func (r *videoJobRepository) UpdateStatus(ctx context.Context, id string, status models.VideoStatus, message string) error {
	query := `UPDATE video_jobs SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, status, message, time.Now(), id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("update video job")
		return err
	}
	return nil
}

func (r *videoJobRepository) Complete(ctx context.Context, id string, media models.MediaItem) error {
	raw, err := json.Marshal(media)
	if err != nil {
		return err
	}
	query := `
		UPDATE video_jobs
		SET status = $1, media = $2::jsonb, error_message = '', updated_at = $3
		WHERE id = $4
	`
	if _, err := r.db.ExecContext(ctx, query, models.VideoStatusComplete, string(raw), time.Now(), id); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("complete video job")
		return err
	}
	return nil
}
