package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/rs/zerolog/log"
)

type PostRepository interface {
	// CreateThread inserts all posts in one transaction and fills in their IDs.
	CreateThread(ctx context.Context, posts []*models.Post) error
	// ReplaceThread deletes the thread's posts and inserts the new ones in one transaction.
	ReplaceThread(ctx context.Context, threadID string, posts []*models.Post) error
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListByThreadID(ctx context.Context, threadID string) ([]*models.Post, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	ListQueuedSlots(ctx context.Context, accountID, fromMs int64) ([]int64, error)
	ListStaleScheduled(ctx context.Context, beforeMs int64, limit int) ([]*models.Post, error)
	// ListStuckPublishing returns posts left in publishing since before.
	ListStuckPublishing(ctx context.Context, before time.Time, limit int) ([]*models.Post, error)
	SetSchedule(ctx context.Context, threadID string, status models.PostStatus, scheduledAt int64) error
	SetJobID(ctx context.Context, threadID, jobID string) error
	ClaimForPublishing(ctx context.Context, threadID string) (int64, error)
	MarkPublished(ctx context.Context, id int64, externalID, replyToID string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, message string) error
	FailUnpublished(ctx context.Context, threadID, message string) error
	ResetAfter(ctx context.Context, threadID string, position int) error
	SetVideoStatus(ctx context.Context, id int64, status models.VideoStatus, message string) error
	AppendMedia(ctx context.Context, id int64, item models.MediaItem) error
	DeleteByThreadID(ctx context.Context, threadID string) (int64, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, account_id, thread_id, position, content, media, delay_ms, status,
	external_post_id, reply_to_external_id, video_status, error_message, scheduled_at, job_id,
	published_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(s rowScanner) (*models.Post, error) {
	var p models.Post
	err := s.Scan(&p.ID, &p.UserID, &p.AccountID, &p.ThreadID, &p.Position, &p.Content, &p.Media,
		&p.DelayMs, &p.Status, &p.ExternalPostID, &p.ReplyToExternalID, &p.VideoStatus,
		&p.ErrorMessage, &p.ScheduledAt, &p.JobID, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) insert(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	query := `
		INSERT INTO posts (user_id, account_id, thread_id, position, content, media, delay_ms,
			status, video_status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	if post.Status == "" {
		post.Status = models.PostStatusDraft
	}

	args := []interface{}{post.UserID, post.AccountID, post.ThreadID, post.Position, post.Content,
		post.Media, post.DelayMs, post.Status, post.VideoStatus, post.ScheduledAt}

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, args...)
	} else {
		row = r.db.QueryRowContext(ctx, query, args...)
	}
	return row.Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
}

func (r *postRepository) CreateThread(ctx context.Context, posts []*models.Post) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("begin create thread")
		return err
	}
	defer tx.Rollback()

	for _, p := range posts {
		if err := r.insert(ctx, tx, p); err != nil {
			log.Error().Err(err).Str("thread_id", p.ThreadID).Msg("insert post")
			return err
		}
	}
	return tx.Commit()
}

func (r *postRepository) ReplaceThread(ctx context.Context, threadID string, posts []*models.Post) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("begin replace thread")
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE thread_id = $1`, threadID); err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("delete thread posts")
		return err
	}
	for _, p := range posts {
		p.ThreadID = threadID
		if err := r.insert(ctx, tx, p); err != nil {
			log.Error().Err(err).Str("thread_id", threadID).Msg("insert post")
			return err
		}
	}
	return tx.Commit()
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Int64("post_id", id).Msg("get post")
		return nil, err
	}
	return post, nil
}

func (r *postRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error().Err(err).Msg("list posts")
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			log.Error().Err(err).Msg("scan post")
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *postRepository) ListByThreadID(ctx context.Context, threadID string) ([]*models.Post, error) {
	return r.list(ctx, `SELECT `+postColumns+` FROM posts WHERE thread_id = $1 ORDER BY position`, threadID)
}

// ListByUserID returns the user's posts grouped by thread, newest thread first.
func (r *postRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + ` FROM posts p
		WHERE user_id = $1
		ORDER BY (SELECT MIN(created_at) FROM posts s WHERE s.thread_id = p.thread_id) DESC,
			thread_id, position
	`
	return r.list(ctx, query, userID)
}

func (r *postRepository) ListQueuedSlots(ctx context.Context, accountID, fromMs int64) ([]int64, error) {
	query := `
		SELECT DISTINCT scheduled_at FROM posts
		WHERE account_id = $1 AND status = $2 AND scheduled_at >= $3
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, models.PostStatusQueued, fromMs)
	if err != nil {
		log.Error().Err(err).Int64("account_id", accountID).Msg("list queued slots")
		return nil, err
	}
	defer rows.Close()

	var slots []int64
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		slots = append(slots, ms)
	}
	return slots, rows.Err()
}

// ListStaleScheduled returns the first pending post of every thread whose
// publish time is before beforeMs.
func (r *postRepository) ListStaleScheduled(ctx context.Context, beforeMs int64, limit int) ([]*models.Post, error) {
	query := `
		SELECT DISTINCT ON (thread_id) ` + postColumns + ` FROM posts
		WHERE status IN ($1, $2) AND scheduled_at > 0 AND scheduled_at < $3
		ORDER BY thread_id, position
		LIMIT $4
	`
	return r.list(ctx, query, models.PostStatusScheduled, models.PostStatusQueued, beforeMs, limit)
}

func (r *postRepository) ListStuckPublishing(ctx context.Context, before time.Time, limit int) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + ` FROM posts
		WHERE status = $1 AND updated_at < $2
		ORDER BY thread_id, position
		LIMIT $3
	`
	return r.list(ctx, query, models.PostStatusPublishing, before, limit)
}

// SetSchedule moves every unpublished post of the thread to status at scheduledAt.
func (r *postRepository) SetSchedule(ctx context.Context, threadID string, status models.PostStatus, scheduledAt int64) error {
	query := `
		UPDATE posts
		SET status = $1,
			scheduled_at = $2,
			error_message = '',
			updated_at = $3
		WHERE thread_id = $4 AND status <> $5
	`
	_, err := r.db.ExecContext(ctx, query, status, scheduledAt, time.Now(), threadID, models.PostStatusPublished)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("set schedule")
		return err
	}
	return nil
}

func (r *postRepository) SetJobID(ctx context.Context, threadID, jobID string) error {
	query := `UPDATE posts SET job_id = $1, updated_at = $2 WHERE thread_id = $3 AND position = 0`
	_, err := r.db.ExecContext(ctx, query, jobID, time.Now(), threadID)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("set job id")
		return err
	}
	return nil
}

// ClaimForPublishing atomically moves the thread's scheduled or queued posts to
// publishing and reports how many rows it took.
func (r *postRepository) ClaimForPublishing(ctx context.Context, threadID string) (int64, error) {
	query := `
		UPDATE posts
		SET status = $1, updated_at = $2
		WHERE thread_id = $3 AND status IN ($4, $5)
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusPublishing, time.Now(), threadID,
		models.PostStatusScheduled, models.PostStatusQueued)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("claim thread")
		return 0, err
	}
	return result.RowsAffected()
}

func (r *postRepository) MarkPublished(ctx context.Context, id int64, externalID, replyToID string, publishedAt time.Time) error {
	query := `
		UPDATE posts
		SET status = $1,
			external_post_id = $2,
			reply_to_external_id = $3,
			published_at = $4,
			error_message = '',
			updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPublished, externalID, replyToID, publishedAt, id)
	if err != nil {
		log.Error().Err(err).Int64("post_id", id).Msg("mark published")
		return err
	}
	return nil
}

func (r *postRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	query := `UPDATE posts SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, message, time.Now(), id)
	if err != nil {
		log.Error().Err(err).Int64("post_id", id).Msg("mark failed")
		return err
	}
	return nil
}

func (r *postRepository) FailUnpublished(ctx context.Context, threadID, message string) error {
	query := `
		UPDATE posts SET status = $1, error_message = $2, updated_at = $3
		WHERE thread_id = $4 AND status <> $5
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, message, time.Now(), threadID, models.PostStatusPublished)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("fail thread")
		return err
	}
	return nil
}

// ResetAfter returns unpublished posts after position to draft.
func (r *postRepository) ResetAfter(ctx context.Context, threadID string, position int) error {
	query := `
		UPDATE posts SET status = $1, scheduled_at = 0, updated_at = $2
		WHERE thread_id = $3 AND position > $4 AND status <> $5
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusDraft, time.Now(), threadID, position, models.PostStatusPublished)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("reset thread tail")
		return err
	}
	return nil
}

func (r *postRepository) SetVideoStatus(ctx context.Context, id int64, status models.VideoStatus, message string) error {
	query := `UPDATE posts SET video_status = $1, error_message = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, status, message, time.Now(), id)
	if err != nil {
		log.Error().Err(err).Int64("post_id", id).Msg("set video status")
		return err
	}
	return nil
}

func (r *postRepository) AppendMedia(ctx context.Context, id int64, item models.MediaItem) error {
	raw, err := json.Marshal([]models.MediaItem{item})
	if err != nil {
		return err
	}
	query := `UPDATE posts SET media = media || $1::jsonb, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, string(raw), time.Now(), id); err != nil {
		log.Error().Err(err).Int64("post_id", id).Msg("append media")
		return err
	}
	return nil
}

func (r *postRepository) DeleteByThreadID(ctx context.Context, threadID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE thread_id = $1 AND status <> $2`,
		threadID, models.PostStatusPublished)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("delete thread")
		return 0, err
	}
	return result.RowsAffected()
}
