package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/rs/zerolog/log"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, ph *models.PostingHistory) (int64, error)
	ListByPostIDs(ctx context.Context, postIDs []int64) ([]*models.PostingHistory, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	query := `
		INSERT INTO posting_history (post_id, account_id, external_post_id, error_message)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, ph.PostID, ph.AccountID, ph.ExternalPostID, ph.ErrorMessage).Scan(&id)
	if err != nil {
		log.Error().Err(err).Int64("post_id", ph.PostID).Msg("create posting history")
		return 0, err
	}

	return id, nil
}

func (r *postingHistoryRepository) ListByPostIDs(ctx context.Context, postIDs []int64) ([]*models.PostingHistory, error) {
	query := `
		SELECT id, post_id, account_id, external_post_id, error_message, created_at
		FROM posting_history WHERE post_id = ANY($1)
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(postIDs))
	if err != nil {
		log.Error().Err(err).Msg("list posting history")
		return nil, err
	}
	defer rows.Close()

	var phs []*models.PostingHistory
	for rows.Next() {
		var ph models.PostingHistory
		err := rows.Scan(&ph.ID, &ph.PostID, &ph.AccountID, &ph.ExternalPostID, &ph.ErrorMessage, &ph.CreatedAt)
		if err != nil {
			log.Error().Err(err).Msg("scan posting history")
			return nil, err
		}
		phs = append(phs, &ph)
	}
	return phs, rows.Err()
}
