package repository

import (
	"context"
	"database/sql"

	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/rs/zerolog/log"
)

type SettingsRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Settings, error)
	Upsert(ctx context.Context, s *models.Settings) error
}

type settingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) GetByUserID(ctx context.Context, userID int64) (*models.Settings, error) {
	query := `
		SELECT id, user_id, timezone, window_start, window_end, posts_per_day, slot_policy, created_at, updated_at
		FROM settings WHERE user_id = $1
	`
	var s models.Settings
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&s.ID, &s.UserID, &s.Timezone,
		&s.WindowStart, &s.WindowEnd, &s.PostsPerDay, &s.SlotPolicy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("get settings")
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepository) Upsert(ctx context.Context, s *models.Settings) error {
	query := `
		INSERT INTO settings (user_id, timezone, window_start, window_end, posts_per_day, slot_policy)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET timezone = EXCLUDED.timezone,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			posts_per_day = EXCLUDED.posts_per_day,
			slot_policy = EXCLUDED.slot_policy,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, s.UserID, s.Timezone, s.WindowStart, s.WindowEnd, s.PostsPerDay, s.SlotPolicy).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Int64("user_id", s.UserID).Msg("upsert settings")
		return err
	}
	return nil
}
