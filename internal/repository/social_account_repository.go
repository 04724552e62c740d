package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/rs/zerolog/log"
)

type SocialAccountRepository interface {
	Create(ctx context.Context, sa *models.SocialAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	SetToken(ctx context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) error
	SetStatus(ctx context.Context, id int64, status string) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const accountColumns = `id, user_id, platform, external_id, username, access_token, refresh_token,
	token_expires_at, status, created_at, updated_at`

func scanAccount(s rowScanner) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	err := s.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.ExternalID, &sa.Username, &sa.AccessToken,
		&sa.RefreshToken, &sa.TokenExpiresAt, &sa.Status, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *socialAccountRepository) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	query := `
		INSERT INTO social_accounts (user_id, platform, external_id, username, access_token,
			refresh_token, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query, sa.UserID, sa.Platform, sa.ExternalID, sa.Username,
		sa.AccessToken, sa.RefreshToken, sa.TokenExpiresAt).Scan(&id)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sa.UserID).Msg("create social account")
		return 0, err
	}
	return id, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE id = $1`
	sa, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Int64("account_id", id).Msg("get social account")
		return nil, err
	}
	return sa, nil
}

func (r *socialAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM social_accounts WHERE user_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("list social accounts")
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanAccount(rows)
		if err != nil {
			log.Error().Err(err).Msg("scan social account")
			return nil, err
		}
		accounts = append(accounts, sa)
	}
	return accounts, rows.Err()
}

// SetToken stores refreshed tokens, guarded by the access token they replace so
// two concurrent refreshes cannot overwrite each other.
func (r *socialAccountRepository) SetToken(ctx context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Error().Err(err).Msg("begin set token")
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE social_accounts
		SET
			access_token = COALESCE(NULLIF($3, ''), access_token),
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = COALESCE($5, token_expires_at),
			updated_at = $6
		WHERE id = $1 AND access_token = $2
	`
	result, err := tx.ExecContext(ctx, query, id, oldAccessToken, sa.AccessToken, sa.RefreshToken,
		sa.TokenExpiresAt, time.Now())
	if err != nil {
		log.Error().Err(err).Int64("account_id", id).Msg("set token")
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return errors.New("token already rotated or account missing")
	}
	return tx.Commit()
}

func (r *socialAccountRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE social_accounts SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, time.Now(), id); err != nil {
		log.Error().Err(err).Int64("account_id", id).Msg("set account status")
		return err
	}
	return nil
}
