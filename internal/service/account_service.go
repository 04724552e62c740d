package service

import (
	"context"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/rs/zerolog/log"
)

type AccountService interface {
	// Resolve picks the account to publish with: the requested one, then the
	// user's active account, then their first connected account.
	Resolve(ctx context.Context, userID int64, email string, requestedID int64) (*models.SocialAccount, error)
	SetActive(ctx context.Context, userID int64, email string, accountID int64) error
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Disconnect(ctx context.Context, userID, accountID int64) error
}

type accountService struct {
	sa     repository.SocialAccountRepository
	active repository.ActiveAccountStore
}

func NewAccountService(sa repository.SocialAccountRepository, active repository.ActiveAccountStore) AccountService {
	return &accountService{
		sa:     sa,
		active: active,
	}
}

func (s *accountService) owned(ctx context.Context, userID, accountID int64) (*models.SocialAccount, error) {
	acc, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.UserID != userID {
		return nil, nil
	}
	return acc, nil
}

func (s *accountService) Resolve(ctx context.Context, userID int64, email string, requestedID int64) (*models.SocialAccount, error) {
	if requestedID != 0 {
		acc, err := s.owned(ctx, userID, requestedID)
		if err != nil {
			return nil, err
		}
		if acc == nil || !acc.Active() {
			return nil, apperr.Auth("selected social account is not connected")
		}
		return acc, nil
	}

	if email != "" && s.active != nil {
		entry, err := s.active.Get(ctx, email)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("active account lookup failed")
		} else if entry != nil {
			acc, err := s.owned(ctx, userID, entry.AccountID)
			if err != nil {
				return nil, err
			}
			if acc != nil && acc.Active() {
				return acc, nil
			}
		}
	}

	accounts, err := s.sa.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if acc.Active() {
			return acc, nil
		}
	}
	return nil, apperr.Auth("no connected social account")
}

func (s *accountService) SetActive(ctx context.Context, userID int64, email string, accountID int64) error {
	acc, err := s.owned(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return apperr.NotFound("social account not found")
	}
	if !acc.Active() {
		return apperr.Auth("social account is not connected")
	}
	return s.active.Set(ctx, email, repository.ActiveAccount{AccountID: acc.ID, Platform: acc.Platform})
}

func (s *accountService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return s.sa.ListByUserID(ctx, userID)
}

func (s *accountService) Disconnect(ctx context.Context, userID, accountID int64) error {
	acc, err := s.owned(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return apperr.NotFound("social account not found")
	}
	return s.sa.SetStatus(ctx, accountID, models.AccountStatusRevoked)
}
