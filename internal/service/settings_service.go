package service

import (
	"context"
	"time"

	"github.com/maheshrc27/threadflow/internal/apperr"
	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/repository"
	"github.com/maheshrc27/threadflow/internal/slots"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

type SettingsService interface {
	// Get returns the stored settings, or the defaults when the user never saved any.
	Get(ctx context.Context, userID int64) (*models.Settings, error)
	Update(ctx context.Context, userID int64, su *transfer.SettingsUpdate) (*models.Settings, error)
}

type settingsService struct {
	sr repository.SettingsRepository
}

func NewSettingsService(sr repository.SettingsRepository) SettingsService {
	return &settingsService{
		sr: sr,
	}
}

func (s *settingsService) Get(ctx context.Context, userID int64) (*models.Settings, error) {
	settings, err := s.sr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return models.DefaultSettings(userID), nil
	}
	return settings, nil
}

func (s *settingsService) Update(ctx context.Context, userID int64, su *transfer.SettingsUpdate) (*models.Settings, error) {
	if su == nil {
		return nil, apperr.Validation(apperr.ReasonInvalidSchedule, "settings are required")
	}
	if su.Timezone == "" {
		su.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(su.Timezone); err != nil {
		return nil, apperr.Validation(apperr.ReasonInvalidSchedule, "unknown timezone "+su.Timezone)
	}
	if !(slots.Window{StartHour: su.WindowStart, EndHour: su.WindowEnd}).Valid() {
		return nil, apperr.Validation(apperr.ReasonInvalidSchedule, "posting window must satisfy 0 <= start < end <= 24")
	}
	if su.PostsPerDay < 1 || su.PostsPerDay > 24 {
		return nil, apperr.Validation(apperr.ReasonInvalidSchedule, "posts per day must be between 1 and 24")
	}
	policy, ok := slots.ParsePolicy(su.SlotPolicy)
	if !ok {
		return nil, apperr.Validation(apperr.ReasonInvalidSchedule, "slot policy must be preset or hourly")
	}

	settings := &models.Settings{
		UserID:      userID,
		Timezone:    su.Timezone,
		WindowStart: su.WindowStart,
		WindowEnd:   su.WindowEnd,
		PostsPerDay: su.PostsPerDay,
		SlotPolicy:  policy.String(),
	}
	if err := s.sr.Upsert(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}
