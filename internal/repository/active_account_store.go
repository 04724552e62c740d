package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ActiveAccount is the account a user last selected in the composer.
type ActiveAccount struct {
	AccountID int64     `json:"account_id"`
	Platform  string    `json:"platform"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ActiveAccountStore interface {
	Get(ctx context.Context, email string) (*ActiveAccount, error)
	Set(ctx context.Context, email string, a ActiveAccount) error
}

type redisActiveAccountStore struct {
	rdb *redis.Client
}

func NewActiveAccountStore(rdb *redis.Client) ActiveAccountStore {
	return &redisActiveAccountStore{rdb: rdb}
}

func activeAccountKey(email string) string {
	return "active_account:" + email
}

func (s *redisActiveAccountStore) Get(ctx context.Context, email string) (*ActiveAccount, error) {
	raw, err := s.rdb.Get(ctx, activeAccountKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		log.Error().Err(err).Msg("get active account")
		return nil, err
	}

	var a ActiveAccount
	if err := json.Unmarshal(raw, &a); err != nil {
		log.Warn().Err(err).Msg("discarding malformed active account entry")
		return nil, nil
	}
	return &a, nil
}

func (s *redisActiveAccountStore) Set(ctx context.Context, email string, a ActiveAccount) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, activeAccountKey(email), raw, 0).Err(); err != nil {
		log.Error().Err(err).Msg("set active account")
		return err
	}
	return nil
}
