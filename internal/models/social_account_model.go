package models

import (
	"time"
)

const (
	PlatformX = "x"

	AccountStatusActive  = "active"
	AccountStatusRevoked = "revoked"
)

type SocialAccount struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Platform       string    `db:"platform" json:"platform"`
	ExternalID     string    `db:"external_id" json:"external_id"`
	Username       string    `db:"username" json:"username"`
	AccessToken    string    `db:"access_token" json:"-"`
	RefreshToken   string    `db:"refresh_token" json:"-"`
	TokenExpiresAt time.Time `db:"token_expires_at" json:"token_expires_at"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (a *SocialAccount) Active() bool {
	return a.Status == "" || a.Status == AccountStatusActive
}
