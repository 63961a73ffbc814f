package models

import "time"

const (
	TokenPurposeVerify = "verify"
	TokenPurposeReset  = "reset"
)

// UserToken is a one-shot email verification or password reset token.
type UserToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	Token     string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Purpose   string     `gorm:"size:20;index;not null" json:"purpose"` // verify, reset
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (UserToken) TableName() string { return "user_tokens" }
