package models

import "time"

// ApiKey grants project-scoped access without a user session. Only a
// sha256 hash of the key is stored; the prefix is kept for display.
type ApiKey struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ProjectID  uint       `gorm:"index;not null" json:"project_id"`
	Name       string     `gorm:"size:200" json:"name"`
	KeyPrefix  string     `gorm:"size:16" json:"key_prefix"`
	KeyHash    string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Role       Role       `gorm:"size:50;default:user" json:"role"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedBy  uint       `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ApiKey) TableName() string { return "api_keys" }
