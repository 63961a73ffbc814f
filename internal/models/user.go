package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a registered account. Users are never hard-deleted;
// deactivation happens through IsActive only.
type User struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Email      string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Phone      *string        `gorm:"uniqueIndex;size:50" json:"phone,omitempty"`
	DocumentID *string        `gorm:"uniqueIndex;size:100;column:document_id" json:"document_id,omitempty"`
	Password   string         `gorm:"size:255" json:"-"` // bcrypt hash, empty for LDAP users
	Name       string         `gorm:"size:200" json:"name"`
	AuthType   string         `gorm:"size:20;default:local" json:"auth_type"` // local, ldap
	IsActive   bool           `gorm:"default:true" json:"is_active"`
	IsVerified bool           `gorm:"default:false" json:"is_verified"`
	LastLogin  *time.Time     `json:"last_login"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }
