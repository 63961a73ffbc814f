package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Project is a named, slugged workspace. The creator is recorded in
// CreatedBy, but authority over the project is delegated to membership
// rows, not the creator field.
type Project struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Name       string         `gorm:"size:200;not null" json:"name"`
	Slug       string         `gorm:"uniqueIndex;size:220;not null" json:"slug"`
	Visibility string         `gorm:"size:20;default:private" json:"visibility"` // public, private
	IsActive   bool           `gorm:"default:true" json:"is_active"`
	Settings   JSONMap        `gorm:"type:text" json:"settings"`
	Metadata   JSONMap        `gorm:"type:text" json:"metadata"`
	TemplateID *uint          `json:"template_id,omitempty"` // originating template, if any
	CreatedBy  uint           `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	Members   []ProjectMember   `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
	Databases []ProjectDatabase `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"databases,omitempty"`
}

func (Project) TableName() string { return "projects" }

// ProjectVersion is an append-only snapshot of project metadata. Version
// numbers increase monotonically per project.
type ProjectVersion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"index;not null" json:"project_id"`
	Version   int       `gorm:"not null" json:"version"`
	Name      string    `gorm:"size:200" json:"name"`
	Settings  JSONMap   `gorm:"type:text" json:"settings"`
	Metadata  JSONMap   `gorm:"type:text" json:"metadata"`
	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (ProjectVersion) TableName() string { return "project_versions" }
