package models

import "time"

// Activity actions recorded in the project audit log.
const (
	ActivityCreate = "create"
	ActivityUpdate = "update"
	ActivityDelete = "delete"
	ActivityExport = "export"
	ActivityImport = "import"
)

// ProjectActivity is the append-only audit log of state-changing actions
// within a project.
type ProjectActivity struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProjectID  uint      `gorm:"index;not null" json:"project_id"`
	UserID     uint      `gorm:"index" json:"user_id"`
	Action     string    `gorm:"size:50;index;not null" json:"action"`
	EntityType string    `gorm:"size:50" json:"entity_type"`
	EntityID   *uint     `json:"entity_id,omitempty"`
	Metadata   JSONMap   `gorm:"type:text" json:"metadata"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (ProjectActivity) TableName() string { return "project_activities" }
