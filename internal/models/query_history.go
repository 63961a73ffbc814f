package models

import "time"

// QueryHistory is the append-only audit trail of query execution
// attempts. Rows are never updated after insert.
type QueryHistory struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProjectID       uint      `gorm:"index;not null" json:"project_id"`
	DatabaseID      uint      `gorm:"index;not null" json:"database_id"`
	UserID          uint      `gorm:"index" json:"user_id"`
	QueryText       string    `gorm:"type:text;not null" json:"query_text"`
	Params          string    `gorm:"type:text" json:"params"` // JSON-encoded bound parameters
	Success         bool      `json:"success"`
	RowCount        int64     `json:"row_count"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`
	IsAIGenerated   bool      `gorm:"column:is_ai_generated" json:"is_ai_generated"`
	Confidence      *float64  `json:"confidence,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

func (QueryHistory) TableName() string { return "query_history" }
