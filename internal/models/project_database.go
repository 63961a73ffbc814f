package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DatabaseType is the closed set of supported tenant database engines.
type DatabaseType string

const (
	DBTypePostgreSQL DatabaseType = "postgresql"
	DBTypeMySQL      DatabaseType = "mysql"
	DBTypeMongoDB    DatabaseType = "mongodb"
	DBTypeSQLite     DatabaseType = "sqlite"
	DBTypeMSSQL      DatabaseType = "mssql"
)

var databaseDefaultPorts = map[DatabaseType]int{
	DBTypePostgreSQL: 5432,
	DBTypeMySQL:      3306,
	DBTypeMongoDB:    27017,
	DBTypeSQLite:     0, // file based
	DBTypeMSSQL:      1433,
}

// Valid reports whether t is a supported engine type.
func (t DatabaseType) Valid() bool {
	_, ok := databaseDefaultPorts[t]
	return ok
}

// DefaultPort returns the engine's conventional port (0 for file-based
// engines).
func (t DatabaseType) DefaultPort() int {
	return databaseDefaultPorts[t]
}

// ParseDatabaseType converts a wire string into a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, error) {
	t := DatabaseType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unsupported database type %q", s)
	}
	return t, nil
}

// ProjectDatabase is a tenant-registered external database target. At most
// one row per project carries IsPrimary = true.
type ProjectDatabase struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ProjectID    uint           `gorm:"index;not null" json:"project_id"`
	Name         string         `gorm:"size:200;not null" json:"name"`
	Type         DatabaseType   `gorm:"size:20;not null" json:"type"`
	Host         string         `gorm:"size:255" json:"host"`
	Port         int            `json:"port"`
	Username     string         `gorm:"size:200" json:"username"`
	Password     string         `gorm:"size:500" json:"-"`
	DatabaseName string         `gorm:"size:200;column:database_name" json:"database_name"`
	SSL          bool           `gorm:"default:false" json:"ssl"`
	IsPrimary    bool           `gorm:"default:false;index" json:"is_primary"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedBy    uint           `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ProjectDatabase) TableName() string { return "project_databases" }

// EffectivePort returns the configured port, falling back to the engine
// default.
func (d *ProjectDatabase) EffectivePort() int {
	if d.Port > 0 {
		return d.Port
	}
	return d.Type.DefaultPort()
}
