package services

import (
	"context"
	"errors"

	"github.com/querydeck/backend/internal/broker"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

// DatabaseService manages the per-project registry of external database
// targets. Mutations that can affect open connections invalidate the
// broker's cache entry so the next access rebuilds with fresh settings.
type DatabaseService struct {
	db       *gorm.DB
	broker   *broker.Broker
	activity *ActivityService
}

func NewDatabaseService(db *gorm.DB, b *broker.Broker) *DatabaseService {
	return &DatabaseService{db: db, broker: b, activity: NewActivityService(db)}
}

type RegisterDatabaseRequest struct {
	Name         string `json:"name" binding:"required"`
	Type         string `json:"type" binding:"required"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"database_name"`
	SSL          bool   `json:"ssl"`
	IsPrimary    bool   `json:"is_primary"`
}

type UpdateDatabaseRequest struct {
	Name         *string `json:"name"`
	Host         *string `json:"host"`
	Port         *int    `json:"port"`
	Username     *string `json:"username"`
	Password     *string `json:"password"`
	DatabaseName *string `json:"database_name"`
	SSL          *bool   `json:"ssl"`
	IsActive     *bool   `json:"is_active"`
}

// Register validates the engine type and inserts the record. When the new
// target is marked primary, any previous primary for the project is
// cleared in the same transaction so at most one row carries the flag.
func (s *DatabaseService) Register(projectID, userID uint, req *RegisterDatabaseRequest) (*models.ProjectDatabase, error) {
	dbType, err := models.ParseDatabaseType(req.Type)
	if err != nil {
		return nil, response.NewKind(400, response.KindUnsupportedDBType, err.Error())
	}

	record := models.ProjectDatabase{
		ProjectID:    projectID,
		Name:         req.Name,
		Type:         dbType,
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		Password:     req.Password,
		DatabaseName: req.DatabaseName,
		SSL:          req.SSL,
		IsPrimary:    req.IsPrimary,
		IsActive:     true,
		CreatedBy:    userID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if req.IsPrimary {
			if err := tx.Model(&models.ProjectDatabase{}).
				Where("project_id = ? AND is_primary = ?", projectID, true).
				Update("is_primary", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(projectID, userID, models.ActivityCreate, "database", &record.ID, nil)
	return &record, nil
}

// Get returns one registered database scoped to the project.
func (s *DatabaseService) Get(projectID, databaseID uint) (*models.ProjectDatabase, error) {
	var record models.ProjectDatabase
	err := s.db.Where("id = ? AND project_id = ?", databaseID, projectID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewKind(404, response.KindDatabaseNotFound, "database not found")
		}
		return nil, err
	}
	return &record, nil
}

// List returns all registered databases for a project, primary first.
func (s *DatabaseService) List(projectID uint) ([]models.ProjectDatabase, error) {
	var records []models.ProjectDatabase
	err := s.db.Where("project_id = ?", projectID).
		Order("is_primary DESC, id ASC").
		Find(&records).Error
	return records, err
}

// Update applies partial changes and drops any cached connection so the
// next use reconnects with the new settings.
func (s *DatabaseService) Update(projectID, databaseID, userID uint, req *UpdateDatabaseRequest) (*models.ProjectDatabase, error) {
	record, err := s.Get(projectID, databaseID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		record.Name = *req.Name
	}
	if req.Host != nil {
		record.Host = *req.Host
	}
	if req.Port != nil {
		record.Port = *req.Port
	}
	if req.Username != nil {
		record.Username = *req.Username
	}
	if req.Password != nil {
		record.Password = *req.Password
	}
	if req.DatabaseName != nil {
		record.DatabaseName = *req.DatabaseName
	}
	if req.SSL != nil {
		record.SSL = *req.SSL
	}
	if req.IsActive != nil {
		record.IsActive = *req.IsActive
	}

	if err := s.db.Save(record).Error; err != nil {
		return nil, err
	}

	s.broker.Invalidate(projectID, databaseID)
	s.activity.Record(projectID, userID, models.ActivityUpdate, "database", &databaseID, nil)
	return record, nil
}

// SetPrimary moves the primary flag to the given database. Clearing the
// old flag and setting the new one happen in one transaction.
func (s *DatabaseService) SetPrimary(projectID, databaseID, userID uint) error {
	record, err := s.Get(projectID, databaseID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ProjectDatabase{}).
			Where("project_id = ? AND is_primary = ?", projectID, true).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.ProjectDatabase{}).
			Where("id = ?", record.ID).
			Update("is_primary", true).Error
	})
	if err != nil {
		return err
	}

	s.activity.Record(projectID, userID, models.ActivityUpdate, "database", &databaseID,
		models.JSONMap{"is_primary": true})
	return nil
}

// Remove soft-deletes the registration and evicts any cached connection.
func (s *DatabaseService) Remove(projectID, databaseID, userID uint) error {
	record, err := s.Get(projectID, databaseID)
	if err != nil {
		return err
	}

	if err := s.db.Delete(record).Error; err != nil {
		return err
	}

	s.broker.Invalidate(projectID, databaseID)
	s.activity.Record(projectID, userID, models.ActivityDelete, "database", &databaseID, nil)
	return nil
}

// TestConnection opens a throwaway connection to the stored target and
// pings it, without touching the broker cache.
func (s *DatabaseService) TestConnection(ctx context.Context, projectID, databaseID uint) error {
	record, err := s.Get(projectID, databaseID)
	if err != nil {
		return err
	}
	return s.broker.Test(ctx, record)
}

// TestSettings pings a candidate target before it is saved.
func (s *DatabaseService) TestSettings(ctx context.Context, projectID uint, req *RegisterDatabaseRequest) error {
	dbType, err := models.ParseDatabaseType(req.Type)
	if err != nil {
		return response.NewKind(400, response.KindUnsupportedDBType, err.Error())
	}

	record := &models.ProjectDatabase{
		ProjectID:    projectID,
		Name:         req.Name,
		Type:         dbType,
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		Password:     req.Password,
		DatabaseName: req.DatabaseName,
		SSL:          req.SSL,
	}
	return s.broker.Test(ctx, record)
}
