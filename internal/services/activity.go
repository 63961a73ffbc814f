package services

import (
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/logger"
	"gorm.io/gorm"
)

type ActivityService struct {
	db *gorm.DB
}

func NewActivityService(db *gorm.DB) *ActivityService {
	return &ActivityService{db: db}
}

// Record writes an activity entry. Failures are logged and swallowed so
// the audit trail never blocks the operation it describes.
func (s *ActivityService) Record(projectID, userID uint, action, entityType string, entityID *uint, metadata models.JSONMap) {
	activity := models.ProjectActivity{
		ProjectID:  projectID,
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
	}
	if err := s.db.Create(&activity).Error; err != nil {
		logger.Errorf("record activity %s/%s for project %d: %v", action, entityType, projectID, err)
	}
}

type ActivityListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Action   string `form:"action"`
}

type ActivityListResponse struct {
	Total    int64                    `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
	Items    []models.ProjectActivity `json:"items"`
}

// List returns a project's activity entries, newest first.
func (s *ActivityService) List(projectID uint, req *ActivityListRequest) (*ActivityListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.ProjectActivity{}).Where("project_id = ?", projectID)
	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.ProjectActivity
	offset := (req.Page - 1) * req.PageSize
	err := query.Order("id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &ActivityListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}
