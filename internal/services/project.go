package services

import (
	"errors"

	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/internal/utils"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

type ProjectService struct {
	db       *gorm.DB
	activity *ActivityService
}

func NewProjectService(db *gorm.DB) *ProjectService {
	return &ProjectService{db: db, activity: NewActivityService(db)}
}

type ProjectListRequest struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
	Name       string `form:"name"`
	Visibility string `form:"visibility"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

type CreateProjectRequest struct {
	Name       string         `json:"name" binding:"required"`
	Visibility string         `json:"visibility"`
	Settings   models.JSONMap `json:"settings"`
	Metadata   models.JSONMap `json:"metadata"`
	TemplateID *uint          `json:"template_id"`
}

type UpdateProjectRequest struct {
	Name       *string        `json:"name"`
	Visibility *string        `json:"visibility"`
	IsActive   *bool          `json:"is_active"`
	Settings   models.JSONMap `json:"settings"`
	Metadata   models.JSONMap `json:"metadata"`
}

// List returns the projects the user is an active member of, paginated.
func (s *ProjectService) List(req *ProjectListRequest, userID uint) (*ProjectListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	base := s.db.Model(&models.Project{}).
		Joins("JOIN project_members pm ON pm.project_id = projects.id").
		Where("pm.user_id = ? AND pm.is_active = ?", userID, true)

	if req.Name != "" {
		base = base.Where("projects.name LIKE ?", "%"+req.Name+"%")
	}
	if req.Visibility != "" {
		base = base.Where("projects.visibility = ?", req.Visibility)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.Project
	offset := (req.Page - 1) * req.PageSize
	if err := base.Order("projects.id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// Create inserts the project and, in the same transaction, grants the
// creator an admin membership (satisfying the last-admin invariant from
// the first moment) and records the initial version snapshot.
func (s *ProjectService) Create(req *CreateProjectRequest, userID uint) (*models.Project, error) {
	visibility := req.Visibility
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}
	if visibility != models.VisibilityPublic && visibility != models.VisibilityPrivate {
		return nil, response.NewBadRequest("visibility must be public or private")
	}

	slug := utils.Slugify(req.Name)
	if slug == "" {
		return nil, response.NewBadRequest("project name must contain letters or digits")
	}

	var count int64
	s.db.Model(&models.Project{}).Where("slug = ?", slug).Count(&count)
	if count > 0 {
		slug = utils.UniqueSlug(slug)
	}

	project := models.Project{
		Name:       req.Name,
		Slug:       slug,
		Visibility: visibility,
		IsActive:   true,
		Settings:   req.Settings,
		Metadata:   req.Metadata,
		TemplateID: req.TemplateID,
		CreatedBy:  userID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}

		member := models.ProjectMember{
			ProjectID: project.ID,
			UserID:    userID,
			Role:      models.RoleAdmin,
			IsActive:  true,
		}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}

		version := models.ProjectVersion{
			ProjectID: project.ID,
			Version:   1,
			Name:      project.Name,
			Settings:  project.Settings,
			Metadata:  project.Metadata,
			CreatedBy: userID,
		}
		return tx.Create(&version).Error
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(project.ID, userID, models.ActivityCreate, "project", &project.ID, nil)

	return &project, nil
}

// GetByID returns a project by primary key.
func (s *ProjectService) GetByID(id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	return &project, nil
}

// GetBySlug returns a project by its unique slug.
func (s *ProjectService) GetBySlug(slug string) (*models.Project, error) {
	var project models.Project
	if err := s.db.Where("slug = ?", slug).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	return &project, nil
}

// Update applies partial changes and appends a version snapshot of the
// resulting state.
func (s *ProjectService) Update(id uint, req *UpdateProjectRequest, userID uint) (*models.Project, error) {
	project, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.Visibility != nil {
		if *req.Visibility != models.VisibilityPublic && *req.Visibility != models.VisibilityPrivate {
			return nil, response.NewBadRequest("visibility must be public or private")
		}
		project.Visibility = *req.Visibility
	}
	if req.IsActive != nil {
		project.IsActive = *req.IsActive
	}
	if req.Settings != nil {
		project.Settings = req.Settings
	}
	if req.Metadata != nil {
		project.Metadata = req.Metadata
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(project).Error; err != nil {
			return err
		}

		var lastVersion int
		tx.Model(&models.ProjectVersion{}).
			Where("project_id = ?", id).
			Select("COALESCE(MAX(version), 0)").
			Scan(&lastVersion)

		version := models.ProjectVersion{
			ProjectID: id,
			Version:   lastVersion + 1,
			Name:      project.Name,
			Settings:  project.Settings,
			Metadata:  project.Metadata,
			CreatedBy: userID,
		}
		return tx.Create(&version).Error
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(id, userID, models.ActivityUpdate, "project", &id, nil)

	return project, nil
}

// Delete soft-deletes the project. Member, database, version and
// activity rows stay behind the soft-deleted parent; the schema carries
// cascade constraints for hard cleanup.
func (s *ProjectService) Delete(id uint, userID uint) error {
	project, err := s.GetByID(id)
	if err != nil {
		return err
	}

	if err := s.db.Delete(project).Error; err != nil {
		return err
	}

	s.activity.Record(id, userID, models.ActivityDelete, "project", &id, nil)
	return nil
}

// ListVersions returns a project's snapshots, newest first.
func (s *ProjectService) ListVersions(projectID uint) ([]models.ProjectVersion, error) {
	var versions []models.ProjectVersion
	err := s.db.Where("project_id = ?", projectID).Order("version DESC").Find(&versions).Error
	return versions, err
}
