package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/middleware"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

type ProjectHandler struct {
	projectService  *services.ProjectService
	activityService *services.ActivityService
}

func NewProjectHandler(db *gorm.DB) *ProjectHandler {
	return &ProjectHandler{
		projectService:  services.NewProjectService(db),
		activityService: services.NewActivityService(db),
	}
}

// List returns the projects the current user is an active member of
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	var req services.ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projectService.List(&req, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}

// Create creates a project with the current user as admin
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Create(&req, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, project)
}

// Get returns a single project
// GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.projectService.GetByID(middleware.ProjectID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, project)
}

// GetBySlug looks a project up by its slug
// GET /api/projects/slug/:slug
func (h *ProjectHandler) GetBySlug(c *gin.Context) {
	project, err := h.projectService.GetBySlug(c.Param("slug"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, project)
}

// Update modifies project fields and appends a version snapshot
// PUT /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	var req services.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Update(middleware.ProjectID(c), &req, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, project)
}

// Delete soft-deletes a project
// DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.projectService.Delete(middleware.ProjectID(c), middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// Versions lists the version history of a project
// GET /api/projects/:id/versions
func (h *ProjectHandler) Versions(c *gin.Context) {
	versions, err := h.projectService.ListVersions(middleware.ProjectID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, versions)
}

// Activities lists the project activity feed
// GET /api/projects/:id/activities
func (h *ProjectHandler) Activities(c *gin.Context) {
	var req services.ActivityListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.activityService.List(middleware.ProjectID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}
