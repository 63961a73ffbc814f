package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/middleware"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/pkg/response"
)

type DatabaseHandler struct {
	databaseService *services.DatabaseService
}

func NewDatabaseHandler(databaseService *services.DatabaseService) *DatabaseHandler {
	return &DatabaseHandler{databaseService: databaseService}
}

// List returns the databases registered for a project, primary first
// GET /api/projects/:id/databases
func (h *DatabaseHandler) List(c *gin.Context) {
	databases, err := h.databaseService.List(middleware.ProjectID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, databases)
}

// Register attaches an external database to a project
// POST /api/projects/:id/databases
func (h *DatabaseHandler) Register(c *gin.Context) {
	var req services.RegisterDatabaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	record, err := h.databaseService.Register(middleware.ProjectID(c), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, record)
}

// Get returns a single registered database
// GET /api/projects/:id/databases/:db_id
func (h *DatabaseHandler) Get(c *gin.Context) {
	databaseID, ok := databaseID(c)
	if !ok {
		return
	}

	record, err := h.databaseService.Get(middleware.ProjectID(c), databaseID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, record)
}

// Update modifies connection settings in place
// PUT /api/projects/:id/databases/:db_id
func (h *DatabaseHandler) Update(c *gin.Context) {
	databaseID, ok := databaseID(c)
	if !ok {
		return
	}

	var req services.UpdateDatabaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	record, err := h.databaseService.Update(middleware.ProjectID(c), databaseID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, record)
}

// SetPrimary promotes a database to be the project default
// PUT /api/projects/:id/databases/:db_id/primary
func (h *DatabaseHandler) SetPrimary(c *gin.Context) {
	databaseID, ok := databaseID(c)
	if !ok {
		return
	}

	if err := h.databaseService.SetPrimary(middleware.ProjectID(c), databaseID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// Remove soft-deletes a registered database
// DELETE /api/projects/:id/databases/:db_id
func (h *DatabaseHandler) Remove(c *gin.Context) {
	databaseID, ok := databaseID(c)
	if !ok {
		return
	}

	if err := h.databaseService.Remove(middleware.ProjectID(c), databaseID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// Test pings a registered database through the broker
// POST /api/projects/:id/databases/:db_id/test
func (h *DatabaseHandler) Test(c *gin.Context) {
	databaseID, ok := databaseID(c)
	if !ok {
		return
	}

	if err := h.databaseService.TestConnection(c.Request.Context(), middleware.ProjectID(c), databaseID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"reachable": true})
}

// TestSettings pings candidate connection settings without saving them
// POST /api/projects/:id/databases/test
func (h *DatabaseHandler) TestSettings(c *gin.Context) {
	var req services.RegisterDatabaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.databaseService.TestSettings(c.Request.Context(), middleware.ProjectID(c), &req); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"reachable": true})
}

func databaseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("db_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid database ID")
		return 0, false
	}
	return uint(id), true
}
