package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/middleware"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/pkg/response"
)

type QueryHandler struct {
	queryService *services.QueryService
}

func NewQueryHandler(queryService *services.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Execute runs a raw query against a registered database
// POST /api/projects/:id/databases/:db_id/query
func (h *QueryHandler) Execute(c *gin.Context) {
	databaseID, ok := databaseID(c)
	if !ok {
		return
	}

	var req services.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.queryService.Execute(c.Request.Context(), middleware.ProjectID(c), databaseID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Ask translates a natural-language question and runs the result
// POST /api/projects/:id/databases/:db_id/ask
func (h *QueryHandler) Ask(c *gin.Context) {
	databaseID, ok := databaseID(c)
	if !ok {
		return
	}

	var req services.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.queryService.Ask(c.Request.Context(), middleware.ProjectID(c), databaseID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// History lists the project's query ledger
// GET /api/projects/:id/queries
func (h *QueryHandler) History(c *gin.Context) {
	var req services.HistoryListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.queryService.History(middleware.ProjectID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, resp)
}
